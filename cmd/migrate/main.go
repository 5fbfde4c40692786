package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/ShejanMahamud/atg-task-2-server/internal/app/migrate"
	"github.com/ShejanMahamud/atg-task-2-server/internal/repository/mongodb"
	"github.com/ShejanMahamud/atg-task-2-server/pkg/config"
	"github.com/ShejanMahamud/atg-task-2-server/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	flag.Parse()

	cfg := config.LoadAPIConfig()
	log := logger.New("migrate", slog.LevelInfo)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := mongodb.Connect(ctx, cfg.MongoURI)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	runner, err := migrate.New(client.Database(cfg.MongoDatabase), log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	switch *command {
	case "up":
		if err := runner.Ensure(ctx); err != nil {
			log.Error("failed to apply indexes", "error", err)
			os.Exit(1)
		}
	case "status":
		statuses, err := runner.Status(ctx)
		if err != nil {
			log.Error("failed to fetch index status", "error", err)
			os.Exit(1)
		}
		for _, st := range statuses {
			log.Info("index", "collection", st.Collection, "name", st.Name, "managed", st.Managed)
		}
	case "down":
		if err := runner.Down(ctx); err != nil {
			log.Error("failed to drop indexes", "error", err)
			os.Exit(1)
		}
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}

	log.Info("migration command completed", "command", *command)
}
