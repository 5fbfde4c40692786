package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ShejanMahamud/atg-task-2-server/internal/app/migrate"
	httpx "github.com/ShejanMahamud/atg-task-2-server/internal/http"
	"github.com/ShejanMahamud/atg-task-2-server/internal/repository"
	"github.com/ShejanMahamud/atg-task-2-server/internal/repository/memory"
	"github.com/ShejanMahamud/atg-task-2-server/internal/repository/mongodb"
	"github.com/ShejanMahamud/atg-task-2-server/internal/service/auth"
	"github.com/ShejanMahamud/atg-task-2-server/internal/service/post"
	"github.com/ShejanMahamud/atg-task-2-server/internal/ws"
	"github.com/ShejanMahamud/atg-task-2-server/pkg/config"
	"github.com/ShejanMahamud/atg-task-2-server/pkg/logger"
)

type store interface {
	repository.UserRepository
	repository.PostRepository
	repository.Pinger
}

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		if cfg.IsProduction() {
			log.Error("JWT_SECRET must be set in production")
			os.Exit(1)
		}
		secret, err := randomSecret()
		if err != nil {
			log.Error("failed to generate signing secret", "error", err)
			os.Exit(1)
		}
		cfg.JWTSecret = secret
		log.Warn("JWT_SECRET not set; using a random per-process secret, tokens will not survive restarts")
	}

	var repo store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn("using in-memory store; data is lost on exit")
		repo = memory.New()
	case config.StoreDriverMongo:
		client, err := mongodb.Connect(ctx, cfg.MongoURI)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(disconnectCtx); err != nil {
				log.Warn("mongo disconnect failed", "error", err)
			}
		}()
		db := client.Database(cfg.MongoDatabase)
		runner, err := migrate.New(db, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		if err := runner.Ping(ctx); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		log.Info("Pinged your deployment. You successfully connected to MongoDB!", "database", cfg.MongoDatabase)
		if err := runner.Ensure(ctx); err != nil {
			if !errors.Is(err, migrate.ErrDuplicateKeys) {
				log.Error("migrations failed", "error", err)
				os.Exit(1)
			}
			log.Error("unique username index missing; registrations are checked by lookup only until duplicates are removed", "error", err)
		}
		repo = mongodb.New(db)
	default:
		log.Error("unsupported store driver", "driver", cfg.StoreDriver)
		os.Exit(1)
	}

	hub := ws.NewHub()
	defer hub.Close()

	authSvc := auth.New(repo, log, cfg)
	postSvc := post.New(repo, log, post.WithPublisher(hub), post.WithOwnership(cfg.EnforcePostOwnership))

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, postSvc, hub, limiter, cfg, repo.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("Server running on", "addr", cfg.Addr, "store", cfg.StoreDriver)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
