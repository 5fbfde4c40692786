package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ShejanMahamud/atg-task-2-server/internal/repository/mongodb"
)

// Runner manages the document store indexes.
type Runner struct {
	db      *mongo.Database
	indexes map[string][]mongo.IndexModel
	log     *slog.Logger
}

// New returns an index runner for db.
func New(db *mongo.Database, log *slog.Logger) (Runner, error) {
	if db == nil {
		return Runner{}, errors.New("nil database provided")
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{db: db, indexes: mongodb.ManagedIndexes(), log: log}, nil
}

// Ping verifies connectivity.
func (r Runner) Ping(ctx context.Context) error {
	return mongodb.New(r.db).Ping(ctx)
}

// ErrDuplicateKeys is returned by Ensure when existing documents violate a unique index.
var ErrDuplicateKeys = errors.New("migrate: existing documents violate unique index")

// Ensure creates missing managed indexes. Existing indexes with the same definition are left alone.
func (r Runner) Ensure(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	r.log.Info("applying indexes", "database", r.db.Name())
	for collection, models := range r.indexes {
		for _, model := range models {
			name, err := r.db.Collection(collection).Indexes().CreateOne(runCtx, model)
			if err != nil {
				return indexError(collection, model, err)
			}
			r.log.Info("index applied", "collection", collection, "index", name)
		}
	}
	return nil
}

func indexError(collection string, model mongo.IndexModel, err error) error {
	name := ""
	if model.Options != nil && model.Options.Name != nil {
		name = *model.Options.Name
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: index %s on %s: remove duplicate %s values, then run migrate -command up: %v",
			ErrDuplicateKeys, name, collection, indexKeys(model), err)
	}
	return fmt.Errorf("create index %s on %s: %w", name, collection, err)
}

func indexKeys(model mongo.IndexModel) string {
	keys, ok := model.Keys.(bson.D)
	if !ok {
		return "key"
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.Key)
	}
	return strings.Join(names, ",")
}

// IndexStatus describes one index present on a collection.
type IndexStatus struct {
	Collection string
	Name       string
	Managed    bool
}

// Status reports the indexes present on managed collections.
func (r Runner) Status(ctx context.Context) ([]IndexStatus, error) {
	var out []IndexStatus
	for collection, models := range r.indexes {
		managed := managedNames(models)
		cursor, err := r.db.Collection(collection).Indexes().List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list indexes on %s: %w", collection, err)
		}
		var specs []bson.M
		if err := cursor.All(ctx, &specs); err != nil {
			return nil, fmt.Errorf("decode indexes on %s: %w", collection, err)
		}
		for _, spec := range specs {
			name, _ := spec["name"].(string)
			_, isManaged := managed[name]
			out = append(out, IndexStatus{Collection: collection, Name: name, Managed: isManaged})
			r.log.Info("index status", "collection", collection, "name", name, "managed", isManaged)
		}
	}
	return out, nil
}

// Down drops the managed indexes. Missing indexes are ignored.
func (r Runner) Down(ctx context.Context) error {
	for collection, models := range r.indexes {
		for name := range managedNames(models) {
			if _, err := r.db.Collection(collection).Indexes().DropOne(ctx, name); err != nil {
				var cmdErr mongo.CommandError
				if errors.As(err, &cmdErr) && cmdErr.Name == "IndexNotFound" {
					continue
				}
				return fmt.Errorf("drop index %s on %s: %w", name, collection, err)
			}
			r.log.Info("index dropped", "collection", collection, "name", name)
		}
	}
	return nil
}

func managedNames(models []mongo.IndexModel) map[string]struct{} {
	names := make(map[string]struct{}, len(models))
	for _, m := range models {
		if m.Options != nil && m.Options.Name != nil {
			names[*m.Options.Name] = struct{}{}
		}
	}
	return names
}
