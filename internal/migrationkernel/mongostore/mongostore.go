// Package mongostore is the real document-store backend: a
// driver.DocumentStore backed by an actual MongoDB database, plus index
// synchronization and batched bulk writes.
package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mongodbee/migrate/internal/logging"
	"github.com/mongodbee/migrate/internal/migrationkernel/driver"
)

// Store adapts a *mongo.Database to driver.DocumentStore.
type Store struct {
	db  *mongo.Database
	log *logging.Logger
	// BatchSize bounds how many documents a single InsertMany/ReplaceByID
	// round trip carries; <= 0 means unbatched.
	BatchSize int
}

var _ driver.DocumentStore = (*Store)(nil)

// New wraps db for document-store operations. log receives the warnings
// emitted when benign index races are swallowed; nil disables them.
func New(db *mongo.Database, batchSize int, log *logging.Logger) *Store {
	return &Store{db: db, log: log, BatchSize: batchSize}
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongostore: list collections: %w", err)
	}
	return names, nil
}

func (s *Store) CreateCollection(ctx context.Context, name string, validator map[string]any) error {
	opts := options.CreateCollection()
	if validator != nil {
		opts.SetValidator(validator)
		opts.SetValidationLevel(string(driver.ValidationStrict))
	}
	if err := s.db.CreateCollection(ctx, name, opts); err != nil {
		if mongo.IsDuplicateKeyError(err) || isNamespaceExists(err) {
			return driver.ErrCollectionExists
		}
		return fmt.Errorf("mongostore: create collection %q: %w", name, err)
	}
	return nil
}

func isNamespaceExists(err error) bool {
	cmdErr, ok := err.(mongo.CommandError)
	return ok && cmdErr.Code == 48 // NamespaceExists
}

func (s *Store) DropCollection(ctx context.Context, name string) error {
	if err := s.db.Collection(name).Drop(ctx); err != nil {
		return fmt.Errorf("mongostore: drop collection %q: %w", name, err)
	}
	return nil
}

// SetValidator runs collMod to attach (or clear, when validator is nil) a
// JSON-Schema validator at the given level.
func (s *Store) SetValidator(ctx context.Context, name string, validator map[string]any, level driver.ValidationLevel) error {
	cmd := bson.D{{Key: "collMod", Value: name}}
	if validator != nil {
		cmd = append(cmd, bson.E{Key: "validator", Value: validator})
	} else {
		cmd = append(cmd, bson.E{Key: "validator", Value: bson.M{}})
	}
	cmd = append(cmd, bson.E{Key: "validationLevel", Value: string(level)})

	if err := s.db.RunCommand(ctx, cmd).Err(); err != nil {
		if isNamespaceNotFound(err) {
			return driver.ErrCollectionNotFound
		}
		return fmt.Errorf("mongostore: set validator on %q: %w", name, err)
	}
	return nil
}

func isNamespaceNotFound(err error) bool {
	cmdErr, ok := err.(mongo.CommandError)
	return ok && cmdErr.Code == 26 // NamespaceNotFound
}

func (s *Store) InsertMany(ctx context.Context, collection string, docs []map[string]any) error {
	if len(docs) == 0 {
		return nil
	}
	coll := s.db.Collection(collection)
	for _, batch := range batches(docs, s.BatchSize) {
		items := make([]any, len(batch))
		for i, d := range batch {
			items[i] = d
		}
		if _, err := coll.InsertMany(ctx, items); err != nil {
			return fmt.Errorf("mongostore: insert into %q: %w", collection, err)
		}
	}
	return nil
}

func (s *Store) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	coll := s.db.Collection(collection)
	anyIDs := make([]any, len(ids))
	for i, id := range ids {
		anyIDs[i] = id
	}
	if _, err := coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": anyIDs}}); err != nil {
		return fmt.Errorf("mongostore: delete from %q: %w", collection, err)
	}
	return nil
}

func (s *Store) FindPage(ctx context.Context, collection string, skip, limit int) ([]map[string]any, error) {
	opts := options.Find().SetSkip(int64(skip))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: find in %q: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var docs []map[string]any
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: decode %q: %w", collection, err)
	}
	return docs, nil
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	n, err := s.db.Collection(collection).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("mongostore: count %q: %w", collection, err)
	}
	return int(n), nil
}

func (s *Store) ReplaceByID(ctx context.Context, collection string, docs []map[string]any) error {
	if len(docs) == 0 {
		return nil
	}
	coll := s.db.Collection(collection)
	for _, batch := range batches(docs, s.BatchSize) {
		models := make([]mongo.WriteModel, len(batch))
		for i, d := range batch {
			models[i] = mongo.NewReplaceOneModel().
				SetFilter(bson.M{"_id": d["_id"]}).
				SetReplacement(d).
				SetUpsert(true)
		}
		if _, err := coll.BulkWrite(ctx, models); err != nil {
			return fmt.Errorf("mongostore: replace in %q: %w", collection, err)
		}
	}
	return nil
}

func batches(docs []map[string]any, size int) [][]map[string]any {
	if size <= 0 || size >= len(docs) {
		return [][]map[string]any{docs}
	}
	var out [][]map[string]any
	for i := 0; i < len(docs); i += size {
		end := i + size
		if end > len(docs) {
			end = len(docs)
		}
		out = append(out, docs[i:end])
	}
	return out
}
