package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mongodbee/migrate/internal/migrationkernel/driver"
)

// indexDoc mirrors the subset of listIndexes output synchronization cares
// about.
type indexDoc struct {
	Name                    string `bson:"name"`
	Key                     bson.D `bson:"key"`
	Unique                  bool   `bson:"unique"`
	Sparse                  bool   `bson:"sparse"`
	Collation               bson.M `bson:"collation,omitempty"`
	PartialFilterExpression bson.M `bson:"partialFilterExpression,omitempty"`
}

func (s *Store) Indexes(ctx context.Context, collection string) ([]driver.IndexSpec, error) {
	cursor, err := s.db.Collection(collection).Indexes().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("mongostore: list indexes on %q: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var docs []indexDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: decode indexes on %q: %w", collection, err)
	}

	out := make([]driver.IndexSpec, 0, len(docs))
	for _, d := range docs {
		if d.Name == "_id_" {
			continue // the default _id index is never managed here
		}
		keys := make([]string, 0, len(d.Key))
		keyMap := make(map[string]int, len(d.Key))
		for _, e := range d.Key {
			keys = append(keys, e.Key)
			if v, ok := e.Value.(int32); ok {
				keyMap[e.Key] = int(v)
			} else {
				keyMap[e.Key] = 1
			}
		}
		spec := driver.IndexSpec{
			Name:   d.Name,
			Key:    keyMap,
			Keys:   keys,
			Unique: d.Unique,
			Sparse: d.Sparse,
		}
		if d.Collation != nil {
			spec.Collation = map[string]any(d.Collation)
		}
		if d.PartialFilterExpression != nil {
			spec.PartialFilterExpression = map[string]any(d.PartialFilterExpression)
		}
		out = append(out, spec)
	}
	return out, nil
}

func (s *Store) CreateIndex(ctx context.Context, collection string, spec driver.IndexSpec) error {
	keys := bson.D{}
	for _, path := range spec.Keys {
		keys = append(keys, bson.E{Key: path, Value: 1})
	}
	idxOpts := options.Index()
	if spec.Name != "" {
		idxOpts.SetName(spec.Name)
	}
	if spec.Unique {
		idxOpts.SetUnique(true)
	}
	if spec.Sparse {
		idxOpts.SetSparse(true)
	}
	if spec.PartialFilterExpression != nil {
		idxOpts.SetPartialFilterExpression(bson.M(spec.PartialFilterExpression))
	}
	if spec.Collation != nil {
		idxOpts.SetCollation(&options.Collation{Locale: fmt.Sprintf("%v", spec.Collation["locale"])})
	}

	model := mongo.IndexModel{Keys: keys, Options: idxOpts}
	if _, err := s.db.Collection(collection).Indexes().CreateOne(ctx, model); err != nil {
		// A concurrent creation of the same index is benign.
		if isIndexConflict(err) {
			if s.log != nil {
				s.log.Warn("index already exists, skipping create",
					zap.String("collection", collection), zap.String("index", spec.Name), zap.Error(err))
			}
			return nil
		}
		return fmt.Errorf("mongostore: create index on %q: %w", collection, err)
	}
	return nil
}

func (s *Store) DropIndex(ctx context.Context, collection string, name string) error {
	if _, err := s.db.Collection(collection).Indexes().DropOne(ctx, name); err != nil {
		if isIndexNotFound(err) {
			return driver.ErrIndexNotFound
		}
		return fmt.Errorf("mongostore: drop index %q on %q: %w", name, collection, err)
	}
	return nil
}

func isIndexConflict(err error) bool {
	cmdErr, ok := err.(mongo.CommandError)
	if !ok {
		return false
	}
	// 85 IndexOptionsConflict, 86 IndexKeySpecsConflict, 68 IndexAlreadyExists
	return cmdErr.Code == 85 || cmdErr.Code == 86 || cmdErr.Code == 68
}

func isIndexNotFound(err error) bool {
	cmdErr, ok := err.(mongo.CommandError)
	return ok && cmdErr.Code == 27 // IndexNotFound
}
