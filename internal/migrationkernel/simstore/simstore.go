// Package simstore is the simulation applier: a pure function from
// (DB-state, operation) to DB-state, and its reverse, plus a
// driver.DocumentStore-conforming handle over the same state so the
// registry and the validator can drive it identically to a real backend.
package simstore

import (
	"context"
	"sync"

	"github.com/mongodbee/migrate/internal/migrationkernel/driver"
)

// CollectionState holds one collection's ordered document list.
type CollectionState struct {
	Content []map[string]any
}

func cloneDocs(docs []map[string]any) []map[string]any {
	out := make([]map[string]any, len(docs))
	copy(out, docs)
	return out
}

// HistoryEntry is one optional operation-history record.
type HistoryEntry struct {
	Kind      string // "apply" | "reverse"
	Operation any
}

// SimulatedDatabase is an immutable snapshot: every mutation in this
// package produces a fresh value rather than mutating in place, so
// reversibility tests can compare snapshots by structural equality. Shared
// subtrees may remain identical by reference; only documents actually
// touched by an operation are recopied.
type SimulatedDatabase struct {
	Collections      map[string]CollectionState
	MultiModels      map[string]CollectionState
	OperationHistory []HistoryEntry
}

// New returns an empty SimulatedDatabase.
func New() SimulatedDatabase {
	return SimulatedDatabase{
		Collections: map[string]CollectionState{},
		MultiModels: map[string]CollectionState{},
	}
}

// Clone returns a shallow copy safe to mutate without affecting db: new top
// maps, but document values are shared by reference until actually
// replaced.
func (db SimulatedDatabase) Clone() SimulatedDatabase {
	next := SimulatedDatabase{
		Collections: make(map[string]CollectionState, len(db.Collections)),
		MultiModels: make(map[string]CollectionState, len(db.MultiModels)),
	}
	for k, v := range db.Collections {
		next.Collections[k] = CollectionState{Content: cloneDocs(v.Content)}
	}
	for k, v := range db.MultiModels {
		next.MultiModels[k] = CollectionState{Content: cloneDocs(v.Content)}
	}
	if db.OperationHistory != nil {
		next.OperationHistory = append([]HistoryEntry{}, db.OperationHistory...)
	}
	return next
}

func (db SimulatedDatabase) hasCollection(name string) bool {
	_, ok := db.Collections[name]
	return ok
}

func (db SimulatedDatabase) hasInstance(name string) bool {
	_, ok := db.MultiModels[name]
	return ok
}

func (db SimulatedDatabase) allNames() []string {
	names := make([]string, 0, len(db.Collections)+len(db.MultiModels))
	for n := range db.Collections {
		names = append(names, n)
	}
	for n := range db.MultiModels {
		names = append(names, n)
	}
	return names
}

func (db SimulatedDatabase) content(name string) ([]map[string]any, bool) {
	if c, ok := db.Collections[name]; ok {
		return c.Content, true
	}
	if c, ok := db.MultiModels[name]; ok {
		return c.Content, true
	}
	return nil, false
}

// Store adapts a SimulatedDatabase to driver.DocumentStore: a mutable
// handle (internal pointer swapped on every call) over otherwise-immutable
// snapshots.
type Store struct {
	mu sync.Mutex
	db SimulatedDatabase

	// Strict rejects operations whose preconditions don't hold instead of
	// auto-creating what's missing.
	Strict bool
}

var _ driver.DocumentStore = (*Store)(nil)

// NewStore wraps db (or a fresh one, if the zero value is passed) as a
// DocumentStore.
func NewStore(db SimulatedDatabase) *Store {
	if db.Collections == nil {
		db = New()
	}
	return &Store{db: db, Strict: true}
}

// Snapshot returns the current immutable state, for direct structural-
// equality comparisons in reversibility tests.
func (s *Store) Snapshot() SimulatedDatabase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.allNames(), nil
}

func (s *Store) CreateCollection(ctx context.Context, name string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db.hasCollection(name) || s.db.hasInstance(name) {
		if s.Strict {
			return driver.ErrCollectionExists
		}
		return nil
	}
	next := s.db.Clone()
	next.Collections[name] = CollectionState{}
	s.db = next
	return nil
}

func (s *Store) DropCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.db.Clone()
	delete(next.Collections, name)
	delete(next.MultiModels, name)
	s.db = next
	return nil
}

// SetValidator is a no-op in simulation: store-side validators are never
// materialized.
func (s *Store) SetValidator(ctx context.Context, name string, validator map[string]any, level driver.ValidationLevel) error {
	return nil
}

func (s *Store) InsertMany(ctx context.Context, collection string, docs []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.db.Clone()
	if c, ok := next.Collections[collection]; ok {
		c.Content = append(c.Content, docs...)
		next.Collections[collection] = c
	} else if c, ok := next.MultiModels[collection]; ok {
		c.Content = append(c.Content, docs...)
		next.MultiModels[collection] = c
	} else if s.Strict {
		return driver.ErrCollectionNotFound
	} else {
		next.Collections[collection] = CollectionState{Content: docs}
	}
	s.db = next
	return nil
}

func (s *Store) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	toDelete := map[string]bool{}
	for _, id := range ids {
		toDelete[id] = true
	}
	next := s.db.Clone()
	filter := func(docs []map[string]any) []map[string]any {
		out := make([]map[string]any, 0, len(docs))
		for _, d := range docs {
			id, _ := d["_id"].(string)
			if !toDelete[id] {
				out = append(out, d)
			}
		}
		return out
	}
	if c, ok := next.Collections[collection]; ok {
		c.Content = filter(c.Content)
		next.Collections[collection] = c
	}
	if c, ok := next.MultiModels[collection]; ok {
		c.Content = filter(c.Content)
		next.MultiModels[collection] = c
	}
	s.db = next
	return nil
}

func (s *Store) FindPage(ctx context.Context, collection string, skip, limit int) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.db.content(collection)
	if !ok {
		if s.Strict {
			return nil, driver.ErrCollectionNotFound
		}
		return nil, nil
	}
	if skip >= len(content) {
		return nil, nil
	}
	content = content[skip:]
	if limit > 0 && limit < len(content) {
		content = content[:limit]
	}
	return cloneDocs(content), nil
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.db.content(collection)
	if !ok {
		return 0, nil
	}
	return len(content), nil
}

func (s *Store) ReplaceByID(ctx context.Context, collection string, docs []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := map[string]map[string]any{}
	for _, d := range docs {
		if id, ok := d["_id"].(string); ok {
			byID[id] = d
		}
	}
	next := s.db.Clone()
	replace := func(content []map[string]any) []map[string]any {
		out := make([]map[string]any, len(content))
		for i, d := range content {
			id, _ := d["_id"].(string)
			if replacement, ok := byID[id]; ok {
				out[i] = replacement
			} else {
				out[i] = d
			}
		}
		return out
	}
	if c, ok := next.Collections[collection]; ok {
		c.Content = replace(c.Content)
		next.Collections[collection] = c
	}
	if c, ok := next.MultiModels[collection]; ok {
		c.Content = replace(c.Content)
		next.MultiModels[collection] = c
	}
	s.db = next
	return nil
}

// Indexes/CreateIndex/DropIndex are no-ops: indexes are never
// materialized in simulation.
func (s *Store) Indexes(ctx context.Context, collection string) ([]driver.IndexSpec, error) {
	return nil, nil
}

func (s *Store) CreateIndex(ctx context.Context, collection string, spec driver.IndexSpec) error {
	return nil
}

func (s *Store) DropIndex(ctx context.Context, collection string, name string) error {
	return nil
}
