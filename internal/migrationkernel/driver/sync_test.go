package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeIndexStore records index calls; the document methods are never reached
// by SyncIndexes.
type fakeIndexStore struct {
	DocumentStore

	live    []IndexSpec
	created []IndexSpec
	dropped []string
}

func (f *fakeIndexStore) Indexes(ctx context.Context, collection string) ([]IndexSpec, error) {
	out := make([]IndexSpec, len(f.live))
	copy(out, f.live)
	return out, nil
}

func (f *fakeIndexStore) CreateIndex(ctx context.Context, collection string, spec IndexSpec) error {
	f.created = append(f.created, spec)
	f.live = append(f.live, spec)
	return nil
}

func (f *fakeIndexStore) DropIndex(ctx context.Context, collection string, name string) error {
	f.dropped = append(f.dropped, name)
	out := f.live[:0]
	for _, s := range f.live {
		if s.Name != name {
			out = append(out, s)
		}
	}
	f.live = out
	return nil
}

func emailIndex(unique bool) IndexSpec {
	return IndexSpec{Name: "email_idx", Key: map[string]int{"email": 1}, Keys: []string{"email"}, Unique: unique}
}

// An existing index with the same key spec and options is reused, even
// under a different name.
func TestSyncIndexesReusesEqualIndex(t *testing.T) {
	store := &fakeIndexStore{live: []IndexSpec{emailIndex(true)}}

	want := emailIndex(true)
	want.Name = "email_1"
	require.NoError(t, SyncIndexes(context.Background(), store, "users", []IndexSpec{want}, nil))

	require.Empty(t, store.created)
	require.Empty(t, store.dropped)
}

// Flipping unique makes the existing index unusable, so it is dropped and
// a fresh one created.
func TestSyncIndexesDropsAndRecreatesOnOptionChange(t *testing.T) {
	store := &fakeIndexStore{live: []IndexSpec{emailIndex(true)}}

	require.NoError(t, SyncIndexes(context.Background(), store, "users", []IndexSpec{emailIndex(false)}, nil))

	require.Equal(t, []string{"email_idx"}, store.dropped)
	require.Len(t, store.created, 1)
	require.False(t, store.created[0].Unique)
}

// A second run over the state the first run produced is a no-op.
func TestSyncIndexesIdempotent(t *testing.T) {
	store := &fakeIndexStore{}
	desired := []IndexSpec{emailIndex(true)}

	require.NoError(t, SyncIndexes(context.Background(), store, "users", desired, nil))
	require.Len(t, store.created, 1)

	store.created = nil
	require.NoError(t, SyncIndexes(context.Background(), store, "users", desired, nil))
	require.Empty(t, store.created)
	require.Empty(t, store.dropped)
}

func TestSyncIndexesDropsUnmanagedIndexes(t *testing.T) {
	store := &fakeIndexStore{live: []IndexSpec{
		{Name: "stale_idx", Key: map[string]int{"stale": 1}, Keys: []string{"stale"}},
	}}

	require.NoError(t, SyncIndexes(context.Background(), store, "users", nil, nil))
	require.Equal(t, []string{"stale_idx"}, store.dropped)
}

func TestIndexSpecEqualIgnoresName(t *testing.T) {
	a := emailIndex(true)
	b := emailIndex(true)
	b.Name = "something_else"
	require.True(t, a.Equal(b))

	b.Unique = false
	require.False(t, a.Equal(b))

	c := emailIndex(true)
	c.Keys = []string{"email", "name"}
	c.Key = map[string]int{"email": 1, "name": 1}
	require.False(t, a.Equal(c))
}
