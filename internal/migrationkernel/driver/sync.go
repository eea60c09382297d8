package driver

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mongodbee/migrate/internal/logging"
)

// SyncIndexes reconciles a collection's live indexes against the desired
// set extracted from its schema: live indexes matching nothing desired are
// dropped first, then desired indexes with no equal live counterpart are
// created, so an index whose options changed is recreated under its old
// name. Reuse-by-equality means an existing index under a different
// name is kept as-is rather than recreated. Generic over DocumentStore so
// the orchestrator runs the same reconciliation against either the real
// store or the simulator. log receives the warnings emitted when a benign
// race (index vanished before its drop) is swallowed; nil disables them.
func SyncIndexes(ctx context.Context, store DocumentStore, collection string, desired []IndexSpec, log *logging.Logger) error {
	live, err := store.Indexes(ctx, collection)
	if err != nil {
		return err
	}

	matched := make([]bool, len(live))
	var missing []IndexSpec
	for _, want := range desired {
		found := false
		for i, have := range live {
			if matched[i] {
				continue
			}
			if want.Equal(have) {
				matched[i] = true
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, want)
		}
	}

	for i, have := range live {
		if matched[i] {
			continue
		}
		if err := store.DropIndex(ctx, collection, have.Name); err != nil {
			if !errors.Is(err, ErrIndexNotFound) {
				return err
			}
			if log != nil {
				log.Warn("index already gone, skipping drop",
					zap.String("collection", collection), zap.String("index", have.Name))
			}
		}
	}

	for _, want := range missing {
		if err := store.CreateIndex(ctx, collection, want); err != nil {
			return err
		}
	}
	return nil
}
