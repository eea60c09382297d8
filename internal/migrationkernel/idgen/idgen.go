// Package idgen generates the two kinds of identifiers the migration kernel
// needs: lexicographically time-ordered migration ids, and fresh document
// ids for seeded documents that don't supply their own.
//
// The ordered branch is a ULID rather than a UUIDv7: a Mongo _id survives
// JSON round-trips far more predictably as a plain string, and the version
// guard's ordering guarantee needs exactly ULID's
// lexicographic-equals-temporal property.
package idgen

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewULID returns a fresh, lexicographically time-ordered identifier.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewUUID returns a fresh, non-ordered identifier, for values that never
// participate in the version-guard ordering. Reserved metadata _ids are
// literal constants and mock field values come from gofakeit, so neither
// calls this.
func NewUUID() string {
	return uuid.New().String()
}

// timestampLayout is the fixed-width "YYYY_MM_DD_HHMM" prefix every
// migration id carries. Fixed width is load-bearing: TimestampPrefix below
// relies on plain lexicographic string comparison staying equivalent to
// chronological order.
const timestampLayout = "2006_01_02_1504"

// NewMigrationID builds an id of the form YYYY_MM_DD_HHMM_<ULID>@<slug>.
func NewMigrationID(t time.Time, slug string) string {
	prefix := t.UTC().Format(timestampLayout)
	return fmt.Sprintf("%s_%s@%s", prefix, NewULID(), slug)
}

// TimestampPrefix returns the text before '@', the sole ordering key for a
// migration id.
func TimestampPrefix(id string) string {
	if idx := strings.IndexByte(id, '@'); idx >= 0 {
		return id[:idx]
	}
	return id
}

// FreshDocumentID synthesizes a document _id for a seeded document that
// omitted one: "${typeName}:${fresh-ulid}", lowercased.
func FreshDocumentID(typeName string) string {
	id := NewULID()
	if typeName != "" {
		id = typeName + ":" + id
	}
	return strings.ToLower(id)
}
