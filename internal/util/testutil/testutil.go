package testutil

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/mongodbee/migrate/internal/logging"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func CheckIntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
}

// CheckMongoTest skips unless MONGO_TEST_URI points at a reachable server.
// Everything below the real applier is covered by simulation-backed unit
// tests; only mongostore's own package needs a live database.
func CheckMongoTest(t *testing.T) string {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("skipping mongo test (set MONGO_TEST_URI to run)")
	}
	return uri
}

// MongoTestDatabase returns a fresh, collision-resistant database name for
// one test run, so parallel test binaries don't clobber each other's
// collections.
func MongoTestDatabase(t *testing.T) string {
	return "migrate_test_" + RandomString(8)
}

func CreateTestLogger(t *testing.T) *logging.Logger {
	zapLogger := zaptest.NewLogger(t)
	logger := otelzap.New(zapLogger,
		otelzap.WithMinLevel(zap.InfoLevel),
	)
	return &logging.Logger{Logger: logger}
}

func RandomString(length int) string {
	b := make([]byte, length+2)
	rand.Read(b)
	return fmt.Sprintf("%x", b)[2 : length+2]
}

func MustMarshalJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
