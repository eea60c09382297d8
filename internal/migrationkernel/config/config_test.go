package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	require.Equal(t, 500, cfg.BatchSize)
	require.True(t, cfg.StrictMode)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 5, cfg.ValidationPopulationSize)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://db.internal:27017")
	t.Setenv("MONGO_DATABASE", "app")
	t.Setenv("BATCH_SIZE", "50")
	t.Setenv("STRICT_MODE", "false")
	t.Setenv("VALIDATION_POPULATION_SIZE", "11")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "mongodb://db.internal:27017", cfg.MongoURI)
	require.Equal(t, "app", cfg.MongoDatabase)
	require.Equal(t, 50, cfg.BatchSize)
	require.False(t, cfg.StrictMode)
	require.Equal(t, 11, cfg.ValidationPopulationSize)
}

func TestLoadFileOverlaysEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mongo_database: from_file\nbatch_size: 25\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "from_file", cfg.MongoDatabase)
	require.Equal(t, 25, cfg.BatchSize)
	require.Equal(t, "mongodb://localhost:27017", cfg.MongoURI, "keys the file omits keep their env defaults")
}
