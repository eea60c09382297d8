// Package config binds the kernel's runtime knobs from the environment,
// an optional local .env file, or a YAML config file.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config binds the kernel's runtime settings.
type Config struct {
	MongoURI      string `yaml:"mongo_uri" env:"MONGO_URI" desc:"MongoDB connection URI migrations run against." envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `yaml:"mongo_database" env:"MONGO_DATABASE" desc:"Database name the kernel operates migrations against."`

	// BatchSize bounds paged transform reads and bulk insert/replace
	// writes. <= 0 disables paging.
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE" desc:"Page size for batched seed/transform I/O against the real store." envDefault:"500"`

	// StrictMode toggles strict precondition enforcement and the
	// per-document failure policy.
	StrictMode bool `yaml:"strict_mode" env:"STRICT_MODE" desc:"Abort a migration on the first structural/schema-violation error rather than skipping with a warning." envDefault:"true"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" desc:"Verbosity for the kernel's structured logger (debug, info, warn, error, fatal)." envDefault:"info"`

	ValidationPopulationSize int `yaml:"validation_population_size" env:"VALIDATION_POPULATION_SIZE" desc:"Number of mock documents generated per collection/type when validating a migration." envDefault:"5"`
}

// Load reads a local .env file (if present, ignoring a missing file) and
// then binds Config fields from the process environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("config: load .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}

// LoadFile binds Config from the environment first and then overlays the
// values a YAML config file sets explicitly, so a checked-in file wins over
// ambient defaults for the keys it names.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}
