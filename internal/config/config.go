package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/cognicore/wordharvest/pkg/wordharvest/dedup"
	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Store       string `envconfig:"WH_STORE" default:"sqlite"`
	SQLitePath  string `envconfig:"WH_SQLITE_PATH" default:"wordharvest.db"`
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	DBMinConns  int    `envconfig:"WH_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int    `envconfig:"WH_DB_MAX_CONNS" default:"8"`

	RedditBaseURL string        `envconfig:"WH_REDDIT_BASE_URL" default:"https://www.reddit.com"`
	UserAgent     string        `envconfig:"WH_USER_AGENT" default:"wordharvest/1.0"`
	FetchTimeout  time.Duration `envconfig:"WH_FETCH_TIMEOUT" default:"15s"`
	DefaultLimit  int           `envconfig:"WH_DEFAULT_LIMIT" default:"100"`
	RefreshPolicy string        `envconfig:"WH_REFRESH_POLICY" default:"insert-only"`

	NormalizerConfig string `envconfig:"WH_NORMALIZER_CONFIG" default:""`
	HTTPAddr         string `envconfig:"WH_HTTP_ADDR" default:":8080"`
}

func Load() (*Config, error) {
	return LoadWith(nil)
}

// LoadWith reads the environment, lets apply override fields (command-line
// flags), then validates.
func LoadWith(apply func(*Config)) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", err, internalerr.ErrInvalidConfig)
	}
	if apply != nil {
		apply(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Store)) {
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("WH_SQLITE_PATH is required for the sqlite store: %w", internalerr.ErrInvalidConfig)
		}
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store: %w", internalerr.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("WH_STORE must be %q or %q, got %q: %w", StoreSQLite, StorePostgres, c.Store, internalerr.ErrInvalidConfig)
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("WH_DB_MIN_CONNS must be >= 0: %w", internalerr.ErrInvalidConfig)
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("WH_DB_MAX_CONNS must be >= 1: %w", internalerr.ErrInvalidConfig)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("WH_DB_MIN_CONNS (%d) cannot exceed WH_DB_MAX_CONNS (%d): %w", c.DBMinConns, c.DBMaxConns, internalerr.ErrInvalidConfig)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("WH_FETCH_TIMEOUT must be positive: %w", internalerr.ErrInvalidConfig)
	}
	if c.DefaultLimit < 1 {
		return fmt.Errorf("WH_DEFAULT_LIMIT must be >= 1: %w", internalerr.ErrInvalidConfig)
	}
	if _, err := dedup.ParsePolicy(c.RefreshPolicy); err != nil {
		return fmt.Errorf("WH_REFRESH_POLICY: %w", err)
	}
	return nil
}

// Policy returns the parsed refresh policy. Validate must have passed.
func (c *Config) Policy() dedup.Policy {
	p, _ := dedup.ParsePolicy(c.RefreshPolicy)
	return p
}

// StoreKind returns the normalized WH_STORE value.
func (c *Config) StoreKind() string {
	return strings.ToLower(strings.TrimSpace(c.Store))
}
