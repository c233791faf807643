package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/cognicore/wordharvest/pkg/wordharvest/dedup"
	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
)

// unsetEnv clears keys for the test so envconfig falls back to defaults.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "WH_STORE", "WH_SQLITE_PATH", "WH_REFRESH_POLICY", "WH_FETCH_TIMEOUT", "WH_DEFAULT_LIMIT", "WH_DB_MIN_CONNS", "WH_DB_MAX_CONNS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreKind() != StoreSQLite || cfg.SQLitePath != "wordharvest.db" {
		t.Errorf("store = %q %q", cfg.Store, cfg.SQLitePath)
	}
	if cfg.FetchTimeout != 15*time.Second || cfg.DefaultLimit != 100 {
		t.Errorf("fetch = %v limit = %d", cfg.FetchTimeout, cfg.DefaultLimit)
	}
	if cfg.Policy() != dedup.PolicyInsertOnly {
		t.Errorf("policy = %q", cfg.Policy())
	}
}

func TestLoadFromEnv(t *testing.T) {
	unsetEnv(t, "WH_DEFAULT_LIMIT", "WH_DB_MIN_CONNS", "WH_DB_MAX_CONNS")
	t.Setenv("WH_STORE", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/wordharvest")
	t.Setenv("WH_REFRESH_POLICY", "refresh")
	t.Setenv("WH_FETCH_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreKind() != StorePostgres || cfg.Policy() != dedup.PolicyRefresh || cfg.FetchTimeout != 3*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Store:        StoreSQLite,
			SQLitePath:   "x.db",
			DBMaxConns:   4,
			FetchTimeout: time.Second,
			DefaultLimit: 10,
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.Store = "mysql" }},
		{"postgres without url", func(c *Config) { c.Store = StorePostgres }},
		{"sqlite without path", func(c *Config) { c.SQLitePath = " " }},
		{"min over max", func(c *Config) { c.DBMinConns = 5 }},
		{"zero max", func(c *Config) { c.DBMaxConns = 0 }},
		{"zero timeout", func(c *Config) { c.FetchTimeout = 0 }},
		{"zero limit", func(c *Config) { c.DefaultLimit = 0 }},
		{"bad policy", func(c *Config) { c.RefreshPolicy = "sometimes" }},
	}

	base := valid()
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			if err := c.Validate(); !errors.Is(err, internalerr.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
