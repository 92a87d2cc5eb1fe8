// Package config loads the service configuration from an optional .env file,
// an optional TOML file and the process environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const EnvProduction = "production"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

type Config struct {
	Env             string        `toml:"env"`
	Addr            string        `toml:"addr"`
	DataDir         string        `toml:"data_dir"`
	LogDir          string        `toml:"log_dir"`
	AllowedOrigins  []string      `toml:"allowed_origins"`
	JournalDriver   string        `toml:"journal_driver"`
	JournalDSN      string        `toml:"journal_dsn"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

func Default() *Config {
	return &Config{
		Env:             "development",
		Addr:            ":8000",
		DataDir:         "data",
		LogDir:          "log",
		AllowedOrigins:  []string{"*"},
		JournalDriver:   DriverSQLite,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load builds the configuration. A missing .env or config file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "kanban.toml"
	}
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := env("APP_ENV"); v != "" {
		c.Env = v
	}
	if v := env("ADDR"); v != "" {
		c.Addr = v
	}
	if v := env("DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := env("LOG_DIR"); v != "" {
		c.LogDir = v
	}
	if v := env("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := env("JOURNAL_DRIVER"); v != "" {
		c.JournalDriver = strings.ToLower(v)
	}
	if v := env("JOURNAL_DSN"); v != "" {
		c.JournalDSN = v
	}
	if v := env("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
		}
		c.ShutdownTimeout = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.JournalDriver == DriverSQLite && c.JournalDSN == "" {
		c.JournalDSN = filepath.Join(c.DataDir, "_journal.db")
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data dir must not be empty")
	}
	switch c.JournalDriver {
	case DriverSQLite, DriverNone:
	case DriverPostgres:
		if c.JournalDSN == "" {
			return errors.New("JOURNAL_DSN is required for the postgres journal")
		}
	default:
		return fmt.Errorf("unknown journal driver %q", c.JournalDriver)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
