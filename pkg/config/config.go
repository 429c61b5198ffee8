// Package config reads the microloan service settings from flags and the environment.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress    = "localhost:8080"
	defaultSQLitePath    = "microloan.db"
	defaultCacheTTL      = time.Minute
	defaultSweepInterval = time.Hour
)

// Config holds the service settings. Environment variables win over flags.
type Config struct {
	RunAddress  string
	DatabaseURI string // Postgres is used when set, SQLite otherwise
	SQLitePath  string
	RedisAddr   string // empty disables the summary cache
	CacheTTL    time.Duration
	// SweepInterval of zero disables the overdue sweep.
	SweepInterval time.Duration
}

// envConfig uses pointers for durations so an explicit zero still overrides a flag.
type envConfig struct {
	RunAddress    string         `env:"RUN_ADDRESS"`
	DatabaseURI   string         `env:"DATABASE_URI"`
	SQLitePath    string         `env:"SQLITE_PATH"`
	RedisAddr     string         `env:"REDIS_ADDR"`
	CacheTTL      *time.Duration `env:"CACHE_TTL"`
	SweepInterval *time.Duration `env:"SWEEP_INTERVAL"`
}

// Parse reads command line flags and environment variables.
func Parse() (*Config, error) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "postgres database URI")
	flag.StringVar(&cfg.SQLitePath, "s", defaultSQLitePath, "sqlite database file, used when no database URI is given")
	flag.StringVar(&cfg.RedisAddr, "r", "", "redis address for the summary cache")
	flag.DurationVar(&cfg.CacheTTL, "t", defaultCacheTTL, "summary cache TTL")
	flag.DurationVar(&cfg.SweepInterval, "i", defaultSweepInterval, "overdue sweep interval, 0 disables")

	flag.Parse()

	if ec.RunAddress != "" {
		cfg.RunAddress = ec.RunAddress
	}
	if ec.DatabaseURI != "" {
		cfg.DatabaseURI = ec.DatabaseURI
	}
	if ec.SQLitePath != "" {
		cfg.SQLitePath = ec.SQLitePath
	}
	if ec.RedisAddr != "" {
		cfg.RedisAddr = ec.RedisAddr
	}
	if ec.CacheTTL != nil {
		cfg.CacheTTL = *ec.CacheTTL
	}
	if ec.SweepInterval != nil {
		cfg.SweepInterval = *ec.SweepInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = defaultSQLitePath
	}
	if cfg.CacheTTL < 0 || cfg.SweepInterval < 0 {
		return nil, fmt.Errorf("durations must not be negative: cache ttl %s, sweep interval %s", cfg.CacheTTL, cfg.SweepInterval)
	}

	return cfg, nil
}
