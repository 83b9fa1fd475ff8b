package storage

import "time"

// PostgresConfig describes how the Postgres repository initialises its
// connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	ApplicationName string
}

// PostgresOption mutates the Postgres pool configuration.
type PostgresOption func(*PostgresConfig)

// WithPoolLimits bounds the pool size.
func WithPoolLimits(min, max int32) PostgresOption {
	return func(cfg *PostgresConfig) {
		cfg.MinConnections = min
		cfg.MaxConnections = max
	}
}

// WithConnectTimeout caps how long a new connection attempt may take.
func WithConnectTimeout(timeout time.Duration) PostgresOption {
	return func(cfg *PostgresConfig) {
		cfg.ConnectTimeout = timeout
	}
}

// WithApplicationName labels connections in pg_stat_activity.
func WithApplicationName(name string) PostgresOption {
	return func(cfg *PostgresConfig) {
		cfg.ApplicationName = name
	}
}

func newPostgresConfig(dsn string, opts ...PostgresOption) PostgresConfig {
	cfg := PostgresConfig{
		DSN:             dsn,
		ApplicationName: "pollrooms",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
