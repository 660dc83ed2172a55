package config

import (
	"errors"
	"time"
)

// Config represents the sync server configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Sync        SyncConfig        `mapstructure:"sync"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig represents PostgreSQL store configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig represents Redis configuration for the idempotency cache and the
// status event stream.
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxRetries   int    `mapstructure:"max_retries"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// SyncConfig represents sync protocol configuration
type SyncConfig struct {
	// ServerActorID is this server's component in every vector clock. All
	// server instances in a deployment share one actor id.
	ServerActorID string `mapstructure:"server_actor_id"`
	// IdempotencyTTL bounds how long terminal operation results are replayable.
	// It must comfortably exceed the longest expected device offline window.
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
	// EventStreamKey is the Redis stream for status transition events.
	EventStreamKey string `mapstructure:"event_stream_key"`
	// EventStreamMaxLen caps the status event stream length.
	EventStreamMaxLen int64 `mapstructure:"event_stream_max_len"`
	// EventQueueSize bounds the in-process status event queue.
	EventQueueSize int `mapstructure:"event_queue_size"`
	// EventWorkers is the number of status event publisher goroutines.
	EventWorkers int `mapstructure:"event_workers"`
}

// RateLimiterConfig represents rate limiting configuration
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// CacheConfig represents in-memory cache configuration
type CacheConfig struct {
	TenantConfigTTL time.Duration `mapstructure:"tenant_config_ttl"`
	MaxSize         int           `mapstructure:"max_size"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.Database == "" {
		return errors.New("database.database is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Redis.Host == "" {
		return errors.New("redis.host is required")
	}
	if c.Sync.ServerActorID == "" {
		return errors.New("sync.server_actor_id is required")
	}
	if c.Sync.IdempotencyTTL <= 0 {
		return errors.New("sync.idempotency_ttl must be positive")
	}
	if c.Sync.EventQueueSize <= 0 {
		return errors.New("sync.event_queue_size must be positive")
	}
	if c.Sync.EventWorkers <= 0 {
		return errors.New("sync.event_workers must be positive")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "fieldsync",
			User:            "fieldsync",
			Password:        "",
			MaxConnections:  50,
			MinConnections:  10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			Password:     "",
			DB:           0,
			MaxRetries:   3,
			PoolSize:     100,
			MinIdleConns: 10,
		},
		Sync: SyncConfig{
			ServerActorID:     "server",
			IdempotencyTTL:    14 * 24 * time.Hour,
			EventStreamKey:    "fieldsync:status-events",
			EventStreamMaxLen: 100000,
			EventQueueSize:    1000,
			EventWorkers:      4,
		},
		RateLimiter: RateLimiterConfig{
			Enabled:           true,
			RequestsPerSecond: 100,
			BurstSize:         500,
		},
		Cache: CacheConfig{
			TenantConfigTTL: 5 * time.Minute,
			MaxSize:         10000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
