// Package config reads the synchronisation settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Registry backends.
const (
	RegistryBolt   = "bolt"
	RegistrySQL    = "sql"
	RegistryRedis  = "redis"
	RegistryMemory = "memory"
)

// Config ...
type Config struct {
	Collector CollectorConfig
	Registry  RegistryConfig
	Sync      SyncConfig
}

// CollectorConfig ...
type CollectorConfig struct {
	APIURL  string        `envconfig:"COLLECTOR_API_URL" required:"true"`
	Token   string        `envconfig:"COLLECTOR_TOKEN"`
	Timeout time.Duration `envconfig:"SYNC_HTTP_TIMEOUT" default:"60s"`
}

// RegistryConfig selects where open upload sessions are kept.
type RegistryConfig struct {
	Kind string `envconfig:"SYNC_REGISTRY" default:"bolt"`
	// Path is the bolt file, the sqlite file or a postgres DSN.
	Path          string        `envconfig:"SYNC_REGISTRY_PATH" default:"upload_sessions.db"`
	RedisAddr     string        `envconfig:"SYNC_REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"SYNC_REDIS_PASSWORD"`
	RedisTTL      time.Duration `envconfig:"SYNC_REDIS_SESSION_TTL" default:"168h"`
}

// SyncConfig ...
type SyncConfig struct {
	StoreDir         string `envconfig:"SYNC_STORE_DIR" default:"measurements"`
	MaxFailedUploads int    `envconfig:"SYNC_MAX_FAILED_UPLOADS" default:"3"`
	// Concurrency 0 picks a default based on the CPU count.
	Concurrency      int  `envconfig:"SYNC_CONCURRENCY" default:"0"`
	CompressionLevel int  `envconfig:"SYNC_COMPRESSION_LEVEL" default:"9"`
	Verbose          bool `envconfig:"SYNC_VERBOSE" default:"false"`
	// Analytics sends upload events to the analytics service.
	Analytics bool `envconfig:"SYNC_ANALYTICS" default:"false"`
}

// Load ...
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate ...
func (c Config) Validate() error {
	u, err := url.Parse(c.Collector.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid COLLECTOR_API_URL: %q", c.Collector.APIURL)
	}

	switch c.Registry.Kind {
	case RegistryBolt, RegistrySQL, RegistryRedis, RegistryMemory:
	default:
		return fmt.Errorf("unknown SYNC_REGISTRY: %q", c.Registry.Kind)
	}

	if c.Collector.Timeout <= 0 {
		return fmt.Errorf("SYNC_HTTP_TIMEOUT must be positive")
	}
	if c.Sync.MaxFailedUploads <= 0 {
		return fmt.Errorf("SYNC_MAX_FAILED_UPLOADS must be positive")
	}
	if c.Sync.Concurrency < 0 {
		return fmt.Errorf("SYNC_CONCURRENCY must not be negative")
	}
	return nil
}

// IsPostgres reports whether the sql registry path is a postgres DSN rather than a sqlite file.
func (c RegistryConfig) IsPostgres() bool {
	return strings.HasPrefix(c.Path, "postgres://") ||
		strings.HasPrefix(c.Path, "postgresql://") ||
		strings.Contains(c.Path, "host=")
}
