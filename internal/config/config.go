package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the conversation-tree service.
type Config struct {
	// Mode is "prod" (default) or "testing"; no code in this tree reads it.
	Mode string

	// Database. ReadReplicaDBURL, if set, is consulted for LOCAL_ONE reads
	// (see spec's store-adapter consistency-level section); the primary
	// DSN is always used for LOCAL_QUORUM reads and all writes.
	DatastoreType    string
	DBURL            string
	ReadReplicaDBURL string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// Cache backend type: "redis" or "none".
	CacheType string
	RedisURL  string
	CacheTTL  time.Duration

	// MaxLineageDepth bounds root-to-leaf message depth; appends past this
	// depth fail with DepthExceeded.
	MaxLineageDepth int
	// MaxBatchSize bounds fork/tree-listing batch sizes.
	MaxBatchSize int

	// Content-at-rest encryption (optional). A comma-separated list of AES
	// keys; the first is primary (new encryptions), the rest are
	// legacy/decrypt-only for zero-downtime key rotation.
	EncryptionKey        string
	EncryptionDBDisabled bool

	// Server
	Listener                  ListenerConfig
	ManagementListener        ListenerConfig
	ManagementListenerEnabled bool
	ManagementAccessLog       bool
	CORSEnabled               bool
	CORSOrigins               string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		CacheType:               "none",
		CacheTTL:                10 * time.Minute,
		MaxLineageDepth:         1000,
		MaxBatchSize:            100,
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
			EnableTLS:       true,
		},
		MaxBodySize:    4 * 1024 * 1024,
		DrainTimeout:   30,
		DBMaxOpenConns: 25,
		DBMaxIdleConns: 5,
	}
}
