package storage

import (
	"context"
	"time"
)

// Backend is the physical key-value layer underneath a Manager. Keys are
// physical keys: the Manager adds its namespace prefix before calling it.
type Backend interface {
	// Get returns the stored bytes, or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, replacing any previous value
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every stored key starting with prefix
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the backend
	Close() error
}

// Backend types accepted by Config.Backend
const (
	BackendMemory     = "memory"
	BackendFilesystem = "filesystem"
	BackendSQLite     = "sqlite"
	BackendPostgres   = "postgres"
	BackendRedis      = "redis"
	BackendS3         = "s3"
)

// Config for a storage manager and its backend
type Config struct {
	Backend string

	// Namespace prefix prepended to every logical key. See ValidatePrefix.
	Prefix string

	// SchemaVersion is written into every record envelope
	SchemaVersion string

	// QuotaBytes is the capacity ceiling; 0 disables quota enforcement
	QuotaBytes int64

	// DebounceDelay is how long a write waits for newer values of the same key
	DebounceDelay time.Duration

	// MaxCacheSize is the number of logical values kept in memory
	MaxCacheSize int

	// QuotaCleanupAge is the max age passed to Cleanup when a write hits the quota
	QuotaCleanupAge time.Duration

	// PinnedKeys are logical keys never removed by age-based cleanup
	PinnedKeys []string

	// Filesystem config
	FilesystemRoot string

	// SQL config
	SQLitePath  string
	PostgresURL string

	// Redis config
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3KeyPrefix    string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Backend:         BackendFilesystem,
		Prefix:          "keepsake_",
		SchemaVersion:   "1.1.0",
		QuotaBytes:      5 * 1024 * 1024, // 5MB
		DebounceDelay:   500 * time.Millisecond,
		MaxCacheSize:    100,
		QuotaCleanupAge: 7 * 24 * time.Hour,
		PinnedKeys:      []string{"dataVersion"},
		FilesystemRoot:  "/tmp/keepsake",
		SQLitePath:      "/tmp/keepsake.db",
		RedisDB:         0,
		S3Region:        "us-east-1",
	}
}
