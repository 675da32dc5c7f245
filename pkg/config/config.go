package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/keepsake/pkg/maintenance"
	"github.com/platinummonkey/keepsake/pkg/migration"
	"github.com/platinummonkey/keepsake/pkg/storage"
)

// EnvConfigFile names the environment variable holding the YAML config path
const EnvConfigFile = "KEEPSAKE_CONFIG"

// Config holds all application configuration
type Config struct {
	// Storage configuration
	Storage storage.Config

	// Migration and backup configuration
	Migration migration.Config

	// Maintenance job schedules
	Maintenance maintenance.Config

	// Admin HTTP server configuration
	Admin AdminConfig

	// Observability configuration
	Observability ObservabilityConfig

	// File is the YAML file the configuration was read from, if any
	File string
}

// AdminConfig holds the daemon's admin HTTP server settings
type AdminConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Storage:     storage.DefaultConfig(),
		Migration:   migration.DefaultConfig(),
		Maintenance: maintenance.DefaultConfig(),
		Admin: AdminConfig{
			Host:            "127.0.0.1",
			Port:            "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "keepsake",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named by
// KEEPSAKE_CONFIG (if set) and KEEPSAKE_* environment variables, in that
// order of precedence from lowest to highest.
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(EnvConfigFile))
}

// Load is LoadConfig with an explicit file path; an empty path skips the file
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.applyYAML(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.File = path
	}

	loadStorageConfig(&cfg.Storage)
	loadMigrationConfig(&cfg.Migration)
	loadMaintenanceConfig(&cfg.Maintenance)
	loadAdminConfig(&cfg.Admin)
	loadObservabilityConfig(&cfg.Observability)

	// Records are stamped with the version the data is migrated to.
	cfg.Storage.SchemaVersion = cfg.Migration.TargetVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// fileConfig mirrors Config for YAML decoding. Pointer fields distinguish
// "unset" from a zero value.
type fileConfig struct {
	Storage struct {
		Backend         string         `yaml:"backend"`
		Prefix          string         `yaml:"prefix"`
		QuotaBytes      *int64         `yaml:"quota_bytes"`
		DebounceDelay   *time.Duration `yaml:"debounce_delay"`
		MaxCacheSize    int            `yaml:"max_cache_size"`
		QuotaCleanupAge time.Duration  `yaml:"quota_cleanup_age"`
		PinnedKeys      []string       `yaml:"pinned_keys"`
		FilesystemRoot  string         `yaml:"filesystem_root"`
		SQLitePath      string         `yaml:"sqlite_path"`
		PostgresURL     string         `yaml:"postgres_url"`
		Redis           struct {
			URL      string `yaml:"url"`
			Password string `yaml:"password"`
			DB       *int   `yaml:"db"`
		} `yaml:"redis"`
		S3 struct {
			Endpoint     string `yaml:"endpoint"`
			Region       string `yaml:"region"`
			Bucket       string `yaml:"bucket"`
			KeyPrefix    string `yaml:"key_prefix"`
			AccessKey    string `yaml:"access_key"`
			SecretKey    string `yaml:"secret_key"`
			UsePathStyle *bool  `yaml:"use_path_style"`
		} `yaml:"s3"`
	} `yaml:"storage"`

	Migration struct {
		TargetVersion   string `yaml:"target_version"`
		BaselineVersion string `yaml:"baseline_version"`
		BackupPrefix    string `yaml:"backup_prefix"`
	} `yaml:"migration"`

	Maintenance struct {
		CleanupSchedule   *string       `yaml:"cleanup_schedule"`
		CleanupMaxAge     time.Duration `yaml:"cleanup_max_age"`
		BackupSchedule    *string       `yaml:"backup_schedule"`
		RetentionSchedule *string       `yaml:"retention_schedule"`
		RetainBackups     *int          `yaml:"retain_backups"`
		JobTimeout        time.Duration `yaml:"job_timeout"`
	} `yaml:"maintenance"`

	Admin struct {
		Host            string        `yaml:"host"`
		Port            string        `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"admin"`

	Observability struct {
		LogLevel       string `yaml:"log_level"`
		MetricsEnabled *bool  `yaml:"metrics_enabled"`
		OTel           struct {
			Enabled  *bool  `yaml:"enabled"`
			Endpoint string `yaml:"endpoint"`
			Insecure *bool  `yaml:"insecure"`
		} `yaml:"otel"`
	} `yaml:"observability"`
}

func (c *Config) applyYAML(data []byte) error {
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}

	s := &c.Storage
	setString(&s.Backend, f.Storage.Backend)
	setString(&s.Prefix, f.Storage.Prefix)
	if f.Storage.QuotaBytes != nil {
		s.QuotaBytes = *f.Storage.QuotaBytes
	}
	if f.Storage.DebounceDelay != nil {
		s.DebounceDelay = *f.Storage.DebounceDelay
	}
	if f.Storage.MaxCacheSize != 0 {
		s.MaxCacheSize = f.Storage.MaxCacheSize
	}
	if f.Storage.QuotaCleanupAge != 0 {
		s.QuotaCleanupAge = f.Storage.QuotaCleanupAge
	}
	if f.Storage.PinnedKeys != nil {
		s.PinnedKeys = f.Storage.PinnedKeys
	}
	setString(&s.FilesystemRoot, f.Storage.FilesystemRoot)
	setString(&s.SQLitePath, f.Storage.SQLitePath)
	setString(&s.PostgresURL, f.Storage.PostgresURL)
	setString(&s.RedisURL, f.Storage.Redis.URL)
	setString(&s.RedisPassword, f.Storage.Redis.Password)
	if f.Storage.Redis.DB != nil {
		s.RedisDB = *f.Storage.Redis.DB
	}
	setString(&s.S3Endpoint, f.Storage.S3.Endpoint)
	setString(&s.S3Region, f.Storage.S3.Region)
	setString(&s.S3Bucket, f.Storage.S3.Bucket)
	setString(&s.S3KeyPrefix, f.Storage.S3.KeyPrefix)
	setString(&s.S3AccessKey, f.Storage.S3.AccessKey)
	setString(&s.S3SecretKey, f.Storage.S3.SecretKey)
	if f.Storage.S3.UsePathStyle != nil {
		s.S3UsePathStyle = *f.Storage.S3.UsePathStyle
	}

	setString(&c.Migration.TargetVersion, f.Migration.TargetVersion)
	setString(&c.Migration.BaselineVersion, f.Migration.BaselineVersion)
	setString(&c.Migration.BackupPrefix, f.Migration.BackupPrefix)

	m := &c.Maintenance
	if f.Maintenance.CleanupSchedule != nil {
		m.CleanupSchedule = *f.Maintenance.CleanupSchedule
	}
	if f.Maintenance.CleanupMaxAge != 0 {
		m.CleanupMaxAge = f.Maintenance.CleanupMaxAge
	}
	if f.Maintenance.BackupSchedule != nil {
		m.BackupSchedule = *f.Maintenance.BackupSchedule
	}
	if f.Maintenance.RetentionSchedule != nil {
		m.RetentionSchedule = *f.Maintenance.RetentionSchedule
	}
	if f.Maintenance.RetainBackups != nil {
		m.RetainBackups = *f.Maintenance.RetainBackups
	}
	if f.Maintenance.JobTimeout != 0 {
		m.JobTimeout = f.Maintenance.JobTimeout
	}

	setString(&c.Admin.Host, f.Admin.Host)
	setString(&c.Admin.Port, f.Admin.Port)
	if f.Admin.ShutdownTimeout != 0 {
		c.Admin.ShutdownTimeout = f.Admin.ShutdownTimeout
	}

	o := &c.Observability
	setString(&o.LogLevel, f.Observability.LogLevel)
	if f.Observability.MetricsEnabled != nil {
		o.MetricsEnabled = *f.Observability.MetricsEnabled
	}
	if f.Observability.OTel.Enabled != nil {
		o.OTelEnabled = *f.Observability.OTel.Enabled
	}
	setString(&o.OTelEndpoint, f.Observability.OTel.Endpoint)
	if f.Observability.OTel.Insecure != nil {
		o.OTelInsecure = *f.Observability.OTel.Insecure
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// loadStorageConfig applies storage environment overrides
func loadStorageConfig(cfg *storage.Config) {
	cfg.Backend = getEnv("KEEPSAKE_BACKEND", cfg.Backend)
	cfg.Prefix = getEnv("KEEPSAKE_PREFIX", cfg.Prefix)
	cfg.QuotaBytes = getEnvInt64("KEEPSAKE_QUOTA_BYTES", cfg.QuotaBytes)
	cfg.DebounceDelay = getEnvDuration("KEEPSAKE_DEBOUNCE_DELAY", cfg.DebounceDelay)
	cfg.MaxCacheSize = getEnvInt("KEEPSAKE_MAX_CACHE_SIZE", cfg.MaxCacheSize)
	cfg.QuotaCleanupAge = getEnvDuration("KEEPSAKE_QUOTA_CLEANUP_AGE", cfg.QuotaCleanupAge)
	if pinned := getEnv("KEEPSAKE_PINNED_KEYS", ""); pinned != "" {
		cfg.PinnedKeys = splitList(pinned)
	}

	// Filesystem and SQL config
	cfg.FilesystemRoot = getEnv("KEEPSAKE_FILESYSTEM_ROOT", cfg.FilesystemRoot)
	cfg.SQLitePath = getEnv("KEEPSAKE_SQLITE_PATH", cfg.SQLitePath)
	cfg.PostgresURL = getEnv("KEEPSAKE_POSTGRES_URL", cfg.PostgresURL)

	// Redis config
	cfg.RedisURL = getEnv("KEEPSAKE_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("KEEPSAKE_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("KEEPSAKE_REDIS_DB", cfg.RedisDB)

	// S3 config
	cfg.S3Endpoint = getEnv("KEEPSAKE_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("KEEPSAKE_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("KEEPSAKE_S3_BUCKET", cfg.S3Bucket)
	cfg.S3KeyPrefix = getEnv("KEEPSAKE_S3_KEY_PREFIX", cfg.S3KeyPrefix)
	cfg.S3AccessKey = getEnv("KEEPSAKE_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("KEEPSAKE_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("KEEPSAKE_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)
}

func loadMigrationConfig(cfg *migration.Config) {
	cfg.TargetVersion = getEnv("KEEPSAKE_TARGET_VERSION", cfg.TargetVersion)
	cfg.BaselineVersion = getEnv("KEEPSAKE_BASELINE_VERSION", cfg.BaselineVersion)
	cfg.BackupPrefix = getEnv("KEEPSAKE_BACKUP_PREFIX", cfg.BackupPrefix)
}

func loadMaintenanceConfig(cfg *maintenance.Config) {
	cfg.CleanupSchedule = getEnvSchedule("KEEPSAKE_CLEANUP_SCHEDULE", cfg.CleanupSchedule)
	cfg.CleanupMaxAge = getEnvDuration("KEEPSAKE_CLEANUP_MAX_AGE", cfg.CleanupMaxAge)
	cfg.BackupSchedule = getEnvSchedule("KEEPSAKE_BACKUP_SCHEDULE", cfg.BackupSchedule)
	cfg.RetentionSchedule = getEnvSchedule("KEEPSAKE_RETENTION_SCHEDULE", cfg.RetentionSchedule)
	cfg.RetainBackups = getEnvInt("KEEPSAKE_RETAIN_BACKUPS", cfg.RetainBackups)
	cfg.JobTimeout = getEnvDuration("KEEPSAKE_JOB_TIMEOUT", cfg.JobTimeout)
}

func loadAdminConfig(cfg *AdminConfig) {
	cfg.Host = getEnv("KEEPSAKE_ADMIN_HOST", cfg.Host)
	cfg.Port = getEnv("KEEPSAKE_ADMIN_PORT", cfg.Port)
	cfg.ReadTimeout = getEnvDuration("KEEPSAKE_ADMIN_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvDuration("KEEPSAKE_ADMIN_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ShutdownTimeout = getEnvDuration("KEEPSAKE_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
}

func loadObservabilityConfig(cfg *ObservabilityConfig) {
	cfg.LogLevel = getEnv("KEEPSAKE_LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsEnabled = getEnvBool("KEEPSAKE_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.OTelEnabled = getEnvBool("KEEPSAKE_OTEL_ENABLED", cfg.OTelEnabled)
	cfg.OTelEndpoint = getEnv("KEEPSAKE_OTEL_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelServiceName = getEnv("KEEPSAKE_OTEL_SERVICE_NAME", cfg.OTelServiceName)
	cfg.OTelServiceVersion = getEnv("KEEPSAKE_OTEL_SERVICE_VERSION", cfg.OTelServiceVersion)
	cfg.OTelInsecure = getEnvBool("KEEPSAKE_OTEL_INSECURE", cfg.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// Validate storage config based on backend
	s := c.Storage
	switch s.Backend {
	case storage.BackendMemory:
	case storage.BackendFilesystem:
		if s.FilesystemRoot == "" {
			errs = append(errs, fmt.Errorf("filesystem root is required for filesystem storage"))
		}
	case storage.BackendSQLite:
		if s.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("sqlite path is required for sqlite storage"))
		}
	case storage.BackendPostgres:
		if s.PostgresURL == "" {
			errs = append(errs, fmt.Errorf("postgres URL is required for postgres storage"))
		}
	case storage.BackendRedis:
		if s.RedisURL == "" {
			errs = append(errs, fmt.Errorf("redis URL is required for redis storage"))
		}
	case storage.BackendS3:
		if s.S3Bucket == "" {
			errs = append(errs, fmt.Errorf("S3 bucket is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage backend: %q (must be memory, filesystem, sqlite, postgres, redis or s3)", s.Backend))
	}
	if s.Prefix == "" {
		errs = append(errs, fmt.Errorf("namespace prefix is required"))
	} else if err := storage.ValidatePrefix(s.Prefix); err != nil {
		errs = append(errs, err)
	}
	if s.QuotaBytes < 0 {
		errs = append(errs, fmt.Errorf("quota must not be negative"))
	}
	if s.DebounceDelay < 0 {
		errs = append(errs, fmt.Errorf("debounce delay must not be negative"))
	}
	if s.MaxCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("max cache size must be positive"))
	}

	// Validate migration config
	m := c.Migration
	if m.TargetVersion == "" {
		errs = append(errs, fmt.Errorf("target version is required"))
	} else if migration.CompareVersions(m.BaselineVersion, m.TargetVersion) > 0 {
		errs = append(errs, fmt.Errorf("baseline version %s is newer than target %s", m.BaselineVersion, m.TargetVersion))
	}
	if m.BackupPrefix == "" {
		errs = append(errs, fmt.Errorf("backup prefix is required"))
	} else if err := storage.ValidatePrefix(m.BackupPrefix); err != nil {
		errs = append(errs, fmt.Errorf("backup prefix: %w", err))
	} else if strings.HasPrefix(m.BackupPrefix, s.Prefix) || strings.HasPrefix(s.Prefix, m.BackupPrefix) {
		errs = append(errs, fmt.Errorf("backup prefix %q overlaps namespace prefix %q", m.BackupPrefix, s.Prefix))
	}

	// Validate maintenance schedules
	mt := c.Maintenance
	for name, expr := range map[string]string{
		maintenance.JobCleanup:   mt.CleanupSchedule,
		maintenance.JobBackup:    mt.BackupSchedule,
		maintenance.JobRetention: mt.RetentionSchedule,
	} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s schedule %q: %w", name, expr, err))
		}
	}
	if mt.RetentionSchedule != "" && mt.RetainBackups < 1 {
		errs = append(errs, fmt.Errorf("retain backups must be at least 1 when retention is scheduled"))
	}

	if c.Admin.Port == "" {
		errs = append(errs, fmt.Errorf("admin port is required"))
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
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

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvSchedule is getEnv where "off" disables the schedule
func getEnvSchedule(key, defaultValue string) string {
	value := getEnv(key, defaultValue)
	if strings.EqualFold(value, "off") {
		return ""
	}
	return value
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
