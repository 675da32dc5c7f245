// Package config provides application configuration management from a YAML
// file and environment variables.
//
// # Overview
//
// Configuration is layered: built-in defaults, then the YAML file named by
// KEEPSAKE_CONFIG, then KEEPSAKE_* environment variables. The result is
// validated before it is returned.
//
// # Configuration Structure
//
// Storage settings:
//
//	KEEPSAKE_BACKEND="filesystem"  # memory, filesystem, sqlite, postgres, redis, s3
//	KEEPSAKE_PREFIX="keepsake_"
//	KEEPSAKE_QUOTA_BYTES="5242880"
//	KEEPSAKE_DEBOUNCE_DELAY="500ms"
//	KEEPSAKE_MAX_CACHE_SIZE="100"
//	KEEPSAKE_PINNED_KEYS="dataVersion,settings"
//	KEEPSAKE_FILESYSTEM_ROOT="/var/lib/keepsake"
//	KEEPSAKE_SQLITE_PATH="/var/lib/keepsake.db"
//	KEEPSAKE_POSTGRES_URL="postgres://localhost/keepsake"
//	KEEPSAKE_REDIS_URL="redis://localhost:6379"
//	KEEPSAKE_S3_BUCKET="keepsake"
//
// Migration settings:
//
//	KEEPSAKE_TARGET_VERSION="1.1.0"
//	KEEPSAKE_BASELINE_VERSION="1.0.0"
//	KEEPSAKE_BACKUP_PREFIX="backup_"
//
// Maintenance settings (cron expressions, "off" disables a job):
//
//	KEEPSAKE_CLEANUP_SCHEDULE="0 3 * * *"
//	KEEPSAKE_CLEANUP_MAX_AGE="720h"
//	KEEPSAKE_BACKUP_SCHEDULE="0 4 * * *"
//	KEEPSAKE_RETENTION_SCHEDULE="30 4 * * *"
//	KEEPSAKE_RETAIN_BACKUPS="10"
//
// Admin and observability settings:
//
//	KEEPSAKE_ADMIN_HOST="127.0.0.1"
//	KEEPSAKE_ADMIN_PORT="9090"
//	KEEPSAKE_LOG_LEVEL="info"  # debug, info, warn, error
//	KEEPSAKE_METRICS_ENABLED="true"
//	KEEPSAKE_OTEL_ENABLED="true"
//	KEEPSAKE_OTEL_ENDPOINT="otel-collector:4317"
//
// The same settings in YAML:
//
//	storage:
//	  backend: redis
//	  prefix: game_
//	  redis:
//	    url: redis://localhost:6379
//	maintenance:
//	  backup_schedule: "@daily"
//	  retain_backups: 5
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	go config.Watch(ctx, cfg.File, logger, func(next *config.Config) {
//		logger.SetLevel(observability.ParseLevel(next.Observability.LogLevel))
//	})
package config
