// Package cli implements the keepsake command-line interface.
//
// # Overview
//
// Every command loads the configuration (see pkg/config), opens the
// configured backend, runs against a storage.Manager and migration.Manager,
// and closes the store so pending writes are flushed before exit.
//
// # Commands
//
// Records:
//
//	keepsake set settings '{"volume":0.4}'
//	keepsake set -raw motd "hello"
//	keepsake get -pretty settings
//	keepsake keys
//	keepsake rm motd
//	keepsake stats
//	keepsake cleanup -max-age 720h
//	keepsake clear -yes
//
// Migrations and backups:
//
//	keepsake migrate            # backs up existing data first
//	keepsake migrate -dry-run
//	keepsake repair
//	keepsake backup
//	keepsake backups
//	keepsake restore backup_1714554000000
//	keepsake delete-backup backup_1714554000000
//	keepsake prune-backups -keep 5
//
// Daemon:
//
//	keepsake -config /etc/keepsake.yaml daemon
//	keepsake daemon -run-once
//
// The daemon migrates on startup, runs the cron maintenance jobs and serves
// the admin API until SIGINT or SIGTERM.
package cli
