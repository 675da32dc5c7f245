// Package migration brings persisted keepsake data up to the current schema
// version and manages point-in-time backups of a storage namespace.
//
// A Manager wraps a *storage.Manager. MigrateIfNeeded is meant to run once
// per process start: it reads the stored data version, runs every registered
// Migration newer than it (up to the target) in ascending order, and then
// records the target version. A missing version counts as the baseline, so
// the baseline migration never runs. A failing migration stops the chain and the
// stored version stays where it was; changes the failing migration already
// made are not rolled back.
//
// Backups are JSON snapshots {version, timestamp, data} stored in the same
// backend as the data but outside its namespace. Ids have the form
// backup_<epoch-millis>; the backend key is backup_<namespace>_<epoch-millis>,
// so each namespace lists, prunes and restores only its own backups.
//
// ValidateAndRepair deletes records that fail their structural checks so
// that later reads fall back to the caller's defaults.
package migration
