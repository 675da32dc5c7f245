// Package storage provides the cached, write-behind key-value store used by
// keepsake, together with its pluggable persistence backends.
//
// # Overview
//
// A Manager owns a namespace (a key prefix) inside a Backend. Callers work
// with logical keys and JSON-serializable values; the Manager wraps each
// value in a Record envelope carrying the time it was written and the schema
// version that wrote it, and persists the envelope under prefix+key.
//
//	backend, err := storage.OpenBackend(ctx, cfg)
//	mgr, err := storage.New(backend, cfg, storage.WithLogger(log))
//
//	_ = mgr.Set(ctx, "settings", map[string]any{"volume": 0.8})
//	settings := storage.Get(ctx, mgr, "settings", map[string]any{})
//
// # Write-behind
//
// Set updates the in-memory cache immediately and defers the physical write
// by Config.DebounceDelay. Repeated writes to the same key inside that window
// collapse into one write of the latest value. BatchSet queues several keys
// behind a single timer. Flush persists everything that is pending.
//
// Timers come from a Scheduler. Production code uses TimerScheduler; tests
// use ManualScheduler and advance virtual time explicitly:
//
//	sched := storage.NewManualScheduler()
//	mgr, _ := storage.New(storage.NewMemoryBackend(), cfg, storage.WithScheduler(sched))
//	_ = mgr.Set(ctx, "k", 1)
//	sched.Advance(cfg.DebounceDelay)
//
// # Cache
//
// The cache holds at most Config.MaxCacheSize values. Reads do not refresh
// an entry, so when the cache is full the value inserted or overwritten
// longest ago is evicted first.
//
// # Failures
//
// Reads never fail: absent, unreadable, corrupt or schema-invalid records
// yield the caller's default. A write rejected with ErrQuotaExceeded runs
// one Cleanup pass with Config.QuotaCleanupAge and is retried once.
// ErrAccessDenied is reported and never retried.
//
// # Backends
//
//   - MemoryBackend: in-process map, used by tests
//   - FileSystemBackend: one JSON file per key
//   - SQLBackend: sqlite3 or postgres table
//   - RedisBackend: plain string keys
//   - S3Backend: one object per key
//
// WithQuota wraps any backend with a byte ceiling.
package storage
