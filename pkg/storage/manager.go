package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keepsake/pkg/observability"
	"github.com/platinummonkey/keepsake/pkg/schema"
)

// Manager is the cached, write-behind view of a namespaced Backend.
//
// Every operation holds the manager lock for its whole duration, including
// backend I/O, so operations never interleave. Debounced writes fire on the
// Scheduler and take the same lock.
type Manager struct {
	mu       sync.Mutex
	backend  Backend
	cfg      Config
	registry *schema.Registry
	cache    *valueCache
	sched    Scheduler
	now      func() time.Time
	log      *logrus.Logger
	metrics  *observability.Metrics

	pending    map[string]*pendingWrite
	batchTimer Timer
	batchGen   uint64
	closed     bool

	failedWrites int64
	lastWriteErr error
}

// Option configures a Manager
type Option func(*Manager)

// WithScheduler sets the scheduler that drives debounced writes
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.sched = s }
}

// WithClock sets the time source used for record timestamps and cleanup
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger
func WithLogger(log *logrus.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics enables Prometheus metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithRegistry sets the schema registry; the default is schema.DefaultRegistry()
func WithRegistry(r *schema.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// New creates a Manager over backend
func New(backend Backend, cfg Config, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if err := ValidatePrefix(cfg.Prefix); err != nil {
		return nil, err
	}
	defaults := DefaultConfig()
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = defaults.MaxCacheSize
	}
	if cfg.DebounceDelay < 0 {
		cfg.DebounceDelay = 0
	}
	if cfg.QuotaCleanupAge <= 0 {
		cfg.QuotaCleanupAge = defaults.QuotaCleanupAge
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = defaults.SchemaVersion
	}

	m := &Manager{
		backend: backend,
		cfg:     cfg,
		now:     time.Now,
		pending: make(map[string]*pendingWrite),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logrus.New()
	}
	if m.sched == nil {
		m.sched = NewTimerScheduler(m.log)
	}
	if m.registry == nil {
		m.registry = schema.DefaultRegistry()
	}

	cache, err := newValueCache(cfg.MaxCacheSize)
	if err != nil {
		return nil, err
	}
	m.cache = cache
	return m, nil
}

// Backend returns the underlying backend
func (m *Manager) Backend() Backend {
	return m.backend
}

// Prefix returns the namespace prefix
func (m *Manager) Prefix() string {
	return m.cfg.Prefix
}

// Registry returns the schema registry used for validation
func (m *Manager) Registry() *schema.Registry {
	return m.registry
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.cfg
}

// Now returns the manager's current time
func (m *Manager) Now() time.Time {
	return m.now()
}

func (m *Manager) physicalKey(key string) string {
	return m.cfg.Prefix + key
}

func (m *Manager) logicalKey(phys string) string {
	return strings.TrimPrefix(phys, m.cfg.Prefix)
}

// GetRaw returns the JSON form of the logical value stored under key. It
// never fails: a missing, unreadable, corrupt or schema-invalid record
// reports false and is left in place.
func (m *Manager) GetRaw(ctx context.Context, key string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.cache.get(key); ok {
		m.metrics.CacheHit()
		return v, true
	}
	m.metrics.CacheMiss()

	phys := m.physicalKey(key)
	log := m.log.WithField("key", key)

	// An evicted value may still be waiting for its write.
	if pw, ok := m.pending[phys]; ok {
		m.cacheAddLocked(key, pw.value)
		return cloneRaw(pw.value), true
	}

	data, err := m.backend.Get(ctx, phys)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.WithError(err).Warn("failed to read record, using default")
			m.metrics.StorageError("get", classify(err))
		}
		return nil, false
	}

	rec, err := decodeRecord(data)
	if err != nil {
		log.WithError(err).Warn("ignoring unparsable record")
		m.metrics.StorageError("get", "parse")
		return nil, false
	}
	if err := m.registry.ValidateJSON(key, rec.Value); err != nil {
		log.WithError(err).Warn("ignoring record that fails schema validation")
		m.metrics.StorageError("get", "schema")
		return nil, false
	}

	m.cacheAddLocked(key, rec.Value)
	return cloneRaw(rec.Value), true
}

// Get decodes the value stored under key into T, returning def when the key
// is absent, unreadable, invalid, or does not decode into T.
func Get[T any](ctx context.Context, m *Manager, key string, def T) T {
	raw, ok := m.GetRaw(ctx, key)
	if !ok {
		return def
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		m.log.WithField("key", key).WithError(err).Debug("stored value does not decode into requested type")
		return def
	}
	return out
}

// SetOption configures a single Set call
type SetOption func(*setOptions)

type setOptions struct {
	debounce bool
	validate bool
}

// WithDebounce controls whether the physical write is debounced (default true)
func WithDebounce(enabled bool) SetOption {
	return func(o *setOptions) { o.debounce = enabled }
}

// WithValidation controls schema validation (default true)
func WithValidation(enabled bool) SetOption {
	return func(o *setOptions) { o.validate = enabled }
}

// Set stores value under key. The cache is updated before Set returns, so a
// following Get observes value even while the physical write is pending.
// A value failing schema validation returns a *schema.ValidationError and
// changes nothing.
func (m *Manager) Set(ctx context.Context, key string, value any, opts ...SetOption) error {
	o := setOptions{debounce: true, validate: true}
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	if o.validate {
		if err := m.registry.ValidateJSON(key, raw); err != nil {
			m.metrics.StorageError("set", "schema")
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.cacheAddLocked(key, raw)
	phys := m.physicalKey(key)
	data, err := encodeRecord(raw, m.now(), m.cfg.SchemaVersion)
	if err != nil {
		return fmt.Errorf("failed to encode record %q: %w", key, err)
	}

	if o.debounce {
		m.scheduleLocked(phys, raw, data)
		return nil
	}

	m.cancelPendingLocked(phys)
	return m.writeLocked(ctx, phys, data)
}

// Remove deletes key from the cache, cancels its pending write and deletes
// the physical record.
func (m *Manager) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(ctx, key)
}

func (m *Manager) removeLocked(ctx context.Context, key string) error {
	m.cache.remove(key)
	phys := m.physicalKey(key)
	m.cancelPendingLocked(phys)

	err := m.backend.Delete(ctx, phys)
	m.metrics.StorageOp("remove", err)
	if err != nil {
		m.log.WithField("key", key).WithError(err).Error("failed to remove record")
		return fmt.Errorf("failed to remove %q: %w", key, err)
	}
	return nil
}

// ReadRecord reads and parses the persisted envelope for key, bypassing the
// cache. It returns ErrNotFound or an error wrapping ErrCorruptRecord.
func (m *Manager) ReadRecord(ctx context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.backend.Get(ctx, m.physicalKey(key))
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

// Close flushes pending writes, rejects further writes and closes the backend.
// The flush and the switch to closed happen under one lock hold, so no write
// can be queued in between.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	if m.batchTimer != nil {
		m.batchTimer.Stop()
		m.batchTimer = nil
		m.batchGen++
	}
	flushErr := m.flushLocked(ctx, false)
	if err := m.backend.Close(); err != nil {
		return errors.Join(flushErr, fmt.Errorf("failed to close backend: %w", err))
	}
	return flushErr
}

func (m *Manager) cacheAddLocked(key string, raw json.RawMessage) {
	if m.cache.add(key, raw) {
		m.metrics.CacheEviction()
	}
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

// classify names the error family for metrics
func classify(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrCorruptRecord):
		return "parse"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "io"
	}
}
