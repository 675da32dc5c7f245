package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/keepsake/pkg/observability"
	"github.com/platinummonkey/keepsake/pkg/schema"
	"github.com/platinummonkey/keepsake/pkg/storage"
)

// Migration transforms stored data into the shape expected by Version
type Migration struct {
	Version     string
	Description string
	Migrate     func(ctx context.Context, store *storage.Manager) error
}

// State is the outcome of a MigrateIfNeeded call
type State string

const (
	StateUpToDate  State = "up_to_date"
	StateMigrating State = "migrating"
	StateMigrated  State = "migrated"
	StateFailed    State = "failed"
)

// Result describes a MigrateIfNeeded call
type Result struct {
	Migrated    bool   `json:"migrated"`
	FromVersion string `json:"fromVersion"`
	ToVersion   string `json:"toVersion"`
	// MigratedItemCount is the number of migrations applied
	MigratedItemCount int   `json:"migratedItemCount"`
	State             State `json:"state"`
}

// Config for a migration manager
type Config struct {
	// TargetVersion is the data version this build expects
	TargetVersion string
	// BaselineVersion is assumed when no valid version is stored
	BaselineVersion string
	// VersionKey is the logical key holding the stored data version
	VersionKey string
	// BackupPrefix starts every backup id. Backups are stored under
	// BackupPrefix + the namespace prefix, one location per namespace.
	BackupPrefix string
}

// DefaultConfig returns the configuration for the built-in migrations
func DefaultConfig() Config {
	return Config{
		TargetVersion:   "1.1.0",
		BaselineVersion: "1.0.0",
		VersionKey:      schema.KeyDataVersion,
		BackupPrefix:    "backup_",
	}
}

// Manager runs migrations and manages backups for one storage namespace
type Manager struct {
	store      *storage.Manager
	cfg        Config
	migrations []Migration
	checks     []RepairCheck
	log        *logrus.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithMigrations replaces the migration chain
func WithMigrations(migrations ...Migration) Option {
	return func(m *Manager) { m.migrations = migrations }
}

// WithRepairChecks replaces the checks run by ValidateAndRepair
func WithRepairChecks(checks ...RepairCheck) Option {
	return func(m *Manager) { m.checks = checks }
}

// WithLogger sets the logger
func WithLogger(log *logrus.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics enables Prometheus metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer sets the tracer used for operation spans
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) { m.tracer = tracer }
}

// WithClock sets the time source used for backup timestamps and ids
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a migration manager over store. Unless replaced by options it
// uses DefaultMigrations and checks derived from the store's schema registry.
func New(store *storage.Manager, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("storage manager is required")
	}
	defaults := DefaultConfig()
	if cfg.TargetVersion == "" {
		cfg.TargetVersion = defaults.TargetVersion
	}
	if cfg.BaselineVersion == "" {
		cfg.BaselineVersion = defaults.BaselineVersion
	}
	if cfg.VersionKey == "" {
		cfg.VersionKey = defaults.VersionKey
	}
	if cfg.BackupPrefix == "" {
		cfg.BackupPrefix = defaults.BackupPrefix
	}
	if err := storage.ValidatePrefix(cfg.BackupPrefix); err != nil {
		return nil, fmt.Errorf("backup prefix: %w", err)
	}
	if p := store.Prefix(); strings.HasPrefix(cfg.BackupPrefix, p) || strings.HasPrefix(p, cfg.BackupPrefix) {
		return nil, fmt.Errorf("backup prefix %q overlaps namespace prefix %q", cfg.BackupPrefix, p)
	}

	m := &Manager{
		store:      store,
		cfg:        cfg,
		migrations: DefaultMigrations(),
		now:        store.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logrus.New()
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer("keepsake/migration")
	}
	if m.checks == nil {
		m.checks = SchemaChecks(store.Registry())
	}

	sort.SliceStable(m.migrations, func(i, j int) bool {
		return CompareVersions(m.migrations[i].Version, m.migrations[j].Version) < 0
	})
	return m, nil
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.cfg
}

// StoredVersion returns the persisted data version and whether one was found.
// A missing or non-string value reports the baseline version and false.
func (m *Manager) StoredVersion(ctx context.Context) (string, bool) {
	raw, ok := m.store.GetRaw(ctx, m.cfg.VersionKey)
	if !ok {
		return m.cfg.BaselineVersion, false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil || strings.TrimSpace(v) == "" {
		m.log.WithField("key", m.cfg.VersionKey).Warn("stored data version has unexpected shape, assuming baseline")
		return m.cfg.BaselineVersion, false
	}
	return v, true
}

// pending returns the migrations newer than stored and not newer than the
// target, ascending. A missing version is treated as the baseline, so the
// baseline migration itself never runs.
func (m *Manager) pending(stored string) []Migration {
	var out []Migration
	for _, mig := range m.migrations {
		if CompareVersions(mig.Version, m.cfg.TargetVersion) > 0 {
			continue
		}
		if CompareVersions(mig.Version, stored) <= 0 {
			continue
		}
		out = append(out, mig)
	}
	return out
}

// MigrateIfNeeded runs the migrations between the stored and target
// versions. If any migration fails the chain stops, the stored version is
// left unchanged and a *MigrationError is returned together with a Result in
// StateFailed.
func (m *Manager) MigrateIfNeeded(ctx context.Context) (*Result, error) {
	ctx, span := m.tracer.Start(ctx, "MigrateIfNeeded",
		trace.WithAttributes(attribute.String("target_version", m.cfg.TargetVersion)),
	)
	defer span.End()

	stored, found := m.StoredVersion(ctx)
	res := &Result{FromVersion: stored, ToVersion: stored, State: StateUpToDate}
	span.SetAttributes(attribute.String("stored_version", stored))

	span.SetAttributes(attribute.Bool("stored_version_found", found))

	if CompareVersions(stored, m.cfg.TargetVersion) >= 0 {
		span.SetStatus(codes.Ok, "up to date")
		return res, nil
	}

	log := m.log.WithFields(logrus.Fields{"from": stored, "to": m.cfg.TargetVersion})
	log.Info("migrating stored data")
	res.State = StateMigrating

	fail := func(version string, err error) (*Result, error) {
		merr := &MigrationError{Version: version, Err: err}
		res.State = StateFailed
		span.RecordError(merr)
		span.SetStatus(codes.Error, "migration failed")
		log.WithField("version", version).WithError(err).Error("migration failed, stored version unchanged")
		return res, merr
	}

	for _, mig := range m.pending(stored) {
		_, mspan := m.tracer.Start(ctx, "Migration",
			trace.WithAttributes(attribute.String("version", mig.Version)),
		)
		err := mig.Migrate(ctx, m.store)
		m.metrics.Migration(mig.Version, err)
		if err != nil {
			mspan.RecordError(err)
			mspan.End()
			return fail(mig.Version, err)
		}
		mspan.End()
		res.MigratedItemCount++
		log.WithField("version", mig.Version).WithField("description", mig.Description).Info("migration applied")
	}

	// Everything the chain wrote must be durable before the version moves.
	if err := m.store.Flush(ctx); err != nil {
		return fail(m.cfg.TargetVersion, fmt.Errorf("failed to persist migrated data: %w", err))
	}
	if err := m.store.Set(ctx, m.cfg.VersionKey, m.cfg.TargetVersion, storage.WithDebounce(false)); err != nil {
		return fail(m.cfg.TargetVersion, fmt.Errorf("failed to record data version: %w", err))
	}

	res.Migrated = true
	res.ToVersion = m.cfg.TargetVersion
	res.State = StateMigrated
	span.SetStatus(codes.Ok, "migrated")
	log.WithField("migrations", res.MigratedItemCount).Info("stored data migrated")
	return res, nil
}
