package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keepsake/pkg/config"
	"github.com/platinummonkey/keepsake/pkg/migration"
	"github.com/platinummonkey/keepsake/pkg/observability"
	"github.com/platinummonkey/keepsake/pkg/storage"
)

// session is an opened store plus its migration manager
type session struct {
	cfg        *config.Config
	log        *logrus.Logger
	store      *storage.Manager
	migrations *migration.Manager
}

// openSession loads the configuration, opens the backend and constructs the
// managers. metrics may be nil.
func openSession(env *Env, metrics *observability.Metrics) (*session, error) {
	load := env.LoadConfig
	if load == nil {
		load = config.Load
	}
	cfg, err := load(env.ConfigFile)
	if err != nil {
		return nil, err
	}

	log := env.Logger
	if log == nil {
		log = observability.NewLogger(cfg.Observability.LogLevel, env.Err)
	}

	backend, err := storage.OpenBackend(env.Ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Storage.Backend, err)
	}

	store, err := storage.New(backend, cfg.Storage,
		storage.WithLogger(log),
		storage.WithMetrics(metrics),
	)
	if err != nil {
		backend.Close()
		return nil, err
	}

	migrations, err := migration.New(store, cfg.Migration,
		migration.WithLogger(log),
		migration.WithMetrics(metrics),
		migration.WithTracer(observability.Tracer()),
	)
	if err != nil {
		store.Close(env.Ctx)
		return nil, err
	}

	return &session{cfg: cfg, log: log, store: store, migrations: migrations}, nil
}

// Close flushes pending writes and closes the backend
func (s *session) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}

// withSession runs fn against an opened session and closes it afterwards
func withSession(env *Env, fn func(s *session) error) (err error) {
	s, err := openSession(env, nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(env.Ctx); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close store: %w", cerr)
		}
	}()
	return fn(s)
}

// migrateWithBackup snapshots the store before running pending migrations
// on existing data
func (s *session) migrateWithBackup(ctx context.Context, backup bool) (*migration.Result, string, error) {
	var backupID string
	if stored, found := s.migrations.StoredVersion(ctx); backup && found &&
		migration.CompareVersions(stored, s.cfg.Migration.TargetVersion) < 0 {
		id, err := s.migrations.CreateBackup(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("pre-migration backup failed: %w", err)
		}
		s.log.WithField("backup", id).Info("Created pre-migration backup")
		backupID = id
	}
	res, err := s.migrations.MigrateIfNeeded(ctx)
	return res, backupID, err
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
