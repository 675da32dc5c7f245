package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/keepsake/pkg/storage"
)

const listConcurrency = 8

// Backup is the stored snapshot of a namespace
type Backup struct {
	Version   string                     `json:"version"`
	Timestamp time.Time                  `json:"timestamp"`
	Data      map[string]json.RawMessage `json:"data"`
}

// BackupInfo summarises a stored backup
type BackupInfo struct {
	ID        string    `json:"id"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Keys      int       `json:"keys"`
	SizeBytes int       `json:"sizeBytes"`
}

// backupLocation is the backend key prefix holding this namespace's backups.
// It joins the backup prefix and the namespace prefix, so stores sharing a
// backend never list, prune or restore each other's backups.
func (m *Manager) backupLocation() string {
	return m.cfg.BackupPrefix + m.store.Prefix()
}

// backupKey maps a backup id (backup prefix + epoch millis) to its backend key
func (m *Manager) backupKey(id string) (string, bool) {
	millis, ok := strings.CutPrefix(id, m.cfg.BackupPrefix)
	if !ok || millis == "" {
		return "", false
	}
	if _, err := strconv.ParseUint(millis, 10, 64); err != nil {
		return "", false
	}
	return m.backupLocation() + millis, true
}

func (m *Manager) backupID(key string) string {
	return m.cfg.BackupPrefix + strings.TrimPrefix(key, m.backupLocation())
}

// CreateBackup flushes pending writes and stores a snapshot of every
// parsable record in the namespace. It returns the new backup id.
func (m *Manager) CreateBackup(ctx context.Context) (string, error) {
	ctx, span := m.tracer.Start(ctx, "CreateBackup")
	defer span.End()

	id, err := m.createBackup(ctx)
	m.metrics.BackupOp("create", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "backup failed")
		return "", &BackupError{Op: "create", Err: err}
	}
	span.SetAttributes(attribute.String("backup_id", id))
	return id, nil
}

func (m *Manager) createBackup(ctx context.Context) (string, error) {
	data, err := m.store.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	version, _ := m.StoredVersion(ctx)

	now := m.now().UTC()
	payload, err := json.Marshal(Backup{Version: version, Timestamp: now, Data: data})
	if err != nil {
		return "", fmt.Errorf("failed to encode backup: %w", err)
	}

	backend := m.store.Backend()
	key := ""
	for millis := now.UnixMilli(); ; millis++ {
		candidate := m.backupLocation() + strconv.FormatInt(millis, 10)
		_, err := backend.Get(ctx, candidate)
		if errors.Is(err, storage.ErrNotFound) {
			key = candidate
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to check backup id: %w", err)
		}
	}

	id := m.backupID(key)
	if err := backend.Put(ctx, key, payload); err != nil {
		return "", fmt.Errorf("failed to store backup: %w", err)
	}
	m.log.WithField("backup_id", id).WithField("keys", len(data)).Info("backup created")
	return id, nil
}

// LoadBackup reads a backup by id
func (m *Manager) LoadBackup(ctx context.Context, id string) (*Backup, error) {
	key, ok := m.backupKey(id)
	if !ok {
		return nil, ErrBackupNotFound
	}
	data, err := m.store.Backend().Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrBackupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorruptRecord, err)
	}
	return &b, nil
}

// RestoreBackup replaces every record in the namespace with the contents of
// backup id and sets the stored data version to the backup's version.
// Unknown ids fail with ErrBackupNotFound before anything is changed.
func (m *Manager) RestoreBackup(ctx context.Context, id string) error {
	ctx, span := m.tracer.Start(ctx, "RestoreBackup",
		trace.WithAttributes(attribute.String("backup_id", id)),
	)
	defer span.End()

	err := m.restoreBackup(ctx, id)
	m.metrics.BackupOp("restore", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "restore failed")
		return &BackupError{Op: "restore", ID: id, Err: err}
	}
	return nil
}

func (m *Manager) restoreBackup(ctx context.Context, id string) error {
	b, err := m.LoadBackup(ctx, id)
	if err != nil {
		return err
	}

	if err := m.store.ReplaceAll(ctx, b.Data); err != nil {
		return fmt.Errorf("failed to write restored records: %w", err)
	}
	version := b.Version
	if version == "" {
		version = m.cfg.BaselineVersion
	}
	if err := m.store.Set(ctx, m.cfg.VersionKey, version, storage.WithDebounce(false), storage.WithValidation(false)); err != nil {
		return fmt.Errorf("failed to record data version: %w", err)
	}
	m.log.WithField("backup_id", id).WithField("keys", len(b.Data)).Info("backup restored")
	return nil
}

// ListBackups returns every readable backup, newest first
func (m *Manager) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	ctx, span := m.tracer.Start(ctx, "ListBackups")
	defer span.End()

	keys, err := m.store.Backend().Keys(ctx, m.backupLocation())
	if err != nil {
		span.RecordError(err)
		return nil, &BackupError{Op: "list", Err: err}
	}

	infos := make([]*BackupInfo, len(keys))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(listConcurrency)
	for i, key := range keys {
		i, key := i, key
		id := m.backupID(key)
		if _, ok := m.backupKey(id); !ok {
			continue
		}
		eg.Go(func() error {
			data, err := m.store.Backend().Get(egCtx, key)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read backup %s: %w", id, err)
			}
			var b Backup
			if err := json.Unmarshal(data, &b); err != nil {
				m.log.WithField("backup_id", id).WithError(err).Warn("skipping unreadable backup")
				return nil
			}
			infos[i] = &BackupInfo{
				ID:        id,
				Version:   b.Version,
				Timestamp: b.Timestamp,
				Keys:      len(b.Data),
				SizeBytes: len(data),
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		return nil, &BackupError{Op: "list", Err: err}
	}

	out := make([]BackupInfo, 0, len(infos))
	for _, info := range infos {
		if info != nil {
			out = append(out, *info)
		}
	}
	sortNewestFirst(out)
	span.SetAttributes(attribute.Int("backups", len(out)))
	return out, nil
}

func sortNewestFirst(infos []BackupInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].Timestamp.Equal(infos[j].Timestamp) {
			return infos[i].Timestamp.After(infos[j].Timestamp)
		}
		return idMillis(infos[i].ID) > idMillis(infos[j].ID)
	})
}

func idMillis(id string) int64 {
	i := strings.LastIndexByte(id, '_')
	v, _ := strconv.ParseInt(id[i+1:], 10, 64)
	return v
}

// DeleteBackup removes backup id
func (m *Manager) DeleteBackup(ctx context.Context, id string) error {
	ctx, span := m.tracer.Start(ctx, "DeleteBackup",
		trace.WithAttributes(attribute.String("backup_id", id)),
	)
	defer span.End()

	err := m.deleteBackup(ctx, id)
	m.metrics.BackupOp("delete", err)
	if err != nil {
		span.RecordError(err)
		return &BackupError{Op: "delete", ID: id, Err: err}
	}
	return nil
}

func (m *Manager) deleteBackup(ctx context.Context, id string) error {
	key, ok := m.backupKey(id)
	if !ok {
		return ErrBackupNotFound
	}
	backend := m.store.Backend()
	if _, err := backend.Get(ctx, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrBackupNotFound
		}
		return err
	}
	return backend.Delete(ctx, key)
}

// CleanupOldBackups keeps the maxCount most recent backups and deletes the
// rest. It returns the number deleted.
func (m *Manager) CleanupOldBackups(ctx context.Context, maxCount int) (int, error) {
	if maxCount < 0 {
		return 0, fmt.Errorf("maxCount must not be negative, got %d", maxCount)
	}
	ctx, span := m.tracer.Start(ctx, "CleanupOldBackups",
		trace.WithAttributes(attribute.Int("max_count", maxCount)),
	)
	defer span.End()

	infos, err := m.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(infos) <= maxCount {
		return 0, nil
	}

	deleted := 0
	var errs []error
	for _, info := range infos[maxCount:] {
		key, _ := m.backupKey(info.ID)
		if err := m.store.Backend().Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", info.ID, err))
			continue
		}
		deleted++
	}
	err = errors.Join(errs...)
	m.metrics.BackupOp("prune", err)
	if err != nil {
		span.RecordError(err)
		return deleted, &BackupError{Op: "prune", Err: err}
	}
	m.log.WithField("deleted", deleted).WithField("kept", maxCount).Info("old backups removed")
	return deleted, nil
}
