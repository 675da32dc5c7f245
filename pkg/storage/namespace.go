package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// NamespaceSeparator ends every namespace prefix
const NamespaceSeparator = "_"

// ValidatePrefix checks that prefix is a non-empty name followed by
// NamespaceSeparator, with no other separator in the name. Two valid prefixes
// are either equal or neither is a prefix of the other, so namespaces sharing
// a backend never see each other's records.
func ValidatePrefix(prefix string) error {
	name, ok := strings.CutSuffix(prefix, NamespaceSeparator)
	if !ok || name == "" || strings.Contains(name, NamespaceSeparator) {
		return fmt.Errorf("%w %q: want a name without %q followed by %q",
			ErrInvalidPrefix, prefix, NamespaceSeparator, NamespaceSeparator)
	}
	return nil
}

// UsageReport describes how much of the quota the namespace uses
type UsageReport struct {
	UsedBytes      int64   `json:"usedBytes"`
	AvailableBytes int64   `json:"availableBytes"`
	Percentage     float64 `json:"percentage"`
}

// Stats summarises the manager's state
type Stats struct {
	TotalKeys       int         `json:"totalKeys"`
	CacheEntries    int         `json:"cacheEntries"`
	MaxCacheEntries int         `json:"maxCacheEntries"`
	PendingWrites   int         `json:"pendingWrites"`
	CacheHits       int64       `json:"cacheHits"`
	CacheMisses     int64       `json:"cacheMisses"`
	CacheEvictions  int64       `json:"cacheEvictions"`
	Usage           UsageReport `json:"usage"`

	// FailedWrites counts debounced or batched writes that were dropped
	// because the backend rejected them, retry included. The cache may
	// still hold their values until the process restarts.
	FailedWrites   int64  `json:"failedWrites"`
	LastWriteError string `json:"lastWriteError,omitempty"`
}

// Cleanup removes records in the namespace that cannot be parsed, and
// records last written before now-maxAge. Keys listed in Config.PinnedKeys
// (dataVersion by default) are exempt from the age check, so an old pinned
// record survives and is only removed when unparsable. It returns the number
// of records removed.
func (m *Manager) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupLocked(ctx, maxAge)
}

func (m *Manager) cleanupLocked(ctx context.Context, maxAge time.Duration) (int, error) {
	keys, err := m.backend.Keys(ctx, m.cfg.Prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list records: %w", err)
	}

	cutoff := m.now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, phys := range keys {
		key := m.logicalKey(phys)
		data, err := m.backend.Get(ctx, phys)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				errs = append(errs, err)
			}
			continue
		}

		reason := ""
		if rec, err := decodeRecord(data); err != nil {
			reason = "unparsable"
		} else if rec.LastAccessed.Before(cutoff) && !slices.Contains(m.cfg.PinnedKeys, key) {
			reason = "expired"
		}
		if reason == "" {
			continue
		}

		if err := m.backend.Delete(ctx, phys); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %q: %w", phys, err))
			continue
		}
		m.cache.remove(key)
		removed++
		m.log.WithField("key", key).WithField("reason", reason).Debug("cleanup removed record")
	}

	m.metrics.RecordsCleaned(removed)
	return removed, errors.Join(errs...)
}

// ClearAll drops every pending write, empties the cache and deletes every
// record in the namespace. It returns the number of records deleted.
func (m *Manager) ClearAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearAllLocked(ctx)
}

func (m *Manager) clearAllLocked(ctx context.Context) (int, error) {
	m.dropPendingLocked()
	m.cache.purge()

	keys, err := m.backend.Keys(ctx, m.cfg.Prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list records: %w", err)
	}
	cleared := 0
	var errs []error
	for _, phys := range keys {
		if err := m.backend.Delete(ctx, phys); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %q: %w", phys, err))
			continue
		}
		cleared++
	}
	m.metrics.StorageOp("clear_all", errors.Join(errs...))
	return cleared, errors.Join(errs...)
}

// ReplaceAll deletes every record in the namespace and then writes values,
// bypassing schema validation. Nothing from before the call survives.
func (m *Manager) ReplaceAll(ctx context.Context, values map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, err := m.clearAllLocked(ctx); err != nil {
		return err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := m.now()
	var errs []error
	for _, key := range keys {
		raw := values[key]
		data, err := encodeRecord(raw, now, m.cfg.SchemaVersion)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to encode record %q: %w", key, err))
			continue
		}
		if err := m.writeLocked(ctx, m.physicalKey(key), data); err != nil {
			errs = append(errs, err)
			continue
		}
		m.cacheAddLocked(key, raw)
	}
	return errors.Join(errs...)
}

// AllKeys returns the logical keys of persisted and pending records
func (m *Manager) AllKeys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, err := m.backend.Keys(ctx, m.cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	seen := make(map[string]struct{}, len(keys)+len(m.pending))
	out := make([]string, 0, len(keys)+len(m.pending))
	for _, phys := range keys {
		key := m.logicalKey(phys)
		seen[key] = struct{}{}
		out = append(out, key)
	}
	for phys := range m.pending {
		key := m.logicalKey(phys)
		if _, ok := seen[key]; !ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Snapshot flushes pending writes and returns the logical value of every
// parsable record in the namespace. Unparsable records are skipped.
func (m *Manager) Snapshot(ctx context.Context) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.batchTimer != nil {
		m.batchTimer.Stop()
		m.batchTimer = nil
		m.batchGen++
	}
	if err := m.flushLocked(ctx, false); err != nil {
		return nil, fmt.Errorf("failed to flush before snapshot: %w", err)
	}

	keys, err := m.backend.Keys(ctx, m.cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	out := make(map[string]json.RawMessage, len(keys))
	for _, phys := range keys {
		data, err := m.backend.Get(ctx, phys)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to read %q: %w", phys, err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			m.log.WithField("key", phys).WithError(err).Warn("snapshot skipped unparsable record")
			continue
		}
		out[m.logicalKey(phys)] = rec.Value
	}
	return out, nil
}

// StorageUsage reports the bytes used by the namespace against the quota
func (m *Manager) StorageUsage(ctx context.Context) (UsageReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usageLocked(ctx)
}

func (m *Manager) usageLocked(ctx context.Context) (UsageReport, error) {
	keys, err := m.backend.Keys(ctx, m.cfg.Prefix)
	if err != nil {
		return UsageReport{}, fmt.Errorf("failed to list records: %w", err)
	}
	var used int64
	for _, phys := range keys {
		data, err := m.backend.Get(ctx, phys)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return UsageReport{}, fmt.Errorf("failed to read %q: %w", phys, err)
		}
		used += int64(len(phys) + len(data))
	}

	report := UsageReport{UsedBytes: used}
	if quota := m.cfg.QuotaBytes; quota > 0 {
		report.AvailableBytes = max(quota-used, 0)
		report.Percentage = float64(used) / float64(quota) * 100
	}
	m.metrics.SetStorageUsed(used)
	return report, nil
}

// Stats reports cache, pending write and usage figures
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage, err := m.usageLocked(ctx)
	if err != nil {
		return Stats{}, err
	}
	keys, err := m.backend.Keys(ctx, m.cfg.Prefix)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list records: %w", err)
	}
	lastErr := ""
	if m.lastWriteErr != nil {
		lastErr = m.lastWriteErr.Error()
	}
	return Stats{
		FailedWrites:    m.failedWrites,
		LastWriteError:  lastErr,
		TotalKeys:       len(keys),
		CacheEntries:    m.cache.len(),
		MaxCacheEntries: m.cache.size,
		PendingWrites:   len(m.pending),
		CacheHits:       m.cache.metrics.hits.Load(),
		CacheMisses:     m.cache.metrics.misses.Load(),
		CacheEvictions:  m.cache.metrics.evictions.Load(),
		Usage:           usage,
	}, nil
}
