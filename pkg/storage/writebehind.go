package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// pendingWrite is a record waiting to be persisted. There is at most one per
// physical key; a newer Set replaces it and stops its timer.
type pendingWrite struct {
	key     string
	value   json.RawMessage
	data    []byte
	timer   Timer
	batched bool
}

// BatchItem is one entry of a BatchSet call
type BatchItem struct {
	Key      string
	Value    any
	Validate *bool // nil means validate
}

func (m *Manager) scheduleLocked(phys string, value json.RawMessage, data []byte) {
	m.cancelPendingLocked(phys)
	pw := &pendingWrite{key: phys, value: value, data: data}
	pw.timer = m.sched.AfterFunc(m.cfg.DebounceDelay, func() { m.firePending(pw) })
	m.pending[phys] = pw
	m.metrics.SetPendingWrites(len(m.pending))
}

func (m *Manager) cancelPendingLocked(phys string) {
	pw, ok := m.pending[phys]
	if !ok {
		return
	}
	if pw.timer != nil {
		pw.timer.Stop()
	}
	delete(m.pending, phys)
	m.metrics.SetPendingWrites(len(m.pending))
}

// firePending persists pw unless it was superseded or flushed meanwhile
func (m *Manager) firePending(pw *pendingWrite) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending[pw.key] != pw {
		return
	}
	delete(m.pending, pw.key)
	m.metrics.SetPendingWrites(len(m.pending))

	if err := m.writeLocked(context.Background(), pw.key, pw.data); err != nil {
		m.recordFailedWriteLocked(err)
		m.log.WithField("key", pw.key).WithError(err).Error("debounced write failed")
	}
}

// recordFailedWriteLocked keeps the outcome of a timer-driven write that no
// caller is waiting for, so Stats can report it.
func (m *Manager) recordFailedWriteLocked(err error) {
	m.failedWrites++
	m.lastWriteErr = err
}

// BatchSet applies each item like Set, updating the cache immediately, but
// all resulting writes share a single flush timer. The returned slice holds
// one entry per item: nil on success or the item's validation/encoding error.
func (m *Manager) BatchSet(ctx context.Context, items []BatchItem) []error {
	errs := make([]error, len(items))
	type prepared struct {
		key  string
		raw  json.RawMessage
		data []byte
	}
	ready := make([]prepared, 0, len(items))

	now := m.now()
	for i, item := range items {
		raw, err := encodeValue(item.Value)
		if err != nil {
			errs[i] = fmt.Errorf("failed to encode %q: %w", item.Key, err)
			continue
		}
		if item.Validate == nil || *item.Validate {
			if err := m.registry.ValidateJSON(item.Key, raw); err != nil {
				m.metrics.StorageError("batch_set", "schema")
				errs[i] = err
				continue
			}
		}
		data, err := encodeRecord(raw, now, m.cfg.SchemaVersion)
		if err != nil {
			errs[i] = fmt.Errorf("failed to encode record %q: %w", item.Key, err)
			continue
		}
		ready = append(ready, prepared{key: item.Key, raw: raw, data: data})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		for i := range errs {
			if errs[i] == nil {
				errs[i] = ErrClosed
			}
		}
		return errs
	}

	for _, p := range ready {
		m.cacheAddLocked(p.key, p.raw)
		phys := m.physicalKey(p.key)
		m.cancelPendingLocked(phys)
		m.pending[phys] = &pendingWrite{key: phys, value: p.raw, data: p.data, batched: true}
	}
	m.metrics.SetPendingWrites(len(m.pending))

	if len(ready) > 0 && m.batchTimer == nil {
		m.batchGen++
		gen := m.batchGen
		m.batchTimer = m.sched.AfterFunc(m.cfg.DebounceDelay, func() { m.fireBatch(gen) })
	}
	return errs
}

func (m *Manager) fireBatch(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.batchGen || m.batchTimer == nil {
		return
	}
	m.batchTimer = nil

	if err := m.flushLocked(context.Background(), true); err != nil {
		m.recordFailedWriteLocked(err)
		m.log.WithError(err).Error("batched write failed")
	}
}

// Flush synchronously persists every pending write
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.batchTimer != nil {
		m.batchTimer.Stop()
		m.batchTimer = nil
		m.batchGen++
	}
	return m.flushLocked(ctx, false)
}

// flushLocked writes pending entries in key order. When batchedOnly is set
// only entries queued by BatchSet are written.
func (m *Manager) flushLocked(ctx context.Context, batchedOnly bool) error {
	keys := make([]string, 0, len(m.pending))
	for k, pw := range m.pending {
		if batchedOnly && !pw.batched {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		pw := m.pending[k]
		if pw.timer != nil {
			pw.timer.Stop()
		}
		delete(m.pending, k)
		if err := m.writeLocked(ctx, k, pw.data); err != nil {
			errs = append(errs, err)
		}
	}
	m.metrics.SetPendingWrites(len(m.pending))
	return errors.Join(errs...)
}

// dropPendingLocked discards every pending write without persisting it
func (m *Manager) dropPendingLocked() {
	for k, pw := range m.pending {
		if pw.timer != nil {
			pw.timer.Stop()
		}
		delete(m.pending, k)
	}
	if m.batchTimer != nil {
		m.batchTimer.Stop()
		m.batchTimer = nil
		m.batchGen++
	}
	m.metrics.SetPendingWrites(0)
}

// writeLocked persists data under phys. An exhausted quota triggers one
// cleanup pass followed by a single retry; access failures are never retried.
func (m *Manager) writeLocked(ctx context.Context, phys string, data []byte) error {
	err := m.backend.Put(ctx, phys, data)
	m.metrics.StorageOp("put", err)
	if err == nil {
		return nil
	}

	log := m.log.WithField("key", phys)
	m.metrics.StorageError("put", classify(err))

	switch {
	case errors.Is(err, ErrQuotaExceeded):
		log.WithError(err).Warn("storage quota exceeded, running cleanup before retry")
		m.metrics.QuotaRecovery()
		removed, cerr := m.cleanupLocked(ctx, m.cfg.QuotaCleanupAge)
		if cerr != nil {
			log.WithError(cerr).Warn("quota cleanup incomplete")
		}
		log.WithField("removed", removed).Info("quota cleanup finished")

		retryErr := m.backend.Put(ctx, phys, data)
		m.metrics.StorageOp("put", retryErr)
		if retryErr != nil {
			log.WithError(retryErr).Error("write failed after quota cleanup")
			return fmt.Errorf("failed to write %q after quota cleanup: %w", phys, retryErr)
		}
		return nil

	case errors.Is(err, ErrAccessDenied):
		log.WithError(err).Error("storage is not accessible")
		return fmt.Errorf("failed to write %q: %w", phys, err)

	default:
		log.WithError(err).Error("write failed")
		return fmt.Errorf("failed to write %q: %w", phys, err)
	}
}
