package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// QuotaBackend wraps a Backend and rejects writes that would push the total
// stored size (keys plus values) over maxBytes.
type QuotaBackend struct {
	Backend
	maxBytes int64
	mu       sync.Mutex
}

// WithQuota wraps b with a capacity ceiling of maxBytes
func WithQuota(b Backend, maxBytes int64) *QuotaBackend {
	return &QuotaBackend{Backend: b, maxBytes: maxBytes}
}

// MaxBytes returns the configured ceiling
func (q *QuotaBackend) MaxBytes() int64 {
	return q.maxBytes
}

// Put implements Backend.Put
func (q *QuotaBackend) Put(ctx context.Context, key string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	used, err := q.usageExcluding(ctx, key)
	if err != nil {
		return err
	}
	if used+int64(len(key)+len(data)) > q.maxBytes {
		return fmt.Errorf("put %q (%d bytes, %d of %d used): %w", key, len(data), used, q.maxBytes, ErrQuotaExceeded)
	}
	return q.Backend.Put(ctx, key, data)
}

// Usage returns the number of bytes currently stored
func (q *QuotaBackend) Usage(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.usageExcluding(ctx, "")
}

func (q *QuotaBackend) usageExcluding(ctx context.Context, skip string) (int64, error) {
	keys, err := q.Backend.Keys(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to measure usage: %w", err)
	}
	var used int64
	for _, k := range keys {
		if k == skip {
			continue
		}
		data, err := q.Backend.Get(ctx, k)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return 0, fmt.Errorf("failed to measure usage: %w", err)
		}
		used += int64(len(k) + len(data))
	}
	return used, nil
}
