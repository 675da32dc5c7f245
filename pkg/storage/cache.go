package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// valueCache holds decoded logical values. Reads use Peek so lookups never
// refresh recency: the entry evicted when full is always the one inserted
// (or last overwritten) longest ago.
type valueCache struct {
	lru     *lru.Cache[string, json.RawMessage]
	size    int
	metrics *cacheMetrics
}

func newValueCache(size int) (*valueCache, error) {
	c, err := lru.New[string, json.RawMessage](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &valueCache{lru: c, size: size, metrics: &cacheMetrics{}}, nil
}

func (c *valueCache) get(key string) (json.RawMessage, bool) {
	v, ok := c.lru.Peek(key)
	if !ok {
		c.metrics.misses.Add(1)
		return nil, false
	}
	c.metrics.hits.Add(1)
	return bytes.Clone(v), true
}

// add stores value and reports whether an older entry was evicted
func (c *valueCache) add(key string, value json.RawMessage) bool {
	// Remove first so an overwrite counts as a fresh insertion.
	c.lru.Remove(key)
	evicted := c.lru.Add(key, bytes.Clone(value))
	if evicted {
		c.metrics.evictions.Add(1)
	}
	return evicted
}

func (c *valueCache) remove(key string) {
	c.lru.Remove(key)
}

func (c *valueCache) purge() {
	c.lru.Purge()
}

func (c *valueCache) len() int {
	return c.lru.Len()
}

func (c *valueCache) keys() []string {
	return c.lru.Keys()
}

// cacheMetrics tracks cache counters
type cacheMetrics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}
