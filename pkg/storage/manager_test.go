package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/keepsake/pkg/observability"
	"github.com/platinummonkey/keepsake/pkg/schema"
)

const testDelay = 500 * time.Millisecond

// recordingBackend counts writes per key and can inject write failures
type recordingBackend struct {
	Backend
	puts   map[string]int
	putErr func(key string, attempt int) error
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{Backend: NewMemoryBackend(), puts: make(map[string]int)}
}

func (b *recordingBackend) Put(ctx context.Context, key string, data []byte) error {
	b.puts[key]++
	if b.putErr != nil {
		if err := b.putErr(key, b.puts[key]); err != nil {
			return err
		}
	}
	return b.Backend.Put(ctx, key, data)
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type managerFixture struct {
	mgr     *Manager
	backend *recordingBackend
	sched   *ManualScheduler
	clock   *testClock
}

func newManagerFixture(t *testing.T, mutate ...func(*Config)) *managerFixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Backend = BackendMemory
	cfg.DebounceDelay = testDelay
	for _, fn := range mutate {
		fn(&cfg)
	}

	f := &managerFixture{
		backend: newRecordingBackend(),
		sched:   NewManualScheduler(),
		clock:   &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	mgr, err := New(f.backend, cfg,
		WithScheduler(f.sched),
		WithClock(f.clock.Now),
		WithLogger(observability.Discard()),
	)
	require.NoError(t, err)
	f.mgr = mgr
	return f
}

func (f *managerFixture) storedValue(t *testing.T, key string) json.RawMessage {
	t.Helper()
	rec, err := f.mgr.ReadRecord(context.Background(), key)
	require.NoError(t, err)
	return rec.Value
}

func TestNew_RequiresBackend(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestManager_SetThenGetBeforeWrite(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mgr.Set(ctx, "profile", map[string]any{"name": "ada"}))

	got := Get(ctx, f.mgr, "profile", map[string]any{})
	assert.Equal(t, "ada", got["name"])
	assert.Zero(t, f.backend.puts["keepsake_profile"], "write should still be pending")
	assert.Equal(t, 1, f.sched.Pending())
}

func TestManager_DebounceCollapsesWrites(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, f.mgr.Set(ctx, "counter", i))
		f.sched.Advance(testDelay / 10)
	}
	assert.Zero(t, f.backend.puts["keepsake_counter"])

	f.sched.Advance(testDelay)
	assert.Equal(t, 1, f.backend.puts["keepsake_counter"])
	assert.JSONEq(t, `5`, string(f.storedValue(t, "counter")))
	assert.Zero(t, f.sched.Pending())
}

func TestManager_SetWithoutDebounceWritesImmediately(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mgr.Set(ctx, "counter", 1))
	require.NoError(t, f.mgr.Set(ctx, "counter", 2, WithDebounce(false)))

	assert.Equal(t, 1, f.backend.puts["keepsake_counter"])
	assert.JSONEq(t, `2`, string(f.storedValue(t, "counter")))

	// The superseded debounced write must not fire later.
	f.sched.Advance(testDelay)
	assert.Equal(t, 1, f.backend.puts["keepsake_counter"])
}

func TestManager_RecordEnvelope(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	value := map[string]any{"name": "ada", "lastAccessed": "mine", "schemaVersion": "mine"}
	require.NoError(t, f.mgr.Set(ctx, schema.KeyPlayerProfile, value, WithDebounce(false)))

	rec, err := f.mgr.ReadRecord(ctx, schema.KeyPlayerProfile)
	require.NoError(t, err)
	assert.Equal(t, f.clock.now, rec.LastAccessed)
	assert.Equal(t, "1.1.0", rec.SchemaVersion)

	got := Get(ctx, f.mgr, schema.KeyPlayerProfile, map[string]any{})
	assert.Equal(t, "mine", got["lastAccessed"])
	assert.Equal(t, "mine", got["schemaVersion"])
}

func TestManager_GetReturnsDefault(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	t.Run("absent", func(t *testing.T) {
		assert.Equal(t, 42, Get(ctx, f.mgr, "missing", 42))
	})

	t.Run("corrupt record", func(t *testing.T) {
		require.NoError(t, f.backend.Backend.Put(ctx, "keepsake_bad", []byte("{not json")))
		assert.Equal(t, 42, Get(ctx, f.mgr, "bad", 42))

		// Left in place for cleanup.
		_, err := f.backend.Backend.Get(ctx, "keepsake_bad")
		assert.NoError(t, err)
	})

	t.Run("schema invalid record", func(t *testing.T) {
		data, err := encodeRecord(json.RawMessage(`[1,2]`), f.clock.now, "1.1.0")
		require.NoError(t, err)
		require.NoError(t, f.backend.Backend.Put(ctx, "keepsake_gameStats", data))

		def := map[string]any{"gamesPlayed": float64(0)}
		assert.Equal(t, def, Get(ctx, f.mgr, schema.KeyGameStats, def))
	})

	t.Run("wrong type", func(t *testing.T) {
		require.NoError(t, f.mgr.Set(ctx, "word", "hello"))
		assert.Equal(t, 7, Get(ctx, f.mgr, "word", 7))
	})
}

func TestManager_SetValidationFailureChangesNothing(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	valid := map[string]any{"gamesPlayed": float64(3)}
	require.NoError(t, f.mgr.Set(ctx, schema.KeyGameStats, valid, WithDebounce(false)))

	err := f.mgr.Set(ctx, schema.KeyGameStats, map[string]any{"gamesPlayed": "three"})
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "gamesPlayed", verr.Field)
	assert.Zero(t, f.sched.Pending())

	assert.Equal(t, valid, Get(ctx, f.mgr, schema.KeyGameStats, map[string]any{}))
	require.NoError(t, f.mgr.Flush(ctx))
	assert.JSONEq(t, `{"gamesPlayed":3}`, string(f.storedValue(t, schema.KeyGameStats)))

	// Validation can be switched off per call.
	require.NoError(t, f.mgr.Set(ctx, schema.KeyGameStats, "raw", WithValidation(false), WithDebounce(false)))
	assert.JSONEq(t, `"raw"`, string(f.storedValue(t, schema.KeyGameStats)))
}

func TestManager_Remove(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mgr.Set(ctx, "a", 1, WithDebounce(false)))
	require.NoError(t, f.mgr.Remove(ctx, "a"))
	assert.Equal(t, -1, Get(ctx, f.mgr, "a", -1))
	_, err := f.backend.Get(ctx, "keepsake_a")
	assert.ErrorIs(t, err, ErrNotFound)

	// Removing a key with a pending write cancels the write.
	require.NoError(t, f.mgr.Set(ctx, "b", 2))
	require.NoError(t, f.mgr.Remove(ctx, "b"))
	f.sched.Advance(testDelay)
	assert.Zero(t, f.backend.puts["keepsake_b"])
	assert.Equal(t, -1, Get(ctx, f.mgr, "b", -1))
}

func TestManager_Cleanup(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mgr.Set(ctx, "old", 1, WithDebounce(false)))
	require.NoError(t, f.mgr.Set(ctx, schema.KeyDataVersion, "1.0.0", WithDebounce(false)))
	require.NoError(t, f.backend.Backend.Put(ctx, "other_old", []byte("not ours")))

	f.clock.now = f.clock.now.Add(10 * 24 * time.Hour)
	require.NoError(t, f.mgr.Set(ctx, "fresh", 2, WithDebounce(false)))
	require.NoError(t, f.backend.Backend.Put(ctx, "keepsake_junk", []byte("garbage")))

	removed, err := f.mgr.Cleanup(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	keys, err := f.mgr.AllKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{schema.KeyDataVersion, "fresh"}, keys)

	assert.Equal(t, -1, Get(ctx, f.mgr, "old", -1), "cleaned key must not be served from cache")
	_, err = f.backend.Get(ctx, "other_old")
	assert.NoError(t, err, "keys outside the namespace are untouched")
}

func TestManager_CleanupRemovesUnparsablePinnedKey(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.backend.Backend.Put(ctx, "keepsake_dataVersion", []byte("{")))
	removed, err := f.mgr.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestManager_QuotaRecovery(t *testing.T) {
	t.Run("retry succeeds after cleanup", func(t *testing.T) {
		f := newManagerFixture(t)
		ctx := context.Background()
		reg := prometheus.NewRegistry()
		f.mgr.metrics = observability.NewMetrics(reg)

		require.NoError(t, f.mgr.Set(ctx, "stale", 1, WithDebounce(false)))
		f.clock.now = f.clock.now.Add(8 * 24 * time.Hour)

		f.backend.putErr = func(key string, attempt int) error {
			if key == "keepsake_big" && attempt == 1 {
				return fmt.Errorf("disk: %w", ErrQuotaExceeded)
			}
			return nil
		}

		require.NoError(t, f.mgr.Set(ctx, "big", "payload", WithDebounce(false)))
		assert.Equal(t, 2, f.backend.puts["keepsake_big"])
		assert.JSONEq(t, `"payload"`, string(f.storedValue(t, "big")))

		_, err := f.backend.Get(ctx, "keepsake_stale")
		assert.ErrorIs(t, err, ErrNotFound, "stale record should be cleaned")
		assert.Equal(t, float64(1), testutil.ToFloat64(f.mgr.metrics.QuotaRecoveriesTotal))
	})

	t.Run("single retry only", func(t *testing.T) {
		f := newManagerFixture(t)
		ctx := context.Background()
		f.backend.putErr = func(string, int) error { return ErrQuotaExceeded }

		err := f.mgr.Set(ctx, "big", "payload", WithDebounce(false))
		assert.ErrorIs(t, err, ErrQuotaExceeded)
		assert.Equal(t, 2, f.backend.puts["keepsake_big"])

		// The cache still serves the value for the rest of the session.
		assert.Equal(t, "payload", Get(ctx, f.mgr, "big", ""))
	})

	t.Run("access denied is not retried", func(t *testing.T) {
		f := newManagerFixture(t)
		ctx := context.Background()
		f.backend.putErr = func(string, int) error { return ErrAccessDenied }

		err := f.mgr.Set(ctx, "big", "payload", WithDebounce(false))
		assert.ErrorIs(t, err, ErrAccessDenied)
		assert.Equal(t, 1, f.backend.puts["keepsake_big"])
	})
}

func TestManager_QuotaBackendRecovery(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.QuotaBytes = 400

	mgr, err := New(WithQuota(NewMemoryBackend(), cfg.QuotaBytes), cfg,
		WithScheduler(NewManualScheduler()),
		WithClock(clock.Now),
		WithLogger(observability.Discard()),
	)
	require.NoError(t, err)

	require.NoError(t, mgr.Set(ctx, "a", "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx", WithDebounce(false)))
	require.NoError(t, mgr.Set(ctx, "b", "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx", WithDebounce(false)))
	clock.now = clock.now.Add(30 * 24 * time.Hour)

	big := make([]int, 60)
	require.NoError(t, mgr.Set(ctx, "c", big, WithDebounce(false)))

	keys, err := mgr.AllKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, keys)
}

func TestManager_BatchSetSharesTimer(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	errs := f.mgr.BatchSet(ctx, []BatchItem{
		{Key: "a", Value: 1},
		{Key: schema.KeyGameStats, Value: []int{1}},
		{Key: "b", Value: 2},
	})
	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	var verr *schema.ValidationError
	assert.True(t, errors.As(errs[1], &verr))
	assert.NoError(t, errs[2])
	assert.Equal(t, 1, f.sched.Pending())

	errs = f.mgr.BatchSet(ctx, []BatchItem{{Key: "c", Value: 3}})
	assert.NoError(t, errs[0])
	assert.Equal(t, 1, f.sched.Pending(), "an armed batch timer is reused")

	assert.Equal(t, 2, Get(ctx, f.mgr, "b", 0))
	assert.Zero(t, f.backend.puts["keepsake_a"])

	f.sched.Advance(testDelay)
	assert.Equal(t, 1, f.backend.puts["keepsake_a"])
	assert.Equal(t, 1, f.backend.puts["keepsake_b"])
	assert.Equal(t, 1, f.backend.puts["keepsake_c"])
	assert.Zero(t, f.backend.puts["keepsake_gameStats"])

	skip := false
	errs = f.mgr.BatchSet(ctx, []BatchItem{{Key: schema.KeyGameStats, Value: "free", Validate: &skip}})
	assert.NoError(t, errs[0])
}

func TestManager_SetSupersedesBatchedWrite(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.mgr.BatchSet(ctx, []BatchItem{{Key: "a", Value: 1}})
	require.NoError(t, f.mgr.Set(ctx, "a", 2))

	f.sched.RunAll()
	assert.Equal(t, 1, f.backend.puts["keepsake_a"])
	assert.JSONEq(t, `2`, string(f.storedValue(t, "a")))
}

func TestManager_CacheEvictionOrder(t *testing.T) {
	f := newManagerFixture(t, func(c *Config) { c.MaxCacheSize = 2 })
	ctx := context.Background()

	require.NoError(t, f.mgr.Set(ctx, "a", 1, WithDebounce(false)))
	require.NoError(t, f.mgr.Set(ctx, "b", 2, WithDebounce(false)))
	// Reads do not refresh recency.
	assert.Equal(t, 1, Get(ctx, f.mgr, "a", 0))
	require.NoError(t, f.mgr.Set(ctx, "c", 3, WithDebounce(false)))

	assert.Equal(t, []string{"b", "c"}, f.mgr.cache.keys())
	assert.Equal(t, int64(1), f.mgr.cache.metrics.evictions.Load())

	// An evicted key is reloaded from the backend.
	assert.Equal(t, 1, Get(ctx, f.mgr, "a", 0))
}

func TestManager_EvictedPendingValueStillVisible(t *testing.T) {
	f := newManagerFixture(t, func(c *Config) { c.MaxCacheSize = 1 })
	ctx := context.Background()

	require.NoError(t, f.mgr.Set(ctx, "a", 1))
	require.NoError(t, f.mgr.Set(ctx, "b", 2))
	assert.Equal(t, 1, Get(ctx, f.mgr, "a", 0))
	assert.Equal(t, 2, Get(ctx, f.mgr, "b", 0))
}

func TestManager_Flush(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mgr.Set(ctx, "a", 1))
	f.mgr.BatchSet(ctx, []BatchItem{{Key: "b", Value: 2}})
	require.NoError(t, f.mgr.Flush(ctx))

	assert.Equal(t, 1, f.backend.puts["keepsake_a"])
	assert.Equal(t, 1, f.backend.puts["keepsake_b"])
	assert.Zero(t, f.sched.Pending())

	f.sched.Advance(10 * testDelay)
	assert.Equal(t, 1, f.backend.puts["keepsake_a"])
}

func TestManager_ClearAll(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mgr.Set(ctx, "a", 1, WithDebounce(false)))
	require.NoError(t, f.mgr.Set(ctx, "b", 2, WithDebounce(false)))
	require.NoError(t, f.mgr.Set(ctx, "c", 3))
	require.NoError(t, f.backend.Backend.Put(ctx, "backup_1", []byte("{}")))

	cleared, err := f.mgr.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	f.sched.Advance(testDelay)
	keys, err := f.mgr.AllKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, -1, Get(ctx, f.mgr, "c", -1))

	_, err = f.backend.Get(ctx, "backup_1")
	assert.NoError(t, err)
}

func TestManager_ReplaceAll(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mgr.Set(ctx, "gone", 1, WithDebounce(false)))
	require.NoError(t, f.mgr.Set(ctx, "pending", 1))

	err := f.mgr.ReplaceAll(ctx, map[string]json.RawMessage{
		"x":                 json.RawMessage(`1`),
		schema.KeyGameStats: json.RawMessage(`"not validated"`),
	})
	require.NoError(t, err)

	f.sched.RunAll()
	keys, err := f.mgr.AllKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{schema.KeyGameStats, "x"}, keys)
}

func TestManager_AllKeysIncludesPending(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mgr.Set(ctx, "b", 1, WithDebounce(false)))
	require.NoError(t, f.mgr.Set(ctx, "a", 1))
	require.NoError(t, f.mgr.Set(ctx, "b", 2))

	keys, err := f.mgr.AllKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
}

func TestManager_StorageUsageAndStats(t *testing.T) {
	f := newManagerFixture(t, func(c *Config) { c.QuotaBytes = 1000 })
	ctx := context.Background()

	require.NoError(t, f.mgr.Set(ctx, "a", "hello"))
	require.NoError(t, f.mgr.Set(ctx, "b", 12))
	require.NoError(t, f.mgr.Flush(ctx))

	var want int64
	for _, k := range []string{"keepsake_a", "keepsake_b"} {
		data, err := f.backend.Get(ctx, k)
		require.NoError(t, err)
		want += int64(len(k) + len(data))
	}

	usage, err := f.mgr.StorageUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, usage.UsedBytes)
	assert.Equal(t, 1000-want, usage.AvailableBytes)
	assert.InDelta(t, float64(want)/10, usage.Percentage, 0.0001)

	Get(ctx, f.mgr, "a", "")
	Get(ctx, f.mgr, "missing", "")

	stats, err := f.mgr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalKeys)
	assert.Equal(t, 2, stats.CacheEntries)
	assert.Equal(t, 100, stats.MaxCacheEntries)
	assert.Zero(t, stats.PendingWrites)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.Equal(t, usage, stats.Usage)
}

func TestManager_Snapshot(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mgr.Set(ctx, "a", 1))
	require.NoError(t, f.backend.Backend.Put(ctx, "keepsake_bad", []byte("nope")))

	snap, err := f.mgr.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]json.RawMessage{"a": json.RawMessage(`1`)}, snap)
	assert.Zero(t, f.sched.Pending())
}

func TestManager_Close(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mgr.Set(ctx, "a", 1))
	require.NoError(t, f.mgr.Close(ctx))
	assert.Equal(t, 1, f.backend.puts["keepsake_a"])

	assert.ErrorIs(t, f.mgr.Set(ctx, "a", 2), ErrClosed)
	errs := f.mgr.BatchSet(ctx, []BatchItem{{Key: "b", Value: 1}})
	assert.ErrorIs(t, errs[0], ErrClosed)
	assert.NoError(t, f.mgr.Close(ctx))
}

func TestManager_RealTimerWrites(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	cfg := DefaultConfig()
	cfg.DebounceDelay = 10 * time.Millisecond

	mgr, err := New(backend, cfg, WithLogger(observability.Discard()))
	require.NoError(t, err)

	require.NoError(t, mgr.Set(ctx, "a", 1))
	assert.Eventually(t, func() bool {
		_, err := backend.Get(ctx, "keepsake_a")
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

// Reads always observe the latest accepted write regardless of how writes,
// flush timers and cache evictions interleave.
func TestManager_ReadYourWrites(t *testing.T) {
	f := newManagerFixture(t, func(c *Config) { c.MaxCacheSize = 3 })
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	keys := []string{"k0", "k1", "k2", "k3", "k4", "k5"}
	model := make(map[string]int)

	for i := 0; i < 2000; i++ {
		key := keys[rng.Intn(len(keys))]
		switch op := rng.Intn(10); {
		case op < 4:
			v := rng.Intn(1000)
			require.NoError(t, f.mgr.Set(ctx, key, v, WithDebounce(op != 0)))
			model[key] = v
		case op < 5:
			v := rng.Intn(1000)
			errs := f.mgr.BatchSet(ctx, []BatchItem{{Key: key, Value: v}})
			require.NoError(t, errs[0])
			model[key] = v
		case op < 6:
			require.NoError(t, f.mgr.Remove(ctx, key))
			delete(model, key)
		case op < 7:
			f.sched.Advance(time.Duration(rng.Intn(int(testDelay))))
		default:
			want, ok := model[key]
			if !ok {
				want = -1
			}
			require.Equal(t, want, Get(ctx, f.mgr, key, -1), "step %d key %s", i, key)
		}
	}

	require.NoError(t, f.mgr.Flush(ctx))
	for _, key := range keys {
		want, ok := model[key]
		if !ok {
			_, err := f.backend.Get(ctx, "keepsake_"+key)
			assert.ErrorIs(t, err, ErrNotFound)
			continue
		}
		assert.JSONEq(t, fmt.Sprint(want), string(f.storedValue(t, key)))
	}
}

func TestValidatePrefix(t *testing.T) {
	for _, prefix := range []string{"keepsake_", "game_", "a_"} {
		assert.NoError(t, ValidatePrefix(prefix), "prefix %q", prefix)
	}
	for _, prefix := range []string{"", "_", "game", "game:", "game_2_", "_game_"} {
		assert.ErrorIs(t, ValidatePrefix(prefix), ErrInvalidPrefix, "prefix %q", prefix)
	}
}

func TestNew_RejectsInvalidPrefix(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Prefix = "game_2_"
	_, err := New(NewMemoryBackend(), cfg)
	assert.ErrorIs(t, err, ErrInvalidPrefix)
}

func TestManager_NamespacesAreIndependent(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	open := func(prefix string) *Manager {
		cfg := DefaultConfig()
		cfg.Prefix = prefix
		m, err := New(backend, cfg, WithScheduler(NewManualScheduler()), WithLogger(observability.Discard()))
		require.NoError(t, err)
		return m
	}
	game := open("game_")
	game2 := open("game2_")

	require.NoError(t, game.Set(ctx, "a", 1, WithDebounce(false)))
	require.NoError(t, game2.Set(ctx, "b", 2, WithDebounce(false)))

	snap, err := game.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 1)

	cleared, err := game.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	keys, err := game2.AllKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)
}

func TestManager_FailedDebouncedWriteIsReported(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	f.backend.putErr = func(key string, _ int) error {
		if key == "keepsake_big" {
			return ErrQuotaExceeded
		}
		return nil
	}

	require.NoError(t, f.mgr.Set(ctx, "big", "payload"))
	f.sched.Advance(testDelay)
	assert.Equal(t, 2, f.backend.puts["keepsake_big"], "one retry after quota cleanup")

	stats, err := f.mgr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.FailedWrites)
	assert.Contains(t, stats.LastWriteError, ErrQuotaExceeded.Error())
	assert.Zero(t, stats.PendingWrites)
}

func TestManager_CloseRejectsWritesRacingTheFlush(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	late := make(chan error, 1)
	f.backend.putErr = func(key string, attempt int) error {
		if key == "keepsake_a" && attempt == 1 {
			// Runs while Close is flushing; the Set waits for the lock.
			go func() { late <- f.mgr.Set(ctx, "late", 2) }()
		}
		return nil
	}

	require.NoError(t, f.mgr.Set(ctx, "a", 1))
	require.NoError(t, f.mgr.Close(ctx))

	select {
	case err := <-late:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Set never returned")
	}
	assert.Zero(t, f.sched.Pending(), "nothing is queued after Close")
	assert.Zero(t, f.backend.puts["keepsake_late"])
}
