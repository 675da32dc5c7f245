package migration

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/keepsake/pkg/observability"
	"github.com/platinummonkey/keepsake/pkg/schema"
	"github.com/platinummonkey/keepsake/pkg/storage"
)

func assertSameData(t *testing.T, want, got map[string]json.RawMessage) {
	t.Helper()
	wantKeys := make([]string, 0, len(want))
	for k := range want {
		wantKeys = append(wantKeys, k)
	}
	gotKeys := make([]string, 0, len(got))
	for k := range got {
		gotKeys = append(gotKeys, k)
	}
	require.ElementsMatch(t, wantKeys, gotKeys)
	for k, v := range want {
		assert.JSONEq(t, string(v), string(got[k]), "key %s", k)
	}
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	_, err := f.mgr.MigrateIfNeeded(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.Set(ctx, schema.KeyGameStats, map[string]any{"gamesPlayed": 4}))
	require.NoError(t, f.store.Set(ctx, "notes", []string{"a", "b"}))

	id, err := f.mgr.CreateBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "backup_"+strconv.FormatInt(f.clock.now.UnixMilli(), 10), id)

	original, err := f.store.Snapshot(ctx)
	require.NoError(t, err)

	// Mutate: change, remove and add keys, and bump the version.
	require.NoError(t, f.store.Set(ctx, schema.KeyGameStats, map[string]any{"gamesPlayed": 99}))
	require.NoError(t, f.store.Remove(ctx, "notes"))
	require.NoError(t, f.store.Set(ctx, "extra", 1))
	f.setVersion(t, "9.9.9")

	require.NoError(t, f.mgr.RestoreBackup(ctx, id))
	f.sched.RunAll()

	restored, err := f.store.Snapshot(ctx)
	require.NoError(t, err)
	assertSameData(t, original, restored)
	assert.Equal(t, "1.1.0", f.persistedVersion(t))

	// The backup itself survives the restore.
	infos, err := f.mgr.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, id, infos[0].ID)
}

func TestCreateBackup_IncludesPendingWrites(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, f.store.Set(ctx, "pending", "yes"))
	id, err := f.mgr.CreateBackup(ctx)
	require.NoError(t, err)

	b, err := f.mgr.LoadBackup(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `"yes"`, string(b.Data["pending"]))
	assert.Equal(t, "1.0.0", b.Version)
	assert.Equal(t, f.clock.now, b.Timestamp)
}

func TestCreateBackup_UniqueIDs(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	first, err := f.mgr.CreateBackup(ctx)
	require.NoError(t, err)
	second, err := f.mgr.CreateBackup(ctx)
	require.NoError(t, err)

	millis := f.clock.now.UnixMilli()
	assert.Equal(t, "backup_"+strconv.FormatInt(millis, 10), first)
	assert.Equal(t, "backup_"+strconv.FormatInt(millis+1, 10), second)
}

func TestBackupsSurviveClearAll(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, f.store.Set(ctx, "a", 1))
	id, err := f.mgr.CreateBackup(ctx)
	require.NoError(t, err)

	cleared, err := f.store.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	require.NoError(t, f.mgr.RestoreBackup(ctx, id))
	assert.Equal(t, 1, storage.Get(ctx, f.store, "a", 0))
}

func TestRestoreBackup_UnknownID(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, "a", 1, storage.WithDebounce(false)))

	for _, id := range []string{"backup_1", "keepsake_a", ""} {
		err := f.mgr.RestoreBackup(ctx, id)
		assert.ErrorIs(t, err, ErrBackupNotFound, "id %q", id)

		var berr *BackupError
		require.True(t, errors.As(err, &berr))
		assert.Equal(t, "restore", berr.Op)
	}

	keys, err := f.store.AllKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys, "nothing is touched")
}

func TestListBackups(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := f.mgr.CreateBackup(ctx)
		require.NoError(t, err)
		ids = append(ids, id)
		f.clock.Advance(time.Minute)
	}
	require.NoError(t, f.backend.Put(ctx, "backup_keepsake_7", []byte("not json")))
	require.NoError(t, f.backend.Put(ctx, "backup_keepsake_junk", []byte("{}")))

	infos, err := f.mgr.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{infos[0].ID, infos[1].ID, infos[2].ID})
	assert.Equal(t, "1.0.0", infos[0].Version)
	assert.Positive(t, infos[0].SizeBytes)
}

func TestCleanupOldBackups(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := f.mgr.CreateBackup(ctx)
		require.NoError(t, err)
		ids = append(ids, id)
		f.clock.Advance(time.Hour)
	}

	deleted, err := f.mgr.CleanupOldBackups(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	infos, err := f.mgr.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, ids[4], infos[0].ID)
	assert.Equal(t, ids[3], infos[1].ID)

	deleted, err = f.mgr.CleanupOldBackups(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	_, err = f.mgr.CleanupOldBackups(ctx, -1)
	assert.Error(t, err)
}

func TestCleanupOldBackups_SameTimestamp(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := f.mgr.CreateBackup(ctx)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	deleted, err := f.mgr.CleanupOldBackups(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	infos, err := f.mgr.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, ids[2], infos[0].ID)
}

func TestDeleteBackup(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	id, err := f.mgr.CreateBackup(ctx)
	require.NoError(t, err)

	require.NoError(t, f.mgr.DeleteBackup(ctx, id))
	assert.ErrorIs(t, f.mgr.DeleteBackup(ctx, id), ErrBackupNotFound)
	assert.ErrorIs(t, f.mgr.DeleteBackup(ctx, "keepsake_settings"), ErrBackupNotFound)
}

func TestBackups_ScopedPerNamespace(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}

	open := func(prefix string) (*storage.Manager, *Manager) {
		scfg := storage.DefaultConfig()
		scfg.Prefix = prefix
		store, err := storage.New(backend, scfg,
			storage.WithScheduler(storage.NewManualScheduler()),
			storage.WithClock(clock.Now),
			storage.WithLogger(observability.Discard()),
		)
		require.NoError(t, err)
		mgr, err := New(store, DefaultConfig(), WithLogger(observability.Discard()))
		require.NoError(t, err)
		return store, mgr
	}
	aliceStore, alice := open("alice_")
	bobStore, bob := open("bob_")

	require.NoError(t, aliceStore.Set(ctx, "who", "alice"))
	require.NoError(t, bobStore.Set(ctx, "who", "bob"))

	idA, err := alice.CreateBackup(ctx)
	require.NoError(t, err)
	idB, err := bob.CreateBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, idA, idB, "ids only carry the timestamp")

	infos, err := alice.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)

	clock.Advance(time.Minute)
	_, err = alice.CreateBackup(ctx)
	require.NoError(t, err)
	deleted, err := alice.CleanupOldBackups(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	// Bob's only backup is untouched by Alice's retention.
	infos, err = bob.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, idB, infos[0].ID)

	require.NoError(t, bobStore.Set(ctx, "who", "changed"))
	require.NoError(t, bob.RestoreBackup(ctx, idB))
	assert.Equal(t, "bob", storage.Get(ctx, bobStore, "who", ""))
	assert.Equal(t, "alice", storage.Get(ctx, aliceStore, "who", ""))

	require.NoError(t, bob.DeleteBackup(ctx, idB))
	assert.ErrorIs(t, bob.DeleteBackup(ctx, idB), ErrBackupNotFound)
}

func TestNew_RejectsInvalidBackupPrefix(t *testing.T) {
	store, err := storage.New(storage.NewMemoryBackend(), storage.DefaultConfig())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.BackupPrefix = "keepsake_backup_"
	_, err = New(store, cfg)
	assert.ErrorIs(t, err, storage.ErrInvalidPrefix)
}
