package cli

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/keepsake/pkg/config"
	"github.com/platinummonkey/keepsake/pkg/observability"
	"github.com/platinummonkey/keepsake/pkg/schema"
	"github.com/platinummonkey/keepsake/pkg/storage"
)

// cliFixture runs commands against a filesystem store in a temp dir. Every
// command opens and closes its own session, like separate process runs.
type cliFixture struct {
	env  *Env
	out  *bytes.Buffer
	root string
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	root := t.TempDir()
	env, out := testEnv()
	env.Logger = observability.Discard()
	env.LoadConfig = func(string) (*config.Config, error) {
		cfg := config.Default()
		cfg.Storage.Backend = storage.BackendFilesystem
		cfg.Storage.FilesystemRoot = root
		cfg.Storage.SchemaVersion = cfg.Migration.TargetVersion
		cfg.Admin.Port = "0"
		return cfg, cfg.Validate()
	}
	return &cliFixture{env: env, out: out, root: root}
}

func (f *cliFixture) run(args ...string) (string, error) {
	f.out.Reset()
	err := NewRootCommand().ExecuteArgs(f.env, args)
	return f.out.String(), err
}

func (f *cliFixture) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := f.run(args...)
	require.NoError(t, err, "keepsake %s", strings.Join(args, " "))
	return out
}

func TestCLI_SetGetKeysRemove(t *testing.T) {
	f := newCLIFixture(t)

	assert.Equal(t, "Stored settings\n", f.mustRun(t, "set", "settings", `{"volume": 0.4}`))
	assert.Equal(t, "{\"volume\":0.4}\n", f.mustRun(t, "get", "settings"))
	assert.Equal(t, "{\n  \"volume\": 0.4\n}\n", f.mustRun(t, "get", "-pretty", "settings"))

	f.mustRun(t, "set", "-raw", "motd", "hello")
	assert.Equal(t, "\"hello\"\n", f.mustRun(t, "get", "motd"))

	assert.Equal(t, "motd\nsettings\n", f.mustRun(t, "keys"))

	assert.Equal(t, "Removed motd\n", f.mustRun(t, "rm", "motd"))
	_, err := f.run("get", "motd")
	assert.EqualError(t, err, `key "motd" not found`)
	assert.Equal(t, "[]\n", f.mustRun(t, "get", "-default", "[]", "motd"))
}

func TestCLI_SetRejected(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run("set", "settings", `{"volume":"loud"}`)
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "volume", verr.Field)

	_, err = f.run("set", "notes", `{broken`)
	assert.ErrorContains(t, err, "not valid JSON")

	_, err = f.run("set", "notes")
	assert.ErrorContains(t, err, "usage: set")

	_, err = f.run("get", "-default", "{nope", "notes")
	assert.ErrorContains(t, err, "default is not valid JSON")

	assert.Equal(t, "", f.mustRun(t, "keys"))

	f.mustRun(t, "set", "-no-validate", "settings", `{"volume":"loud"}`)
	assert.Equal(t, "{\"volume\":\"loud\"}\n", f.mustRun(t, "get", "settings"))
}

func TestCLI_StatsCleanupClear(t *testing.T) {
	f := newCLIFixture(t)
	f.mustRun(t, "set", "highScores", "[100, 90]")
	f.mustRun(t, "set", "notes", `"remember"`)

	assert.Contains(t, f.mustRun(t, "stats"), `"totalKeys": 2`)

	assert.Equal(t, "Removed 0 records\n", f.mustRun(t, "cleanup"))
	_, err := f.run("cleanup", "-max-age", "0s")
	assert.ErrorContains(t, err, "max-age must be positive")

	_, err = f.run("clear")
	assert.ErrorContains(t, err, "without -yes")
	assert.Equal(t, "Cleared 2 records\n", f.mustRun(t, "clear", "-yes"))
	assert.Equal(t, "", f.mustRun(t, "keys"))
}

func TestCLI_Migrate(t *testing.T) {
	f := newCLIFixture(t)

	assert.Equal(t, "Stored version: 1.0.0 (not set)\nTarget version: 1.1.0\n", f.mustRun(t, "migrate", "-dry-run"))

	// Fresh data: no backup, every migration above the baseline runs
	assert.Equal(t, "Migrated 1.0.0 -> 1.1.0 (1 migrations)\n", f.mustRun(t, "migrate"))
	assert.Equal(t, "Up to date at 1.1.0\n", f.mustRun(t, "migrate"))
	assert.Equal(t, "\"1.1.0\"\n", f.mustRun(t, "get", "dataVersion"))
	assert.Contains(t, f.mustRun(t, "get", "settings"), `"difficulty":"normal"`)
	assert.Equal(t, "No backups\n", f.mustRun(t, "backups"))
}

func TestCLI_MigrateBacksUpExistingData(t *testing.T) {
	f := newCLIFixture(t)
	f.mustRun(t, "set", "dataVersion", `"1.0.0"`)
	f.mustRun(t, "set", "settings", `{"volume": 80}`)

	out := f.mustRun(t, "migrate")
	assert.Regexp(t, regexp.MustCompile(`^Backup: backup_\d+\nMigrated 1.0.0 -> 1.1.0 \(1 migrations\)\n$`), out)
	assert.Equal(t, "{\"volume\":0.8}\n", f.mustRun(t, "get", "settings"))

	listing := f.mustRun(t, "backups")
	assert.Contains(t, listing, "ID")
	assert.Contains(t, listing, "1.0.0")
}

func TestCLI_Backups(t *testing.T) {
	f := newCLIFixture(t)
	f.mustRun(t, "set", "gameStats", `{"gamesPlayed": 4}`)

	id := strings.TrimSpace(f.mustRun(t, "backup"))
	require.True(t, strings.HasPrefix(id, "backup_"), "got %q", id)

	f.mustRun(t, "set", "gameStats", `{"gamesPlayed": 9}`)
	assert.Equal(t, "Restored "+id+"\n", f.mustRun(t, "restore", id))
	assert.Equal(t, "{\"gamesPlayed\":4}\n", f.mustRun(t, "get", "gameStats"))

	second := strings.TrimSpace(f.mustRun(t, "backup"))
	assert.NotEqual(t, id, second)
	assert.Contains(t, f.mustRun(t, "backups"), second)

	assert.Equal(t, "Deleted 1 backups\n", f.mustRun(t, "prune-backups", "-keep", "1"))
	listing := f.mustRun(t, "backups")
	assert.Contains(t, listing, second)
	assert.NotContains(t, listing, id+" ")

	assert.Equal(t, "Deleted "+second+"\n", f.mustRun(t, "delete-backup", second))
	_, err := f.run("delete-backup", second)
	assert.Error(t, err)
	_, err = f.run("restore", "backup_1")
	assert.Error(t, err)
	_, err = f.run("prune-backups", "-keep", "-2")
	assert.ErrorContains(t, err, "non-negative")
}

func TestCLI_Repair(t *testing.T) {
	f := newCLIFixture(t)
	f.mustRun(t, "set", "settings", `{"volume": 0.5}`)

	backend, err := storage.NewFileSystemBackend(f.root)
	require.NoError(t, err)
	require.NoError(t, backend.Put(context.Background(), "keepsake_gameStats", []byte("{broken")))

	out := f.mustRun(t, "repair")
	assert.Contains(t, out, "gameStats: ")
	assert.Contains(t, out, "(removed)")
	assert.Contains(t, out, "Found 1 issues, repaired 1\n")

	assert.Equal(t, "Found 0 issues, repaired 0\n", f.mustRun(t, "repair"))
}

func TestCLI_ConfigError(t *testing.T) {
	f := newCLIFixture(t)
	f.env.LoadConfig = func(string) (*config.Config, error) {
		return nil, errors.New("bad config")
	}

	_, err := f.run("keys")
	assert.EqualError(t, err, "bad config")
}
