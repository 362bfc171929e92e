package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestMigrateLegacy(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "config")
	write(t, filepath.Join(old, "logs", "2024-12-01.log"), "log line")
	write(t, filepath.Join(old, "logs", "notes.txt"), "ignored")
	write(t, filepath.Join(old, "cache", "abc", "schedule.db"), "db")
	write(t, filepath.Join(old, "accounts.json"), `{"data":[]}`)
	write(t, filepath.Join(old, "config.json"), `{}`)

	dirs := Under(filepath.Join(root, "new"))
	moved, err := MigrateLegacy(old, dirs)
	require.NoError(t, err)
	assert.True(t, moved)

	assert.FileExists(t, filepath.Join(dirs.Log, "2024-12-01.log"))
	assert.NoFileExists(t, filepath.Join(dirs.Log, "notes.txt"))
	assert.FileExists(t, dirs.ScheduleDB("abc"))
	assert.FileExists(t, dirs.AccountsFile())
	assert.FileExists(t, dirs.ConfigFile())
	assert.NoDirExists(t, old)

	moved, err = MigrateLegacy(old, dirs)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestMigrateLeavesNonEmptyLegacyDir(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "config")
	write(t, filepath.Join(old, "accounts.json"), `{"data":[]}`)
	write(t, filepath.Join(old, "keep.me"), "x")

	moved, err := MigrateLegacy(old, Under(filepath.Join(root, "new")))
	require.NoError(t, err)
	assert.True(t, moved)
	assert.FileExists(t, filepath.Join(old, "keep.me"))
	assert.NoFileExists(t, filepath.Join(old, "accounts.json"))
}
