// Package paths knows where the toolbox keeps its files and moves the
// files of old installs that kept everything in ./config.
package paths

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

const AppName = "XJTUToolbox"

// Dirs are the roots every other file lives under.
type Dirs struct {
	Data  string
	Log   string
	Cache string
}

// Default uses the OS conventions: the user config dir for data, and a logs
// folder inside the user cache dir.
func Default() (Dirs, error) {
	config, err := os.UserConfigDir()
	if err != nil {
		return Dirs{}, err
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return Dirs{}, err
	}
	return Dirs{
		Data:  filepath.Join(config, AppName),
		Log:   filepath.Join(cache, AppName, "logs"),
		Cache: filepath.Join(cache, AppName),
	}, nil
}

// Under puts every directory below root, used by --data-dir and tests.
func Under(root string) Dirs {
	return Dirs{
		Data:  root,
		Log:   filepath.Join(root, "logs"),
		Cache: filepath.Join(root, "cache"),
	}
}

func (d Dirs) Ensure() error {
	for _, dir := range []string{d.Data, d.Log, d.Cache} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (d Dirs) AccountsFile() string { return filepath.Join(d.Data, "accounts.json") }

func (d Dirs) ConfigFile() string { return filepath.Join(d.Data, "config.json") }

func (d Dirs) HookDir() string { return filepath.Join(d.Data, "hooks", "score") }

// AccountsRoot holds one directory per account uuid.
func (d Dirs) AccountsRoot() string { return filepath.Join(d.Data, "data") }

func (d Dirs) AccountDir(uuid string) string { return filepath.Join(d.AccountsRoot(), uuid) }

// ScoreSnapshot is the last seen grade list of the background check.
func (d Dirs) ScoreSnapshot(uuid string) string {
	return filepath.Join(d.AccountDir(uuid), "score.json")
}

// NoticeSnapshot remembers which notices were already reported; notices
// are not tied to an account.
func (d Dirs) NoticeSnapshot() string { return filepath.Join(d.Data, "notices.json") }

func (d Dirs) ScheduleDB(uuid string) string {
	return filepath.Join(d.AccountDir(uuid), "schedule.db")
}

// MigrateLegacy moves an old ./config directory into d: logs/*.log to the
// log dir, cache/ to the per account data root, and accounts.json plus
// config.json to the data dir. The old directory is removed only when every
// part moved and it is left empty. moved is false when there was nothing to
// migrate.
func MigrateLegacy(old string, d Dirs) (moved bool, err error) {
	if _, err := os.Stat(old); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	logger := log.WithField("from", old)

	if err := moveLogs(filepath.Join(old, "logs"), d.Log); err != nil {
		return false, err
	}
	if err := moveTree(filepath.Join(old, "cache"), d.AccountsRoot()); err != nil {
		return false, err
	}
	for _, name := range []string{"accounts.json", "config.json"} {
		if err := moveFile(filepath.Join(old, name), filepath.Join(d.Data, name)); err != nil {
			return false, err
		}
	}
	if err := os.Remove(old); err != nil {
		logger.WithError(err).Warn("legacy directory not empty, leaving it")
	}
	logger.WithField("to", d.Data).Info("migrated legacy data")
	return true, nil
}

func moveLogs(from, to string) error {
	entries, err := os.ReadDir(from)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(to, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		if err := copyFile(filepath.Join(from, e.Name()), filepath.Join(to, e.Name())); err != nil {
			return err
		}
	}
	return os.RemoveAll(from)
}

func moveTree(from, to string) error {
	if _, err := os.Stat(from); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	err := filepath.WalkDir(from, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(from, path)
		if err != nil {
			return err
		}
		target := filepath.Join(to, rel)
		if e.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
	if err != nil {
		return err
	}
	return os.RemoveAll(from)
}

func moveFile(from, to string) error {
	if _, err := os.Stat(from); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	if err := copyFile(from, to); err != nil {
		return err
	}
	return os.Remove(from)
}

func copyFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
