package background

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/xjtu-toolbox/xjtutoolbox/collection/hook"
)

// Snapshot is the last seen score list of one account, kept in score.json.
type Snapshot struct {
	Updated time.Time    `json:"updated"`
	Scores  []hook.Score `json:"scores"`
}

// LoadSnapshot reads path; ok is false when nothing was stored yet.
func LoadSnapshot(path string) (snap Snapshot, ok bool, err error) {
	ok, err = loadJSON(path, &snap)
	return snap, ok, err
}

func SaveSnapshot(path string, snap Snapshot) error { return saveJSON(path, snap) }

func loadJSON(path string, v any) (bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

// saveJSON replaces path in one rename so readers never see half a file.
func saveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func scoreKey(s hook.Score) string { return s.Term + "\x00" + s.Name }

// Diff lists the scores of current that are missing from previous or whose
// value changed, in current's order.
func Diff(previous, current []hook.Score) []hook.Score {
	seen := make(map[string]string, len(previous))
	for _, s := range previous {
		seen[scoreKey(s)] = s.Score
	}
	var out []hook.Score
	for _, s := range current {
		if old, ok := seen[scoreKey(s)]; !ok || old != s.Score {
			out = append(out, s)
		}
	}
	return out
}
