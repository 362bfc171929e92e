package background

import "time"

// MaxSeenNotices bounds the keys kept in a NoticeSnapshot.
const MaxSeenNotices = 2000

// NoticeSnapshot is the notices already reported, kept in notice.json.
type NoticeSnapshot struct {
	Updated time.Time `json:"updated"`
	Seen    []string  `json:"seen"`
}

func LoadNoticeSnapshot(path string) (snap NoticeSnapshot, ok bool, err error) {
	ok, err = loadJSON(path, &snap)
	return snap, ok, err
}

func SaveNoticeSnapshot(path string, snap NoticeSnapshot) error { return saveJSON(path, snap) }

// Remember puts current in front of seen, dropping repeats and the oldest
// keys past MaxSeenNotices.
func Remember(seen, current []string) []string {
	out := make([]string, 0, len(current)+len(seen))
	dup := make(map[string]bool, len(current)+len(seen))
	for _, list := range [][]string{current, seen} {
		for _, k := range list {
			if !dup[k] {
				dup[k] = true
				out = append(out, k)
			}
		}
	}
	if len(out) > MaxSeenNotices {
		out = out[:MaxSeenNotices]
	}
	return out
}
