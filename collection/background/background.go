// Package background decides when scheduled fetches fire and what counts
// as new in their results.
package background

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"
)

const (
	clockLayout = "15:04"
	// how last_fire is stored in config.json
	StampLayout = time.RFC3339
)

// LastDue is the latest scheduled time at or before now. times are HH:MM
// in now's zone; ok is false when times is empty.
func LastDue(now time.Time, times []string) (due time.Time, ok bool, err error) {
	if len(times) == 0 {
		return time.Time{}, false, nil
	}
	clocks := make([]time.Duration, 0, len(times))
	for _, t := range times {
		c, err := time.Parse(clockLayout, t)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("fire time %q: %w", t, err)
		}
		clocks = append(clocks, time.Duration(c.Hour())*time.Hour+time.Duration(c.Minute())*time.Minute)
	}
	sort.Slice(clocks, func(i, j int) bool { return clocks[i] < clocks[j] })

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for i := len(clocks) - 1; i >= 0; i-- {
		if at := midnight.Add(clocks[i]); !at.After(now) {
			return at, true, nil
		}
	}
	// every slot today is still ahead, so the last one of yesterday counts
	yesterday := midnight.AddDate(0, 0, -1)
	return yesterday.Add(clocks[len(clocks)-1]), true, nil
}

// Due reports whether a fire time passed after last.
func Due(now, last time.Time, times []string) (bool, error) {
	due, ok, err := LastDue(now, times)
	if err != nil || !ok {
		return false, err
	}
	return last.Before(due), nil
}

// ParseStamp reads a stored last fire time; empty means never.
func ParseStamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(StampLayout, s)
}

// Guard refuses overlapping runs.
type Guard struct {
	running atomic.Bool
}

// Enter returns false while another run holds the guard.
func (g *Guard) Enter() bool { return g.running.CompareAndSwap(false, true) }

func (g *Guard) Leave() { g.running.Store(false) }

func (g *Guard) Running() bool { return g.running.Load() }
