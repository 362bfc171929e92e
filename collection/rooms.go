package collection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/jwxt"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sites"
)

var ErrUnknownPlace = errors.New("no such campus or building")

// the code tables rarely change, one lookup a day is plenty
var placeCodes = cache.New(24*time.Hour, time.Hour)

// RoomDay is one classroom and the periods it is free in.
type RoomDay struct {
	jwxt.Room
	// Free[i] is period i+1
	Free []bool `json:"free"`
}

type EmptyRoomSummary struct {
	Date     string    `json:"date"`
	Campus   string    `json:"campus"`
	Building string    `json:"building"`
	Rooms    []RoomDay `json:"rooms"`
}

// EmptyRoomTask lists which periods every room of a building is free on
// one day.
type EmptyRoomTask struct {
	Account
	// names as jwxt shows them, or their codes
	Campus   string
	Building string
	Date     time.Time
}

func (t *EmptyRoomTask) Name() string { return "emptyrooms" }

func (t *EmptyRoomTask) Run(ctx context.Context, w *Worker) error {
	w.Progress(0)
	ss, err := t.session(ctx, w, sites.Jwxt)
	if err != nil {
		return err
	}
	client := jwxt.New(ss, w.Logger())

	campus, err := placeCode(ctx, "campus", t.Campus, client.Campuses)
	if err != nil {
		return err
	}
	building, err := placeCode(ctx, "building", t.Building, client.Buildings)
	if err != nil {
		return err
	}
	date := t.Date
	if date.IsZero() {
		date = time.Now()
	}

	w.Message(fmt.Sprintf("Listing the rooms of %s", t.Building))
	all, err := client.EmptyRooms(ctx, campus, building, date, 0, 0)
	if err != nil {
		return err
	}
	byName := make(map[string]*RoomDay, len(all))
	for _, r := range all {
		byName[r.Name] = &RoomDay{Room: r, Free: make([]bool, jwxt.Periods)}
	}

	// one query per period, a room listed as free gets its slot set
	for p := 1; p <= jwxt.Periods; p++ {
		if !w.CanRun() {
			return ErrStopped
		}
		w.Progress(p * 100 / (jwxt.Periods + 1))
		free, err := client.EmptyRooms(ctx, campus, building, date, p, p)
		if err != nil {
			return err
		}
		for _, r := range free {
			if day, ok := byName[r.Name]; ok {
				day.Free[p-1] = true
			}
		}
	}

	summary := EmptyRoomSummary{
		Date:     date.Format(time.DateOnly),
		Campus:   t.Campus,
		Building: t.Building,
		Rooms:    make([]RoomDay, 0, len(byName)),
	}
	for _, day := range byName {
		summary.Rooms = append(summary.Rooms, *day)
	}
	sort.Slice(summary.Rooms, func(i, j int) bool { return summary.Rooms[i].Name < summary.Rooms[j].Name })

	w.Progress(100)
	w.Message(fmt.Sprintf("%d rooms in %s", len(summary.Rooms), t.Building))
	w.SetResult(summary)
	return nil
}

// placeCode resolves a campus or building name through the cached code
// table. A code passes through unchanged.
func placeCode(ctx context.Context, kind, name string, load func(context.Context) (map[string]string, error)) (string, error) {
	var codes map[string]string
	if v, ok := placeCodes.Get(kind); ok {
		codes = v.(map[string]string)
	} else {
		fetched, err := load(ctx)
		if err != nil {
			return "", err
		}
		codes = fetched
		placeCodes.Set(kind, codes, cache.DefaultExpiration)
	}
	if code, ok := codes[name]; ok {
		return code, nil
	}
	for _, code := range codes {
		if code == name {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: %s %q", ErrUnknownPlace, kind, name)
}
