package collection

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xjtu-toolbox/xjtutoolbox/collection/background"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/hook"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/gmis"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/jwapp"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sites"
)

type ScoreSummary struct {
	Total  int          `json:"total"`
	New    []hook.Score `json:"new"`
	Hooked bool         `json:"hooked"`
}

// ScoreCheckTask fetches every score, compares it with the last snapshot
// and reports what is new through the notifier and the hook. Postgraduate
// grades come from gmis, the rest from jwapp.
type ScoreCheckTask struct {
	Account
	Nickname     string
	SnapshotPath string
	Hook         *hook.Runner
	Notifier     Notifier
	// push to the hook even without new scores
	Force bool
	Now   func() time.Time
}

func (t *ScoreCheckTask) Name() string { return "scores" }

func (t *ScoreCheckTask) Run(ctx context.Context, w *Worker) error {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	w.Indeterminate(true)
	all, err := t.fetch(ctx, w)
	if err != nil {
		return err
	}
	if !w.CanRun() {
		return ErrStopped
	}

	prev, ok, err := background.LoadSnapshot(t.SnapshotPath)
	if err != nil {
		w.Logger().WithError(err).Warn("score snapshot unreadable, starting over")
		ok = false
	}
	var fresh []hook.Score
	if ok {
		fresh = background.Diff(prev.Scores, all)
	}
	if err := background.SaveSnapshot(t.SnapshotPath, background.Snapshot{Updated: now(), Scores: all}); err != nil {
		return err
	}
	summary := ScoreSummary{Total: len(all), New: fresh}

	if len(fresh) > 0 && t.Notifier != nil {
		names := make([]string, len(fresh))
		for i, s := range fresh {
			names[i] = fmt.Sprintf("%s %s", s.Name, s.Score)
		}
		t.Notifier.Notify(Notification{
			Title: fmt.Sprintf("%d new scores", len(fresh)),
			Body:  strings.Join(names, ", "),
		})
	}

	if t.Hook != nil && (len(fresh) > 0 || t.Force) {
		w.Message("Running the score hook")
		_, err := t.Hook.Push(ctx, t.Nickname, fresh, all, t.Force)
		switch {
		case err == nil:
			summary.Hooked = true
		case errors.Is(err, hook.ErrDuplicate), errors.Is(err, hook.ErrCooldown), errors.Is(err, hook.ErrDisabled):
			w.Logger().WithError(err).Info("score hook skipped")
		default:
			return err
		}
	}

	w.Indeterminate(false)
	w.Progress(100)
	w.Message(fmt.Sprintf("%d scores, %d new", len(all), len(fresh)))
	w.SetResult(summary)
	return nil
}

// fetch reads every grade from the site that keeps them for the account.
func (t *ScoreCheckTask) fetch(ctx context.Context, w *Worker) ([]hook.Score, error) {
	site := ScoreSite(t.Creds)
	ss, err := t.session(ctx, w, site)
	if err != nil {
		return nil, err
	}
	w.Message("Fetching scores")
	var all []hook.Score
	if site == sites.Gmis {
		scores, err := gmis.New(ss, w.Logger()).Scores(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range scores {
			all = append(all, hook.Score{
				Name:   s.Name,
				Score:  strconv.FormatFloat(s.Score, 'f', -1, 64),
				Credit: s.Credit,
			})
		}
		return all, nil
	}

	terms, err := jwapp.New(ss).TermScores(ctx, jwapp.AllTerms)
	if err != nil {
		return nil, err
	}
	for _, term := range terms {
		for _, s := range term.Scores {
			all = append(all, hook.Score{Name: s.CourseName, Score: s.Score, Term: s.Term, Credit: s.Credit})
		}
	}
	return all, nil
}
