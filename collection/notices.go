package collection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xjtu-toolbox/xjtutoolbox/collection/background"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/notices"
)

// NoticeKey serialises notice checks; they share one snapshot.
const NoticeKey = "notices"

type NoticeSummary struct {
	Total int              `json:"total"`
	New   []notices.Notice `json:"new"`
	// what the subscriptions kept, in subscription order
	Notices []notices.Notice `json:"notices"`
}

// NoticeTask reads the subscribed notice boards, keeps what the rules
// allow and reports notices not seen by an earlier run. The first run only
// records what is there.
type NoticeTask struct {
	Session       services.Requester
	Subscriptions []notices.Subscription
	// list pages read per board
	Pages        int
	SnapshotPath string
	Notifier     Notifier
	Now          func() time.Time
}

func (t *NoticeTask) Name() string { return "notices" }

func (t *NoticeTask) Run(ctx context.Context, w *Worker) error {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	crawler := notices.New(t.Session, w.Logger())
	crawler.Pages = t.Pages
	crawler.Now = now

	var kept []notices.Notice
	for i, sub := range t.Subscriptions {
		if !w.CanRun() {
			return ErrStopped
		}
		w.Message(fmt.Sprintf("Reading the %s notice board", sub.Source))
		all, err := crawler.Fetch(ctx, sub.Source)
		if err != nil {
			return err
		}
		kept = append(kept, sub.Select(all)...)
		w.Progress(90 * (i + 1) / len(t.Subscriptions))
	}

	prev, ok, err := background.LoadNoticeSnapshot(t.SnapshotPath)
	if err != nil {
		w.Logger().WithError(err).Warn("notice snapshot unreadable, starting over")
		prev, ok = background.NoticeSnapshot{}, false
	}
	var fresh []notices.Notice
	if ok {
		fresh = notices.Unseen(prev.Seen, kept)
	}
	keys := make([]string, len(kept))
	for i, n := range kept {
		keys[i] = n.Key()
	}
	snap := background.NoticeSnapshot{Updated: now(), Seen: background.Remember(prev.Seen, keys)}
	if err := background.SaveNoticeSnapshot(t.SnapshotPath, snap); err != nil {
		return err
	}

	if len(fresh) > 0 && t.Notifier != nil {
		titles := make([]string, len(fresh))
		for i, n := range fresh {
			titles[i] = n.Title
		}
		t.Notifier.Notify(Notification{
			Title: fmt.Sprintf("%d new notices", len(fresh)),
			Body:  strings.Join(titles, "\n"),
		})
	}

	w.Progress(100)
	w.Message(fmt.Sprintf("%d notices, %d new", len(kept), len(fresh)))
	w.SetResult(NoticeSummary{Total: len(kept), New: fresh, Notices: kept})
	return nil
}
