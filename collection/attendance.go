package collection

import (
	"context"
	"time"

	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/attendance"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sites"
	"github.com/xjtu-toolbox/xjtutoolbox/data/db"
	"github.com/xjtu-toolbox/xjtutoolbox/data/schedule"
)

const (
	// how long the swipe query may run before the user is told to cancel
	DefaultSlowFlow  = 3500 * time.Millisecond
	slowFlowDeadTime = 2 * time.Second
	SlowFlowMessage  = "Card swipe query is slow. You can cancel now; the attendance records already fetched will still be saved."
)

type AttendanceSummary struct {
	Term    string `json:"term"`
	Records int    `json:"records"`
	Swipes  int    `json:"swipes"`
	Updated int    `json:"updated"`
	// the swipe query was cut short
	Partial bool `json:"partial"`
}

// AttendanceTask fetches attendance verdicts and card swipes of the current
// term and reconciles them into the schedule. Submit it with its Monitor.
type AttendanceTask struct {
	Account
	Schedule *schedule.Service
	SlowFlow time.Duration
	Now      func() time.Time

	recordsDone chan struct{}
	flowDone    chan struct{}
}

func NewAttendanceTask(account Account, sched *schedule.Service) *AttendanceTask {
	return &AttendanceTask{
		Account:     account,
		Schedule:    sched,
		SlowFlow:    DefaultSlowFlow,
		Now:         time.Now,
		recordsDone: make(chan struct{}),
		flowDone:    make(chan struct{}),
	}
}

func (t *AttendanceTask) Name() string { return "attendance" }

// Monitor waits for the records and then for the swipe query; when that is
// slow it shortens the dead time and tells the user cancelling is safe.
func (t *AttendanceTask) Monitor() Monitor {
	return func(ctx context.Context, w *Worker) error {
		select {
		case <-t.recordsDone:
		case <-ctx.Done():
			return nil
		}
		timer := time.NewTimer(t.SlowFlow)
		defer timer.Stop()
		select {
		case <-t.flowDone:
		case <-ctx.Done():
		case <-timer.C:
			w.Logger().Info("swipe query is slow")
			w.SetDeadTime(slowFlowDeadTime)
			w.Message(SlowFlowMessage)
		}
		return nil
	}
}

func (t *AttendanceTask) Run(ctx context.Context, w *Worker) error {
	w.Indeterminate(true)
	ss, err := t.session(ctx, w, sites.Attendance)
	if err != nil {
		return err
	}
	client := attendance.New(ss, w.Logger())

	w.Message("Looking up the term")
	near, err := client.NearTerm(ctx)
	if err != nil {
		return err
	}
	start, err := time.ParseInLocation("2006-01-02", near.StartDate, time.Local)
	if err != nil {
		return services.Unparseable("term start %q", near.StartDate)
	}
	end := t.Now()

	term := ""
	if schedule.ValidTerm(near.Name) == nil {
		term = near.Name
		if _, ok, err := t.Schedule.TermStart(ctx, term); err != nil {
			return err
		} else if !ok {
			if err := t.Schedule.SetTermStart(ctx, term, start); err != nil {
				return err
			}
		}
	}
	summary := AttendanceSummary{Term: term}

	w.Message("Fetching attendance records")
	records, err := client.AllRecords(ctx, start, end)
	close(t.recordsDone)
	if err != nil {
		return err
	}
	summary.Records = len(records)
	if !w.CanRun() {
		return t.partial(ctx, w, term, records, summary)
	}

	w.Message("Fetching card swipes")
	flowCtx, cancel := w.StopContext(ctx)
	flows, err := client.Flow(flowCtx, start, end)
	cancel()
	close(t.flowDone)
	if !w.CanRun() {
		return t.partial(ctx, w, term, records, summary)
	}
	if err != nil {
		return err
	}
	swipes := swipesOf(flows)
	summary.Swipes = len(swipes)

	w.Indeterminate(false)
	w.Message("Updating the schedule")
	updated, err := t.Schedule.Reconcile(ctx, term, recordsOf(records), swipes)
	if err != nil {
		return err
	}
	summary.Updated = len(updated)
	w.Progress(100)
	w.SetResult(summary)
	return nil
}

// partial saves the verdicts fetched before the stop, then reports the stop.
func (t *AttendanceTask) partial(ctx context.Context, w *Worker, term string, records []attendance.Record, summary AttendanceSummary) error {
	updated, err := t.Schedule.Reconcile(context.WithoutCancel(ctx), term, recordsOf(records), nil)
	if err != nil {
		return err
	}
	summary.Partial = true
	summary.Updated = len(updated)
	w.SetResult(summary)
	w.Logger().WithField("updated", len(updated)).Info("saved attendance records before stopping")
	return ErrStopped
}

func recordStatus(t attendance.WaterType) db.CourseStatus {
	switch t {
	case attendance.Normal:
		return db.StatusNormal
	case attendance.Late:
		return db.StatusLate
	case attendance.Absence:
		return db.StatusAbsent
	case attendance.Leave:
		return db.StatusLeave
	}
	return 0
}

func recordsOf(records []attendance.Record) []schedule.AttendanceRecord {
	out := make([]schedule.AttendanceRecord, 0, len(records))
	for _, r := range records {
		status := recordStatus(r.Status)
		if status == 0 {
			continue
		}
		out = append(out, schedule.AttendanceRecord{
			Term:   r.Term,
			Week:   r.Week,
			Start:  r.StartPeriod,
			End:    r.EndPeriod,
			Date:   r.Date,
			Status: status,
		})
	}
	return out
}

func swipesOf(flows []attendance.Flow) []schedule.Swipe {
	out := make([]schedule.Swipe, 0, len(flows))
	for _, f := range flows {
		if f.Type != attendance.Valid && f.Type != attendance.Repeated {
			continue
		}
		at, err := f.Time()
		if err != nil {
			continue
		}
		out = append(out, schedule.Swipe{Time: at, Place: f.Place})
	}
	return out
}
