package collection

import (
	"context"
	"errors"
	"fmt"

	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/gmis"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/jwxt"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sites"
	"github.com/xjtu-toolbox/xjtutoolbox/data/schedule"
)

// ErrNoExams is returned when exams are asked of a site that has none.
var ErrNoExams = errors.New("postgraduate exams are not listed online")

// ScheduleSummary is the result of a ScheduleTask.
type ScheduleSummary struct {
	Term      string `json:"term"`
	Lessons   int    `json:"lessons"`
	Exams     int    `json:"exams"`
	Conflicts int    `json:"conflicts"`
}

// ScheduleTask pulls the timetable and exams of a term from jwxt and
// imports them into the schedule store. Postgraduate timetables come from
// gmis, which lists no exams.
type ScheduleTask struct {
	Account
	Schedule *schedule.Service
	// empty asks jwxt for the current term
	Term        string
	SkipLessons bool
	SkipExams   bool
	// Resolve answers conflicts with manual lessons; nil keeps the
	// fetched lesson every time.
	Resolve func([]schedule.Conflict) []schedule.Resolution
}

func (t *ScheduleTask) Name() string {
	switch {
	case t.SkipLessons:
		return "exams"
	case t.SkipExams:
		return "schedule"
	}
	return "schedule+exams"
}

func (t *ScheduleTask) Run(ctx context.Context, w *Worker) error {
	w.Progress(0)
	if ScheduleSite(t.Creds) == sites.Gmis {
		return t.runGraduate(ctx, w)
	}
	ss, err := t.session(ctx, w, sites.Jwxt)
	if err != nil {
		return err
	}
	client := jwxt.New(ss, w.Logger())
	w.Progress(10)

	term := t.Term
	if term == "" {
		w.Message("Looking up the current term")
		if term, err = client.CurrentTerm(ctx); err != nil {
			return err
		}
	}
	if err := schedule.ValidTerm(term); err != nil {
		return err
	}
	summary := ScheduleSummary{Term: term}
	w.Progress(20)

	start, err := client.TermStart(ctx, term)
	if err != nil {
		return err
	}
	if !w.CanRun() {
		return ErrStopped
	}
	w.Progress(30)

	if !t.SkipLessons {
		w.Message(fmt.Sprintf("Fetching the timetable of %s", term))
		lessons, err := client.Lessons(ctx, term)
		if err != nil {
			return err
		}
		if !w.CanRun() {
			return ErrStopped
		}
		groups := lessonGroups(lessons)
		found, err := t.Schedule.Conflicts(ctx, term, groups)
		if err != nil {
			return err
		}
		if err := t.Schedule.Import(ctx, term, start, groups, t.resolve(found)); err != nil {
			return err
		}
		summary.Lessons = len(groups)
		summary.Conflicts = len(found)
	} else if err := t.Schedule.SetTermStart(ctx, term, start); err != nil {
		return err
	}
	w.Progress(60)

	if !t.SkipExams {
		if !w.CanRun() {
			return ErrStopped
		}
		w.Message(fmt.Sprintf("Fetching the exams of %s", term))
		exams, err := client.Exams(ctx, term)
		if err != nil {
			return err
		}
		inputs := make([]schedule.ExamInput, len(exams))
		for i, e := range exams {
			inputs[i] = schedule.ExamInput{Name: e.Name, Location: e.Location, Seat: e.Seat, Start: e.Start, End: e.End}
		}
		if err := t.Schedule.ImportExams(ctx, term, inputs); err != nil {
			return err
		}
		summary.Exams = len(exams)
	}

	w.Progress(100)
	w.Message(fmt.Sprintf("Imported %d lessons and %d exams", summary.Lessons, summary.Exams))
	w.SetResult(summary)
	return nil
}

func (t *ScheduleTask) resolve(found []schedule.Conflict) []schedule.Resolution {
	if len(found) == 0 {
		return nil
	}
	if t.Resolve != nil {
		return t.Resolve(found)
	}
	out := make([]schedule.Resolution, len(found))
	for i := range out {
		out[i] = schedule.KeepRemote
	}
	return out
}

func lessonGroups(lessons []jwxt.Lesson) []schedule.Group {
	groups := make([]schedule.Group, 0, len(lessons))
	for _, l := range lessons {
		if len(l.Weeks) == 0 {
			continue
		}
		groups = append(groups, schedule.Group{
			Name:     l.Name,
			Day:      l.Weekday,
			Start:    l.Start,
			End:      l.End,
			Location: l.Location,
			Teacher:  l.Teacher,
			Weeks:    l.Weeks,
		})
	}
	return groups
}

func (t *ScheduleTask) runGraduate(ctx context.Context, w *Worker) error {
	if t.SkipLessons {
		return ErrNoExams
	}
	ss, err := t.session(ctx, w, sites.Gmis)
	if err != nil {
		return err
	}
	client := gmis.New(ss, w.Logger())
	w.Progress(10)

	w.Message("Fetching the timetable")
	tt, err := client.Timetable(ctx, t.Term)
	if err != nil {
		return err
	}
	if err := schedule.ValidTerm(tt.Term); err != nil {
		return err
	}
	if !w.CanRun() {
		return ErrStopped
	}
	w.Progress(40)

	w.Message("Looking up when the term starts")
	starts, err := client.TermStarts(ctx)
	if err != nil {
		return err
	}
	start, ok := starts[tt.Term]
	if !ok {
		return fmt.Errorf("the school calendar has no start for %s", tt.Term)
	}
	if !w.CanRun() {
		return ErrStopped
	}
	w.Progress(60)

	groups := make([]schedule.Group, 0, len(tt.Lessons))
	for _, l := range tt.Lessons {
		if len(l.Weeks) == 0 {
			continue
		}
		groups = append(groups, schedule.Group{
			Name:     l.Name,
			Day:      l.Weekday,
			Start:    l.Start,
			End:      l.End,
			Location: l.Location,
			Teacher:  l.Teacher,
			Weeks:    l.Weeks,
		})
	}
	found, err := t.Schedule.Conflicts(ctx, tt.Term, groups)
	if err != nil {
		return err
	}
	if err := t.Schedule.Import(ctx, tt.Term, start, groups, t.resolve(found)); err != nil {
		return err
	}

	summary := ScheduleSummary{Term: tt.Term, Lessons: len(groups), Conflicts: len(found)}
	w.Progress(100)
	w.Message(fmt.Sprintf("Imported %d lessons", summary.Lessons))
	w.SetResult(summary)
	return nil
}
