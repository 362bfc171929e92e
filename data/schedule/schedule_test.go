package schedule_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/xjtu-toolbox/xjtutoolbox/data/db"
	"github.com/xjtu-toolbox/xjtutoolbox/data/schedule"
	"github.com/xjtu-toolbox/xjtutoolbox/data/testdb"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func newService(t *testing.T) *schedule.Service {
	return schedule.New(testdb.Open(t), nil)
}

func weeksOf(rows []db.CourseInstance) []int {
	var weeks []int
	for _, r := range rows {
		weeks = append(weeks, r.WeekNumber)
	}
	return weeks
}

func TestWeekOf(t *testing.T) {
	start := date(2020, 8, 31)
	term := "2020-2021-1"
	cases := []struct {
		day  time.Time
		want int
	}{
		{date(2020, 8, 31), 1},
		{date(2020, 9, 6), 1},
		{date(2020, 9, 7), 2},
		{date(2021, 1, 24), 21},
		{date(2021, 1, 31), 22},
		{date(2021, 2, 1), 1},
		{date(2020, 8, 30), 1},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, schedule.WeekOf(term, start, c.day), c.day.Format("2006-01-02"))
	}
	assert.Equal(t, 1, schedule.WeekOf("2021-2022-3", start, date(2020, 10, 26)))
}

func TestMondayOfMatchesWeekOf(t *testing.T) {
	start := date(2024, 2, 26)
	for w := 1; w <= schedule.TermLength("2023-2024-2"); w++ {
		monday := schedule.MondayOf(start, w)
		assert.Equal(t, time.Monday, monday.Weekday())
		assert.Equal(t, start.AddDate(0, 0, 7*(w-1)), monday)
		assert.Equal(t, w, schedule.WeekOf("2023-2024-2", start, monday))
	}
	assert.Equal(t, 8, schedule.TermLength("2023-2024-3"))
}

func TestValidTerm(t *testing.T) {
	assert.NoError(t, schedule.ValidTerm("2024-2025-1"))
	assert.ErrorIs(t, schedule.ValidTerm("2024-2026-1"), schedule.ErrBadTerm)
	assert.ErrorIs(t, schedule.ValidTerm("2024-2025-4"), schedule.ErrBadTerm)
}

func TestAddCourseFromGroupOneRowPerWeek(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	require.NoError(t, svc.SetCurrentTerm(ctx, "2024-2025-1"))

	g := schedule.Group{Name: "线性代数", Day: 2, Start: 5, End: 6, Weeks: []int{1, 3, 5, 7}, Term: "2024-2025-1"}
	require.NoError(t, svc.AddCourseFromGroup(ctx, g))

	rows, err := svc.CourseInTerm(ctx, "")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.ElementsMatch(t, []int{1, 3, 5, 7}, weeksOf(rows))
	for _, r := range rows {
		assert.Equal(t, rows[0].CourseID, r.CourseID)
		assert.Equal(t, 2, r.DayOfWeek)
		assert.Equal(t, 5, r.StartTime)
		assert.Equal(t, 6, r.EndTime)
		assert.Equal(t, db.StatusUnknown, r.Status)
	}

	groups, err := svc.Groups(ctx, "")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "1,3,5,7", groups[0].WeekNumbers())

	bad := schedule.Group{Name: "x", Day: 8, Start: 1, End: 2, Term: "2024-2025-1"}
	assert.Error(t, svc.AddCourseFromGroup(ctx, bad))
}

func TestClearNonManualKeepsManual(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	term := "2024-2025-1"
	require.NoError(t, svc.SetCurrentTerm(ctx, term))
	require.NoError(t, svc.AddCourseFromGroup(ctx, schedule.Group{Name: "A", Day: 1, Start: 1, End: 2, Weeks: []int{1, 2}, Term: term}))
	require.NoError(t, svc.AddManual(ctx, schedule.Group{Name: "B", Day: 3, Start: 3, End: 4, Weeks: []int{1}}))
	require.NoError(t, svc.AddCourseFromGroup(ctx, schedule.Group{Name: "C", Day: 1, Start: 1, End: 2, Weeks: []int{1}, Term: "2023-2024-2"}))

	require.NoError(t, svc.ClearNonManualCourses(ctx, term))
	rows, err := svc.CourseInTerm(ctx, term)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "B", rows[0].Name)
	assert.Equal(t, db.StatusNoCheck, rows[0].Status)
	assert.True(t, rows[0].IsManual())

	other, err := svc.CourseInTerm(ctx, "2023-2024-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func seedManualA(t *testing.T, svc *schedule.Service) {
	ctx := context.Background()
	require.NoError(t, svc.SetCurrentTerm(ctx, "2024-2025-1"))
	require.NoError(t, svc.AddManual(ctx, schedule.Group{Name: "A", Day: 1, Start: 1, End: 2, Weeks: []int{1, 2, 3}}))
}

func remoteA() []schedule.Group {
	return []schedule.Group{{Name: "A", Day: 1, Start: 1, End: 2, Weeks: []int{2, 3, 4}}}
}

func TestImportConflictKeepRemote(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	seedManualA(t, svc)

	found, err := svc.Conflicts(ctx, "2024-2025-1", remoteA())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, []int{1, 2, 3}, found[0].Local.Weeks)

	require.NoError(t, svc.Import(ctx, "2024-2025-1", time.Time{}, remoteA(), []schedule.Resolution{schedule.KeepRemote}))
	rows, err := svc.CourseInTerm(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{2, 3, 4}, weeksOf(rows))
	for _, r := range rows {
		assert.False(t, r.IsManual())
	}
}

func TestImportConflictKeepLocal(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	seedManualA(t, svc)

	require.NoError(t, svc.Import(ctx, "2024-2025-1", time.Time{}, remoteA(), []schedule.Resolution{schedule.KeepLocal}))
	rows, err := svc.CourseInTerm(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 3, 4}, weeksOf(rows))
	for _, r := range rows {
		assert.Equal(t, r.WeekNumber != 4, r.IsManual(), "week %d", r.WeekNumber)
	}

	err = svc.Import(ctx, "2024-2025-1", time.Time{}, remoteA(), []schedule.Resolution{schedule.KeepLocal, schedule.KeepLocal})
	assert.ErrorIs(t, err, schedule.ErrResolutions)
}

func TestImportAdoptsNewerTerm(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	require.NoError(t, svc.SetCurrentTerm(ctx, "2023-2024-2"))

	require.NoError(t, svc.Import(ctx, "2023-2024-1", date(2023, 9, 4), remoteA(), nil))
	term, err := svc.CurrentTerm(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2023-2024-2", term)

	require.NoError(t, svc.Import(ctx, "2024-2025-1", date(2024, 9, 2), remoteA(), nil))
	term, err = svc.CurrentTerm(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-2025-1", term)
	start, ok, err := svc.TermStart(ctx, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, date(2024, 9, 2), start)

	week, err := svc.WeekOf(ctx, date(2024, 9, 10))
	require.NoError(t, err)
	assert.Equal(t, 2, week)
}

func TestEditsAndLockedWeeks(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	term := "2024-2025-1"
	require.NoError(t, svc.SetCurrentTerm(ctx, term))
	require.NoError(t, svc.AddCourseFromGroup(ctx, schedule.Group{Name: "A", Day: 1, Start: 1, End: 2, Weeks: []int{1, 2, 3}, Term: term}))
	require.NoError(t, svc.AddCourseFromGroup(ctx, schedule.Group{Name: "B", Day: 1, Start: 2, End: 3, Weeks: []int{5}, Term: term}))

	week1, err := svc.CourseInWeek(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, week1, 1)
	id := week1[0].ID

	locked, err := svc.LockedWeeks(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, locked)
	assert.ErrorIs(t, svc.SetWeeks(ctx, id, []int{1, 5}), schedule.ErrWeekLocked)

	require.NoError(t, svc.SetWeeks(ctx, id, []int{2, 3, 4}))
	g, err := svc.GroupOf(ctx, id+1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, g.Weeks)

	rows, err := svc.CourseInWeek(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	room := "West-1"
	require.NoError(t, svc.EditLesson(ctx, rows[0].ID, schedule.LessonEdit{Location: &room}, false))
	require.NoError(t, svc.EditLesson(ctx, rows[0].ID, schedule.LessonEdit{Name: strPtr("A2")}, true))

	all, err := svc.CourseInTerm(ctx, "")
	require.NoError(t, err)
	rooms := map[int]string{}
	for _, r := range all {
		if r.Name == "B" {
			continue
		}
		assert.Equal(t, "A2", r.Name)
		rooms[r.WeekNumber] = r.Location
	}
	assert.Equal(t, map[int]string{2: "West-1", 3: "", 4: ""}, rooms)

	require.NoError(t, svc.DeleteLesson(ctx, rows[0].ID, true))
	all, err = svc.CourseInTerm(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func strPtr(s string) *string { return &s }

func TestReconcileFlow(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	term := "2023-2024-2"
	require.NoError(t, svc.SetCurrentTerm(ctx, term))
	require.NoError(t, svc.SetTermStart(ctx, term, date(2024, 2, 26)))
	require.NoError(t, svc.AddCourseFromGroup(ctx, schedule.Group{
		Name: "高等数学", Day: 3, Start: 3, End: 4, Location: "East-101", Weeks: []int{5}, Term: term,
	}))

	swipe := schedule.Swipe{Time: time.Date(2024, 3, 27, 10, 0, 0, 0, time.Local), Place: "East-101"}
	updated, err := svc.Reconcile(ctx, "", nil, []schedule.Swipe{swipe})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, db.StatusChecked, updated[0].Status)

	again, err := svc.Reconcile(ctx, "", nil, []schedule.Swipe{swipe})
	require.NoError(t, err)
	assert.Empty(t, again)

	late := schedule.Swipe{Time: time.Date(2024, 3, 27, 10, 30, 0, 0, time.Local), Place: "East-101"}
	rows, err := svc.CourseInWeek(ctx, 5, "")
	require.NoError(t, err)
	require.NoError(t, svc.SetStatus(ctx, rows[0].ID, db.StatusUnknown))
	updated, err = svc.Reconcile(ctx, "", nil, []schedule.Swipe{late})
	require.NoError(t, err)
	assert.Empty(t, updated)
}

func TestSwipesOutsideTheTermAreIgnored(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	term := "2023-2024-2"
	require.NoError(t, svc.SetCurrentTerm(ctx, term))
	require.NoError(t, svc.SetTermStart(ctx, term, date(2024, 2, 26)))
	require.NoError(t, svc.AddCourseFromGroup(ctx, schedule.Group{
		Name: "高等数学", Day: 3, Start: 3, End: 4, Location: "East-101", Weeks: []int{1}, Term: term,
	}))

	swipes := []schedule.Swipe{
		// week 23, a Wednesday after the 22 week term
		{Time: time.Date(2024, 8, 7, 10, 0, 0, 0, time.Local), Place: "East-101"},
		// the Wednesday before week 1
		{Time: time.Date(2024, 2, 21, 10, 0, 0, 0, time.Local), Place: "East-101"},
	}
	updated, err := svc.Reconcile(ctx, "", nil, swipes)
	require.NoError(t, err)
	assert.Empty(t, updated)

	rows, err := svc.CourseInWeek(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, db.StatusUnknown, rows[0].Status)
}

func TestReconcileRecords(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	term := "2023-2024-2"
	require.NoError(t, svc.SetCurrentTerm(ctx, term))
	require.NoError(t, svc.AddCourseFromGroup(ctx, schedule.Group{
		Name: "大学物理", Day: 1, Start: 1, End: 2, Location: "West-202", Weeks: []int{5, 6}, Term: term,
	}))

	rec := schedule.AttendanceRecord{Term: term, Week: 5, Start: 1, End: 2, Date: date(2024, 3, 25), Status: db.StatusLate}
	updated, err := svc.Reconcile(ctx, "", []schedule.AttendanceRecord{rec, {Week: 6, Start: 1, End: 2, Date: date(2024, 4, 1)}}, nil)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, db.StatusLate, updated[0].Status)
	assert.Equal(t, 5, updated[0].WeekNumber)
}

func TestAttendanceWindow(t *testing.T) {
	winter := time.Date(2024, 3, 27, 14, 30, 0, 0, time.Local)
	assert.False(t, schedule.InAttendanceWindow(winter, 5))
	summer := time.Date(2024, 6, 5, 14, 30, 0, 0, time.Local)
	assert.True(t, schedule.InAttendanceWindow(summer, 5))
	assert.False(t, schedule.InAttendanceWindow(summer, 12))

	from, to, err := schedule.LessonTimes(date(2024, 3, 27), 3, 4)
	require.NoError(t, err)
	assert.Equal(t, "10:10", from.Format("15:04"))
	assert.Equal(t, "12:00", to.Format("15:04"))
}

func TestExports(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	term := "2023-2024-2"
	require.NoError(t, svc.SetCurrentTerm(ctx, term))
	require.NoError(t, svc.SetTermStart(ctx, term, date(2024, 2, 26)))
	require.NoError(t, svc.AddCourseFromGroup(ctx, schedule.Group{
		Name: "高等数学", Day: 3, Start: 3, End: 4, Location: "East-101", Weeks: []int{1, 2}, Term: term,
	}))
	require.NoError(t, svc.ImportExams(ctx, term, []schedule.ExamInput{{
		Name: "高等数学", Location: "East-101", Seat: "12",
		Start: time.Date(2024, 6, 20, 14, 30, 0, 0, time.Local),
		End:   time.Date(2024, 6, 20, 16, 30, 0, 0, time.Local),
	}}))
	exams, err := svc.ExamsInTerm(ctx, "")
	require.NoError(t, err)
	require.Len(t, exams, 1)
	assert.Equal(t, 17, exams[0].WeekNumber)
	assert.Equal(t, 4, exams[0].DayOfWeek)

	var buf bytes.Buffer
	opts := schedule.ExportOptions{Alarms: true, Holidays: []time.Time{date(2024, 3, 6)}}
	require.NoError(t, svc.ExportICS(ctx, &buf, opts))
	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "BEGIN:VEVENT"), "week 2 lesson falls on a holiday")
	assert.Contains(t, out, "TRIGGER:-PT15M")
	assert.Contains(t, out, "TRIGGER:-PT30M")

	buf.Reset()
	require.NoError(t, svc.ExportXLSX(ctx, &buf, schedule.ExportOptions{}))
	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	cell, err := f.GetCellValue("Timetable", "D4")
	require.NoError(t, err)
	assert.Contains(t, cell, "高等数学")
	seat, err := f.GetCellValue("Exams", "F2")
	require.NoError(t, err)
	assert.Equal(t, "12", seat)
}
