package schedule

import (
	"fmt"
	"time"
)

// Period is one lesson slot of the bell schedule, as offsets from midnight.
type Period struct {
	Start           time.Duration
	End             time.Duration
	AttendanceStart time.Duration
	AttendanceEnd   time.Duration
}

func clock(h, m, s int) time.Duration {
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}

const Periods = 11

var winterTime = [Periods + 1]Period{
	1:  {clock(8, 0, 0), clock(8, 50, 0), clock(7, 20, 0), clock(8, 5, 0)},
	2:  {clock(9, 0, 0), clock(9, 50, 0), clock(8, 20, 0), clock(9, 5, 0)},
	3:  {clock(10, 10, 0), clock(11, 0, 0), clock(9, 35, 1), clock(10, 15, 1)},
	4:  {clock(11, 10, 0), clock(12, 0, 0), clock(10, 35, 1), clock(11, 15, 1)},
	5:  {clock(14, 0, 0), clock(14, 50, 0), clock(13, 20, 0), clock(14, 5, 0)},
	6:  {clock(15, 0, 0), clock(15, 50, 0), clock(14, 20, 0), clock(15, 5, 0)},
	7:  {clock(16, 10, 0), clock(17, 0, 0), clock(15, 35, 1), clock(16, 15, 1)},
	8:  {clock(17, 10, 0), clock(18, 0, 0), clock(16, 35, 0), clock(17, 15, 0)},
	9:  {clock(19, 10, 0), clock(20, 0, 0), clock(18, 30, 0), clock(19, 15, 0)},
	10: {clock(20, 10, 0), clock(21, 0, 0), clock(19, 35, 0), clock(20, 15, 0)},
	11: {clock(21, 10, 0), clock(22, 0, 0), clock(20, 35, 0), clock(21, 15, 0)},
}

// mornings are the same all year
var summerTime = [Periods + 1]Period{
	1:  winterTime[1],
	2:  winterTime[2],
	3:  winterTime[3],
	4:  winterTime[4],
	5:  {clock(14, 30, 0), clock(15, 20, 0), clock(13, 50, 0), clock(14, 35, 0)},
	6:  {clock(15, 30, 0), clock(16, 20, 0), clock(14, 50, 0), clock(15, 35, 0)},
	7:  {clock(16, 40, 0), clock(17, 30, 0), clock(16, 5, 1), clock(16, 45, 1)},
	8:  {clock(17, 40, 0), clock(18, 30, 0), clock(17, 5, 0), clock(17, 45, 0)},
	9:  {clock(19, 40, 0), clock(20, 30, 0), clock(19, 0, 0), clock(19, 45, 0)},
	10: {clock(20, 40, 0), clock(21, 30, 0), clock(20, 5, 0), clock(20, 45, 0)},
	11: {clock(21, 40, 0), clock(22, 30, 0), clock(21, 5, 0), clock(21, 45, 0)},
}

// IsSummerTime reports whether date follows the summer bell schedule,
// May through September.
func IsSummerTime(date time.Time) bool {
	return date.Month() >= time.May && date.Month() <= time.September
}

// PeriodOn returns period n of the schedule in force on date.
func PeriodOn(n int, date time.Time) (Period, error) {
	if n < 1 || n > Periods {
		return Period{}, fmt.Errorf("period %d out of range 1-%d", n, Periods)
	}
	if IsSummerTime(date) {
		return summerTime[n], nil
	}
	return winterTime[n], nil
}

// At places an offset from midnight on date's calendar day.
func At(date time.Time, offset time.Duration) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, date.Location()).Add(offset)
}

// LessonTimes converts a period range on date to clock times.
func LessonTimes(date time.Time, start, end int) (time.Time, time.Time, error) {
	first, err := PeriodOn(start, date)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	last, err := PeriodOn(end, date)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return At(date, first.Start), At(date, last.End), nil
}

// InAttendanceWindow reports whether t falls inside the check-in window of
// a lesson starting at period start.
func InAttendanceWindow(t time.Time, start int) bool {
	p, err := PeriodOn(start, t)
	if err != nil {
		return false
	}
	return !t.Before(At(t, p.AttendanceStart)) && !t.After(At(t, p.AttendanceEnd))
}
