package schedule

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

var termPattern = regexp.MustCompile(`^(\d{4})-(\d{4})-([123])$`)

// ValidTerm checks the YYYY-YYYY-N form.
func ValidTerm(term string) error {
	m := termPattern.FindStringSubmatch(term)
	if m == nil {
		return fmt.Errorf("%w: %q", ErrBadTerm, term)
	}
	from, _ := strconv.Atoi(m[1])
	to, _ := strconv.Atoi(m[2])
	if to != from+1 {
		return fmt.Errorf("%w: %q", ErrBadTerm, term)
	}
	return nil
}

// TermLength is 8 weeks for the short summer term and 22 otherwise.
func TermLength(term string) int {
	if len(term) > 0 && term[len(term)-1] == '3' {
		return 8
	}
	return 22
}

// MondayOf returns the Monday of week, counting from the term start.
func MondayOf(start time.Time, week int) time.Time {
	return start.AddDate(0, 0, 7*(week-1))
}

// WeekOf returns the week of the term date falls in, or 1 when date is
// outside the term.
func WeekOf(term string, start, date time.Time) int {
	week := weekSince(start, date)
	if week < 1 || week > TermLength(term) {
		return 1
	}
	return week
}

// weekSince counts weeks from start without clamping: the day before
// start is week 0.
func weekSince(start, date time.Time) int {
	s := dayOnly(start)
	d := dayOnly(date.In(start.Location()))
	days := int(math.Round(d.Sub(s).Hours() / 24))
	week := days / 7
	if days%7 < 0 {
		week--
	}
	return week + 1
}

// Weekday numbers Monday 1 through Sunday 7.
func Weekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func dayOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// parseDate accepts both padded dates and the unpadded form old files used.
func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation("2006-1-2", s, time.Local)
}
