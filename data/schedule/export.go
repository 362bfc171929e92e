package schedule

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/xuri/excelize/v2"
)

type ExportOptions struct {
	Term string
	// events on these dates are left out
	Holidays []time.Time
	// reminders 15 minutes before lessons and 30 before exams
	Alarms bool
}

func (o ExportOptions) holiday(t time.Time) bool {
	for _, h := range o.Holidays {
		if h.Year() == t.Year() && h.YearDay() == t.YearDay() {
			return true
		}
	}
	return false
}

// ExportICS writes every lesson and exam of the term as calendar events.
func (s *Service) ExportICS(ctx context.Context, w io.Writer, opts ExportOptions) error {
	term, err := s.resolveTerm(ctx, opts.Term)
	if err != nil {
		return err
	}
	start, err := s.mustTermStart(ctx, term)
	if err != nil {
		return err
	}
	lessons, err := s.CourseInTerm(ctx, term)
	if err != nil {
		return err
	}
	exams, err := s.ExamsInTerm(ctx, term)
	if err != nil {
		return err
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//xjtutoolbox//schedule//CN")
	cal.SetXWRCalName(term)
	stamp := time.Now()

	for _, l := range lessons {
		date := MondayOf(start, l.WeekNumber).AddDate(0, 0, l.DayOfWeek-1)
		if opts.holiday(date) {
			continue
		}
		from, to, err := LessonTimes(date, l.StartTime, l.EndTime)
		if err != nil {
			s.logger.WithError(err).WithField("lesson", l.ID).Warn("skipping lesson with bad periods")
			continue
		}
		ev := cal.AddEvent(fmt.Sprintf("lesson-%d-%s@xjtutoolbox", l.ID, term))
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(from)
		ev.SetEndAt(to)
		ev.SetSummary(l.Name)
		ev.SetLocation(l.Location)
		if l.Teacher != "" {
			ev.SetDescription(l.Teacher)
		}
		if opts.Alarms {
			addAlarm(ev, l.Name, "-PT15M")
		}
	}

	for _, e := range exams {
		from, err := time.ParseInLocation("2006-01-02 15:04", e.Date+" "+e.StartTime, time.Local)
		if err != nil {
			continue
		}
		to, err := time.ParseInLocation("2006-01-02 15:04", e.Date+" "+e.EndTime, time.Local)
		if err != nil {
			continue
		}
		if opts.holiday(from) {
			continue
		}
		ev := cal.AddEvent(fmt.Sprintf("exam-%d-%s@xjtutoolbox", e.ID, term))
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(from)
		ev.SetEndAt(to)
		ev.SetSummary(e.Name)
		ev.SetLocation(e.Location)
		if e.Seat != "" {
			ev.SetDescription("seat " + e.Seat)
		}
		if opts.Alarms {
			addAlarm(ev, e.Name, "-PT30M")
		}
	}
	return cal.SerializeTo(w)
}

func addAlarm(ev *ics.VEvent, text, trigger string) {
	alarm := ev.AddAlarm()
	alarm.SetAction(ics.ActionDisplay)
	alarm.SetTrigger(trigger)
	alarm.SetProperty(ics.ComponentPropertyDescription, text)
}

var dayNames = []string{"", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// ExportXLSX writes the term timetable as a periods by weekdays sheet,
// plus an exam sheet when there are exams.
func (s *Service) ExportXLSX(ctx context.Context, w io.Writer, opts ExportOptions) error {
	term, err := s.resolveTerm(ctx, opts.Term)
	if err != nil {
		return err
	}
	groups, err := s.Groups(ctx, term)
	if err != nil {
		return err
	}
	exams, err := s.ExamsInTerm(ctx, term)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Timetable"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	header, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	body, _ := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})

	f.SetColWidth(sheet, "A", "A", 8)
	f.SetColWidth(sheet, "B", "H", 24)
	f.SetCellValue(sheet, "A1", term)
	for day := 1; day <= 7; day++ {
		name, _ := excelize.CoordinatesToCellName(day+1, 1)
		f.SetCellValue(sheet, name, dayNames[day])
	}
	for p := 1; p <= Periods; p++ {
		name, _ := excelize.CoordinatesToCellName(1, p+1)
		f.SetCellValue(sheet, name, p)
	}
	f.SetCellStyle(sheet, "A1", "H1", header)
	f.SetCellStyle(sheet, "A2", fmt.Sprintf("A%d", Periods+1), header)

	cells := map[string][]string{}
	for _, g := range groups {
		name, _ := excelize.CoordinatesToCellName(g.Day+1, g.Start+1)
		text := fmt.Sprintf("%s\n%s\n%d-%d, weeks %s", g.Name, g.Location, g.Start, g.End, g.WeekNumbers())
		cells[name] = append(cells[name], text)
	}
	for name, texts := range cells {
		f.SetCellValue(sheet, name, strings.Join(texts, "\n\n"))
		f.SetCellStyle(sheet, name, name, body)
	}

	if len(exams) > 0 {
		const examSheet = "Exams"
		if _, err := f.NewSheet(examSheet); err != nil {
			return err
		}
		f.SetSheetRow(examSheet, "A1", &[]any{"Course", "Date", "Start", "End", "Location", "Seat"})
		f.SetCellStyle(examSheet, "A1", "F1", header)
		for i, e := range exams {
			cell, _ := excelize.CoordinatesToCellName(1, i+2)
			f.SetSheetRow(examSheet, cell, &[]any{e.Name, e.Date, e.StartTime, e.EndTime, e.Location, e.Seat})
		}
	}
	_, err = f.WriteTo(w)
	return err
}
