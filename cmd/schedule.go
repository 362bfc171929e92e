package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xjtu-toolbox/xjtutoolbox/data/db"
	"github.com/xjtu-toolbox/xjtutoolbox/data/schedule"
)

var (
	startFlag    string
	nameFlag     string
	locationFlag string
	teacherFlag  string
	statusFlag   string
	allWeeksFlag bool
	alarmsFlag   bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "read and edit the local schedule of the selected account",
	Long:  `The schedule is filled by "collect schedule" (this command is not ran directly)`,
}

// withSchedule runs fn with the selected account's schedule service.
func withSchedule(fn func(ctx context.Context, svc *schedule.Service) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()
		acct, err := selectedAccount(a)
		if err != nil {
			return err
		}
		svc, err := a.Schedule(acct)
		if err != nil {
			return err
		}
		return fn(cmd.Context(), svc)
	}
}

var weekdays = [...]string{"", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

var scheduleWeekCmd = &cobra.Command{
	Use:   "week [week]",
	Short: "show the lessons and exams of a week (default: this week)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSchedule(func(ctx context.Context, svc *schedule.Service) error {
			var week int
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid week %q", args[0])
				}
				week = n
			} else {
				n, err := svc.WeekOf(ctx, time.Now())
				if err != nil {
					return err
				}
				week = n
			}
			lessons, err := svc.CourseInWeek(ctx, week, termFlag)
			if err != nil {
				return err
			}
			exams, err := svc.ExamInWeek(ctx, week, termFlag)
			if err != nil {
				return err
			}

			fmt.Printf("Week %d\n", week)
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDAY\tPERIODS\tNAME\tLOCATION\tTEACHER\tSTATUS")
			for _, l := range lessons {
				fmt.Fprintf(tw, "%d\t%s\t%d-%d\t%s\t%s\t%s\t%s\n",
					l.ID, weekdays[l.DayOfWeek], l.StartTime, l.EndTime, l.Name, l.Location, l.Teacher, l.Status)
			}
			for _, e := range exams {
				fmt.Fprintf(tw, "exam\t%s\t%s-%s\t%s\t%s\tseat %s\t\n",
					weekdays[e.DayOfWeek], e.StartTime, e.EndTime, e.Name, e.Location, e.Seat)
			}
			return tw.Flush()
		})(cmd, args)
	},
}

var scheduleTermCmd = &cobra.Command{
	Use:   "term",
	Short: "show the current term, its start and the current week",
	Args:  cobra.NoArgs,
	RunE: withSchedule(func(ctx context.Context, svc *schedule.Service) error {
		term, err := svc.CurrentTerm(ctx)
		if err != nil {
			return err
		}
		if term == "" {
			return schedule.ErrNoTerm
		}
		start, ok, err := svc.TermStart(ctx, term)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("%s (start unknown)\n", term)
			return nil
		}
		fmt.Printf("%s, week 1 starts %s, this is week %d\n",
			term, start.Format(time.DateOnly), schedule.WeekOf(term, start, time.Now()))
		return nil
	}),
}

var scheduleSetTermCmd = &cobra.Command{
	Use:   "set-term <term>",
	Short: "switch the current term, and optionally set its first Monday",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSchedule(func(ctx context.Context, svc *schedule.Service) error {
			if err := svc.SetCurrentTerm(ctx, args[0]); err != nil {
				return err
			}
			if startFlag == "" {
				return nil
			}
			start, err := time.ParseInLocation(time.DateOnly, startFlag, time.Local)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			return svc.SetTermStart(ctx, args[0], start)
		})(cmd, args)
	},
}

func lessonArg(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid lesson id %q", s)
	}
	return uint(id), nil
}

var scheduleEditCmd = &cobra.Command{
	Use:   "edit <lesson-id>",
	Short: "change a lesson's name, location, teacher or attendance status",
	Long: `Lesson ids are in the first column of "schedule week". --all-weeks applies
name, location and teacher to every week of the lesson.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := lessonArg(args[0])
		if err != nil {
			return err
		}
		var edit schedule.LessonEdit
		flags := cmd.Flags()
		if flags.Changed("name") {
			edit.Name = &nameFlag
		}
		if flags.Changed("location") {
			edit.Location = &locationFlag
		}
		if flags.Changed("teacher") {
			edit.Teacher = &teacherFlag
		}
		return withSchedule(func(ctx context.Context, svc *schedule.Service) error {
			if edit.Name != nil || edit.Location != nil || edit.Teacher != nil {
				if err := svc.EditLesson(ctx, id, edit, allWeeksFlag); err != nil {
					return err
				}
			}
			if statusFlag != "" {
				status, err := db.ParseCourseStatus(statusFlag)
				if err != nil {
					return err
				}
				return svc.SetStatus(ctx, id, status)
			}
			return nil
		})(cmd, args)
	},
}

var scheduleWeeksCmd = &cobra.Command{
	Use:   "weeks <lesson-id> [weeks]",
	Short: "show or set the weeks a lesson takes place in, like 1-8,10,12",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := lessonArg(args[0])
		if err != nil {
			return err
		}
		return withSchedule(func(ctx context.Context, svc *schedule.Service) error {
			if len(args) == 1 {
				g, err := svc.GroupOf(ctx, id)
				if err != nil {
					return err
				}
				locked, err := svc.LockedWeeks(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("%s: weeks %s\n", g.Name, g.WeekNumbers())
				if len(locked) > 0 {
					fmt.Printf("taken by other lessons: %v\n", locked)
				}
				return nil
			}
			weeks, err := parseWeeks(args[1])
			if err != nil {
				return err
			}
			return svc.SetWeeks(ctx, id, weeks)
		})(cmd, args)
	},
}

// parseWeeks reads lists like "1-8,10,12".
func parseWeeks(s string) ([]int, error) {
	var weeks []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid week %q", part)
		}
		to := from
		if isRange {
			if to, err = strconv.Atoi(hi); err != nil || to < from {
				return nil, fmt.Errorf("invalid week range %q", part)
			}
		}
		for w := from; w <= to; w++ {
			weeks = append(weeks, w)
		}
	}
	return weeks, nil
}

func exportTo(render func(*schedule.Service) func(context.Context, io.Writer, schedule.ExportOptions) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()
		acct, err := selectedAccount(a)
		if err != nil {
			return err
		}
		svc, err := a.Schedule(acct)
		if err != nil {
			return err
		}
		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		opts := schedule.ExportOptions{Term: termFlag, Holidays: a.Config.Holidays(), Alarms: alarmsFlag}
		if err := render(svc)(cmd.Context(), f, opts); err != nil {
			f.Close()
			os.Remove(args[0])
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", args[0])
		return nil
	}
}

var scheduleExportICSCmd = &cobra.Command{
	Use:   "export-ics <file>",
	Short: "write the term's lessons and exams as an iCalendar file",
	Args:  cobra.ExactArgs(1),
	RunE: exportTo(func(svc *schedule.Service) func(context.Context, io.Writer, schedule.ExportOptions) error {
		return svc.ExportICS
	}),
}

var scheduleExportXLSXCmd = &cobra.Command{
	Use:   "export-xlsx <file>",
	Short: "write the term's timetable as a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: exportTo(func(svc *schedule.Service) func(context.Context, io.Writer, schedule.ExportOptions) error {
		return svc.ExportXLSX
	}),
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleWeekCmd, scheduleTermCmd, scheduleSetTermCmd, scheduleEditCmd,
		scheduleWeeksCmd, scheduleExportICSCmd, scheduleExportXLSXCmd)

	for _, c := range []*cobra.Command{scheduleWeekCmd, scheduleExportICSCmd, scheduleExportXLSXCmd} {
		c.Flags().StringVar(&termFlag, "term", "", "term like 2023-2024-2 (default: the current term)")
	}
	scheduleSetTermCmd.Flags().StringVar(&startFlag, "start", "", "Monday of week 1, YYYY-MM-DD")
	scheduleEditCmd.Flags().StringVar(&nameFlag, "name", "", "new lesson name")
	scheduleEditCmd.Flags().StringVar(&locationFlag, "location", "", "new location")
	scheduleEditCmd.Flags().StringVar(&teacherFlag, "teacher", "", "new teacher")
	scheduleEditCmd.Flags().StringVar(&statusFlag, "status", "", "UNKNOWN, CHECKED, NORMAL, LEAVE, LATE, ABSENT or NO_CHECK")
	scheduleEditCmd.Flags().BoolVar(&allWeeksFlag, "all-weeks", false, "edit every week of the lesson")
	for _, c := range []*cobra.Command{scheduleExportICSCmd, scheduleExportXLSXCmd} {
		c.Flags().BoolVar(&alarmsFlag, "alarms", false, "add reminders before lessons and exams")
	}
}
