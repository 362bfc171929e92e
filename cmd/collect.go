package cmd

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/xjtu-toolbox/xjtutoolbox/internal/app"
)

var (
	termFlag  string
	forceFlag bool
	// flags of the rooms and evaluate commands
	roomFlags app.Job
	evalFlags app.Job
)

// collectCmd represents the collect command
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "fetch data from the campus sites into the local database",
	Long: `This is the root command to instruct xjtutoolbox on what to fetch for the
selected account (this command is not ran directly)`,
}

func collectJob(kind app.JobKind) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()
		job := app.Job{Kind: kind, Term: termFlag, Force: forceFlag}
		switch kind {
		case app.JobEmptyRooms:
			job = roomFlags
		case app.JobEvaluate:
			job = evalFlags
			job.Term = termFlag
		}
		job.Kind = kind
		if kind != app.JobNotices {
			acct, err := selectedAccount(a)
			if err != nil {
				return err
			}
			job.Account = acct.UUID
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		w, _, err := runJob(ctx, a, job)
		if err != nil {
			return err
		}
		return printResult(w)
	}
}

var collectScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "import the timetable and exams of a term from jwxt",
	Args:  cobra.NoArgs,
	RunE:  collectJob(app.JobSchedule),
}

var collectExamsCmd = &cobra.Command{
	Use:   "exams",
	Short: "import only the exams of a term from jwxt",
	Args:  cobra.NoArgs,
	RunE:  collectJob(app.JobExams),
}

var collectAttendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "fetch attendance records and card swipes and mark the lessons",
	Long: `Fetches the attendance records of the term and the card swipe flow, then
sets the status of each lesson. The swipe query can be slow; stopping it
with Ctrl-C keeps what the records already gave.`,
	Args: cobra.NoArgs,
	RunE: collectJob(app.JobAttendance),
}

var collectScoresCmd = &cobra.Command{
	Use:   "scores",
	Short: "check for new grades, like the background check does",
	Args:  cobra.NoArgs,
	RunE:  collectJob(app.JobScores),
}

var collectRoomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "show which periods the classrooms of a building are free",
	Args:  cobra.NoArgs,
	RunE:  collectJob(app.JobEmptyRooms),
}

var collectEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "fill in the open course evaluation questionnaires",
	Long: `Answers every open questionnaire of the term with one grade, from 1 (best)
to 5 (worst). --redo reopens questionnaires already handed in and submits
them again.`,
	Args: cobra.NoArgs,
	RunE: collectJob(app.JobEvaluate),
}

var collectNoticesCmd = &cobra.Command{
	Use:   "notices",
	Short: "read the subscribed notice boards and report new notices",
	Args:  cobra.NoArgs,
	RunE:  collectJob(app.JobNotices),
}

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.AddCommand(collectScheduleCmd, collectExamsCmd, collectAttendanceCmd, collectScoresCmd,
		collectRoomsCmd, collectEvaluateCmd, collectNoticesCmd)
	for _, c := range []*cobra.Command{collectScheduleCmd, collectExamsCmd, collectEvaluateCmd} {
		c.Flags().StringVar(&termFlag, "term", "", "term like 2023-2024-2 (default: the current term on jwxt)")
	}
	collectScoresCmd.Flags().BoolVar(&forceFlag, "force", false, "run the score hook even without new grades")

	collectRoomsCmd.Flags().StringVar(&roomFlags.Campus, "campus", "兴庆校区", "campus name or code")
	collectRoomsCmd.Flags().StringVar(&roomFlags.Building, "building", "", "building name or code")
	collectRoomsCmd.Flags().StringVar(&roomFlags.Date, "date", "", "day as YYYY-MM-DD (default: today)")
	collectRoomsCmd.MarkFlagRequired("building")

	collectEvaluateCmd.Flags().IntVar(&evalFlags.Grade, "grade", 1, "1 is the best, 5 the worst")
	collectEvaluateCmd.Flags().StringVar(&evalFlags.Comment, "comment", "", "text for the open questions")
	collectEvaluateCmd.Flags().StringSliceVar(&evalFlags.Only, "only", nil, "only courses whose name contains one of these")
	collectEvaluateCmd.Flags().BoolVar(&evalFlags.Redo, "redo", false, "resubmit questionnaires already handed in")
}
