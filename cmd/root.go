package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dataDirFlag  string
	logLevelFlag string
	accountFlag  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xjtutoolbox",
	Short: "xjtutoolbox logs into the XJTU campus systems and keeps your schedule, attendance and grades",
	Long: `xjtutoolbox keeps the campus accounts of one student, logs into the
campus sites through the single sign on portal, and stores the timetable,
exams and attendance of every account in a local database. It can run as a
local api service that checks for new grades in the background.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "keep every file under this directory instead of the OS defaults")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "trace, debug, info, warn or error (default from config.json)")
	rootCmd.PersistentFlags().StringVarP(&accountFlag, "account", "a", "", "uuid or username of the account to use instead of the current one")
}
