package cmd

import (
	"github.com/spf13/cobra"
)

// appCmd represents the app command
var appCmd = &cobra.Command{
	Use:   "app",
	Short: "used to run and maintain the xjtutoolbox service",
	Long: `The xjtutoolbox service is a local json and websocket api over the stored
accounts and schedules that also checks for new grades in the background
(this command is not ran directly)`,
}

func init() {
	rootCmd.AddCommand(appCmd)
}
