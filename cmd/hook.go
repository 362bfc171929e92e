package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xjtu-toolbox/xjtutoolbox/internal/app"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "inspect and try the program run when new grades come out",
	Long: `The score hook is set up under hook.score in config.json and runs in the
hook directory printed by "hook show" (this command is not ran directly)`,
}

var hookShowCmd = &cobra.Command{
	Use:   "show",
	Short: "print the hook settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()
		cfg := a.Hook().Config()
		fmt.Printf("enabled:      %t\n", cfg.Enabled)
		fmt.Printf("program:      %s\n", cfg.Program)
		fmt.Printf("args:         %s\n", strings.Join(cfg.Args, " "))
		fmt.Printf("cooldown:     %s\n", cfg.Cooldown)
		fmt.Printf("keep payload: %t\n", cfg.KeepPayload)
		fmt.Printf("directory:    %s\n", a.Dirs.HookDir())
		return nil
	},
}

var hookTestCmd = &cobra.Command{
	Use:   "test",
	Short: "fetch the grades of the selected account and push them to the hook",
	Long: `Runs the grade check with force, so the hook gets a payload even when
nothing is new. The cooldown still applies.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()
		if !a.Hook().Config().Enabled {
			return fmt.Errorf("hook.score.enabled is false in %s", a.Config.Path())
		}
		acct, err := selectedAccount(a)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		w, _, err := runJob(ctx, a, app.Job{Kind: app.JobScores, Account: acct.UUID, Force: true})
		if err != nil {
			return err
		}
		return printResult(w)
	},
}

func init() {
	rootCmd.AddCommand(hookCmd)
	hookCmd.AddCommand(hookShowCmd, hookTestCmd)
}
