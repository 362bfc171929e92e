package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xjtu-toolbox/xjtutoolbox/collection"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sites"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/app"
)

var (
	webvpnFlag bool
	trustFlag  bool
)

func siteNames() string {
	names := make([]string, 0, len(sites.Known()))
	for _, s := range sites.Known() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

var loginCmd = &cobra.Command{
	Use:   "login <site>",
	Short: "log into a campus site interactively",
	Long: fmt.Sprintf(`Logs the selected account into one site, asking for a captcha, a phone
verification code or the identity to use when the portal wants one. A
password typed at a prompt replaces the stored one once the login works.

Sites: %s`, siteNames()),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		site := sites.Site(args[0])
		known := false
		for _, s := range sites.Known() {
			known = known || s == site
		}
		if !known {
			return fmt.Errorf("%w %q, pick one of %s", sites.ErrUnknownSite, args[0], siteNames())
		}

		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()
		acct, err := selectedAccount(a)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		job := app.Job{Kind: app.JobLogin, Account: acct.UUID, Site: string(site), TrustAgent: trustFlag}
		if webvpnFlag {
			job.Method = sites.MethodWebVPN.String()
		}
		w, password, err := runJob(ctx, a, job)
		if err != nil {
			return err
		}
		if w.Outcome() != collection.EventFinished {
			return fmt.Errorf("login to %s failed", site)
		}
		if password != "" && password != acct.Password {
			if err := a.Accounts.SetPassword(acct.UUID, password); err != nil {
				return err
			}
			fmt.Println("Stored the new password")
		}
		fmt.Printf("Logged into %s as %s\n", site, acct.DisplayName())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().BoolVar(&webvpnFlag, "webvpn", false, "log in through the WebVPN gateway")
	loginCmd.Flags().BoolVar(&trustFlag, "trust", false, "ask the portal to trust this device and skip phone verification next time")
}
