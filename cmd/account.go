package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xjtu-toolbox/xjtutoolbox/internal/accounts"
)

var (
	nicknameFlag    string
	accountTypeFlag string
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "manage the stored campus accounts",
	Long: `Accounts are kept in accounts.json in the data directory, either in plain
JSON, encrypted with a key, or with the secrets in the OS keyring
(account.use_keyring in config.json). This command is not ran directly.`,
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "list the accounts, the current one is starred",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()
		current, _ := a.Accounts.Current()
		all := a.Accounts.Accounts()
		if len(all) == 0 {
			fmt.Println("No accounts, add one with `xjtutoolbox account add`")
			return nil
		}
		for _, acct := range all {
			mark := " "
			if acct.UUID == current.UUID {
				mark = "*"
			}
			fmt.Printf("%s %-12s %-16s %-14s %s\n", mark, acct.Username, acct.Nickname, acct.Type, acct.UUID)
		}
		if a.Accounts.Encrypted() {
			fmt.Println("(encrypted)")
		}
		return nil
	},
}

var accountAddCmd = &cobra.Command{
	Use:   "add [username]",
	Short: "add an account",
	Long:  `defaults to interactive; the password is always read from the terminal`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := accounts.ParseAccountType(accountTypeFlag)
		if err != nil {
			return err
		}
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()

		username := ""
		if len(args) == 1 {
			username = args[0]
		} else if username, err = readNonEmpty("Enter username (student id): "); err != nil {
			return err
		}
		password, err := readNewSecret("password")
		if err != nil {
			return err
		}
		acct, err := a.Accounts.Add(accounts.Account{
			Username: username,
			Password: password,
			Nickname: nicknameFlag,
			Type:     typ,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added %s (%s)\n", acct.DisplayName(), acct.UUID)
		return nil
	},
}

var accountRemoveCmd = &cobra.Command{
	Use:   "remove <account>",
	Short: "remove an account and its local data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()
		acct, err := a.Accounts.Find(args[0])
		if err != nil {
			return err
		}
		if !confirm(fmt.Sprintf("Remove %s and its schedule?", acct.DisplayName())) {
			return nil
		}
		return a.Accounts.Remove(acct.UUID)
	},
}

var accountUseCmd = &cobra.Command{
	Use:   "use <account>",
	Short: "make an account the current one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()
		return a.Accounts.SetCurrent(args[0])
	},
}

var accountRenameCmd = &cobra.Command{
	Use:   "rename <account> <nickname>",
	Short: "change the nickname of an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()
		return a.Accounts.Rename(args[0], args[1])
	},
}

var accountEncryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "encrypt accounts.json with a key asked for at every start",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()
		key, err := readNewSecret("key")
		if err != nil {
			return err
		}
		if err := a.Accounts.Encrypt([]byte(key)); err != nil {
			return err
		}
		if err := a.Config.Set("account.encrypted", true); err != nil {
			return err
		}
		return a.Config.Save()
	},
}

var accountDecryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "store accounts.json without encryption again",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()
		if err := a.Accounts.Decrypt(); err != nil {
			return err
		}
		if err := a.Config.Set("account.encrypted", false); err != nil {
			return err
		}
		return a.Config.Save()
	},
}

var accountClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "remove every account and all local data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()
		if !confirm("Remove every account, its schedule and caches?") {
			return nil
		}
		if err := a.Accounts.Clear(); err != nil {
			return err
		}
		if err := a.Config.Set("account.encrypted", false); err != nil {
			return err
		}
		return a.Config.Save()
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountListCmd, accountAddCmd, accountRemoveCmd, accountUseCmd,
		accountRenameCmd, accountEncryptCmd, accountDecryptCmd, accountClearCmd)
	accountAddCmd.Flags().StringVarP(&nicknameFlag, "nickname", "n", "", "name shown instead of the student id")
	accountAddCmd.Flags().StringVarP(&accountTypeFlag, "type", "t", "UNDERGRADUATE", "UNDERGRADUATE or POSTGRADUATE, picks the identity at login")
}
