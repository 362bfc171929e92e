package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xjtu-toolbox/xjtutoolbox/server"
)

var tokenFlag string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "set the token clients log into the api service with",
	Long: `defaults to interactive but can set the token with a flag. Only a bcrypt
hash is kept, in server.token_hash of config.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.logs.Close()

		token := tokenFlag
		if token == "" {
			if token, err = readNewSecret("token"); err != nil {
				return err
			}
		}
		hash, err := server.HashToken(token)
		if err != nil {
			return fmt.Errorf("could not hash the token: %w", err)
		}
		if err := e.cfg.Set("server.token_hash", hash); err != nil {
			return err
		}
		if err := e.cfg.Save(); err != nil {
			return err
		}
		fmt.Println("Token set, restart the service to use it")
		return nil
	},
}

func init() {
	appCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVarP(&tokenFlag, "token", "t", "", "the new token")
}
