package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xjtu-toolbox/xjtutoolbox/data"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/paths"
)

var (
	toVersionFlag int
	fromDirFlag   string
)

// migrateAll opens the schedule database of every account at version,
// which walks it up or down.
func migrateAll(version int) error {
	a, done, err := openApp()
	if err != nil {
		return err
	}
	defer done()
	failed := 0
	for _, acct := range a.Accounts.Accounts() {
		logger := log.WithField("account", acct.DisplayName())
		store, err := data.Open(a.Dirs.ScheduleDB(acct.UUID), data.WithVersion(version), data.WithLogger(logger))
		if err != nil {
			logger.WithError(err).Error("could not migrate")
			failed++
			continue
		}
		store.Close()
		logger.WithField("version", version).Info("database is at version")
	}
	if failed > 0 {
		return fmt.Errorf("%w for %d account(s)", data.ErrMigration, failed)
	}
	return nil
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Runs the up migrations",
	Long:  `Runs the up migrations on the schedule database of every account`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return migrateAll(data.DatabaseVersion)
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Runs the down migrations",
	Long: `Runs the down migrations on the schedule database of every account until
it is at --to, for going back to an older release`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if toVersionFlag < 1 || toVersionFlag > data.DatabaseVersion {
			return fmt.Errorf("--to must be between 1 and %d", data.DatabaseVersion)
		}
		return migrateAll(toVersionFlag)
	},
}

var migrateDataCmd = &cobra.Command{
	Use:   "migrate-data",
	Short: "move the files of an old install into the data directory",
	Long: `Moves accounts.json, config.json, the account databases and the logs of
an old install (the config folder next to the old executable) into the
current directories. Runs on its own at start when --data-dir is not given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.logs.Close()
		moved, err := paths.MigrateLegacy(fromDirFlag, e.dirs)
		if err != nil {
			return err
		}
		if moved {
			fmt.Printf("Moved %s into %s\n", fromDirFlag, e.dirs.Data)
		} else {
			fmt.Println("Nothing to move")
		}
		return nil
	},
}

func init() {
	appCmd.AddCommand(upCmd, downCmd, migrateDataCmd)
	downCmd.Flags().IntVar(&toVersionFlag, "to", 1, "schema version to go down to")
	migrateDataCmd.Flags().StringVar(&fromDirFlag, "from", "", "the old config directory")
	migrateDataCmd.MarkFlagRequired("from")
}
