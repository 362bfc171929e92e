package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xjtu-toolbox/xjtutoolbox/collection"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/single"
	"github.com/xjtu-toolbox/xjtutoolbox/server"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the api service",
	Long: `Runs the api service on server.addr and the background grade check.
Only one service runs at a time; starting a second one wakes the first
and exits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		inst, primary, err := single.Acquire(single.SocketPath(single.AppID), func() {
			log.Info("another instance was started, this one keeps running")
		})
		if err != nil {
			return err
		}
		if !primary {
			log.Info("the service is already running")
			return nil
		}

		a, done, err := openApp()
		if err != nil {
			inst.Close()
			return err
		}
		defer done()

		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error { return inst.Run(ctx) })
		eg.Go(func() error { return server.New(a).ListenAndServe(ctx) })
		for _, sched := range []*collection.Scheduler{a.Scheduler(), a.NoticeScheduler()} {
			eg.Go(func() error {
				err := sched.Run(ctx, collection.DefaultPollingInterval)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
		return eg.Wait()
	},
}

func init() {
	appCmd.AddCommand(serveCmd)
}
