package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch every configured mailbox until interrupted",
	RunE:  runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	gen, err := a.generator()
	if err != nil {
		return err
	}
	boxes, err := a.mailboxes(gen)
	if err != nil {
		return err
	}

	srv := a.serveMetrics()
	sup := a.supervisor(boxes)
	if err := sup.Start(ctx); err != nil {
		// Failed mailboxes stay registered; the others keep running.
		a.log.Error().Err(err).Msg("some mailboxes failed to start")
	}
	a.log.Info().Int("mailboxes", len(boxes)).Msg("mailagent running")

	<-ctx.Done()
	a.log.Info().Msg("shutting down")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	sup.Stop(stopCtx)
	if srv != nil {
		if err := srv.Shutdown(stopCtx); err != nil {
			a.log.Warn().Err(err).Msg("metrics server shutdown")
		}
	}
	return nil
}
