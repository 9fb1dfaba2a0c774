package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/splitfeature/internal/cli"
	"github.com/TimurManjosov/splitfeature/internal/client"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow provider lifecycle events",
	Long: `Stream provider events (ready, stale, error, configuration changed)
until interrupted.

Example:
  splitctl watch --env prod`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		err = c.Events(ctx, func(ev client.StreamEvent) error {
			if quiet {
				return nil
			}
			return cli.PrintStreamEvent(cmd.OutOrStdout(), ev, cli.OutputFormat(format))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("event stream: %w", err)
		}
		return nil
	},
}

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "Show provider readiness",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		st, err := c.Ready(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get readiness: %w", err)
		}
		if !quiet {
			return cli.PrintReady(cmd.OutOrStdout(), st, cli.OutputFormat(format))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(readyCmd)
}
