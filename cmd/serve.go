package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spectrail/specwatch/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the monitoring loop",
		Long: `Starts the HTTP server and, when monitor URLs are configured, the
periodic re-check loop. Blocks until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := app.NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			if err := a.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run application: %w", err)
			}
			return nil
		},
	}
}
