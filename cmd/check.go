package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spectrail/specwatch/internal/app"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check URL",
		Short: "Force-refresh one tracked page and report detected changes",
		Long: `Re-fetches the page past the cache, diffs the new snapshot against the
last known one and reports changes, discontinuation and alternatives. A
review item is published when anything noteworthy is found.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := app.NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			defer func() { _ = a.Close() }()

			result, err := a.Monitor().CheckURL(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("check %s: %w", args[0], err)
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			cmd.Println(string(out))
			return nil
		},
	}
}
