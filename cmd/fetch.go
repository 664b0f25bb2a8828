package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spectrail/specwatch/internal/app"
)

func newFetchCmd() *cobra.Command {
	var (
		force         bool
		maxConcurrent int
	)
	cmd := &cobra.Command{
		Use:   "fetch URL [URL...]",
		Short: "Fetch one or more product pages and print the results",
		Args:  cobra.MinimumNArgs(1),
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

			results := a.Fetcher().BatchFetch(cmd.Context(), args, maxConcurrent, force)
			out, err := json.MarshalIndent(results, "", "  ")
			if err != nil {
				return fmt.Errorf("encode results: %w", err)
			}
			cmd.Println(string(out))

			failed := 0
			for _, res := range results {
				if !res.Success {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d fetches failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "bypass the cache")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "chunk size for batch fetching (default from config)")
	return cmd
}
