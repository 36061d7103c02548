package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dotagraph/coordinator/internal/app"
)

func newSeedCmd() *cobra.Command {
	var (
		start int64
		count int64
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert root accounts into the crawl frontier",
		Long: `Seeds a contiguous range of account ids at depth 0. Ids already
present are left untouched, so re-running with an overlapping range is safe.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer a.Close()

			if start <= 0 {
				return fmt.Errorf("--start must be > 0")
			}
			if count <= 0 {
				return fmt.Errorf("--count must be > 0")
			}
			inserted, err := a.Scheduler.Seed(cmd.Context(), start, start+count-1)
			if err != nil {
				return fmt.Errorf("seed accounts: %w", err)
			}
			a.Log.Info("seed complete",
				zap.Int64("start", start),
				zap.Int64("count", count),
				zap.Int64("inserted", inserted))
			return nil
		},
	}
	cmd.Flags().Int64Var(&start, "start", 1, "first account id to seed")
	cmd.Flags().Int64Var(&count, "count", 1, "number of consecutive ids to seed")
	return cmd
}
