// Package cmd defines the CLI commands for the coordinator executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotagraph/coordinator/internal/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Task coordinator for distributed game-statistics crawling",
		Long: `coordinator hands out crawl assignments to a fleet of untrusted,
transient workers, ingests their results, reclaims abandoned work and
maintains per-hero leaderboards over the collected statistics.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (settings also read from COORDINATOR_* env vars)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSeedCmd())

	return cmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
