// Package cmd defines and implements the CLI commands for the policysearch executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dumbsheep1990/policy-search-engine/internal/config"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policysearch",
		Short: "A concurrent policy search backend over government portals.",
		Long: `policysearch queries a configured set of government policy portals,
merges and ranks the results across portals, and optionally crawls the
top hits to enrich them with extracted article content. It can run as a
long-lived HTTP service or perform a one-shot search from the CLI.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (overrides POLICYSEARCH_* env vars)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())

	return cmd
}

// loadConfig reads the config file named by the --config flag.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
