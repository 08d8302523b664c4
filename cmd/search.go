package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dumbsheep1990/policy-search-engine/internal/clock/system"
	"github.com/dumbsheep1990/policy-search-engine/internal/id/uuid"
	"github.com/dumbsheep1990/policy-search-engine/internal/logging"
	"github.com/dumbsheep1990/policy-search-engine/internal/search"
)

// newSearchCmd creates the 'search' subcommand for one-shot CLI searches.
func newSearchCmd() *cobra.Command {
	var (
		portals      []string
		topK         int
		maxPerSource int
		enrichTopN   int
		budgetSec    int
		noCrawl      bool
		freshOnly    bool
	)

	cmd := &cobra.Command{
		Use:   "search <keyword> [keyword...]",
		Short: "Runs a one-shot policy search and prints ranked results as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			blobStore, closeBlobs, err := buildBlobStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeBlobs()

			sched, closeBrowser, err := buildScheduler(cfg, logger)
			if err != nil {
				return err
			}
			defer closeBrowser()

			tool, err := buildAsyncTool(cfg, sched, blobStore, system.New(), logger)
			if err != nil {
				return fmt.Errorf("init search tool: %w", err)
			}

			jobID, err := uuid.New().NewID()
			if err != nil {
				return fmt.Errorf("generate job id: %w", err)
			}

			params := search.JobParameters{
				Keywords:      args,
				Portals:       portals,
				TopK:          topK,
				MaxPerSource:  maxPerSource,
				EnrichTopN:    enrichTopN,
				BudgetSeconds: budgetSec,
				CrawlAllowed:  !noCrawl,
				FreshnessOnly: freshOnly,
			}

			results, counters, err := tool.Run(ctx, jobID, params)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			logger.Info("search finished",
				zap.Int("results_ranked", len(results)),
				zap.Int("portals_searched", counters.PortalsSearched),
				zap.Int("portals_failed", counters.PortalsFailed),
			)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}

	cmd.Flags().StringSliceVar(&portals, "portals", nil, "portal names to search (default all configured)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "maximum ranked results to return (default from config)")
	cmd.Flags().IntVar(&maxPerSource, "max-per-source", 0, "per-portal cap in the final ranking (default from config)")
	cmd.Flags().IntVar(&enrichTopN, "enrich", 0, "crawl and enrich the top N results")
	cmd.Flags().IntVar(&budgetSec, "budget", 0, "overall time budget in seconds (0 means no budget)")
	cmd.Flags().BoolVar(&noCrawl, "no-crawl", false, "disable result page crawling")
	cmd.Flags().BoolVar(&freshOnly, "fresh-only", false, "drop results without a publication date")

	return cmd
}
