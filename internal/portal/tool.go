package portal

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dumbsheep1990/policy-search-engine/internal/aggregate"
	"github.com/dumbsheep1990/policy-search-engine/internal/engine"
	"github.com/dumbsheep1990/policy-search-engine/internal/extract"
	"github.com/dumbsheep1990/policy-search-engine/internal/schedule"
	"github.com/dumbsheep1990/policy-search-engine/internal/search"
)

// Tool queries a fixed set of portals synchronously, one request at a time.
type Tool struct {
	client  *Client
	portals []Portal
	logger  *zap.Logger
}

// NewTool constructs the synchronous search tool.
func NewTool(client *Client, portals []Portal, logger *zap.Logger) *Tool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tool{client: client, portals: portals, logger: logger}
}

// PortalNames lists the configured portals in declaration order.
func (t *Tool) PortalNames() []string {
	names := make([]string, 0, len(t.portals))
	for _, p := range t.portals {
		names = append(names, p.Name)
	}
	return names
}

// Search runs one keyword against the selected portals sequentially. Partial
// portal failures are tolerated; an error is returned only when every portal
// failed.
func (t *Tool) Search(ctx context.Context, keyword string, portalNames []string) ([]search.Result, error) {
	selected, err := t.selectPortals(portalNames)
	if err != nil {
		return nil, err
	}

	var results []search.Result
	var errs []error
	for _, p := range selected {
		res, err := t.client.Search(ctx, p, keyword)
		if err != nil {
			t.logger.Warn("portal search failed",
				zap.String("portal", p.Name),
				zap.String("keyword", keyword),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		results = append(results, res...)
	}
	if len(results) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("all portals failed: %w", errors.Join(errs...))
	}
	return results, nil
}

func (t *Tool) selectPortals(names []string) ([]Portal, error) {
	if len(names) == 0 {
		if len(t.portals) == 0 {
			return nil, errors.New("no portals configured")
		}
		return t.portals, nil
	}
	byName := make(map[string]Portal, len(t.portals))
	for _, p := range t.portals {
		byName[strings.ToLower(p.Name)] = p
	}
	selected := make([]Portal, 0, len(names))
	for _, name := range names {
		p, ok := byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown portal %q", name)
		}
		selected = append(selected, p)
	}
	return selected, nil
}

// AsyncToolConfig wires the async tool's collaborators. Scheduler and
// Snapshots are optional; without them result enrichment is skipped.
type AsyncToolConfig struct {
	Client              *Client
	Portals             []Portal
	Engine              *engine.Engine
	Ranking             aggregate.Config
	Clock               search.Clock
	Scheduler           *schedule.Scheduler
	Snapshots           search.BlobStore
	SnapshotPrefix      string
	SnapshotContentType string
	Logger              *zap.Logger
}

// AsyncTool fans keyword searches out across portals through the execution
// engine, aggregates the merged ranking, and optionally enriches the top
// results by crawling them.
type AsyncTool struct {
	tool        *Tool
	engine      *engine.Engine
	ranking     aggregate.Config
	clock       search.Clock
	scheduler   *schedule.Scheduler
	snapshots   search.BlobStore
	prefix      string
	contentType string
	logger      *zap.Logger
}

// searchHit is the per-task value flowing through the engine.
type searchHit struct {
	keyword string
	results []search.Result
}

// NewAsyncTool constructs the asynchronous search tool.
func NewAsyncTool(cfg AsyncToolConfig) (*AsyncTool, error) {
	if cfg.Client == nil {
		return nil, errors.New("portal client is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("execution engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.SnapshotContentType == "" {
		cfg.SnapshotContentType = "text/html; charset=utf-8"
	}
	return &AsyncTool{
		tool:        NewTool(cfg.Client, cfg.Portals, cfg.Logger),
		engine:      cfg.Engine,
		ranking:     cfg.Ranking,
		clock:       cfg.Clock,
		scheduler:   cfg.Scheduler,
		snapshots:   cfg.Snapshots,
		prefix:      cfg.SnapshotPrefix,
		contentType: cfg.SnapshotContentType,
		logger:      cfg.Logger,
	}, nil
}

// Run executes the full search pipeline for one job: fan out, aggregate,
// filter, enrich. Partial portal failures are reflected in the counters, not
// returned as errors; Run errors only when nothing could be searched at all.
func (t *AsyncTool) Run(ctx context.Context, jobID string, params search.JobParameters) ([]search.RankedResult, search.JobCounters, error) {
	var counters search.JobCounters

	keywords := normalizeKeywords(params.Keywords)
	if len(keywords) == 0 {
		return nil, counters, errors.New("at least one keyword is required")
	}
	portals, err := t.tool.selectPortals(params.Portals)
	if err != nil {
		return nil, counters, err
	}

	if params.BudgetSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(params.BudgetSeconds)*time.Second)
		defer cancel()
	}

	agg, err := t.aggregatorFor(params)
	if err != nil {
		return nil, counters, err
	}

	tasks := make([]engine.Task, 0, len(keywords)*len(portals))
	for _, kw := range keywords {
		for _, p := range portals {
			tasks = append(tasks, engine.Task{
				ID: p.Name + "/" + kw,
				Run: func(ctx context.Context) (any, error) {
					results, err := t.tool.client.Search(ctx, p, kw)
					if err != nil {
						return nil, err
					}
					return searchHit{keyword: kw, results: results}, nil
				},
			})
		}
	}

	batch, err := t.engine.Execute(ctx, tasks, func(values []any) (any, error) {
		lists := groupByKeyword(values, keywords)
		return agg.Aggregate(lists, keywords), nil
	})
	if err != nil {
		return nil, counters, err
	}

	for _, tr := range batch.Tasks {
		counters.Retries += tr.Attempts - 1
		if tr.Status == engine.StatusSucceeded {
			counters.PortalsSearched++
			if hit, ok := tr.Value.(searchHit); ok {
				counters.ResultsRaw += len(hit.results)
			}
		} else {
			counters.PortalsFailed++
		}
	}
	if batch.Succeeded == 0 {
		return nil, counters, fmt.Errorf("all portal searches failed (%d failed, %d timed out, %d canceled)",
			batch.Failed, batch.TimedOut, batch.Canceled)
	}

	ranked, _ := batch.Aggregate.([]search.RankedResult)
	ranked = filterByDate(ranked, params)
	counters.ResultsRanked = len(ranked)

	if params.CrawlAllowed && params.EnrichTopN > 0 && t.scheduler != nil {
		counters.PagesEnriched = t.enrich(ctx, jobID, ranked, params.EnrichTopN)
	}

	t.logger.Info("search pipeline complete",
		zap.String("job_id", jobID),
		zap.Int("portals_searched", counters.PortalsSearched),
		zap.Int("portals_failed", counters.PortalsFailed),
		zap.Int("results_raw", counters.ResultsRaw),
		zap.Int("results_ranked", counters.ResultsRanked),
		zap.Int("pages_enriched", counters.PagesEnriched),
	)
	return ranked, counters, nil
}

func (t *AsyncTool) aggregatorFor(params search.JobParameters) (*aggregate.Aggregator, error) {
	cfg := t.ranking
	if params.TopK > 0 {
		cfg.TopK = params.TopK
	}
	if params.MaxPerSource > 0 {
		cfg.MaxPerSource = params.MaxPerSource
	}
	return aggregate.New(cfg, t.clock, t.logger)
}

// enrich crawls the top N ranked documents, refreshing quality and metadata
// from the fetched page and snapshotting the raw payload. Failures leave the
// original result untouched.
func (t *AsyncTool) enrich(ctx context.Context, jobID string, ranked []search.RankedResult, topN int) int {
	enriched := 0
	for i := range ranked {
		if i >= topN {
			break
		}
		if ctx.Err() != nil {
			break
		}
		rr := &ranked[i]
		resp, report, err := t.scheduler.Fetch(ctx, search.CrawlRequest{JobID: jobID, URL: rr.URL})
		if err != nil {
			t.logger.Warn("enrichment crawl failed",
				zap.String("job_id", jobID),
				zap.String("url", rr.URL),
				zap.Error(err),
			)
			continue
		}
		rr.Quality = report.Score

		if doc, err := extract.FromHTML(resp.Body, rr.URL); err == nil {
			if len(doc.Text) > len(rr.Summary) {
				rr.Summary = doc.Summary(320)
			}
			if rr.PublishedAt == nil && doc.PublishedAt != nil {
				rr.PublishedAt = doc.PublishedAt
			}
		}

		if t.snapshots != nil {
			key := path.Join(t.prefix, jobID, rr.Fingerprint+".html")
			uri, err := t.snapshots.PutObject(ctx, key, t.contentType, resp.Body)
			if err != nil {
				t.logger.Warn("snapshot write failed",
					zap.String("job_id", jobID),
					zap.String("url", rr.URL),
					zap.Error(err),
				)
			} else {
				rr.ContentURI = uri
			}
		}
		enriched++
	}
	return enriched
}

func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" || seen[strings.ToLower(kw)] {
			continue
		}
		seen[strings.ToLower(kw)] = true
		out = append(out, kw)
	}
	return out
}

// groupByKeyword buckets task values into one result list per keyword,
// preserving keyword order.
func groupByKeyword(values []any, keywords []string) [][]search.Result {
	index := make(map[string]int, len(keywords))
	for i, kw := range keywords {
		index[kw] = i
	}
	lists := make([][]search.Result, len(keywords))
	for _, v := range values {
		hit, ok := v.(searchHit)
		if !ok {
			continue
		}
		i, ok := index[hit.keyword]
		if !ok {
			continue
		}
		lists[i] = append(lists[i], hit.results...)
	}
	return lists
}

func filterByDate(ranked []search.RankedResult, params search.JobParameters) []search.RankedResult {
	if !params.FreshnessOnly && params.PublishedAfter == nil && params.PublishedBefore == nil {
		return ranked
	}
	out := make([]search.RankedResult, 0, len(ranked))
	for _, rr := range ranked {
		if rr.PublishedAt == nil {
			// Undated documents survive date bounds but not freshness-only.
			if params.FreshnessOnly {
				continue
			}
			out = append(out, rr)
			continue
		}
		if params.PublishedAfter != nil && rr.PublishedAt.Before(*params.PublishedAfter) {
			continue
		}
		if params.PublishedBefore != nil && rr.PublishedAt.After(*params.PublishedBefore) {
			continue
		}
		out = append(out, rr)
	}
	return out
}
