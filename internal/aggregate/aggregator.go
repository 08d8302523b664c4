// Package aggregate merges per-keyword search result lists into one
// deduplicated, scored, diversity-constrained ranking.
package aggregate

import (
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dumbsheep1990/policy-search-engine/internal/search"
)

// Config controls aggregation behavior.
type Config struct {
	Weights         Weights
	HalfLifeDays    float64
	TopK            int
	MaxPerSource    int
	AuthorityByHost map[string]float64
}

// Aggregator merges, scores, and ranks portal search results.
type Aggregator struct {
	weights      Weights
	halfLife     float64
	topK         int
	maxPerSource int
	authority    map[string]float64
	clock        search.Clock
	logger       *zap.Logger
}

// occurrenceBoost is applied per extra keyword list a document appears in.
const occurrenceBoost = 0.1

// New constructs an Aggregator, applying defaults for unset config values.
func New(cfg Config, clock search.Clock, logger *zap.Logger) (*Aggregator, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if cfg.HalfLifeDays <= 0 {
		cfg.HalfLifeDays = 180
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}
	if cfg.MaxPerSource <= 0 {
		cfg.MaxPerSource = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		weights:      cfg.Weights.Normalized(),
		halfLife:     cfg.HalfLifeDays,
		topK:         cfg.TopK,
		maxPerSource: cfg.MaxPerSource,
		authority:    cfg.AuthorityByHost,
		clock:        clock,
		logger:       logger,
	}, nil
}

// Aggregate merges one result list per keyword into a ranked top-K selection.
func (a *Aggregator) Aggregate(lists [][]search.Result, keywords []string) []search.RankedResult {
	merged := a.merge(lists)
	now := time.Now().UTC()
	if a.clock != nil {
		now = a.clock.Now()
	}
	for i := range merged {
		merged[i].Score = a.score(&merged[i], keywords, now)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Fingerprint < merged[j].Fingerprint
	})
	selected := a.selectDiverse(merged)
	a.logger.Debug("aggregation complete",
		zap.Int("raw", rawCount(lists)),
		zap.Int("merged", len(merged)),
		zap.Int("selected", len(selected)),
	)
	return selected
}

// merge deduplicates results across keyword lists by fingerprint.
func (a *Aggregator) merge(lists [][]search.Result) []search.RankedResult {
	byFingerprint := make(map[string]*search.RankedResult)
	order := make([]string, 0)

	for _, list := range lists {
		seenInList := make(map[string]bool, len(list))
		for _, res := range list {
			fp := Fingerprint(res.URL, res.Title)
			if fp == "" {
				continue
			}
			existing, ok := byFingerprint[fp]
			if !ok {
				rr := search.RankedResult{
					Result:      res,
					Fingerprint: fp,
					Occurrences: 1,
				}
				if res.Source != "" {
					rr.Sources = []string{res.Source}
				}
				if res.Keyword != "" {
					rr.Keywords = []string{res.Keyword}
				}
				byFingerprint[fp] = &rr
				order = append(order, fp)
				seenInList[fp] = true
				continue
			}
			// Same document under another keyword or portal: keep the best
			// fields and count the extra sighting.
			if !seenInList[fp] {
				existing.Occurrences++
				seenInList[fp] = true
			}
			if res.Relevance > existing.Relevance {
				existing.Relevance = res.Relevance
			}
			if res.Quality > existing.Quality {
				existing.Quality = res.Quality
			}
			if res.Authority > existing.Authority {
				existing.Authority = res.Authority
			}
			if existing.PublishedAt == nil && res.PublishedAt != nil {
				existing.PublishedAt = res.PublishedAt
			}
			if res.Summary != "" && len(res.Summary) > len(existing.Summary) {
				existing.Summary = res.Summary
			}
			existing.Sources = appendUnique(existing.Sources, res.Source)
			existing.Keywords = appendUnique(existing.Keywords, res.Keyword)
		}
	}

	merged := make([]search.RankedResult, 0, len(order))
	for _, fp := range order {
		merged = append(merged, *byFingerprint[fp])
	}
	return merged
}

func (a *Aggregator) score(rr *search.RankedResult, keywords []string, now time.Time) float64 {
	relevance := clamp01(rr.Relevance * (1 + occurrenceBoost*float64(rr.Occurrences-1)))
	quality := clamp01(rr.Quality)
	freshness := a.freshness(rr.PublishedAt, now)
	authority := a.authorityOf(rr.URL)
	// A portal-configured authority is more specific than the host table.
	if rr.Authority > 0 {
		authority = clamp01(rr.Authority)
	}
	coverage := keywordCoverage(rr.Title, rr.Summary, keywords)

	return a.weights.Relevance*relevance +
		a.weights.Quality*quality +
		a.weights.Freshness*freshness +
		a.weights.Authority*authority +
		a.weights.Coverage*coverage
}

// freshness decays exponentially with document age; undated documents score
// a neutral 0.5.
func (a *Aggregator) freshness(published *time.Time, now time.Time) float64 {
	if published == nil || published.IsZero() {
		return 0.5
	}
	ageDays := now.Sub(*published).Hours() / 24
	if ageDays <= 0 {
		return 1
	}
	return math.Pow(0.5, ageDays/a.halfLife)
}

func (a *Aggregator) authorityOf(rawURL string) float64 {
	host := hostOf(rawURL)
	if v, ok := a.authority[host]; ok {
		return clamp01(v)
	}
	switch {
	case strings.HasSuffix(host, ".gov") || strings.Contains(host, ".gov."):
		return 0.9
	case strings.HasSuffix(host, ".edu") || strings.Contains(host, ".edu."):
		return 0.8
	case strings.HasSuffix(host, ".org"):
		return 0.6
	default:
		return 0.4
	}
}

// keywordCoverage measures how many query keywords appear in the title or
// summary; title hits count double.
func keywordCoverage(title, summary string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lowerTitle := strings.ToLower(title)
	lowerSummary := strings.ToLower(summary)
	var total float64
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		switch {
		case strings.Contains(lowerTitle, kw):
			total += 1.0
		case strings.Contains(lowerSummary, kw):
			total += 0.5
		}
	}
	return clamp01(total / float64(len(keywords)))
}

// selectDiverse fills the top K honoring the per-host cap, then backfills by
// rank if the cap left the selection short.
func (a *Aggregator) selectDiverse(ranked []search.RankedResult) []search.RankedResult {
	if len(ranked) == 0 {
		return nil
	}
	selected := make([]search.RankedResult, 0, a.topK)
	perHost := make(map[string]int)
	skipped := make([]search.RankedResult, 0)

	for _, rr := range ranked {
		if len(selected) >= a.topK {
			break
		}
		host := hostOf(rr.URL)
		if perHost[host] >= a.maxPerSource {
			skipped = append(skipped, rr)
			continue
		}
		perHost[host]++
		selected = append(selected, rr)
	}
	for _, rr := range skipped {
		if len(selected) >= a.topK {
			break
		}
		selected = append(selected, rr)
	}
	return selected
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func rawCount(lists [][]search.Result) int {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	return n
}
