package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/dumbsheep1990/policy-search-engine/internal/metrics"
	"github.com/dumbsheep1990/policy-search-engine/internal/ratelimit"
	"github.com/dumbsheep1990/policy-search-engine/internal/search"
)

// maxResponseBytes caps how much of a search page we read.
const maxResponseBytes = 4 << 20

// cjkDatePattern matches dates written with CJK or mixed separators, e.g.
// "2026年08月12日" or "2026-8-12".
var cjkDatePattern = regexp.MustCompile(`(\d{4})[年\-/.](\d{1,2})[月\-/.](\d{1,2})`)

// Client fetches and parses portal search pages.
type Client struct {
	httpClient *http.Client
	userAgent  string
	limiter    *ratelimit.Limiter
	logger     *zap.Logger
}

// NewClient constructs a portal search client. The rate limiter may be nil.
func NewClient(httpClient *http.Client, userAgent string, limiter *ratelimit.Limiter, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: httpClient,
		userAgent:  userAgent,
		limiter:    limiter,
		logger:     logger,
	}
}

// Search runs one keyword query against the portal and parses the first
// results page.
func (c *Client) Search(ctx context.Context, p Portal, keyword string) ([]search.Result, error) {
	pageURL, err := p.SearchURL(keyword, 1)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, pageURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("portal %s: build request: %w", p.Name, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObservePortalRequest(p.Name, "error")
		return nil, fmt.Errorf("portal %s: search request: %w", p.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.ObservePortalRequest(p.Name, strconv.Itoa(resp.StatusCode))
		return nil, fmt.Errorf("portal %s: unexpected status %d", p.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.ObservePortalRequest(p.Name, "read_error")
		return nil, fmt.Errorf("portal %s: read response: %w", p.Name, err)
	}

	results, err := c.parse(p, keyword, pageURL, body)
	if err != nil {
		metrics.ObservePortalRequest(p.Name, "parse_error")
		return nil, err
	}
	metrics.ObservePortalRequest(p.Name, "ok")
	c.logger.Debug("portal search complete",
		zap.String("portal", p.Name),
		zap.String("keyword", keyword),
		zap.Int("results", len(results)),
	)
	return results, nil
}

func (c *Client) parse(p Portal, keyword, pageURL string, body []byte) ([]search.Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("portal %s: parse search page: %w", p.Name, err)
	}
	var results []search.Result
	doc.Find(p.ItemSelector).Each(func(i int, item *goquery.Selection) {
		link := item.Find(p.LinkSelector).First()
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		title := strings.TrimSpace(item.Find(p.TitleSelector).First().Text())
		if title == "" {
			title = strings.TrimSpace(link.Text())
		}
		if title == "" {
			return
		}
		res := search.Result{
			URL:       resolveHref(pageURL, href),
			Title:     title,
			Summary:   strings.TrimSpace(item.Find(p.SummarySelector).First().Text()),
			Source:    p.Name,
			Keyword:   keyword,
			Relevance: positionPrior(len(results)),
			Quality:   0.5,
			Authority: p.Authority,
			Position:  len(results) + 1,
		}
		if dateText := strings.TrimSpace(item.Find(p.DateSelector).First().Text()); dateText != "" {
			if published, ok := parseDate(dateText, p.DateLayouts); ok {
				res.PublishedAt = &published
			}
		}
		results = append(results, res)
	})
	return results, nil
}

// positionPrior converts list position into a relevance prior: the portal's
// own ranking decays geometrically.
func positionPrior(index int) float64 {
	return 1.0 / (1.0 + 0.15*float64(index))
}

func resolveHref(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := base.Parse(href)
	if err != nil {
		return href
	}
	return ref.String()
}

// parseDate tries the configured layouts first, then falls back to digging a
// year-month-day triple out of free-form text.
func parseDate(text string, layouts []string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), true
		}
	}
	m := cjkDatePattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}
