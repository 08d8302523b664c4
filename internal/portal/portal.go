// Package portal implements search clients for government policy portals and
// the tools that fan keyword searches out across them.
package portal

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/dumbsheep1990/policy-search-engine/internal/config"
	"github.com/dumbsheep1990/policy-search-engine/internal/ratelimit"
)

// Portal describes one searchable policy portal and the CSS selectors used to
// pull results off its search page.
type Portal struct {
	Name            string
	BaseURL         string
	SearchPath      string
	QueryParam      string
	PageParam       string
	ItemSelector    string
	TitleSelector   string
	LinkSelector    string
	SummarySelector string
	DateSelector    string
	DateLayouts     []string
	Authority       float64
	RPS             float64
	Burst           int
}

// FromConfig builds a Portal from configuration, filling selector defaults
// that match the common government portal markup.
func FromConfig(pc config.PortalConfig) Portal {
	p := Portal{
		Name:            pc.Name,
		BaseURL:         pc.BaseURL,
		SearchPath:      pc.SearchPath,
		QueryParam:      pc.QueryParam,
		PageParam:       pc.PageParam,
		ItemSelector:    pc.ItemSelector,
		TitleSelector:   pc.TitleSelector,
		LinkSelector:    pc.LinkSelector,
		SummarySelector: pc.SummarySelector,
		DateSelector:    pc.DateSelector,
		DateLayouts:     pc.DateLayouts,
		Authority:       pc.Authority,
		RPS:             pc.RPS,
		Burst:           pc.Burst,
	}
	if p.SearchPath == "" {
		p.SearchPath = "/search"
	}
	if p.QueryParam == "" {
		p.QueryParam = "q"
	}
	if p.PageParam == "" {
		p.PageParam = "page"
	}
	if p.ItemSelector == "" {
		p.ItemSelector = ".result, .search-result, li.res-list"
	}
	if p.TitleSelector == "" {
		p.TitleSelector = "h3, .title, a"
	}
	if p.LinkSelector == "" {
		p.LinkSelector = "a"
	}
	if p.SummarySelector == "" {
		p.SummarySelector = ".summary, .abstract, p"
	}
	if p.DateSelector == "" {
		p.DateSelector = ".date, .time, span.date"
	}
	if len(p.DateLayouts) == 0 {
		p.DateLayouts = []string{"2006-01-02", "2006/01/02", "2006.01.02"}
	}
	return p
}

// ApplyHostLimits installs each portal's configured rate limit on its host.
// Portals without an RPS keep the limiter's default.
func ApplyHostLimits(limiter *ratelimit.Limiter, portals []Portal) {
	if limiter == nil {
		return
	}
	for _, p := range portals {
		if p.RPS <= 0 {
			continue
		}
		u, err := url.Parse(p.BaseURL)
		if err != nil || u.Host == "" {
			continue
		}
		limiter.SetHostLimit(u.Host, p.RPS, p.Burst)
	}
}

// SearchURL builds the search page URL for a keyword. Pages are 1-based; the
// page parameter is omitted for the first page.
func (p Portal) SearchURL(keyword string, page int) (string, error) {
	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return "", fmt.Errorf("portal %s: parse base url: %w", p.Name, err)
	}
	ref, err := url.Parse(p.SearchPath)
	if err != nil {
		return "", fmt.Errorf("portal %s: parse search path: %w", p.Name, err)
	}
	u := base.ResolveReference(ref)
	q := u.Query()
	q.Set(p.QueryParam, keyword)
	if page > 1 {
		q.Set(p.PageParam, strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
