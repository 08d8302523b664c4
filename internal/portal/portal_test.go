package portal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dumbsheep1990/policy-search-engine/internal/config"
	"github.com/dumbsheep1990/policy-search-engine/internal/ratelimit"
)

func TestFromConfigAppliesDefaults(t *testing.T) {
	t.Parallel()

	p := FromConfig(config.PortalConfig{Name: "mohrss", BaseURL: "https://www.mohrss.gov.cn"})
	require.Equal(t, "/search", p.SearchPath)
	require.Equal(t, "q", p.QueryParam)
	require.NotEmpty(t, p.ItemSelector)
	require.NotEmpty(t, p.DateLayouts)
}

func TestFromConfigKeepsExplicitSelectors(t *testing.T) {
	t.Parallel()

	p := FromConfig(config.PortalConfig{
		Name:         "gov",
		BaseURL:      "https://www.gov.cn",
		SearchPath:   "/zhengce/search",
		QueryParam:   "keyword",
		ItemSelector: "div.news-item",
	})
	require.Equal(t, "/zhengce/search", p.SearchPath)
	require.Equal(t, "keyword", p.QueryParam)
	require.Equal(t, "div.news-item", p.ItemSelector)
}

func TestSearchURL(t *testing.T) {
	t.Parallel()

	p := FromConfig(config.PortalConfig{
		Name:       "gov",
		BaseURL:    "https://www.gov.cn",
		SearchPath: "/zhengce/search",
		QueryParam: "keyword",
		PageParam:  "pn",
	})

	u, err := p.SearchURL("养老保险", 1)
	require.NoError(t, err)
	require.Contains(t, u, "https://www.gov.cn/zhengce/search?")
	require.Contains(t, u, "keyword=")
	require.NotContains(t, u, "pn=")

	u2, err := p.SearchURL("养老保险", 3)
	require.NoError(t, err)
	require.Contains(t, u2, "pn=3")
}

func TestSearchURLBadBase(t *testing.T) {
	t.Parallel()

	p := Portal{Name: "broken", BaseURL: "://nope", SearchPath: "/s", QueryParam: "q", PageParam: "p"}
	_, err := p.SearchURL("x", 1)
	require.Error(t, err)
}

func TestFromConfigCopiesRateLimit(t *testing.T) {
	t.Parallel()

	p := FromConfig(config.PortalConfig{
		Name:    "gov",
		BaseURL: "https://www.gov.cn",
		RPS:     0.5,
		Burst:   2,
	})
	require.InDelta(t, 0.5, p.RPS, 1e-9)
	require.Equal(t, 2, p.Burst)
}

func TestApplyHostLimitsThrottlesPortalHost(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(ratelimit.Config{})
	portals := []Portal{
		{Name: "slow", BaseURL: "http://slow.example.gov", RPS: 1, Burst: 1},
		{Name: "open", BaseURL: "http://open.example.gov"},
	}
	ApplyHostLimits(limiter, portals)

	ctx := context.Background()
	require.NoError(t, limiter.Wait(ctx, "http://slow.example.gov/search?q=a"))

	// The burst is spent; the next token is ~1s away, beyond this deadline.
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.Error(t, limiter.Wait(short, "http://slow.example.gov/search?q=b"))

	// Hosts without a portal limit keep the unlimited default.
	require.NoError(t, limiter.Wait(ctx, "http://open.example.gov/search?q=a"))
}
