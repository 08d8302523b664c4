package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 8, cfg.Engine.MaxConcurrency)
	require.Equal(t, 2, cfg.Engine.MaxRetries)
	require.InDelta(t, 0.35, cfg.Ranking.RelevanceWeight, 1e-9)
	require.Equal(t, 20, cfg.Ranking.TopKDefault)
	require.InDelta(t, 0.35, cfg.Scheduler.QualityThreshold, 1e-9)
	require.True(t, cfg.Crawl.RespectRobots)
	require.False(t, cfg.Crawl.Browser.Enabled)
	require.Equal(t, "search_jobs", cfg.DB.JobsTable)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	payload := `
server:
  port: 9090
  workers: 4
engine:
  max_concurrency: 16
crawl:
  browser:
    enabled: true
    max_parallel: 2
portals:
  - name: provincial
    base_url: https://www.example.gov.cn
    search_path: /search
    query_param: q
    authority: 0.9
standard_searches:
  daily:
    keywords: ["social security"]
    top_k: 10
`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 4, cfg.Server.Workers)
	require.Equal(t, 16, cfg.Engine.MaxConcurrency)
	require.True(t, cfg.Crawl.Browser.Enabled)
	require.Len(t, cfg.Portals, 1)
	require.Equal(t, "provincial", cfg.Portals[0].Name)
	require.Contains(t, cfg.StandardSearches, "daily")
	require.Equal(t, []string{"social security"}, cfg.StandardSearches["daily"].Keywords)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Server.Port = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Engine.MaxConcurrency = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Scheduler.QualityThreshold = 1.5
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Auth.Enabled = true
	bad.Auth.APIKey = ""
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Portals = []PortalConfig{{Name: "", BaseURL: "https://example.gov"}}
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Portals = []PortalConfig{{Name: "gov", BaseURL: "https://example.gov", RPS: -1}}
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Crawl.Browser.Enabled = true
	bad.Crawl.Browser.MaxParallel = 0
	require.Error(t, bad.Validate())
}
