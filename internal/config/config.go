// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dumbsheep1990/policy-search-engine/internal/search"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server           ServerConfig                    `mapstructure:"server"`
	Auth             AuthConfig                      `mapstructure:"auth"`
	Engine           EngineConfig                    `mapstructure:"engine"`
	Ranking          RankingConfig                   `mapstructure:"ranking"`
	Scheduler        SchedulerConfig                 `mapstructure:"scheduler"`
	Crawl            CrawlConfig                     `mapstructure:"crawl"`
	Portals          []PortalConfig                  `mapstructure:"portals"`
	Cache            CacheConfig                     `mapstructure:"cache"`
	DB               DBConfig                        `mapstructure:"db"`
	Storage          StorageConfig                   `mapstructure:"storage"`
	PubSub           PubSubConfig                    `mapstructure:"pubsub"`
	Logging          LoggingConfig                   `mapstructure:"logging"`
	StandardSearches map[string]search.JobParameters `mapstructure:"standard_searches"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port    int `mapstructure:"port"`
	Workers int `mapstructure:"workers"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// EngineConfig governs the async execution engine.
type EngineConfig struct {
	MaxConcurrency   int     `mapstructure:"max_concurrency"`
	TaskTimeoutSec   int     `mapstructure:"task_timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	RatePerSecond    float64 `mapstructure:"rate_per_second"`
	RateBurst        int     `mapstructure:"rate_burst"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	QueueDepth       int     `mapstructure:"queue_depth"`
}

// RankingConfig carries aggregation weights and selection limits.
type RankingConfig struct {
	RelevanceWeight float64            `mapstructure:"relevance_weight"`
	QualityWeight   float64            `mapstructure:"quality_weight"`
	FreshnessWeight float64            `mapstructure:"freshness_weight"`
	AuthorityWeight float64            `mapstructure:"authority_weight"`
	CoverageWeight  float64            `mapstructure:"coverage_weight"`
	HalfLifeDays    float64            `mapstructure:"half_life_days"`
	TopKDefault     int                `mapstructure:"top_k_default"`
	MaxPerSource    int                `mapstructure:"max_per_source"`
	AuthorityByHost map[string]float64 `mapstructure:"authority_by_host"`
}

// SchedulerConfig tunes crawler backend routing and failover.
type SchedulerConfig struct {
	QualityThreshold float64  `mapstructure:"quality_threshold"`
	DynamicHosts     []string `mapstructure:"dynamic_hosts"`
	WindowSize       int      `mapstructure:"window_size"`
}

// CrawlConfig configures the two crawl backends.
type CrawlConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	PerHostRPS     float64       `mapstructure:"per_host_rps"`
	PerHostBurst   int           `mapstructure:"per_host_burst"`
	Browser        BrowserConfig `mapstructure:"browser"`
}

// BrowserConfig configures the headless browser backend.
type BrowserConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// PortalConfig declares one searchable policy portal.
type PortalConfig struct {
	Name            string   `mapstructure:"name"`
	BaseURL         string   `mapstructure:"base_url"`
	SearchPath      string   `mapstructure:"search_path"`
	QueryParam      string   `mapstructure:"query_param"`
	PageParam       string   `mapstructure:"page_param"`
	ItemSelector    string   `mapstructure:"item_selector"`
	TitleSelector   string   `mapstructure:"title_selector"`
	LinkSelector    string   `mapstructure:"link_selector"`
	SummarySelector string   `mapstructure:"summary_selector"`
	DateSelector    string   `mapstructure:"date_selector"`
	DateLayouts     []string `mapstructure:"date_layouts"`
	Authority       float64  `mapstructure:"authority"`
	RPS             float64  `mapstructure:"rps"`
	Burst           int      `mapstructure:"burst"`
}

// CacheConfig controls the Redis result cache.
type CacheConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	JobsTable    string `mapstructure:"jobs_table"`
	ResultsTable string `mapstructure:"results_table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
}

// StorageConfig sets paths and content types for snapshot persistence.
type StorageConfig struct {
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POLICYSEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.workers", 2)
	v.SetDefault("engine.max_concurrency", 8)
	v.SetDefault("engine.task_timeout_seconds", 30)
	v.SetDefault("engine.max_retries", 2)
	v.SetDefault("engine.rate_per_second", 4.0)
	v.SetDefault("engine.rate_burst", 8)
	v.SetDefault("engine.backoff_initial_ms", 250)
	v.SetDefault("engine.backoff_max_ms", 5000)
	v.SetDefault("engine.queue_depth", 64)
	v.SetDefault("ranking.relevance_weight", 0.35)
	v.SetDefault("ranking.quality_weight", 0.20)
	v.SetDefault("ranking.freshness_weight", 0.15)
	v.SetDefault("ranking.authority_weight", 0.20)
	v.SetDefault("ranking.coverage_weight", 0.10)
	v.SetDefault("ranking.half_life_days", 180.0)
	v.SetDefault("ranking.top_k_default", 20)
	v.SetDefault("ranking.max_per_source", 3)
	v.SetDefault("scheduler.quality_threshold", 0.35)
	v.SetDefault("scheduler.window_size", 50)
	v.SetDefault("crawl.user_agent", "policy-search-bot/0.1")
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("crawl.timeout_seconds", 15)
	v.SetDefault("crawl.per_host_rps", 1.0)
	v.SetDefault("crawl.per_host_burst", 2)
	v.SetDefault("crawl.browser.enabled", false)
	v.SetDefault("crawl.browser.max_parallel", 1)
	v.SetDefault("crawl.browser.nav_timeout_seconds", 25)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.ttl_seconds", 600)
	v.SetDefault("db.jobs_table", "search_jobs")
	v.SetDefault("db.results_table", "search_results")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("server.workers must be > 0")
	}
	if c.Engine.MaxConcurrency <= 0 {
		return fmt.Errorf("engine.max_concurrency must be > 0")
	}
	if c.Engine.TaskTimeoutSec <= 0 {
		return fmt.Errorf("engine.task_timeout_seconds must be > 0")
	}
	if c.Crawl.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.timeout_seconds must be > 0")
	}
	if c.Crawl.Browser.Enabled && c.Crawl.Browser.MaxParallel <= 0 {
		return fmt.Errorf("crawl.browser.max_parallel must be > 0 when the browser backend is enabled")
	}
	if c.Scheduler.QualityThreshold < 0 || c.Scheduler.QualityThreshold > 1 {
		return fmt.Errorf("scheduler.quality_threshold must be within [0, 1]")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	for i, p := range c.Portals {
		if p.Name == "" {
			return fmt.Errorf("portals[%d].name is required", i)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("portals[%d].base_url is required", i)
		}
		if p.Authority < 0 || p.Authority > 1 {
			return fmt.Errorf("portals[%d].authority must be within [0, 1]", i)
		}
		if p.RPS < 0 {
			return fmt.Errorf("portals[%d].rps must be >= 0", i)
		}
	}
	return nil
}

// TaskTimeout converts the engine timeout config into a duration.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.Engine.TaskTimeoutSec) * time.Second
}

// CacheTTL converts the cache TTL config into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
