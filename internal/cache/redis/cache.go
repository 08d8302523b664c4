// Package redis caches ranked result sets keyed by normalized query.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dumbsheep1990/policy-search-engine/internal/search"
)

// Config holds Redis connection and TTL settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Cache stores ranked result sets in Redis with a TTL.
type Cache struct {
	client *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Cache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{client: client, ttl: cfg.TTL, logger: logger}, nil
}

// Key derives a stable cache key from the search parameters that affect the
// ranked output.
func Key(params search.JobParameters) string {
	keywords := append([]string(nil), params.Keywords...)
	for i := range keywords {
		keywords[i] = strings.ToLower(strings.TrimSpace(keywords[i]))
	}
	sort.Strings(keywords)
	portals := append([]string(nil), params.Portals...)
	sort.Strings(portals)

	h := sha256.New()
	fmt.Fprintf(h, "kw=%s|portals=%s|topk=%d|mps=%d|fresh=%t",
		strings.Join(keywords, ","), strings.Join(portals, ","),
		params.TopK, params.MaxPerSource, params.FreshnessOnly)
	if params.PublishedAfter != nil {
		fmt.Fprintf(h, "|after=%d", params.PublishedAfter.Unix())
	}
	if params.PublishedBefore != nil {
		fmt.Fprintf(h, "|before=%d", params.PublishedBefore.Unix())
	}
	return "policysearch:results:" + hex.EncodeToString(h.Sum(nil))[:32]
}

// Get returns the cached result set for the key, reporting whether it was
// present.
func (c *Cache) Get(ctx context.Context, key string) ([]search.RankedResult, bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var results []search.RankedResult
	if err := json.Unmarshal(payload, &results); err != nil {
		// A corrupt entry behaves like a miss; it will be overwritten.
		c.logger.Warn("dropping corrupt cache entry", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	return results, true, nil
}

// Set stores the result set under the key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, results []search.RankedResult) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
