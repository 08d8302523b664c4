package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/dumbsheep1990/policy-search-engine/internal/search"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), Config{Addr: mr.Addr(), TTL: ttl}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func sampleResults() []search.RankedResult {
	return []search.RankedResult{
		{
			Result: search.Result{
				URL:    "https://example.gov/policy/1.html",
				Title:  "Pension Notice",
				Source: "gov",
			},
			Score:       0.82,
			Fingerprint: "abc123",
		},
	}
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()
	key := Key(search.JobParameters{Keywords: []string{"pension"}})

	_, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.Set(ctx, key, sampleResults()))

	got, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got, 1)
	require.Equal(t, "Pension Notice", got[0].Title)
	require.Equal(t, 0.82, got[0].Score)
}

func TestCacheEntryExpires(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t, time.Second)
	ctx := context.Background()
	key := Key(search.JobParameters{Keywords: []string{"pension"}})

	require.NoError(t, c.Set(ctx, key, sampleResults()))
	mr.FastForward(2 * time.Second)

	_, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, found)
}

func TestCacheCorruptEntryIsAMiss(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t, time.Minute)
	key := Key(search.JobParameters{Keywords: []string{"pension"}})
	require.NoError(t, mr.Set(key, "not json"))

	_, found, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	require.False(t, found)
}

func TestKeyIsOrderInsensitive(t *testing.T) {
	t.Parallel()

	a := Key(search.JobParameters{Keywords: []string{"pension", "healthcare"}, Portals: []string{"x", "y"}})
	b := Key(search.JobParameters{Keywords: []string{"Healthcare", " pension "}, Portals: []string{"y", "x"}})
	require.Equal(t, a, b)
}

func TestKeyVariesWithParameters(t *testing.T) {
	t.Parallel()

	base := search.JobParameters{Keywords: []string{"pension"}}
	withTopK := base
	withTopK.TopK = 5
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	withDate := base
	withDate.PublishedAfter = &after

	require.NotEqual(t, Key(base), Key(withTopK))
	require.NotEqual(t, Key(base), Key(withDate))
}
