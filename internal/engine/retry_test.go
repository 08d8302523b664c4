package engine

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeNetError struct {
	timeout bool
}

func (e *fakeNetError) Error() string   { return "net error" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

var _ net.Error = (*fakeNetError)(nil)

func TestShouldRetryNilError(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(2, 0, 0)
	require.False(t, p.ShouldRetry(nil, 1))
}

func TestShouldRetryRespectsMaxAttempts(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(2, 0, 0)
	err := errors.New("transient")
	require.True(t, p.ShouldRetry(err, 1))
	require.True(t, p.ShouldRetry(err, 2))
	require.False(t, p.ShouldRetry(err, 3))
}

func TestShouldRetrySkipsCancellation(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3, 0, 0)
	require.False(t, p.ShouldRetry(context.Canceled, 1))
}

func TestShouldRetryNetErrors(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3, 0, 0)
	require.True(t, p.ShouldRetry(&fakeNetError{timeout: true}, 1))
	require.False(t, p.ShouldRetry(&fakeNetError{timeout: false}, 1))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, 100*time.Millisecond, time.Second)
	for attempt := 1; attempt <= 6; attempt++ {
		d := p.Backoff(attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}
	// Jittered range for attempt 1: [base, 2*base).
	d := p.Backoff(1)
	require.GreaterOrEqual(t, d, 100*time.Millisecond)
	require.Less(t, d, 200*time.Millisecond)
}
