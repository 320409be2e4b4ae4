package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solguard/solguard/service/scan"
)

func newTestCache(t *testing.T) *VerdictCache {
	t.Helper()
	c := New(nil, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	t.Cleanup(c.Close)
	return c
}

func verdictWithScore(score float64) *scan.Verdict {
	return &scan.Verdict{OverallRiskScore: score, RiskLevel: scan.RiskSafe}
}

func TestGetOrCompute_MissThenHit(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int64
	compute := func(ctx context.Context) (*scan.Verdict, error) {
		calls.Add(1)
		return verdictWithScore(0.3), nil
	}

	v, hit, err := c.GetOrCompute(ctx, "fp1", time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.InDelta(t, 0.3, v.OverallRiskScore, 1e-9)

	v, hit, err = c.GetOrCompute(ctx, "fp1", time.Minute, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.InDelta(t, 0.3, v.OverallRiskScore, 1e-9)
	assert.Equal(t, int64(1), calls.Load())
}

func TestGetOrCompute_DistinctFingerprints(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int64
	compute := func(ctx context.Context) (*scan.Verdict, error) {
		calls.Add(1)
		return verdictWithScore(0.1), nil
	}

	_, _, err := c.GetOrCompute(ctx, "fp1", time.Minute, compute)
	require.NoError(t, err)
	_, _, err = c.GetOrCompute(ctx, "fp2", time.Minute, compute)
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 2, c.Len())
}

func TestGetOrCompute_ErrorsNotCached(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	boom := errors.New("stage blew up")
	_, _, err := c.GetOrCompute(ctx, "fp1", time.Minute, func(ctx context.Context) (*scan.Verdict, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	// A later call recomputes and can succeed.
	v, hit, err := c.GetOrCompute(ctx, "fp1", time.Minute, func(ctx context.Context) (*scan.Verdict, error) {
		return verdictWithScore(0.2), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.InDelta(t, 0.2, v.OverallRiskScore, 1e-9)
}

func TestGetOrCompute_TTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	current := time.Now()
	c.now = func() time.Time { return current }

	var calls atomic.Int64
	compute := func(ctx context.Context) (*scan.Verdict, error) {
		calls.Add(1)
		return verdictWithScore(0.4), nil
	}

	_, _, err := c.GetOrCompute(ctx, "fp1", time.Minute, compute)
	require.NoError(t, err)

	// Still fresh just before the TTL boundary.
	current = current.Add(59 * time.Second)
	_, hit, err := c.GetOrCompute(ctx, "fp1", time.Minute, compute)
	require.NoError(t, err)
	assert.True(t, hit)

	// Expired entries are treated as absent and recomputed.
	current = current.Add(2 * time.Second)
	_, hit, err = c.GetOrCompute(ctx, "fp1", time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGetOrCompute_CoalescesConcurrentCallers(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64
	compute := func(ctx context.Context) (*scan.Verdict, error) {
		calls.Add(1)
		close(started)
		<-release
		return verdictWithScore(0.7), nil
	}

	const waiters = 5
	var wg sync.WaitGroup
	hits := make([]bool, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, hit, err := c.GetOrCompute(ctx, "fp1", time.Minute, compute)
			assert.NoError(t, err)
			hits[i] = hit
		}(i)
	}

	<-started
	// All callers are now either the leader or waiting on its flight.
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "exactly one computation per fingerprint")

	leaders := 0
	for _, hit := range hits {
		if !hit {
			leaders++
		}
	}
	assert.GreaterOrEqual(t, leaders, 1, "the flight leader reports a fresh computation")
}

func TestGetOrCompute_CallerDeadlineWhileWaiting(t *testing.T) {
	c := newTestCache(t)

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})

	go func() {
		_, _, _ = c.GetOrCompute(context.Background(), "fp1", time.Minute, func(ctx context.Context) (*scan.Verdict, error) {
			close(started)
			<-release
			return verdictWithScore(0.5), nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := c.GetOrCompute(ctx, "fp1", time.Minute, func(ctx context.Context) (*scan.Verdict, error) {
		return verdictWithScore(0.5), nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
