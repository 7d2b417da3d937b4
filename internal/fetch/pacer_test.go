package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/couchcryptid/crop-climate-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacer_NoDelayNeverSleeps(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := newPacer(clock, 0)
	for range 100 {
		require.NoError(t, p.wait(context.Background()))
	}
}

func TestPacer_CancelledWhileWaiting(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := newPacer(clock, time.Hour)
	require.NoError(t, p.wait(context.Background()), "first request is immediate")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.wait(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-waitCtx.Done():
		t.Fatal("wait did not return after cancel")
	}
}

func TestSleep_ZeroReturnsContextError(t *testing.T) {
	clock := clockwork.NewFakeClock()
	require.NoError(t, sleep(context.Background(), clock, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, clock, 0), context.Canceled)
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{RateLimitBackoff: time.Minute, MaxRateLimitRetries: -1}.withDefaults()
	assert.Equal(t, 180, o.WindowDays)
	assert.Equal(t, 1000, o.PageLimit)
	assert.Zero(t, o.MaxRateLimitRetries)
	assert.Equal(t, time.Minute, o.MaxRateLimitBackoff)
}

func TestThrottle_MaxRetriesZeroFailsFirst429(t *testing.T) {
	clock := clockwork.NewFakeClock()
	th := newThrottle(clock, Options{}, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	calls := 0
	err := th.do(context.Background(), func(context.Context) error {
		calls++
		return rateLimitedErr()
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "after 1 attempts")
}

func rateLimitedErr() error {
	return &domain.APIError{Source: "usda", StatusCode: http.StatusTooManyRequests}
}
