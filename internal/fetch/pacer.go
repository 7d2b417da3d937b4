package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/couchcryptid/crop-climate-etl/internal/observability"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// pacer caps the request rate at one request per delay. The first request
// goes out immediately.
type pacer struct {
	clock   clockwork.Clock
	limiter *rate.Limiter
}

func newPacer(clock clockwork.Clock, delay time.Duration) *pacer {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &pacer{clock: clock, limiter: rate.NewLimiter(limit, 1)}
}

// wait blocks until the next request may be sent.
func (p *pacer) wait(ctx context.Context) error {
	now := p.clock.Now()
	return sleep(ctx, p.clock, p.limiter.ReserveN(now, 1).DelayFrom(now))
}

// throttle sends requests through the pacer and retries HTTP 429 responses
// with a doubling backoff.
type throttle struct {
	clock      clockwork.Clock
	pacer      *pacer
	backoff    time.Duration
	maxBackoff time.Duration
	maxRetries int
	metrics    *observability.Metrics
	logger     *slog.Logger
}

func newThrottle(clock clockwork.Clock, opts Options, metrics *observability.Metrics, logger *slog.Logger) *throttle {
	return &throttle{
		clock:      clock,
		pacer:      newPacer(clock, opts.RequestDelay),
		backoff:    opts.RateLimitBackoff,
		maxBackoff: opts.MaxRateLimitBackoff,
		maxRetries: opts.MaxRateLimitRetries,
		metrics:    metrics,
		logger:     logger,
	}
}

// do runs fn until it succeeds, fails with anything other than a 429, or
// has been rate limited maxRetries+1 times in a row. attrs are added to the
// backoff log line.
func (t *throttle) do(ctx context.Context, fn func(context.Context) error, attrs ...any) error {
	backoff := t.backoff
	for attempt := 0; ; attempt++ {
		if err := t.pacer.wait(ctx); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil || !domain.IsRateLimited(err) {
			return err
		}
		if attempt >= t.maxRetries {
			return fmt.Errorf("%w after %d attempts: %w", domain.ErrRateLimitExhausted, attempt+1, err)
		}

		t.logger.Warn("rate limited, backing off",
			append(attrs, "attempt", attempt+1, "backoff", backoff)...)
		t.metrics.RateLimitBackoff.Observe(backoff.Seconds())
		if err := sleep(ctx, t.clock, backoff); err != nil {
			return err
		}
		backoff = sharedretry.NextBackoff(backoff, t.maxBackoff)
	}
}

// sleep waits d on clock, returning early with the context error if ctx ends.
func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
