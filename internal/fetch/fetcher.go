// Package fetch pages through the CDO and QuickStats APIs.
//
// A fetch call walks its date windows in ascending order, each requested
// datatype within a window, and each page of a (window, datatype) pair by
// ascending offset. Every request goes through a flat rate cap. HTTP 429
// responses are retried at the same offset with a doubling backoff, up to a
// fixed number of times; any other failure abandons the pair and is recorded
// in the result instead of being returned. Only context cancellation and
// invalid queries are returned as errors.
package fetch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/couchcryptid/crop-climate-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// PageSource serves single CDO pages.
type PageSource interface {
	GetPage(ctx context.Context, req domain.PageRequest) (domain.Page, error)
}

// Options tune paging and throttling.
type Options struct {
	// WindowDays caps the span of one data request.
	WindowDays int
	// PageLimit is the number of records requested per page.
	PageLimit int
	// RequestDelay is the minimum gap between two requests. Zero disables pacing.
	RequestDelay time.Duration
	// RateLimitBackoff is the first wait after an HTTP 429. It doubles on
	// each consecutive 429 up to MaxRateLimitBackoff.
	RateLimitBackoff    time.Duration
	MaxRateLimitBackoff time.Duration
	// MaxRateLimitRetries is how many consecutive 429s one request may
	// retry before its page group fails.
	MaxRateLimitRetries int
}

// DefaultOptions returns the settings used against the public APIs.
func DefaultOptions() Options {
	return Options{
		WindowDays:          domain.DefaultWindowDays,
		PageLimit:           domain.DefaultPageLimit,
		RequestDelay:        200 * time.Millisecond,
		RateLimitBackoff:    60 * time.Second,
		MaxRateLimitBackoff: 5 * time.Minute,
		MaxRateLimitRetries: 3,
	}
}

func (o Options) withDefaults() Options {
	if o.WindowDays <= 0 {
		o.WindowDays = domain.DefaultWindowDays
	}
	if o.PageLimit <= 0 {
		o.PageLimit = domain.DefaultPageLimit
	}
	if o.MaxRateLimitRetries < 0 {
		o.MaxRateLimitRetries = 0
	}
	if o.MaxRateLimitBackoff < o.RateLimitBackoff {
		o.MaxRateLimitBackoff = o.RateLimitBackoff
	}
	return o
}

// Fetcher downloads paged CDO listings. A Fetcher is meant for one
// goroutine; each call builds its own accumulator and keeps no state
// between calls apart from pacing.
type Fetcher struct {
	source   PageSource
	opts     Options
	throttle *throttle
	progress *Progress
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// New creates a Fetcher over source. progress may be nil.
func New(source PageSource, opts Options, clock clockwork.Clock, progress *Progress, metrics *observability.Metrics, logger *slog.Logger) *Fetcher {
	opts = opts.withDefaults()
	if progress == nil {
		progress = &Progress{}
	}
	return &Fetcher{
		source:   source,
		opts:     opts,
		throttle: newThrottle(clock, opts, metrics, logger),
		progress: progress,
		metrics:  metrics,
		logger:   logger,
	}
}

// FetchDaily returns every observation matching q across all windows and
// datatypes, in fetch order.
func (f *Fetcher) FetchDaily(ctx context.Context, q domain.DailyQuery) (domain.Result[domain.Observation], error) {
	if err := q.Validate(); err != nil {
		return domain.Result[domain.Observation]{}, err
	}
	windows, err := domain.SplitWindows(q.Start, q.End, f.opts.WindowDays)
	if err != nil {
		return domain.Result[domain.Observation]{}, err
	}

	f.logger.Info("daily fetch started",
		"location", q.LocationID,
		"windows", len(windows),
		"datatypes", q.DataTypes,
	)

	var acc domain.Accumulator[domain.Observation]
	for _, w := range windows {
		f.logger.Info("window started", "window", w.String(), "days", w.Days())
		for _, dt := range q.DataTypes {
			req := domain.PageRequest{
				Endpoint:   domain.EndpointData,
				DatasetID:  q.DatasetID,
				LocationID: q.LocationID,
				DataTypeID: dt,
				Units:      q.Units,
				Window:     w,
			}
			if err := pageThrough(ctx, f, req, dt, &acc, domain.ParseObservation); err != nil {
				return acc.Result(), err
			}
		}
		f.progress.windows.Add(1)
	}

	res := acc.Result()
	f.logResult("daily fetch finished", res.Status(), len(res.Records), res.Pages, len(res.Failures))
	return res, nil
}

// FetchStations lists every station of datasetID within locationID.
func (f *Fetcher) FetchStations(ctx context.Context, datasetID, locationID string) (domain.Result[domain.Station], error) {
	req := domain.PageRequest{
		Endpoint:   domain.EndpointStations,
		DatasetID:  datasetID,
		LocationID: locationID,
	}

	var acc domain.Accumulator[domain.Station]
	if err := pageThrough(ctx, f, req, domain.EndpointStations, &acc, domain.ParseStation); err != nil {
		return acc.Result(), err
	}

	res := acc.Result()
	f.logResult("station fetch finished", res.Status(), len(res.Records), res.Pages, len(res.Failures))
	return res, nil
}

// pageThrough reads every page of one group into acc. A failed group is
// recorded in acc; only a context error is returned.
func pageThrough[T any](ctx context.Context, f *Fetcher, req domain.PageRequest, key string, acc *domain.Accumulator[T], parse func(json.RawMessage) (T, error)) error {
	cursor := domain.FirstCursor(f.opts.PageLimit)
	for {
		req.Cursor = cursor

		var page domain.Page
		err := f.throttle.do(ctx, func(ctx context.Context) error {
			var err error
			page, err = f.source.GetPage(ctx, req)
			return err
		}, "endpoint", req.Endpoint, "key", key, "offset", cursor.Offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failure := domain.Failure{Window: req.Window, Key: key, Offset: cursor.Offset, Err: err}
			f.logger.Error("page group abandoned", "error", failure)
			f.metrics.GroupFailures.WithLabelValues(req.Endpoint).Inc()
			f.progress.failures.Add(1)
			acc.Fail(failure)
			return nil
		}

		records := make([]T, 0, len(page.Results))
		for _, raw := range page.Results {
			rec, err := parse(raw)
			if err != nil {
				f.logger.Warn("skipping malformed record", "error", err, "key", key, "offset", cursor.Offset)
				continue
			}
			records = append(records, rec)
		}
		acc.AddPage(records...)

		f.metrics.PagesFetched.WithLabelValues(req.Endpoint).Inc()
		f.metrics.RecordsFetched.WithLabelValues(req.Endpoint).Add(float64(len(records)))
		f.progress.addPage(len(records))
		f.logger.Debug("page fetched",
			"endpoint", req.Endpoint,
			"key", key,
			"offset", cursor.Offset,
			"records", len(records),
			"count", page.ResultSet.Count,
		)

		if page.Empty() || page.ResultSet.Exhausted(cursor.Limit) {
			return nil
		}
		cursor = cursor.Next()
	}
}

func (f *Fetcher) logResult(msg string, status domain.Status, records, pages, failures int) {
	level := slog.LevelInfo
	if status != domain.StatusComplete {
		level = slog.LevelWarn
	}
	f.logger.Log(context.Background(), level, msg,
		"status", status,
		"records", records,
		"pages", pages,
		"failures", failures,
	)
}
