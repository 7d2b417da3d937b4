package fetch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/couchcryptid/crop-climate-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

const endpointYields = "yields"

// YieldSource serves QuickStats rows for one commodity. QuickStats is not
// paged: a request returns every matching row.
type YieldSource interface {
	GetYields(ctx context.Context, req domain.YieldRequest) ([]json.RawMessage, error)
}

// YieldFetcher downloads county yields one commodity at a time.
type YieldFetcher struct {
	source   YieldSource
	throttle *throttle
	progress *Progress
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewYieldFetcher creates a YieldFetcher. Only the throttling fields of
// opts apply. progress may be nil.
func NewYieldFetcher(source YieldSource, opts Options, clock clockwork.Clock, progress *Progress, metrics *observability.Metrics, logger *slog.Logger) *YieldFetcher {
	opts = opts.withDefaults()
	if progress == nil {
		progress = &Progress{}
	}
	return &YieldFetcher{
		source:   source,
		throttle: newThrottle(clock, opts, metrics, logger),
		progress: progress,
		metrics:  metrics,
		logger:   logger,
	}
}

// FetchYields returns the yields of every commodity in q, in commodity order.
// A commodity whose request fails is recorded as a failure and skipped.
func (f *YieldFetcher) FetchYields(ctx context.Context, q domain.YieldQuery) (domain.Result[domain.YieldRecord], error) {
	if err := q.Validate(); err != nil {
		return domain.Result[domain.YieldRecord]{}, err
	}

	var acc domain.Accumulator[domain.YieldRecord]
	for _, req := range q.Requests() {
		var rows []json.RawMessage
		err := f.throttle.do(ctx, func(ctx context.Context) error {
			var err error
			rows, err = f.source.GetYields(ctx, req)
			return err
		}, "endpoint", endpointYields, "key", req.Commodity)
		if err != nil {
			if ctx.Err() != nil {
				return acc.Result(), ctx.Err()
			}
			f.logger.Error("commodity abandoned", "error", err, "commodity", req.Commodity)
			f.metrics.GroupFailures.WithLabelValues(endpointYields).Inc()
			f.progress.failures.Add(1)
			acc.Fail(domain.Failure{Key: req.Commodity, Err: err})
			continue
		}

		records := make([]domain.YieldRecord, 0, len(rows))
		for _, raw := range rows {
			rec, err := domain.ParseYield(raw)
			if err != nil {
				f.logger.Warn("skipping malformed yield row", "error", err, "commodity", req.Commodity)
				continue
			}
			records = append(records, rec)
		}
		acc.AddPage(records...)

		f.metrics.PagesFetched.WithLabelValues(endpointYields).Inc()
		f.metrics.RecordsFetched.WithLabelValues(endpointYields).Add(float64(len(records)))
		f.progress.addPage(len(records))
		f.logger.Info("commodity fetched", "commodity", req.Commodity, "records", len(records))
	}

	res := acc.Result()
	level := slog.LevelInfo
	if res.Status() != domain.StatusComplete {
		level = slog.LevelWarn
	}
	f.logger.Log(ctx, level, "yield fetch finished",
		"status", res.Status(),
		"records", len(res.Records),
		"failures", len(res.Failures),
	)
	return res, nil
}
