// Package pipeline runs one acquisition: stations, daily observations, then
// county yields, handing each result to the configured sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/couchcryptid/crop-climate-etl/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Stage names, in run order.
const (
	StageStations = "stations"
	StageDaily    = "daily"
	StageYields   = "yields"
)

// CDOFetcher pages CDO station and observation listings.
type CDOFetcher interface {
	FetchStations(ctx context.Context, datasetID, locationID string) (domain.Result[domain.Station], error)
	FetchDaily(ctx context.Context, q domain.DailyQuery) (domain.Result[domain.Observation], error)
}

// YieldFetcher downloads NASS county yields.
type YieldFetcher interface {
	FetchYields(ctx context.Context, q domain.YieldQuery) (domain.Result[domain.YieldRecord], error)
}

// FileWriter writes the CSV outputs and returns the path written.
type FileWriter interface {
	WriteStations(stations []domain.Station) (string, error)
	WriteObservations(obs []domain.Observation) (string, error)
	WriteDaily(rows []domain.DailyRow, datatypes []string) (string, error)
	WriteYields(yields []domain.YieldRecord) (string, error)
}

// ObservationPublisher streams observations downstream.
type ObservationPublisher interface {
	PublishObservations(ctx context.Context, runID string, obs []domain.Observation) error
}

// Loader bulk-loads records into a database.
type Loader interface {
	LoadObservations(ctx context.Context, runID string, obs []domain.Observation) (int64, error)
	LoadYields(ctx context.Context, runID string, yields []domain.YieldRecord) (int64, error)
	Ping(ctx context.Context) error
}

// PageCounter reports how many pages have been fetched so far.
type PageCounter interface {
	Pages() int64
}

// Sinks are the outputs of a run. Files is required; the rest may be nil.
type Sinks struct {
	Files     FileWriter
	Publisher ObservationPublisher
	Loader    Loader
}

// Jobs are the queries a run performs.
type Jobs struct {
	Daily  domain.DailyQuery
	Yields domain.YieldQuery
}

// StageSummary describes the outcome of one stage.
type StageSummary struct {
	Name     string
	Status   domain.Status
	Records  int
	Pages    int
	Failures int
	Files    []string
	Skipped  bool
}

// Summary describes a whole run.
type Summary struct {
	RunID  string
	Stages []StageSummary
}

// Pipeline orchestrates one acquisition run.
type Pipeline struct {
	cdo      CDOFetcher
	yields   YieldFetcher
	sinks    Sinks
	jobs     Jobs
	pages    PageCounter
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger
	finished atomic.Bool
}

// New creates a Pipeline. yields may be nil to skip the yields stage.
func New(cdo CDOFetcher, yields YieldFetcher, sinks Sinks, jobs Jobs, pages PageCounter, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cdo:     cdo,
		yields:  yields,
		sinks:   sinks,
		jobs:    jobs,
		pages:   pages,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
	}
}

// CheckReadiness returns nil once the run has fetched at least one page
// and the database, when configured, answers a ping.
func (p *Pipeline) CheckReadiness(ctx context.Context) error {
	if p.pages.Pages() == 0 && !p.finished.Load() {
		return errors.New("no page fetched yet")
	}
	if p.sinks.Loader != nil {
		if err := p.sinks.Loader.Ping(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
	}
	return nil
}

// Run performs every stage in order. A failed CSV write stops the run;
// failures of the optional sinks are logged and joined into the returned
// error once every stage has finished. Cancellation returns the stages
// completed so far.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: uuid.NewString()}
	logger := p.logger.With("run_id", summary.RunID)

	logger.Info("run started",
		"location", p.jobs.Daily.LocationID,
		"start", p.jobs.Daily.Start.Format(domain.DateLayout),
		"end", p.jobs.Daily.End.Format(domain.DateLayout),
	)
	start := p.clock.Now()
	p.metrics.RunRunning.Set(1)
	defer func() {
		p.metrics.RunRunning.Set(0)
		p.metrics.RunDuration.Observe(p.clock.Since(start).Seconds())
		p.finished.Store(true)
	}()

	r := &run{p: p, id: summary.RunID, logger: logger}
	stages := []func(context.Context) (StageSummary, error){
		r.stations,
		r.daily,
		r.yieldsStage,
	}
	for _, stage := range stages {
		s, err := stage(ctx)
		summary.Stages = append(summary.Stages, s)
		if err != nil {
			logger.Error("run stopped", "stage", s.Name, "error", err)
			return summary, err
		}
	}

	if err := errors.Join(r.sinkErrs...); err != nil {
		logger.Error("run finished with sink errors", "error", err)
		return summary, err
	}
	logger.Info("run finished", "duration", p.clock.Since(start))
	return summary, nil
}

// run holds the state of a single Run call.
type run struct {
	p        *Pipeline
	id       string
	logger   *slog.Logger
	sinkErrs []error
}

func (r *run) stations(ctx context.Context) (StageSummary, error) {
	q := r.p.jobs.Daily
	res, err := r.p.cdo.FetchStations(ctx, q.DatasetID, q.LocationID)
	s := summarize(StageStations, res)
	if err != nil {
		return s, fmt.Errorf("fetch stations: %w", err)
	}
	if r.empty(s, res.Err()) {
		return s, nil
	}

	path, err := r.p.sinks.Files.WriteStations(res.Records)
	if err != nil {
		return s, fmt.Errorf("write stations: %w", err)
	}
	s.Files = append(s.Files, path)
	r.done(s)
	return s, nil
}

func (r *run) daily(ctx context.Context) (StageSummary, error) {
	res, err := r.p.cdo.FetchDaily(ctx, r.p.jobs.Daily)
	s := summarize(StageDaily, res)
	if err != nil {
		return s, fmt.Errorf("fetch daily: %w", err)
	}
	if r.empty(s, res.Err()) {
		return s, nil
	}

	path, err := r.p.sinks.Files.WriteObservations(res.Records)
	if err != nil {
		return s, fmt.Errorf("write observations: %w", err)
	}
	s.Files = append(s.Files, path)

	rows, datatypes := domain.PivotDaily(res.Records)
	path, err = r.p.sinks.Files.WriteDaily(rows, datatypes)
	if err != nil {
		return s, fmt.Errorf("write daily: %w", err)
	}
	s.Files = append(s.Files, path)

	if pub := r.p.sinks.Publisher; pub != nil {
		if err := pub.PublishObservations(ctx, r.id, res.Records); err != nil {
			r.sinkFailed("kafka", fmt.Errorf("publish observations: %w", err))
		}
	}
	if db := r.p.sinks.Loader; db != nil {
		if _, err := db.LoadObservations(ctx, r.id, res.Records); err != nil {
			r.sinkFailed("postgres", fmt.Errorf("load observations: %w", err))
		}
	}

	r.done(s)
	return s, nil
}

func (r *run) yieldsStage(ctx context.Context) (StageSummary, error) {
	if r.p.yields == nil {
		r.logger.Warn("yields stage skipped", "reason", "no USDA API key")
		return StageSummary{Name: StageYields, Skipped: true}, nil
	}

	res, err := r.p.yields.FetchYields(ctx, r.p.jobs.Yields)
	s := summarize(StageYields, res)
	if err != nil {
		return s, fmt.Errorf("fetch yields: %w", err)
	}
	if r.empty(s, res.Err()) {
		return s, nil
	}

	path, err := r.p.sinks.Files.WriteYields(res.Records)
	if err != nil {
		return s, fmt.Errorf("write yields: %w", err)
	}
	s.Files = append(s.Files, path)

	if db := r.p.sinks.Loader; db != nil {
		if _, err := db.LoadYields(ctx, r.id, res.Records); err != nil {
			r.sinkFailed("postgres", fmt.Errorf("load yields: %w", err))
		}
	}

	r.done(s)
	return s, nil
}

// empty logs and reports a stage that retrieved nothing.
func (r *run) empty(s StageSummary, failures error) bool {
	if s.Records > 0 {
		return false
	}
	attrs := []any{"stage", s.Name, "status", s.Status, "pages", s.Pages}
	if failures != nil {
		attrs = append(attrs, "error", failures)
	}
	r.logger.Warn("no data downloaded", attrs...)
	return true
}

func (r *run) done(s StageSummary) {
	level := slog.LevelInfo
	if s.Status != domain.StatusComplete {
		level = slog.LevelWarn
	}
	r.logger.Log(context.Background(), level, "stage finished",
		"stage", s.Name,
		"status", s.Status,
		"records", s.Records,
		"pages", s.Pages,
		"failures", s.Failures,
		"files", s.Files,
	)
}

func (r *run) sinkFailed(sink string, err error) {
	r.logger.Error("sink failed", "sink", sink, "error", err)
	r.sinkErrs = append(r.sinkErrs, err)
}

func summarize[T any](name string, res domain.Result[T]) StageSummary {
	return StageSummary{
		Name:     name,
		Status:   res.Status(),
		Records:  len(res.Records),
		Pages:    res.Pages,
		Failures: len(res.Failures),
	}
}
