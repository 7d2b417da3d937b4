package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crop_climate_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for acquisition runs.
type Metrics struct {
	// API request metrics.
	APIRequests *prometheus.CounterVec   // labels: source={noaa,usda}, outcome={success,rate_limited,error}
	APIDuration *prometheus.HistogramVec // labels: source={noaa,usda}

	// Paging metrics.
	PagesFetched     *prometheus.CounterVec // labels: endpoint
	RecordsFetched   *prometheus.CounterVec // labels: endpoint
	RateLimitBackoff prometheus.Histogram
	GroupFailures    *prometheus.CounterVec // labels: endpoint

	// Page cache metrics.
	PageCache *prometheus.CounterVec // labels: tier={memory,redis}, result={hit,miss,error}

	// Sink metrics.
	RecordsWritten *prometheus.CounterVec // labels: sink={csv,kafka,postgres}

	RunRunning  prometheus.Gauge
	RunDuration prometheus.Histogram
}

// NewMetrics creates and registers all acquisition metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Upstream API requests by source and outcome.",
		}, []string{"source", "outcome"}),
		APIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Upstream API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Pages appended to the accumulator by endpoint.",
		}, []string{"endpoint"}),
		RecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Records appended to the accumulator by endpoint.",
		}, []string{"endpoint"}),
		RateLimitBackoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_backoff_seconds",
			Help:      "Backoff waited after an HTTP 429.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		GroupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_failures_total",
			Help:      "Page groups abandoned after an error, by endpoint.",
		}, []string{"endpoint"}),
		PageCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_cache_total",
			Help:      "Page cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Records written by sink.",
		}, []string{"sink"}),
		RunRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_running",
			Help:      "1 while an acquisition run is in progress.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete acquisition run.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}),
	}

	prometheus.MustRegister(
		m.APIRequests,
		m.APIDuration,
		m.PagesFetched,
		m.RecordsFetched,
		m.RateLimitBackoff,
		m.GroupFailures,
		m.PageCache,
		m.RecordsWritten,
		m.RunRunning,
		m.RunDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		APIRequests:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "api_requests_total"}, []string{"source", "outcome"}),
		APIDuration:      prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "api_request_duration_seconds"}, []string{"source"}),
		PagesFetched:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "pages_fetched_total"}, []string{"endpoint"}),
		RecordsFetched:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "records_fetched_total"}, []string{"endpoint"}),
		RateLimitBackoff: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "rate_limit_backoff_seconds"}),
		GroupFailures:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "group_failures_total"}, []string{"endpoint"}),
		PageCache:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "page_cache_total"}, []string{"tier", "result"}),
		RecordsWritten:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "records_written_total"}, []string{"sink"}),
		RunRunning:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "run_running"}),
		RunDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "run_duration_seconds"}),
	}
}
