package pipeline_test

import (
	"context"
	"encoding/csv"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/crop-climate-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/crop-climate-etl/internal/adapter/noaa"
	"github.com/couchcryptid/crop-climate-etl/internal/adapter/usda"
	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/couchcryptid/crop-climate-etl/internal/fetch"
	"github.com/couchcryptid/crop-climate-etl/internal/observability"
	"github.com/couchcryptid/crop-climate-etl/internal/pipeline"
	"github.com/couchcryptid/crop-climate-etl/internal/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestPipeline_AgainstMockAPI(t *testing.T) {
	mock := testutil.NewMockAPI(testutil.MockConfig{
		Token:          "tok",
		APIKey:         "key",
		Stations:       3,
		Counties:       3,
		RateLimitEvery: 4,
	})
	srv := httptest.NewServer(mock)
	t.Cleanup(srv.Close)

	metrics := observability.NewMetricsForTesting()
	logger := slog.Default()
	clock := clockwork.NewRealClock()
	opts := fetch.Options{WindowDays: 30, PageLimit: 25, MaxRateLimitRetries: 3}
	progress := &fetch.Progress{}

	cdo := fetch.New(noaa.NewClient("tok", srv.URL+"/cdo", 5*time.Second, metrics, logger), opts, clock, progress, metrics, logger)
	yields := fetch.NewYieldFetcher(usda.NewClient("key", srv.URL+"/nass", 5*time.Second, metrics, logger), opts, clock, progress, metrics, logger)

	dir := t.TempDir()
	jobs := pipeline.Jobs{
		Daily: domain.DailyQuery{
			DatasetID:  "GHCND",
			LocationID: "FIPS:17",
			DataTypes:  []string{"TMAX", "PRCP"},
			Units:      "metric",
			Start:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			End:        time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		Yields: domain.YieldQuery{State: "ILLINOIS", Commodities: []string{"CORN", "SOYBEANS"}, StartYear: 2019, EndYear: 2020},
	}
	p := pipeline.New(cdo, yields, pipeline.Sinks{Files: csvfile.NewWriter(dir, metrics, logger)}, jobs, progress, clock, metrics, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := p.Run(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Stages, 3)
	for _, s := range summary.Stages {
		assert.Equal(t, domain.StatusComplete, s.Status, s.Name)
	}

	// Two 30-day windows of 3 stations for two datatypes, 25 per page.
	assert.Equal(t, 3, summary.Stages[0].Records)
	assert.Equal(t, 2*2*90, summary.Stages[1].Records)
	assert.Equal(t, 2*2*4, summary.Stages[1].Pages)
	assert.Equal(t, 2*2*3, summary.Stages[2].Records)

	snap := progress.Snapshot()
	assert.Equal(t, int64(1+16+2), snap.Pages)
	assert.Equal(t, int64(2), snap.Windows)
	assert.Zero(t, snap.Failures)
	assert.Positive(t, mock.RateLimitedCount())
	assert.Equal(t, 19+mock.RateLimitedCount(), mock.RequestCount())

	daily := readCSV(t, filepath.Join(dir, csvfile.DailyFile))
	assert.Len(t, daily, 1+60*3, "header plus one row per day and station")
	assert.Len(t, readCSV(t, filepath.Join(dir, csvfile.ObservationsFile)), 1+360)
	assert.Len(t, readCSV(t, filepath.Join(dir, csvfile.StationsFile)), 1+3)
	assert.Len(t, readCSV(t, filepath.Join(dir, csvfile.YieldsFile)), 1+12)
}

func TestPipeline_AgainstMockAPI_FailedDatatype(t *testing.T) {
	mock := testutil.NewMockAPI(testutil.MockConfig{FailDataTypes: []string{"PRCP"}})
	srv := httptest.NewServer(mock)
	t.Cleanup(srv.Close)

	metrics := observability.NewMetricsForTesting()
	logger := slog.Default()
	clock := clockwork.NewRealClock()
	opts := fetch.Options{WindowDays: 30, PageLimit: 1000}

	cdo := fetch.New(noaa.NewClient("", srv.URL+"/cdo", 5*time.Second, metrics, logger), opts, clock, nil, metrics, logger)
	jobs := pipeline.Jobs{Daily: domain.DailyQuery{
		DatasetID:  "GHCND",
		LocationID: "FIPS:17",
		DataTypes:  []string{"TMAX", "PRCP"},
		Start:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC),
	}}
	dir := t.TempDir()
	p := pipeline.New(cdo, nil, pipeline.Sinks{Files: csvfile.NewWriter(dir, metrics, logger)}, jobs, &fetch.Progress{}, clock, metrics, logger)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	daily := summary.Stages[1]
	assert.Equal(t, domain.StatusPartial, daily.Status)
	assert.Equal(t, 90, daily.Records)
	assert.Equal(t, 1, daily.Failures)

	rows := readCSV(t, filepath.Join(dir, csvfile.DailyFile))
	require.NotEmpty(t, rows)
	assert.NotContains(t, rows[0], "prcp")
	assert.Contains(t, rows[0], "tmax")
}
