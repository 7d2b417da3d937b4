package fetch_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/couchcryptid/crop-climate-etl/internal/fetch"
	"github.com/couchcryptid/crop-climate-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type yieldSource struct {
	mu       sync.Mutex
	rows     map[string][]json.RawMessage
	errs     map[string][]error // consumed one per call
	requests []domain.YieldRequest
}

func (s *yieldSource) GetYields(_ context.Context, req domain.YieldRequest) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if errs := s.errs[req.Commodity]; len(errs) > 0 {
		s.errs[req.Commodity] = errs[1:]
		return nil, errs[0]
	}
	return s.rows[req.Commodity], nil
}

func yieldRow(commodity string, year int, county, value string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"year": %d,
		"state_name": "ILLINOIS",
		"state_fips_code": "17",
		"county_name": %q,
		"county_ansi": "019",
		"commodity_desc": %q,
		"statisticcat_desc": "YIELD",
		"unit_desc": "BU / ACRE",
		"Value": %q
	}`, year, county, commodity, value))
}

func yieldQuery() domain.YieldQuery {
	return domain.YieldQuery{State: "ILLINOIS", Commodities: []string{"CORN", "SOYBEANS"}, StartYear: 2020, EndYear: 2021}
}

func newYieldFetcher(src fetch.YieldSource, opts fetch.Options, clock clockwork.Clock) *fetch.YieldFetcher {
	return fetch.NewYieldFetcher(src, opts, clock, nil, observability.NewMetricsForTesting(), discardLogger())
}

func TestFetchYields_OneRequestPerCommodity(t *testing.T) {
	src := &yieldSource{rows: map[string][]json.RawMessage{
		"CORN": {
			yieldRow("CORN", 2020, "CHAMPAIGN", "210.5"),
			yieldRow("CORN", 2021, "CHAMPAIGN", "(D)"),
		},
		"SOYBEANS": {
			yieldRow("SOYBEANS", 2020, "CHAMPAIGN", "63.2"),
		},
	}}
	f := newYieldFetcher(src, fastOptions(), clockwork.NewFakeClock())

	res, err := f.FetchYields(context.Background(), yieldQuery())
	require.NoError(t, err)

	assert.Equal(t, []domain.YieldRequest{
		{State: "ILLINOIS", Commodity: "CORN", StartYear: 2020, EndYear: 2021},
		{State: "ILLINOIS", Commodity: "SOYBEANS", StartYear: 2020, EndYear: 2021},
	}, src.requests)

	require.Len(t, res.Records, 3)
	assert.Equal(t, "CORN", res.Records[0].Commodity)
	assert.InDelta(t, 210.5, res.Records[0].Value, 1e-9)
	assert.Equal(t, "17019", res.Records[0].CountyFIPS)
	assert.True(t, res.Records[1].Suppressed)
	assert.Equal(t, "SOYBEANS", res.Records[2].Commodity)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, domain.StatusComplete, res.Status())
}

func TestFetchYields_FailedCommodityIsSkipped(t *testing.T) {
	src := &yieldSource{
		rows: map[string][]json.RawMessage{"SOYBEANS": {yieldRow("SOYBEANS", 2020, "COOK", "55")}},
		errs: map[string][]error{"CORN": {serverError()}},
	}
	f := newYieldFetcher(src, fastOptions(), clockwork.NewFakeClock())

	res, err := f.FetchYields(context.Background(), yieldQuery())
	require.NoError(t, err)

	assert.Len(t, src.requests, 2)
	require.Len(t, res.Records, 1)
	assert.Equal(t, domain.StatusPartial, res.Status())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "CORN", res.Failures[0].Key)
	assert.Equal(t, "CORN: noaa API error: status 500: upstream timeout", res.Failures[0].Error())
}

func TestFetchYields_RateLimitRetried(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &yieldSource{
		rows: map[string][]json.RawMessage{"CORN": {yieldRow("CORN", 2020, "COOK", "180")}},
		errs: map[string][]error{"CORN": {rateLimited()}},
	}
	opts := fastOptions()
	opts.RateLimitBackoff = time.Minute
	f := newYieldFetcher(src, opts, clock)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type outcome struct {
		res domain.Result[domain.YieldRecord]
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		q := yieldQuery()
		q.Commodities = []string{"CORN"}
		res, err := f.FetchYields(ctx, q)
		done <- outcome{res, err}
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Len(t, out.res.Records, 1)
		assert.Equal(t, domain.StatusComplete, out.res.Status())
	case <-ctx.Done():
		t.Fatal("yield fetch did not finish")
	}
	assert.Len(t, src.requests, 2)
}

func TestFetchYields_EveryCommodityFails(t *testing.T) {
	src := &yieldSource{errs: map[string][]error{
		"CORN":     {serverError()},
		"SOYBEANS": {serverError()},
	}}
	f := newYieldFetcher(src, fastOptions(), clockwork.NewFakeClock())

	res, err := f.FetchYields(context.Background(), yieldQuery())
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, domain.StatusFailed, res.Status())
}

func TestFetchYields_InvalidQuery(t *testing.T) {
	src := &yieldSource{}
	f := newYieldFetcher(src, fastOptions(), clockwork.NewFakeClock())

	q := yieldQuery()
	q.Commodities = nil
	_, err := f.FetchYields(context.Background(), q)
	require.ErrorIs(t, err, domain.ErrInvalidQuery)
	assert.Empty(t, src.requests)
}

func TestFetchYields_PacesCommodities(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &yieldSource{rows: map[string][]json.RawMessage{
		"CORN":     {yieldRow("CORN", 2020, "CHAMPAIGN", "210.5")},
		"SOYBEANS": {yieldRow("SOYBEANS", 2020, "CHAMPAIGN", "63.2")},
	}}
	opts := fastOptions()
	opts.RequestDelay = time.Second
	f := newYieldFetcher(src, opts, clock)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := clock.Now()
	done := make(chan error, 1)
	go func() {
		_, err := f.FetchYields(ctx, yieldQuery())
		done <- err
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	src.mu.Lock()
	assert.Len(t, src.requests, 1, "second commodity waits for the delay")
	src.mu.Unlock()
	clock.Advance(time.Second)

	require.NoError(t, <-done)
	assert.Len(t, src.requests, 2)
	assert.Equal(t, time.Second, clock.Since(start))
}
