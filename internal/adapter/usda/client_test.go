package usda

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/couchcryptid/crop-climate-etl/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string) *Client {
	return &Client{
		apiKey:     "test-key",
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		metrics:    observability.NewMetricsForTesting(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func cornRequest() domain.YieldRequest {
	return domain.YieldRequest{State: "ILLINOIS", Commodity: "CORN", StartYear: 1990, EndYear: 2023}
}

func TestClient_GetYields_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api_GET/", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "test-key", q.Get("key"))
		assert.Equal(t, "SURVEY", q.Get("source_desc"))
		assert.Equal(t, "CROPS", q.Get("sector_desc"))
		assert.Equal(t, "FIELD CROPS", q.Get("group_desc"))
		assert.Equal(t, "CORN", q.Get("commodity_desc"))
		assert.Equal(t, "YIELD", q.Get("statisticcat_desc"))
		assert.Equal(t, "BU / ACRE", q.Get("unit_desc"))
		assert.Equal(t, "COUNTY", q.Get("agg_level_desc"))
		assert.Equal(t, "ILLINOIS", q.Get("state_name"))
		assert.Equal(t, "1990", q.Get("year__GE"))
		assert.Equal(t, "2023", q.Get("year__LE"))
		assert.Equal(t, "JSON", q.Get("format"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"year":2020,"state_name":"ILLINOIS","state_fips_code":"17","county_name":"MCLEAN","county_ansi":"113","commodity_desc":"CORN","statisticcat_desc":"YIELD","unit_desc":"BU / ACRE","Value":"214.7"},
			{"year":2021,"state_name":"ILLINOIS","state_fips_code":"17","county_name":"MCLEAN","county_ansi":"113","commodity_desc":"CORN","statisticcat_desc":"YIELD","unit_desc":"BU / ACRE","Value":"(D)"}
		]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	rows, err := c.GetYields(context.Background(), cornRequest())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	y, err := domain.ParseYield(rows[0])
	require.NoError(t, err)
	assert.Equal(t, 2020, y.Year)
	assert.Equal(t, "17113", y.CountyFIPS)
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.APIRequests.WithLabelValues(source, "success")), 0)
}

func TestClient_GetYields_NoDataKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	rows, err := testClient(srv.URL).GetYields(context.Background(), cornRequest())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestClient_GetYields_BadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":["bad request - invalid query"]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GetYields(context.Background(), cornRequest())
	require.Error(t, err)

	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "usda", apiErr.Source)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "invalid query")
}

func TestClient_GetYields_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.GetYields(context.Background(), cornRequest())
	require.Error(t, err)
	assert.True(t, domain.IsRateLimited(err))
	assert.Equal(t, "usda API error: status 429", err.Error())
}

func TestClient_GetYields_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": [`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GetYields(context.Background(), cornRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}
