package noaa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/couchcryptid/crop-climate-etl/internal/observability"
)

// DefaultBaseURL is the CDO v2 web service root.
const DefaultBaseURL = "https://www.ncdc.noaa.gov/cdo-web/api/v2"

const source = "noaa"

// maxErrorBody caps how much of an error response is kept in APIError.
const maxErrorBody = 512

// Client fetches single pages from the NOAA Climate Data Online API.
// It implements fetch.PageSource.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a CDO client. An empty baseURL uses DefaultBaseURL.
func NewClient(token, baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		metrics: metrics,
		logger:  logger,
	}
}

// GetPage requests one page of a CDO listing.
func (c *Client) GetPage(ctx context.Context, req domain.PageRequest) (domain.Page, error) {
	u := fmt.Sprintf("%s/%s?%s", c.baseURL, req.Endpoint, queryParams(req).Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Page{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("token", c.token)
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	c.metrics.APIDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.APIRequests.WithLabelValues(source, "error").Inc()
		return domain.Page{}, fmt.Errorf("%s request: %w", req.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		outcome := "error"
		if resp.StatusCode == http.StatusTooManyRequests {
			outcome = "rate_limited"
		}
		c.metrics.APIRequests.WithLabelValues(source, outcome).Inc()
		return domain.Page{}, &domain.APIError{Source: source, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var cdoResp response
	if err := json.NewDecoder(resp.Body).Decode(&cdoResp); err != nil {
		c.metrics.APIRequests.WithLabelValues(source, "error").Inc()
		return domain.Page{}, fmt.Errorf("decode response: %w", err)
	}
	c.metrics.APIRequests.WithLabelValues(source, "success").Inc()

	c.logger.Debug("cdo page received",
		"endpoint", req.Endpoint,
		"offset", req.Cursor.Offset,
		"results", len(cdoResp.Results),
		"count", cdoResp.Metadata.ResultSet.Count,
	)

	return domain.Page{
		Results:   cdoResp.Results,
		ResultSet: cdoResp.Metadata.ResultSet,
	}, nil
}

func queryParams(req domain.PageRequest) url.Values {
	params := url.Values{}
	set := func(key, value string) {
		if value != "" {
			params.Set(key, value)
		}
	}
	set("datasetid", req.DatasetID)
	set("locationid", req.LocationID)
	set("datatypeid", req.DataTypeID)
	set("units", req.Units)
	if req.HasWindow() {
		params.Set("startdate", req.Window.StartParam())
		params.Set("enddate", req.Window.EndParam())
	}
	params.Set("limit", strconv.Itoa(req.Cursor.Limit))
	params.Set("offset", strconv.Itoa(req.Cursor.Offset))
	return params
}

// CDO API response types.

type response struct {
	Metadata metadata          `json:"metadata"`
	Results  []json.RawMessage `json:"results"`
}

type metadata struct {
	ResultSet domain.ResultSet `json:"resultset"`
}
