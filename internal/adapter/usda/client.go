package usda

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

// DefaultBaseURL is the NASS QuickStats API root.
const DefaultBaseURL = "https://quickstats.nass.usda.gov/api"

const source = "usda"

const maxErrorBody = 512

// Client queries county-level survey yields from NASS QuickStats.
// It implements fetch.YieldSource.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a QuickStats client. An empty baseURL uses DefaultBaseURL.
func NewClient(apiKey, baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		metrics:    metrics,
		logger:     logger,
	}
}

// GetYields returns the raw QuickStats rows for one commodity. A response
// without a data array yields no rows and no error.
func (c *Client) GetYields(ctx context.Context, req domain.YieldRequest) ([]json.RawMessage, error) {
	u := fmt.Sprintf("%s/api_GET/?%s", c.baseURL, c.queryParams(req).Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	c.metrics.APIDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.APIRequests.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("quickstats request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		outcome := "error"
		if resp.StatusCode == http.StatusTooManyRequests {
			outcome = "rate_limited"
		}
		c.metrics.APIRequests.WithLabelValues(source, outcome).Inc()
		return nil, &domain.APIError{Source: source, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var qsResp response
	if err := json.NewDecoder(resp.Body).Decode(&qsResp); err != nil {
		c.metrics.APIRequests.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("decode response: %w", err)
	}
	c.metrics.APIRequests.WithLabelValues(source, "success").Inc()

	if qsResp.Data == nil {
		c.logger.Warn("quickstats returned no data", "commodity", req.Commodity, "state", req.State)
	}
	return qsResp.Data, nil
}

func (c *Client) queryParams(req domain.YieldRequest) url.Values {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("source_desc", "SURVEY")
	params.Set("sector_desc", "CROPS")
	params.Set("group_desc", "FIELD CROPS")
	params.Set("commodity_desc", req.Commodity)
	params.Set("statisticcat_desc", "YIELD")
	params.Set("unit_desc", "BU / ACRE")
	params.Set("agg_level_desc", "COUNTY")
	params.Set("state_name", req.State)
	params.Set("year__GE", strconv.Itoa(req.StartYear))
	params.Set("year__LE", strconv.Itoa(req.EndYear))
	params.Set("format", "JSON")
	return params
}

type response struct {
	Data []json.RawMessage `json:"data"`
}
