// Package testutil provides a deterministic stand-in for the CDO and
// QuickStats APIs.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// MockConfig shapes the data and failures the mock serves.
type MockConfig struct {
	// Token, when set, must match the CDO "token" header.
	Token string
	// APIKey, when set, must match the QuickStats "key" parameter.
	APIKey string
	// Stations is the number of stations reporting every datatype every day.
	Stations int
	// Counties is the number of counties reporting each commodity each year.
	Counties int
	// RateLimitEvery answers every Nth request with HTTP 429. 0 disables it.
	RateLimitEvery int
	// FailDataTypes answer with HTTP 500 for these CDO datatypes.
	FailDataTypes []string
}

// MockAPI serves CDO under /cdo and QuickStats under /nass.
type MockAPI struct {
	cfg  MockConfig
	fail map[string]bool
	mux  *http.ServeMux

	mu          sync.Mutex
	requests    int
	rateLimited int
}

// NewMockAPI creates a mock with cfg. Zero Stations or Counties default to 3.
func NewMockAPI(cfg MockConfig) *MockAPI {
	if cfg.Stations <= 0 {
		cfg.Stations = 3
	}
	if cfg.Counties <= 0 {
		cfg.Counties = 3
	}
	m := &MockAPI{cfg: cfg, fail: make(map[string]bool), mux: http.NewServeMux()}
	for _, dt := range cfg.FailDataTypes {
		m.fail[dt] = true
	}

	m.mux.HandleFunc("GET /cdo/data", m.handleData)
	m.mux.HandleFunc("GET /cdo/stations", m.handleStations)
	m.mux.HandleFunc("GET /nass/api_GET/", m.handleYields)
	return m
}

// ServeHTTP counts the request, injects rate limiting, and routes it.
func (m *MockAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests++
	limited := m.cfg.RateLimitEvery > 0 && m.requests%m.cfg.RateLimitEvery == 0
	if limited {
		m.rateLimited++
	}
	m.mu.Unlock()

	if limited {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"status": "429", "message": "rate limit exceeded"})
		return
	}
	m.mux.ServeHTTP(w, r)
}

// RequestCount returns the number of requests served, including 429s.
func (m *MockAPI) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// RateLimitedCount returns the number of requests answered with 429.
func (m *MockAPI) RateLimitedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rateLimited
}

// Reset clears the request counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = 0
	m.rateLimited = 0
}

// DailyCount is the number of /data records the mock holds for one
// datatype over the inclusive date range.
func (m *MockAPI) DailyCount(start, end time.Time) int {
	days := int(end.Sub(start).Hours()/24) + 1
	if days < 0 {
		return 0
	}
	return days * m.cfg.Stations
}

func (m *MockAPI) handleData(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(w, r) {
		return
	}
	q := r.URL.Query()
	datatype := q.Get("datatypeid")
	if m.fail[datatype] {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "500", "message": "upstream timeout"})
		return
	}

	start, err1 := time.Parse(dateLayout, q.Get("startdate"))
	end, err2 := time.Parse(dateLayout, q.Get("enddate"))
	if err1 != nil || err2 != nil || end.Before(start) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "400", "message": "invalid date range"})
		return
	}

	count := m.DailyCount(start, end)
	m.writePage(w, r, count, func(i int) any {
		dayIndex, station := i/m.cfg.Stations, i%m.cfg.Stations
		return map[string]any{
			"date":       start.AddDate(0, 0, dayIndex).Format("2006-01-02T15:04:05"),
			"datatype":   datatype,
			"station":    stationID(station),
			"attributes": ",,7,",
			"value":      float64((dayIndex*7+station*3)%400) / 10,
		}
	})
}

func (m *MockAPI) handleStations(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(w, r) {
		return
	}
	m.writePage(w, r, m.cfg.Stations, func(i int) any {
		return map[string]any{
			"id":            stationID(i),
			"name":          fmt.Sprintf("MOCK STATION %d, IL US", i+1),
			"latitude":      40.0 + float64(i)/10,
			"longitude":     -89.0 - float64(i)/10,
			"elevation":     180.0 + float64(i),
			"elevationUnit": "METERS",
			"mindate":       "1990-01-01",
			"maxdate":       "2023-12-31",
			"datacoverage":  1,
		}
	})
}

// writePage serves records [offset, offset+limit) of a listing of count
// records using 1-based offsets. Past the end it answers with an empty
// object, as CDO does.
func (m *MockAPI) writePage(w http.ResponseWriter, r *http.Request, count int, record func(i int) any) {
	q := r.URL.Query()
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 25
	}
	offset, err := strconv.Atoi(q.Get("offset"))
	if err != nil || offset <= 0 {
		offset = 1
	}

	if count == 0 || offset > count {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}

	last := min(offset-1+limit, count)
	results := make([]any, 0, last-offset+1)
	for i := offset - 1; i < last; i++ {
		results = append(results, record(i))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metadata": map[string]any{
			"resultset": map[string]int{"offset": offset, "count": count, "limit": limit},
		},
		"results": results,
	})
}

func (m *MockAPI) handleYields(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if m.cfg.APIKey != "" && q.Get("key") != m.cfg.APIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	from, err1 := strconv.Atoi(q.Get("year__GE"))
	to, err2 := strconv.Atoi(q.Get("year__LE"))
	if err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": []string{"bad request - invalid query"}})
		return
	}

	commodity := q.Get("commodity_desc")
	var data []map[string]string
	for year := from; year <= to; year++ {
		for c := range m.cfg.Counties {
			value := strconv.FormatFloat(150+float64((year*13+c*29)%900)/10, 'f', 1, 64)
			if c == 0 && year%5 == 0 {
				value = "(D)"
			}
			data = append(data, map[string]string{
				"year":              strconv.Itoa(year),
				"state_name":        q.Get("state_name"),
				"state_fips_code":   "17",
				"county_name":       fmt.Sprintf("MOCK COUNTY %d", c+1),
				"county_ansi":       fmt.Sprintf("%03d", 2*c+1),
				"commodity_desc":    commodity,
				"statisticcat_desc": "YIELD",
				"unit_desc":         q.Get("unit_desc"),
				"Value":             value,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (m *MockAPI) authorized(w http.ResponseWriter, r *http.Request) bool {
	if m.cfg.Token == "" || r.Header.Get("token") == m.cfg.Token {
		return true
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{"status": "400", "message": "Token parameter is required."})
	return false
}

func stationID(i int) string {
	return fmt.Sprintf("GHCND:USC%08d", 110000+i)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort mock response
}
