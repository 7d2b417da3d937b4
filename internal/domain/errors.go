package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRateLimitExhausted is returned when a page stays rate limited after the
// configured number of retries.
var ErrRateLimitExhausted = errors.New("rate limit retries exhausted")

// APIError is a non-2xx response from an upstream API.
type APIError struct {
	Source     string // "noaa" or "usda"
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s API error: status %d", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("%s API error: status %d: %s", e.Source, e.StatusCode, e.Body)
}

// IsRateLimited reports whether err is, or wraps, an HTTP 429 APIError.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
