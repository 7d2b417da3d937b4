package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultPageLimit is the largest page CDO serves.
const DefaultPageLimit = 1000

// CDO endpoints served through the page source.
const (
	EndpointData     = "data"
	EndpointStations = "stations"
)

// ResultSet is the paging metadata CDO attaches to each page.
type ResultSet struct {
	Offset int `json:"offset"`
	Count  int `json:"count"`
	Limit  int `json:"limit"`
}

// Exhausted reports whether the page described by rs is the last one.
// Offsets are 1-based, so the page covers records Offset..Offset+Limit-1.
// fallbackLimit stands in when the server omits its limit.
func (rs ResultSet) Exhausted(fallbackLimit int) bool {
	limit := rs.Limit
	if limit <= 0 {
		limit = fallbackLimit
	}
	if limit <= 0 {
		return true
	}
	return rs.Offset+limit > rs.Count
}

// Cursor addresses one page of a paged listing.
type Cursor struct {
	Offset int
	Limit  int
}

// FirstCursor returns the cursor for the first page with the given size.
func FirstCursor(limit int) Cursor {
	return Cursor{Offset: 1, Limit: limit}
}

// Next advances the cursor by one page.
func (c Cursor) Next() Cursor {
	return Cursor{Offset: c.Offset + c.Limit, Limit: c.Limit}
}

// PageRequest identifies one CDO page.
type PageRequest struct {
	Endpoint   string
	DatasetID  string
	LocationID string
	DataTypeID string
	Units      string
	Window     Window
	Cursor     Cursor
}

// HasWindow reports whether the request is bounded by a date window.
func (r PageRequest) HasWindow() bool {
	return !r.Window.Start.IsZero() && !r.Window.End.IsZero()
}

// Key returns a stable identifier for the request, suitable as a cache key.
// Credentials never take part in it.
func (r PageRequest) Key() string {
	parts := []string{
		r.Endpoint,
		r.DatasetID,
		r.LocationID,
		r.DataTypeID,
		r.Units,
	}
	if r.HasWindow() {
		parts = append(parts, r.Window.StartParam(), r.Window.EndParam())
	} else {
		parts = append(parts, "", "")
	}
	parts = append(parts, fmt.Sprintf("%d+%d", r.Cursor.Offset, r.Cursor.Limit))
	return strings.Join(parts, "|")
}

// Page is one decoded CDO response.
type Page struct {
	Results   []json.RawMessage `json:"results,omitempty"`
	ResultSet ResultSet         `json:"resultset"`
}

// Empty reports whether the page carried no records.
func (p Page) Empty() bool {
	return len(p.Results) == 0
}
