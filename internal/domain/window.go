package domain

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the CDO request date format.
const DateLayout = "2006-01-02"

// DefaultWindowDays is the largest span sent in a single CDO data request.
const DefaultWindowDays = 180

// Window is a half-open date interval [Start, End) at day granularity in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of calendar days the window spans.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours() / 24)
}

// StartParam formats the window start for the CDO startdate parameter.
func (w Window) StartParam() string {
	return w.Start.Format(DateLayout)
}

// EndParam formats the last day inside the window for the inclusive CDO
// enddate parameter.
func (w Window) EndParam() string {
	return w.End.AddDate(0, 0, -1).Format(DateLayout)
}

func (w Window) String() string {
	return w.Start.Format(DateLayout) + "/" + w.End.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD string as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// SplitWindows divides [start, end) into consecutive windows of at most
// maxDays days. Windows are contiguous: each window's End is the next
// window's Start, the first Start is start and the last End is end.
// An empty range yields no windows.
func SplitWindows(start, end time.Time, maxDays int) ([]Window, error) {
	if maxDays <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d days", maxDays)
	}
	start = truncateDay(start)
	end = truncateDay(end)
	if end.Before(start) {
		return nil, errors.New("window end is before start")
	}

	var windows []Window
	for current := start; current.Before(end); {
		next := current.AddDate(0, 0, maxDays)
		if next.After(end) {
			next = end
		}
		windows = append(windows, Window{Start: current, End: next})
		current = next
	}
	return windows, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
