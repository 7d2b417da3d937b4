package fetch

import "sync/atomic"

// Progress counts work done across every fetch sharing it. It is safe to
// read from other goroutines while a fetch is running.
type Progress struct {
	windows  atomic.Int64
	pages    atomic.Int64
	records  atomic.Int64
	failures atomic.Int64
}

// ProgressSnapshot is a point-in-time copy of Progress.
type ProgressSnapshot struct {
	Windows  int64 `json:"windows"`
	Pages    int64 `json:"pages"`
	Records  int64 `json:"records"`
	Failures int64 `json:"failures"`
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		Windows:  p.windows.Load(),
		Pages:    p.pages.Load(),
		Records:  p.records.Load(),
		Failures: p.failures.Load(),
	}
}

// Pages returns the number of pages fetched so far.
func (p *Progress) Pages() int64 {
	return p.pages.Load()
}

func (p *Progress) addPage(records int) {
	p.pages.Add(1)
	p.records.Add(int64(records))
}
