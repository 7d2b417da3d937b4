package domain

import (
	"errors"
	"fmt"
	"slices"
)

// Status summarizes how complete a fetch was.
type Status string

const (
	// StatusComplete means every page group finished without error.
	StatusComplete Status = "complete"
	// StatusPartial means some page groups failed but records were retrieved.
	StatusPartial Status = "partial"
	// StatusFailed means page groups failed and nothing was retrieved.
	StatusFailed Status = "failed"
)

// Failure records a page group that was abandoned.
type Failure struct {
	Window Window // zero for unwindowed listings
	Key    string // datatype, commodity or endpoint
	Offset int    // page offset that failed, 0 when not paged
	Err    error
}

func (f Failure) Error() string {
	scope := f.Key
	if !f.Window.Start.IsZero() {
		scope = f.Window.String() + " " + f.Key
	}
	if f.Offset > 0 {
		return fmt.Sprintf("%s at offset %d: %v", scope, f.Offset, f.Err)
	}
	return fmt.Sprintf("%s: %v", scope, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Result is the outcome of one top-level fetch call: every record in the
// order it arrived, the number of pages read, and the groups that failed.
type Result[T any] struct {
	Records  []T
	Pages    int
	Failures []Failure
}

// Empty reports whether nothing was retrieved.
func (r Result[T]) Empty() bool {
	return len(r.Records) == 0
}

// Status classifies the result.
func (r Result[T]) Status() Status {
	switch {
	case len(r.Failures) == 0:
		return StatusComplete
	case len(r.Records) > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// Err joins all failures, or returns nil when there were none.
func (r Result[T]) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Accumulator gathers records for a single fetch call. It is not safe for
// concurrent use.
type Accumulator[T any] struct {
	records  []T
	pages    int
	failures []Failure
}

// AddPage appends the records of one page in arrival order.
func (a *Accumulator[T]) AddPage(records ...T) {
	a.records = append(a.records, records...)
	a.pages++
}

// Fail records an abandoned page group.
func (a *Accumulator[T]) Fail(f Failure) {
	a.failures = append(a.failures, f)
}

// Result hands back everything gathered. The returned slices do not alias
// the accumulator's storage.
func (a *Accumulator[T]) Result() Result[T] {
	return Result[T]{
		Records:  slices.Clone(a.records),
		Pages:    a.pages,
		Failures: slices.Clone(a.failures),
	}
}
