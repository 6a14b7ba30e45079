package models

import "time"

// DateLayout is the calendar-date format used on the wire.
const DateLayout = "2006-01-02"

var (
	minTimestamp = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTimestamp = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Window is an inclusive range of UTC calendar days. A side whose Has flag is
// unset is unbounded; the zero Window covers all time.
type Window struct {
	StartDate time.Time
	EndDate   time.Time
	HasStart  bool
	HasEnd    bool
}

// NewWindow bounds both sides, truncating each date to UTC midnight.
func NewWindow(start, end time.Time) Window {
	return Window{
		StartDate: TruncateDay(start),
		EndDate:   TruncateDay(end),
		HasStart:  true,
		HasEnd:    true,
	}
}

// Bounds translates the window into timestamp >= from AND timestamp < until,
// clamped to the range the event stores can bind.
func (w Window) Bounds() (from, until time.Time) {
	from, until = minTimestamp, maxTimestamp
	if w.HasStart {
		from = clampTimestamp(TruncateDay(w.StartDate))
	}
	if w.HasEnd {
		until = clampTimestamp(TruncateDay(w.EndDate).AddDate(0, 0, 1))
	}
	return from, until
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts time.Time) bool {
	from, until := w.Bounds()
	return !ts.Before(from) && ts.Before(until)
}

func (w Window) DateRange() DateRange {
	var dr DateRange
	if w.HasStart {
		dr.StartDate = w.StartDate.Format(DateLayout)
	}
	if w.HasEnd {
		dr.EndDate = w.EndDate.Format(DateLayout)
	}
	return dr
}

func clampTimestamp(ts time.Time) time.Time {
	switch {
	case ts.Before(minTimestamp):
		return minTimestamp
	case ts.After(maxTimestamp):
		return maxTimestamp
	}
	return ts
}

// TruncateDay returns midnight UTC of the calendar day ts falls on in UTC.
func TruncateDay(ts time.Time) time.Time {
	if ts.IsZero() {
		return ts
	}
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// VisitFilter selects raw events from the store. The Has* fields are
// tri-state: nil ignores the column, true requires a non-empty value, false
// requires it to be null or empty.
type VisitFilter struct {
	Window           Window
	PathPrefix       string
	ExcludedPrefixes []string
	HasIPAddress     *bool
	HasSessionKey    *bool
	HasUser          *bool
	Limit            int
}

const (
	DefaultVisitLimit = 100
	MaxVisitLimit     = 1000
)

// EffectiveLimit clamps Limit into [1, MaxVisitLimit].
func (f VisitFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultVisitLimit
	case f.Limit > MaxVisitLimit:
		return MaxVisitLimit
	default:
		return f.Limit
	}
}
