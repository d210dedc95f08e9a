/*
span.go - Date span arithmetic for leave requests

Days are counted as calendar days over the inclusive [start, end] range.
Half-day markers on the first or last day subtract 0.5 each, which is how
the ledger gets its half-day granularity.
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"
)

var half = decimal.NewFromFloat(0.5)

// Span describes the requested leave period.
type Span struct {
	Start time.Time
	End   time.Time

	// HalfDayStart marks the first day as an afternoon-only absence,
	// HalfDayEnd the last day as morning-only. On a single-day span both
	// set together are rejected (a zero-day request).
	HalfDayStart bool
	HalfDayEnd   bool
}

// Validate checks the span's internal consistency.
func (s Span) Validate() error {
	if s.Start.IsZero() || s.End.IsZero() {
		return &ValidationError{Field: "dates", Reason: "start and end are required"}
	}
	if s.End.Before(s.Start) {
		return &ValidationError{Field: "end_date", Reason: "end date before start date"}
	}
	if sameDay(s.Start, s.End) && s.HalfDayStart && s.HalfDayEnd {
		return &ValidationError{Field: "half_day", Reason: "single-day span cannot be half on both ends"}
	}
	return nil
}

// Days returns the calendar-day count of the span, minus half-day markers.
func (s Span) Days() decimal.Decimal {
	start := truncateDay(s.Start)
	end := truncateDay(s.End)
	whole := int64(end.Sub(start).Hours()/24) + 1

	d := decimal.NewFromInt(whole)
	if s.HalfDayStart {
		d = d.Sub(half)
	}
	if s.HalfDayEnd {
		d = d.Sub(half)
	}
	return d
}

// Overlaps reports whether two inclusive date ranges share at least one day.
// Half-day markers do not narrow the overlap check: two half-day requests on
// the same date still collide.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !truncateDay(aEnd).Before(truncateDay(bStart)) &&
		!truncateDay(bEnd).Before(truncateDay(aStart))
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	return truncateDay(a).Equal(truncateDay(b))
}
