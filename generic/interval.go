package generic

import "time"

// =============================================================================
// INTERVAL - Half-open time range [Start, End)
// =============================================================================

// Interval is the half-open range [Start, End).
// Well-formedness (Start < End) is checked by NewInterval; Overlaps does not
// validate its inputs.
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval returns [start, end) or a ValidationError when start >= end or
// either endpoint is missing.
func NewInterval(start, end time.Time) (Interval, error) {
	if start.IsZero() {
		return Interval{}, &ValidationError{Field: "start", Message: "is required"}
	}
	if end.IsZero() {
		return Interval{}, &ValidationError{Field: "end", Message: "is required"}
	}
	if !start.Before(end) {
		return Interval{}, &ValidationError{Field: "end", Message: "must be after start"}
	}
	return Interval{Start: start, End: end}, nil
}

// Overlaps reports whether a and b share any instant.
// Defined as NOT (a.End <= b.Start OR a.Start >= b.End), so back-to-back
// intervals (a.End == b.Start) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

func (i Interval) Overlaps(other Interval) bool { return Overlaps(i, other) }

func (i Interval) Valid() bool { return i.Start.Before(i.End) }

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

// UTC returns the interval with both endpoints in UTC.
func (i Interval) UTC() Interval { return Interval{Start: i.Start.UTC(), End: i.End.UTC()} }

func (i Interval) String() string {
	return "[" + i.Start.Format(time.RFC3339) + ", " + i.End.Format(time.RFC3339) + ")"
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
