package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// CALENDAR DATES - Leave requests are modelled in whole days
// =============================================================================

const (
	Day        = 24 * time.Hour
	DateLayout = "2006-01-02"
)

// DateOf drops the time-of-day of t, keeping its calendar date, in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysInclusive counts the calendar days in [start, end], both ends included.
// Returns a value below 1 when end is before start.
//
// Counted on Unix seconds: time.Duration saturates past ~292 years.
func DaysInclusive(start, end time.Time) int {
	secs := DateOf(end).Unix() - DateOf(start).Unix()
	return int(secs/secondsPerDay) + 1
}

const secondsPerDay = int64(Day / time.Second)

// DateSpan returns the inclusive date range [start, end] as the half-open
// interval [start, end+1d).
func DateSpan(start, end time.Time) Interval {
	return Interval{Start: DateOf(start), End: DateOf(end).Add(Day)}
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}
