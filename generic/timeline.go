package generic

import (
	"sort"
	"time"
)

// =============================================================================
// TIMELINE - Free/busy partition of a window
// =============================================================================

type SlotStatus string

const (
	SlotFree SlotStatus = "free"
	SlotBusy SlotStatus = "busy"
)

// Segment is one contiguous piece of a timeline.
type Segment struct {
	Start  time.Time
	End    time.Time
	Status SlotStatus
}

// BuildTimeline partitions window into alternating free and busy segments.
//
// Busy intervals are clipped to the window; overlapping or touching busy
// intervals collapse into one segment. The result covers the window exactly:
// the first segment starts at window.Start, the last ends at window.End and
// each segment starts where the previous one ended. An invalid window yields
// nil.
func BuildTimeline(window Interval, busy []Interval) []Segment {
	if !window.Valid() {
		return nil
	}

	sorted := make([]Interval, len(busy))
	copy(sorted, busy)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	var segments []Segment
	cursor := window.Start

	for _, iv := range sorted {
		if !iv.Valid() || !iv.End.After(cursor) {
			continue
		}
		if !iv.Start.Before(window.End) {
			break
		}

		start := maxTime(iv.Start, cursor)
		end := minTime(iv.End, window.End)

		if start.After(cursor) {
			segments = append(segments, Segment{Start: cursor, End: start, Status: SlotFree})
		}

		if n := len(segments); n > 0 && segments[n-1].Status == SlotBusy && segments[n-1].End.Equal(start) {
			segments[n-1].End = end
		} else {
			segments = append(segments, Segment{Start: start, End: end, Status: SlotBusy})
		}
		cursor = end

		if !cursor.Before(window.End) {
			break
		}
	}

	if cursor.Before(window.End) {
		segments = append(segments, Segment{Start: cursor, End: window.End, Status: SlotFree})
	}
	return segments
}
