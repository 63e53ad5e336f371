// Package interval holds half-open time interval helpers used by the
// scheduling core.
package interval

import "time"

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Contains reports whether Start <= t < End.
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Overlaps reports whether the two half-open intervals share any instant.
// Intervals that only touch at an endpoint do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Fits reports whether a job of duration d starting at start ends no later
// than the interval end.
func (i Interval) Fits(start time.Time, d time.Duration) bool {
	return !start.Add(d).After(i.End)
}

// EndsBefore reports whether end is strictly before deadline.
func EndsBefore(end, deadline time.Time) bool {
	return end.Before(deadline)
}

// Later returns the later of a and b.
func Later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// Progress returns how far now is through the interval, clamped to [0, 1].
func (i Interval) Progress(now time.Time) float64 {
	total := i.Duration()
	if total <= 0 {
		return 1
	}
	p := float64(now.Sub(i.Start)) / float64(total)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
