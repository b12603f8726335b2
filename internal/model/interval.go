package model

import (
	"fmt"
	"time"
)

// Interval is a half-open time range [Start, End) on a hall's timeline.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewInterval(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// IsValid reports whether Start is strictly before End.
func (i Interval) IsValid() bool {
	return i.Start.Before(i.End)
}

// Overlaps reports whether the two ranges share any instant.
// Touching ranges ([10,11) and [11,12)) do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether o lies fully inside i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// In returns the interval with both bounds converted to loc.
func (i Interval) In(loc *time.Location) Interval {
	return Interval{Start: i.Start.In(loc), End: i.End.In(loc)}
}

func (i Interval) String() string {
	if sameDay(i.Start, i.End) {
		return fmt.Sprintf("%s %s-%s", i.Start.Format("2006-01-02"), i.Start.Format("15:04"), i.End.Format("15:04"))
	}
	return fmt.Sprintf("%s - %s", i.Start.Format("2006-01-02 15:04"), i.End.Format("2006-01-02 15:04"))
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
