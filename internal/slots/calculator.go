package slots

import (
	"context"
	"fmt"
	"time"

	"gaia/internal/model"
	"gaia/internal/schedule"
)

// Slot is one granularity-sized candidate within business hours.
type Slot struct {
	model.Interval
	Available bool
}

// SlotInfo is a simplified representation for clients.
type SlotInfo struct {
	Start     string `json:"start"` // "10:00"
	End       string `json:"end"`   // "11:00"
	Available bool   `json:"available"`
}

// FreeChecker decides whether a hall interval can be booked.
type FreeChecker interface {
	SlotIsFree(ctx context.Context, hallID int64, iv model.Interval) (bool, error)
}

// Calculator enumerates bookable slots of a day. Results are computed
// fresh on every call.
type Calculator struct {
	checker FreeChecker
	policy  *schedule.Policy
}

func NewCalculator(checker FreeChecker, policy *schedule.Policy) *Calculator {
	return &Calculator{checker: checker, policy: policy}
}

// Slots returns every candidate slot of the day with its availability.
// A day without business hours yields no slots and no error.
func (c *Calculator) Slots(ctx context.Context, hallID int64, day time.Time) ([]Slot, error) {
	window, ok := c.policy.Window(day)
	if !ok {
		return nil, nil
	}

	step := c.policy.Granularity()
	var out []Slot
	for cursor := window.Start; !cursor.Add(step).After(window.End); cursor = cursor.Add(step) {
		iv := model.NewInterval(cursor, cursor.Add(step))
		free, err := c.checker.SlotIsFree(ctx, hallID, iv)
		if err != nil {
			return nil, fmt.Errorf("check slot %s: %w", iv, err)
		}
		out = append(out, Slot{Interval: iv, Available: free})
	}
	return out, nil
}

// FreeSlots returns only the free slots of the day in chronological order.
func (c *Calculator) FreeSlots(ctx context.Context, hallID int64, day time.Time) ([]model.Interval, error) {
	all, err := c.Slots(ctx, hallID, day)
	if err != nil {
		return nil, err
	}
	free := make([]model.Interval, 0, len(all))
	for _, s := range all {
		if s.Available {
			free = append(free, s.Interval)
		}
	}
	return free, nil
}

// ToSlotInfo converts slots to SlotInfo in loc.
func ToSlotInfo(slots []Slot, loc *time.Location) []SlotInfo {
	result := make([]SlotInfo, len(slots))
	for i, s := range slots {
		result[i] = SlotInfo{
			Start:     s.Start.In(loc).Format("15:04"),
			End:       s.End.In(loc).Format("15:04"),
			Available: s.Available,
		}
	}
	return result
}

// MergeConsecutive joins touching intervals into longer runs.
func MergeConsecutive(free []model.Interval) []model.Interval {
	if len(free) == 0 {
		return nil
	}
	runs := []model.Interval{free[0]}
	for _, iv := range free[1:] {
		last := &runs[len(runs)-1]
		if iv.Start.Equal(last.End) {
			last.End = iv.End
			continue
		}
		runs = append(runs, iv)
	}
	return runs
}

// FormatDuration formats a whole-hour duration for chat messages.
func FormatDuration(d time.Duration) string {
	hours := int(d / time.Hour)
	mins := int((d % time.Hour) / time.Minute)
	if hours == 0 {
		return fmt.Sprintf("%d мин", mins)
	}
	if mins != 0 {
		return fmt.Sprintf("%d ч %d мин", hours, mins)
	}
	switch {
	case hours%10 == 1 && hours%100 != 11:
		return fmt.Sprintf("%d час", hours)
	case hours%10 >= 2 && hours%10 <= 4 && (hours%100 < 12 || hours%100 > 14):
		return fmt.Sprintf("%d часа", hours)
	}
	return fmt.Sprintf("%d часов", hours)
}
