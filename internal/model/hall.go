package model

import (
	"fmt"
	"time"
)

// RateKind selects how a hall's hourly rate is chosen.
type RateKind string

const (
	RateFlat           RateKind = "flat"
	RateWeekdayWeekend RateKind = "weekday_weekend"
)

// RateConfig holds a hall's pricing. Hourly is used by RateFlat,
// Weekday/Weekend by RateWeekdayWeekend.
type RateConfig struct {
	Kind    RateKind `json:"kind"`
	Hourly  Money    `json:"hourly,omitempty"`
	Weekday Money    `json:"weekday,omitempty"`
	Weekend Money    `json:"weekend,omitempty"`
}

func (r RateConfig) Validate() error {
	switch r.Kind {
	case RateFlat, "":
		if r.Hourly < 0 {
			return fmt.Errorf("hourly rate cannot be negative")
		}
	case RateWeekdayWeekend:
		if r.Weekday < 0 || r.Weekend < 0 {
			return fmt.Errorf("weekday/weekend rates cannot be negative")
		}
	default:
		return fmt.Errorf("unknown rate kind %q", r.Kind)
	}
	return nil
}

type Hall struct {
	ID          int64      `json:"id"`
	Slug        string     `json:"slug"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Capacity    int        `json:"capacity"`
	ImageRef    string     `json:"image_ref,omitempty"`
	Rate        RateConfig `json:"rate"`
	IsActive    bool       `json:"is_active"`
}

// BlockedSlot is a staff-imposed unavailable interval.
type BlockedSlot struct {
	ID        int64     `json:"id"`
	HallID    int64     `json:"hall_id"`
	Interval  Interval  `json:"interval"`
	Reason    string    `json:"reason,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
