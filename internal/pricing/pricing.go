// Package pricing computes reservation totals from hall rate configuration.
package pricing

import (
	"errors"
	"fmt"
	"time"

	"gaia/internal/model"
)

var (
	ErrFractionalHours = errors.New("duration is not a whole number of hours")
	ErrInvalidInterval = errors.New("interval end must be after start")
)

// Strategy picks the hourly rate for a reservation starting at start.
type Strategy interface {
	HourlyRate(start time.Time) model.Money
}

// Flat charges the same rate on every day.
type Flat struct {
	Rate model.Money
}

func (f Flat) HourlyRate(time.Time) model.Money { return f.Rate }

// WeekdayWeekend charges Weekend on the policy's weekend days, Weekday otherwise.
type WeekdayWeekend struct {
	Weekday   model.Money
	Weekend   model.Money
	IsWeekend func(time.Time) bool
}

func (w WeekdayWeekend) HourlyRate(start time.Time) model.Money {
	if w.IsWeekend != nil && w.IsWeekend(start) {
		return w.Weekend
	}
	return w.Weekday
}

// WeekendChecker is satisfied by *schedule.Policy.
type WeekendChecker interface {
	IsWeekend(t time.Time) bool
}

type Engine struct {
	weekend WeekendChecker
}

func NewEngine(weekend WeekendChecker) *Engine {
	return &Engine{weekend: weekend}
}

// StrategyFor builds the rate strategy configured on the hall.
func (e *Engine) StrategyFor(h *model.Hall) (Strategy, error) {
	if err := h.Rate.Validate(); err != nil {
		return nil, fmt.Errorf("hall %s: %w", h.Slug, err)
	}
	switch h.Rate.Kind {
	case model.RateWeekdayWeekend:
		return WeekdayWeekend{
			Weekday:   h.Rate.Weekday,
			Weekend:   h.Rate.Weekend,
			IsWeekend: e.weekend.IsWeekend,
		}, nil
	default:
		return Flat{Rate: h.Rate.Hourly}, nil
	}
}

// Price returns rate(start) * whole hours. The weekend test uses the
// start instant only, so a booking never mixes two rates.
func (e *Engine) Price(h *model.Hall, iv model.Interval) (model.Money, error) {
	if !iv.IsValid() {
		return 0, ErrInvalidInterval
	}
	d := iv.Duration()
	if d%time.Hour != 0 {
		return 0, fmt.Errorf("%w: %s", ErrFractionalHours, d)
	}
	s, err := e.StrategyFor(h)
	if err != nil {
		return 0, err
	}
	return s.HourlyRate(iv.Start).Mul(int64(d / time.Hour)), nil
}

// Hours returns the whole-hour duration used for billing.
func Hours(iv model.Interval) int {
	return int(iv.Duration() / time.Hour)
}
