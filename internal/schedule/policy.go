// Package schedule holds the facility's business-hours policy.
package schedule

import (
	"fmt"
	"time"

	"gaia/internal/model"
)

const (
	DefaultOpen        = "09:00"
	DefaultClose       = "21:00"
	DefaultGranularity = time.Hour
)

// Hours is a daily window expressed in minutes after local midnight.
type Hours struct {
	Open  int
	Close int
}

// ParseHours parses "09:00" and "21:00" style bounds. Close may be "24:00".
func ParseHours(open, close string) (Hours, error) {
	o, err := parseClock(open)
	if err != nil {
		return Hours{}, fmt.Errorf("open: %w", err)
	}
	c, err := parseClock(close)
	if err != nil {
		return Hours{}, fmt.Errorf("close: %w", err)
	}
	if c <= o {
		return Hours{}, fmt.Errorf("close %s must be after open %s", close, open)
	}
	return Hours{Open: o, Close: c}, nil
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return h*60 + m, nil
}

func (h Hours) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", h.Open/60, h.Open%60, h.Close/60, h.Close%60)
}

// Options configures a Policy. Zero values fall back to a 09:00-21:00
// window in UTC with one-hour slots and Saturday/Sunday as weekend.
type Options struct {
	Location    *time.Location
	Granularity time.Duration
	Default     *Hours
	Weekly      map[time.Weekday]Hours
	DaysOff     []time.Weekday
	Holidays    map[string]string // "2006-01-02" -> name
	WeekendDays []time.Weekday
	MinSlots    int
	MaxSlots    int
}

// Policy is an immutable business-hours configuration. It is safe for
// concurrent use.
type Policy struct {
	loc         *time.Location
	granularity time.Duration
	def         Hours
	weekly      map[time.Weekday]Hours
	daysOff     map[time.Weekday]bool
	holidays    map[string]string
	weekend     map[time.Weekday]bool
	minSlots    int
	maxSlots    int
}

func New(opts Options) (*Policy, error) {
	p := &Policy{
		loc:         opts.Location,
		granularity: opts.Granularity,
		weekly:      make(map[time.Weekday]Hours, len(opts.Weekly)),
		daysOff:     make(map[time.Weekday]bool, len(opts.DaysOff)),
		holidays:    make(map[string]string, len(opts.Holidays)),
		weekend:     make(map[time.Weekday]bool),
		minSlots:    opts.MinSlots,
		maxSlots:    opts.MaxSlots,
	}
	if p.loc == nil {
		p.loc = time.UTC
	}
	if p.granularity <= 0 {
		p.granularity = DefaultGranularity
	}
	if p.granularity%time.Minute != 0 {
		return nil, fmt.Errorf("granularity %s must be whole minutes", p.granularity)
	}
	if p.minSlots <= 0 {
		p.minSlots = 1
	}
	if p.maxSlots < 0 {
		return nil, fmt.Errorf("max slots cannot be negative")
	}
	if p.maxSlots > 0 && p.maxSlots < p.minSlots {
		return nil, fmt.Errorf("max slots %d is below min slots %d", p.maxSlots, p.minSlots)
	}

	if opts.Default != nil {
		p.def = *opts.Default
	} else {
		p.def, _ = ParseHours(DefaultOpen, DefaultClose)
	}
	if err := p.checkHours(p.def); err != nil {
		return nil, fmt.Errorf("default hours: %w", err)
	}
	for wd, h := range opts.Weekly {
		if err := p.checkHours(h); err != nil {
			return nil, fmt.Errorf("%s hours: %w", wd, err)
		}
		p.weekly[wd] = h
	}
	for _, wd := range opts.DaysOff {
		p.daysOff[wd] = true
	}
	for date, name := range opts.Holidays {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return nil, fmt.Errorf("holiday %q: expected YYYY-MM-DD", date)
		}
		p.holidays[date] = name
	}

	weekend := opts.WeekendDays
	if len(weekend) == 0 {
		weekend = []time.Weekday{time.Saturday, time.Sunday}
	}
	for _, wd := range weekend {
		p.weekend[wd] = true
	}

	return p, nil
}

// Default returns the 09:00-21:00 policy in the given location.
func Default(loc *time.Location) *Policy {
	p, err := New(Options{Location: loc})
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Policy) checkHours(h Hours) error {
	if h.Open < 0 || h.Close > 24*60 || h.Close <= h.Open {
		return fmt.Errorf("invalid window %s", h)
	}
	step := int(p.granularity / time.Minute)
	if (h.Close-h.Open)%step != 0 {
		return fmt.Errorf("window %s is not a multiple of %s", h, p.granularity)
	}
	return nil
}

func (p *Policy) Location() *time.Location   { return p.loc }
func (p *Policy) Granularity() time.Duration { return p.granularity }
func (p *Policy) MinSlots() int              { return p.minSlots }

// MaxSlots returns 0 when the booking length is unbounded.
func (p *Policy) MaxSlots() int { return p.maxSlots }

// Day returns local midnight of the calendar day containing t.
func (p *Policy) Day(t time.Time) time.Time {
	y, m, d := t.In(p.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, p.loc)
}

// IsHoliday reports whether day's local date is a configured holiday.
func (p *Policy) IsHoliday(day time.Time) (bool, string) {
	name, ok := p.holidays[day.In(p.loc).Format("2006-01-02")]
	return ok, name
}

func (p *Policy) IsWeekend(t time.Time) bool {
	return p.weekend[t.In(p.loc).Weekday()]
}

// HoursFor returns the configured window of the local day containing day.
// ok is false on weekly days off and holidays.
func (p *Policy) HoursFor(day time.Time) (Hours, bool) {
	local := day.In(p.loc)
	if p.daysOff[local.Weekday()] {
		return Hours{}, false
	}
	if holiday, _ := p.IsHoliday(local); holiday {
		return Hours{}, false
	}
	if h, ok := p.weekly[local.Weekday()]; ok {
		return h, true
	}
	return p.def, true
}

// Window returns the bookable range of the local day containing day.
func (p *Policy) Window(day time.Time) (model.Interval, bool) {
	h, ok := p.HoursFor(day)
	if !ok {
		return model.Interval{}, false
	}
	y, m, d := day.In(p.loc).Date()
	return model.NewInterval(
		time.Date(y, m, d, 0, h.Open, 0, 0, p.loc),
		time.Date(y, m, d, 0, h.Close, 0, 0, p.loc),
	), true
}
