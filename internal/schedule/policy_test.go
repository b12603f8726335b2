package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHours(t *testing.T) {
	h, err := ParseHours("09:00", "21:00")
	require.NoError(t, err)
	assert.Equal(t, Hours{Open: 9 * 60, Close: 21 * 60}, h)
	assert.Equal(t, "09:00-21:00", h.String())

	h, err = ParseHours("00:00", "24:00")
	require.NoError(t, err)
	assert.Equal(t, 24*60, h.Close)

	_, err = ParseHours("21:00", "09:00")
	assert.Error(t, err)
	_, err = ParseHours("9", "21:00")
	assert.Error(t, err)
	_, err = ParseHours("09:00", "24:30")
	assert.Error(t, err)
}

func TestDefaultWindow(t *testing.T) {
	p := Default(time.UTC)
	day := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

	w, ok := p.Window(day)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, time.Hour, p.Granularity())
	assert.Equal(t, 1, p.MinSlots())
	assert.Equal(t, 0, p.MaxSlots())
}

func TestWindowUsesFacilityTimezone(t *testing.T) {
	loc := time.FixedZone("MSK", 3*60*60)
	p := Default(loc)

	// 22:30 UTC on the 9th is already the 10th in the facility timezone.
	w, ok := p.Window(time.Date(2026, 3, 9, 22, 30, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, loc), w.Start)
	assert.True(t, w.Start.Equal(time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)))
}

func TestDaysOffHolidaysAndWeekly(t *testing.T) {
	weekend, err := ParseHours("10:00", "18:00")
	require.NoError(t, err)

	p, err := New(Options{
		Weekly:   map[time.Weekday]Hours{time.Saturday: weekend},
		DaysOff:  []time.Weekday{time.Sunday},
		Holidays: map[string]string{"2026-03-09": "Праздник"},
	})
	require.NoError(t, err)

	// 2026-03-08 is a Sunday
	_, ok := p.Window(time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC))
	assert.False(t, ok)

	_, ok = p.Window(time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC))
	assert.False(t, ok)
	holiday, name := p.IsHoliday(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC))
	assert.True(t, holiday)
	assert.Equal(t, "Праздник", name)

	w, ok := p.Window(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, 10, w.Start.Hour())
	assert.Equal(t, 18, w.End.Hour())
}

func TestWeekendDays(t *testing.T) {
	p := Default(time.UTC)
	assert.True(t, p.IsWeekend(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)))
	assert.False(t, p.IsWeekend(time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)))

	custom, err := New(Options{WeekendDays: []time.Weekday{time.Friday}})
	require.NoError(t, err)
	assert.True(t, custom.IsWeekend(time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)))
	assert.False(t, custom.IsWeekend(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)))
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(Options{Granularity: 90 * time.Second})
	assert.Error(t, err)

	_, err = New(Options{MinSlots: 3, MaxSlots: 2})
	assert.Error(t, err)

	_, err = New(Options{Holidays: map[string]string{"09.03.2026": "x"}})
	assert.Error(t, err)

	odd, _ := ParseHours("09:00", "10:30")
	_, err = New(Options{Default: &odd})
	assert.Error(t, err, "window must be a multiple of the granularity")
}
