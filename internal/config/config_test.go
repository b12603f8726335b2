package config

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"gaia/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DefaultsAndEnv(t *testing.T) {
	t.Setenv("GAIA_TEST_BOT_TOKEN", "123:abc")
	dir := t.TempDir()

	cfg, err := Parse([]byte(`
telegram:
  bot_token: ${GAIA_TEST_BOT_TOKEN}
database:
  path: ` + filepath.Join(dir, "db", "gaia.db") + `
  store_timeout: 2s
notify:
  retry_delays: [100ms, 1s]
owners: ["42"]
`))
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 2*time.Second, cfg.Database.StoreTimeout)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, time.Second}, cfg.Notify.RetryDelays)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "reservation.events", cfg.AMQP.Queue)
	assert.Equal(t, "customer.notifications", cfg.AMQP.CustomerQueue)
	assert.Equal(t, []string{"42"}, cfg.Owners)
	assert.DirExists(t, filepath.Join(dir, "db"))
}

func TestFacilityPolicy(t *testing.T) {
	f := FacilityConfig{
		Timezone:           "Europe/Moscow",
		GranularityMinutes: 30,
		Hours:              &HoursConfig{Open: "10:00", Close: "22:00"},
		Weekly:             map[string]HoursConfig{"sat": {Open: "12:00", Close: "18:00"}},
		DaysOff:            []int{7},
		WeekendDays:        []int{5, 6},
		Holidays:           []HolidayConfig{{Date: "2026-03-09", Name: "Праздник"}},
		MaxSlots:           8,
	}

	p, err := f.Policy()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, p.Granularity())
	assert.Equal(t, 8, p.MaxSlots())

	msk := p.Location()
	tuesday := time.Date(2026, 3, 10, 12, 0, 0, 0, msk)
	w, ok := p.Window(tuesday)
	require.True(t, ok)
	assert.Equal(t, 10, w.Start.Hour())
	assert.Equal(t, 22, w.End.Hour())

	saturday := time.Date(2026, 3, 14, 12, 0, 0, 0, msk)
	w, ok = p.Window(saturday)
	require.True(t, ok)
	assert.Equal(t, 12, w.Start.Hour())
	assert.True(t, p.IsWeekend(saturday))
	assert.True(t, p.IsWeekend(time.Date(2026, 3, 13, 12, 0, 0, 0, msk)))

	_, ok = p.Window(time.Date(2026, 3, 15, 12, 0, 0, 0, msk))
	assert.False(t, ok, "sunday is a day off")
	_, ok = p.Window(time.Date(2026, 3, 9, 12, 0, 0, 0, msk))
	assert.False(t, ok, "holiday")
}

func TestFacilityPolicy_Invalid(t *testing.T) {
	tests := []struct {
		name string
		f    FacilityConfig
	}{
		{"bad timezone", FacilityConfig{Timezone: "Mars/Olympus"}},
		{"bad hours", FacilityConfig{Hours: &HoursConfig{Open: "22:00", Close: "10:00"}}},
		{"bad weekday key", FacilityConfig{Weekly: map[string]HoursConfig{"funday": {Open: "10:00", Close: "11:00"}}}},
		{"bad day off", FacilityConfig{DaysOff: []int{0}}},
		{"bad holiday", FacilityConfig{Holidays: []HolidayConfig{{Date: "09.03.2026"}}}},
		{"window not a slot multiple", FacilityConfig{Hours: &HoursConfig{Open: "10:00", Close: "10:30"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.f.Policy()
			assert.Error(t, err)
		})
	}
}

const hallsYAML = `
halls:
  - slug: main
    name: Большой зал
    capacity: 40
    rate:
      kind: flat
      hourly: "1000"
  - slug: loft
    name: Лофт
    rate:
      kind: weekday_weekend
      weekday: "800"
      weekend: "1499.50"
  - slug: old
    name: Старый зал
    is_active: false
    rate:
      hourly: "500"
`

func TestParseHallsConfig(t *testing.T) {
	cfg, err := ParseHallsConfig([]byte(hallsYAML))
	require.NoError(t, err)

	halls := cfg.ModelHalls()
	require.Len(t, halls, 3)

	assert.Equal(t, "main", halls[0].Slug)
	assert.Equal(t, 40, halls[0].Capacity)
	assert.Equal(t, model.RateFlat, halls[0].Rate.Kind)
	assert.Equal(t, model.Units(1000), halls[0].Rate.Hourly)
	assert.True(t, halls[0].IsActive)

	assert.Equal(t, model.RateWeekdayWeekend, halls[1].Rate.Kind)
	assert.Equal(t, model.Money(149950), halls[1].Rate.Weekend)

	assert.Equal(t, model.RateFlat, halls[2].Rate.Kind)
	assert.False(t, halls[2].IsActive)
}

func TestParseHallsConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":          `halls: []`,
		"bad slug":       "halls:\n  - {slug: 'Main Hall', name: x, rate: {hourly: '1'}}",
		"duplicate slug": "halls:\n  - {slug: a, name: x, rate: {hourly: '1'}}\n  - {slug: a, name: y, rate: {hourly: '1'}}",
		"missing name":   "halls:\n  - {slug: a, rate: {hourly: '1'}}",
		"missing rate":   "halls:\n  - {slug: a, name: x}",
		"bad price":      "halls:\n  - {slug: a, name: x, rate: {hourly: '1.234'}}",
		"unknown kind":   "halls:\n  - {slug: a, name: x, rate: {kind: hourly, hourly: '1'}}",
		"weekend only":   "halls:\n  - {slug: a, name: x, rate: {kind: weekday_weekend, weekend: '1'}}",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseHallsConfig([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestWatchHalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "halls.yaml")
	require.NoError(t, os.WriteFile(path, []byte(hallsYAML), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		updates [][]model.Hall
		errs    []error
	)
	err := WatchHalls(ctx, path, 10*time.Millisecond,
		func(c *HallsConfig) {
			mu.Lock()
			defer mu.Unlock()
			updates = append(updates, c.ModelHalls())
		},
		func(err error) {
			mu.Lock()
			defer mu.Unlock()
			errs = append(errs, err)
		},
	)
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, updates, 1)
	mu.Unlock()

	// invalid edit is reported and ignored
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.WriteFile(path, []byte("halls: []"), 0o600))
	require.NoError(t, os.Chtimes(path, future, future))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 1
	}, time.Second, 10*time.Millisecond)

	later := future.Add(time.Minute)
	require.NoError(t, os.WriteFile(path, []byte("halls:\n  - {slug: solo, name: Solo, rate: {hourly: '100'}}"), 0o600))
	require.NoError(t, os.Chtimes(path, later, later))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 2 && len(updates[1]) == 1 && updates[1][0].Slug == "solo"
	}, time.Second, 10*time.Millisecond)
}

func TestHallsWatcher_ContentHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "halls.yaml")
	require.NoError(t, os.WriteFile(path, []byte(hallsYAML), 0o600))

	w, cfg, err := newHallsWatcher(path)
	require.NoError(t, err)
	require.Len(t, cfg.ModelHalls(), 3)

	// same content with a new timestamp is not an update
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))
	_, changed, err := w.poll()
	require.NoError(t, err)
	assert.False(t, changed)

	// new content restored with an older timestamp is
	solo := "halls:\n  - {slug: solo, name: Solo, rate: {hourly: '100'}}"
	require.NoError(t, os.WriteFile(path, []byte(solo), 0o600))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))
	cfg, changed, err = w.poll()
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, "solo", cfg.ModelHalls()[0].Slug)

	// a broken version is reported once
	require.NoError(t, os.WriteFile(path, []byte("halls: []"), 0o600))
	require.NoError(t, os.Chtimes(path, future, future))
	_, _, err = w.poll()
	assert.Error(t, err)
	require.NoError(t, os.Chtimes(path, future.Add(time.Minute), future.Add(time.Minute)))
	_, changed, err = w.poll()
	assert.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.Remove(path))
	_, _, err = w.poll()
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
