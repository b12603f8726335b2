package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gaia/internal/schedule"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // console | json
	} `yaml:"log"`

	Database struct {
		Driver       string        `yaml:"driver"` // sqlite | postgres | memory
		Path         string        `yaml:"path"`
		DSN          string        `yaml:"dsn"`
		StoreTimeout time.Duration `yaml:"store_timeout"`
	} `yaml:"database"`

	Redis struct {
		Address        string        `yaml:"address"`
		Password       string        `yaml:"password"`
		DB             int           `yaml:"db"`
		IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	} `yaml:"redis"`

	Telegram struct {
		BotToken     string  `yaml:"bot_token"`
		Debug        bool    `yaml:"debug"`
		AdminChatIDs []int64 `yaml:"admin_chat_ids"`
	} `yaml:"telegram"`

	HTTP struct {
		Port int `yaml:"port"`
	} `yaml:"http"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
		GRPCHealthPort    int  `yaml:"grpc_health_port"`
	} `yaml:"monitoring"`

	Backup BackupConfig `yaml:"backup"`
	Notify NotifyConfig `yaml:"notify"`

	AMQP struct {
		URL   string `yaml:"url"`
		Queue string `yaml:"queue"`
		// CustomerQueue receives customer notices for the mailer.
		CustomerQueue string `yaml:"customer_queue"`
	} `yaml:"amqp"`

	Sheets struct {
		Enabled         bool   `yaml:"enabled"`
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		SheetName       string `yaml:"sheet_name"`
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"sheets"`

	Audit struct {
		Enabled       bool `yaml:"enabled"`
		ExportOnStart bool `yaml:"export_on_start"`
		RetentionDays int  `yaml:"retention_days"`
	} `yaml:"audit"`

	Facility  FacilityConfig `yaml:"facility"`
	HallsFile string         `yaml:"halls_file"`

	// Principal ids (Telegram user ids) with owner privileges.
	Owners []string `yaml:"owners"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Dir           string        `yaml:"dir"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
}

type NotifyConfig struct {
	Workers     int             `yaml:"workers"`
	QueueSize   int             `yaml:"queue_size"`
	RetryDelays []time.Duration `yaml:"retry_delays"`
	RatePerSec  float64         `yaml:"rate_per_sec"`
	Burst       int             `yaml:"burst"`
}

// HoursConfig is an "HH:MM" open/close pair.
type HoursConfig struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// HolidayConfig represents a closed date.
type HolidayConfig struct {
	Date string `yaml:"date"` // "2026-01-01"
	Name string `yaml:"name"` // "Новый год"
}

type FacilityConfig struct {
	Timezone           string                 `yaml:"timezone"`
	GranularityMinutes int                    `yaml:"granularity_minutes"`
	Hours              *HoursConfig           `yaml:"hours"`
	Weekly             map[string]HoursConfig `yaml:"weekly"`       // mon..sun
	DaysOff            []int                  `yaml:"days_off"`     // 1=Mon, 7=Sun
	WeekendDays        []int                  `yaml:"weekend_days"` // 1=Mon, 7=Sun
	Holidays           []HolidayConfig        `yaml:"holidays"`
	MinSlots           int                    `yaml:"min_slots"`
	MaxSlots           int                    `yaml:"max_slots"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a config document, expanding ${ENV_VAR} placeholders and
// applying defaults.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if cfg.Database.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/gaia.db"
	}
	if c.Database.StoreTimeout <= 0 {
		c.Database.StoreTimeout = 5 * time.Second
	}
	if c.Redis.IdempotencyTTL <= 0 {
		c.Redis.IdempotencyTTL = 24 * time.Hour
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = "data/backups"
	}
	if c.Notify.Workers <= 0 {
		c.Notify.Workers = 2
	}
	if c.Notify.QueueSize <= 0 {
		c.Notify.QueueSize = 256
	}
	if len(c.Notify.RetryDelays) == 0 {
		c.Notify.RetryDelays = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}
	}
	if c.AMQP.Queue == "" {
		c.AMQP.Queue = "reservation.events"
	}
	if c.AMQP.CustomerQueue == "" {
		c.AMQP.CustomerQueue = "customer.notifications"
	}
	if c.Sheets.SheetName == "" {
		c.Sheets.SheetName = "Reservations"
	}
	if c.Audit.RetentionDays < 0 {
		c.Audit.RetentionDays = 0
	}
	if c.HallsFile == "" {
		c.HallsFile = "configs/halls.yaml"
	}
}

var weekdayKeys = map[string]time.Weekday{
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,
}

// isoWeekday maps 1=Mon..7=Sun to time.Weekday.
func isoWeekday(d int) (time.Weekday, error) {
	if d < 1 || d > 7 {
		return 0, fmt.Errorf("invalid day %d, must be 1-7 (1=Mon, 7=Sun)", d)
	}
	return time.Weekday(d % 7), nil
}

// Policy builds the immutable business-hours policy from the facility section.
func (f FacilityConfig) Policy() (*schedule.Policy, error) {
	opts := schedule.Options{
		Granularity: time.Duration(f.GranularityMinutes) * time.Minute,
		MinSlots:    f.MinSlots,
		MaxSlots:    f.MaxSlots,
	}

	loc := time.UTC
	if f.Timezone != "" {
		l, err := time.LoadLocation(f.Timezone)
		if err != nil {
			return nil, fmt.Errorf("facility.timezone: %w", err)
		}
		loc = l
	}
	opts.Location = loc

	if f.Hours != nil {
		h, err := schedule.ParseHours(f.Hours.Open, f.Hours.Close)
		if err != nil {
			return nil, fmt.Errorf("facility.hours: %w", err)
		}
		opts.Default = &h
	}

	if len(f.Weekly) > 0 {
		opts.Weekly = make(map[time.Weekday]schedule.Hours, len(f.Weekly))
		for key, hc := range f.Weekly {
			wd, ok := weekdayKeys[strings.ToLower(key)]
			if !ok {
				return nil, fmt.Errorf("facility.weekly: unknown day %q, expected mon..sun", key)
			}
			h, err := schedule.ParseHours(hc.Open, hc.Close)
			if err != nil {
				return nil, fmt.Errorf("facility.weekly.%s: %w", key, err)
			}
			opts.Weekly[wd] = h
		}
	}

	for i, d := range f.DaysOff {
		wd, err := isoWeekday(d)
		if err != nil {
			return nil, fmt.Errorf("facility.days_off[%d]: %w", i, err)
		}
		opts.DaysOff = append(opts.DaysOff, wd)
	}
	for i, d := range f.WeekendDays {
		wd, err := isoWeekday(d)
		if err != nil {
			return nil, fmt.Errorf("facility.weekend_days[%d]: %w", i, err)
		}
		opts.WeekendDays = append(opts.WeekendDays, wd)
	}

	if len(f.Holidays) > 0 {
		opts.Holidays = make(map[string]string, len(f.Holidays))
		for i, h := range f.Holidays {
			if _, err := time.Parse("2006-01-02", h.Date); err != nil {
				return nil, fmt.Errorf("facility.holidays[%d]: invalid date format '%s', expected YYYY-MM-DD", i, h.Date)
			}
			opts.Holidays[h.Date] = h.Name
		}
	}

	p, err := schedule.New(opts)
	if err != nil {
		return nil, fmt.Errorf("facility: %w", err)
	}
	return p, nil
}
