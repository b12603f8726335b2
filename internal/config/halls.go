package config

import (
	"fmt"
	"os"
	"regexp"

	"gaia/internal/model"

	"gopkg.in/yaml.v3"
)

// HallConfig represents a single hall in halls.yaml.
type HallConfig struct {
	Slug        string     `yaml:"slug"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Capacity    int        `yaml:"capacity"`
	Image       string     `yaml:"image"`
	IsActive    *bool      `yaml:"is_active,omitempty"` // default true
	Rate        RateConfig `yaml:"rate"`
}

// RateConfig holds decimal prices as strings, e.g. "1500" or "1499.50".
type RateConfig struct {
	Kind    string `yaml:"kind"` // flat | weekday_weekend
	Hourly  string `yaml:"hourly"`
	Weekday string `yaml:"weekday"`
	Weekend string `yaml:"weekend"`
}

// HallsConfig is the root configuration for halls.yaml.
type HallsConfig struct {
	Halls []HallConfig `yaml:"halls"`
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// LoadHallsConfig loads and validates halls from a YAML file.
func LoadHallsConfig(path string) (*HallsConfig, error) {
	if path == "" {
		path = "configs/halls.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read halls config: %w", err)
	}
	return ParseHallsConfig(data)
}

func ParseHallsConfig(data []byte) (*HallsConfig, error) {
	var cfg HallsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse halls config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate halls config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *HallsConfig) Validate() error {
	if len(c.Halls) == 0 {
		return fmt.Errorf("no halls defined")
	}

	slugs := make(map[string]bool)
	for i, h := range c.Halls {
		if !slugPattern.MatchString(h.Slug) {
			return fmt.Errorf("hall[%d]: invalid slug '%s'", i, h.Slug)
		}
		if slugs[h.Slug] {
			return fmt.Errorf("hall[%d]: duplicate slug '%s'", i, h.Slug)
		}
		slugs[h.Slug] = true

		if h.Name == "" {
			return fmt.Errorf("hall[%d]: name is required", i)
		}
		if h.Capacity < 0 {
			return fmt.Errorf("hall[%d]: capacity cannot be negative", i)
		}
		if _, err := h.Rate.toModel(); err != nil {
			return fmt.Errorf("hall[%d].rate: %w", i, err)
		}
	}
	return nil
}

func (r RateConfig) toModel() (model.RateConfig, error) {
	parse := func(field, s string) (model.Money, error) {
		if s == "" {
			return 0, fmt.Errorf("%s is required", field)
		}
		m, err := model.ParseMoney(s)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", field, err)
		}
		return m, nil
	}

	var (
		out model.RateConfig
		err error
	)
	switch model.RateKind(r.Kind) {
	case model.RateFlat, "":
		out.Kind = model.RateFlat
		out.Hourly, err = parse("hourly", r.Hourly)
	case model.RateWeekdayWeekend:
		out.Kind = model.RateWeekdayWeekend
		if out.Weekday, err = parse("weekday", r.Weekday); err == nil {
			out.Weekend, err = parse("weekend", r.Weekend)
		}
	default:
		return out, fmt.Errorf("unknown kind %q", r.Kind)
	}
	if err != nil {
		return out, err
	}
	return out, out.Validate()
}

// ModelHalls converts the validated configuration to model halls without ids.
func (c *HallsConfig) ModelHalls() []model.Hall {
	out := make([]model.Hall, 0, len(c.Halls))
	for _, h := range c.Halls {
		rate, _ := h.Rate.toModel()
		active := true
		if h.IsActive != nil {
			active = *h.IsActive
		}
		out = append(out, model.Hall{
			Slug:        h.Slug,
			Name:        h.Name,
			Description: h.Description,
			Capacity:    h.Capacity,
			ImageRef:    h.Image,
			Rate:        rate,
			IsActive:    active,
		})
	}
	return out
}
