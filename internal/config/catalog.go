package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"studiobook/internal/models"

	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"
)

// ServiceTypeConfig describes one bookable service type.
type ServiceTypeConfig struct {
	ID              int64  `yaml:"id"`
	Name            string `yaml:"name"`
	Slug            string `yaml:"slug,omitempty"`
	Description     string `yaml:"description,omitempty"`
	DurationMinutes int    `yaml:"duration_minutes"`
	Color           string `yaml:"color,omitempty"`
	IsActive        bool   `yaml:"is_active"`
	DisplayOrder    int    `yaml:"display_order"`
}

// DayHoursConfig overrides the default hours for one weekday (0=Sun, 6=Sat).
type DayHoursConfig struct {
	Day    int    `yaml:"day"`
	Open   string `yaml:"open,omitempty"`
	Close  string `yaml:"close,omitempty"`
	Closed bool   `yaml:"closed,omitempty"`
}

// HolidayConfig becomes a date block.
type HolidayConfig struct {
	Date string `yaml:"date"` // "2026-01-01"
	Name string `yaml:"name"`
}

// HoursDefaultsConfig applies to every weekday not listed in working_hours.
type HoursDefaultsConfig struct {
	Open    string `yaml:"open"`
	Close   string `yaml:"close"`
	DaysOff []int  `yaml:"days_off"` // 0=Sun, 6=Sat
}

// CatalogConfig is the root of catalog.yaml.
type CatalogConfig struct {
	ServiceTypes []ServiceTypeConfig `yaml:"service_types"`
	Defaults     HoursDefaultsConfig `yaml:"defaults"`
	WorkingHours []DayHoursConfig    `yaml:"working_hours"`
	Holidays     []HolidayConfig     `yaml:"holidays"`
}

// LoadCatalogConfig loads and validates catalog configuration from a YAML file.
func LoadCatalogConfig(path string) (*CatalogConfig, error) {
	if path == "" {
		path = "configs/catalog.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog config: %w", err)
	}
	return ParseCatalogConfig(data)
}

// ParseCatalogConfig decodes and validates catalog YAML.
func ParseCatalogConfig(data []byte) (*CatalogConfig, error) {
	var cfg CatalogConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse catalog config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *CatalogConfig) Validate() error {
	if len(c.ServiceTypes) == 0 {
		return fmt.Errorf("no service types defined")
	}

	ids := make(map[int64]bool)
	names := make(map[string]bool)
	for i, st := range c.ServiceTypes {
		if st.ID <= 0 {
			return fmt.Errorf("service_types[%d]: id must be positive, got %d", i, st.ID)
		}
		if ids[st.ID] {
			return fmt.Errorf("service_types[%d]: duplicate id %d", i, st.ID)
		}
		ids[st.ID] = true

		if strings.TrimSpace(st.Name) == "" {
			return fmt.Errorf("service_types[%d]: name is required", i)
		}
		if names[st.Name] {
			return fmt.Errorf("service_types[%d]: duplicate name '%s'", i, st.Name)
		}
		names[st.Name] = true

		if st.DurationMinutes <= 0 {
			return fmt.Errorf("service_types[%d]: duration_minutes must be positive", i)
		}
	}

	if c.Defaults.Open != "" || c.Defaults.Close != "" {
		if err := validateHours(c.Defaults.Open, c.Defaults.Close, "defaults"); err != nil {
			return err
		}
	}

	for i, d := range c.Defaults.DaysOff {
		if d < 0 || d > 6 {
			return fmt.Errorf("defaults.days_off[%d]: invalid day %d, must be 0-6 (0=Sun)", i, d)
		}
	}

	seenDays := make(map[int]bool)
	for i, wh := range c.WorkingHours {
		if wh.Day < 0 || wh.Day > 6 {
			return fmt.Errorf("working_hours[%d]: invalid day %d, must be 0-6 (0=Sun)", i, wh.Day)
		}
		if seenDays[wh.Day] {
			return fmt.Errorf("working_hours[%d]: duplicate day %d", i, wh.Day)
		}
		seenDays[wh.Day] = true
		if wh.Closed {
			continue
		}
		if err := validateHours(wh.Open, wh.Close, fmt.Sprintf("working_hours[%d]", i)); err != nil {
			return err
		}
	}

	for i, h := range c.Holidays {
		if h.Date == "" {
			return fmt.Errorf("holiday[%d]: date is required", i)
		}
		if _, err := time.Parse(models.DateLayout, h.Date); err != nil {
			return fmt.Errorf("holiday[%d]: invalid date format '%s', expected YYYY-MM-DD", i, h.Date)
		}
	}

	return nil
}

func validateHours(open, closeAt, prefix string) error {
	o, err := models.ParseTimeOfDay(open)
	if err != nil {
		return fmt.Errorf("%s.open: %w", prefix, err)
	}
	cl, err := models.ParseTimeOfDay(closeAt)
	if err != nil {
		return fmt.Errorf("%s.close: %w", prefix, err)
	}
	if cl <= o {
		return fmt.Errorf("%s: close must be after open", prefix)
	}
	return nil
}

func (c *CatalogConfig) applyDefaults() {
	for i := range c.ServiceTypes {
		if c.ServiceTypes[i].Slug == "" {
			c.ServiceTypes[i].Slug = slug.Make(c.ServiceTypes[i].Name)
		}
	}
}

// WeeklyHours resolves the seven WorkingHours rows, Sunday first.
func (c *CatalogConfig) WeeklyHours() []models.WorkingHours {
	explicit := make(map[int]DayHoursConfig, len(c.WorkingHours))
	for _, wh := range c.WorkingHours {
		explicit[wh.Day] = wh
	}
	daysOff := make(map[int]bool, len(c.Defaults.DaysOff))
	for _, d := range c.Defaults.DaysOff {
		daysOff[d] = true
	}

	out := make([]models.WorkingHours, 7)
	for day := 0; day < 7; day++ {
		entry := models.WorkingHours{DayOfWeek: day}
		open, closeAt := c.Defaults.Open, c.Defaults.Close
		closed := daysOff[day]

		if wh, ok := explicit[day]; ok {
			closed = wh.Closed
			if wh.Open != "" {
				open = wh.Open
			}
			if wh.Close != "" {
				closeAt = wh.Close
			}
		}

		if !closed && open != "" && closeAt != "" {
			entry.IsWorkingDay = true
			entry.OpenTime, _ = models.ParseTimeOfDay(open)
			entry.CloseTime, _ = models.ParseTimeOfDay(closeAt)
		}
		out[day] = entry
	}
	return out
}

// CatalogDiff summarises how one catalog differs from another.
type CatalogDiff struct {
	Added           []int64
	Removed         []int64
	Changed         []int64
	HoursChanged    bool
	HolidaysChanged bool
}

// Empty reports whether the two catalogs are equivalent.
func (d CatalogDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0 &&
		!d.HoursChanged && !d.HolidaysChanged
}

// Diff compares c against prev. A nil prev treats every service type as added.
func (c *CatalogConfig) Diff(prev *CatalogConfig) CatalogDiff {
	var d CatalogDiff
	if prev == nil {
		prev = &CatalogConfig{}
	}

	old := make(map[int64]ServiceTypeConfig, len(prev.ServiceTypes))
	for _, st := range prev.ServiceTypes {
		old[st.ID] = st
	}
	for _, st := range c.ServiceTypes {
		was, ok := old[st.ID]
		switch {
		case !ok:
			d.Added = append(d.Added, st.ID)
		case was != st:
			d.Changed = append(d.Changed, st.ID)
		}
		delete(old, st.ID)
	}
	for _, st := range prev.ServiceTypes {
		if _, ok := old[st.ID]; ok {
			d.Removed = append(d.Removed, st.ID)
		}
	}

	cur, before := c.WeeklyHours(), prev.WeeklyHours()
	for i := range cur {
		if cur[i] != before[i] {
			d.HoursChanged = true
			break
		}
	}

	if len(c.Holidays) != len(prev.Holidays) {
		d.HolidaysChanged = true
	} else {
		for i := range c.Holidays {
			if c.Holidays[i] != prev.Holidays[i] {
				d.HolidaysChanged = true
				break
			}
		}
	}
	return d
}

// String returns a summary of the configuration.
func (c *CatalogConfig) String() string {
	active := 0
	for _, st := range c.ServiceTypes {
		if st.IsActive {
			active++
		}
	}
	return fmt.Sprintf("CatalogConfig: %d service types (%d active), %d holidays",
		len(c.ServiceTypes), active, len(c.Holidays))
}
