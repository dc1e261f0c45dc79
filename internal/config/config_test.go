package config

import (
	"context"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `
service_types:
  - id: 1
    name: Portrait Session
    duration_minutes: 60
    is_active: true
  - id: 2
    name: Mini Shoot
    slug: mini
    duration_minutes: 30
    is_active: false
defaults:
  open: "09:00"
  close: "17:00"
  days_off: [0]
working_hours:
  - day: 6
    open: "10:00"
    close: "14:00"
  - day: 3
    closed: true
holidays:
  - date: "2026-01-01"
    name: New Year
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_ADMIN_KEY", "secret-key")
	path := writeFile(t, dir, "config.yaml", `
http:
  admin_api_key: ${TEST_ADMIN_KEY}
database:
  path: `+filepath.Join(dir, "db", "app.db")+`
outbox:
  retry_delays_seconds: [1, 5]
admins:
  - name: Studio
    email: studio@example.com
    kinds: [booking_pending]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret-key", cfg.HTTP.AdminAPIKey)
	assert.Equal(t, 8080, cfg.HTTPPort())
	assert.Equal(t, 90, cfg.MaxAdvanceDays())
	assert.Equal(t, 10*time.Second, cfg.SideEffectTimeout())
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second}, cfg.OutboxRetryDelays())
	assert.Equal(t, "UTC", cfg.CalendarTimeZone())
	assert.Equal(t, "configs/catalog.yaml", cfg.Catalog.Path)
	require.Len(t, cfg.Admins, 1)
	assert.Equal(t, []string{"booking_pending"}, cfg.Admins[0].Kinds)

	_, err = os.Stat(filepath.Join(dir, "db"))
	assert.NoError(t, err, "database directory is created")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadCatalogConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "catalog.yaml", catalogYAML)

	cfg, err := LoadCatalogConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.ServiceTypes, 2)
	assert.Equal(t, "portrait-session", cfg.ServiceTypes[0].Slug)
	assert.Equal(t, "mini", cfg.ServiceTypes[1].Slug)

	week := cfg.WeeklyHours()
	require.Len(t, week, 7)
	assert.False(t, week[0].IsWorkingDay, "sunday is a default day off")
	assert.True(t, week[1].IsWorkingDay)
	assert.Equal(t, "09:00", week[1].OpenTime.String())
	assert.Equal(t, "17:00", week[1].CloseTime.String())
	assert.False(t, week[3].IsWorkingDay, "wednesday explicitly closed")
	assert.Equal(t, "10:00", week[6].OpenTime.String())
	assert.Equal(t, "14:00", week[6].CloseTime.String())

	assert.Contains(t, cfg.String(), "2 service types (1 active)")
}

func TestCatalogConfig_Validate(t *testing.T) {
	base := func() CatalogConfig {
		return CatalogConfig{ServiceTypes: []ServiceTypeConfig{{ID: 1, Name: "A", DurationMinutes: 30}}}
	}

	tests := []struct {
		name   string
		mutate func(*CatalogConfig)
		errMsg string
	}{
		{"no service types", func(c *CatalogConfig) { c.ServiceTypes = nil }, "no service types"},
		{"duplicate id", func(c *CatalogConfig) {
			c.ServiceTypes = append(c.ServiceTypes, ServiceTypeConfig{ID: 1, Name: "B", DurationMinutes: 30})
		}, "duplicate id"},
		{"zero duration", func(c *CatalogConfig) { c.ServiceTypes[0].DurationMinutes = 0 }, "duration_minutes"},
		{"bad day", func(c *CatalogConfig) { c.WorkingHours = []DayHoursConfig{{Day: 7, Closed: true}} }, "invalid day"},
		{"close before open", func(c *CatalogConfig) {
			c.WorkingHours = []DayHoursConfig{{Day: 1, Open: "18:00", Close: "09:00"}}
		}, "close must be after open"},
		{"bad holiday", func(c *CatalogConfig) { c.Holidays = []HolidayConfig{{Date: "01.01.2026"}} }, "invalid date format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	valid := base()
	assert.NoError(t, valid.Validate())
}

func TestWatchCatalog(t *testing.T) {
	path := writeFile(t, t.TempDir(), "catalog.yaml", catalogYAML)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	var lastHolidays atomic.Int32
	err := WatchCatalog(ctx, path, 10*time.Millisecond, nil, func(cfg *CatalogConfig) {
		calls.Add(1)
		lastHolidays.Store(int32(len(cfg.Holidays)))
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "initial load")

	updated := catalogYAML + `
  - date: "2026-12-25"
    name: Christmas
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), lastHolidays.Load())
}

func TestWatchCatalog_MissingFile(t *testing.T) {
	err := WatchCatalog(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), time.Second, nil, nil)
	assert.Error(t, err)
}

func TestCatalogWatcher_Check(t *testing.T) {
	path := writeFile(t, t.TempDir(), "catalog.yaml", catalogYAML)
	initial, err := LoadCatalogConfig(path)
	require.NoError(t, err)

	var applied []*CatalogConfig
	logger := zerolog.New(io.Discard)
	w := &catalogWatcher{
		path:     path,
		logger:   &logger,
		onUpdate: func(c *CatalogConfig) { applied = append(applied, c) },
		current:  initial,
		sum:      sha256.Sum256([]byte(catalogYAML)),
	}
	stamp := time.Now()
	touch := func(content string) {
		t.Helper()
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		stamp = stamp.Add(time.Second)
		require.NoError(t, os.Chtimes(path, stamp, stamp))
	}

	t.Run("same bytes", func(t *testing.T) {
		touch(catalogYAML)
		assert.False(t, w.check())
		assert.False(t, w.check(), "mtime already seen")
		assert.Empty(t, applied)
	})

	t.Run("reformatted without effect", func(t *testing.T) {
		touch("# studio catalog\n" + catalogYAML)
		assert.False(t, w.check())
		assert.Empty(t, applied)
	})

	t.Run("invalid edit keeps previous catalog", func(t *testing.T) {
		touch("service_types: []\n")
		assert.False(t, w.check())
		assert.Empty(t, applied)
		assert.Same(t, initial, w.current)
	})

	t.Run("real change", func(t *testing.T) {
		touch(strings.Replace(catalogYAML, "duration_minutes: 30", "duration_minutes: 45", 1))
		require.True(t, w.check())
		require.Len(t, applied, 1)
		assert.Equal(t, 45, applied[0].ServiceTypes[1].DurationMinutes)
		assert.Same(t, applied[0], w.current)
	})
}

func TestCatalogConfig_Diff(t *testing.T) {
	prev, err := ParseCatalogConfig([]byte(catalogYAML))
	require.NoError(t, err)

	same, err := ParseCatalogConfig([]byte(catalogYAML))
	require.NoError(t, err)
	assert.True(t, same.Diff(prev).Empty())

	next, err := ParseCatalogConfig([]byte(catalogYAML))
	require.NoError(t, err)
	next.ServiceTypes[0].Name = "Portrait Deluxe"
	next.ServiceTypes = append(next.ServiceTypes[:1], ServiceTypeConfig{ID: 3, Name: "Family", Slug: "family", DurationMinutes: 90})
	next.Defaults.Close = "18:00"

	d := next.Diff(prev)
	assert.Equal(t, []int64{3}, d.Added)
	assert.Equal(t, []int64{2}, d.Removed)
	assert.Equal(t, []int64{1}, d.Changed)
	assert.True(t, d.HoursChanged)
	assert.False(t, d.HolidaysChanged)
	assert.False(t, d.Empty())

	fresh := prev.Diff(nil)
	assert.Equal(t, []int64{1, 2}, fresh.Added)
	assert.True(t, fresh.HolidaysChanged)
}
