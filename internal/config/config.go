package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when STUDIOBOOK_CONFIG_PATH is not set.
const DefaultPath = "configs/config.yaml"

type Config struct {
	HTTP struct {
		Port               int    `yaml:"port"`
		AdminAPIKey        string `yaml:"admin_api_key"`
		ReadTimeoutSeconds int    `yaml:"read_timeout_seconds"`
	} `yaml:"http"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		MaxAdvanceDays           int `yaml:"max_advance_days"`
		SideEffectTimeoutSeconds int `yaml:"side_effect_timeout_seconds"`
	} `yaml:"booking"`

	Outbox struct {
		PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
		BatchSize           int     `yaml:"batch_size"`
		MaxAttempts         int     `yaml:"max_attempts"`
		RatePerSecond       float64 `yaml:"rate_per_second"`
		Burst               int     `yaml:"burst"`
		RetryDelaysSeconds  []int   `yaml:"retry_delays_seconds"`
	} `yaml:"outbox"`

	Calendar struct {
		Enabled         bool   `yaml:"enabled"`
		CalendarID      string `yaml:"calendar_id"`
		CredentialsFile string `yaml:"credentials_file"`
		TimeZone        string `yaml:"time_zone"`
	} `yaml:"calendar"`

	Email struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"email"`

	Telegram struct {
		Enabled  bool   `yaml:"enabled"`
		BotToken string `yaml:"bot_token"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"telegram"`

	Catalog struct {
		Path                  string `yaml:"path"`
		ReloadIntervalSeconds int    `yaml:"reload_interval_seconds"`
	} `yaml:"catalog"`

	Admins []AdminConfig `yaml:"admins"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// AdminConfig seeds notification subscribers. Empty Kinds means every admin kind.
type AdminConfig struct {
	Name           string   `yaml:"name"`
	Email          string   `yaml:"email"`
	TelegramChatID int64    `yaml:"telegram_chat_id"`
	Kinds          []string `yaml:"kinds"`
}

// Load reads the YAML config, expanding ${ENV_VAR} placeholders. A .env file
// next to the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if path == "" {
		path = os.Getenv("STUDIOBOOK_CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/studiobook.db"
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "configs/catalog.yaml"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) HTTPPort() int {
	if c.HTTP.Port <= 0 {
		return 8080
	}
	return c.HTTP.Port
}

func (c *Config) CacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) MaxAdvanceDays() int {
	if c.Booking.MaxAdvanceDays <= 0 {
		return 90
	}
	return c.Booking.MaxAdvanceDays
}

func (c *Config) SideEffectTimeout() time.Duration {
	if c.Booking.SideEffectTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Booking.SideEffectTimeoutSeconds) * time.Second
}

func (c *Config) OutboxPollInterval() time.Duration {
	if c.Outbox.PollIntervalSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Outbox.PollIntervalSeconds) * time.Second
}

func (c *Config) OutboxRetryDelays() []time.Duration {
	if len(c.Outbox.RetryDelaysSeconds) == 0 {
		return []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute, time.Hour}
	}
	out := make([]time.Duration, len(c.Outbox.RetryDelaysSeconds))
	for i, s := range c.Outbox.RetryDelaysSeconds {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

func (c *Config) CatalogReloadInterval() time.Duration {
	if c.Catalog.ReloadIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Catalog.ReloadIntervalSeconds) * time.Second
}

// CalendarTimeZone is the zone name sent with calendar events; times are not converted.
func (c *Config) CalendarTimeZone() string {
	if c.Calendar.TimeZone == "" {
		return "UTC"
	}
	return c.Calendar.TimeZone
}
