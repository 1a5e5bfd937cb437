package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port        int    `yaml:"port"`
		AdminAPIKey string `yaml:"admin_api_key"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// CacheTTLSeconds bounds availability read staleness. 0 disables caching.
		CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Timezone string `yaml:"timezone"`

	Pricing struct {
		DaycareFlat      int `yaml:"daycare_flat"`
		TrialFlat        int `yaml:"trial_flat"`
		BoardingOneDog   int `yaml:"boarding_one_dog"`
		BoardingTwoDogs  int `yaml:"boarding_two_dogs"`
		LatePickupFee    int `yaml:"late_pickup_fee"`
		LatePickupCutoff int `yaml:"late_pickup_cutoff"`
	} `yaml:"pricing"`

	Capacity struct {
		Daycare       int `yaml:"daycare"`
		BoardingSmall int `yaml:"boarding_small"`
		BoardingLarge int `yaml:"boarding_large"`
		Trial         int `yaml:"trial"`
	} `yaml:"capacity"`

	Reservations struct {
		TTLMinutes           int `yaml:"ttl_minutes"`
		SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
		// RatePerMinute limits reserve attempts per client email.
		RatePerMinute int `yaml:"rate_per_minute"`
		RateBurst     int `yaml:"rate_burst"`
	} `yaml:"reservations"`

	Payments struct {
		BaseURL            string `yaml:"base_url"`
		APIKey             string `yaml:"api_key"`
		Currency           string `yaml:"currency"`
		PollIntervalSec    int    `yaml:"poll_interval_seconds"`
		PollGraceMinutes   int    `yaml:"poll_grace_minutes"`
		RequestTimeoutSecs int    `yaml:"request_timeout_seconds"`
	} `yaml:"payments"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Alerts struct {
		TelegramBotToken string `yaml:"telegram_bot_token"`
		TelegramChatID   int64  `yaml:"telegram_chat_id"`
	} `yaml:"alerts"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	// Unmarshal over the seeded defaults: keys absent from the file
	// keep their default, while an explicit zero (a free service, a
	// closed resource) is honored rather than mistaken for unset.
	cfg := defaultConfig()
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Zero is never usable for these, so it falls back to the default.
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/kennelbook.db"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Europe/Madrid"
	}
	if cfg.Payments.Currency == "" {
		cfg.Payments.Currency = "eur"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaultConfig() Config {
	var c Config
	c.Server.Port = 8080
	c.Database.Path = "data/kennelbook.db"
	c.Timezone = "Europe/Madrid"

	c.Pricing.DaycareFlat = 20
	c.Pricing.TrialFlat = 20
	c.Pricing.BoardingOneDog = 25
	c.Pricing.BoardingTwoDogs = 40
	c.Pricing.LatePickupFee = 10
	c.Pricing.LatePickupCutoff = 16

	c.Capacity.Daycare = 20
	c.Capacity.BoardingSmall = 6
	c.Capacity.BoardingLarge = 6
	c.Capacity.Trial = 3

	c.Payments.Currency = "eur"
	return c
}

// Location resolves the facility time zone used for all calendar-day
// arithmetic.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ReservationTTL is how long an unpaid hold keeps its capacity.
func (c *Config) ReservationTTL() time.Duration {
	if c.Reservations.TTLMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Reservations.TTLMinutes) * time.Minute
}

// SweepInterval is the expiry sweeper tick. Kept well below the TTL so
// abandoned holds are released promptly.
func (c *Config) SweepInterval() time.Duration {
	if c.Reservations.SweepIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Reservations.SweepIntervalSeconds) * time.Second
}

func (c *Config) PaymentPollInterval() time.Duration {
	if c.Payments.PollIntervalSec <= 0 {
		return time.Minute
	}
	return time.Duration(c.Payments.PollIntervalSec) * time.Second
}

// PaymentPollGrace is how long a booking may sit pending before the
// poller starts verifying its payment status directly.
func (c *Config) PaymentPollGrace() time.Duration {
	if c.Payments.PollGraceMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Payments.PollGraceMinutes) * time.Minute
}

func (c *Config) PaymentRequestTimeout() time.Duration {
	if c.Payments.RequestTimeoutSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Payments.RequestTimeoutSecs) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}
