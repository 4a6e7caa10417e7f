package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Redis     RedisConfig     `json:"redis"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Access    AccessConfig    `json:"access"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log lines at or above MinLevel to ChatID.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RedisConfig selects the user store. Leave addr and url empty to run in memory.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	URL      string `json:"url,omitempty"`
}

// BroadcastConfig tunes the dispatch engine. Zero values fall back to defaults:
//   - pacing_delay: "100ms"
//   - progress_every: 50
//   - max_errors: 100
//   - registry_max: 200
//   - registry_ttl: "24h"
//   - prune_schedule: "@every 10m" (cron spec)
type BroadcastConfig struct {
	PacingDelay   string `json:"pacing_delay,omitempty"`
	ProgressEvery int    `json:"progress_every,omitempty"`
	MaxErrors     int    `json:"max_errors,omitempty"`
	RegistryMax   int    `json:"registry_max,omitempty"`
	RegistryTTL   string `json:"registry_ttl,omitempty"`
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

// AccessConfig drives the token gate.
type AccessConfig struct {
	TokenDuration   string `json:"token_duration,omitempty"` // default "1h"
	Validity        string `json:"validity,omitempty"`       // default "24h"
	VerificationURL string `json:"verification_url,omitempty"`
	// Cooldown is the minimum gap between two gated requests of one user. Default "60s".
	Cooldown string `json:"cooldown,omitempty"`
}

// StorageConfig controls the audit log.
//
//	"storage": { "driver": "sqlite", "path": "./gatebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9090"
}

const DefaultPruneSchedule = "@every 10m"

// Validate checks fields that would otherwise fail later at apply time.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or set BOT_TOKEN)"))
	}
	durations := map[string]string{
		"telegram.poll_timeout":  c.Telegram.PollTimeout,
		"broadcast.pacing_delay": c.Broadcast.PacingDelay,
		"broadcast.registry_ttl": c.Broadcast.RegistryTTL,
		"access.token_duration":  c.Access.TokenDuration,
		"access.validity":        c.Access.Validity,
		"access.cooldown":        c.Access.Cooldown,
	}
	if c.Storage != nil {
		durations["storage.busy_timeout"] = c.Storage.BusyTimeout
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Broadcast.ProgressEvery < 0 || c.Broadcast.MaxErrors < 0 || c.Broadcast.RegistryMax < 0 {
		errs = append(errs, errors.New("broadcast: counts must be >= 0"))
	}
	if spec := strings.TrimSpace(c.Broadcast.PruneSchedule); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("broadcast.prune_schedule: %w", err))
		}
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown %q", c.Storage.Driver))
		}
	}
	return errors.Join(errs...)
}

// IsAdmin reports whether id is listed in telegram.admin_user_ids.
func (c *Config) IsAdmin(id int64) bool {
	if c == nil {
		return false
	}
	for _, a := range c.Telegram.AdminUserIDs {
		if a == id {
			return true
		}
	}
	return false
}

func (b BroadcastConfig) Schedule() string {
	if s := strings.TrimSpace(b.PruneSchedule); s != "" {
		return s
	}
	return DefaultPruneSchedule
}

// Durations of the access section with defaults applied. Call Validate first.
func (a AccessConfig) Durations() (token, validity, cooldown time.Duration) {
	token, _ = ParseDurationOrDefault("access.token_duration", a.TokenDuration, time.Hour)
	validity, _ = ParseDurationOrDefault("access.validity", a.Validity, 24*time.Hour)
	cooldown, _ = ParseDurationOrDefault("access.cooldown", a.Cooldown, time.Minute)
	return token, validity, cooldown
}
