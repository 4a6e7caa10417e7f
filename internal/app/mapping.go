package app

import (
	"strings"
	"time"

	"gatebot/internal/broadcast"
	"gatebot/internal/config"
	"gatebot/internal/metrics"
	"gatebot/internal/storage"
	"gatebot/internal/userstore"
	"gatebot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// mapBroadcastConfig leaves zero values for the engine to default.
func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	b := cfg.Broadcast
	pacing, err := config.ParseDurationField("broadcast.pacing_delay", b.PacingDelay)
	if err != nil {
		return broadcast.Config{}, err
	}
	ttl, err := config.ParseDurationField("broadcast.registry_ttl", b.RegistryTTL)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		PacingDelay:   pacing,
		ProgressEvery: b.ProgressEvery,
		MaxErrors:     b.MaxErrors,
		RegistryMax:   b.RegistryMax,
		RegistryTTL:   ttl,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapRedis(cfg *config.Config) userstore.RedisOptions {
	return userstore.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		URL:      cfg.Redis.URL,
	}
}

func mapMetrics(cfg *config.Config) metrics.ServerConfig {
	return metrics.ServerConfig{Enabled: cfg.Metrics.Enabled, Addr: cfg.Metrics.Addr}
}

// accessSettings returns the token settings pinned by config, and false when
// config leaves both to the persisted values.
func accessSettings(cfg *config.Config, cur userstore.Settings) (userstore.Settings, bool) {
	a := cfg.Access
	if strings.TrimSpace(a.TokenDuration) == "" && strings.TrimSpace(a.Validity) == "" {
		return cur, false
	}
	token, validity, _ := a.Durations()
	out := cur
	if strings.TrimSpace(a.TokenDuration) != "" {
		out.TokenDuration = token
	}
	if strings.TrimSpace(a.Validity) != "" {
		out.Validity = validity
	}
	return out, out != cur
}
