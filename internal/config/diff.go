package config

import (
	"reflect"

	"gatebot/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs plus
// log fields describing the new values. Secrets are reported only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		!reflect.DeepEqual(oldCfg.Telegram.AdminUserIDs, newCfg.Telegram.AdminUserIDs) {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Int("telegram.admin_count", len(newCfg.Telegram.AdminUserIDs)),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Redis != newCfg.Redis {
		changed = append(changed, "redis")
		fields = append(fields, logx.String("redis.addr", newCfg.Redis.Addr), logx.Bool("redis.url_set", newCfg.Redis.URL != ""))
	}
	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		fields = append(fields,
			logx.String("broadcast.pacing_delay", newCfg.Broadcast.PacingDelay),
			logx.Int("broadcast.progress_every", newCfg.Broadcast.ProgressEvery),
			logx.String("broadcast.prune_schedule", newCfg.Broadcast.Schedule()),
		)
	}
	if oldCfg.Access != newCfg.Access {
		changed = append(changed, "access")
		fields = append(fields,
			logx.String("access.token_duration", newCfg.Access.TokenDuration),
			logx.String("access.validity", newCfg.Access.Validity),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		fields = append(fields, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled), logx.String("metrics.addr", newCfg.Metrics.Addr))
	}
	return changed, fields
}

// RestartRequired reports changes that only take effect on restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram")
	}
	if oldCfg.Redis != newCfg.Redis {
		out = append(out, "redis")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		out = append(out, "storage")
	}
	if oldCfg.Metrics != newCfg.Metrics {
		out = append(out, "metrics")
	}
	return out
}
