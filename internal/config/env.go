package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv reads .env files into the process environment. Missing files are ignored.
func LoadDotEnv(files ...string) {
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// applyEnv lets the environment override secrets and deployment-specific fields.
func applyEnv(cfg *Config) {
	cfg.Telegram.Token = getEnv("BOT_TOKEN", cfg.Telegram.Token)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	if ids := parseIDs(os.Getenv("ADMINS")); len(ids) > 0 {
		cfg.Telegram.AdminUserIDs = ids
	}
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// parseIDs reads a comma or space separated id list, skipping junk.
func parseIDs(s string) []int64 {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		if id, err := strconv.ParseInt(f, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}
