package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  admin_user_ids: [1, 2]
  poll_timeout: 15s
logging:
  level: debug
  console: true
broadcast:
  pacing_delay: 150ms
  progress_every: 25
access:
  token_duration: 2h
  validity: 48h
`

func TestDecode_YAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []int64{1, 2}, cfg.Telegram.AdminUserIDs)
	assert.Equal(t, "150ms", cfg.Broadcast.PacingDelay)
	assert.Equal(t, 25, cfg.Broadcast.ProgressEvery)
	assert.True(t, cfg.IsAdmin(2))
	assert.False(t, cfg.IsAdmin(3))
	assert.Equal(t, DefaultPruneSchedule, cfg.Broadcast.Schedule())

	tok, validity, cooldown := cfg.Access.Durations()
	assert.Equal(t, 2*time.Hour, tok)
	assert.Equal(t, 48*time.Hour, validity)
	assert.Equal(t, time.Minute, cooldown)
}

func TestDecode_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		data string
	}{
		{"unknown field", "c.json", `{"telegram":{"token":"x"},"nope":1}`},
		{"trailing data", "c.json", `{"telegram":{"token":"x"}} {}`},
		{"bad yaml", "c.yml", "telegram: [unclosed"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.path, []byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Broadcast: BroadcastConfig{PacingDelay: "fast", PruneSchedule: "every tuesday"},
		Storage:   &StorageConfig{Driver: "mongo"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "telegram.token")
	assert.Contains(t, msg, "broadcast.pacing_delay")
	assert.Contains(t, msg, "broadcast.prune_schedule")
	assert.Contains(t, msg, "storage.driver")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("ADMINS", "10, 20;bad 30")

	cfg, err := Decode("c.json", []byte(`{"telegram":{"token":"file-token"}}`))
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, []int64{10, 20, 30}, cfg.Telegram.AdminUserIDs)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("GATEBOT_TEST_VALUE=from-dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("GATEBOT_TEST_VALUE") })

	LoadDotEnv(filepath.Join(dir, "missing.env"), path)
	assert.Equal(t, "from-dotenv", os.Getenv("GATEBOT_TEST_VALUE"))
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Broadcast: BroadcastConfig{PacingDelay: "100ms"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Broadcast: BroadcastConfig{PacingDelay: "200ms"}, Metrics: MetricsConfig{Enabled: true}}

	changed, fields := SummarizeChange(oldCfg, newCfg)
	assert.Equal(t, []string{"broadcast", "metrics"}, changed)
	assert.NotEmpty(t, fields)
	assert.Equal(t, []string{"metrics"}, RestartRequired(oldCfg, newCfg))
}

func TestManager_WatchPublishesValidChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"x"},"broadcast":{"progress_every":10}}`), 0o600))

	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// Invalid content is never published.
	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"x"},"broadcast":{"pacing_delay":"soon"}}`), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 10, m.Get().Broadcast.ProgressEvery)

	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"x"},"broadcast":{"progress_every":20}}`), 0o600))
	select {
	case cfg := <-sub:
		assert.Equal(t, 20, cfg.Broadcast.ProgressEvery)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
	assert.Equal(t, 20, m.Get().Broadcast.ProgressEvery)

	cancel()
	require.NoError(t, <-done)
}
