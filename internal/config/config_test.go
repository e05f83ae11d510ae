package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
redis:
  addr: localhost:6379
  ttl: 5m
quiz:
  question_time_limit: 30s
  leaderboard_size: 5
telegram:
  bot_username: sb_quiz_bot
admins: [Alice, "@bob"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Minute, TTLDuration(cfg.Redis.TTL, time.Minute))
	assert.Equal(t, 30*time.Second, TTLDuration(cfg.Quiz.QuestionTimeLimit, time.Minute))
	assert.Equal(t, 5, cfg.Quiz.LeaderboardSize)
	assert.Equal(t, "sb_quiz_bot", cfg.Telegram.BotUsername)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
redis:
  addr: localhost:6379
`)
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("ADMIN_USERNAMES", "carol, dave ,")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, []string{"carol", "dave"}, cfg.Admins)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Server.Port)
}

func TestTTLDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, TTLDuration("", time.Minute))
	assert.Equal(t, time.Minute, TTLDuration("soon", time.Minute))
	assert.Equal(t, 2*time.Second, TTLDuration("2s", time.Minute))
}

func TestIsAdmin(t *testing.T) {
	cfg := Config{Admins: []string{"Alice", "@bob"}}
	assert.True(t, cfg.IsAdmin("alice"))
	assert.True(t, cfg.IsAdmin("@BOB"))
	assert.False(t, cfg.IsAdmin("mallory"))
	assert.False(t, cfg.IsAdmin(""))
}
