package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iabalyuk/librarybot/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envNames = []string{
	"TELEGRAM_BOT_TOKEN", "LIBRARIAN_CHAT_ID", "DB_PATH", "LIBRARY_MASTER_KEY",
	"PHONE_PREFIX", "BOT_MODE", "PORT", "LISTEN_ADDR", "WEBHOOK_URL", "WEBHOOK_PATH",
	"SESSION_BACKEND", "REDIS_ADDR", "REDIS_PASSWORD", "SESSION_TTL", "SWEEP_INTERVAL",
	"SEND_RATE_PER_SECOND", "MAX_CONCURRENT_UPDATES", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envNames {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig(t *testing.T) Config {
	t.Helper()
	key, err := secrets.GenerateMasterKey()
	require.NoError(t, err)
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.TelegramToken = "token"
	cfg.LibrarianChatID = 100
	cfg.MasterKey = key
	return cfg
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "data/librarybot.db", cfg.DBPath)
	assert.Equal(t, "09", cfg.PhonePrefix)
	assert.Equal(t, ModePolling, cfg.Mode)
	assert.Equal(t, ":5000", cfg.ListenAddr)
	assert.Equal(t, "/webhook", cfg.WebhookPath)
	assert.Equal(t, SessionBackendMemory, cfg.SessionBackend)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 25.0, cfg.SendRatePerSecond)
	assert.Equal(t, 16, cfg.MaxConcurrentUpdates)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
telegramToken: from-file
librarianChatId: 42
dbPath: /var/lib/bot.db
mode: webhook
webhookURL: https://example.org
sessionTTL: 10m
maxConcurrentUpdates: 4
`)
	t.Setenv("TELEGRAM_BOT_TOKEN", "from-env")
	t.Setenv("PORT", "8080")
	t.Setenv("SESSION_TTL", "45s")
	t.Setenv("SEND_RATE_PER_SECOND", "5.5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.TelegramToken)
	assert.Equal(t, int64(42), cfg.LibrarianChatID)
	assert.Equal(t, "/var/lib/bot.db", cfg.DBPath)
	assert.Equal(t, ModeWebhook, cfg.Mode)
	assert.Equal(t, "https://example.org", cfg.WebhookURL)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 45*time.Second, cfg.SessionTTL)
	assert.Equal(t, 5.5, cfg.SendRatePerSecond)
	assert.Equal(t, 4, cfg.MaxConcurrentUpdates)
}

func TestListenAddrWinsOverPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9000")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
}

func TestLoadRejectsBadInput(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "telegramToken: [unterminated"))
	assert.Error(t, err)

	t.Setenv("LIBRARIAN_CHAT_ID", "not-a-number")
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig(t).Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.TelegramToken = "" }},
		{"missing librarian", func(c *Config) { c.LibrarianChatID = 0 }},
		{"bad master key", func(c *Config) { c.MasterKey = "short" }},
		{"bad prefix", func(c *Config) { c.PhonePrefix = "9" }},
		{"unknown mode", func(c *Config) { c.Mode = "push" }},
		{"webhook without url", func(c *Config) { c.Mode = ModeWebhook }},
		{"webhook path", func(c *Config) { c.Mode = ModeWebhook; c.WebhookURL = "https://x"; c.WebhookPath = "hook" }},
		{"unknown backend", func(c *Config) { c.SessionBackend = "etcd" }},
		{"redis without addr", func(c *Config) { c.SessionBackend = SessionBackendRedis }},
		{"negative ttl", func(c *Config) { c.SessionTTL = -time.Second }},
		{"zero rate", func(c *Config) { c.SendRatePerSecond = 0 }},
		{"zero concurrency", func(c *Config) { c.MaxConcurrentUpdates = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := validConfig(t)
	cfg.Mode = ModeWebhook
	cfg.WebhookURL = "https://example.org"
	cfg.SessionBackend = SessionBackendRedis
	cfg.RedisAddr = "localhost:6379"
	assert.NoError(t, cfg.Validate())
}
