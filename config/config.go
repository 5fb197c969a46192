// Package config loads the bot settings from an optional YAML file overlaid
// with environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/iabalyuk/librarybot/library"
	"github.com/iabalyuk/librarybot/secrets"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no config path is given.
const DefaultPath = "config.yaml"

const (
	ModePolling = "polling"
	ModeWebhook = "webhook"

	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// Config holds every setting of the bot.
type Config struct {
	TelegramToken        string        `yaml:"telegramToken"`
	LibrarianChatID      int64         `yaml:"librarianChatId"`
	DBPath               string        `yaml:"dbPath"`
	MasterKey            string        `yaml:"masterKey"`
	PhonePrefix          string        `yaml:"phonePrefix"`
	Mode                 string        `yaml:"mode"`
	ListenAddr           string        `yaml:"listenAddr"`
	WebhookURL           string        `yaml:"webhookURL"`
	WebhookPath          string        `yaml:"webhookPath"`
	SessionBackend       string        `yaml:"sessionBackend"`
	RedisAddr            string        `yaml:"redisAddr"`
	RedisPassword        string        `yaml:"redisPassword"`
	SessionTTL           time.Duration `yaml:"sessionTTL"`
	SweepInterval        time.Duration `yaml:"sweepInterval"`
	SendRatePerSecond    float64       `yaml:"sendRatePerSecond"`
	MaxConcurrentUpdates int           `yaml:"maxConcurrentUpdates"`
	LogLevel             string        `yaml:"logLevel"`
	Debug                bool          `yaml:"debug"`
}

// envConfig lists the environment overrides. Unset variables leave the file value in place.
type envConfig struct {
	TelegramToken        string        `env:"TELEGRAM_BOT_TOKEN"`
	LibrarianChatID      int64         `env:"LIBRARIAN_CHAT_ID"`
	DBPath               string        `env:"DB_PATH"`
	MasterKey            string        `env:"LIBRARY_MASTER_KEY"`
	PhonePrefix          string        `env:"PHONE_PREFIX"`
	Mode                 string        `env:"BOT_MODE"`
	Port                 string        `env:"PORT"`
	ListenAddr           string        `env:"LISTEN_ADDR"`
	WebhookURL           string        `env:"WEBHOOK_URL"`
	WebhookPath          string        `env:"WEBHOOK_PATH"`
	SessionBackend       string        `env:"SESSION_BACKEND"`
	RedisAddr            string        `env:"REDIS_ADDR"`
	RedisPassword        string        `env:"REDIS_PASSWORD"`
	SessionTTL           time.Duration `env:"SESSION_TTL"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL"`
	SendRatePerSecond    float64       `env:"SEND_RATE_PER_SECOND"`
	MaxConcurrentUpdates int           `env:"MAX_CONCURRENT_UPDATES"`
	LogLevel             string        `env:"LOG_LEVEL"`
}

// Load reads path (DefaultPath when empty), applies environment overrides and
// fills defaults. A missing file is not an error. The result is not validated;
// commands call Validate for the settings they need.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var env envConfig
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}

	setString(&cfg.TelegramToken, env.TelegramToken)
	setString(&cfg.DBPath, env.DBPath)
	setString(&cfg.MasterKey, env.MasterKey)
	setString(&cfg.PhonePrefix, env.PhonePrefix)
	setString(&cfg.Mode, env.Mode)
	if env.Port != "" {
		cfg.ListenAddr = ":" + strings.TrimPrefix(env.Port, ":")
	}
	setString(&cfg.ListenAddr, env.ListenAddr)
	setString(&cfg.WebhookURL, env.WebhookURL)
	setString(&cfg.WebhookPath, env.WebhookPath)
	setString(&cfg.SessionBackend, env.SessionBackend)
	setString(&cfg.RedisAddr, env.RedisAddr)
	setString(&cfg.RedisPassword, env.RedisPassword)
	setString(&cfg.LogLevel, env.LogLevel)
	if env.LibrarianChatID != 0 {
		cfg.LibrarianChatID = env.LibrarianChatID
	}
	if env.SessionTTL != 0 {
		cfg.SessionTTL = env.SessionTTL
	}
	if env.SweepInterval != 0 {
		cfg.SweepInterval = env.SweepInterval
	}
	if env.SendRatePerSecond != 0 {
		cfg.SendRatePerSecond = env.SendRatePerSecond
	}
	if env.MaxConcurrentUpdates != 0 {
		cfg.MaxConcurrentUpdates = env.MaxConcurrentUpdates
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "data/librarybot.db"
	}
	if cfg.PhonePrefix == "" {
		cfg.PhonePrefix = library.DefaultPhonePrefix
	}
	if cfg.Mode == "" {
		cfg.Mode = ModePolling
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":5000"
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = SessionBackendMemory
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.SendRatePerSecond == 0 {
		cfg.SendRatePerSecond = 25
	}
	if cfg.MaxConcurrentUpdates == 0 {
		cfg.MaxConcurrentUpdates = 16
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// Validate checks the settings needed to serve.
func (c Config) Validate() error {
	if c.TelegramToken == "" {
		return errors.New("telegramToken is required (TELEGRAM_BOT_TOKEN)")
	}
	if c.LibrarianChatID == 0 {
		return errors.New("librarianChatId is required (LIBRARIAN_CHAT_ID)")
	}
	if _, err := secrets.ParseMasterKey(c.MasterKey); err != nil {
		return fmt.Errorf("masterKey (LIBRARY_MASTER_KEY): %w", err)
	}
	if !library.ValidPhonePrefix(c.PhonePrefix) {
		return fmt.Errorf("phonePrefix must be two digits, got %q", c.PhonePrefix)
	}
	switch c.Mode {
	case ModePolling:
	case ModeWebhook:
		if c.WebhookURL == "" {
			return errors.New("webhookURL is required in webhook mode")
		}
		if !strings.HasPrefix(c.WebhookPath, "/") {
			return fmt.Errorf("webhookPath must start with '/', got %q", c.WebhookPath)
		}
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModePolling, ModeWebhook, c.Mode)
	}
	switch c.SessionBackend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if c.RedisAddr == "" {
			return errors.New("redisAddr is required for the redis session backend")
		}
	default:
		return fmt.Errorf("sessionBackend must be %q or %q, got %q", SessionBackendMemory, SessionBackendRedis, c.SessionBackend)
	}
	if c.SessionTTL < 0 || c.SweepInterval <= 0 {
		return errors.New("sessionTTL and sweepInterval must be positive")
	}
	if c.SendRatePerSecond <= 0 {
		return errors.New("sendRatePerSecond must be positive")
	}
	if c.MaxConcurrentUpdates <= 0 {
		return errors.New("maxConcurrentUpdates must be positive")
	}
	return nil
}
