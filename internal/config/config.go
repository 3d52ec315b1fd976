package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the chat bot service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool
	// AdminToken guards the operator routes (/v1/status, /v1/sessions, ...).
	AdminToken string

	LogLevel     string
	LogFormat    string
	LogAddSource bool

	BackendMode    string
	BackendBaseURL string
	BackendTimeout time.Duration

	TelegramMode          string
	TelegramBotToken      string
	TelegramAPIBaseURL    string
	TelegramPollTimeout   time.Duration
	TelegramWebhookURL    string
	TelegramWebhookSecret string

	SessionIdleTTL  time.Duration
	MaxSessions     int
	JanitorInterval time.Duration

	RouterMaxConcurrency int
	RouterQueueSize      int
	RouterWorkerIdle     time.Duration

	DatabaseURL    string
	JournalPerChat int

	LexiconFile string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "taskibot"),
		AllowAnyOrigin:     false,
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "text"),
		BackendMode:        envOrDefault("BACKEND_MODE", "auto"),
		BackendBaseURL:     stringsTrimSpace("BACKEND_BASE_URL"),
		TelegramMode:       envOrDefault("TELEGRAM_MODE", "poll"),
		TelegramBotToken:   stringsTrimSpace("TELEGRAM_BOT_TOKEN"),
		TelegramAPIBaseURL: envOrDefault("TELEGRAM_API_BASE_URL", "https://api.telegram.org"),
		TelegramWebhookURL: stringsTrimSpace("TELEGRAM_WEBHOOK_URL"),
		// Telegram echoes this back in X-Telegram-Bot-Api-Secret-Token.
		TelegramWebhookSecret: stringsTrimSpace("TELEGRAM_WEBHOOK_SECRET"),
		AdminToken:            stringsTrimSpace("APP_ADMIN_TOKEN"),
		DatabaseURL:           stringsTrimSpace("DATABASE_URL"),
		LexiconFile:           stringsTrimSpace("LEXICON_FILE"),
		ShutdownTimeout:       15 * time.Second,
		BackendTimeout:        10 * time.Second,
		TelegramPollTimeout:   30 * time.Second,
		SessionIdleTTL:        24 * time.Hour,
		MaxSessions:           10000,
		JanitorInterval:       time.Minute,
		RouterMaxConcurrency:  16,
		RouterQueueSize:       16,
		RouterWorkerIdle:      2 * time.Minute,
		JournalPerChat:        200,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BackendTimeout, err = durationFromEnv("BACKEND_TIMEOUT", cfg.BackendTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TelegramPollTimeout, err = durationFromEnv("TELEGRAM_POLL_TIMEOUT", cfg.TelegramPollTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTTL, err = durationFromEnv("SESSION_IDLE_TTL", cfg.SessionIdleTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("SESSION_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.RouterWorkerIdle, err = durationFromEnv("ROUTER_WORKER_IDLE", cfg.RouterWorkerIdle)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSessions, err = intFromEnv("SESSION_MAX", cfg.MaxSessions)
	if err != nil {
		return Config{}, err
	}
	cfg.RouterMaxConcurrency, err = intFromEnv("ROUTER_MAX_CONCURRENCY", cfg.RouterMaxConcurrency)
	if err != nil {
		return Config{}, err
	}
	cfg.RouterQueueSize, err = intFromEnv("ROUTER_QUEUE_SIZE", cfg.RouterQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.JournalPerChat, err = intFromEnv("JOURNAL_PER_CHAT", cfg.JournalPerChat)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LogAddSource, err = boolFromEnv("LOG_ADD_SOURCE", cfg.LogAddSource)
	if err != nil {
		return Config{}, err
	}

	cfg.BackendMode = strings.ToLower(cfg.BackendMode)
	cfg.TelegramMode = strings.ToLower(cfg.TelegramMode)

	switch cfg.BackendMode {
	case "auto", "mock":
	case "http":
		if cfg.BackendBaseURL == "" {
			return Config{}, fmt.Errorf("BACKEND_BASE_URL is required when BACKEND_MODE=http")
		}
	default:
		return Config{}, fmt.Errorf("invalid BACKEND_MODE: %q (expected auto|http|mock)", cfg.BackendMode)
	}
	switch cfg.TelegramMode {
	case "off", "poll":
	case "webhook":
		if cfg.TelegramWebhookURL == "" {
			return Config{}, fmt.Errorf("TELEGRAM_WEBHOOK_URL is required when TELEGRAM_MODE=webhook")
		}
		if cfg.TelegramWebhookSecret == "" {
			return Config{}, fmt.Errorf("TELEGRAM_WEBHOOK_SECRET is required when TELEGRAM_MODE=webhook")
		}
	default:
		return Config{}, fmt.Errorf("invalid TELEGRAM_MODE: %q (expected off|poll|webhook)", cfg.TelegramMode)
	}
	if cfg.BackendTimeout <= 0 {
		return Config{}, fmt.Errorf("BACKEND_TIMEOUT must be positive")
	}
	if cfg.TelegramPollTimeout < time.Second {
		return Config{}, fmt.Errorf("TELEGRAM_POLL_TIMEOUT must be at least 1s")
	}
	if cfg.SessionIdleTTL < time.Minute {
		return Config{}, fmt.Errorf("SESSION_IDLE_TTL must be at least 1m")
	}
	if cfg.MaxSessions <= 0 {
		return Config{}, fmt.Errorf("SESSION_MAX must be positive")
	}
	if cfg.RouterMaxConcurrency <= 0 {
		return Config{}, fmt.Errorf("ROUTER_MAX_CONCURRENCY must be positive")
	}
	if cfg.RouterQueueSize <= 0 {
		return Config{}, fmt.Errorf("ROUTER_QUEUE_SIZE must be positive")
	}
	if cfg.JournalPerChat < 0 {
		return Config{}, fmt.Errorf("JOURNAL_PER_CHAT must be >= 0")
	}

	return cfg, nil
}

// TelegramEnabled reports whether a Telegram channel should be started.
func (c Config) TelegramEnabled() bool {
	return c.TelegramMode != "off" && c.TelegramBotToken != ""
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
