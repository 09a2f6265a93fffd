package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ardu-agent/internal/sites/ardu"
)

type Config struct {
	BaseURL         string
	Email           string
	Password        string
	Admin           bool
	PollInterval    time.Duration
	RequestTimeout  time.Duration
	CommentPageSize int

	DatabaseURL string
	RedisAddr   string
	StoragePath string
	NatsUrl     string

	GeminiAPIKey   string
	TelegramToken  string
	TelegramChatID string

	OtelEndpoint string
	Env          string // "local" or "prod"
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		BaseURL:        strings.TrimRight(getEnv("ARDU_BASE_URL", ardu.DefaultBaseURL), "/"),
		Email:          getEnv("ARDU_EMAIL", ""),
		Password:       os.Getenv("ARDU_PASSWORD"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		StoragePath:    getEnv("STORAGE_PATH", "data/storage.json"),
		NatsUrl:        getEnv("NATS_URL", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		OtelEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Env:            getEnv("APP_ENV", "local"),
	}

	var err error
	if cfg.Admin, err = getEnvBool("ARDU_ADMIN", false); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getEnvDuration("ARDU_POLL_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getEnvDuration("ARDU_REQUEST_TIMEOUT", 12*time.Second); err != nil {
		return nil, err
	}
	if cfg.CommentPageSize, err = getEnvInt("ARDU_COMMENT_PAGE_SIZE", 10); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("ARDU_BASE_URL must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("ARDU_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("ARDU_REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.CommentPageSize <= 0 {
		return fmt.Errorf("ARDU_COMMENT_PAGE_SIZE must be positive, got %d", c.CommentPageSize)
	}
	return nil
}

// TelegramEnabled reports whether both bot token and chat id are set.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// String hides credentials so the config can be logged.
func (c Config) String() string {
	return fmt.Sprintf("{base_url=%s email=%s admin=%t poll=%s timeout=%s env=%s}",
		c.BaseURL, c.Email, c.Admin, c.PollInterval, c.RequestTimeout, c.Env)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
