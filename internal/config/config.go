// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	LogLevel     string
	LogFormat    string
	SourcesFile  string

	ScheduleCron     string
	ScheduleTimezone string

	HTTPAddr   string
	AdminToken string
	UserAgent  string

	IngestWorkers  int
	ProcessWorkers int
	NotifyWorkers  int
	MaxAttempts    int

	OpenAIAPIKey string
	LLMEndpoint  string
	LLMModel     string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	FirebaseCredentialsFile string
	TelegramBotToken        string
	NotifyRatePerSec        float64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:            envOr("DATABASE_PATH", "./data/notices.db"),
		LogLevel:                envOr("LOG_LEVEL", "info"),
		LogFormat:               envOr("LOG_FORMAT", "text"),
		SourcesFile:             os.Getenv("SOURCES_FILE"),
		ScheduleCron:            envOr("SCHEDULE_CRON", "*/5 * * * *"),
		ScheduleTimezone:        envOr("SCHEDULE_TIMEZONE", "UTC"),
		HTTPAddr:                envOr("HTTP_ADDR", ":8080"),
		AdminToken:              os.Getenv("ADMIN_TOKEN"),
		UserAgent:               envOr("USER_AGENT", "EducationalNewsBot/1.0"),
		OpenAIAPIKey:            os.Getenv("OPENAI_API_KEY"),
		LLMEndpoint:             envOr("LLM_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
		LLMModel:                envOr("LLM_MODEL", "gpt-3.5-turbo"),
		VAPIDPublicKey:          os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:         os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubscriber:         os.Getenv("VAPID_SUBSCRIBER"),
		FirebaseCredentialsFile: os.Getenv("FIREBASE_CREDENTIALS_FILE"),
		TelegramBotToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	var err error
	if cfg.IngestWorkers, err = positiveInt("INGEST_WORKERS", 2); err != nil {
		return nil, err
	}
	if cfg.ProcessWorkers, err = positiveInt("PROCESS_WORKERS", 2); err != nil {
		return nil, err
	}
	if cfg.NotifyWorkers, err = positiveInt("NOTIFY_WORKERS", 5); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = positiveInt("JOB_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}

	cfg.NotifyRatePerSec = 10
	if raw := os.Getenv("NOTIFY_RATE_PER_SEC"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid NOTIFY_RATE_PER_SEC %q: must be a positive number", raw)
		}
		cfg.NotifyRatePerSec = v
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: want text or json", cfg.LogFormat)
	}

	if _, err := time.LoadLocation(cfg.ScheduleTimezone); err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_TIMEZONE %q: %w", cfg.ScheduleTimezone, err)
	}

	if (cfg.VAPIDPublicKey == "") != (cfg.VAPIDPrivateKey == "") {
		return nil, fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return cfg, nil
}

// Location returns the time zone used by the scheduler.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WebPushEnabled reports whether VAPID keys are configured.
func (c *Config) WebPushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func positiveInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if v < 1 {
		return 0, fmt.Errorf("invalid %s %q: must be at least 1", key, raw)
	}
	return v, nil
}
