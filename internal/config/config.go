package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// API
	APIToken string

	// Event
	EventTime          string // "Saturday 20:00"
	EventTimezone      string // IANA タイムゾーン名
	SessionTTL         time.Duration
	ChoiceCap          int
	ScheduleDisplayCap int

	// TMDB
	TMDBAPIKey     string
	TMDBBaseURL    string
	TMDBTimeout    time.Duration
	TMDBRatePerSec float64

	// Metadata cache
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	MetadataCacheTTL time.Duration

	// Notification
	WebhookURL string

	// Workers
	ReminderLead     time.Duration
	ReminderInterval time.Duration
	ArchiveInterval  time.Duration

	// Import
	ImportMaxTitles int
	ImportTimeout   time.Duration
	ImportMaxSize   int64

	// Rate Limit
	RateLimitGeneral int
	RateLimitSession int

	// Logging
	LogFile          string
	LogRetentionDays int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TMDBAPIKey = os.Getenv("TMDB_API_KEY")
	if cfg.TMDBAPIKey == "" {
		missing = append(missing, "TMDB_API_KEY")
	}

	cfg.APIToken = os.Getenv("API_TOKEN")
	if cfg.APIToken == "" {
		missing = append(missing, "API_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.EventTime = getEnvString("EVENT_TIME", "Saturday 20:00")
	cfg.EventTimezone = getEnvString("EVENT_TIMEZONE", "America/New_York")
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 10*time.Minute)
	cfg.ChoiceCap = getEnvInt("CHOICE_CAP", 25)
	cfg.ScheduleDisplayCap = getEnvInt("SCHEDULE_DISPLAY_CAP", 25)
	cfg.TMDBBaseURL = getEnvString("TMDB_BASE_URL", "https://api.themoviedb.org/3")
	cfg.TMDBTimeout = getEnvDuration("TMDB_TIMEOUT", 10*time.Second)
	cfg.TMDBRatePerSec = getEnvFloat("TMDB_RATE_PER_SEC", 20)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.MetadataCacheTTL = getEnvDuration("METADATA_CACHE_TTL", 6*time.Hour)
	cfg.WebhookURL = getEnvString("WEBHOOK_URL", "")
	cfg.ReminderLead = getEnvDuration("REMINDER_LEAD", 5*time.Minute)
	cfg.ReminderInterval = getEnvDuration("REMINDER_INTERVAL", time.Minute)
	cfg.ArchiveInterval = getEnvDuration("ARCHIVE_INTERVAL", 24*time.Hour)
	cfg.ImportMaxTitles = getEnvInt("IMPORT_MAX_TITLES", 5)
	cfg.ImportTimeout = getEnvDuration("IMPORT_TIMEOUT", 15*time.Second)
	cfg.ImportMaxSize = getEnvInt64("IMPORT_MAX_SIZE", 2097152)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSession = getEnvInt("RATE_LIMIT_SESSION", 10)
	cfg.LogFile = getEnvString("LOG_FILE", "")
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 14)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	if _, err := time.LoadLocation(cfg.EventTimezone); err != nil {
		return nil, fmt.Errorf("invalid EVENT_TIMEZONE %q: %w", cfg.EventTimezone, err)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
