package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Mirror
	MirrorURL    string
	TopicIDs     []string
	PageLimit    int
	PollInterval time.Duration
	PageDelay    time.Duration
	HTTPTimeout  time.Duration

	// Stats
	StatsInterval time.Duration
	HistoryDays   int

	// Admin
	OperatorPublicKey string // base64 Ed25519 key allowed to call /admin
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// FromEnv builds a Config from the current environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        os.Getenv("SQLITE_PATH"),
		RedisURL:          os.Getenv("REDIS_URL"),
		MirrorURL:         getEnv("MIRROR_URL", "https://testnet.mirrornode.hedera.com"),
		TopicIDs:          splitList(os.Getenv("TOPIC_IDS")),
		PageLimit:         getInt("PAGE_LIMIT", 100),
		PollInterval:      time.Duration(getInt("POLL_INTERVAL_MS", 5000)) * time.Millisecond,
		PageDelay:         time.Duration(getInt("PAGE_DELAY_MS", 100)) * time.Millisecond,
		HTTPTimeout:       time.Duration(getInt("HTTP_TIMEOUT_SEC", 30)) * time.Second,
		StatsInterval:     time.Duration(getInt("STATS_INTERVAL_HOURS", 1)) * time.Hour,
		HistoryDays:       getInt("HISTORY_DAYS", 30),
		OperatorPublicKey: os.Getenv("OPERATOR_PUBLIC_KEY"),
	}

	if cfg.PageLimit <= 0 || cfg.PageLimit > 100 {
		return nil, fmt.Errorf("PAGE_LIMIT must be between 1 and 100, got %d", cfg.PageLimit)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if cfg.StatsInterval <= 0 {
		return nil, fmt.Errorf("STATS_INTERVAL_HOURS must be positive")
	}

	// In production, require a database and something to index
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required in production")
		}
		if len(cfg.TopicIDs) == 0 {
			return nil, fmt.Errorf("TOPIC_IDS is required in production")
		}
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt returns defaultValue when key is unset or not a number.
func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
