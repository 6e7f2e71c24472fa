// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port        int
	DatabaseURL string // empty selects the in-memory store
	RedisURL    string // empty disables the cache and selects the in-process bus

	LogLevel  string
	LogPretty bool

	FinnhubAPIKey  string // empty selects the simulated price source
	FinnhubBaseURL string
	QuoteRateLimit float64 // requests per second
	QuoteTimeout   time.Duration

	IngestSchedule    string
	IngestConcurrency int
	PriceHistoryLimit int
	CacheTTL          time.Duration
	BusQueueSize      int
	SeedAssets        bool
}

// Load reads configuration from environment variables, after loading a .env
// file if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvAsInt("PORT", 8080),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),

		FinnhubAPIKey:  getEnv("FINNHUB_API_KEY", ""),
		FinnhubBaseURL: getEnv("FINNHUB_BASE_URL", "https://finnhub.io/api/v1"),
		QuoteRateLimit: getEnvAsFloat("QUOTE_RATE_LIMIT", 25),
		QuoteTimeout:   getEnvAsDuration("QUOTE_TIMEOUT", 5*time.Second),

		IngestSchedule:    getEnv("INGEST_SCHEDULE", "@every 30s"),
		IngestConcurrency: getEnvAsInt("INGEST_CONCURRENCY", 4),
		PriceHistoryLimit: getEnvAsInt("PRICE_HISTORY_LIMIT", 30),
		CacheTTL:          getEnvAsDuration("CACHE_TTL", 30*time.Second),
		BusQueueSize:      getEnvAsInt("BUS_QUEUE_SIZE", 1024),
		SeedAssets:        getEnvAsBool("SEED_ASSETS", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges of the loaded settings.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if strings.TrimSpace(c.IngestSchedule) == "" {
		return fmt.Errorf("INGEST_SCHEDULE is required")
	}
	if c.IngestConcurrency < 1 {
		return fmt.Errorf("INGEST_CONCURRENCY must be positive, got %d", c.IngestConcurrency)
	}
	if c.PriceHistoryLimit < 1 {
		return fmt.Errorf("PRICE_HISTORY_LIMIT must be positive, got %d", c.PriceHistoryLimit)
	}
	if c.QuoteRateLimit <= 0 {
		return fmt.Errorf("QUOTE_RATE_LIMIT must be positive, got %v", c.QuoteRateLimit)
	}
	if c.QuoteTimeout <= 0 {
		return fmt.Errorf("QUOTE_TIMEOUT must be positive, got %s", c.QuoteTimeout)
	}
	if c.BusQueueSize < 1 {
		return fmt.Errorf("BUS_QUEUE_SIZE must be positive, got %d", c.BusQueueSize)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
