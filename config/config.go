package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Database configuration
	DatabaseHost     string
	DatabasePort     int
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Market data configuration
	MarketData MarketDataConfig

	// Scheduler configuration
	Scheduler SchedulerConfig

	// API configuration
	API APIConfig
}

// MarketDataConfig holds upstream exchange endpoints and stream settings
type MarketDataConfig struct {
	BaseURL          string
	StreamURL        string
	APIKey           string
	StreamEnabled    bool
	StreamSymbols    []string
	StreamTimeframes []string
}

// SchedulerConfig holds the agent scheduler's loop settings
type SchedulerConfig struct {
	Enabled            bool
	EnqueueIntervalSec int
	WorkerIntervalSec  int
	WorkerBatchSize    int
	WorkerConcurrency  int
}

// APIConfig holds HTTP server settings
type APIConfig struct {
	Port      string
	AuthToken string // bearer token for mutating scheduler endpoints
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		// Database configuration
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvInt("DB_PORT", 5432),
		DatabaseName:     getEnvOrDefault("DB_NAME", "signalsmith"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "signalsmith"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "signalsmith123"),

		// Redis configuration
		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		// Market data configuration
		MarketData: MarketDataConfig{
			BaseURL:          getEnvOrDefault("MARKETDATA_BASE_URL", "https://api.exchange.local"),
			StreamURL:        getEnvOrDefault("MARKETDATA_STREAM_URL", "wss://stream.exchange.local/ws"),
			APIKey:           getEnvOrDefault("MARKETDATA_API_KEY", ""),
			StreamEnabled:    getEnvOrDefault("MARKETDATA_STREAM_ENABLED", "false") == "true",
			StreamSymbols:    getEnvList("MARKETDATA_STREAM_SYMBOLS", nil),
			StreamTimeframes: getEnvList("MARKETDATA_STREAM_TIMEFRAMES", []string{"1m", "5m", "1h"}),
		},

		// Scheduler configuration
		Scheduler: SchedulerConfig{
			Enabled:            getEnvOrDefault("SCHEDULER_ENABLED", "true") == "true",
			EnqueueIntervalSec: getEnvInt("SCHEDULER_ENQUEUE_INTERVAL", 15),
			WorkerIntervalSec:  getEnvInt("SCHEDULER_WORKER_INTERVAL", 5),
			WorkerBatchSize:    getEnvInt("SCHEDULER_WORKER_BATCH", 10),
			WorkerConcurrency:  getEnvInt("SCHEDULER_WORKER_CONCURRENCY", 4),
		},

		// API configuration
		API: APIConfig{
			Port:      getEnvOrDefault("API_PORT", "8080"),
			AuthToken: getEnvOrDefault("API_AUTH_TOKEN", ""),
		},
	}
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvList gets environment variable as a comma-separated list
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
