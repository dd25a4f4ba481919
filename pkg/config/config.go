package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Event sinks for transaction lifecycle events
const (
	EventsSinkNone  = "none"
	EventsSinkRedis = "redis"
	EventsSinkKafka = "kafka"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port           string
	Env            string
	AllowedOrigins []string

	// Database configuration
	DatabaseURL   string
	DBMaxConns    int
	DBLockTimeout time.Duration

	// Redis configuration
	RedisURL       string
	RedisPassword  string
	WalletCacheTTL time.Duration

	// JWT configuration
	JWTSecret string

	// Event publishing
	EventsSink    string
	EventsChannel string
	KafkaBrokers  []string
	KafkaTopic    string

	// Payment provider webhooks
	WebhookSecret string

	DefaultCurrency string
}

// Load loads configuration from environment variables.
// A .env file in the working directory is applied first when present; real env vars win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		AllowedOrigins:  getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		DBMaxConns:      getEnvAsInt("DB_MAX_CONNS", 25),
		DBLockTimeout:   getEnvAsDuration("DB_LOCK_TIMEOUT", 5*time.Second),
		RedisURL:        getEnv("REDIS_URL", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		WalletCacheTTL:  getEnvAsDuration("WALLET_CACHE_TTL", 30*time.Second),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		EventsSink:      getEnv("EVENTS_SINK", EventsSinkNone),
		EventsChannel:   getEnv("EVENTS_CHANNEL", "ledger.transactions"),
		KafkaBrokers:    getEnvSlice("KAFKA_BROKERS", nil),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "ledger.transactions"),
		WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),
		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "NGN"),
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	switch c.EventsSink {
	case EventsSinkNone:
	case EventsSinkRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when EVENTS_SINK=redis")
		}
	case EventsSinkKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when EVENTS_SINK=kafka")
		}
	default:
		return fmt.Errorf("unknown EVENTS_SINK %q", c.EventsSink)
	}

	// Unsigned webhooks are tolerated locally only
	if c.WebhookSecret == "" && c.IsProduction() {
		return fmt.Errorf("WEBHOOK_SECRET is required in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
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

// getEnvSlice splits a comma-separated variable, dropping blanks
func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
