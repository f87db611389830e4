// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payments
	Currency        string // ISO currency code for escrow accounts
	CommissionRate  string // Platform commission percentage, e.g. "2.5"
	AmountTolerance string // Max accepted deviation between proof and transaction amount

	// Reviews
	FlagThreshold        int // Flags needed before a review is auto-flagged
	AutoVerifyWindowDays int // Max days after completion for transaction-based verification
	BackfillIntervalMins int // Review auto-verification backfill cadence

	// Security
	AdminSecret   string // Bootstrap admin API key
	WebhookSecret string // HMAC secret for outbound notification signing

	// Observability
	OTLPEndpoint string // OTLP gRPC collector, empty disables tracing
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultCurrency       = "EUR"
	DefaultCommissionRate = "2.5"
	DefaultFlagThreshold  = 3
	DefaultVerifyWindow   = 90
	DefaultBackfillMins   = 60
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		Currency:             getEnv("CURRENCY", DefaultCurrency),
		CommissionRate:       getEnv("COMMISSION_RATE", DefaultCommissionRate),
		AmountTolerance:      getEnv("AMOUNT_TOLERANCE", "0"),
		FlagThreshold:        getEnvInt("REVIEW_FLAG_THRESHOLD", DefaultFlagThreshold),
		AutoVerifyWindowDays: getEnvInt("REVIEW_VERIFY_WINDOW_DAYS", DefaultVerifyWindow),
		BackfillIntervalMins: getEnvInt("REVIEW_BACKFILL_INTERVAL_MINS", DefaultBackfillMins),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
		WebhookSecret:        os.Getenv("WEBHOOK_SECRET"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	rate, err := decimal.NewFromString(c.CommissionRate)
	if err != nil {
		return fmt.Errorf("COMMISSION_RATE must be a decimal percentage: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("COMMISSION_RATE must be between 0 and 100, got %s", c.CommissionRate)
	}

	tol, err := decimal.NewFromString(c.AmountTolerance)
	if err != nil {
		return fmt.Errorf("AMOUNT_TOLERANCE must be a decimal amount: %w", err)
	}
	if tol.IsNegative() {
		return fmt.Errorf("AMOUNT_TOLERANCE must not be negative, got %s", c.AmountTolerance)
	}

	if c.FlagThreshold < 1 {
		return fmt.Errorf("REVIEW_FLAG_THRESHOLD must be at least 1, got %d", c.FlagThreshold)
	}

	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}

	return nil
}

// Rate returns the configured commission rate as a decimal.
// Validate must have passed first.
func (c *Config) Rate() decimal.Decimal {
	return decimal.RequireFromString(c.CommissionRate)
}

// Tolerance returns the configured amount tolerance as a decimal.
func (c *Config) Tolerance() decimal.Decimal {
	return decimal.RequireFromString(c.AmountTolerance)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
