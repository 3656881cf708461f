// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Scorer
	ModelPath string // Path to the trained model artifact (required)

	// Decision thresholds. FlagThreshold drives the persisted fraud flag;
	// ReviewThreshold/BlockThreshold drive the caller-facing action tier.
	// They are independent policies and are deliberately not derived from
	// each other.
	FlagThreshold   float64
	ReviewThreshold float64
	BlockThreshold  float64

	// Explanation
	ExplainCutoffPct float64 // cumulative contribution cutoff before "Others"

	// Security
	RateLimitRPM int

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultFlagThreshold    = 0.01
	DefaultReviewThreshold  = 0.3
	DefaultBlockThreshold   = 0.6
	DefaultExplainCutoffPct = 90.0
	DefaultRateLimit        = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ModelPath:        os.Getenv("MODEL_PATH"),   // Required, no default
		FlagThreshold:    getEnvFloat("FRAUD_FLAG_THRESHOLD", DefaultFlagThreshold),
		ReviewThreshold:  getEnvFloat("REVIEW_THRESHOLD", DefaultReviewThreshold),
		BlockThreshold:   getEnvFloat("BLOCK_THRESHOLD", DefaultBlockThreshold),
		ExplainCutoffPct: getEnvFloat("EXPLAIN_CUTOFF_PCT", DefaultExplainCutoffPct),
		RateLimitRPM:     int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("MODEL_PATH is required")
	}

	for name, t := range map[string]float64{
		"FRAUD_FLAG_THRESHOLD": c.FlagThreshold,
		"REVIEW_THRESHOLD":     c.ReviewThreshold,
		"BLOCK_THRESHOLD":      c.BlockThreshold,
	} {
		if t < 0 || t > 1 {
			return fmt.Errorf("%s must be a probability in [0,1], got %v", name, t)
		}
	}

	if c.ReviewThreshold > c.BlockThreshold {
		return fmt.Errorf("REVIEW_THRESHOLD (%v) must not exceed BLOCK_THRESHOLD (%v)",
			c.ReviewThreshold, c.BlockThreshold)
	}

	if c.ExplainCutoffPct <= 0 || c.ExplainCutoffPct > 100 {
		return fmt.Errorf("EXPLAIN_CUTOFF_PCT must be in (0,100], got %v", c.ExplainCutoffPct)
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

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
