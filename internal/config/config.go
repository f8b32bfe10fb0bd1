package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the bin ledger service
type Config struct {
	// Database configuration
	DBName     string
	DBHost     string
	DBUser     string
	DBPassword string
	DBPort     string
	DBSSLMode  string

	// Engine configuration
	MaxBinsPerSwap     int
	AmountToleranceBps int

	// Checkpoint configuration
	CheckpointInterval time.Duration

	// Logging configuration
	LogLevel string

	// Metrics configuration
	MetricsPort string
}

// Load reads configuration from environment variables and validates it
func Load() (Config, error) {
	cfg := Config{
		DBName:      getEnv("DB_NAME", ""),
		DBHost:      getEnv("DB_HOST", ""),
		DBUser:      getEnv("DB_USER", ""),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBSSLMode:   getEnv("DB_SSL_MODE", "disable"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MetricsPort: getEnv("METRICS_PORT", "9100"),
	}

	var err error
	cfg.MaxBinsPerSwap, err = parseIntEnv("MAX_BINS_PER_SWAP", 256)
	if err != nil {
		return cfg, fmt.Errorf("invalid MAX_BINS_PER_SWAP: %w", err)
	}

	cfg.AmountToleranceBps, err = parseIntEnv("AMOUNT_TOLERANCE_BPS", 100)
	if err != nil {
		return cfg, fmt.Errorf("invalid AMOUNT_TOLERANCE_BPS: %w", err)
	}

	intervalStr := getEnv("CHECKPOINT_INTERVAL", "30s")
	cfg.CheckpointInterval, err = time.ParseDuration(intervalStr)
	if err != nil {
		return cfg, fmt.Errorf("invalid CHECKPOINT_INTERVAL: %w", err)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks that the configuration is valid
func (c Config) validate() error {
	if c.DBName == "" {
		return fmt.Errorf("DB_NAME is required")
	}

	if c.DBHost == "" {
		return fmt.Errorf("DB_HOST is required")
	}

	if c.MaxBinsPerSwap < 1 {
		return fmt.Errorf("MAX_BINS_PER_SWAP must be at least 1")
	}

	if c.AmountToleranceBps < 0 || c.AmountToleranceBps >= 10000 {
		return fmt.Errorf("AMOUNT_TOLERANCE_BPS must be in [0, 10000)")
	}

	if c.CheckpointInterval < time.Second {
		return fmt.Errorf("CHECKPOINT_INTERVAL must be at least 1s")
	}

	validLogLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
		"panic": true,
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be one of: trace, debug, info, warn, error, fatal, panic)", c.LogLevel)
	}

	return nil
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv parses an integer environment variable with a default value
func parseIntEnv(key string, defaultValue int) (int, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(str)
}
