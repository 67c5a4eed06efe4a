// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port            int
	LogLevel        string
	DevMode         bool
	SolverTimeout   time.Duration // per-request solver deadline
	FrontierPoints  int           // default sweep resolution
	FrontierWorkers int           // worker goroutines per frontier sweep
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnvAsInt("PORT", 8080),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		SolverTimeout:   time.Duration(getEnvAsInt("SOLVER_TIMEOUT_MS", 10000)) * time.Millisecond,
		FrontierPoints:  getEnvAsInt("FRONTIER_POINTS", 30),
		FrontierWorkers: getEnvAsInt("FRONTIER_WORKERS", 4),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.SolverTimeout <= 0 {
		return fmt.Errorf("solver timeout must be positive")
	}
	if c.FrontierPoints < 2 {
		return fmt.Errorf("frontier points must be at least 2")
	}
	if c.FrontierWorkers < 1 {
		return fmt.Errorf("frontier workers must be at least 1")
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
