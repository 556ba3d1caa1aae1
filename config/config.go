// Package config loads service configuration from the environment and
// builds the shared logger.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port            int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration

	// Storage. Empty DBPath selects the in-memory store.
	DBPath string

	// Logging
	LogLevel string
	LogJSON  bool

	// External accounting-ledger sync
	SyncEnabled   bool
	SyncInterval  time.Duration
	SyncBatchSize int

	// Demo seeding (development only)
	DemoSeed bool
}

// LoadFromEnv reads configuration from the environment, after loading a
// .env file if one is present.
func LoadFromEnv() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Port:            getEnvInt("PORT", 8080),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		DBPath:          getEnv("DB_PATH", "./data/ledger.db"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogJSON:         getEnvBool("LOG_JSON", false),
		SyncEnabled:     getEnvBool("LEDGER_SYNC_ENABLED", true),
		SyncInterval:    getEnvDuration("LEDGER_SYNC_INTERVAL", 30*time.Second),
		SyncBatchSize:   getEnvInt("LEDGER_SYNC_BATCH", 50),
		DemoSeed:        getEnvBool("DEMO_SEED", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("LEDGER_SYNC_INTERVAL must be positive")
	}
	if c.SyncBatchSize < 1 {
		return fmt.Errorf("LEDGER_SYNC_BATCH must be at least 1")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
