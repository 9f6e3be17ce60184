// Package config provides configuration management for the household ledger
// services. It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Vault     VaultConfig
	Sync      SyncConfig
	Providers ProvidersConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration for the two-factor session store
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// VaultConfig holds the credential vault key.
// Key is a hex-encoded 32-byte AES key.
type VaultConfig struct {
	Key string
}

// SyncConfig holds sync orchestration configuration
type SyncConfig struct {
	ScrapeTimeout    time.Duration // Upper bound on one provider scrape call
	StartWindow      time.Duration // How far back the first sync of a connection reaches
	PollInterval     time.Duration // Worker poll interval between sync-all cycles
	BulkBatchSize    int           // Maximum transactions per bulk-apply batch
	SessionTTL       time.Duration // Two-factor session lifetime
	UseMemorySession bool          // Use the in-process session store instead of Redis
}

// ProviderConfig holds configuration for a single provider adapter
type ProviderConfig struct {
	BaseURL        string
	RequestsPerSec float64
}

// ProvidersConfig holds per-provider adapter configuration
type ProvidersConfig struct {
	DemoBank ProviderConfig
	OTPBank  ProviderConfig
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Postgres: PostgresConfig{
			Host:           getEnv("POSTGRES_HOST", "localhost"),
			Port:           getEnv("POSTGRES_PORT", "5432"),
			Database:       getEnv("POSTGRES_DB", "household_ledger"),
			User:           getEnv("POSTGRES_USER", "ledger"),
			Password:       getEnv("POSTGRES_PASSWORD", ""),
			MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
		},
		Redis: RedisConfig{
			Host:           getEnv("REDIS_HOST", "localhost"),
			Port:           getEnv("REDIS_PORT", "6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvAsInt("REDIS_DB", 0),
			MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
		},
		Vault: VaultConfig{
			Key: getEnv("VAULT_KEY", ""),
		},
		Sync: SyncConfig{
			ScrapeTimeout:    getEnvAsDuration("SYNC_SCRAPE_TIMEOUT", 2*time.Minute),
			StartWindow:      getEnvAsDuration("SYNC_START_WINDOW", 90*24*time.Hour),
			PollInterval:     getEnvAsDuration("SYNC_POLL_INTERVAL", 6*time.Hour),
			BulkBatchSize:    getEnvAsInt("SYNC_BULK_BATCH_SIZE", 20),
			SessionTTL:       getEnvAsDuration("TWOFACTOR_SESSION_TTL", 5*time.Minute),
			UseMemorySession: getEnvAsBool("TWOFACTOR_MEMORY_SESSIONS", false),
		},
		Providers: ProvidersConfig{
			DemoBank: ProviderConfig{
				BaseURL:        getEnv("DEMOBANK_BASE_URL", "https://api.demobank.example"),
				RequestsPerSec: getEnvAsFloat("DEMOBANK_RPS", 2),
			},
			OTPBank: ProviderConfig{
				BaseURL:        getEnv("OTPBANK_BASE_URL", "https://api.otpbank.example"),
				RequestsPerSec: getEnvAsFloat("OTPBANK_RPS", 1),
			},
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
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
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
