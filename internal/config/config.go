// Package config provides configuration management for the wallet analytics
// service. It loads configuration from environment variables and .env files.
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
	Server       ServerConfig
	Database     DatabaseConfig
	Etherscan    EtherscanConfig
	CryptoPrice  CryptoPriceConfig
	RateLimit    RateLimitConfig
	Logging      LoggingConfig
	AnalysisTTL  time.Duration
	DefaultFiat  string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
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

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// EtherscanConfig holds block explorer API configuration
type EtherscanConfig struct {
	APIKey    string
	BaseURL   string
	PageSize  int
	PageDelay time.Duration
}

// CryptoPriceConfig holds historical price service configuration.
// The request ceilings differ between authenticated and anonymous access
// and are derived from the presence of the API key.
type CryptoPriceConfig struct {
	APIKey  string
	BaseURL string
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "goofychain"),
				User:           getEnv("POSTGRES_USER", "goofychain"),
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
		},
		Etherscan: EtherscanConfig{
			APIKey:    getEnv("ETHERSCAN_API_KEY", ""),
			BaseURL:   getEnv("ETHERSCAN_BASE_URL", "https://api.etherscan.io/api"),
			PageSize:  getEnvAsInt("ETHERSCAN_PAGE_SIZE", 10000),
			PageDelay: getEnvAsDuration("ETHERSCAN_PAGE_DELAY", 200*time.Millisecond),
		},
		CryptoPrice: CryptoPriceConfig{
			APIKey:  getEnv("CRYPTOCOMPARE_API_KEY", ""),
			BaseURL: getEnv("CRYPTOCOMPARE_BASE_URL", "https://min-api.cryptocompare.com/data"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("API_RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("API_RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		AnalysisTTL: getEnvAsDuration("ANALYSIS_CACHE_TTL", 5*time.Minute),
		DefaultFiat: getEnv("DEFAULT_CURRENCY", "EUR"),
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
