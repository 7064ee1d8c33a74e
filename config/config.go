/*
Package config loads the wallet engine's runtime configuration.

Values come from environment variables, optionally seeded from a .env file
in the working directory. Command-line flags in cmd/server override the
port and database path after loading.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port   int
	DBPath string

	RabbitMQ RabbitMQConfig
	Verify   VerifyConfig

	Environment string // "development" or "production"
}

// RabbitMQConfig configures the order-completion consumer.
type RabbitMQConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	Queue    string
	Prefetch int
	Workers  int
}

// URL renders the AMQP dial string.
func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.User, c.Password, c.Host, c.Port, c.VHost)
}

// VerifyConfig configures the periodic ledger verification job.
type VerifyConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	rmqPort, _ := strconv.Atoi(getEnv("RABBITMQ_PORT", "5672"))
	prefetch, _ := strconv.Atoi(getEnv("RABBITMQ_PREFETCH", "10"))
	workers, _ := strconv.Atoi(getEnv("RABBITMQ_WORKERS", "4"))
	verifyMinutes, _ := strconv.Atoi(getEnv("VERIFY_INTERVAL_MINUTES", "60"))

	return &Config{
		Port:        port,
		DBPath:      getEnv("DB_PATH", "./data/wallets.db"),
		Environment: getEnv("ENVIRONMENT", "development"),
		RabbitMQ: RabbitMQConfig{
			Enabled:  getEnv("RABBITMQ_ENABLED", "false") == "true",
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     rmqPort,
			User:     getEnv("RABBITMQ_USER", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),
			VHost:    getEnv("RABBITMQ_VHOST", "/"),
			Queue:    getEnv("RABBITMQ_QUEUE", "order_completions"),
			Prefetch: prefetch,
			Workers:  workers,
		},
		Verify: VerifyConfig{
			Enabled:  getEnv("VERIFY_ENABLED", "true") == "true",
			Interval: time.Duration(verifyMinutes) * time.Minute,
		},
	}, nil
}

// IsDevelopment returns true if running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// getEnv returns environment variable value or default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
