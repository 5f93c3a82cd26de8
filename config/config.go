// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/jeffsasaki/robokassa-order-processor/robokassa"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Storage and messaging. Both optional: no DATABASE_URL means the
	// in-memory store, no AMQP_URL means no payment_updates queue.
	DatabaseURL         string
	AMQPURL             string
	PaymentUpdatesQueue string

	// Robokassa shop credentials
	MerchantLogin string
	Password1     string
	Password2     string
	TestMode      bool

	SeedDemoOrders bool
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultPaymentUpdatesQueue = "payment_updates"
	DefaultMerchantLogin       = "demo"
	DefaultPassword1           = "password1"
	DefaultPassword2           = "password2"
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		AMQPURL:             os.Getenv("AMQP_URL"),
		PaymentUpdatesQueue: getEnv("PAYMENT_UPDATES_QUEUE", DefaultPaymentUpdatesQueue),
		MerchantLogin:       getEnv("ROBOKASSA_MERCHANT_LOGIN", DefaultMerchantLogin),
		Password1:           getEnv("ROBOKASSA_PASSWORD1", DefaultPassword1),
		Password2:           getEnv("ROBOKASSA_PASSWORD2", DefaultPassword2),
		TestMode:            getEnvBool("ROBOKASSA_TEST_MODE", true),
		SeedDemoOrders:      getEnvBool("SEED_DEMO_ORDERS", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.MerchantLogin == "" {
		return fmt.Errorf("ROBOKASSA_MERCHANT_LOGIN is required")
	}
	if c.Password1 == "" || c.Password2 == "" {
		return fmt.Errorf("ROBOKASSA_PASSWORD1 and ROBOKASSA_PASSWORD2 are required")
	}
	if c.IsProduction() {
		if c.Password1 == DefaultPassword1 || c.Password2 == DefaultPassword2 {
			return fmt.Errorf("demo Robokassa passwords are not allowed in production")
		}
		if c.Password1 == c.Password2 {
			return fmt.Errorf("ROBOKASSA_PASSWORD1 and ROBOKASSA_PASSWORD2 must differ")
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Merchant returns the shop credentials used for signing and verification.
func (c *Config) Merchant() robokassa.Merchant {
	return robokassa.Merchant{
		Login:     c.MerchantLogin,
		Password1: c.Password1,
		Password2: c.Password2,
		IsTest:    c.TestMode,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool accepts 1/true/yes (any case) as true.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
