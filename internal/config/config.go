// Package config содержит логику чтения конфигурации сервиса Dabil.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config содержит параметры конфигурации сервиса Dabil.
type Config struct {
	RunAddress        string          `env:"RUN_ADDRESS"`
	DatabaseURI       string          `env:"DATABASE_URI"`
	JWTSecret         string          `env:"JWT_SECRET"`
	JWTTTL            time.Duration   `env:"JWT_TTL" envDefault:"168h"`
	PaystackSecretKey string          `env:"PAYSTACK_SECRET_KEY"`
	PaystackBaseURL   string          `env:"PAYSTACK_BASE_URL" envDefault:"https://api.paystack.co"`
	FrontendURL       string          `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	Currency          string          `env:"CURRENCY" envDefault:"NGN"`
	FundingMin        decimal.Decimal `env:"FUNDING_MIN" envDefault:"100"`
	FundingMax        decimal.Decimal `env:"FUNDING_MAX" envDefault:"500000"`
	SweepInterval     time.Duration   `env:"FUNDING_SWEEP_INTERVAL" envDefault:"1m"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envJWTSecret := cfg.JWTSecret
	envPaystackKey := cfg.PaystackSecretKey

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store when empty")
	flag.StringVar(&cfg.JWTSecret, "s", "", "JWT signing secret")
	flag.StringVar(&cfg.PaystackSecretKey, "p", "", "Paystack secret key")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}
	if envPaystackKey != "" {
		cfg.PaystackSecretKey = envPaystackKey
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if !cfg.FundingMin.IsPositive() || cfg.FundingMax.LessThan(cfg.FundingMin) {
		return nil, fmt.Errorf("invalid funding bounds: min %s, max %s", cfg.FundingMin, cfg.FundingMax)
	}

	return cfg, nil
}
