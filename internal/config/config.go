package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// Config holds application configuration
type Config struct {
	Port      string
	DBConn    string
	LogLevel  string
	JWTSecret string

	DefaultInterestRate decimal.Decimal // annual, percent
	LateFeePercentage   decimal.Decimal

	DelinquencyCronSpec string
	ReminderCronSpec    string

	RatesURL      string
	RatesCronSpec string
	LendingMargin decimal.Decimal // added on top of the central bank rate

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	defaultRate, err := decimal.NewFromString(getEnv("DEFAULT_INTEREST_RATE", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_INTEREST_RATE: %w", err)
	}
	lateFeePct, err := decimal.NewFromString(getEnv("LATE_PAYMENT_FEE_PERCENTAGE", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid LATE_PAYMENT_FEE_PERCENTAGE: %w", err)
	}
	lendingMargin, err := decimal.NewFromString(getEnv("LENDING_MARGIN", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid LENDING_MARGIN: %w", err)
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		DBConn:              getEnv("DB_CONN", "host=localhost port=5432 user=test password=test dbname=microcredit sslmode=disable"),
		LogLevel:            getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:           getEnv("JWT_SECRET", "secret"),
		DefaultInterestRate: defaultRate,
		LateFeePercentage:   lateFeePct,
		DelinquencyCronSpec: getEnv("DELINQUENCY_CRON", "0 0 * * *"),
		ReminderCronSpec:    getEnv("REMINDER_CRON", "0 10 * * *"),
		RatesURL:            getEnv("RATES_URL", ""),
		RatesCronSpec:       getEnv("RATES_REFRESH_CRON", "0 6 * * *"),
		LendingMargin:       lendingMargin,
		SMTPHost:            getEnv("SMTP_HOST", ""),
		SMTPPort:            getEnv("SMTP_PORT", "587"),
		SMTPUsername:        getEnv("SMTP_USERNAME", ""),
		SMTPPassword:        getEnv("SMTP_PASSWORD", ""),
		SenderEmail:         getEnv("SENDER_EMAIL", "no-reply@microcredit.local"),
	}

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.DefaultInterestRate.IsNegative() {
		return nil, fmt.Errorf("DEFAULT_INTEREST_RATE must not be negative")
	}
	if cfg.LateFeePercentage.IsNegative() {
		return nil, fmt.Errorf("LATE_PAYMENT_FEE_PERCENTAGE must not be negative")
	}
	if cfg.LendingMargin.IsNegative() {
		return nil, fmt.Errorf("LENDING_MARGIN must not be negative")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
