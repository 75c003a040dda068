package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	// OwnerID is the administrative identity that collects platform fees
	// and may change the fee percentage.
	OwnerID    string
	FeePercent int

	// DBSource is optional; without it the ledger runs without a durable
	// journal.
	DBSource string

	// RedisAddr is optional; without it payment rate limiting is disabled.
	RedisAddr         string
	PaymentsPerMinute int
	PaymentsPer10Sec  int
}

func Load() (*Config, error) {
	owner := os.Getenv("OWNER_ID")
	if owner == "" {
		return nil, fmt.Errorf("OWNER_ID environment variable is required")
	}

	feePercent, err := intEnv("PLATFORM_FEE_PERCENT", 10)
	if err != nil {
		return nil, err
	}
	if feePercent < 0 || feePercent > 100 {
		return nil, fmt.Errorf("PLATFORM_FEE_PERCENT must be between 0 and 100, got %d", feePercent)
	}

	perMinute, err := intEnv("PAYMENTS_PER_MINUTE", 30)
	if err != nil {
		return nil, err
	}
	per10Sec, err := intEnv("PAYMENTS_PER_10SEC", 10)
	if err != nil {
		return nil, err
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		Port:              port,
		Env:               env,
		LogLevel:          logLevel,
		OwnerID:           owner,
		FeePercent:        feePercent,
		DBSource:          os.Getenv("DB_SOURCE"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		PaymentsPerMinute: perMinute,
		PaymentsPer10Sec:  per10Sec,
	}, nil
}

func intEnv(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, err)
	}
	return v, nil
}
