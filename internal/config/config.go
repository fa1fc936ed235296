package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/keypair"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/money"
)

const (
	NetworkMainnet = "Pi Network"
	NetworkTestnet = "Pi Testnet"
)

type Config struct {
	Port           string
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   []string
	NatsURL        string
	TracingEnabled bool

	PiAPIURL         string
	PiAPIKey         string
	PiHorizonURL     string
	PiNetwork        string
	AppWalletAddress string

	JWTSecret  string
	SessionTTL time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	AdRewardAmount  decimal.Decimal
	PlatformFeeRate decimal.Decimal
	LockTTL         time.Duration
	RiskCheck       bool

	// invalid holds values that were set but could not be parsed.
	invalid []error
}

func Load() *Config {
	network := getenv("PI_NETWORK", NetworkTestnet)

	cfg := &Config{
		Port:           getenv("PORT", "8081"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       getenv("REDIS_URL", "localhost:6379"),
		KafkaBrokers:   splitList(os.Getenv("KAFKA_BROKERS")),
		NatsURL:        os.Getenv("NATS_URL"),
		TracingEnabled: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" || os.Getenv("JAEGER_ENDPOINT") != "",

		PiAPIURL:         getenv("PI_API_URL", "https://api.minepi.com"),
		PiAPIKey:         os.Getenv("PI_API_KEY"),
		PiHorizonURL:     getenv("PI_HORIZON_URL", defaultHorizon(network)),
		PiNetwork:        network,
		AppWalletAddress: os.Getenv("APP_WALLET_ADDRESS"),

		JWTSecret:  os.Getenv("JWT_SECRET"),
		SessionTTL: getDuration("SESSION_TTL", 24*time.Hour),

		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 10),

		PlatformFeeRate: getDecimal("PLATFORM_FEE_RATE", decimal.RequireFromString("0.05")),
		LockTTL:         getDuration("LOCK_TTL", 30*time.Second),
		RiskCheck:       os.Getenv("RISK_CHECK_ENABLED") == "true",
	}

	var err error
	if cfg.AdRewardAmount, err = getAmount("AD_REWARD_AMOUNT", decimal.NewFromInt(1)); err != nil {
		cfg.invalid = append(cfg.invalid, fmt.Errorf("AD_REWARD_AMOUNT: %w", err))
	}
	return cfg
}

// Validate reports the settings the payment gateway cannot run without.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.invalid...)
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.PiAPIKey == "" {
		errs = append(errs, errors.New("PI_API_KEY is required"))
	}
	if _, err := keypair.ParseAddress(c.AppWalletAddress); err != nil {
		errs = append(errs, fmt.Errorf("APP_WALLET_ADDRESS is not a valid wallet address: %w", err))
	}
	if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if c.PiNetwork != NetworkMainnet && c.PiNetwork != NetworkTestnet {
		errs = append(errs, fmt.Errorf("PI_NETWORK must be %q or %q", NetworkMainnet, NetworkTestnet))
	}
	if c.RiskCheck && c.NatsURL == "" {
		errs = append(errs, errors.New("NATS_URL is required when RISK_CHECK_ENABLED=true"))
	}
	if err := money.Validate(c.AdRewardAmount); err != nil {
		errs = append(errs, fmt.Errorf("AD_REWARD_AMOUNT: %w", err))
	}
	if c.PlatformFeeRate.IsNegative() || c.PlatformFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, errors.New("PLATFORM_FEE_RATE must be in [0, 1)"))
	}
	return errors.Join(errs...)
}

func defaultHorizon(network string) string {
	if network == NetworkMainnet {
		return "https://api.mainnet.minepi.com"
	}
	return "https://api.testnet.minepi.com"
}

func getenv(key, d string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return d
}

func getInt(key string, d int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return d
}

func getFloat(key string, d float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return d
}

func getDuration(key string, d time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return d
}

func getDecimal(key string, d decimal.Decimal) decimal.Decimal {
	if v, err := decimal.NewFromString(os.Getenv(key)); err == nil {
		return v
	}
	return d
}

// getAmount reads a Pi amount. An unset variable yields d; a malformed or out of range one
// yields d and an error.
func getAmount(key string, d decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return d, nil
	}
	amount, err := money.Parse(v)
	if err != nil {
		return d, err
	}
	return amount, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
