/**
 * @description
 * This package handles the configuration management for the ledger-service. It
 * uses the Viper library to read configuration from environment variables and
 * an optional .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultServerPort           = "8080"
	defaultRedisKeyPrefix       = "ledger"
	defaultEventExchange        = "ledger.events"
	defaultTransferRequestQueue = "ledger_service.transfer_requests"
	defaultPaymentAPIBaseURL    = "https://api.manifold.markets"
	defaultWalletChain          = "polygon"
	defaultClaimTTLSeconds      = 300
	defaultMaxDispatchAttempts  = 5
	defaultDispatchBatchLimit   = 10
	defaultJobTimeoutSeconds    = 60
	defaultDispatchSchedule     = "@every 15s"
	defaultClaimSweepSchedule   = "@every 1m"
	defaultPaymentPollSchedule  = "@every 30s"
	defaultWalletPollSchedule   = "@every 30s"
)

// Config holds all the configuration variables for the ledger-service.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix       string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	EventExchange        string `mapstructure:"EVENT_EXCHANGE"`
	TransferRequestQueue string `mapstructure:"TRANSFER_REQUEST_QUEUE"`
	CORSAllowedOrigins   string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	PaymentAPIBaseURL   string `mapstructure:"PAYMENT_API_BASE_URL"`
	PaymentAPIKey       string `mapstructure:"PAYMENT_API_KEY"`
	PaymentSenderAPIKey string `mapstructure:"PAYMENT_SENDER_API_KEY"`
	PaymentAccountID    string `mapstructure:"PAYMENT_ACCOUNT_ID"`

	WalletAPIBaseURL string `mapstructure:"WALLET_API_BASE_URL"`
	WalletAPIKey     string `mapstructure:"WALLET_API_KEY"`
	WalletChain      string `mapstructure:"WALLET_CHAIN"`

	ClaimTTLSeconds     int `mapstructure:"CLAIM_TTL_SECONDS"`
	MaxDispatchAttempts int `mapstructure:"MAX_DISPATCH_ATTEMPTS"`
	DispatchBatchLimit  int `mapstructure:"DISPATCH_BATCH_LIMIT"`
	JobTimeoutSeconds   int `mapstructure:"JOB_TIMEOUT_SECONDS"`

	DispatchSchedule    string `mapstructure:"DISPATCH_SCHEDULE"`
	ClaimSweepSchedule  string `mapstructure:"CLAIM_SWEEP_SCHEDULE"`
	PaymentPollSchedule string `mapstructure:"PAYMENT_POLL_SCHEDULE"`
	WalletPollSchedule  string `mapstructure:"WALLET_POLL_SCHEDULE"`
}

// ClaimTTL is how long a Submitted transfer may stay claimed.
func (c Config) ClaimTTL() time.Duration {
	return time.Duration(c.ClaimTTLSeconds) * time.Second
}

// JobTimeout bounds a single scheduled job run.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("REDIS_KEY_PREFIX", defaultRedisKeyPrefix)
	viper.SetDefault("EVENT_EXCHANGE", defaultEventExchange)
	viper.SetDefault("TRANSFER_REQUEST_QUEUE", defaultTransferRequestQueue)
	viper.SetDefault("PAYMENT_API_BASE_URL", defaultPaymentAPIBaseURL)
	viper.SetDefault("WALLET_CHAIN", defaultWalletChain)
	viper.SetDefault("CLAIM_TTL_SECONDS", defaultClaimTTLSeconds)
	viper.SetDefault("MAX_DISPATCH_ATTEMPTS", defaultMaxDispatchAttempts)
	viper.SetDefault("DISPATCH_BATCH_LIMIT", defaultDispatchBatchLimit)
	viper.SetDefault("JOB_TIMEOUT_SECONDS", defaultJobTimeoutSeconds)
	viper.SetDefault("DISPATCH_SCHEDULE", defaultDispatchSchedule)
	viper.SetDefault("CLAIM_SWEEP_SCHEDULE", defaultClaimSweepSchedule)
	viper.SetDefault("PAYMENT_POLL_SCHEDULE", defaultPaymentPollSchedule)
	viper.SetDefault("WALLET_POLL_SCHEDULE", defaultWalletPollSchedule)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("TRANSFER_REQUEST_QUEUE")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("PAYMENT_API_BASE_URL")
	_ = viper.BindEnv("PAYMENT_API_KEY")
	_ = viper.BindEnv("PAYMENT_SENDER_API_KEY")
	_ = viper.BindEnv("PAYMENT_ACCOUNT_ID")
	_ = viper.BindEnv("WALLET_API_BASE_URL")
	_ = viper.BindEnv("WALLET_API_KEY")
	_ = viper.BindEnv("WALLET_CHAIN")
	_ = viper.BindEnv("CLAIM_TTL_SECONDS")
	_ = viper.BindEnv("MAX_DISPATCH_ATTEMPTS")
	_ = viper.BindEnv("DISPATCH_BATCH_LIMIT")
	_ = viper.BindEnv("JOB_TIMEOUT_SECONDS")
	_ = viper.BindEnv("DISPATCH_SCHEDULE")
	_ = viper.BindEnv("CLAIM_SWEEP_SCHEDULE")
	_ = viper.BindEnv("PAYMENT_POLL_SCHEDULE")
	_ = viper.BindEnv("WALLET_POLL_SCHEDULE")

	// A missing .env file is fine; anything else is logged and ignored.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "component", "config", "error", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = defaultRedisKeyPrefix
	}
	config.PaymentAPIBaseURL = strings.TrimSuffix(strings.TrimSpace(config.PaymentAPIBaseURL), "/")
	config.WalletAPIBaseURL = strings.TrimSuffix(strings.TrimSpace(config.WalletAPIBaseURL), "/")
	if strings.TrimSpace(config.PaymentSenderAPIKey) == "" {
		config.PaymentSenderAPIKey = config.PaymentAPIKey
	}

	if config.ClaimTTLSeconds <= 0 {
		slog.Warn("non-positive claim ttl configured; using default", "component", "config", "value", config.ClaimTTLSeconds)
		config.ClaimTTLSeconds = defaultClaimTTLSeconds
	}
	if config.MaxDispatchAttempts <= 0 {
		slog.Warn("non-positive dispatch attempt budget configured; using default", "component", "config", "value", config.MaxDispatchAttempts)
		config.MaxDispatchAttempts = defaultMaxDispatchAttempts
	}
	if config.DispatchBatchLimit <= 0 {
		config.DispatchBatchLimit = defaultDispatchBatchLimit
	}
	if config.JobTimeoutSeconds <= 0 {
		config.JobTimeoutSeconds = defaultJobTimeoutSeconds
	}
	// A claim must outlive the job that holds it.
	if config.ClaimTTLSeconds <= config.JobTimeoutSeconds {
		slog.Warn("claim ttl must exceed job timeout; raising it", "component", "config",
			"claim_ttl_seconds", config.ClaimTTLSeconds, "job_timeout_seconds", config.JobTimeoutSeconds)
		config.ClaimTTLSeconds = config.JobTimeoutSeconds * 2
	}

	return
}
