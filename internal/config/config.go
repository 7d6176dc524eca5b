// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends accepted by STORE_BACKEND.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

const (
	defaultSessionTTL    = time.Hour
	defaultOTPTTL        = 5 * time.Minute
	defaultResetTokenTTL = 15 * time.Minute
	defaultBcryptCost    = 10
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the JSON API listens on (e.g. :5000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health server; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`

	// StoreBackend selects the credential store: memory, postgres or redis.
	// Empty picks postgres when DATABASE_URL is set, memory otherwise.
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the redis:// URL used when StoreBackend is redis.
	RedisURL string `mapstructure:"REDIS_URL"`

	// JWTSecret is the HS256 shared secret. Used when no key pair is configured.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim of session tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim of session tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// SessionTTLRaw is the session token lifetime (e.g. "1h").
	SessionTTLRaw string `mapstructure:"SESSION_TTL"`

	// BcryptCost is the bcrypt cost factor (4–31); default 10.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// OTPTTLRaw is how long an issued OTP stays valid (e.g. "5m").
	OTPTTLRaw string `mapstructure:"OTP_TTL"`
	// ResetTokenTTLRaw is how long a password reset token stays valid (e.g. "15m").
	ResetTokenTTLRaw string `mapstructure:"RESET_TOKEN_TTL"`
	// ResetURL is the front-end page that receives the reset token as ?token=.
	ResetURL string `mapstructure:"RESET_URL"`

	// SMSAPIKey authorizes calls to the SMS gateway. Empty disables SMS dispatch.
	SMSAPIKey string `mapstructure:"SMS_API_KEY"`
	// SMSBaseURL is the bulk SMS endpoint.
	SMSBaseURL string `mapstructure:"SMS_BASE_URL"`
	// SMSSender is the optional sender ID.
	SMSSender string `mapstructure:"SMS_SENDER"`

	// KafkaBrokers is a comma-separated list of brokers for reset-link emails. Empty logs links instead.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// NotifyKafkaTopic is the topic a downstream mailer consumes.
	NotifyKafkaTopic string `mapstructure:"NOTIFY_KAFKA_TOPIC"`

	// OTPReturnToClient enables testing mode: OTPs are returned when SMS dispatch fails, reset links
	// are returned by ForgotPassword, and GET /dev/otp is served. Must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty keeps no-op telemetry providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is json or text.
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// CORSOrigin is the browser origin allowed to call the API with credentials.
	CORSOrigin string `mapstructure:"CORS_ORIGIN"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":5000")
	v.SetDefault("GRPC_ADDR", ":8081")
	v.SetDefault("STORE_BACKEND", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "account-auth")
	v.SetDefault("JWT_AUDIENCE", "account-auth-api")
	v.SetDefault("SESSION_TTL", "1h")
	v.SetDefault("BCRYPT_COST", defaultBcryptCost)
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("RESET_TOKEN_TTL", "15m")
	v.SetDefault("RESET_URL", "http://localhost:3001/reset")
	v.SetDefault("SMS_API_KEY", "")
	v.SetDefault("SMS_BASE_URL", "https://www.fast2sms.com/dev/bulkV2")
	v.SetDefault("SMS_SENDER", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("NOTIFY_KAFKA_TOPIC", "account-auth-notifications")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "account-auth")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("CORS_ORIGIN", "http://localhost:3000")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.OTPReturnToClient && cfg.Env == "production" {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = defaultBcryptCost
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = StoreMemory
		if cfg.DatabaseURL != "" {
			cfg.StoreBackend = StorePostgres
		}
	}
	switch cfg.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set when STORE_BACKEND=postgres")
		}
	case StoreRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("config: REDIS_URL must be set when STORE_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("config: unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("config: LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}

	return &cfg, nil
}

// ValidateSigning reports whether a session signing key is configured: either JWT_SECRET or both
// halves of the JWT key pair. Only the API server needs one.
func (c *Config) ValidateSigning() error {
	hasPair := c.JWTPrivateKey != "" && c.JWTPublicKey != ""
	if (c.JWTPrivateKey != "") != (c.JWTPublicKey != "") {
		return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}
	if !hasPair && c.JWTSecret == "" {
		return errors.New("config: set JWT_SECRET or JWT_PRIVATE_KEY/JWT_PUBLIC_KEY")
	}
	if c.JWTIssuer == "" || c.JWTAudience == "" {
		return errors.New("config: JWT_ISSUER and JWT_AUDIENCE must be set")
	}
	return nil
}

// UsesKeyPair reports whether sessions are signed with the asymmetric key pair rather than JWT_SECRET.
func (c *Config) UsesKeyPair() bool {
	return c.JWTPrivateKey != "" && c.JWTPublicKey != ""
}

// SessionTTL parses SessionTTLRaw as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	return parseTTL(c.SessionTTLRaw, defaultSessionTTL)
}

// OTPTTL parses OTPTTLRaw as a time.Duration. Returns 5m if unset or invalid.
func (c *Config) OTPTTL() time.Duration {
	return parseTTL(c.OTPTTLRaw, defaultOTPTTL)
}

// ResetTokenTTL parses ResetTokenTTLRaw as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) ResetTokenTTL() time.Duration {
	return parseTTL(c.ResetTokenTTLRaw, defaultResetTokenTTL)
}

func parseTTL(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list means reset links go to the log sink instead of Kafka.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
