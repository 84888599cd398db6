// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// minSecretLength is the shortest SECRET_KEY accepted, in bytes.
const minSecretLength = 32

// ErrMissingSecret is returned when production runs without SECRET_KEY.
var ErrMissingSecret = errors.New("SECRET_KEY is required in production")

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL    string `env:"DATABASE_URL,required"`
	DBMaxConns     int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns     int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`

	// Cache (Redis). Empty disables login rate limiting.
	RedisURL       string `env:"REDIS_URL"`
	RedisPoolSize  int    `env:"REDIS_POOL_SIZE" envDefault:"10"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"usermanager:"`

	// Tokens and password hashing
	SecretKey      string        `env:"SECRET_KEY,unset"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
	PasswordScheme string        `env:"PASSWORD_SCHEME" envDefault:"bcrypt"`
	BcryptCost     int           `env:"BCRYPT_COST" envDefault:"12"`

	// Messaging (Kafka). No brokers disables event publishing.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"user-events"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"usermanager-events"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Login rate limiting, per client IP. Zero per minute disables it.
	RateLimitLoginPerMinute int `env:"RATE_LIMIT_LOGIN_PER_MINUTE" envDefault:"10"`
	RateLimitLoginBurst     int `env:"RATE_LIMIT_LOGIN_BURST" envDefault:"5"`

	// TrustProxyHeaders takes the client IP from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// Brokers returns the configured Kafka brokers without blanks.
func (c *Config) Brokers() []string {
	return splitList(strings.Join(c.KafkaBrokers, ","))
}

// RateLimitEnabled reports whether login attempts are limited.
func (c *Config) RateLimitEnabled() bool {
	return c.RedisURL != "" && c.RateLimitLoginPerMinute > 0
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.IsProduction() && c.SecretKey == "" {
		errs = append(errs, ErrMissingSecret)
	}
	if c.SecretKey != "" && len(c.SecretKey) < minSecretLength {
		errs = append(errs, fmt.Errorf("SECRET_KEY must be at least %d bytes", minSecretLength))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL))
	}
	switch strings.ToLower(c.PasswordScheme) {
	case "bcrypt", "argon2id":
	default:
		errs = append(errs, fmt.Errorf("PASSWORD_SCHEME %q is not one of bcrypt, argon2id", c.PasswordScheme))
	}
	if c.RateLimitLoginPerMinute < 0 || c.RateLimitLoginBurst < 0 {
		errs = append(errs, errors.New("login rate limit values must not be negative"))
	}
	if c.RateLimitLoginPerMinute > 0 && c.RateLimitLoginBurst == 0 {
		errs = append(errs, errors.New("RATE_LIMIT_LOGIN_BURST must be positive when the login limit is enabled"))
	}
	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EventsConfig configures the event consumer. It needs no database.
type EventsConfig struct {
	KafkaBrokers []string `env:"KAFKA_BROKERS,required" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"user-events"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"usermanager-events"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Brokers returns the configured Kafka brokers without blanks.
func (c *EventsConfig) Brokers() []string {
	return splitList(strings.Join(c.KafkaBrokers, ","))
}

// LoadEvents parses the consumer configuration from the environment.
func LoadEvents() (*EventsConfig, error) {
	cfg := &EventsConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Brokers()) == 0 {
		return nil, errors.New("invalid config: KAFKA_BROKERS has no brokers")
	}
	if strings.TrimSpace(cfg.KafkaGroupID) == "" {
		return nil, errors.New("invalid config: KAFKA_GROUP_ID is empty")
	}
	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
