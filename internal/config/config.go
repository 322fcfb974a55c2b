package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const minSecretLength = 32

// Config holds the application configuration
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	DBDriver    string `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	JWTSecret       string        `env:"JWT_SECRET,required"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	// RevokeAllOnReuse revokes every session of a user when a rotated
	// refresh token is presented again.
	RevokeAllOnReuse bool `env:"REFRESH_REUSE_REVOKE_ALL" envDefault:"true"`

	OTPLength        int           `env:"OTP_LENGTH" envDefault:"6"`
	OTPTTL           time.Duration `env:"OTP_TTL" envDefault:"2m"`
	OTPDebugResponse bool          `env:"OTP_DEBUG_RESPONSE" envDefault:"false"`

	OTPRateLimit     int           `env:"OTP_RATE_LIMIT" envDefault:"5"`
	OTPRateWindow    time.Duration `env:"OTP_RATE_WINDOW" envDefault:"60s"`
	RateLimitIdleTTL time.Duration `env:"RATE_LIMIT_IDLE_TTL" envDefault:"5m"`
	RateLimitBackend string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	IPRateRPS        float64       `env:"IP_RATE_RPS" envDefault:"2"`
	IPRateBurst      int           `env:"IP_RATE_BURST" envDefault:"10"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	SMSDriver       string   `env:"SMS_DRIVER" envDefault:"log"`
	SMSGatewayURL   string   `env:"SMS_GATEWAY_URL"`
	SMSGatewayToken string   `env:"SMS_GATEWAY_TOKEN"`
	SMSWorkers      int      `env:"SMS_WORKERS" envDefault:"4"`
	SMSQueueSize    int      `env:"SMS_QUEUE_SIZE" envDefault:"256"`
	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaOTPTopic   string   `env:"KAFKA_OTP_TOPIC" envDefault:"otp.requested"`

	Argon2MemoryKiB   uint32 `env:"ARGON2_MEMORY_KIB" envDefault:"19456"`
	Argon2Iterations  uint32 `env:"ARGON2_ITERATIONS" envDefault:"2"`
	Argon2Parallelism uint8  `env:"ARGON2_PARALLELISM" envDefault:"1"`

	PruneInterval  time.Duration `env:"PRUNE_INTERVAL" envDefault:"1h"`
	PruneRetention time.Duration `env:"PRUNE_RETENTION" envDefault:"720h"`

	LogDebug bool   `env:"LOG_DEBUG" envDefault:"false"`
	LogFile  string `env:"LOG_FILE"`
}

// Load reads .env (if present) and then environment variables. Environment
// variables win over .env entries since godotenv never overrides.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	return parse(env.Options{})
}

// LoadFrom parses configuration from the given map only. Used by tests.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run safely with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	if len(c.JWTSecret) < minSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretLength)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return fmt.Errorf("REFRESH_TOKEN_TTL must be longer than ACCESS_TOKEN_TTL")
	}
	if c.OTPLength < 4 || c.OTPLength > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10")
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.OTPRateLimit <= 0 || c.OTPRateWindow <= 0 {
		return fmt.Errorf("OTP_RATE_LIMIT and OTP_RATE_WINDOW must be positive")
	}
	switch c.RateLimitBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis, got %q", c.RateLimitBackend)
	}
	switch c.SMSDriver {
	case "log":
	case "http":
		if _, err := url.ParseRequestURI(c.SMSGatewayURL); err != nil {
			return fmt.Errorf("SMS_GATEWAY_URL is required for the http driver: %w", err)
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for the kafka driver")
		}
	default:
		return fmt.Errorf("SMS_DRIVER must be log, http or kafka, got %q", c.SMSDriver)
	}
	if c.SMSWorkers <= 0 || c.SMSQueueSize <= 0 {
		return fmt.Errorf("SMS_WORKERS and SMS_QUEUE_SIZE must be positive")
	}
	if c.PruneInterval <= 0 || c.PruneRetention <= 0 {
		return fmt.Errorf("PRUNE_INTERVAL and PRUNE_RETENTION must be positive")
	}
	return nil
}

// RedactedDatabaseURL returns DATABASE_URL with the password masked, for logging.
func (c *Config) RedactedDatabaseURL() string {
	if c.DBDriver == "sqlite" {
		return c.DatabaseURL
	}
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "(invalid DATABASE_URL)"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "****")
		}
	}
	return strings.TrimSpace(u.String())
}
