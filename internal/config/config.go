package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/bcrypt"
)

// Config holds runtime configuration for the API process.
type Config struct {
	AppEnv             string `envconfig:"APP_ENV" default:"development"`
	Port               string `envconfig:"PORT" default:"8080"`
	LogFormat          string `envconfig:"LOG_FORMAT" default:"json"`
	ExposeErrorDetails bool   `envconfig:"EXPOSE_ERROR_DETAILS" default:"false"`

	ReadTimeout        time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout       time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout        time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
	RateLimitPerMinute int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"300"`
	TrustProxyHeaders  bool          `envconfig:"TRUST_PROXY_HEADERS" default:"false"`

	DatabaseURL            string        `envconfig:"DATABASE_URL" required:"true"`
	DBMaxOpenConns         int           `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
	DBMaxIdleConns         int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	DBConnMaxLifetime      time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
	DBConnMaxIdleTime      time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"10m"`
	DBQueryTimeout         time.Duration `envconfig:"DB_QUERY_TIMEOUT" default:"5s"`
	RunMigrationsOnStartup bool          `envconfig:"RUN_MIGRATIONS_ON_STARTUP" default:"true"`

	JWTSecret             string `envconfig:"JWT_SECRET" required:"true"`
	AccessTokenTTLMinutes int    `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"15"`
	RefreshTokenTTLDays   int    `envconfig:"REFRESH_TOKEN_TTL_DAYS" default:"7"`
	RefreshRotationStrict bool   `envconfig:"REFRESH_ROTATION_STRICT" default:"false"`
	BcryptCost            int    `envconfig:"BCRYPT_COST" default:"10"`

	LoginRateLimitMax     int           `envconfig:"LOGIN_RATE_LIMIT_MAX" default:"10"`
	LoginRateLimitWindow  time.Duration `envconfig:"LOGIN_RATE_LIMIT_WINDOW" default:"60s"`
	LoginRateLimitBackend string        `envconfig:"LOGIN_RATE_LIMIT_BACKEND"`
	RedisURL              string        `envconfig:"REDIS_URL"`

	AdminEmail       string `envconfig:"ADMIN_EMAIL"`
	AdminPassword    string `envconfig:"ADMIN_PASSWORD"`
	AdminDisplayName string `envconfig:"ADMIN_DISPLAY_NAME" default:"Administrator"`

	CronSecret       string `envconfig:"CRON_SECRET"`
	CleanupBatchSize int    `envconfig:"AUTH_CLEANUP_BATCH_SIZE" default:"500"`

	SentryDSN string `envconfig:"SENTRY_DSN"`

	S3Bucket          string `envconfig:"S3_BUCKET"`
	S3Region          string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint        string `envconfig:"S3_ENDPOINT"`
	S3AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3PublicBaseURL   string `envconfig:"S3_PUBLIC_BASE_URL"`
	S3UsePathStyle    bool   `envconfig:"S3_USE_PATH_STYLE" default:"false"`
}

// Load reads configuration from the environment, optionally seeding it from a .env file first.
func Load(loadDotEnv bool) (*Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET must be provided")
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL must be provided")
	}
	if c.AccessTokenTTLMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL_MINUTES must be positive, got %d", c.AccessTokenTTLMinutes)
	}
	if c.RefreshTokenTTLDays <= 0 {
		return fmt.Errorf("REFRESH_TOKEN_TTL_DAYS must be positive, got %d", c.RefreshTokenTTLDays)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.BcryptCost)
	}
	switch c.LoginLimiterBackend() {
	case "memory", "postgres":
	case "redis":
		if strings.TrimSpace(c.RedisURL) == "" {
			return errors.New("REDIS_URL must be provided for the redis login rate limit backend")
		}
	default:
		return fmt.Errorf("LOGIN_RATE_LIMIT_BACKEND must be one of memory, postgres, redis, got %q", c.LoginRateLimitBackend)
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLDays) * 24 * time.Hour
}

// LoginLimiterBackend returns the configured login limiter store, falling back to redis when
// REDIS_URL is set and to process memory otherwise.
func (c *Config) LoginLimiterBackend() string {
	backend := strings.ToLower(strings.TrimSpace(c.LoginRateLimitBackend))
	if backend != "" {
		return backend
	}
	if strings.TrimSpace(c.RedisURL) != "" {
		return "redis"
	}
	return "memory"
}

// S3Enabled reports whether marker image uploads have a bucket to write to.
func (c *Config) S3Enabled() bool {
	return strings.TrimSpace(c.S3Bucket) != ""
}
