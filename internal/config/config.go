// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process-wide configuration shared by the server, worker and seeder binaries.
type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Provider  ProviderConfig
	Blob      BlobConfig
	Dispatch  DispatchConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	AMQP      AMQPConfig
	Webhook   WebhookConfig
	Sentry    SentryConfig
}

type HTTPConfig struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

type DatabaseConfig struct {
	URL           string        `env:"DATABASE_URL"`
	MaxOpenConns  int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns  int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLife   time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
	RetryAttempts int           `env:"DATABASE_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval time.Duration `env:"DATABASE_RETRY_INTERVAL" envDefault:"2s"`
	AutoMigrate   bool          `env:"DATABASE_AUTO_MIGRATE" envDefault:"false"`
}

// AuthConfig holds token signing material. PreviousSigningKey is the key that was
// current before the last rotation; tokens signed with it stay valid until they expire.
type AuthConfig struct {
	SigningKey         string        `env:"JWT_SIGNING_KEY"`
	PreviousSigningKey string        `env:"JWT_PREVIOUS_SIGNING_KEY"`
	Issuer             string        `env:"JWT_ISSUER" envDefault:"mailcast"`
	AccessTTL          time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL         time.Duration `env:"JWT_REFRESH_TTL" envDefault:"720h"`
	RevocationStore    string        `env:"REVOCATION_STORE" envDefault:"postgres"`
	BcryptCost         int           `env:"BCRYPT_COST" envDefault:"12"`
}

type ProviderConfig struct {
	Name        string        `env:"MAIL_PROVIDER" envDefault:"resend"`
	APIKey      string        `env:"RESEND_API_KEY"`
	SenderEmail string        `env:"RESEND_FROM_EMAIL"`
	SenderName  string        `env:"RESEND_FROM_NAME"`
	CallTimeout time.Duration `env:"PROVIDER_CALL_TIMEOUT" envDefault:"15s"`
}

type BlobConfig struct {
	Driver    string `env:"BLOB_DRIVER" envDefault:"s3"`
	Bucket    string `env:"BLOB_BUCKET"`
	Region    string `env:"BLOB_REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"BLOB_ENDPOINT"`
	AccessKey string `env:"BLOB_ACCESS_KEY"`
	SecretKey string `env:"BLOB_SECRET_KEY"`
	PathStyle bool   `env:"BLOB_PATH_STYLE" envDefault:"false"`
	MaxSize   int64  `env:"BLOB_MAX_SIZE" envDefault:"10485760"`
}

type DispatchConfig struct {
	Workers       int           `env:"DISPATCH_WORKERS" envDefault:"4"`
	BatchSize     int           `env:"DISPATCH_BATCH_SIZE" envDefault:"50"`
	PollInterval  time.Duration `env:"DISPATCH_POLL_INTERVAL" envDefault:"1s"`
	ClaimTimeout  time.Duration `env:"DISPATCH_CLAIM_TIMEOUT" envDefault:"10m"`
	MaxAttempts   int           `env:"DISPATCH_MAX_ATTEMPTS" envDefault:"5"`
	BackoffBase   time.Duration `env:"DISPATCH_BACKOFF_BASE" envDefault:"30s"`
	BackoffFactor float64       `env:"DISPATCH_BACKOFF_FACTOR" envDefault:"2"`
	BackoffMax    time.Duration `env:"DISPATCH_BACKOFF_MAX" envDefault:"1h"`
	BackoffJitter float64       `env:"DISPATCH_BACKOFF_JITTER" envDefault:"0.1"`
	RetentionDays int           `env:"DISPATCH_RETENTION_DAYS" envDefault:"90"`
}

type RateLimitConfig struct {
	Backend        string        `env:"RATE_LIMIT_BACKEND" envDefault:"local"`
	Capacity       int           `env:"RATE_LIMIT_CAPACITY" envDefault:"14"`
	RefillPerSec   float64       `env:"RATE_LIMIT_REFILL_PER_SEC" envDefault:"14"`
	AcquireTimeout time.Duration `env:"RATE_LIMIT_ACQUIRE_TIMEOUT" envDefault:"5s"`
	Key            string        `env:"RATE_LIMIT_KEY" envDefault:"ratelimit:provider"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

type AMQPConfig struct {
	URL   string `env:"AMQP_URL"`
	Queue string `env:"AMQP_DELIVERY_QUEUE" envDefault:"delivery_events"`
}

// WebhookConfig guards the provider callback endpoint. Insecure accepts
// unsigned callbacks and is meant for local development only.
type WebhookConfig struct {
	Secret   string `env:"WEBHOOK_SECRET"`
	Insecure bool   `env:"WEBHOOK_INSECURE" envDefault:"false"`
}

type SentryConfig struct {
	DSN         string `env:"SENTRY_DSN"`
	Environment string `env:"SENTRY_ENVIRONMENT" envDefault:"production"`
}

// Load reads .env (if present) and the process environment, then validates the
// result. Every returned error is fatal for the calling binary.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on OS environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads only the database settings. The admin CLI uses it.
func LoadDatabase() (DatabaseConfig, error) {
	_ = godotenv.Load()

	var cfg DatabaseConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("config: parse environment: %w", err)
	}
	if cfg.URL == "" {
		return cfg, errors.New("config: DATABASE_URL is required")
	}
	return cfg, nil
}

// Validate reports every unrecoverable configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("config: DATABASE_URL is required"))
	}
	if c.Auth.SigningKey == "" {
		errs = append(errs, errors.New("config: JWT_SIGNING_KEY is required"))
	} else if len(c.Auth.SigningKey) < 32 {
		errs = append(errs, errors.New("config: JWT_SIGNING_KEY must be at least 32 bytes"))
	}
	if c.Auth.PreviousSigningKey != "" && len(c.Auth.PreviousSigningKey) < 32 {
		errs = append(errs, errors.New("config: JWT_PREVIOUS_SIGNING_KEY must be at least 32 bytes"))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("config: token TTLs must be positive"))
	}
	switch c.Auth.RevocationStore {
	case "postgres":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("config: REDIS_URL is required when REVOCATION_STORE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown REVOCATION_STORE %q", c.Auth.RevocationStore))
	}

	if c.Webhook.Secret == "" && !c.Webhook.Insecure {
		errs = append(errs, errors.New("config: WEBHOOK_SECRET is required unless WEBHOOK_INSECURE=true"))
	}

	switch c.Provider.Name {
	case "resend":
		if c.Provider.APIKey == "" {
			errs = append(errs, errors.New("config: RESEND_API_KEY is required when MAIL_PROVIDER=resend"))
		}
		if c.Provider.SenderEmail == "" {
			errs = append(errs, errors.New("config: RESEND_FROM_EMAIL is required when MAIL_PROVIDER=resend"))
		}
	case "log":
	default:
		errs = append(errs, fmt.Errorf("config: unknown MAIL_PROVIDER %q", c.Provider.Name))
	}

	switch c.Blob.Driver {
	case "s3":
		if c.Blob.Bucket == "" {
			errs = append(errs, errors.New("config: BLOB_BUCKET is required when BLOB_DRIVER=s3"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("config: unknown BLOB_DRIVER %q", c.Blob.Driver))
	}

	if c.RateLimit.Capacity <= 0 || c.RateLimit.RefillPerSec <= 0 {
		errs = append(errs, errors.New("config: rate limit capacity and refill rate must be positive"))
	}
	if c.RateLimit.AcquireTimeout <= 0 {
		errs = append(errs, errors.New("config: RATE_LIMIT_ACQUIRE_TIMEOUT must be positive"))
	}
	if c.RateLimit.Backend == "redis" && c.Redis.URL == "" {
		errs = append(errs, errors.New("config: REDIS_URL is required when RATE_LIMIT_BACKEND=redis"))
	}

	if c.Dispatch.MaxAttempts < 1 {
		errs = append(errs, errors.New("config: DISPATCH_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Dispatch.Workers < 1 || c.Dispatch.BatchSize < 1 {
		errs = append(errs, errors.New("config: DISPATCH_WORKERS and DISPATCH_BATCH_SIZE must be at least 1"))
	}
	if c.Dispatch.BackoffBase <= 0 || c.Dispatch.BackoffFactor < 1 || c.Dispatch.BackoffMax < c.Dispatch.BackoffBase {
		errs = append(errs, errors.New("config: invalid dispatch backoff settings"))
	}

	return errors.Join(errs...)
}
