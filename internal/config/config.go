package config

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full environment surface of the gate. Secrets and thresholds
// are loaded here once and handed to constructors explicitly; nothing below
// this package reads the environment.
type Config struct {
	Env      string `envconfig:"ENV" default:"development"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBDSN    string `envconfig:"DB_DSN" default:"file:gate.db?cache=shared"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	LicenseIssuer        string `envconfig:"LICENSE_ISSUER" default:"sustainage-gate"`
	LicenseSigningSecret string `envconfig:"LICENSE_SIGNING_SECRET"`

	SessionPepper string        `envconfig:"SESSION_PEPPER"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"30m"`

	LoginRateLimitMax    int           `envconfig:"LOGIN_RATE_LIMIT_MAX" default:"5"`
	LoginRateLimitWindow time.Duration `envconfig:"LOGIN_RATE_LIMIT_WINDOW" default:"300s"`
	APIRateLimitMax      int           `envconfig:"API_RATE_LIMIT_MAX" default:"120"`
	APIRateLimitWindow   time.Duration `envconfig:"API_RATE_LIMIT_WINDOW" default:"60s"`
	RateLimitBypassKeys  []string      `envconfig:"RATE_LIMIT_BYPASS_KEYS"`

	LockoutMaxAttempts int           `envconfig:"LOCKOUT_MAX_ATTEMPTS" default:"5"`
	LockoutDuration    time.Duration `envconfig:"LOCKOUT_DURATION" default:"300s"`

	CaptchaThreshold int           `envconfig:"CAPTCHA_THRESHOLD" default:"3"`
	CaptchaCodeTTL   time.Duration `envconfig:"CAPTCHA_CODE_TTL" default:"3m"`
	CaptchaDigits    int           `envconfig:"CAPTCHA_DIGITS" default:"6"`

	ApprovalTTL time.Duration `envconfig:"APPROVAL_TTL" default:"120s"`

	// Zero disables the license denial cache.
	DenialCacheTTL time.Duration `envconfig:"DENIAL_CACHE_TTL" default:"30s"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	OTELMetricsEnabled        bool          `envconfig:"OTEL_METRICS_ENABLED" default:"false"`
	OTELLogsEnabled           bool          `envconfig:"OTEL_LOGS_ENABLED" default:"false"`
	OTELExporterOTLPEndpoint  string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	OTELExporterOTLPInsecure  bool          `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	OTELServiceName           string        `envconfig:"OTEL_SERVICE_NAME" default:"admission-gate"`
	OTELEnvironment           string        `envconfig:"OTEL_ENVIRONMENT" default:"development"`
	OTELMetricsExportInterval time.Duration `envconfig:"OTEL_METRICS_EXPORT_INTERVAL" default:"30s"`
	EnableOTelHTTP            bool          `envconfig:"OTEL_HTTP_ENABLED" default:"false"`
}

const envPrefix = "GATE"

// Load reads .env (when present), parses GATE_* variables and validates the
// result. Load failures are recorded as config validation events.
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		err = fmt.Errorf("parse environment: %w", err)
		recordConfigValidationEvent(ctx, cfg.Env, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		recordConfigValidationEvent(ctx, cfg.Env, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, cfg.Env, "success", "none")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.LicenseSigningSecret) < 32 {
		return fmt.Errorf("validate config: GATE_LICENSE_SIGNING_SECRET must be at least 32 characters")
	}
	if len(c.SessionPepper) < 16 {
		return fmt.Errorf("validate config: GATE_SESSION_PEPPER must be at least 16 characters")
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("validate config: unsupported GATE_DB_DRIVER %q", c.DBDriver)
	}
	if c.LoginRateLimitMax <= 0 || c.APIRateLimitMax <= 0 {
		return fmt.Errorf("validate config: rate limit maximums must be positive")
	}
	if c.LoginRateLimitWindow <= 0 || c.APIRateLimitWindow <= 0 {
		return fmt.Errorf("validate config: rate limit windows must be positive")
	}
	if c.LockoutMaxAttempts <= 0 || c.LockoutDuration <= 0 {
		return fmt.Errorf("validate config: lockout threshold and duration must be positive")
	}
	if c.CaptchaThreshold <= 0 || c.CaptchaCodeTTL <= 0 {
		return fmt.Errorf("validate config: captcha threshold and code ttl must be positive")
	}
	if c.ApprovalTTL <= 0 {
		return fmt.Errorf("validate config: GATE_APPROVAL_TTL must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("validate config: GATE_SESSION_TTL must be positive")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return normalizeConfigProfile(c.Env) == "development"
}
