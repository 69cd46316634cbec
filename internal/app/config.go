package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development" validate:"oneof=development staging production test"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080" validate:"required"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"30s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`
	AppName           string        `envconfig:"APP_NAME" default:"Training Insights"`
	AppVersion        string        `envconfig:"APP_VERSION" default:"1.0.0"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty" validate:"oneof=pretty json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379" validate:"required"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0" validate:"gte=0"`
	SessionCookie string        `envconfig:"SESSION_COOKIE" default:"dashboard_session" validate:"required"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"720h"`

	CSRFSecret string `envconfig:"CSRF_SECRET" required:"true"`

	GotenbergURL string `envconfig:"GOTENBERG_URL" default:"http://127.0.0.1:3000" validate:"url"`

	InsightsBaseURL     string        `envconfig:"INSIGHTS_API_BASE_URL" default:"http://localhost:8000/api/v1" validate:"url"`
	InsightsTimeout     time.Duration `envconfig:"INSIGHTS_API_TIMEOUT" default:"10s"`
	InsightsRetries     int           `envconfig:"INSIGHTS_API_RETRY_ATTEMPTS" default:"3" validate:"gte=0,lte=10"`
	InsightsRetryDelay  time.Duration `envconfig:"INSIGHTS_API_RETRY_DELAY" default:"1s"`
	InsightsRetryMax    time.Duration `envconfig:"INSIGHTS_API_RETRY_MAX_DELAY" default:"30s"`
	InsightsToken       string        `envconfig:"INSIGHTS_API_TOKEN"`
	CacheTTL            time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	LoginURL            string        `envconfig:"LOGIN_URL" default:"/login" validate:"required"`
	StartupDelay        time.Duration `envconfig:"DASHBOARD_STARTUP_DELAY" default:"1s"`
	BoardIdleTTL        time.Duration `envconfig:"BOARD_IDLE_TTL" default:"30m"`
	PageWait            time.Duration `envconfig:"DASHBOARD_PAGE_WAIT" default:"5s"`
	ExportRatePerMinute int           `envconfig:"EXPORT_RATE_PER_MINUTE" default:"10" validate:"gt=0"`
	WarmupCron          string        `envconfig:"WARMUP_CRON" default:"*/30 * * * *"`
	WorkerConcurrency   int           `envconfig:"WORKER_CONCURRENCY" default:"4" validate:"gt=0"`
	WorkerMetricsAddr   string        `envconfig:"WORKER_METRICS_ADDR" default:":9091"`
}

const testModeEnv = "DASHBOARD_TEST_MODE"

var configValidator = validator.New()

// InTestMode reports whether the binaries should exit before connecting to Redis.
func InTestMode() bool {
	return os.Getenv(testModeEnv) == "1"
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks secrets, URLs and retry bounds.
func (c *Config) Validate() error {
	if c.CSRFSecret == "" {
		return errors.New("csrf secret must be provided")
	}
	if err := configValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("config: %s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	for name, d := range map[string]time.Duration{
		"INSIGHTS_API_TIMEOUT": c.InsightsTimeout,
		"CACHE_TTL":            c.CacheTTL,
		"BOARD_IDLE_TTL":       c.BoardIdleTTL,
		"DASHBOARD_PAGE_WAIT":  c.PageWait,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	if c.InsightsRetryDelay < 0 || c.InsightsRetryMax < c.InsightsRetryDelay {
		return errors.New("config: INSIGHTS_API_RETRY_MAX_DELAY must not be below INSIGHTS_API_RETRY_DELAY")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
