// Package config defines the configuration shared by every classifieds
// binary. Configuration is loaded once at cold start and is immutable
// afterwards.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Only the settings every binary needs are required at load time; each
// binary then asserts the sections it uses with the Require* methods.
package config

import (
	"sort"
	"strings"
	"time"

	"classifieds/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types for secret fields.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"classifieds"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Auth          AuthConfig
	Push          PushConfig
	Sweep         SweepConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	APIExternalURL     string        `envconfig:"API_EXTERNAL_URL" validate:"omitempty,url"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns int32 `envconfig:"DB_MAX_CONNS" default:"5" validate:"gte=1"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region       string `envconfig:"AWS_REGION" default:"eu-west-1"`
	PushQueueURL string `envconfig:"SQS_PUSH" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds Stripe settings for boost orders.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeBaseURL       string       `envconfig:"STRIPE_BASE_URL" default:"https://api.stripe.com" validate:"url"`
	Currency            string       `envconfig:"BILLING_CURRENCY" default:"eur" validate:"len=3"`
	CheckoutSuccessURL  string       `envconfig:"CHECKOUT_SUCCESS_URL" validate:"omitempty,url"`
	CheckoutCancelURL   string       `envconfig:"CHECKOUT_CANCEL_URL" validate:"omitempty,url"`
}

// AuthConfig holds the bearer token and bypass credential settings.
type AuthConfig struct {
	JWTSecret   SecretString `envconfig:"JWT_SECRET"`
	JWTIssuer   string       `envconfig:"JWT_ISSUER"`
	JWTAudience string       `envconfig:"JWT_AUDIENCE"`
	// BypassKeyHash is the bcrypt hash of the server-to-server key accepted
	// in the X-Admin-Key header. Empty disables the bypass.
	BypassKeyHash SecretString  `envconfig:"ADMIN_KEY_HASH"`
	ClockSkew     time.Duration `envconfig:"JWT_CLOCK_SKEW" default:"30s"`
}

// PushConfig holds push provider endpoints and fan-out tuning.
type PushConfig struct {
	WebPushURL       string        `envconfig:"WEB_PUSH_URL" validate:"omitempty,url"`
	WebPushKey       SecretString  `envconfig:"WEB_PUSH_KEY"`
	MobileRelayURL   string        `envconfig:"MOBILE_RELAY_URL" validate:"omitempty,url"`
	MobileRelayToken SecretString  `envconfig:"MOBILE_RELAY_TOKEN"`
	Timeout          time.Duration `envconfig:"PUSH_TIMEOUT" default:"10s"`
	Concurrency      int           `envconfig:"PUSH_CONCURRENCY" default:"8" validate:"gte=1,lte=64"`
	PublicBaseURL    string        `envconfig:"PUBLIC_BASE_URL" default:"https://example.com" validate:"url"`
}

// SweepConfig tunes the periodic boost sweep.
type SweepConfig struct {
	// Schedule is a six-field cron expression (with seconds) used by the
	// local runner; the deployed trigger carries its own schedule.
	Schedule string `envconfig:"SWEEP_SCHEDULE" default:"0 */5 * * * *" validate:"cronspec"`
	// PageSize caps the listings read per query.
	PageSize int `envconfig:"SWEEP_PAGE_SIZE" default:"400" validate:"gte=1,lte=1000"`
	// BatchLimit caps the updates committed per write batch.
	BatchLimit     int           `envconfig:"SWEEP_BATCH_LIMIT" default:"450" validate:"gte=1,lte=500"`
	MaxPages       int           `envconfig:"SWEEP_MAX_PAGES" default:"10" validate:"gte=1"`
	Timeout        time.Duration `envconfig:"SWEEP_TIMEOUT" default:"4m"`
	NotifyOnBump   bool          `envconfig:"SWEEP_NOTIFY_BUMP" default:"false"`
	NotifyOnExpiry bool          `envconfig:"SWEEP_NOTIFY_EXPIRY" default:"true"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Classifieds"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// IsLocal reports whether the process runs in local development mode.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// RequireAPI checks the settings the HTTP API needs beyond the base set.
func (c *Config) RequireAPI() error {
	return requireAll(map[string]bool{
		"JWT_SECRET": c.Auth.JWTSecret.IsEmpty(),
	})
}

// RequireBilling checks the settings order creation and the payment
// webhook need.
func (c *Config) RequireBilling() error {
	return requireAll(map[string]bool{
		"STRIPE_SECRET_KEY":     c.Billing.StripeSecretKey.IsEmpty(),
		"STRIPE_WEBHOOK_SECRET": c.Billing.StripeWebhookSecret.IsEmpty(),
		"CHECKOUT_SUCCESS_URL":  c.Billing.CheckoutSuccessURL == "",
		"CHECKOUT_CANCEL_URL":   c.Billing.CheckoutCancelURL == "",
	})
}

// RequirePush checks that at least one push provider is configured.
func (c *Config) RequirePush() error {
	if c.Push.WebPushURL == "" && c.Push.MobileRelayURL == "" {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: "at least one of WEB_PUSH_URL or MOBILE_RELAY_URL must be set",
		}
	}
	return nil
}

// requireAll returns a ConfigError naming every variable flagged missing.
func requireAll(missing map[string]bool) error {
	var names []string
	for name, isMissing := range missing {
		if isMissing {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return &ConfigError{
		Type:    ErrMissingEnv,
		Message: "missing required settings: " + strings.Join(names, ", "),
	}
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
