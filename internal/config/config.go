// Package config defines the global configuration structure for the
// expiry-check job. Configuration is loaded once at process
// initialization (Lambda cold start or server boot) and is immutable
// thereafter. It follows 12-Factor App principles by strictly separating
// code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to
// fail immediately on startup (fail fast).
package config

import (
	"time"

	"fleetops/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the job. It is
// populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"fleetops-expiry-checker"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Email         EmailConfig
	Alerts        AlertsConfig
	Observability ObservabilityConfig
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// AdminAPIKey guards the manual job trigger endpoint.
	AdminAPIKey SecretString `envconfig:"ADMIN_API_KEY" validate:"required"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
}

// AWSConfig holds AWS regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig holds email delivery provider credentials and sender identity.
type EmailConfig struct {
	// Provider selects the delivery backend. "stub" logs instead of
	// sending and is intended for local development.
	Provider    string `envconfig:"EMAIL_PROVIDER" default:"ses" validate:"oneof=ses sendgrid stub"`
	FromAddress string `envconfig:"EMAIL_FROM_ADDRESS" default:"alerts@fleetops.example.com"`
	FromName    string `envconfig:"EMAIL_FROM_NAME" default:"FleetOps Alerts"`

	// SendGridAPIKey is only required when Provider is "sendgrid".
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY" validate:"required_if=Provider sendgrid"`
}

// AlertsConfig holds the expiry-check job tuning knobs.
type AlertsConfig struct {
	// LookaheadDays is the set of day windows scanned per run.
	LookaheadDays []int `envconfig:"ALERT_LOOKAHEAD_DAYS" default:"30,15,7" validate:"required,min=1,dive,min=1"`
	// EnableEmail is the kill switch for the dispatch stage. When off,
	// alerts are still created but no email is sent.
	EnableEmail bool `envconfig:"FEATURE_ENABLE_EMAIL" default:"true"`
	// LockTTL bounds how long a crashed run can hold the daily job lock.
	LockTTL time.Duration `envconfig:"JOB_LOCK_TTL" default:"15m"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"FleetOps"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
