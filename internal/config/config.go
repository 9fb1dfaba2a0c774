// Package config provides application configuration loading from environment variables and .env files.
// It uses viper for flexible configuration management with sensible defaults.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Split client backends.
const (
	ModeLocalhost = "localhost"
	ModeSDK       = "sdk"
)

const defaultTrackAPIKey = "track-123"

// Config holds all application configuration loaded from environment variables or .env file.
// Configuration priority: environment variables > .env file > defaults.
type Config struct {
	AppEnv              string        // Application environment (dev, staging, prod)
	HTTPAddr            string        // HTTP server bind address (e.g., ":8080")
	MetricsAddr         string        // Metrics server bind address
	SplitMode           string        // Split backend: localhost or sdk
	SplitAPIKey         string        // Split SDK key (sdk mode)
	LocalhostFile       string        // YAML treatments file (localhost mode)
	LocalhostWatch      bool          // Reload the localhost file on change
	ReadyTimeout        time.Duration // How long to wait for the Split client to become ready
	TrafficType         string        // Initial traffic type for tracking
	RequireTargetingKey bool          // Reject evaluations without a targeting key
	TrackAPIKeys        []string      // Accepted bearer keys for /v1/track; plain text or bcrypt hashes
	LogLevel            string        // zerolog level
	LogFormat           string        // json or console
	RateLimitPerIP      int           // Requests per minute per IP, 0 disables
	OTLPEndpoint        string        // OTLP/HTTP trace endpoint, empty disables tracing
	WebhookURLs         []string      // Endpoints receiving provider events, empty disables webhooks
	WebhookSecret       string        // HMAC secret signing webhook payloads
	WebhookMaxRetries   int           // Retries per webhook delivery
	WebhookEvents       []string      // Provider event types to forward, empty forwards all
}

// Load reads configuration from environment variables and .env file (if present).
// Environment variables take precedence over .env file values.
// Returns a Config struct with all values populated (either from env or defaults).
//
// Load does not check cross-field constraints; call Validate for that.
func Load() (*Config, error) {
	viperInstance := viper.New()
	viperInstance.SetConfigFile(".env") // Optional; silently ignored if file doesn't exist
	_ = viperInstance.ReadInConfig()    // Ignore error - .env is optional
	viperInstance.AutomaticEnv()        // Read from environment variables

	setConfigDefaults(viperInstance)

	return &Config{
		AppEnv:              viperInstance.GetString("APP_ENV"),
		HTTPAddr:            viperInstance.GetString("APP_HTTP_ADDR"),
		MetricsAddr:         viperInstance.GetString("METRICS_ADDR"),
		SplitMode:           strings.ToLower(viperInstance.GetString("SPLIT_MODE")),
		SplitAPIKey:         viperInstance.GetString("SPLIT_API_KEY"),
		LocalhostFile:       viperInstance.GetString("SPLIT_LOCALHOST_FILE"),
		LocalhostWatch:      viperInstance.GetBool("SPLIT_LOCALHOST_WATCH"),
		ReadyTimeout:        viperInstance.GetDuration("SPLIT_READY_TIMEOUT"),
		TrafficType:         viperInstance.GetString("TRAFFIC_TYPE"),
		RequireTargetingKey: viperInstance.GetBool("REQUIRE_TARGETING_KEY"),
		TrackAPIKeys:        splitList(viperInstance.GetString("TRACK_API_KEY")),
		LogLevel:            viperInstance.GetString("LOG_LEVEL"),
		LogFormat:           strings.ToLower(viperInstance.GetString("LOG_FORMAT")),
		RateLimitPerIP:      viperInstance.GetInt("RATE_LIMIT_PER_IP"),
		OTLPEndpoint:        viperInstance.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		WebhookURLs:         splitList(viperInstance.GetString("WEBHOOK_URLS")),
		WebhookSecret:       viperInstance.GetString("WEBHOOK_SECRET"),
		WebhookMaxRetries:   viperInstance.GetInt("WEBHOOK_MAX_RETRIES"),
		WebhookEvents:       splitList(strings.ToUpper(viperInstance.GetString("WEBHOOK_EVENTS"))),
	}, nil
}

// setConfigDefaults sets default values for all configuration options.
// These defaults are suitable for local development but should be overridden in production.
func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("APP_HTTP_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("SPLIT_MODE", ModeLocalhost)
	v.SetDefault("SPLIT_LOCALHOST_FILE", "split.yaml")
	v.SetDefault("SPLIT_LOCALHOST_WATCH", true)
	v.SetDefault("SPLIT_READY_TIMEOUT", "10s")
	v.SetDefault("TRAFFIC_TYPE", "user")
	v.SetDefault("REQUIRE_TARGETING_KEY", true)
	v.SetDefault("TRACK_API_KEY", defaultTrackAPIKey) // Change in production!
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("RATE_LIMIT_PER_IP", 600)
	v.SetDefault("WEBHOOK_MAX_RETRIES", 3)
}

// splitList splits a comma separated value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ValidationError represents a configuration validation error with details about what failed.
type ValidationError struct {
	Field   string // Name of the configuration field
	Message string // Human-readable error message
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed [%s]: %s", e.Field, e.Message)
}

// Validate checks that the configuration is usable.
//
// Validation Rules:
//  1. SplitMode must be one of: "localhost", "sdk"
//  2. sdk mode needs SPLIT_API_KEY, localhost mode needs SPLIT_LOCALHOST_FILE
//  3. HTTPAddr and MetricsAddr must be non-empty
//  4. ReadyTimeout must be positive
//  5. TrafficType must be non-empty
//  6. LogFormat must be "json" or "console"
//  7. RateLimitPerIP must not be negative
//  8. WebhookURLs must be absolute http(s) URLs, WebhookMaxRetries must not be negative
//
// In production (AppEnv "prod" or "production") the default track key is rejected.
//
// Returns nil if configuration is valid, otherwise a ValidationError describing
// the first failure.
func (c *Config) Validate() error {
	// 1. Validate backend
	if c.SplitMode != ModeLocalhost && c.SplitMode != ModeSDK {
		return ValidationError{
			Field:   "SPLIT_MODE",
			Message: fmt.Sprintf("must be '%s' or '%s', got '%s'", ModeLocalhost, ModeSDK, c.SplitMode),
		}
	}

	// 2. Backend specific settings
	if c.SplitMode == ModeSDK && c.SplitAPIKey == "" {
		return ValidationError{
			Field:   "SPLIT_API_KEY",
			Message: "Split SDK key is required when SPLIT_MODE=sdk",
		}
	}
	if c.SplitMode == ModeLocalhost && c.LocalhostFile == "" {
		return ValidationError{
			Field:   "SPLIT_LOCALHOST_FILE",
			Message: "treatments file is required when SPLIT_MODE=localhost",
		}
	}

	// 3. Listen addresses
	if c.HTTPAddr == "" {
		return ValidationError{
			Field:   "APP_HTTP_ADDR",
			Message: "HTTP server address cannot be empty",
		}
	}
	if c.MetricsAddr == "" {
		return ValidationError{
			Field:   "METRICS_ADDR",
			Message: "metrics server address cannot be empty",
		}
	}

	// 4. Ready timeout
	if c.ReadyTimeout <= 0 {
		return ValidationError{
			Field:   "SPLIT_READY_TIMEOUT",
			Message: fmt.Sprintf("must be a positive duration, got '%s'", c.ReadyTimeout),
		}
	}

	// 5. Traffic type
	if c.TrafficType == "" {
		return ValidationError{
			Field:   "TRAFFIC_TYPE",
			Message: "traffic type cannot be empty",
		}
	}

	// 6. Log format
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return ValidationError{
			Field:   "LOG_FORMAT",
			Message: fmt.Sprintf("must be 'json' or 'console', got '%s'", c.LogFormat),
		}
	}

	// 7. Rate limit
	if c.RateLimitPerIP < 0 {
		return ValidationError{
			Field:   "RATE_LIMIT_PER_IP",
			Message: "rate limit cannot be negative",
		}
	}

	// 8. Webhooks
	for _, u := range c.WebhookURLs {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return ValidationError{
				Field:   "WEBHOOK_URLS",
				Message: fmt.Sprintf("must be absolute http(s) URLs, got '%s'", u),
			}
		}
	}
	if c.WebhookMaxRetries < 0 {
		return ValidationError{
			Field:   "WEBHOOK_MAX_RETRIES",
			Message: "webhook retries cannot be negative",
		}
	}

	if c.AppEnv == "prod" || c.AppEnv == "production" {
		if len(c.WebhookURLs) > 0 && c.WebhookSecret == "" {
			return ValidationError{
				Field:   "WEBHOOK_SECRET",
				Message: "webhook secret is required in production",
			}
		}
		for _, k := range c.TrackAPIKeys {
			if k == defaultTrackAPIKey {
				return ValidationError{
					Field:   "TRACK_API_KEY",
					Message: fmt.Sprintf("default track API key '%s' is not allowed in production", defaultTrackAPIKey),
				}
			}
		}
	}

	return nil
}
