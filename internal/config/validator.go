package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers gateway-specific validation rules.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("postgres_url", validatePostgresURL); err != nil {
		return fmt.Errorf("failed to register postgres_url validator: %w", err)
	}
	return nil
}

// validatePostgresURL accepts postgres:// and postgresql:// connection URLs.
func validatePostgresURL(fl validator.FieldLevel) bool {
	url := fl.Field().String()
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

// Validate validates the Config using struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateTLSPair(); err != nil {
		return err
	}
	if err := c.validateDurations(); err != nil {
		return err
	}
	return nil
}

// validateTLSPair ensures cert and key are set together.
func (c *Config) validateTLSPair() error {
	hasCert := c.Server.TLSCertFile != ""
	hasKey := c.Server.TLSKeyFile != ""
	if hasCert != hasKey {
		return errors.New("server: tls_cert_file and tls_key_file must be set together")
	}
	return nil
}

// validateDurations parses every duration-valued field so a typo fails at
// startup rather than deep inside wiring.
func (c *Config) validateDurations() error {
	fields := map[string]string{
		"database.cleanup_interval":       c.Database.CleanupInterval,
		"subscription.positive_cache_ttl": c.Subscription.PositiveCacheTTL,
		"subscription.negative_cache_ttl": c.Subscription.NegativeCacheTTL,
		"rate_limit.cleanup_interval":     c.RateLimit.CleanupInterval,
		"rate_limit.idle_ttl":             c.RateLimit.IdleTTL,
		"upstream.timeout":                c.Upstream.Timeout,
		"bridge.timeout":                  c.Bridge.Timeout,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if !parsableDuration(value) {
			return fmt.Errorf("%s: invalid duration %q", name, value)
		}
	}
	return nil
}

func parsableDuration(value string) bool {
	if _, err := time.ParseDuration(value); err == nil {
		return true
	}
	secs, err := strconv.Atoi(value)
	return err == nil && secs > 0
}

// Duration returns a parsed duration field, falling back when empty or
// unparsable. Bare integers are read as seconds, for env conventions
// like SUBSCRIPTION_CACHE_TTL_SECONDS=300.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// formatValidationErrors converts validator.ValidationErrors to actionable messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "postgres_url":
		return fmt.Sprintf("%s must be a postgres:// connection URL", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
