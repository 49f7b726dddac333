package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "locks.ttl_seconds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidRoles returns the list of valid token roles
func ValidRoles() []string {
	return []string{"agent", "service", "operator"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateLocks()...)
	errors = append(errors, c.validateHealth()...)
	errors = append(errors, c.validateReaper()...)
	errors = append(errors, c.validateAuth()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateServer validates the ServerConfig
func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Server.Listen) == "" {
		errors = append(errors, ValidationError{
			Field:   "server.listen",
			Value:   c.Server.Listen,
			Message: "must not be empty",
		})
	}

	return errors
}

// validateStore validates the StoreConfig
func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if c.Store.Retention < 1 {
		errors = append(errors, ValidationError{
			Field:   "store.retention",
			Value:   c.Store.Retention,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateLocks validates the LocksConfig
func (c *Config) validateLocks() []ValidationError {
	var errors []ValidationError

	if c.Locks.TTLSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "locks.ttl_seconds",
			Value:   c.Locks.TTLSeconds,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateHealth validates the HealthConfig
func (c *Config) validateHealth() []ValidationError {
	var errors []ValidationError

	if c.Health.ProbeIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "health.probe_interval_seconds",
			Value:   c.Health.ProbeIntervalSeconds,
			Message: "must be at least 1",
		})
	}

	if c.Health.ProbeTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "health.probe_timeout_seconds",
			Value:   c.Health.ProbeTimeoutSeconds,
			Message: "must be at least 1",
		})
	}

	if c.Health.ServiceTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "health.service_timeout_seconds",
			Value:   c.Health.ServiceTimeoutSeconds,
			Message: "must be at least 1",
		})
	} else if c.Health.ServiceTimeoutSeconds < c.Health.ProbeIntervalSeconds {
		// A timeout shorter than the probe interval marks every
		// passively-checked service stale between heartbeats.
		errors = append(errors, ValidationError{
			Field:   "health.service_timeout_seconds",
			Value:   c.Health.ServiceTimeoutSeconds,
			Message: "must be at least health.probe_interval_seconds",
		})
	}

	return errors
}

// validateReaper validates the ReaperConfig
func (c *Config) validateReaper() []ValidationError {
	var errors []ValidationError

	if c.Reaper.LockIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "reaper.lock_interval_seconds",
			Value:   c.Reaper.LockIntervalSeconds,
			Message: "must be at least 1",
		})
	}

	if c.Reaper.ServiceIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "reaper.service_interval_seconds",
			Value:   c.Reaper.ServiceIntervalSeconds,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateAuth validates the AuthConfig
func (c *Config) validateAuth() []ValidationError {
	var errors []ValidationError

	if c.Auth.Enabled && len(c.Auth.Tokens) == 0 {
		errors = append(errors, ValidationError{
			Field:   "auth.tokens",
			Value:   len(c.Auth.Tokens),
			Message: "at least one token is required when auth is enabled",
		})
	}

	for _, tc := range c.Auth.Tokens {
		// Identify tokens by subject in error messages, never by the
		// token string itself.
		label := tc.Subject
		if label == "" {
			label = "(no subject)"
		}

		if tc.Subject == "" {
			errors = append(errors, ValidationError{
				Field:   "auth.tokens",
				Value:   label,
				Message: "token subject must not be empty",
			})
		}

		if !slices.Contains(ValidRoles(), tc.Role) {
			errors = append(errors, ValidationError{
				Field:   "auth.tokens",
				Value:   tc.Role,
				Message: fmt.Sprintf("token for %s must have a role of: %s", label, strings.Join(ValidRoles(), ", ")),
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
