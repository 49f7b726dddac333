package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "locks.ttl_seconds",
		Value:   0,
		Message: "must be at least 1",
	}

	expected := "locks.ttl_seconds: must be at least 1 (got: 0)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "server.listen", Value: "", Message: "must not be empty"},
		}
		expected := "server.listen: must not be empty (got: )"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

// hasFieldError reports whether errs contains an error for the given field
func hasFieldError(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_Validate_Server(t *testing.T) {
	tests := []struct {
		name     string
		listen   string
		hasError bool
	}{
		{"default address", ":8700", false},
		{"host and port", "127.0.0.1:8700", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Server.Listen = tt.listen
			errs := cfg.Validate()

			if hasFieldError(errs, "server.listen") != tt.hasError {
				t.Errorf("Validate() with listen=%q: error presence = %v, want %v", tt.listen, !tt.hasError, tt.hasError)
			}
		})
	}
}

func TestConfig_Validate_Store(t *testing.T) {
	tests := []struct {
		name      string
		retention int
		hasError  bool
	}{
		{"default", 50, false},
		{"minimum", 1, false},
		{"zero", 0, true},
		{"negative", -5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Store.Retention = tt.retention
			errs := cfg.Validate()

			if hasFieldError(errs, "store.retention") != tt.hasError {
				t.Errorf("Validate() with retention=%d: error presence = %v, want %v", tt.retention, !tt.hasError, tt.hasError)
			}
		})
	}
}

func TestConfig_Validate_Locks(t *testing.T) {
	tests := []struct {
		name     string
		ttl      int
		hasError bool
	}{
		{"default", 60, false},
		{"minimum", 1, false},
		{"zero", 0, true},
		{"negative", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Locks.TTLSeconds = tt.ttl
			errs := cfg.Validate()

			if hasFieldError(errs, "locks.ttl_seconds") != tt.hasError {
				t.Errorf("Validate() with ttl=%d: error presence = %v, want %v", tt.ttl, !tt.hasError, tt.hasError)
			}
		})
	}
}

func TestConfig_Validate_Health(t *testing.T) {
	t.Run("zero probe interval", func(t *testing.T) {
		cfg := Default()
		cfg.Health.ProbeIntervalSeconds = 0
		errs := cfg.Validate()
		if !hasFieldError(errs, "health.probe_interval_seconds") {
			t.Error("Validate() should reject zero probe interval")
		}
	})

	t.Run("zero probe timeout", func(t *testing.T) {
		cfg := Default()
		cfg.Health.ProbeTimeoutSeconds = 0
		errs := cfg.Validate()
		if !hasFieldError(errs, "health.probe_timeout_seconds") {
			t.Error("Validate() should reject zero probe timeout")
		}
	})

	t.Run("zero service timeout", func(t *testing.T) {
		cfg := Default()
		cfg.Health.ServiceTimeoutSeconds = 0
		errs := cfg.Validate()
		if !hasFieldError(errs, "health.service_timeout_seconds") {
			t.Error("Validate() should reject zero service timeout")
		}
	})

	t.Run("service timeout below probe interval", func(t *testing.T) {
		cfg := Default()
		cfg.Health.ProbeIntervalSeconds = 60
		cfg.Health.ServiceTimeoutSeconds = 30
		errs := cfg.Validate()
		if !hasFieldError(errs, "health.service_timeout_seconds") {
			t.Error("Validate() should reject service timeout shorter than probe interval")
		}
	})

	t.Run("service timeout equal to probe interval", func(t *testing.T) {
		cfg := Default()
		cfg.Health.ProbeIntervalSeconds = 60
		cfg.Health.ServiceTimeoutSeconds = 60
		errs := cfg.Validate()
		if hasFieldError(errs, "health.service_timeout_seconds") {
			t.Error("Validate() should accept service timeout equal to probe interval")
		}
	})
}

func TestConfig_Validate_Reaper(t *testing.T) {
	t.Run("zero lock interval", func(t *testing.T) {
		cfg := Default()
		cfg.Reaper.LockIntervalSeconds = 0
		errs := cfg.Validate()
		if !hasFieldError(errs, "reaper.lock_interval_seconds") {
			t.Error("Validate() should reject zero lock interval")
		}
	})

	t.Run("zero service interval", func(t *testing.T) {
		cfg := Default()
		cfg.Reaper.ServiceIntervalSeconds = 0
		errs := cfg.Validate()
		if !hasFieldError(errs, "reaper.service_interval_seconds") {
			t.Error("Validate() should reject zero service interval")
		}
	})
}

func TestConfig_Validate_Auth(t *testing.T) {
	t.Run("enabled without tokens", func(t *testing.T) {
		cfg := Default()
		cfg.Auth.Enabled = true
		errs := cfg.Validate()
		if !hasFieldError(errs, "auth.tokens") {
			t.Error("Validate() should require tokens when auth is enabled")
		}
	})

	t.Run("enabled with valid token", func(t *testing.T) {
		cfg := Default()
		cfg.Auth.Enabled = true
		cfg.Auth.Tokens = map[string]TokenConfig{
			"secret": {Subject: "agent-7", Role: "agent", Permissions: []string{"*"}},
		}
		errs := cfg.Validate()
		if len(errs) != 0 {
			t.Errorf("Validate() = %v, want no errors", errs)
		}
	})

	t.Run("token without subject", func(t *testing.T) {
		cfg := Default()
		cfg.Auth.Tokens = map[string]TokenConfig{
			"secret": {Subject: "", Role: "agent"},
		}
		errs := cfg.Validate()
		if !hasFieldError(errs, "auth.tokens") {
			t.Error("Validate() should reject token without subject")
		}
	})

	t.Run("token with invalid role", func(t *testing.T) {
		cfg := Default()
		cfg.Auth.Tokens = map[string]TokenConfig{
			"secret": {Subject: "ops", Role: "admin"},
		}
		errs := cfg.Validate()
		if !hasFieldError(errs, "auth.tokens") {
			t.Error("Validate() should reject unknown role")
		}
	})

	t.Run("disabled tokens still validated", func(t *testing.T) {
		cfg := Default()
		cfg.Auth.Enabled = false
		cfg.Auth.Tokens = map[string]TokenConfig{
			"secret": {Subject: "ops", Role: "admin"},
		}
		errs := cfg.Validate()
		if !hasFieldError(errs, "auth.tokens") {
			t.Error("Validate() should check tokens even when auth is disabled")
		}
	})
}

func TestConfig_Validate_Logging(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		hasError bool
	}{
		{"debug", "debug", false},
		{"info", "info", false},
		{"warn", "warn", false},
		{"error", "error", false},
		{"unknown level", "verbose", true},
		{"empty", "", true},
		{"case sensitive", "INFO", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Logging.Level = tt.level
			errs := cfg.Validate()

			if hasFieldError(errs, "logging.level") != tt.hasError {
				t.Errorf("Validate() with level=%q: error presence = %v, want %v", tt.level, !tt.hasError, tt.hasError)
			}
		})
	}
}

func TestValidLogLevels(t *testing.T) {
	levels := ValidLogLevels()
	expected := []string{"debug", "info", "warn", "error"}
	if len(levels) != len(expected) {
		t.Fatalf("ValidLogLevels() length = %d, want %d", len(levels), len(expected))
	}
	for i, level := range expected {
		if levels[i] != level {
			t.Errorf("ValidLogLevels()[%d] = %q, want %q", i, levels[i], level)
		}
	}
}

func TestValidRoles(t *testing.T) {
	roles := ValidRoles()
	expected := []string{"agent", "service", "operator"}
	if len(roles) != len(expected) {
		t.Fatalf("ValidRoles() length = %d, want %d", len(roles), len(expected))
	}
	for i, role := range expected {
		if roles[i] != role {
			t.Errorf("ValidRoles()[%d] = %q, want %q", i, roles[i], role)
		}
	}
}
