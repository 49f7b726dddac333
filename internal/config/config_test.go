package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/tiaki/internal/authz"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Server.Listen != ":8700" {
		t.Errorf("Server.Listen = %q, want %q", cfg.Server.Listen, ":8700")
	}

	if cfg.Store.Root != "" {
		t.Errorf("Store.Root = %q, want empty", cfg.Store.Root)
	}
	if cfg.Store.Retention != 50 {
		t.Errorf("Store.Retention = %d, want 50", cfg.Store.Retention)
	}

	if cfg.Locks.TTLSeconds != 60 {
		t.Errorf("Locks.TTLSeconds = %d, want 60", cfg.Locks.TTLSeconds)
	}

	if cfg.Health.ProbeIntervalSeconds != 30 {
		t.Errorf("Health.ProbeIntervalSeconds = %d, want 30", cfg.Health.ProbeIntervalSeconds)
	}
	if cfg.Health.ProbeTimeoutSeconds != 5 {
		t.Errorf("Health.ProbeTimeoutSeconds = %d, want 5", cfg.Health.ProbeTimeoutSeconds)
	}
	if cfg.Health.ServiceTimeoutSeconds != 90 {
		t.Errorf("Health.ServiceTimeoutSeconds = %d, want 90", cfg.Health.ServiceTimeoutSeconds)
	}

	if cfg.Reaper.LockIntervalSeconds != 30 {
		t.Errorf("Reaper.LockIntervalSeconds = %d, want 30", cfg.Reaper.LockIntervalSeconds)
	}
	if cfg.Reaper.ServiceIntervalSeconds != 60 {
		t.Errorf("Reaper.ServiceIntervalSeconds = %d, want 60", cfg.Reaper.ServiceIntervalSeconds)
	}

	if !cfg.Journal.Enabled {
		t.Error("Journal.Enabled should be true by default")
	}
	if cfg.Journal.Path != "" {
		t.Errorf("Journal.Path = %q, want empty", cfg.Journal.Path)
	}

	if cfg.Auth.Enabled {
		t.Error("Auth.Enabled should be false by default")
	}
	if len(cfg.Auth.Tokens) != 0 {
		t.Errorf("Auth.Tokens should be empty, got %v", cfg.Auth.Tokens)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLocksConfig_TTL(t *testing.T) {
	tests := []struct {
		seconds  int
		expected time.Duration
	}{
		{60, 60 * time.Second},
		{1, 1 * time.Second},
		{3600, 1 * time.Hour},
		{0, 0},
	}

	for _, tt := range tests {
		cfg := LocksConfig{TTLSeconds: tt.seconds}
		result := cfg.TTL()
		if result != tt.expected {
			t.Errorf("TTL() with %ds = %v, want %v", tt.seconds, result, tt.expected)
		}
	}
}

func TestHealthConfig_Durations(t *testing.T) {
	cfg := HealthConfig{
		ProbeIntervalSeconds:  30,
		ProbeTimeoutSeconds:   5,
		ServiceTimeoutSeconds: 90,
	}

	if cfg.ProbeInterval() != 30*time.Second {
		t.Errorf("ProbeInterval() = %v, want 30s", cfg.ProbeInterval())
	}
	if cfg.ProbeTimeout() != 5*time.Second {
		t.Errorf("ProbeTimeout() = %v, want 5s", cfg.ProbeTimeout())
	}
	if cfg.ServiceTimeout() != 90*time.Second {
		t.Errorf("ServiceTimeout() = %v, want 90s", cfg.ServiceTimeout())
	}
}

func TestReaperConfig_Durations(t *testing.T) {
	cfg := ReaperConfig{
		LockIntervalSeconds:    30,
		ServiceIntervalSeconds: 60,
	}

	if cfg.LockInterval() != 30*time.Second {
		t.Errorf("LockInterval() = %v, want 30s", cfg.LockInterval())
	}
	if cfg.ServiceInterval() != 60*time.Second {
		t.Errorf("ServiceInterval() = %v, want 60s", cfg.ServiceInterval())
	}
}

func TestStoreConfig_ResolveRoot(t *testing.T) {
	t.Run("empty uses data dir", func(t *testing.T) {
		cfg := StoreConfig{Root: ""}
		if cfg.ResolveRoot() != DataDir() {
			t.Errorf("ResolveRoot() = %q, want %q", cfg.ResolveRoot(), DataDir())
		}
	})

	t.Run("explicit path unchanged", func(t *testing.T) {
		cfg := StoreConfig{Root: "/var/lib/tiaki"}
		if cfg.ResolveRoot() != "/var/lib/tiaki" {
			t.Errorf("ResolveRoot() = %q, want %q", cfg.ResolveRoot(), "/var/lib/tiaki")
		}
	})

	t.Run("tilde expands to home", func(t *testing.T) {
		home, err := os.UserHomeDir()
		if err != nil {
			t.Skipf("no home directory: %v", err)
		}
		cfg := StoreConfig{Root: "~/tiaki-data"}
		expected := filepath.Join(home, "tiaki-data")
		if cfg.ResolveRoot() != expected {
			t.Errorf("ResolveRoot() = %q, want %q", cfg.ResolveRoot(), expected)
		}
	})
}

func TestJournalConfig_ResolvePath(t *testing.T) {
	t.Run("empty defaults under store root", func(t *testing.T) {
		cfg := JournalConfig{Path: ""}
		expected := filepath.Join("/data/tiaki", "journal.db")
		if cfg.ResolvePath("/data/tiaki") != expected {
			t.Errorf("ResolvePath() = %q, want %q", cfg.ResolvePath("/data/tiaki"), expected)
		}
	})

	t.Run("explicit path unchanged", func(t *testing.T) {
		cfg := JournalConfig{Path: "/var/log/tiaki/journal.db"}
		if cfg.ResolvePath("/data/tiaki") != "/var/log/tiaki/journal.db" {
			t.Errorf("ResolvePath() = %q, want explicit path", cfg.ResolvePath("/data/tiaki"))
		}
	})
}

func TestAuthConfig_Identities(t *testing.T) {
	cfg := AuthConfig{
		Tokens: map[string]TokenConfig{
			"token-a": {
				Subject:     "agent-7",
				Role:        "agent",
				Permissions: []string{"coordination:read", "coordination:write"},
			},
			"token-b": {
				Subject:     "ops",
				Role:        "operator",
				Permissions: []string{"*"},
			},
		},
	}

	identities := cfg.Identities()
	if len(identities) != 2 {
		t.Fatalf("Identities() returned %d entries, want 2", len(identities))
	}

	agent, ok := identities["token-a"]
	if !ok {
		t.Fatal("Identities() missing token-a")
	}
	if agent.Subject != "agent-7" {
		t.Errorf("Subject = %q, want %q", agent.Subject, "agent-7")
	}
	if agent.Role != authz.RoleAgent {
		t.Errorf("Role = %q, want %q", agent.Role, authz.RoleAgent)
	}
	if !agent.Can(authz.PermCoordinationWrite) {
		t.Error("agent identity should hold coordination:write")
	}
	if agent.Can(authz.PermRegistryWrite) {
		t.Error("agent identity should not hold registry:write")
	}

	ops := identities["token-b"]
	if !ops.Can(authz.PermRegistryWrite) {
		t.Error("operator identity with * should hold registry:write")
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		original := os.Getenv("XDG_CONFIG_HOME")
		defer func() { _ = os.Setenv("XDG_CONFIG_HOME", original) }()

		_ = os.Setenv("XDG_CONFIG_HOME", "/custom/config")
		result := ConfigDir()
		expected := "/custom/config/tiaki"
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		original := os.Getenv("XDG_CONFIG_HOME")
		defer func() { _ = os.Setenv("XDG_CONFIG_HOME", original) }()

		_ = os.Setenv("XDG_CONFIG_HOME", "")
		result := ConfigDir()

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "tiaki")
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	original := os.Getenv("XDG_CONFIG_HOME")
	defer func() { _ = os.Setenv("XDG_CONFIG_HOME", original) }()

	_ = os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	result := ConfigFile()
	expected := "/custom/config/tiaki/config.yaml"
	if result != expected {
		t.Errorf("ConfigFile() = %q, want %q", result, expected)
	}
}

func TestDataDir(t *testing.T) {
	t.Run("with XDG_DATA_HOME", func(t *testing.T) {
		original := os.Getenv("XDG_DATA_HOME")
		defer func() { _ = os.Setenv("XDG_DATA_HOME", original) }()

		_ = os.Setenv("XDG_DATA_HOME", "/custom/data")
		result := DataDir()
		expected := "/custom/data/tiaki"
		if result != expected {
			t.Errorf("DataDir() = %q, want %q", result, expected)
		}
	})

	t.Run("without XDG_DATA_HOME", func(t *testing.T) {
		original := os.Getenv("XDG_DATA_HOME")
		defer func() { _ = os.Setenv("XDG_DATA_HOME", original) }()

		_ = os.Setenv("XDG_DATA_HOME", "")
		result := DataDir()

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".local", "share", "tiaki")
		if result != expected {
			t.Errorf("DataDir() = %q, want %q", result, expected)
		}
	})
}

// writeConfigFile marshals the given document to a YAML file and points
// the global viper at it.
func writeConfigFile(t *testing.T, doc map[string]any) {
	t.Helper()

	data, err := yaml.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal config fixture: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("read config fixture: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults only", func(t *testing.T) {
		viper.Reset()
		SetDefaults()

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if cfg.Server.Listen != ":8700" {
			t.Errorf("Server.Listen = %q, want default", cfg.Server.Listen)
		}
		if cfg.Locks.TTLSeconds != 60 {
			t.Errorf("Locks.TTLSeconds = %d, want default", cfg.Locks.TTLSeconds)
		}
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		viper.Reset()
		SetDefaults()
		writeConfigFile(t, map[string]any{
			"server": map[string]any{"listen": ":9100"},
			"locks":  map[string]any{"ttl_seconds": 120},
			"auth": map[string]any{
				"enabled": true,
				"tokens": map[string]any{
					"secret-1": map[string]any{
						"subject":     "agent-7",
						"role":        "agent",
						"permissions": []string{"coordination:read", "coordination:write"},
					},
				},
				"probe_token": "probe-secret",
			},
		})

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}

		if cfg.Server.Listen != ":9100" {
			t.Errorf("Server.Listen = %q, want %q", cfg.Server.Listen, ":9100")
		}
		if cfg.Locks.TTLSeconds != 120 {
			t.Errorf("Locks.TTLSeconds = %d, want 120", cfg.Locks.TTLSeconds)
		}
		// Sections absent from the file keep their defaults.
		if cfg.Health.ProbeIntervalSeconds != 30 {
			t.Errorf("Health.ProbeIntervalSeconds = %d, want default 30", cfg.Health.ProbeIntervalSeconds)
		}

		tc, ok := cfg.Auth.Tokens["secret-1"]
		if !ok {
			t.Fatal("Auth.Tokens missing secret-1")
		}
		if tc.Subject != "agent-7" || tc.Role != "agent" {
			t.Errorf("token = %+v, want agent-7/agent", tc)
		}
		if cfg.Auth.ProbeToken != "probe-secret" {
			t.Errorf("Auth.ProbeToken = %q, want %q", cfg.Auth.ProbeToken, "probe-secret")
		}
	})

	t.Run("env overrides file", func(t *testing.T) {
		viper.Reset()
		SetDefaults()
		BindEnv()

		original := os.Getenv("TIAKI_SERVER_LISTEN")
		defer func() { _ = os.Setenv("TIAKI_SERVER_LISTEN", original) }()
		_ = os.Setenv("TIAKI_SERVER_LISTEN", ":7001")

		writeConfigFile(t, map[string]any{
			"server": map[string]any{"listen": ":9100"},
		})

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if cfg.Server.Listen != ":7001" {
			t.Errorf("Server.Listen = %q, want env value :7001", cfg.Server.Listen)
		}
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		viper.Reset()
		SetDefaults()
		writeConfigFile(t, map[string]any{
			"logging": map[string]any{"level": "verbose"},
			"locks":   map[string]any{"ttl_seconds": 0},
		})

		_, err := Load()
		if err == nil {
			t.Fatal("Load() should reject invalid config")
		}
		errs, ok := err.(ValidationErrors)
		if !ok {
			t.Fatalf("Load() error type = %T, want ValidationErrors", err)
		}
		if len(errs) != 2 {
			t.Errorf("Load() returned %d validation errors, want 2: %v", len(errs), errs)
		}
	})
}
