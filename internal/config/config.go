package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dreamware/tiaki/internal/authz"
)

// Config represents the complete Tiaki configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Locks   LocksConfig   `mapstructure:"locks"`
	Health  HealthConfig  `mapstructure:"health"`
	Reaper  ReaperConfig  `mapstructure:"reaper"`
	Journal JournalConfig `mapstructure:"journal"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	// Listen is the address the API server binds to (default: ":8700")
	Listen string `mapstructure:"listen"`
}

// StoreConfig controls where coordination state lives on disk
type StoreConfig struct {
	// Root is the base directory for lock files and version history.
	// If empty, defaults to the user data directory (see DataDir).
	// Supports ~ for home directory expansion.
	Root string `mapstructure:"root"`
	// Retention is the number of versions kept per memory unit (default: 50)
	Retention int `mapstructure:"retention"`
}

// LocksConfig controls lock lease behavior
type LocksConfig struct {
	// TTLSeconds is the lock lease duration in seconds (default: 60).
	// A holder that neither updates nor releases within the TTL loses
	// the lock to reclamation.
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// HealthConfig controls service health probing
type HealthConfig struct {
	// ProbeIntervalSeconds is how often each registered service is probed (default: 30)
	ProbeIntervalSeconds int `mapstructure:"probe_interval_seconds"`
	// ProbeTimeoutSeconds is the per-probe HTTP timeout (default: 5)
	ProbeTimeoutSeconds int `mapstructure:"probe_timeout_seconds"`
	// ServiceTimeoutSeconds is how long a service may go without a
	// heartbeat before it is considered stale (default: 90)
	ServiceTimeoutSeconds int `mapstructure:"service_timeout_seconds"`
}

// ReaperConfig controls the background staleness sweeps
type ReaperConfig struct {
	// LockIntervalSeconds is how often expired locks are swept (default: 30)
	LockIntervalSeconds int `mapstructure:"lock_interval_seconds"`
	// ServiceIntervalSeconds is how often stale services are swept (default: 60)
	ServiceIntervalSeconds int `mapstructure:"service_interval_seconds"`
}

// JournalConfig controls the durable event journal
type JournalConfig struct {
	// Enabled controls whether coordination events are journaled to
	// SQLite (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Path is the journal database file. If empty, defaults to
	// journal.db under the store root.
	Path string `mapstructure:"path"`
}

// AuthConfig controls API authentication
type AuthConfig struct {
	// Enabled controls whether mutating API calls require a bearer
	// token (default: false)
	Enabled bool `mapstructure:"enabled"`
	// Tokens maps bearer token strings to the identity they grant
	Tokens map[string]TokenConfig `mapstructure:"tokens"`
	// ProbeToken is attached to health probes of services registered
	// with authenticated checks. Empty means probes go unauthenticated.
	ProbeToken string `mapstructure:"probe_token"`
}

// TokenConfig describes the identity a bearer token resolves to
type TokenConfig struct {
	// Subject is the stable caller identifier
	Subject string `mapstructure:"subject"`
	// Role is the capability class: "agent", "service", or "operator"
	Role string `mapstructure:"role"`
	// Permissions are the granted permission strings; "*" grants all
	Permissions []string `mapstructure:"permissions"`
}

// LoggingConfig controls structured log output
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: ":8700",
		},
		Store: StoreConfig{
			Root:      "", // Empty means use DataDir()
			Retention: 50,
		},
		Locks: LocksConfig{
			TTLSeconds: 60,
		},
		Health: HealthConfig{
			ProbeIntervalSeconds:  30,
			ProbeTimeoutSeconds:   5,
			ServiceTimeoutSeconds: 90,
		},
		Reaper: ReaperConfig{
			LockIntervalSeconds:    30,
			ServiceIntervalSeconds: 60,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "", // Empty means journal.db under the store root
		},
		Auth: AuthConfig{
			Enabled:    false,
			Tokens:     map[string]TokenConfig{},
			ProbeToken: "",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// TTL returns the lock lease duration as a time.Duration
func (c *LocksConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ProbeInterval returns the probe interval as a time.Duration
func (c *HealthConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-probe timeout as a time.Duration
func (c *HealthConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// ServiceTimeout returns the heartbeat staleness threshold as a time.Duration
func (c *HealthConfig) ServiceTimeout() time.Duration {
	return time.Duration(c.ServiceTimeoutSeconds) * time.Second
}

// LockInterval returns the lock sweep cadence as a time.Duration
func (c *ReaperConfig) LockInterval() time.Duration {
	return time.Duration(c.LockIntervalSeconds) * time.Second
}

// ServiceInterval returns the service sweep cadence as a time.Duration
func (c *ReaperConfig) ServiceInterval() time.Duration {
	return time.Duration(c.ServiceIntervalSeconds) * time.Second
}

// ResolveRoot returns the resolved store root directory.
// If Root is empty, it returns the user data directory.
// If Root starts with ~, it expands to the user's home directory.
func (c *StoreConfig) ResolveRoot() string {
	if c.Root == "" {
		return DataDir()
	}

	path := c.Root
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}
	return path
}

// ResolvePath returns the journal database file, defaulting to
// journal.db under the given store root when Path is empty.
func (c *JournalConfig) ResolvePath(storeRoot string) string {
	if c.Path == "" {
		return filepath.Join(storeRoot, "journal.db")
	}
	return c.Path
}

// Identities converts the configured token table into the form the
// auth layer consumes.
func (c *AuthConfig) Identities() map[string]authz.Identity {
	identities := make(map[string]authz.Identity, len(c.Tokens))
	for token, tc := range c.Tokens {
		identities[token] = authz.Identity{
			Subject:     tc.Subject,
			Role:        authz.Role(tc.Role),
			Permissions: tc.Permissions,
		}
	}
	return identities
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Server defaults
	viper.SetDefault("server.listen", defaults.Server.Listen)

	// Store defaults
	viper.SetDefault("store.root", defaults.Store.Root)
	viper.SetDefault("store.retention", defaults.Store.Retention)

	// Locks defaults
	viper.SetDefault("locks.ttl_seconds", defaults.Locks.TTLSeconds)

	// Health defaults
	viper.SetDefault("health.probe_interval_seconds", defaults.Health.ProbeIntervalSeconds)
	viper.SetDefault("health.probe_timeout_seconds", defaults.Health.ProbeTimeoutSeconds)
	viper.SetDefault("health.service_timeout_seconds", defaults.Health.ServiceTimeoutSeconds)

	// Reaper defaults
	viper.SetDefault("reaper.lock_interval_seconds", defaults.Reaper.LockIntervalSeconds)
	viper.SetDefault("reaper.service_interval_seconds", defaults.Reaper.ServiceIntervalSeconds)

	// Journal defaults
	viper.SetDefault("journal.enabled", defaults.Journal.Enabled)
	viper.SetDefault("journal.path", defaults.Journal.Path)

	// Auth defaults
	viper.SetDefault("auth.enabled", defaults.Auth.Enabled)
	viper.SetDefault("auth.tokens", defaults.Auth.Tokens)
	viper.SetDefault("auth.probe_token", defaults.Auth.ProbeToken)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
}

// BindEnv configures viper to read TIAKI_* environment variables, with
// dots in config keys mapped to underscores (e.g. TIAKI_SERVER_LISTEN
// overrides server.listen)
func BindEnv() {
	viper.SetEnvPrefix("TIAKI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tiaki")
	}
	// Fall back to ~/.config/tiaki
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tiaki"
	}
	return filepath.Join(home, ".config", "tiaki")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the path to the user's data directory, where the
// store root lives when store.root is not configured
func DataDir() string {
	// Check XDG_DATA_HOME first
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "tiaki")
	}
	// Fall back to ~/.local/share/tiaki
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tiaki"
	}
	return filepath.Join(home, ".local", "share", "tiaki")
}
