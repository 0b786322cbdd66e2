// Package config provides configuration parsing and validation for the
// ZRC pairing and session control plane.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete process configuration.
type Config struct {
	Identity   IdentityConfig   `yaml:"identity"`
	Role       Role             `yaml:"role"`
	Policy     PolicyConfig     `yaml:"policy"`
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
	Store      StoreConfig      `yaml:"store"`
	Replay     ReplayConfig     `yaml:"replay"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// Role identifies which of the two ZRC principal roles this process
// runs as.
type Role string

const (
	RoleDevice   Role = "device"
	RoleOperator Role = "operator"
)

// IdentityConfig locates the long-term identity keypair on disk.
type IdentityConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ConsentMode selects how the policy engine treats inbound pairing and
// session requests.
type ConsentMode string

const (
	// ConsentAlwaysRequire prompts for interactive approval on every
	// pairing and session request, regardless of trust level.
	ConsentAlwaysRequire ConsentMode = "always_require"
	// ConsentUnattendedAllowed permits sessions without a consent
	// prompt from paired operators whose pairing record enables
	// unattended access and does not require consent each time.
	ConsentUnattendedAllowed ConsentMode = "unattended_allowed"
	// ConsentTrustedOnly only auto-approves operators explicitly
	// marked trusted in their pairing record.
	ConsentTrustedOnly ConsentMode = "trusted_only"
)

// ScheduleConfig restricts when sessions may be auto-approved.
type ScheduleConfig struct {
	AllowedDays  []string `yaml:"allowed_days"`
	AllowedHours []string `yaml:"allowed_hours"`
}

// PolicyConfig configures the pure policy-evaluation function.
type PolicyConfig struct {
	ConsentMode           ConsentMode    `yaml:"consent_mode"`
	SessionTTL            time.Duration  `yaml:"session_ttl"`
	ConsentTimeout        time.Duration  `yaml:"consent_timeout"`
	MaxConcurrentSessions int            `yaml:"max_concurrent_sessions"`
	MaxConcurrentInvites  int            `yaml:"max_concurrent_invites"`
	Schedule              ScheduleConfig `yaml:"schedule"`
}

// RateLimitRule configures a single named operation's quota.
type RateLimitRule struct {
	PerMinute int `yaml:"per_minute"`
}

// RateLimitsConfig configures the per-operation token-bucket quotas
// consumed by internal/ratelimit.
type RateLimitsConfig struct {
	Authentication  RateLimitRule `yaml:"authentication"`
	PairingRequest  RateLimitRule `yaml:"pairing_request"`
	SessionRequest  RateLimitRule `yaml:"session_request"`
}

// StoreBackend selects the persistence implementation for pairing
// records, invites, and session tickets. Audit entries are not
// persisted by either backend.
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendSQLite StoreBackend = "sqlite"
)

// StoreConfig configures internal/store.
type StoreConfig struct {
	Backend    StoreBackend `yaml:"backend"`
	SQLitePath string       `yaml:"sqlite_path"`
}

// ReplayConfig holds the replay.window setting. It is validated but not
// read elsewhere: internal/session's ReplayFilter always uses its fixed
// ReplayWindow of 1024 counters.
type ReplayConfig struct {
	Window int `yaml:"window"`
}

// LoggingConfig configures the slog-based structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus metrics HTTP listener.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Defaults returns a Config populated with the values from the
// configuration surface's documented defaults.
func Defaults() *Config {
	return &Config{
		Identity: IdentityConfig{DataDir: "./data"},
		Role:     RoleDevice,
		Policy: PolicyConfig{
			ConsentMode:           ConsentAlwaysRequire,
			SessionTTL:            time.Hour,
			ConsentTimeout:        60 * time.Second,
			MaxConcurrentSessions: 4,
			MaxConcurrentInvites:  3,
			Schedule: ScheduleConfig{
				AllowedDays:  []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"},
				AllowedHours: []string{"00:00-23:59"},
			},
		},
		RateLimits: RateLimitsConfig{
			Authentication: RateLimitRule{PerMinute: 5},
			PairingRequest: RateLimitRule{PerMinute: 3},
			SessionRequest: RateLimitRule{PerMinute: 10},
		},
		Store: StoreConfig{
			Backend:    StoreBackendMemory,
			SQLitePath: "./data/zrc.db",
		},
		Replay: ReplayConfig{Window: 1024},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{ListenAddr: ""},
	}
}

// Load reads and validates configuration from path, applying defaults
// for any field left unset in the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

var validDays = map[string]bool{
	"mon": true, "tue": true, "wed": true, "thu": true,
	"fri": true, "sat": true, "sun": true,
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Identity.DataDir == "" {
		return fmt.Errorf("identity.data_dir must not be empty")
	}

	switch c.Role {
	case RoleDevice, RoleOperator:
	default:
		return fmt.Errorf("role must be %q or %q, got %q", RoleDevice, RoleOperator, c.Role)
	}

	switch c.Policy.ConsentMode {
	case ConsentAlwaysRequire, ConsentUnattendedAllowed, ConsentTrustedOnly:
	default:
		return fmt.Errorf("policy.consent_mode: unrecognized value %q", c.Policy.ConsentMode)
	}
	if c.Policy.SessionTTL <= 0 {
		return fmt.Errorf("policy.session_ttl must be positive")
	}
	if c.Policy.ConsentTimeout <= 0 {
		return fmt.Errorf("policy.consent_timeout must be positive")
	}
	if c.Policy.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("policy.max_concurrent_sessions must be positive")
	}
	if c.Policy.MaxConcurrentInvites <= 0 {
		return fmt.Errorf("policy.max_concurrent_invites must be positive")
	}
	for _, d := range c.Policy.Schedule.AllowedDays {
		if !validDays[strings.ToLower(d)] {
			return fmt.Errorf("policy.schedule.allowed_days: unrecognized day %q", d)
		}
	}

	for name, rule := range map[string]RateLimitRule{
		"authentication":  c.RateLimits.Authentication,
		"pairing_request": c.RateLimits.PairingRequest,
		"session_request": c.RateLimits.SessionRequest,
	} {
		if rule.PerMinute <= 0 {
			return fmt.Errorf("rate_limits.%s.per_minute must be positive", name)
		}
	}

	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must be set when store.backend is %q", StoreBackendSQLite)
		}
	default:
		return fmt.Errorf("store.backend: unrecognized value %q", c.Store.Backend)
	}

	if c.Replay.Window <= 0 {
		return fmt.Errorf("replay.window must be positive")
	}

	return nil
}
