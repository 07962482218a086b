package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"visitmaster/kiosk/config"
)

// Config mode values. Development mode probes the LAN candidate list;
// production mode pins the configured production URL.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// KioskConfig represents the kiosk configuration
type KioskConfig struct {
	Mode      string                `toml:"mode"`
	KioskID   string                `toml:"kiosk_id"` // Stable UUID (auto-generated, do not edit)
	API       APIConfig             `toml:"api"`
	Auth      AuthConfig            `toml:"auth"`
	Sync      SyncConfig            `toml:"sync"`
	Discovery DiscoveryConfig       `toml:"discovery"`
	Events    EventsConfig          `toml:"events"`
	Database  config.DatabaseConfig `toml:"database"`
	Logging   config.LoggingConfig  `toml:"logging"`
}

// APIConfig holds backend connection settings
type APIConfig struct {
	ProductionURL    string   `toml:"production_url"`
	PrimaryURL       string   `toml:"primary_url"`
	ExtraCandidates  []string `toml:"extra_candidates"`
	ProbePath        string   `toml:"probe_path"`
	TimeoutSeconds   int      `toml:"timeout_seconds"`
	MaxAttempts      int      `toml:"max_attempts"`
	InitialBackoffMs int      `toml:"initial_backoff_ms"`
}

// AuthConfig holds admin login settings
type AuthConfig struct {
	Username           string `toml:"username"`
	Password           string `toml:"password"`
	TokenValidityHours int    `toml:"token_validity_hours"`
	IdleTimeoutMinutes int    `toml:"idle_timeout_minutes"`
}

// SyncConfig holds background sync worker settings
type SyncConfig struct {
	IntervalSeconds  int `toml:"interval_seconds"`
	QueueMaxAttempts int `toml:"queue_max_attempts"`
}

// DiscoveryConfig holds LAN discovery settings
type DiscoveryConfig struct {
	MDNSEnabled bool `toml:"mdns_enabled"`
}

// EventsConfig holds the WebSocket event stream settings
type EventsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultKioskConfig returns kiosk configuration with sensible defaults
func DefaultKioskConfig() *KioskConfig {
	return &KioskConfig{
		Mode:    ModeDevelopment,
		KioskID: "", // Will be auto-generated on first run
		API: APIConfig{
			ProductionURL:    "",
			PrimaryURL:       "http://192.168.1.38:8000/api",
			ExtraCandidates:  nil,
			ProbePath:        "/visitors/active/",
			TimeoutSeconds:   15,
			MaxAttempts:      3,
			InitialBackoffMs: 1000,
		},
		Auth: AuthConfig{
			Username:           "admin",
			Password:           "admin123",
			TokenValidityHours: 24,
			IdleTimeoutMinutes: 30,
		},
		Sync: SyncConfig{
			IntervalSeconds:  60,
			QueueMaxAttempts: 10,
		},
		Discovery: DiscoveryConfig{
			MDNSEnabled: false,
		},
		Events: EventsConfig{
			Enabled: false,
		},
		Database: config.DatabaseConfig{
			Path: "", // Will use default platform-specific path
		},
		Logging: config.LoggingConfig{
			Level: "info",
		},
	}
}

// LoadKioskConfig loads configuration from a TOML file with environment
// variable overrides. Returns an error if the config file does not exist or
// cannot be parsed.
func LoadKioskConfig(configPath string) (*KioskConfig, error) {
	cfg := DefaultKioskConfig()

	if _, err := os.Stat(configPath); err != nil {
		return nil, err
	}
	if err := config.LoadTOML(configPath, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	cfg.Mode = normalizeMode(cfg.Mode)
	if cfg.KioskID == "" {
		cfg.KioskID = uuid.NewString()
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *KioskConfig) {
	if val := os.Getenv("KIOSK_MODE"); val != "" {
		cfg.Mode = val
	}
	if val := os.Getenv("KIOSK_ID"); val != "" {
		cfg.KioskID = val
	}
	if val := os.Getenv("API_PRODUCTION_URL"); val != "" {
		cfg.API.ProductionURL = val
		// A production URL from the environment implies production mode
		// (container deployment scenario).
		if os.Getenv("KIOSK_MODE") == "" {
			cfg.Mode = ModeProduction
		}
	}
	if val := os.Getenv("API_PRIMARY_URL"); val != "" {
		cfg.API.PrimaryURL = val
	}
	if val := os.Getenv("API_TIMEOUT_SECONDS"); val != "" {
		if timeout, err := strconv.Atoi(val); err == nil {
			cfg.API.TimeoutSeconds = timeout
		}
	}
	if val := os.Getenv("API_MAX_ATTEMPTS"); val != "" {
		if attempts, err := strconv.Atoi(val); err == nil {
			cfg.API.MaxAttempts = attempts
		}
	}
	if val := os.Getenv("ADMIN_USERNAME"); val != "" {
		cfg.Auth.Username = val
	}
	if val := os.Getenv("ADMIN_PASSWORD"); val != "" {
		cfg.Auth.Password = val
	}
	if val := os.Getenv("SYNC_INTERVAL_SECONDS"); val != "" {
		if interval, err := strconv.Atoi(val); err == nil {
			cfg.Sync.IntervalSeconds = interval
		}
	}
	if val := os.Getenv("MDNS_ENABLED"); val != "" {
		lower := strings.ToLower(val)
		cfg.Discovery.MDNSEnabled = (lower == "1" || lower == "true" || lower == "yes")
	}
	if val := os.Getenv("EVENTS_ENABLED"); val != "" {
		lower := strings.ToLower(val)
		cfg.Events.Enabled = (lower == "1" || lower == "true" || lower == "yes")
	}

	config.ApplyDatabaseEnvOverrides(&cfg.Database)
	config.ApplyLoggingEnvOverrides(&cfg.Logging)
}

func normalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeProduction, "prod":
		return ModeProduction
	default:
		return ModeDevelopment
	}
}

// CandidateEndpoints returns the ordered base-URL candidate list for the
// configured mode. Production pins a single URL; development tries the
// configured primary first, then any extras, then the standard local
// fallbacks.
func (c *KioskConfig) CandidateEndpoints() []string {
	if c.Mode == ModeProduction && c.API.ProductionURL != "" {
		return []string{c.API.ProductionURL}
	}

	candidates := make([]string, 0, len(c.API.ExtraCandidates)+4)
	if c.API.PrimaryURL != "" {
		candidates = append(candidates, c.API.PrimaryURL)
	}
	candidates = append(candidates, c.API.ExtraCandidates...)
	candidates = append(candidates,
		"http://10.0.2.2:8000/api",
		"http://localhost:8000/api",
		"http://127.0.0.1:8000/api",
	)
	return candidates
}

// WriteDefaultKioskConfig writes a default kiosk configuration file
func WriteDefaultKioskConfig(configPath string) error {
	cfg := DefaultKioskConfig()
	cfg.KioskID = uuid.NewString()
	return config.WriteDefaultTOML(configPath, cfg)
}
