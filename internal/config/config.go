// Package config loads the snapshotd configuration: a YAML file for
// non-secret tunables, layered with environment variables for the
// secrets spec.md §6 enumerates (Supabase/Postgres DSN, JWT secret,
// Discord client credentials, Resend API key, operator secret token).
package config

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config is the complete snapshotd configuration.
type Config struct {
	Server     Server     `yaml:"server"`
	Decision   Decision   `yaml:"decision"`
	Controller Controller `yaml:"controller"`
	Database   Database   `yaml:"database"`
	Caching    Caching    `yaml:"caching"`
	Logging    Logging    `yaml:"logging"`
	Upstream   Upstream   `yaml:"upstream"`
	Identity   Identity   `yaml:"identity"`
	Email      Email      `yaml:"email"`

	// Secrets, never read from YAML. Populated exclusively from the
	// environment by Load via applyEnvOverrides.
	Secrets Secrets `yaml:"-"`
}

// Server holds the HTTP listener and CORS configuration for C9-C11.
type Server struct {
	Port             int      `yaml:"port"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	ReadTimeoutSec   int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSec  int      `yaml:"write_timeout_seconds"`
	ShutdownGraceSec int      `yaml:"shutdown_grace_seconds"`
}

// Decision holds the C3 engine's tunable constants (spec.md §4.3).
type Decision struct {
	SyncWindowHours          float64 `yaml:"sync_window_hours"`
	CooldownHours            float64 `yaml:"cooldown_hours"`
	PartialSyncThreshold     float64 `yaml:"partial_sync_threshold"`
	PartialSyncRetryAttempts int     `yaml:"partial_sync_retry_attempts"`
	PendingSyncStaleHours    float64 `yaml:"pending_sync_stale_hours"`
	AlertThresholdDays       float64 `yaml:"alert_threshold_days"`
	AlertCooldownHours       float64 `yaml:"alert_cooldown_hours"`
}

// Controller holds the C8 scheduling cadence.
type Controller struct {
	CronIntervalMinutes int  `yaml:"cron_interval_minutes"`
	RunOnStart          bool `yaml:"run_on_start"`
}

// Database configures the Postgres connection pool (C4-C6, C2, email log).
type Database struct {
	MaxOpenConns    int `yaml:"max_open_conns"`
	MaxIdleConns    int `yaml:"max_idle_conns"`
	ConnMaxLifeMins int `yaml:"conn_max_life_minutes"`
	BatchSize       int `yaml:"batch_size"`
}

// Caching configures the C5 freshness contract and the C11 response cache.
type Caching struct {
	CacheDurationMinutes int    `yaml:"cache_duration_minutes"`
	ExclusionTTLSeconds  int    `yaml:"exclusion_ttl_seconds"`
	ResponseCacheEnabled bool   `yaml:"response_cache_enabled"`
	ResponseCacheTTLSec  int    `yaml:"response_cache_ttl_seconds"`
	RedisAddr            string `yaml:"redis_addr"`
}

// Logging configures the ambient slog wrapper.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Upstream configures the C1 client.
type Upstream struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Identity configures the C9/C10 Discord group/role gate.
type Identity struct {
	Guild          string `yaml:"guild"`
	MajRole        string `yaml:"maj_role"`
	YCRole         string `yaml:"yc_role"`
	AdminRole      string `yaml:"admin_role"`
	WonkyRole      string `yaml:"wonky_leader_role"`
	SessionTTLDays int    `yaml:"session_ttl_days"`
}

// Email configures the C7 dispatcher.
type Email struct {
	FromAddress string `yaml:"from_address"`
	Enabled     bool   `yaml:"enabled"`
}

// Secrets are read only from the environment (spec.md §6), never from YAML.
type Secrets struct {
	SupabaseURL            string
	SupabaseServiceRoleKey string
	DatabaseURL            string
	JWTSecret              string
	DiscordClientID        string
	DiscordClientSecret    string
	WonkyEndpointURL       string
	SecretToken            string
	ResendAPIKey           string
	NotificationEmail      string
}

// Load reads a YAML config file, applies defaults, overlays environment
// secrets, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides populates secrets and a handful of deployment knobs
// from the environment, per spec.md §6's variable list.
func applyEnvOverrides(cfg *Config) error {
	cfg.Secrets.SupabaseURL = os.Getenv("SUPABASE_URL")
	cfg.Secrets.SupabaseServiceRoleKey = os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	cfg.Secrets.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.Secrets.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.Secrets.DiscordClientID = os.Getenv("DISCORD_CLIENT_ID")
	cfg.Secrets.DiscordClientSecret = os.Getenv("DISCORD_CLIENT_SECRET")
	cfg.Secrets.WonkyEndpointURL = os.Getenv("WONKY_ENDPOINT_URL")
	cfg.Secrets.SecretToken = os.Getenv("SECRET_TOKEN")
	cfg.Secrets.ResendAPIKey = os.Getenv("RESEND_API_KEY")
	cfg.Secrets.NotificationEmail = os.Getenv("NOTIFICATION_EMAIL")

	if guild := os.Getenv("EGGINC_GUILD"); guild != "" {
		cfg.Identity.Guild = guild
	}
	if maj := os.Getenv("EGGINC_MAJ_ROLE"); maj != "" {
		cfg.Identity.MajRole = maj
	}
	if yc := os.Getenv("EGGINC_YC_ROLE"); yc != "" {
		cfg.Identity.YCRole = yc
	}
	if wonky := os.Getenv("EGGINC_WONKY_LEADER_ROLE"); wonky != "" {
		cfg.Identity.WonkyRole = wonky
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := parsePort(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if redisURL := os.Getenv("REDIS_ADDR"); redisURL != "" {
		cfg.Caching.RedisAddr = redisURL
	}

	return nil
}

func parsePort(s string) (int, error) {
	var p int
	_, err := fmt.Sscanf(s, "%d", &p)
	return p, err
}

// GetExampleConfig returns the embedded example configuration, used by
// `snapshotctl config init`.
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Default returns a configuration with sensible defaults, matching
// spec.md §4.3's documented constants.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:             8080,
			AllowedOrigins:   []string{"*"},
			ReadTimeoutSec:   15,
			WriteTimeoutSec:  15,
			ShutdownGraceSec: 10,
		},
		Decision: Decision{
			SyncWindowHours:          65.0 / 60.0,
			CooldownHours:            1.5,
			PartialSyncThreshold:     99.0,
			PartialSyncRetryAttempts: 2,
			PendingSyncStaleHours:    2.0,
			AlertThresholdDays:       7.0,
			AlertCooldownHours:       2.0,
		},
		Controller: Controller{
			CronIntervalMinutes: 15,
			RunOnStart:          false,
		},
		Database: Database{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifeMins: 30,
			BatchSize:       100,
		},
		Caching: Caching{
			CacheDurationMinutes: 15,
			ExclusionTTLSeconds:  60,
			ResponseCacheEnabled: true,
			ResponseCacheTTLSec:  60,
			RedisAddr:            "localhost:6379",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Upstream: Upstream{
			URL:            "",
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
		Identity: Identity{
			Guild:          "",
			MajRole:        "",
			YCRole:         "",
			AdminRole:      "",
			WonkyRole:      "",
			SessionTTLDays: 7,
		},
		Email: Email{
			FromAddress: "noreply@example.com",
			Enabled:     true,
		},
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks that a configuration is internally consistent.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Decision.SyncWindowHours <= 0 {
		return fmt.Errorf("decision.sync_window_hours must be positive")
	}
	if cfg.Decision.CooldownHours <= 0 {
		return fmt.Errorf("decision.cooldown_hours must be positive")
	}
	if cfg.Decision.PartialSyncThreshold <= 0 || cfg.Decision.PartialSyncThreshold > 100 {
		return fmt.Errorf("decision.partial_sync_threshold must be in (0, 100]")
	}
	if cfg.Decision.PartialSyncRetryAttempts < 1 {
		return fmt.Errorf("decision.partial_sync_retry_attempts must be at least 1")
	}
	if cfg.Controller.CronIntervalMinutes < 1 {
		return fmt.Errorf("controller.cron_interval_minutes must be at least 1")
	}
	if cfg.Database.BatchSize < 1 {
		return fmt.Errorf("database.batch_size must be at least 1")
	}
	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", cfg.Logging.Format)
	}
	return nil
}
