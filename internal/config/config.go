package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ICSConfig describes a school-wide ICS feed whose events are shown to
// every student.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url" validate:"required,url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CacheConfig controls the time-bounded cache in front of the stores.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" json:"ttl" validate:"gt=0"`
}

// ReminderConfig controls the reminder scheduler.
type ReminderConfig struct {
	// Lead is how long before an event's start its reminder may fire.
	Lead time.Duration `yaml:"lead" json:"lead" validate:"gt=0"`
	// Check is the cron spec of the scan timer (e.g. "@every 5m").
	Check string `yaml:"check" json:"check" validate:"required"`
}

// SessionsConfig bounds the per-student sessions held in memory.
type SessionsConfig struct {
	// IdleTTL ends a session nobody requested for that long.
	IdleTTL time.Duration `yaml:"idle_ttl" json:"idle_ttl" validate:"gt=0"`
	// Max caps the live sessions.
	Max int `yaml:"max" json:"max" validate:"gt=0"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" validate:"required,hostname_port"`

	// Timezone is the IANA timezone used for calendar dates and for
	// record timestamps that carry no zone.
	Timezone string `yaml:"timezone" json:"timezone" validate:"required"`

	LogLevel string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`

	// Database is the SQLite file holding the four source collections.
	Database string `yaml:"database" json:"database" validate:"required"`

	Cache     CacheConfig    `yaml:"cache" json:"cache"`
	Reminders ReminderConfig `yaml:"reminders" json:"reminders"`
	Sessions  SessionsConfig `yaml:"sessions" json:"sessions"`

	// Refresh is a cron spec for reloading every active session; "off"
	// disables auto refresh.
	Refresh string `yaml:"refresh" json:"refresh"`

	// RecurrenceHorizonDays bounds how far ahead recurring classes are
	// expanded.
	RecurrenceHorizonDays int `yaml:"recurrence_horizon_days" json:"recurrence_horizon_days" validate:"gt=0"`

	// ICS is the list of school-wide event feeds.
	ICS []ICSConfig `yaml:"ics" json:"ics" validate:"dive"`

	// ICSCacheDir stores feed bodies and ETag metadata between fetches.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health and /metrics.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "UTC"
	defaultLogLevel    = "info"
	defaultDatabase    = "./var/studentcal.db"
	defaultCacheTTL    = 30 * time.Minute
	defaultLead        = 15 * time.Minute
	defaultCheck       = "@every 5m"
	defaultRefresh     = "@every 30m"
	defaultIdleTTL     = 2 * time.Hour
	defaultMaxSessions = 1000
	defaultHorizonDays = 120
	defaultICSCacheDir = "./var/ics-cache"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                defaultListen,
		Timezone:              defaultTimezone,
		LogLevel:              defaultLogLevel,
		Database:              defaultDatabase,
		Cache:                 CacheConfig{TTL: defaultCacheTTL},
		Reminders:             ReminderConfig{Lead: defaultLead, Check: defaultCheck},
		Sessions:              SessionsConfig{IdleTTL: defaultIdleTTL, Max: defaultMaxSessions},
		Refresh:               defaultRefresh,
		RecurrenceHorizonDays: defaultHorizonDays,
		ICS:                   []ICSConfig{},
		ICSCacheDir:           defaultICSCacheDir,
		BasicAuth:             nil,
	}
}

// refreshOff disables auto refresh.
const refreshOff = "off"

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = defaultCacheTTL
	}
	if c.Reminders.Lead <= 0 {
		c.Reminders.Lead = defaultLead
	}
	if c.Reminders.Check == "" {
		c.Reminders.Check = defaultCheck
	}
	if c.Sessions.IdleTTL <= 0 {
		c.Sessions.IdleTTL = defaultIdleTTL
	}
	if c.Sessions.Max <= 0 {
		c.Sessions.Max = defaultMaxSessions
	}
	c.Refresh = strings.TrimSpace(c.Refresh)
	if c.Refresh == "" {
		c.Refresh = defaultRefresh
	}
	if c.RecurrenceHorizonDays <= 0 {
		c.RecurrenceHorizonDays = defaultHorizonDays
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			if c.ICS[i].Name != "" {
				c.ICS[i].ID = c.ICS[i].Name
			} else {
				c.ICS[i].ID = c.ICS[i].URL
			}
		}
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = defaultICSCacheDir
	}
}

var validate = validator.New()

// Validate checks struct constraints, the timezone and both cron specs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.Reminders.Check); err != nil {
		return fmt.Errorf("config: reminders.check %q: %w", c.Reminders.Check, err)
	}
	if spec := c.RefreshSpec(); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("config: refresh %q: %w", c.Refresh, err)
		}
	}
	return nil
}

// RefreshSpec returns the auto refresh cron spec, empty when disabled.
func (c *Config) RefreshSpec() string {
	if strings.EqualFold(c.Refresh, refreshOff) {
		return ""
	}
	return c.Refresh
}

// Location resolves Timezone, falling back to UTC when it is invalid.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (parent directory created as needed) and returned.
//   - Otherwise the YAML is unmarshalled, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	return Parse(data)
}

// Parse decodes, normalizes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file in the same directory, then rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".studentcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
