package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"calsched/internal/tz"
)

const (
	defaultListen         = "127.0.0.1:8080"
	defaultRefresh        = "*/15 * * * *"
	defaultHorizonDays    = 30
	defaultBackfillDays   = 1
	defaultMaxOccurrences = 5000
	defaultOutput         = "./var/calendar.ics"
	defaultCacheDir       = "./var/ics-cache"
	defaultProductID      = "calsched"
)

// ICSConfig describes an ICS subscription whose events are imported
// next to the ones defined in Events.
type ICSConfig struct {
	URL  string `yaml:"url" json:"url"`
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	// Timezone interprets floating times in the feed. Defaults to the
	// top-level Timezone.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the display zone and the default zone of events that
	// do not name one.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a standard 5-field cron spec for re-importing feeds
	// and rewriting Output.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays and BackfillDays bound the exported window around now.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// MaxOccurrences caps the expansion of a single rule per query.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	// Output is where the rendered calendar is written.
	Output string `yaml:"output" json:"output"`

	// CacheDir holds conditional-request state of ICS subscriptions.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	ProductID    string `yaml:"product_id" json:"product_id"`
	CalendarName string `yaml:"calendar_name,omitempty" json:"calendar_name,omitempty"`

	ICS    []ICSConfig   `yaml:"ics" json:"ics"`
	Events []EventConfig `yaml:"events" json:"events"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		Timezone:       tz.DefaultZone,
		RefreshCron:    defaultRefresh,
		HorizonDays:    defaultHorizonDays,
		BackfillDays:   defaultBackfillDays,
		MaxOccurrences: defaultMaxOccurrences,
		Output:         defaultOutput,
		CacheDir:       defaultCacheDir,
		ProductID:      defaultProductID,
		ICS:            []ICSConfig{},
		Events:         []EventConfig{},
	}
}

// Normalize fills in missing/zero values so partially filled configs
// still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = tz.DefaultZone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = defaultMaxOccurrences
	}
	if c.Output == "" {
		c.Output = defaultOutput
	}
	if c.ProductID == "" {
		c.ProductID = defaultProductID
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Events == nil {
		c.Events = []EventConfig{}
	}
}

// Validate checks the fields that Normalize cannot repair. Event
// definitions are checked by BuildEvents.
func (c *Config) Validate() error {
	var errs []error
	if err := tz.Validate(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	seen := make(map[string]struct{}, len(c.ICS))
	for i, s := range c.ICS {
		if s.ID == "" || s.URL == "" {
			errs = append(errs, fmt.Errorf("ics[%d]: id and url are required", i))
			continue
		}
		if _, dup := seen[s.ID]; dup {
			errs = append(errs, fmt.Errorf("ics[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = struct{}{}
		if s.Timezone != "" {
			if err := tz.Validate(s.Timezone); err != nil {
				errs = append(errs, fmt.Errorf("ics[%d]: %w", i, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// caller decides whether an unsaved default is usable
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions,
// creating the parent directory (0700) if needed.
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
	return writeAtomic(dir, path, data)
}

// writeAtomic is shared by Save and the calendar export.
func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".calsched-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
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

// WriteFile atomically replaces path with data, creating its directory.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return writeAtomic(dir, path, data)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
