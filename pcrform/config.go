package pcrform

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selects the active draft store. Exactly one is active per
// deployment.
const (
	BackendRemote = "remote"
	BackendLocal  = "local"
)

// Config is the top-level form session configuration.
type Config struct {
	// User is the opaque identity the draft record is keyed by, supplied
	// externally. Empty falls back to "anon".
	User string `yaml:"user"`
	// SchemaVersion namespaces storage keys, so a schema change orphans
	// old records instead of misrestoring them.
	SchemaVersion string `yaml:"schema_version"`

	// Backend is "remote" or "local".
	Backend string `yaml:"backend"`
	// ServerURL is the report server base URL (remote backend, and the
	// submission endpoint in either mode).
	ServerURL string `yaml:"server_url"`
	// Token is the bearer credential for server calls.
	Token string `yaml:"token"`
	// StorePath is the device-local database path (local backend).
	StorePath string `yaml:"store_path"`

	Debounce DebounceConfig `yaml:"debounce"`
	Image    ImageConfig    `yaml:"image"`
}

// DebounceConfig controls autosave batching.
type DebounceConfig struct {
	// Window is the quiet interval after the last mutation. Default: 350ms.
	Window time.Duration `yaml:"window"`
	// Grace is the suppression window wrapped around clear/reset, long
	// enough to outlast any autosave it pre-empted. Default: 2×Window.
	Grace time.Duration `yaml:"grace"`
}

// ImageConfig describes the body-diagram base image and drawing surface.
type ImageConfig struct {
	Path   string `yaml:"path"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.User == "" {
		c.User = "anon"
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = "v2"
	}
	if c.Backend == "" {
		c.Backend = BackendRemote
	}
	if c.StorePath == "" {
		c.StorePath = "data/drafts.db"
	}
	if c.Debounce.Window <= 0 {
		c.Debounce.Window = 350 * time.Millisecond
	}
	if c.Debounce.Grace <= 0 {
		c.Debounce.Grace = 2 * c.Debounce.Window
	}
	if c.Image.Path == "" {
		c.Image.Path = "static/body.png"
	}
	if c.Image.Width <= 0 {
		c.Image.Width = 400
	}
	if c.Image.Height <= 0 {
		c.Image.Height = 600
	}
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendRemote:
		if c.ServerURL == "" {
			return fmt.Errorf("pcrform: remote backend requires server_url")
		}
	case BackendLocal:
	default:
		return fmt.Errorf("pcrform: unknown backend %q", c.Backend)
	}
	return nil
}
