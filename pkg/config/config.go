// Package config handles loading and saving vx configuration.
//
// Configuration follows the XDG Base Directory specification:
//   - Config:  ~/.config/vx/config.yaml
//   - Data:    ~/.local/share/vx/ (form data store, plugin manifests)
//   - State:   ~/.local/state/vx/ (log file)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const appName = "vx"

// ExploreConfig holds exploration surface settings.
type ExploreConfig struct {
	Route           string        `yaml:"route,omitempty"`
	HistoryDebounce time.Duration `yaml:"history_debounce,omitempty"`
	AutoQuery       *bool         `yaml:"auto_query,omitempty"`
	Standalone      bool          `yaml:"standalone,omitempty"` // No history persistence
}

// AutoQueryEnabled reports whether query-affecting changes re-run the query.
func (e ExploreConfig) AutoQueryEnabled() bool {
	return e.AutoQuery == nil || *e.AutoQuery
}

// StoreConfig locates the form data store. URL wins over Path.
type StoreConfig struct {
	Path    string        `yaml:"path,omitempty"`
	URL     string        `yaml:"url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ServerConfig configures `vx -serve`.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// PluginsConfig locates the plugin manifests.
type PluginsConfig struct {
	Dir      string        `yaml:"dir,omitempty"`
	Watch    bool          `yaml:"watch,omitempty"`
	Debounce time.Duration `yaml:"debounce,omitempty"`
}

// QueryConfig configures the SQLite query executor.
type QueryConfig struct {
	Database string `yaml:"database,omitempty"`
	RowLimit int    `yaml:"row_limit,omitempty"`
}

// Config is the top-level configuration for vx.
type Config struct {
	Explore ExploreConfig `yaml:"explore,omitempty"`
	Store   StoreConfig   `yaml:"store,omitempty"`
	Server  ServerConfig  `yaml:"server,omitempty"`
	Plugins PluginsConfig `yaml:"plugins,omitempty"`
	Query   QueryConfig   `yaml:"query,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Explore: ExploreConfig{
			Route:           "/explore",
			HistoryDebounce: time.Second,
		},
		Store: StoreConfig{
			Path:    filepath.Join(DataDir(), "formdata.db"),
			Timeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8088",
		},
		Plugins: PluginsConfig{
			Dir:      filepath.Join(DataDir(), "plugins"),
			Debounce: 200 * time.Millisecond,
		},
		Query: QueryConfig{
			RowLimit: 10000,
		},
	}
}

func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(append(append([]string{home}, fallback...), appName)...)
}

// ConfigDir returns the XDG config directory for vx.
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the XDG data directory for vx.
func DataDir() string {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// StateDir returns the XDG state directory for vx.
func StateDir() string {
	return xdgDir("XDG_STATE_HOME", ".local", "state")
}

// ConfigPath returns the full path to config.yaml.
func ConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// LogPath returns the path of the warning log.
func LogPath() string {
	dir := StateDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "vx.log")
}

// Load reads the config file from the XDG config directory.
// Returns DefaultConfig if the file doesn't exist.
func Load() (Config, error) {
	path := ConfigPath()
	if path == "" {
		cfg := DefaultConfig()
		applyEnv(&cfg)
		return cfg, nil
	}
	return LoadFrom(path)
}

// LoadFrom reads config from a specific path.
// Returns DefaultConfig if the file doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Store.Path = expandHome(cfg.Store.Path)
	cfg.Plugins.Dir = expandHome(cfg.Plugins.Dir)
	cfg.Query.Database = expandHome(cfg.Query.Database)
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Explore.Route, "/") {
		return fmt.Errorf("explore.route must start with /: %q", c.Explore.Route)
	}
	if c.Explore.HistoryDebounce < 0 {
		return fmt.Errorf("explore.history_debounce must not be negative")
	}
	if c.Query.RowLimit < 0 {
		return fmt.Errorf("query.row_limit must not be negative")
	}
	return nil
}

// applyEnv applies VX_DEBOUNCE_MS, which overrides the history window.
func applyEnv(cfg *Config) {
	v := strings.TrimSpace(os.Getenv("VX_DEBOUNCE_MS"))
	if v == "" {
		return
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return
	}
	cfg.Explore.HistoryDebounce = time.Duration(ms) * time.Millisecond
}

// Save writes the config to the XDG config directory.
func Save(cfg Config) error {
	path := ConfigPath()
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the config to a specific path.
func SaveTo(cfg Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
