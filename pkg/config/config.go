// Package config handles loading and saving cadview configuration.
//
// Configuration follows the XDG Base Directory specification:
//   - Config:  ~/.config/cadview/config.yaml
//   - State:   ~/.local/state/cadview/ (log file, tree expansion state)
//
// Environment variables override the file: CADVIEW_BACKEND_URL sets the
// backend base URL.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const appName = "cadview"

// EnvBackendURL overrides backend.url.
const EnvBackendURL = "CADVIEW_BACKEND_URL"

// BackendConfig locates the CAD assistant backend.
type BackendConfig struct {
	URL     string        `yaml:"url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// VoiceConfig selects the external recorder command. Args may contain
// "{file}" where the output path goes.
type VoiceConfig struct {
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
}

// LayoutConfig tunes the containment diagram layout.
type LayoutConfig struct {
	NodeSep    float64 `yaml:"node_sep,omitempty"`
	RankSep    float64 `yaml:"rank_sep,omitempty"`
	NodeWidth  float64 `yaml:"node_width,omitempty"`
	NodeHeight float64 `yaml:"node_height,omitempty"`
	Direction  string  `yaml:"direction,omitempty"` // BT or TB
}

// UIConfig holds UI preference settings.
type UIConfig struct {
	SplitRatio       float64 `yaml:"split_ratio,omitempty"`        // tree pane share (0.2-0.8)
	PersistTreeState *bool   `yaml:"persist_tree_state,omitempty"` // remember expanded nodes
}

// ServeConfig configures the browser mirror.
type ServeConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Config is the top-level configuration for cadview.
type Config struct {
	Backend BackendConfig `yaml:"backend,omitempty"`
	Voice   VoiceConfig   `yaml:"voice,omitempty"`
	Layout  LayoutConfig  `yaml:"layout,omitempty"`
	UI      UIConfig      `yaml:"ui,omitempty"`
	Serve   ServeConfig   `yaml:"serve,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			URL:     "http://localhost:8000",
			Timeout: 60 * time.Second,
		},
		Layout: LayoutConfig{
			NodeSep:    50,
			RankSep:    50,
			NodeWidth:  172,
			NodeHeight: 36,
			Direction:  "BT",
		},
		UI: UIConfig{
			SplitRatio: 0.4,
		},
		Serve: ServeConfig{
			Addr: "127.0.0.1:8080",
		},
	}
}

// ShouldPersistTreeState reports whether tree expansion is saved between runs.
// Defaults to true.
func (c Config) ShouldPersistTreeState() bool {
	return c.UI.PersistTreeState == nil || *c.UI.PersistTreeState
}

// ConfigDir returns the XDG config directory for cadview.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName)
}

// StateDir returns the XDG state directory for cadview.
func StateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", appName)
}

// ConfigPath returns the full path to config.yaml.
func ConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// LogPath returns where the terminal UI writes its debug log.
func LogPath() string {
	dir := StateDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, appName+".log")
}

// TreeStatePath returns the file holding the tree expansion state.
func TreeStatePath() string {
	dir := StateDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "tree-state.json")
}

// Load reads the config file from the XDG config directory and applies
// environment overrides. Returns DefaultConfig if the file doesn't exist.
func Load() (Config, error) {
	path := ConfigPath()
	if path == "" {
		cfg := DefaultConfig()
		cfg.applyEnv()
		return cfg, nil
	}
	return LoadFrom(path)
}

// LoadFrom reads config from a specific path and applies environment
// overrides. Returns DefaultConfig if the file doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Voice.Command = expandHome(cfg.Voice.Command)
	cfg.applyEnv()
	cfg.clamp()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvBackendURL)); v != "" {
		c.Backend.URL = v
	}
}

// clamp pulls out-of-range values back to the defaults.
func (c *Config) clamp() {
	def := DefaultConfig()
	if c.UI.SplitRatio < 0.2 || c.UI.SplitRatio > 0.8 {
		c.UI.SplitRatio = def.UI.SplitRatio
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = def.Backend.Timeout
	}
	switch strings.ToUpper(c.Layout.Direction) {
	case "BT", "TB":
		c.Layout.Direction = strings.ToUpper(c.Layout.Direction)
	default:
		c.Layout.Direction = def.Layout.Direction
	}
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
