package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Backend.URL != "http://localhost:8000" {
		t.Errorf("expected default backend URL, got %q", cfg.Backend.URL)
	}
	if cfg.Backend.Timeout != 60*time.Second {
		t.Errorf("expected 60s timeout, got %v", cfg.Backend.Timeout)
	}
	if cfg.UI.SplitRatio != 0.4 {
		t.Errorf("expected split ratio 0.4, got %f", cfg.UI.SplitRatio)
	}
	if cfg.Layout.NodeWidth != 172 || cfg.Layout.NodeHeight != 36 {
		t.Errorf("expected 172x36 nodes, got %vx%v", cfg.Layout.NodeWidth, cfg.Layout.NodeHeight)
	}
	if !cfg.ShouldPersistTreeState() {
		t.Error("expected tree state persistence on by default")
	}
}

func TestLoadFrom_NonExistent(t *testing.T) {
	t.Setenv(EnvBackendURL, "")
	cfg, err := LoadFrom("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.Backend.URL != "http://localhost:8000" {
		t.Errorf("expected default config, got URL %q", cfg.Backend.URL)
	}
}

func TestLoadFrom_ValidConfig(t *testing.T) {
	t.Setenv(EnvBackendURL, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
backend:
  url: http://cad.local:9000
  timeout: 15s

voice:
  command: sox
  args: ["-d", "{file}", "rate", "16k"]

layout:
  node_sep: 30
  rank_sep: 80
  direction: tb

ui:
  split_ratio: 0.5
  persist_tree_state: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend.URL != "http://cad.local:9000" {
		t.Errorf("expected backend URL from file, got %q", cfg.Backend.URL)
	}
	if cfg.Backend.Timeout != 15*time.Second {
		t.Errorf("expected 15s timeout, got %v", cfg.Backend.Timeout)
	}
	if cfg.Voice.Command != "sox" || len(cfg.Voice.Args) != 4 || cfg.Voice.Args[1] != "{file}" {
		t.Errorf("unexpected voice config: %+v", cfg.Voice)
	}
	if cfg.Layout.NodeSep != 30 || cfg.Layout.RankSep != 80 {
		t.Errorf("unexpected layout config: %+v", cfg.Layout)
	}
	if cfg.Layout.Direction != "TB" {
		t.Errorf("expected direction normalized to TB, got %q", cfg.Layout.Direction)
	}
	// Unset keys keep their defaults.
	if cfg.Layout.NodeWidth != 172 {
		t.Errorf("expected default node width, got %v", cfg.Layout.NodeWidth)
	}
	if cfg.UI.SplitRatio != 0.5 {
		t.Errorf("expected split_ratio 0.5, got %f", cfg.UI.SplitRatio)
	}
	if cfg.ShouldPersistTreeState() {
		t.Error("expected persist_tree_state false")
	}
}

func TestLoadFrom_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("backend:\n  url: http://file:1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvBackendURL, "http://env:2")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.URL != "http://env:2" {
		t.Errorf("env should override file, got %q", cfg.Backend.URL)
	}

	cfg, err = LoadFrom(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.URL != "http://env:2" {
		t.Errorf("env should override defaults, got %q", cfg.Backend.URL)
	}
}

func TestLoadFrom_ClampsOutOfRange(t *testing.T) {
	t.Setenv(EnvBackendURL, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "ui:\n  split_ratio: 0.95\nlayout:\n  direction: LR\nbackend:\n  timeout: -5s\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.UI.SplitRatio != 0.4 {
		t.Errorf("split ratio not clamped: %v", cfg.UI.SplitRatio)
	}
	if cfg.Layout.Direction != "BT" {
		t.Errorf("direction not reset: %q", cfg.Layout.Direction)
	}
	if cfg.Backend.Timeout != 60*time.Second {
		t.Errorf("timeout not reset: %v", cfg.Backend.Timeout)
	}
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFrom(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	t.Setenv(EnvBackendURL, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	off := false
	cfg := DefaultConfig()
	cfg.Backend.URL = "http://roundtrip:1"
	cfg.Voice = VoiceConfig{Command: "arecord", Args: []string{"{file}"}}
	cfg.UI.PersistTreeState = &off

	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Backend.URL != cfg.Backend.URL || loaded.Backend.Timeout != cfg.Backend.Timeout {
		t.Errorf("backend mismatch: %+v", loaded.Backend)
	}
	if loaded.Voice.Command != "arecord" || len(loaded.Voice.Args) != 1 {
		t.Errorf("voice mismatch: %+v", loaded.Voice)
	}
	if loaded.ShouldPersistTreeState() {
		t.Error("persist_tree_state lost")
	}
}

func TestXDGPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))

	if got, want := ConfigPath(), filepath.Join(dir, "config", "cadview", "config.yaml"); got != want {
		t.Errorf("ConfigPath = %q, want %q", got, want)
	}
	if got, want := LogPath(), filepath.Join(dir, "state", "cadview", "cadview.log"); got != want {
		t.Errorf("LogPath = %q, want %q", got, want)
	}
	if got, want := TreeStatePath(), filepath.Join(dir, "state", "cadview", "tree-state.json"); got != want {
		t.Errorf("TreeStatePath = %q, want %q", got, want)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := expandHome("~/bin/rec"); got != filepath.Join(home, "bin/rec") {
		t.Errorf("expandHome = %q", got)
	}
	if got := expandHome("/usr/bin/arecord"); got != "/usr/bin/arecord" {
		t.Errorf("absolute path changed: %q", got)
	}
}
