package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWizardConfig_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "export.json")
	cfg := &WizardConfig{Format: FormatSQLite, OutputPath: "robot.db", Title: "Robot", IncludeFTS: true}
	if err := SaveWizardConfig(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := LoadWizardConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestLoadWizardConfig_Missing(t *testing.T) {
	got, err := LoadWizardConfig(filepath.Join(t.TempDir(), "none.json"))
	if err != nil || got != nil {
		t.Errorf("got %v, %v", got, err)
	}
	if got, err := LoadWizardConfig(""); err != nil || got != nil {
		t.Errorf("empty path: %v, %v", got, err)
	}
}

func TestLoadWizardConfig_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadWizardConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestDefaultExtension(t *testing.T) {
	tests := map[string]string{
		FormatSVG:      ".svg",
		FormatPNG:      ".png",
		FormatSQLite:   ".db",
		FormatMarkdown: ".md",
		"":             ".svg",
	}
	for format, want := range tests {
		if got := DefaultExtension(format); got != want {
			t.Errorf("DefaultExtension(%q) = %q, want %q", format, got, want)
		}
	}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := humanSize(tt.n); got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
