// This file implements the interactive export wizard behind `cadview export`
// and the upload confirmation prompt.

package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// Export formats offered by the wizard.
const (
	FormatSVG      = "svg"
	FormatPNG      = "png"
	FormatSQLite   = "sqlite"
	FormatMarkdown = "markdown"
)

// ErrCancelled is returned when the user declines a prompt.
var ErrCancelled = errors.New("cancelled")

// WizardConfig holds the answers of one wizard run. It is saved so the next
// run can offer to repeat it.
type WizardConfig struct {
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
	Title      string `json:"title,omitempty"`
	IncludeFTS bool   `json:"include_fts,omitempty"`
	Highlight  bool   `json:"highlight_selection,omitempty"`
}

// Wizard collects export settings interactively.
type Wizard struct {
	config    *WizardConfig
	savePath  string
	modelName string
}

// NewWizard creates a wizard. savePath is where answers are remembered;
// empty disables that. modelName seeds the default title.
func NewWizard(savePath, modelName string) *Wizard {
	return &Wizard{
		config: &WizardConfig{
			Format:     FormatSVG,
			IncludeFTS: true,
			Highlight:  true,
		},
		savePath:  savePath,
		modelName: modelName,
	}
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// newForm falls back to accessible mode when stdin is not a terminal.
func newForm(groups ...*huh.Group) *huh.Form {
	form := huh.NewForm(groups...).WithTheme(huh.ThemeDracula())
	if !isTerminal() {
		form = form.WithAccessible(true)
	}
	return form
}

// Run asks for the export settings and returns them. The answers are saved
// for the next run.
func (w *Wizard) Run() (*WizardConfig, error) {
	if saved, err := LoadWizardConfig(w.savePath); err == nil && saved != nil && saved.Format != "" {
		reuse, err := w.offerSavedConfig(saved)
		if err != nil {
			return nil, err
		}
		if reuse {
			w.config = saved
			return w.config, nil
		}
	}

	if err := w.collectFormat(); err != nil {
		return nil, err
	}
	if err := w.collectOptions(); err != nil {
		return nil, err
	}
	if err := SaveWizardConfig(w.savePath, w.config); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not save export settings: %v\n", err)
	}
	return w.config, nil
}

// GetConfig returns the collected configuration.
func (w *Wizard) GetConfig() *WizardConfig {
	return w.config
}

func (w *Wizard) offerSavedConfig(saved *WizardConfig) (bool, error) {
	fmt.Println("Previous export:")
	fmt.Println("────────────────")
	fmt.Printf("  Format: %s\n", saved.Format)
	fmt.Printf("  Output: %s\n", saved.OutputPath)
	if saved.Title != "" {
		fmt.Printf("  Title:  %s\n", saved.Title)
	}
	fmt.Println("")

	useSaved := true
	form := newForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Export again with these settings?").
				Value(&useSaved).
				Affirmative("Yes").
				Negative("No, reconfigure"),
		),
	)
	if err := form.Run(); err != nil {
		return false, err
	}
	return useSaved, nil
}

func (w *Wizard) collectFormat() error {
	form := newForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("What do you want to export?").
				Options(
					huh.NewOption("Containment diagram (SVG)", FormatSVG),
					huh.NewOption("Containment diagram (PNG)", FormatPNG),
					huh.NewOption("Assembly database (SQLite)", FormatSQLite),
					huh.NewOption("Assembly report (Markdown)", FormatMarkdown),
				).
				Value(&w.config.Format),
		),
	)
	return form.Run()
}

func (w *Wizard) collectOptions() error {
	title := w.config.Title
	if title == "" {
		title = w.modelName
	}
	out := w.config.OutputPath
	if out == "" || !strings.EqualFold(filepath.Ext(out), DefaultExtension(w.config.Format)) {
		out = "cadview" + DefaultExtension(w.config.Format)
	}

	fields := []huh.Field{
		huh.NewInput().
			Title("Output file").
			Value(&out).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("output path is required")
				}
				return nil
			}),
		huh.NewInput().
			Title("Title").
			Value(&title).
			Placeholder(w.modelName),
	}
	switch w.config.Format {
	case FormatSQLite:
		fields = append(fields, huh.NewConfirm().
			Title("Build full-text index?").
			Value(&w.config.IncludeFTS))
	default:
		fields = append(fields, huh.NewConfirm().
			Title("Highlight the current selection?").
			Value(&w.config.Highlight))
	}

	if err := newForm(huh.NewGroup(fields...)).Run(); err != nil {
		return err
	}
	w.config.OutputPath = strings.TrimSpace(out)
	w.config.Title = title
	return nil
}

// DefaultExtension is the file extension written for format.
func DefaultExtension(format string) string {
	switch format {
	case FormatPNG:
		return ".png"
	case FormatSQLite:
		return ".db"
	case FormatMarkdown:
		return ".md"
	default:
		return ".svg"
	}
}

// ConfirmUpload asks before sending path to the backend. It reports the
// file size so large models are not sent by accident.
func ConfirmUpload(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	ok := true
	form := newForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Upload %s?", filepath.Base(path))).
				Description(fmt.Sprintf("%s · the current model will be replaced", humanSize(info.Size()))).
				Value(&ok).
				Affirmative("Upload").
				Negative("Cancel"),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	if !ok {
		return ErrCancelled
	}
	return nil
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// LoadWizardConfig reads saved answers. A missing file is not an error and
// returns nil.
func LoadWizardConfig(path string) (*WizardConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cfg WizardConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveWizardConfig writes answers to path. Empty path is a no-op.
func SaveWizardConfig(path string, cfg *WizardConfig) error {
	if path == "" || cfg == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
