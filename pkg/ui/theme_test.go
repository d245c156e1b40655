package ui

import (
	"testing"

	"github.com/charmbracelet/colorprofile"
	"github.com/charmbracelet/lipgloss"

	"github.com/vanderheijden86/cadview/pkg/model"
)

func TestDefaultTheme(t *testing.T) {
	renderer := lipgloss.NewRenderer(nil)
	theme := DefaultTheme(renderer)

	if theme.Renderer != renderer {
		t.Error("DefaultTheme renderer mismatch")
	}
	for name, c := range map[string]lipgloss.AdaptiveColor{
		"Primary":  theme.Primary,
		"Assembly": theme.Assembly,
		"Part":     theme.Part,
		"Emphasis": theme.Emphasis,
		"Danger":   theme.Danger,
	} {
		if c.Light == "" && c.Dark == "" {
			t.Errorf("DefaultTheme %s color is empty", name)
		}
	}
}

func TestKindIcon(t *testing.T) {
	theme := DefaultTheme(lipgloss.NewRenderer(nil))

	tests := []struct {
		kind      model.Kind
		wantIcon  string
		wantColor lipgloss.AdaptiveColor
	}{
		{model.KindAssembly, "A", theme.Assembly},
		{model.KindPart, "P", theme.Part},
		{model.KindShell, "S", theme.Shell},
		{model.KindFace, "F", theme.Face},
		{model.Kind("Widget"), "·", theme.Subtext},
	}
	for _, tt := range tests {
		icon, color := theme.KindIcon(tt.kind)
		if icon != tt.wantIcon || color != tt.wantColor {
			t.Errorf("KindIcon(%q) = %q %v, want %q %v", tt.kind, icon, color, tt.wantIcon, tt.wantColor)
		}
	}
}

func TestThemeFg_TrueColor(t *testing.T) {
	saved := TermProfile
	defer func() { TermProfile = saved }()

	TermProfile = colorprofile.TrueColor

	got := ThemeFg("#FF6B6B")
	if _, ok := got.(lipgloss.ANSIColor); ok {
		t.Error("ThemeFg should return hex color in TrueColor mode, got ANSIColor")
	}
}

func TestThemeFg_ANSI256(t *testing.T) {
	saved := TermProfile
	defer func() { TermProfile = saved }()

	TermProfile = colorprofile.ANSI256

	got := ThemeFg("#FF6B6B")
	if _, ok := got.(lipgloss.ANSIColor); ok {
		t.Error("ThemeFg should return hex color in ANSI256 mode, got ANSIColor")
	}
}

func TestThemeFg_ANSI(t *testing.T) {
	saved := TermProfile
	defer func() { TermProfile = saved }()

	TermProfile = colorprofile.ANSI

	got := ThemeFg("#FF6B6B")
	ansiColor, ok := got.(lipgloss.ANSIColor)
	if !ok {
		t.Errorf("ThemeFg should return ANSIColor in ANSI mode, got %T", got)
	} else if ansiColor != 7 {
		t.Errorf("ThemeFg should return ANSI white (7) in ANSI mode, got %d", ansiColor)
	}
}

func TestThemeFg_NoTTY(t *testing.T) {
	saved := TermProfile
	defer func() { TermProfile = saved }()

	TermProfile = colorprofile.NoTTY

	if _, ok := ThemeFg("#FF6B6B").(lipgloss.ANSIColor); !ok {
		t.Error("ThemeFg should fall back to ANSIColor without a TTY")
	}
}
