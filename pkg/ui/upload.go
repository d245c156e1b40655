package ui

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
)

// StepExtensions are the file types offered by the upload picker.
var StepExtensions = []string{".stp", ".step", ".STP", ".STEP"}

// UploadPicker is the file picker shown by u. The form receives every
// message while open, not just keys, so its internal navigation works.
type UploadPicker struct {
	form *huh.Form
	path *string
}

// NewUploadPicker opens a picker rooted at dir (the working directory when
// empty).
func NewUploadPicker(dir string, height int) UploadPicker {
	if dir == "" {
		dir, _ = os.Getwd()
	}
	path := new(string)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewFilePicker().
				Title("Upload STEP model").
				Description("enter to choose · esc to cancel").
				CurrentDirectory(dir).
				AllowedTypes(StepExtensions).
				Height(max(height, 5)).
				Picking(true).
				Value(path),
		),
	).WithTheme(huh.ThemeDracula()).WithShowHelp(false)
	return UploadPicker{form: form, path: path}
}

func (p UploadPicker) Init() tea.Cmd {
	return p.form.Init()
}

func (p UploadPicker) Update(msg tea.Msg) (UploadPicker, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok && km.String() == "esc" {
		p.form.State = huh.StateAborted
		return p, nil
	}
	f, cmd := p.form.Update(msg)
	if form, ok := f.(*huh.Form); ok {
		p.form = form
	}
	return p, cmd
}

func (p UploadPicker) View() string {
	return p.form.View()
}

// Done reports a completed choice.
func (p UploadPicker) Done() bool {
	return p.form.State == huh.StateCompleted && *p.path != ""
}

// Aborted reports a cancelled picker, or one completed without a file.
func (p UploadPicker) Aborted() bool {
	return p.form.State == huh.StateAborted ||
		(p.form.State == huh.StateCompleted && *p.path == "")
}

// Path returns the chosen file.
func (p UploadPicker) Path() string {
	return *p.path
}
