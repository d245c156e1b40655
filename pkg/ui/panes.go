package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/vanderheijden86/cadview/pkg/debug"
	"github.com/vanderheijden86/cadview/pkg/viewer"
)

// ViewerPane shows the orthographic preview of the current scene. The
// preview is rasterized when the scene or size changes, not on every View.
type ViewerPane struct {
	theme   Theme
	scene   *viewer.Scene
	err     error
	loading bool
	preview *viewer.Preview
	width   int
	height  int
}

func NewViewerPane(theme Theme) ViewerPane {
	return ViewerPane{theme: theme}
}

// SetScene replaces the scene. err is the base-mesh error, if any.
func (p *ViewerPane) SetScene(s *viewer.Scene, err error) {
	p.scene = s
	p.err = err
	p.loading = false
	p.rasterize()
}

// Scene returns the scene being shown.
func (p *ViewerPane) Scene() *viewer.Scene {
	return p.scene
}

func (p *ViewerPane) SetLoading(loading bool) {
	p.loading = loading
}

func (p *ViewerPane) SetSize(width, height int) {
	if width == p.width && height == p.height {
		return
	}
	p.width = width
	p.height = height
	p.rasterize()
}

// previewRows leaves two rows for the caption.
func (p *ViewerPane) previewRows() int {
	return max(p.height-2, 1)
}

func (p *ViewerPane) rasterize() {
	if p.scene.Placeholder() || p.width <= 0 {
		p.preview = nil
		return
	}
	p.preview = viewer.RenderPreview(p.scene, p.width, p.previewRows())
}

func (p *ViewerPane) View() string {
	r := p.theme.Renderer
	width := max(p.width, 10)

	var body string
	if p.preview == nil {
		msg := "No model loaded."
		switch {
		case p.loading:
			msg = "Loading model…"
		case p.err != nil && p.scene != nil && p.scene.Model.BaseModelURL != "":
			msg = "Model unavailable."
		}
		body = r.NewStyle().Width(width).Height(p.previewRows()).
			Align(lipgloss.Center, lipgloss.Center).
			Render(p.theme.MutedText.Render(msg))
	} else {
		body = p.renderPreview()
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, p.caption(width))
}

func (p *ViewerPane) renderPreview() string {
	var sb strings.Builder
	pv := p.preview
	for row := 0; row < pv.Rows; row++ {
		cells := pv.Cells[row*pv.Cols : (row+1)*pv.Cols]
		start := 0
		for c := 1; c <= len(cells); c++ {
			if c == len(cells) || cells[c].Emphasis != cells[start].Emphasis {
				var run strings.Builder
				for _, cell := range cells[start:c] {
					run.WriteRune(cell.Ch)
				}
				style := p.theme.SecondaryText
				if cells[start].Emphasis {
					style = p.theme.EmphasisText
				}
				sb.WriteString(style.Render(run.String()))
				start = c
			}
		}
		if row < pv.Rows-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (p *ViewerPane) caption(width int) string {
	if p.scene == nil {
		return ""
	}
	var parts []string
	if p.loading {
		parts = append(parts, p.theme.MutedText.Render("refreshing…"))
	}
	if p.scene.Base != nil {
		parts = append(parts, p.theme.MutedText.Render(fmt.Sprintf("%d facets", len(p.scene.Base.Triangles))))
	}
	if id := p.scene.Model.SelectedID; id != "" {
		switch {
		case p.scene.EmphasisErr != nil:
			parts = append(parts, p.theme.ErrorText.Render("component "+id+" unavailable"))
		case p.scene.Emphasis != nil:
			parts = append(parts, p.theme.EmphasisText.Render("■ "+id))
		}
	}
	if p.err != nil && p.scene.Base == nil && p.scene.Model.BaseModelURL != "" {
		parts = append(parts, p.theme.ErrorText.Render(p.err.Error()))
	}
	line := strings.Join(parts, "  ")
	return "\n" + p.theme.Renderer.NewStyle().MaxWidth(width).Render(line)
}

// MessagesPane renders the last transcript, response or notice as markdown.
type MessagesPane struct {
	theme    Theme
	renderer *glamour.TermRenderer
	wrap     int
	text     string
	rendered string
	width    int
	height   int
}

func NewMessagesPane(theme Theme) MessagesPane {
	return MessagesPane{theme: theme}
}

func (p *MessagesPane) SetSize(width, height int) {
	p.height = height
	if width == p.width && p.renderer != nil {
		return
	}
	p.width = width
	p.wrap = max(width-2, 20)
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(p.wrap),
	)
	if err != nil {
		debug.Log("messages: glamour renderer: %v", err)
		p.renderer = nil
	} else {
		p.renderer = r
	}
	p.render()
}

// SetText replaces the message.
func (p *MessagesPane) SetText(text string) {
	if text == p.text && p.rendered != "" {
		return
	}
	p.text = text
	p.render()
}

func (p *MessagesPane) render() {
	if p.renderer == nil {
		p.rendered = p.text
		return
	}
	out, err := p.renderer.Render(p.text)
	if err != nil {
		p.rendered = p.text
		return
	}
	p.rendered = strings.Trim(out, "\n")
}

func (p *MessagesPane) View() string {
	title := p.theme.PrimaryBold.Render("Messages")
	body := p.rendered
	if body == "" {
		body = p.text
	}
	lines := strings.Split(body, "\n")
	if h := p.height - 1; h > 0 && len(lines) > h {
		lines = lines[:h]
	}
	return title + "\n" + strings.Join(lines, "\n")
}
