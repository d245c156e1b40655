package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ContextHelpContent holds the quick reference shown by "?" for each context.
var ContextHelpContent = map[Context]string{
	ContextTree: `## Assembly Tree

**Navigation**
  j/k ↑/↓    Move cursor
  g/G        First / last row
  h/l ←/→    Collapse / expand
  o tab      Toggle node
  E/C        Expand / collapse all

**Selection**
  enter      Select node (emphasis in 3D)
  r          Reset selection
  y          Copy node id

**Actions**
  u          Upload a STEP file
  d          Containment diagram
  v          Start / stop voice command
  x          Dismiss error banner
  / n N      Search, next, previous
  q          Quit`,

	ContextSearch: `## Tree Search

  type       Filter by name, kind or id
  backspace  Delete a character
  enter      Select the match
  esc        Leave search

Back in the tree, n and N step through
the remaining matches.`,

	ContextDiagram: `## Containment Diagram

  tab j/l    Next node
  S-tab k/h  Previous node
  enter      Select node
  r          Reload from backend
  y          Copy node id
  esc q d    Close

Edges point from a component to the
assembly that contains it.`,

	ContextPicker: `## Upload Picker

  ↑/↓        Move
  enter      Open directory / choose file
  esc        Cancel

Only .step and .stp files are listed.`,

	ContextVoice: `## Voice Command

  v          Stop recording and send
  esc        Cancel recording

The backend interprets the recording,
e.g. "scale by 2" or "move 10 0 0".
A modifying command reloads the model.`,
}

// GetContextHelp returns the quick reference for ctx, falling back to the
// tree reference.
func GetContextHelp(ctx Context) string {
	if content, ok := ContextHelpContent[ctx]; ok {
		return content
	}
	return ContextHelpContent[ContextTree]
}

// RenderContextHelp renders the quick reference for ctx as a modal.
func RenderContextHelp(ctx Context, theme Theme, width, height int) string {
	content := GetContextHelp(ctx)

	modalWidth := 52
	if width < modalWidth+4 {
		modalWidth = width - 4
	}
	if modalWidth < 20 {
		modalWidth = 20
	}

	titleStyle := theme.Renderer.NewStyle().Foreground(theme.Primary).Bold(true)
	sectionStyle := theme.Renderer.NewStyle().Foreground(theme.Secondary).Bold(true)
	lineStyle := theme.Renderer.NewStyle().Foreground(theme.Subtext)
	keyStyle := theme.Renderer.NewStyle().Foreground(ThemeFg("#FFB86C"))

	var b strings.Builder
	b.WriteString(titleStyle.Render("Quick Reference"))
	b.WriteString("\n")
	b.WriteString(RenderDivider(modalWidth - 4))
	b.WriteString("\n")
	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, "## "):
			b.WriteString(titleStyle.Render(strings.TrimPrefix(line, "## ")))
		case strings.HasPrefix(line, "**") && strings.HasSuffix(line, "**"):
			b.WriteString(sectionStyle.Render(strings.Trim(line, "*")))
		case strings.HasPrefix(line, "  ") && strings.Contains(line[2:], "  "):
			i := 2 + strings.Index(line[2:], "  ")
			b.WriteString(keyStyle.Render(line[:i]))
			b.WriteString(lineStyle.Render(line[i:]))
		default:
			b.WriteString(lineStyle.Render(line))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(theme.MutedText.Render("any key to close"))

	modal := theme.Renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.Primary).
		Padding(1, 2).
		Width(modalWidth).
		Render(b.String())

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, modal)
}
