package ui

import "github.com/vanderheijden86/cadview/pkg/voice"

// Context identifies what the user is looking at, for the help overlay.
type Context string

const (
	// Overlays
	ContextHelp   Context = "help"
	ContextPicker Context = "picker"

	// Views
	ContextDiagram Context = "diagram"
	ContextSearch  Context = "search"
	ContextVoice   Context = "voice"

	// Default
	ContextTree Context = "tree"
)

// CurrentContext returns the current UI context, overlays first.
func (m Model) CurrentContext() Context {
	switch {
	case m.showHelp:
		return ContextHelp
	case m.showPicker:
		return ContextPicker
	case m.showDiagram:
		return ContextDiagram
	case m.tree.IsSearchMode():
		return ContextSearch
	case m.voiceState != voice.StateIdle:
		return ContextVoice
	}
	return ContextTree
}

// Description returns a human-readable name of the context.
func (c Context) Description() string {
	switch c {
	case ContextHelp:
		return "Help overlay"
	case ContextPicker:
		return "Upload picker"
	case ContextDiagram:
		return "Containment diagram"
	case ContextSearch:
		return "Tree search"
	case ContextVoice:
		return "Voice command"
	case ContextTree:
		return "Assembly tree"
	}
	return string(c)
}

// IsOverlay reports whether the context is a modal.
func (c Context) IsOverlay() bool {
	return c == ContextHelp || c == ContextPicker
}
