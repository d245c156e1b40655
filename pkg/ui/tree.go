// tree.go - Assembly tree pane: expandable hierarchy of assemblies, parts,
// shells and faces.
package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/charmbracelet/lipgloss"

	"github.com/vanderheijden86/cadview/pkg/debug"
	"github.com/vanderheijden86/cadview/pkg/model"
)

// TreeState is the persisted expand/collapse state of the tree pane.
//
// File format (JSON):
//
//	{
//	  "version": 1,
//	  "expanded": {
//	    "1": false,   // explicitly collapsed
//	    "1-2": true   // explicitly expanded
//	  }
//	}
//
// Only explicit user changes are stored; nodes not in the map use the
// default (every node expanded). Unknown ids are ignored, so a
// state file outlives the model it was written for.
type TreeState struct {
	Version  int             `json:"version"`
	Expanded map[string]bool `json:"expanded"`
}

// TreeStateVersion is the current schema version for tree persistence
const TreeStateVersion = 1

// TreeNode is one row source of the tree pane.
type TreeNode struct {
	Node     *model.AssemblyNode
	Children []*TreeNode
	Parent   *TreeNode
	Expanded bool
	Depth    int
}

// defaultExpanded: a freshly loaded model shows its whole hierarchy.
func (n *TreeNode) defaultExpanded() bool {
	return true
}

// TreeModel is the explicit expansion map plus a cursor over the flattened
// visible rows. It never owns the selection: the shell's store does, and
// the tree only renders it.
type TreeModel struct {
	root     *TreeNode
	flatList []*TreeNode
	nodeMap  map[string]*TreeNode
	cursor   int
	offset   int
	theme    Theme
	width    int
	height   int

	// statePath is where expansion state persists; empty disables it.
	statePath string
	// explicit records user toggles so they survive tree replacement.
	explicit map[string]bool

	searchMode    bool
	searchQuery   string
	searchMatches []*TreeNode
	searchIndex   int
}

// NewTreeModel creates an empty tree model.
func NewTreeModel(theme Theme) TreeModel {
	return TreeModel{
		theme:    theme,
		nodeMap:  make(map[string]*TreeNode),
		explicit: make(map[string]bool),
	}
}

// SetStatePath enables persistence to path and loads any saved state.
func (t *TreeModel) SetStatePath(path string) {
	t.statePath = path
	t.loadState()
	t.applyExplicit()
	t.rebuildFlatList()
}

func (t *TreeModel) saveState() {
	if t.statePath == "" {
		return
	}
	state := TreeState{Version: TreeStateVersion, Expanded: t.explicit}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		debug.Log("tree: marshal state: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.statePath), 0o755); err != nil {
		debug.Log("tree: create state dir: %v", err)
		return
	}
	if err := os.WriteFile(t.statePath, data, 0o644); err != nil {
		debug.Log("tree: write state %s: %v", t.statePath, err)
	}
}

func (t *TreeModel) loadState() {
	if t.statePath == "" {
		return
	}
	data, err := os.ReadFile(t.statePath)
	if err != nil {
		return
	}
	var state TreeState
	if err := json.Unmarshal(data, &state); err != nil {
		debug.Log("tree: invalid state file, using defaults: %v", err)
		return
	}
	if state.Expanded != nil {
		t.explicit = state.Expanded
	}
}

// applyExplicit overlays remembered toggles on the current nodes.
func (t *TreeModel) applyExplicit() {
	for id, expanded := range t.explicit {
		if n, ok := t.nodeMap[id]; ok {
			n.Expanded = expanded
		}
	}
}

// setExpanded changes one node and records it when it differs from the
// default.
func (t *TreeModel) setExpanded(n *TreeNode, expanded bool) {
	n.Expanded = expanded
	id := n.Node.ID
	if expanded == n.defaultExpanded() {
		delete(t.explicit, id)
	} else {
		t.explicit[id] = expanded
	}
}

// Build replaces the tree wholesale. The cursor follows the previously
// focused id when it still exists.
func (t *TreeModel) Build(root *model.AssemblyNode) {
	focused := t.CursorID()
	t.root = nil
	t.nodeMap = make(map[string]*TreeNode)
	if root != nil {
		t.root = t.buildNode(root, nil, 0)
	}
	t.applyExplicit()
	t.rebuildFlatList()
	if focused == "" || !t.SelectByID(focused) {
		t.cursor = 0
	}
	t.ensureCursorVisible()
	if t.searchQuery != "" {
		t.executeSearch()
	}
}

func (t *TreeModel) buildNode(n *model.AssemblyNode, parent *TreeNode, depth int) *TreeNode {
	tn := &TreeNode{Node: n, Parent: parent, Depth: depth}
	tn.Expanded = tn.defaultExpanded()
	// First occurrence wins for lookups when ids repeat.
	if _, dup := t.nodeMap[n.ID]; !dup {
		t.nodeMap[n.ID] = tn
	}
	for _, c := range n.Children {
		if c == nil {
			continue
		}
		tn.Children = append(tn.Children, t.buildNode(c, tn, depth+1))
	}
	return tn
}

// SetSize sets the pane dimensions.
func (t *TreeModel) SetSize(width, height int) {
	t.width = width
	t.height = height
	t.ensureCursorVisible()
}

func (t *TreeModel) rebuildFlatList() {
	t.flatList = t.flatList[:0]
	if t.root != nil {
		t.appendVisible(t.root)
	}
	if t.cursor >= len(t.flatList) {
		t.cursor = len(t.flatList) - 1
	}
	if t.cursor < 0 {
		t.cursor = 0
	}
}

func (t *TreeModel) appendVisible(n *TreeNode) {
	t.flatList = append(t.flatList, n)
	if n.Expanded {
		for _, c := range n.Children {
			t.appendVisible(c)
		}
	}
}

// CursorNode returns the node under the cursor, or nil.
func (t *TreeModel) CursorNode() *TreeNode {
	if t.cursor >= 0 && t.cursor < len(t.flatList) {
		return t.flatList[t.cursor]
	}
	return nil
}

// CursorID returns the id under the cursor, or "".
func (t *TreeModel) CursorID() string {
	if n := t.CursorNode(); n != nil {
		return n.Node.ID
	}
	return ""
}

// SelectByID moves the cursor to id if it is visible.
func (t *TreeModel) SelectByID(id string) bool {
	for i, n := range t.flatList {
		if n.Node.ID == id {
			t.cursor = i
			t.ensureCursorVisible()
			return true
		}
	}
	return false
}

// Reveal expands the ancestors of id and moves the cursor to it. Used when
// the selection changes from the diagram or the browser mirror.
func (t *TreeModel) Reveal(id string) bool {
	n, ok := t.nodeMap[id]
	if !ok {
		return false
	}
	changed := false
	for p := n.Parent; p != nil; p = p.Parent {
		if !p.Expanded {
			t.setExpanded(p, true)
			changed = true
		}
	}
	if changed {
		t.rebuildFlatList()
		t.saveState()
	}
	return t.SelectByID(id)
}

// VisibleCount is the number of rows currently shown (expanded nodes only).
func (t *TreeModel) VisibleCount() int {
	return len(t.flatList)
}

func (t *TreeModel) MoveDown() {
	if t.cursor < len(t.flatList)-1 {
		t.cursor++
		t.ensureCursorVisible()
	}
}

func (t *TreeModel) MoveUp() {
	if t.cursor > 0 {
		t.cursor--
		t.ensureCursorVisible()
	}
}

func (t *TreeModel) JumpToTop() {
	t.cursor = 0
	t.ensureCursorVisible()
}

func (t *TreeModel) JumpToBottom() {
	if len(t.flatList) > 0 {
		t.cursor = len(t.flatList) - 1
		t.ensureCursorVisible()
	}
}

// ToggleExpand expands or collapses the node under the cursor.
func (t *TreeModel) ToggleExpand() {
	n := t.CursorNode()
	if n == nil || len(n.Children) == 0 {
		return
	}
	t.setExpanded(n, !n.Expanded)
	t.rebuildFlatList()
	t.saveState()
	t.ensureCursorVisible()
}

// ExpandOrMoveToChild handles → / l: expand a collapsed node, or step into
// the first child of an expanded one.
func (t *TreeModel) ExpandOrMoveToChild() {
	n := t.CursorNode()
	if n == nil || len(n.Children) == 0 {
		return
	}
	if !n.Expanded {
		t.ToggleExpand()
		return
	}
	t.SelectByID(n.Children[0].Node.ID)
}

// CollapseOrJumpToParent handles ← / h: collapse an expanded node, or jump
// to the parent.
func (t *TreeModel) CollapseOrJumpToParent() {
	n := t.CursorNode()
	if n == nil {
		return
	}
	if len(n.Children) > 0 && n.Expanded {
		t.ToggleExpand()
		return
	}
	if n.Parent != nil {
		t.SelectByID(n.Parent.Node.ID)
	}
}

// ExpandAll expands every container.
func (t *TreeModel) ExpandAll() {
	t.setAll(true)
}

// CollapseAll collapses every container.
func (t *TreeModel) CollapseAll() {
	t.setAll(false)
}

func (t *TreeModel) setAll(expanded bool) {
	focused := t.CursorID()
	var walk func(n *TreeNode)
	walk = func(n *TreeNode) {
		if len(n.Children) > 0 {
			t.setExpanded(n, expanded)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	if t.root != nil {
		walk(t.root)
	}
	t.rebuildFlatList()
	t.saveState()
	if !t.SelectByID(focused) {
		t.cursor = 0
	}
	t.ensureCursorVisible()
}

func (t *TreeModel) effectiveVisibleCount() int {
	visible := t.height
	if visible <= 0 {
		visible = 20
	}
	if t.searchMode {
		visible--
	}
	if len(t.flatList) > visible {
		visible-- // position indicator
	}
	return max(visible, 1)
}

func (t *TreeModel) ensureCursorVisible() {
	if len(t.flatList) == 0 {
		t.offset = 0
		return
	}
	visible := t.effectiveVisibleCount()
	if t.cursor < t.offset {
		t.offset = t.cursor
	}
	if t.cursor >= t.offset+visible {
		t.offset = t.cursor - visible + 1
	}
	t.offset = max(0, min(t.offset, len(t.flatList)-visible))
}

// ── Search ──

func (t *TreeModel) EnterSearchMode() {
	t.searchMode = true
	t.searchQuery = ""
	t.searchMatches = nil
	t.searchIndex = 0
}

func (t *TreeModel) ExitSearchMode() {
	t.searchMode = false
}

func (t *TreeModel) IsSearchMode() bool { return t.searchMode }

func (t *TreeModel) SearchQuery() string { return t.searchQuery }

func (t *TreeModel) SearchMatchCount() int { return len(t.searchMatches) }

func (t *TreeModel) SearchAddChar(ch rune) {
	t.searchQuery += string(ch)
	t.executeSearch()
}

func (t *TreeModel) SearchBackspace() {
	if r := []rune(t.searchQuery); len(r) > 0 {
		t.searchQuery = string(r[:len(r)-1])
	}
	t.executeSearch()
}

// executeSearch matches names and ids across collapsed nodes too, and
// reveals the first match.
func (t *TreeModel) executeSearch() {
	t.searchMatches = nil
	t.searchIndex = 0
	if t.searchQuery == "" || t.root == nil {
		return
	}
	q := strings.ToLower(t.searchQuery)
	var walk func(n *TreeNode)
	walk = func(n *TreeNode) {
		if strings.Contains(strings.ToLower(n.Node.Name), q) || strings.Contains(strings.ToLower(n.Node.ID), q) {
			t.searchMatches = append(t.searchMatches, n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.root)
	if len(t.searchMatches) > 0 {
		t.Reveal(t.searchMatches[0].Node.ID)
	}
}

// NextSearchMatch cycles forward through matches (n).
func (t *TreeModel) NextSearchMatch() {
	if len(t.searchMatches) == 0 {
		return
	}
	t.searchIndex = (t.searchIndex + 1) % len(t.searchMatches)
	t.Reveal(t.searchMatches[t.searchIndex].Node.ID)
}

// PrevSearchMatch cycles backward through matches (N).
func (t *TreeModel) PrevSearchMatch() {
	if len(t.searchMatches) == 0 {
		return
	}
	t.searchIndex = (t.searchIndex - 1 + len(t.searchMatches)) % len(t.searchMatches)
	t.Reveal(t.searchMatches[t.searchIndex].Node.ID)
}

func (t *TreeModel) isSearchMatch(n *TreeNode) bool {
	for _, m := range t.searchMatches {
		if m == n {
			return true
		}
	}
	return false
}

// ── Rendering ──

// View renders the visible rows. selectedID is the shared selection; it is
// highlighted independently of the cursor.
func (t *TreeModel) View(selectedID string, hasSelection bool) string {
	if t.root == nil {
		return t.theme.MutedText.Render("No model loaded.\n\nPress u to upload a STEP file.")
	}

	visible := t.effectiveVisibleCount()
	start := t.offset
	end := min(start+visible, len(t.flatList))

	var sb strings.Builder
	for i := start; i < end; i++ {
		n := t.flatList[i]
		selected := hasSelection && n.Node.ID == selectedID
		sb.WriteString(t.renderNode(n, i == t.cursor, selected))
		if i < end-1 {
			sb.WriteString("\n")
		}
	}
	if len(t.flatList) > visible {
		sb.WriteString("\n")
		sb.WriteString(t.theme.MutedText.Render(fmt.Sprintf(" %d-%d of %d", start+1, end, len(t.flatList))))
	}
	if t.searchMode {
		sb.WriteString("\n")
		sb.WriteString(t.renderSearchBar())
	}
	return sb.String()
}

func (t *TreeModel) renderNode(n *TreeNode, isCursor, isSelected bool) string {
	r := t.theme.Renderer
	width := t.width
	if width <= 0 {
		width = 40
	}

	var left strings.Builder
	prefix := t.buildTreePrefix(n)
	left.WriteString(t.theme.MutedText.Render(prefix))
	left.WriteString(r.NewStyle().Foreground(t.theme.Secondary).Render(expandIndicator(n)))
	left.WriteString(" ")
	icon, iconColor := t.theme.KindIcon(n.Node.Kind)
	left.WriteString(r.NewStyle().Foreground(iconColor).Bold(true).Render(icon))
	left.WriteString(" ")

	fixed := lipgloss.Width(prefix) + 4
	name := n.Node.Name
	if name == "" {
		name = n.Node.ID
	}
	name = truncateRunesHelper(name, max(width-fixed, 3), "…")

	nameStyle := r.NewStyle()
	switch {
	case isSelected:
		nameStyle = t.theme.EmphasisText
	case t.isSearchMatch(n):
		nameStyle = nameStyle.Foreground(ColorWarning)
	}
	left.WriteString(nameStyle.Render(name))

	row := left.String()
	if isCursor {
		row = t.theme.Selected.Render(row)
	}
	return r.NewStyle().MaxWidth(width).Render(row)
}

// buildTreePrefix draws the indentation and branch characters.
func (t *TreeModel) buildTreePrefix(n *TreeNode) string {
	if n.Parent == nil {
		return ""
	}
	var parts []string
	for a := n.Parent; a.Parent != nil; a = a.Parent {
		if isLastChild(a) {
			parts = append(parts, "    ")
		} else {
			parts = append(parts, "│   ")
		}
	}
	// parts were collected leaf-to-root.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	if isLastChild(n) {
		parts = append(parts, "└── ")
	} else {
		parts = append(parts, "├── ")
	}
	return strings.Join(parts, "")
}

func isLastChild(n *TreeNode) bool {
	if n.Parent == nil {
		return true
	}
	s := n.Parent.Children
	return len(s) > 0 && s[len(s)-1] == n
}

func expandIndicator(n *TreeNode) string {
	if len(n.Children) == 0 {
		return "•"
	}
	if n.Expanded {
		return "▾"
	}
	return "▸"
}

func (t *TreeModel) renderSearchBar() string {
	info := ""
	if len(t.searchMatches) > 0 {
		info = fmt.Sprintf(" [%d/%d]", t.searchIndex+1, len(t.searchMatches))
	} else if t.searchQuery != "" {
		info = " [no matches]"
	}
	return t.theme.PrimaryBold.Render("/" + t.searchQuery + info)
}
