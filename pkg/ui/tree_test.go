package ui

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"github.com/vanderheijden86/cadview/pkg/app"
	"github.com/vanderheijden86/cadview/pkg/model"
)

func newSampleTree(t *testing.T) TreeModel {
	t.Helper()
	tm := NewTreeModel(TestTheme())
	tm.SetSize(60, 20)
	tm.Build(app.SampleTree())
	return tm
}

func visibleIDs(tm *TreeModel) []string {
	var ids []string
	for _, n := range tm.flatList {
		ids = append(ids, n.Node.ID)
	}
	return ids
}

func TestTree_DefaultExpansion(t *testing.T) {
	tm := newSampleTree(t)
	want := []string{"root", "1", "1-1", "1-2", "2"}
	if diff := cmp.Diff(want, visibleIDs(&tm)); diff != "" {
		t.Errorf("visible rows (-want +got):\n%s", diff)
	}
	if got := tm.CursorID(); got != "root" {
		t.Errorf("cursor = %q, want root", got)
	}
}

func TestTree_DeepTreeStartsFullyExpanded(t *testing.T) {
	deep := &model.AssemblyNode{ID: "d0", Name: "Top", Kind: model.KindAssembly}
	cur := deep
	for _, id := range []string{"d1", "d2", "d3", "d4"} {
		child := &model.AssemblyNode{ID: id, Name: id, Kind: model.KindAssembly}
		cur.Children = []*model.AssemblyNode{child}
		cur = child
	}
	cur.Children = []*model.AssemblyNode{{ID: "leaf", Name: "Leaf", Kind: model.KindPart}}

	tm := NewTreeModel(TestTheme())
	tm.SetSize(60, 20)
	tm.Build(deep)
	want := []string{"d0", "d1", "d2", "d3", "d4", "leaf"}
	if diff := cmp.Diff(want, visibleIDs(&tm)); diff != "" {
		t.Errorf("visible rows (-want +got):\n%s", diff)
	}
}

func TestTree_Navigation(t *testing.T) {
	tm := newSampleTree(t)

	tm.MoveDown()
	if got := tm.CursorID(); got != "1" {
		t.Fatalf("after MoveDown cursor = %q", got)
	}
	tm.CollapseOrJumpToParent() // collapses "1"
	if diff := cmp.Diff([]string{"root", "1", "2"}, visibleIDs(&tm)); diff != "" {
		t.Errorf("after collapse (-want +got):\n%s", diff)
	}
	tm.CollapseOrJumpToParent() // "1" is collapsed: jump to parent
	if got := tm.CursorID(); got != "root" {
		t.Errorf("jump to parent: cursor = %q", got)
	}

	tm.MoveDown()
	tm.ExpandOrMoveToChild() // expands "1"
	tm.ExpandOrMoveToChild() // moves into "1-1"
	if got := tm.CursorID(); got != "1-1" {
		t.Errorf("move to child: cursor = %q", got)
	}

	tm.JumpToBottom()
	if got := tm.CursorID(); got != "2" {
		t.Errorf("JumpToBottom cursor = %q", got)
	}
	tm.MoveDown()
	if got := tm.CursorID(); got != "2" {
		t.Errorf("MoveDown past end moved cursor to %q", got)
	}
	tm.JumpToTop()
	tm.MoveUp()
	if got := tm.CursorID(); got != "root" {
		t.Errorf("MoveUp past start moved cursor to %q", got)
	}
}

func TestTree_LeafToggleIsNoop(t *testing.T) {
	tm := newSampleTree(t)
	tm.SelectByID("1-1")
	before := tm.VisibleCount()
	tm.ToggleExpand()
	if tm.VisibleCount() != before {
		t.Errorf("toggling a leaf changed visible rows: %d -> %d", before, tm.VisibleCount())
	}
}

func TestTree_ExpandCollapseAll(t *testing.T) {
	tm := newSampleTree(t)
	tm.CollapseAll()
	if diff := cmp.Diff([]string{"root"}, visibleIDs(&tm)); diff != "" {
		t.Errorf("CollapseAll (-want +got):\n%s", diff)
	}
	tm.ExpandAll()
	if got := tm.VisibleCount(); got != 5 {
		t.Errorf("ExpandAll visible = %d, want 5", got)
	}
}

func TestTree_RevealExpandsAncestors(t *testing.T) {
	tm := newSampleTree(t)
	tm.CollapseAll()
	if !tm.Reveal("1-2") {
		t.Fatal("Reveal(1-2) = false")
	}
	if got := tm.CursorID(); got != "1-2" {
		t.Errorf("cursor = %q", got)
	}
	if tm.Reveal("missing") {
		t.Error("Reveal of unknown id reported success")
	}
}

func TestTree_BuildKeepsCursorAndExpansion(t *testing.T) {
	tm := newSampleTree(t)
	tm.SelectByID("1")
	tm.ToggleExpand()

	// Same ids in a new tree: cursor and the explicit collapse survive.
	tm.Build(app.SampleTree())
	if got := tm.CursorID(); got != "1" {
		t.Errorf("cursor after rebuild = %q", got)
	}
	if diff := cmp.Diff([]string{"root", "1", "2"}, visibleIDs(&tm)); diff != "" {
		t.Errorf("rows after rebuild (-want +got):\n%s", diff)
	}

	// A tree without the focused id resets the cursor.
	tm.Build(&model.AssemblyNode{ID: "x", Name: "Other", Kind: model.KindPart})
	if got := tm.CursorID(); got != "x" {
		t.Errorf("cursor after replacement = %q", got)
	}
}

func TestTree_StatePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "tree-state.json")

	tm := newSampleTree(t)
	tm.SetStatePath(path)
	tm.SelectByID("1")
	tm.ToggleExpand()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("state file not written: %v", err)
	}
	var state TreeState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]bool{"1": false}, state.Expanded); diff != "" {
		t.Errorf("persisted state (-want +got):\n%s", diff)
	}

	restored := newSampleTree(t)
	restored.SetStatePath(path)
	if diff := cmp.Diff([]string{"root", "1", "2"}, visibleIDs(&restored)); diff != "" {
		t.Errorf("restored rows (-want +got):\n%s", diff)
	}

	// Toggling back to the default removes the entry.
	restored.SelectByID("1")
	restored.ToggleExpand()
	data, _ = os.ReadFile(path)
	state = TreeState{}
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatal(err)
	}
	if len(state.Expanded) != 0 {
		t.Errorf("expected empty explicit map, got %v", state.Expanded)
	}
}

func TestTree_CorruptStateUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree-state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	tm := newSampleTree(t)
	tm.SetStatePath(path)
	if got := tm.VisibleCount(); got != 5 {
		t.Errorf("visible = %d, want defaults (5)", got)
	}
}

func TestTree_Search(t *testing.T) {
	tm := newSampleTree(t)
	tm.CollapseAll()
	tm.EnterSearchMode()
	for _, r := range "arm" {
		tm.SearchAddChar(r)
	}
	// Arm-Assembly, Upper-arm, Lower-arm
	if got := tm.SearchMatchCount(); got != 3 {
		t.Fatalf("matches = %d, want 3", got)
	}
	if got := tm.CursorID(); got != "1" {
		t.Errorf("first match cursor = %q", got)
	}
	tm.NextSearchMatch()
	if got := tm.CursorID(); got != "1-1" {
		t.Errorf("next match cursor = %q (collapsed match must be revealed)", got)
	}
	tm.PrevSearchMatch()
	tm.PrevSearchMatch()
	if got := tm.CursorID(); got != "1-2" {
		t.Errorf("wrapped prev match cursor = %q", got)
	}

	tm.SearchBackspace()
	tm.SearchBackspace()
	tm.SearchBackspace()
	if tm.SearchQuery() != "" || tm.SearchMatchCount() != 0 {
		t.Errorf("cleared search: query=%q matches=%d", tm.SearchQuery(), tm.SearchMatchCount())
	}
	tm.ExitSearchMode()
	if tm.IsSearchMode() {
		t.Error("still in search mode")
	}
}

func TestTree_ViewRendersHierarchy(t *testing.T) {
	tm := newSampleTree(t)
	out := tm.View("1-2", true)
	for _, want := range []string{"Robot-EBOM", "├── ", "└── ", "Lower-arm", "Base-Assembly", "▾"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q:\n%s", want, out)
		}
	}
}

func TestTree_ViewEmpty(t *testing.T) {
	tm := NewTreeModel(TestTheme())
	tm.Build(nil)
	if out := tm.View("", false); !strings.Contains(out, "No model loaded") {
		t.Errorf("empty view = %q", out)
	}
	if tm.CursorNode() != nil {
		t.Error("empty tree has a cursor node")
	}
}

func TestTree_Scrolling(t *testing.T) {
	root := &model.AssemblyNode{ID: "root", Name: "Big", Kind: model.KindAssembly}
	for i := 0; i < 50; i++ {
		id := string(rune('a'+i%26)) + strings.Repeat("x", i/26)
		root.Children = append(root.Children, &model.AssemblyNode{ID: id, Name: id, Kind: model.KindPart})
	}
	tm := NewTreeModel(TestTheme())
	tm.SetSize(40, 10)
	tm.Build(root)
	tm.JumpToBottom()
	out := tm.View("", false)
	if !strings.Contains(out, "of 51") {
		t.Errorf("missing position indicator:\n%s", out)
	}
	if lines := strings.Count(out, "\n") + 1; lines > 10 {
		t.Errorf("view has %d lines, pane height is 10", lines)
	}
}

func TestBuildTreePrefix(t *testing.T) {
	tm := newSampleTree(t)
	got := map[string]string{}
	for _, n := range tm.flatList {
		got[n.Node.ID] = tm.buildTreePrefix(n)
	}
	want := map[string]string{
		"root": "",
		"1":    "├── ",
		"1-1":  "│   ├── ",
		"1-2":  "│   └── ",
		"2":    "└── ",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("prefixes (-want +got):\n%s", diff)
	}
}
