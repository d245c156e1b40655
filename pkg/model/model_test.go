package model

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const robotTree = `{
  "id": "root", "name": "Robot-EBOM", "type": "Assembly",
  "children": [
    {"id": "arm", "name": "Arm-Assembly", "type": "Assembly", "children": [
      {"id": "upper", "name": "Upper-arm", "type": "Part", "children": []},
      {"id": "lower", "name": "Lower-arm", "type": "Part", "children": null}
    ]},
    {"id": "base", "name": "Base-Assembly", "type": "assembly"}
  ]
}`

func TestParseTree(t *testing.T) {
	tree, err := ParseTree([]byte(robotTree))
	if err != nil {
		t.Fatalf("ParseTree: %v", err)
	}

	want := &AssemblyNode{
		ID: "root", Name: "Robot-EBOM", Kind: KindAssembly,
		Children: []*AssemblyNode{
			{ID: "arm", Name: "Arm-Assembly", Kind: KindAssembly, Children: []*AssemblyNode{
				{ID: "upper", Name: "Upper-arm", Kind: KindPart, Children: []*AssemblyNode{}},
				{ID: "lower", Name: "Lower-arm", Kind: KindPart, Children: []*AssemblyNode{}},
			}},
			{ID: "base", Name: "Base-Assembly", Kind: KindAssembly, Children: []*AssemblyNode{}},
		},
	}
	if diff := cmp.Diff(want, tree); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"Assembly", KindAssembly},
		{"SHELL", KindShell},
		{" face ", KindFace},
		{"Part", KindPart},
		{"Solid", KindPart},
		{"", KindPart},
	}
	for _, tt := range tests {
		if got := ParseKind(tt.in); got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTreeHelpers(t *testing.T) {
	tree, err := ParseTree([]byte(robotTree))
	if err != nil {
		t.Fatal(err)
	}

	if n := tree.Count(); n != 5 {
		t.Errorf("Count = %d, want 5", n)
	}
	if got := tree.Find("lower"); got == nil || got.Name != "Lower-arm" {
		t.Errorf("Find(lower) = %+v", got)
	}
	if got := tree.Find("missing"); got != nil {
		t.Errorf("Find(missing) = %+v, want nil", got)
	}

	path := tree.Path("upper")
	var ids []string
	for _, n := range path {
		ids = append(ids, n.ID)
	}
	if strings.Join(ids, "/") != "root/arm/upper" {
		t.Errorf("Path(upper) = %v", ids)
	}
	if tree.Path("missing") != nil {
		t.Error("Path(missing) should be nil")
	}

	var order []string
	tree.Walk(func(n *AssemblyNode, depth int) bool {
		order = append(order, n.ID)
		return n.ID != "arm"
	})
	if strings.Join(order, ",") != "root,arm,base" {
		t.Errorf("Walk with pruning visited %v", order)
	}
}

func TestValidate(t *testing.T) {
	tree, _ := ParseTree([]byte(robotTree))
	if err := tree.Validate(); err != nil {
		t.Errorf("valid tree rejected: %v", err)
	}

	dup := &AssemblyNode{ID: "a", Children: []*AssemblyNode{{ID: "b"}, {ID: "b"}}}
	if err := dup.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("expected duplicate error, got %v", err)
	}

	noID := &AssemblyNode{ID: "a", Children: []*AssemblyNode{{Name: "anon"}}}
	if err := noID.Validate(); err == nil {
		t.Error("expected error for node without id")
	}

	var nilTree *AssemblyNode
	if err := nilTree.Validate(); err == nil {
		t.Error("expected error for nil tree")
	}
}

func TestParseHasse_LabelShapes(t *testing.T) {
	payload := `{
	  "nodes": [
	    {"id": "a", "data": {"label": "Upper-arm (Part)"}, "position": {"x": 0, "y": 0}, "type": "default"},
	    {"id": "b", "label": "Arm"},
	    {"id": "c"},
	    {"label": "orphan"}
	  ],
	  "edges": [
	    {"id": "ea-b", "source": "a", "target": "b", "type": "smoothstep", "animated": true, "style": {"stroke": "#555"}}
	  ]
	}`
	g, err := ParseHasse([]byte(payload))
	if err != nil {
		t.Fatalf("ParseHasse: %v", err)
	}

	wantLabels := []string{"Upper-arm (Part)", "Arm", "c"}
	if len(g.Nodes) != len(wantLabels) {
		t.Fatalf("got %d nodes, want %d", len(g.Nodes), len(wantLabels))
	}
	for i, want := range wantLabels {
		if g.Nodes[i].Label != want {
			t.Errorf("node %d label = %q, want %q", i, g.Nodes[i].Label, want)
		}
	}
	if len(g.Edges) != 1 || g.Edges[0] != (GraphEdge{Source: "a", Target: "b"}) {
		t.Errorf("edges = %+v", g.Edges)
	}
}

func TestParseHasse_Degrades(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty object", `{}`},
		{"null fields", `{"nodes": null, "edges": null}`},
		{"no edges", `{"nodes": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := ParseHasse([]byte(tt.payload))
			if err != nil {
				t.Fatalf("ParseHasse: %v", err)
			}
			if g.Nodes == nil || g.Edges == nil {
				t.Errorf("expected non-nil empty slices, got nodes=%v edges=%v", g.Nodes, g.Edges)
			}
			if len(g.Nodes) != 0 || len(g.Edges) != 0 {
				t.Errorf("expected empty graph, got %+v", g)
			}
		})
	}

	if _, err := ParseHasse([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestUploadResultOK(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"success with tree", `{"status":"success","tree":{"id":"r","name":"R","type":"Assembly"}}`, true},
		{"success without tree", `{"status":"success"}`, false},
		{"disabled", `{"status":"disabled","message":"Upload disabled in Demo Mode"}`, false},
		{"error with tree", `{"status":"error","tree":{"id":"r"}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseUpload([]byte(tt.payload))
			if err != nil {
				t.Fatalf("ParseUpload: %v", err)
			}
			if got := r.OK(); got != tt.want {
				t.Errorf("OK() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVoiceTranscript(t *testing.T) {
	r, err := ParseVoice([]byte(`{"status":"success","transcription":"hide the base","response":"Hidden.","modified":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := r.Transcript(), "You: \"hide the base\"\nAI: \"Hidden.\""; got != want {
		t.Errorf("Transcript() = %q, want %q", got, want)
	}
	if !r.Modified || r.Tree != nil {
		t.Errorf("unexpected result %+v", r)
	}

	empty := &VoiceResult{Response: "ignored"}
	if empty.Transcript() != "" {
		t.Error("expected empty transcript without transcription")
	}
}
