package hasse

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vanderheijden86/cadview/pkg/model"

	"github.com/google/go-cmp/cmp"
)

func robot() *model.AssemblyNode {
	return &model.AssemblyNode{
		ID: "root", Name: "Robot-EBOM", Kind: model.KindAssembly,
		Children: []*model.AssemblyNode{
			{ID: "arm", Name: "Arm-Assembly", Kind: model.KindAssembly, Children: []*model.AssemblyNode{
				{ID: "upper", Name: "Upper-arm", Kind: model.KindPart},
				{ID: "lower", Name: "Lower-arm", Kind: model.KindPart},
			}},
			{ID: "base", Name: "Base-Assembly", Kind: model.KindAssembly},
		},
	}
}

func TestDerive(t *testing.T) {
	g := Derive(robot())

	wantNodes := []model.GraphNode{
		{ID: "root", Label: "Robot-EBOM (Assembly)"},
		{ID: "arm", Label: "Arm-Assembly (Assembly)"},
		{ID: "upper", Label: "Upper-arm (Part)"},
		{ID: "lower", Label: "Lower-arm (Part)"},
		{ID: "base", Label: "Base-Assembly (Assembly)"},
	}
	wantEdges := []model.GraphEdge{
		{Source: "arm", Target: "root"},
		{Source: "upper", Target: "arm"},
		{Source: "lower", Target: "arm"},
		{Source: "base", Target: "root"},
	}
	if diff := cmp.Diff(wantNodes, g.Nodes); diff != "" {
		t.Errorf("nodes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantEdges, g.Edges); diff != "" {
		t.Errorf("edges (-want +got):\n%s", diff)
	}
}

func TestDerive_SharedPartAndNil(t *testing.T) {
	bolt := &model.AssemblyNode{ID: "bolt", Name: "Bolt", Kind: model.KindPart}
	tree := &model.AssemblyNode{ID: "root", Name: "Root", Kind: model.KindAssembly, Children: []*model.AssemblyNode{
		{ID: "a", Name: "A", Kind: model.KindAssembly, Children: []*model.AssemblyNode{bolt}},
		{ID: "b", Name: "B", Kind: model.KindAssembly, Children: []*model.AssemblyNode{bolt, bolt}},
	}}
	g := Derive(tree)
	if len(g.Nodes) != 4 {
		t.Errorf("shared part should appear once, got %d nodes", len(g.Nodes))
	}
	if len(g.Edges) != 4 {
		t.Errorf("expected 4 edges (bolt->a, bolt->b, a->root, b->root), got %+v", g.Edges)
	}

	empty := Derive(nil)
	if empty.Nodes == nil || empty.Edges == nil || len(empty.Nodes) != 0 {
		t.Errorf("Derive(nil) = %+v", empty)
	}
}

func TestReduce_RemovesTransitiveEdges(t *testing.T) {
	nodes := []model.GraphNode{{ID: "part"}, {ID: "sub"}, {ID: "root"}}
	edges := []model.GraphEdge{
		{Source: "part", Target: "sub"},
		{Source: "part", Target: "root"},
		{Source: "sub", Target: "root"},
	}
	got := Reduce(nodes, edges)
	want := []model.GraphEdge{{Source: "part", Target: "sub"}, {Source: "sub", Target: "root"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Reduce (-want +got):\n%s", diff)
	}

	cyclic := []model.GraphEdge{{Source: "part", Target: "sub"}, {Source: "sub", Target: "part"}}
	if got := Reduce(nodes, cyclic); len(got) != 2 {
		t.Errorf("cyclic input should be returned unchanged, got %+v", got)
	}
}

func TestNewPayload(t *testing.T) {
	p := NewPayload(Derive(robot()))
	if len(p.Nodes) != 5 || p.Nodes[2].Data["label"] != "Upper-arm (Part)" {
		t.Errorf("payload nodes = %+v", p.Nodes)
	}
	if p.Edges[0].ID != "earm-root" || p.Edges[0].Type != "smoothstep" {
		t.Errorf("payload edge = %+v", p.Edges[0])
	}
}

func scenario() *model.HasseGraph {
	return &model.HasseGraph{
		Nodes: []model.GraphNode{{ID: "A", Label: "A"}, {ID: "B", Label: "B"}, {ID: "C", Label: "C"}},
		Edges: []model.GraphEdge{{Source: "B", Target: "A"}, {Source: "C", Target: "A"}},
	}
}

func TestView_LoadReady(t *testing.T) {
	v := NewView(FetcherFunc(func(context.Context) (*model.HasseGraph, error) {
		return scenario(), nil
	}))
	if v.State() != StateIdle || v.Diagram() != nil {
		t.Fatal("new view should be idle and empty")
	}

	if err := v.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.State() != StateReady {
		t.Errorf("state = %v, want ready", v.State())
	}
	d := v.Diagram()
	a, _ := d.Node("A")
	b, _ := d.Node("B")
	if a.Y >= b.Y {
		t.Errorf("A should be drawn above B: A.Y=%v B.Y=%v", a.Y, b.Y)
	}
	if a.Width == 0 || a.Label != "A" {
		t.Errorf("node not sized/labelled: %+v", a)
	}
	if len(d.Edges) != 2 {
		t.Errorf("edges = %d", len(d.Edges))
	}
}

func TestView_ErrorKeepsPreviousDiagram(t *testing.T) {
	fail := false
	v := NewView(FetcherFunc(func(context.Context) (*model.HasseGraph, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return scenario(), nil
	}))
	if err := v.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := v.Diagram()

	fail = true
	if err := v.Load(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if v.State() != StateError || v.Err() == nil {
		t.Errorf("state = %v err = %v", v.State(), v.Err())
	}
	if v.Diagram() != before {
		t.Error("failed load replaced the diagram")
	}
}

func TestView_MissingEndpointsNotRendered(t *testing.T) {
	v := NewView(FetcherFunc(func(context.Context) (*model.HasseGraph, error) {
		return &model.HasseGraph{
			Nodes: []model.GraphNode{{ID: "A"}},
			Edges: []model.GraphEdge{{Source: "ghost", Target: "A"}},
		}, nil
	}))
	if err := v.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	d := v.Diagram()
	if len(d.Edges) != 0 || len(d.Dropped) != 1 {
		t.Errorf("edges=%+v dropped=%+v", d.Edges, d.Dropped)
	}
}

// gatedFetcher blocks each call until released and hands back a graph
// specific to that call.
type gatedFetcher struct {
	mu      sync.Mutex
	calls   int
	started chan int
	release map[int]chan struct{}
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{started: make(chan int, 8), release: make(map[int]chan struct{})}
}

func (f *gatedFetcher) gate(call int) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.release[call]
	if !ok {
		ch = make(chan struct{})
		f.release[call] = ch
	}
	return ch
}

func (f *gatedFetcher) Hasse(ctx context.Context) (*model.HasseGraph, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	gate := f.gate(call)
	f.started <- call
	<-gate
	id := "first"
	if call == 2 {
		id = "second"
	}
	return &model.HasseGraph{Nodes: []model.GraphNode{{ID: id}}}, nil
}

func TestView_LastRequestWins(t *testing.T) {
	f := newGatedFetcher()
	v := NewView(f)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() { defer wg.Done(); errs[0] = v.Load(context.Background()) }()
	<-f.started
	wg.Add(1)
	go func() { defer wg.Done(); errs[1] = v.Load(context.Background()) }()
	<-f.started

	// The newer request resolves first, then the stale one.
	close(f.gate(2))
	close(f.gate(1))
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("load %d returned %v", i, err)
		}
	}
	d := v.Diagram()
	if d == nil || len(d.Nodes) != 1 || d.Nodes[0].ID != "second" {
		t.Errorf("stale result applied: %+v", d)
	}
}

func TestView_CloseMidFetchIsNoop(t *testing.T) {
	f := newGatedFetcher()
	v := NewView(f)

	done := make(chan error, 1)
	go func() { done <- v.Load(context.Background()) }()
	<-f.started

	v.Close()
	close(f.gate(1))

	if err := <-done; err != nil {
		t.Errorf("Load after Close returned %v", err)
	}
	if v.Diagram() != nil {
		t.Error("diagram updated after Close")
	}
	if v.State() != StateLoading {
		t.Errorf("state changed after Close: %v", v.State())
	}
	if err := v.Load(context.Background()); err != nil || f.calls != 1 {
		t.Errorf("Load on closed view should not fetch: err=%v calls=%d", err, f.calls)
	}
}

func TestView_NodeClickForwards(t *testing.T) {
	var clicked []string
	v := NewView(FetcherFunc(func(context.Context) (*model.HasseGraph, error) {
		return scenario(), nil
	}), WithNodeClick(func(id string) { clicked = append(clicked, id) }))
	_ = v.Load(context.Background())
	before := v.Diagram()

	v.NodeClick("B")
	v.NodeClick("not-in-diagram")

	if diff := cmp.Diff([]string{"B", "not-in-diagram"}, clicked); diff != "" {
		t.Errorf("clicks (-want +got):\n%s", diff)
	}
	if v.Diagram() != before || v.State() != StateReady {
		t.Error("NodeClick touched diagram state")
	}

	NewView(nil).NodeClick("x") // no callback: no panic
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{StateIdle: "idle", StateLoading: "loading", StateReady: "ready", StateError: "error", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q", s, s.String())
		}
	}
}
