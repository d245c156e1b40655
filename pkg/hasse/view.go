// Package hasse fetches, lays out and holds the containment (Hasse) diagram
// of the current assembly, and derives such diagrams from assembly trees.
package hasse

import (
	"context"
	"sync"
	"time"

	"github.com/vanderheijden86/cadview/pkg/debug"
	"github.com/vanderheijden86/cadview/pkg/layout"
	"github.com/vanderheijden86/cadview/pkg/model"

	"go.uber.org/zap"
)

// State is the lifecycle of a View.
type State int

const (
	// StateIdle means nothing has been requested yet.
	StateIdle State = iota
	// StateLoading means a fetch is in flight.
	StateLoading
	// StateReady means the last fetch succeeded and its diagram is shown.
	StateReady
	// StateError means the last fetch failed; the previous diagram is kept.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Fetcher supplies the containment graph. The backend client implements it.
type Fetcher interface {
	Hasse(ctx context.Context) (*model.HasseGraph, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (*model.HasseGraph, error)

// Hasse implements Fetcher.
func (f FetcherFunc) Hasse(ctx context.Context) (*model.HasseGraph, error) {
	return f(ctx)
}

// Diagram is a laid-out graph. Nodes carry their computed top-left position
// and size; Edges holds only connectors whose endpoints both exist.
type Diagram struct {
	Nodes   []model.GraphNode
	Edges   []layout.Path
	Width   float64
	Height  float64
	Ranks   int
	Dropped []layout.DroppedEdge
	Acyclic bool
}

// Empty reports whether the diagram has no nodes.
func (d *Diagram) Empty() bool {
	return d == nil || len(d.Nodes) == 0
}

// Node returns the node with the given id.
func (d *Diagram) Node(id string) (model.GraphNode, bool) {
	if d == nil {
		return model.GraphNode{}, false
	}
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return model.GraphNode{}, false
}

// Build lays out g. Nodes without a size get the layouter's default. A nil
// layouter selects the layered one.
func Build(g *model.HasseGraph, l layout.Layouter) *Diagram {
	if g == nil {
		g = &model.HasseGraph{}
	}
	if l == nil {
		l = layout.NewLayered()
	}
	nodes := make([]layout.Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, layout.Node{ID: n.ID, Width: n.Width, Height: n.Height})
	}
	edges := make([]layout.Edge, 0, len(g.Edges))
	for _, e := range g.Edges {
		edges = append(edges, layout.Edge{Source: e.Source, Target: e.Target})
	}

	res := l.Layout(nodes, edges)

	d := &Diagram{
		Nodes:   make([]model.GraphNode, 0, len(res.Nodes)),
		Edges:   res.Edges,
		Width:   res.Width,
		Height:  res.Height,
		Ranks:   res.Ranks,
		Dropped: res.Dropped,
		Acyclic: res.Acyclic,
	}
	labels := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, ok := labels[n.ID]; !ok {
			labels[n.ID] = n.Label
		}
	}
	for _, p := range res.Nodes {
		d.Nodes = append(d.Nodes, model.GraphNode{
			ID:     p.ID,
			Label:  labels[p.ID],
			X:      p.X,
			Y:      p.Y,
			Width:  p.Width,
			Height: p.Height,
		})
	}
	return d
}

// View owns the displayed diagram. Every Load starts a new generation; a
// result is applied only if its generation is still the latest and the view
// is open, so a slow response never overwrites a newer one and a response
// arriving after Close is dropped without error.
type View struct {
	fetcher     Fetcher
	layouter    layout.Layouter
	onNodeClick func(id string)

	mu         sync.Mutex
	state      State
	diagram    *Diagram
	lastErr    error
	generation uint64
	cancel     context.CancelFunc
	closed     bool
}

// ViewOption configures a View.
type ViewOption func(*View)

// WithNodeClick sets the callback NodeClick forwards to.
func WithNodeClick(fn func(id string)) ViewOption {
	return func(v *View) { v.onNodeClick = fn }
}

// WithLayouter replaces the default layered layouter.
func WithLayouter(l layout.Layouter) ViewOption {
	return func(v *View) { v.layouter = l }
}

// NewView returns an idle view.
func NewView(f Fetcher, opts ...ViewOption) *View {
	v := &View{fetcher: f, layouter: layout.NewLayered()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Load fetches the graph, lays it out, and swaps it in. It returns the fetch
// error when this load was the latest one and failed; a superseded or
// post-Close load returns nil and changes nothing.
func (v *View) Load(ctx context.Context) error {
	gen, ctx, ok := v.begin(ctx)
	if !ok {
		return nil
	}
	log := debug.Logger().With(zap.Uint64("generation", gen))

	start := time.Now()
	g, err := v.fetcher.Hasse(ctx)
	var d *Diagram
	if err == nil {
		d = Build(g, v.layouter)
		log.Debug("hasse diagram laid out",
			zap.Int("nodes", len(d.Nodes)),
			zap.Int("edges", len(d.Edges)),
			zap.Int("dropped", len(d.Dropped)),
			zap.Duration("elapsed", time.Since(start)))
	}
	return v.finish(gen, d, err)
}

func (v *View) begin(ctx context.Context) (uint64, context.Context, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return 0, ctx, false
	}
	if v.cancel != nil {
		v.cancel()
	}
	ctx, v.cancel = context.WithCancel(ctx)
	v.generation++
	v.state = StateLoading
	return v.generation, ctx, true
}

func (v *View) finish(gen uint64, d *Diagram, err error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || gen != v.generation {
		debug.Logger().Debug("discarding stale hasse result",
			zap.Uint64("generation", gen),
			zap.Uint64("latest", v.generation),
			zap.Bool("closed", v.closed))
		return nil
	}
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	if err != nil {
		debug.Logger().Warn("hasse fetch failed", zap.Error(err))
		v.state = StateError
		v.lastErr = err
		return err
	}
	v.diagram = d
	v.state = StateReady
	v.lastErr = nil
	return nil
}

// Close marks the view unmounted and cancels any in-flight load.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}

// Closed reports whether Close was called.
func (v *View) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// NodeClick forwards id to the click callback. Diagram state is untouched.
func (v *View) NodeClick(id string) {
	if v.onNodeClick != nil {
		v.onNodeClick(id)
	}
}

// State returns the current lifecycle state.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Err returns the error of the last failed load, or nil.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

// Diagram returns the displayed diagram, or nil before the first success.
// The returned value is never modified by the view.
func (v *View) Diagram() *Diagram {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.diagram
}
