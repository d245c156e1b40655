// Package layout places the nodes of a directed graph in discrete layers
// (ranks) so the graph reads as a partial order: every edge runs from a lower
// rank to a strictly higher one, and nodes in the same rank never overlap.
//
// The Layouter interface is what the diagram views depend on; Layered is the
// default Sugiyama-style implementation.
package layout

// Node is a box to place. A zero Width or Height is replaced by the
// layouter's default node size.
type Node struct {
	ID     string
	Width  float64
	Height float64
}

// Edge is directed from Source (lower rank) to Target (higher rank).
type Edge struct {
	Source string
	Target string
}

// Direction controls which way ranks grow on screen.
type Direction string

const (
	// BottomToTop draws rank 0 at the bottom; edges point upward.
	BottomToTop Direction = "BT"
	// TopToBottom draws rank 0 at the top; edges point downward.
	TopToBottom Direction = "TB"
)

// Point is a 2D coordinate in layout space (origin top-left, y down).
type Point struct {
	X float64
	Y float64
}

// Position is the placement of one input node. X and Y are the top-left
// corner of its box.
type Position struct {
	ID     string
	X      float64
	Y      float64
	Width  float64
	Height float64
	Rank   int
	Order  int // index within its rank, left to right
}

// Center returns the middle of the node box.
func (p Position) Center() Point {
	return Point{X: p.X + p.Width/2, Y: p.Y + p.Height/2}
}

// Path is the routed polyline of one kept edge, from the source box border
// through any intermediate layers to the target box border.
type Path struct {
	Source string
	Target string
	Points []Point
}

// DroppedEdge is an input edge the layout ignored.
type DroppedEdge struct {
	Edge
	Reason string
}

// Drop reasons.
const (
	ReasonMissingSource = "missing source"
	ReasonMissingTarget = "missing target"
	ReasonSelfLoop      = "self loop"
	ReasonDuplicate     = "duplicate"
)

// Result is a finished layout.
type Result struct {
	// Nodes are in input order, one per distinct input id.
	Nodes []Position
	// Edges are the kept edges in input order.
	Edges   []Path
	Dropped []DroppedEdge
	// Acyclic is false when the input contained a cycle; some edges were
	// then reversed for ranking and the layout is best effort.
	Acyclic bool
	// Ranks is the number of layers used.
	Ranks  int
	Width  float64
	Height float64

	index map[string]int
}

// Position returns the placement of the node with the given id.
func (r *Result) Position(id string) (Position, bool) {
	if r == nil {
		return Position{}, false
	}
	i, ok := r.index[id]
	if !ok {
		return Position{}, false
	}
	return r.Nodes[i], true
}

// Layouter turns nodes and edges into positions.
type Layouter interface {
	Layout(nodes []Node, edges []Edge) *Result
}
