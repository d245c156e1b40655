package model

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// GraphNode is a node of the containment diagram. Ids are expected to match
// assembly node ids so a diagram click can drive the tree selection; that is
// a backend contract and is not checked here.
type GraphNode struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// UnmarshalJSON accepts both the flat shape ({"id","label"}) and the
// react-flow shape the backend emits ({"id","data":{"label"}}).
func (n *GraphNode) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID     string  `json:"id"`
		Label  string  `json:"label"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
		Data   *struct {
			Label string `json:"label"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("graph node: %w", err)
	}
	n.ID = raw.ID
	n.Label = raw.Label
	if n.Label == "" && raw.Data != nil {
		n.Label = raw.Data.Label
	}
	if n.Label == "" {
		n.Label = n.ID
	}
	n.Width = raw.Width
	n.Height = raw.Height
	return nil
}

// GraphEdge points from the contained node (Source) to its container
// (Target); the diagram draws it bottom-to-top.
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// HasseGraph is the /api/hasse payload.
type HasseGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// ParseHasse decodes a Hasse payload. Missing or null nodes/edges become empty
// slices; nodes without an id are dropped.
func ParseHasse(data []byte) (*HasseGraph, error) {
	var g HasseGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing hasse graph: %w", err)
	}
	g.normalize()
	return &g, nil
}

func (g *HasseGraph) normalize() {
	nodes := make([]GraphNode, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			continue
		}
		nodes = append(nodes, n)
	}
	g.Nodes = nodes
	if g.Edges == nil {
		g.Edges = []GraphEdge{}
	}
}

// NodeIndex returns id -> position in Nodes.
func (g *HasseGraph) NodeIndex() map[string]int {
	idx := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		if _, ok := idx[n.ID]; !ok {
			idx[n.ID] = i
		}
	}
	return idx
}
