package hasse

import (
	"fmt"

	"github.com/vanderheijden86/cadview/pkg/model"
)

// Payload is the /api/hasse wire shape produced by the backend. Node labels
// live under data.label and positions are left to the client's layout.
type Payload struct {
	Nodes []PayloadNode `json:"nodes"`
	Edges []PayloadEdge `json:"edges"`
}

// PayloadNode is a diagram node on the wire.
type PayloadNode struct {
	ID       string            `json:"id"`
	Data     map[string]string `json:"data"`
	Position map[string]int    `json:"position"`
	Type     string            `json:"type"`
}

// PayloadEdge is a diagram edge on the wire.
type PayloadEdge struct {
	ID       string            `json:"id"`
	Source   string            `json:"source"`
	Target   string            `json:"target"`
	Type     string            `json:"type"`
	Animated bool              `json:"animated"`
	Style    map[string]string `json:"style"`
}

// NewPayload converts a graph to the wire shape.
func NewPayload(g *model.HasseGraph) Payload {
	p := Payload{Nodes: []PayloadNode{}, Edges: []PayloadEdge{}}
	if g == nil {
		return p
	}
	for _, n := range g.Nodes {
		p.Nodes = append(p.Nodes, PayloadNode{
			ID:       n.ID,
			Data:     map[string]string{"label": n.Label},
			Position: map[string]int{"x": 0, "y": 0},
			Type:     "default",
		})
	}
	for _, e := range g.Edges {
		p.Edges = append(p.Edges, PayloadEdge{
			ID:     fmt.Sprintf("e%s-%s", e.Source, e.Target),
			Source: e.Source,
			Target: e.Target,
			Type:   "smoothstep",
			Style:  map[string]string{"stroke": "#333"},
		})
	}
	return p
}

// NoModel is the placeholder diagram served before any model is loaded.
func NoModel() *model.HasseGraph {
	return &model.HasseGraph{
		Nodes: []model.GraphNode{{ID: "nodata", Label: "No Model Loaded"}},
		Edges: []model.GraphEdge{},
	}
}
