package hasse

import (
	"fmt"

	"github.com/vanderheijden86/cadview/pkg/model"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Derive builds the containment diagram of an assembly tree: one node per
// distinct id, one child -> parent edge per containment link, with transitive
// shortcuts removed. A part shared by several assemblies appears once with an
// edge to each container.
func Derive(tree *model.AssemblyNode) *model.HasseGraph {
	g := &model.HasseGraph{Nodes: []model.GraphNode{}, Edges: []model.GraphEdge{}}
	if tree == nil {
		return g
	}

	seenNode := make(map[string]bool)
	seenEdge := make(map[model.GraphEdge]bool)
	var walk func(n *model.AssemblyNode, parent string)
	walk = func(n *model.AssemblyNode, parent string) {
		if n == nil || n.ID == "" {
			return
		}
		if !seenNode[n.ID] {
			seenNode[n.ID] = true
			g.Nodes = append(g.Nodes, model.GraphNode{ID: n.ID, Label: Label(n)})
		}
		if parent != "" && parent != n.ID {
			e := model.GraphEdge{Source: n.ID, Target: parent}
			if !seenEdge[e] {
				seenEdge[e] = true
				g.Edges = append(g.Edges, e)
			}
		}
		for _, c := range n.Children {
			walk(c, n.ID)
		}
	}
	walk(tree, "")

	g.Edges = Reduce(g.Nodes, g.Edges)
	return g
}

// Label is the diagram caption of an assembly node.
func Label(n *model.AssemblyNode) string {
	return fmt.Sprintf("%s (%s)", n.Name, n.Kind)
}

// Reduce returns edges without the transitive shortcuts: u->w is dropped
// when w is reachable from u through another successor. Edge order is
// preserved. Cyclic input is returned unchanged.
func Reduce(nodes []model.GraphNode, edges []model.GraphEdge) []model.GraphEdge {
	ids := make(map[string]int64, len(nodes))
	dg := simple.NewDirectedGraph()
	for _, n := range nodes {
		if _, ok := ids[n.ID]; ok {
			continue
		}
		id := int64(len(ids))
		ids[n.ID] = id
		dg.AddNode(simple.Node(id))
	}
	for _, e := range edges {
		u, okU := ids[e.Source]
		v, okV := ids[e.Target]
		if !okU || !okV || u == v {
			continue
		}
		dg.SetEdge(dg.NewEdge(simple.Node(u), simple.Node(v)))
	}
	if _, err := topo.Sort(dg); err != nil {
		return edges
	}

	out := make([]model.GraphEdge, 0, len(edges))
	for _, e := range edges {
		u, okU := ids[e.Source]
		w, okW := ids[e.Target]
		if !okU || !okW {
			out = append(out, e)
			continue
		}
		redundant := false
		for it := dg.From(u); it.Next(); {
			v := it.Node()
			if v.ID() == w {
				continue
			}
			if topo.PathExistsIn(dg, v, simple.Node(w)) {
				redundant = true
				break
			}
		}
		if !redundant {
			out = append(out, e)
		}
	}
	return out
}
