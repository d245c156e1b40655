// Package model holds the data types exchanged with the CAD assistant backend:
// the assembly tree, the containment (Hasse) graph, and the upload and voice
// responses.
package model

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// Kind is the CAD category of an assembly node.
type Kind string

const (
	KindAssembly Kind = "Assembly"
	KindPart     Kind = "Part"
	KindShell    Kind = "Shell"
	KindFace     Kind = "Face"
)

// ParseKind maps a backend type string to a Kind. Matching is case
// insensitive; unknown values become KindPart so a newer backend never breaks
// tree rendering.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "assembly":
		return KindAssembly
	case "shell":
		return KindShell
	case "face":
		return KindFace
	default:
		return KindPart
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("kind: %w", err)
	}
	*k = ParseKind(s)
	return nil
}

// IsContainer reports whether nodes of this kind normally have children.
func (k Kind) IsContainer() bool {
	return k == KindAssembly || k == KindShell
}

// AssemblyNode is one node of the assembly tree. Trees are replaced wholesale
// when the backend sends a new one; the client never edits them in place.
type AssemblyNode struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Kind     Kind            `json:"type"`
	Children []*AssemblyNode `json:"children"`
}

// HasChildren reports whether the node has at least one child.
func (n *AssemblyNode) HasChildren() bool {
	return n != nil && len(n.Children) > 0
}

// Walk visits n and its descendants depth-first, pre-order. The visitor
// receives the node and its depth (root = 0). Returning false from visit
// skips the node's children.
func (n *AssemblyNode) Walk(visit func(node *AssemblyNode, depth int) bool) {
	var walk func(node *AssemblyNode, depth int)
	walk = func(node *AssemblyNode, depth int) {
		if node == nil {
			return
		}
		if !visit(node, depth) {
			return
		}
		for _, child := range node.Children {
			walk(child, depth+1)
		}
	}
	walk(n, 0)
}

// Find returns the first node with the given id, or nil.
func (n *AssemblyNode) Find(id string) *AssemblyNode {
	var found *AssemblyNode
	n.Walk(func(node *AssemblyNode, _ int) bool {
		if found != nil {
			return false
		}
		if node.ID == id {
			found = node
			return false
		}
		return true
	})
	return found
}

// Count returns the number of nodes in the tree rooted at n.
func (n *AssemblyNode) Count() int {
	count := 0
	n.Walk(func(*AssemblyNode, int) bool {
		count++
		return true
	})
	return count
}

// Path returns the chain of nodes from n down to the node with the given id,
// inclusive, or nil when id is not in the tree.
func (n *AssemblyNode) Path(id string) []*AssemblyNode {
	if n == nil {
		return nil
	}
	if n.ID == id {
		return []*AssemblyNode{n}
	}
	for _, child := range n.Children {
		if p := child.Path(id); p != nil {
			return append([]*AssemblyNode{n}, p...)
		}
	}
	return nil
}

// Validate checks the tree invariants the client relies on: every node has an
// id and ids are unique.
func (n *AssemblyNode) Validate() error {
	if n == nil {
		return fmt.Errorf("empty tree")
	}
	seen := make(map[string]bool)
	var err error
	n.Walk(func(node *AssemblyNode, _ int) bool {
		if err != nil {
			return false
		}
		if node.ID == "" {
			err = fmt.Errorf("node %q has no id", node.Name)
			return false
		}
		if seen[node.ID] {
			err = fmt.Errorf("duplicate node id %q", node.ID)
			return false
		}
		seen[node.ID] = true
		return true
	})
	return err
}

// normalize replaces nil child slices with empty ones so trees compare and
// encode the same whether the payload said [] or null.
func (n *AssemblyNode) normalize() {
	n.Walk(func(node *AssemblyNode, _ int) bool {
		if node.Children == nil {
			node.Children = []*AssemblyNode{}
		}
		if node.Kind == "" {
			node.Kind = KindPart
		}
		return true
	})
}

// ParseTree decodes an assembly tree from JSON.
func ParseTree(data []byte) (*AssemblyNode, error) {
	var root AssemblyNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing assembly tree: %w", err)
	}
	root.normalize()
	return &root, nil
}
