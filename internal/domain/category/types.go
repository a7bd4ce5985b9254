// Package category contains the tool category tree: named groups with an
// optional parent forming a forest. Cycles are rejected at insert and
// reparent time by walking the ancestor chain.
package category

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for category operations.
var (
	// ErrCategoryNotFound is returned when no category with the ID exists.
	ErrCategoryNotFound = errors.New("category not found")
	// ErrParentNotFound is returned when ParentID references nothing.
	ErrParentNotFound = errors.New("parent category not found")
	// ErrCycle is returned when a parent change would create a cycle.
	ErrCycle = errors.New("category cycle detected")
	// ErrCategoryInUse is returned when deleting a category that still has
	// children or referencing tools.
	ErrCategoryInUse = errors.New("category is in use")
)

// Category is one node of the tool category tree.
type Category struct {
	// ID is the unique identifier (UUID).
	ID string `json:"id"`
	// Name is the human-readable display name.
	Name string `json:"name"`
	// Description explains what belongs here.
	Description string `json:"description,omitempty"`
	// ParentID references the parent node; empty for roots.
	ParentID string `json:"parentId,omitempty"`
	// CreatedAt is when the category was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the category was last modified.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the category definition.
func (c *Category) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("category name is required")
	}
	if c.ParentID != "" && c.ParentID == c.ID {
		return fmt.Errorf("%w: category cannot be its own parent", ErrCycle)
	}
	return nil
}

// Update is a partial category modification. Nil fields keep the
// existing value; a non-nil empty ParentID makes the node a root.
type Update struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	ParentID    *string `json:"parentId,omitempty"`
}

// Node is one entry of the flattened hierarchy: the category plus its
// depth from the root and its children in tree order.
type Node struct {
	Category `json:"category"`
	Depth    int     `json:"depth"`
	Children []*Node `json:"children,omitempty"`
}

// CheckParent verifies that assigning parentID to the category id keeps
// the forest acyclic, walking the ancestor chain of the proposed parent.
// all maps ID to category and must contain every existing node.
func CheckParent(all map[string]*Category, id, parentID string) error {
	if parentID == "" {
		return nil
	}
	if parentID == id {
		return ErrCycle
	}
	if _, ok := all[parentID]; !ok {
		return ErrParentNotFound
	}
	seen := make(map[string]bool)
	for cursor := parentID; cursor != ""; {
		if cursor == id {
			return ErrCycle
		}
		if seen[cursor] {
			// Pre-existing corruption; refuse to extend it.
			return ErrCycle
		}
		seen[cursor] = true
		parent, ok := all[cursor]
		if !ok {
			return nil
		}
		cursor = parent.ParentID
	}
	return nil
}

// BuildTree assembles the forest and returns the roots in name order,
// each with depth-annotated descendants.
func BuildTree(categories []*Category) []*Node {
	nodes := make(map[string]*Node, len(categories))
	for _, c := range categories {
		nodes[c.ID] = &Node{Category: *c}
	}

	var roots []*Node
	for _, c := range categories {
		node := nodes[c.ID]
		if c.ParentID == "" {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[c.ParentID]
		if !ok {
			// Orphaned parent reference degrades to a root.
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	sortNodes(roots)
	for _, root := range roots {
		annotate(root, 0)
	}
	return roots
}

// Flatten returns the forest in depth-first order, depths filled in.
func Flatten(categories []*Category) []*Node {
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		flat := &Node{Category: n.Category, Depth: n.Depth}
		out = append(out, flat)
		for _, child := range n.Children {
			walk(child)
		}
	}
	for _, root := range BuildTree(categories) {
		walk(root)
	}
	return out
}

func annotate(n *Node, depth int) {
	n.Depth = depth
	sortNodes(n.Children)
	for _, child := range n.Children {
		annotate(child, depth+1)
	}
}

func sortNodes(nodes []*Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j-1].Name > nodes[j].Name; j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
}
