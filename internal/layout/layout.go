// Package computing a rectangular dendrogram layout for a tree. x is the
// scaled distance from the root and y is the leaf slot (internal nodes sit
// halfway between their children). Drawing is left to the caller.
package layout

import (
	"errors"
	"fmt"
	"math"

	gr "github.com/jsdoublel/phylogene/internal/graphs"
)

var ErrInvalidCanvas = errors.New("invalid canvas")

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Segment struct {
	From Point `json:"from"`
	To   Point `json:"to"`
}

// Position of one node; Node is the index in the tree's arena
type Position struct {
	Node  int     `json:"node"`
	Label string  `json:"label,omitempty"`
	Leaf  bool    `json:"leaf"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Parent to child edge drawn as an elbow: a vertical connector at the
// parent's x followed by a horizontal branch at the child's y.
type Edge struct {
	Parent     int     `json:"parent"`
	Child      int     `json:"child"`
	Horizontal Segment `json:"horizontal"`
	Vertical   Segment `json:"vertical"`
}

type Layout struct {
	Width     float64    `json:"width"`
	Height    float64    `json:"height"`
	Nodes     []Position `json:"nodes"`      // indexed by arena index
	Edges     []Edge     `json:"edges"`      // in pre-order of the child
	LeafOrder []int      `json:"leaf_order"` // leaves from y = 0 to y = height
}

// Lays out tre on a width x height canvas. The deepest leaf is placed at
// x = width (all nodes at x = 0 if every branch length is zero) and leaves
// are spread evenly from y = 0 to y = height in left-to-right order.
func Compute(tre *gr.Tree, width, height float64) (*Layout, error) {
	if !validDimension(width) || !validDimension(height) {
		return nil, fmt.Errorf("%w, %v x %v", ErrInvalidCanvas, width, height)
	}
	n := tre.NumNodes()
	depth := make([]float64, n)
	maxDepth := 0.0
	tre.PreOrder(func(i int) {
		if p := tre.Parent(i); p != gr.NoNode {
			depth[i] = depth[p] + tre.Node(i).BranchLength
		}
		maxDepth = max(maxDepth, depth[i])
	})
	scale := 0.0
	if maxDepth > 0 {
		scale = width / maxDepth
	}
	l := &Layout{
		Width:     width,
		Height:    height,
		Nodes:     make([]Position, n),
		Edges:     make([]Edge, 0, n-1),
		LeafOrder: tre.Leaves(),
	}
	slot := height / 2
	if len(l.LeafOrder) > 1 {
		slot = height / float64(len(l.LeafOrder)-1)
	}
	for s, leaf := range l.LeafOrder {
		y := slot * float64(s)
		if len(l.LeafOrder) == 1 {
			y = slot
		}
		l.Nodes[leaf].Y = y
	}
	tre.PostOrder(func(i int) {
		node := tre.Node(i)
		l.Nodes[i].Node = i
		l.Nodes[i].Label = node.Label
		l.Nodes[i].Leaf = node.IsLeaf()
		l.Nodes[i].X = depth[i] * scale
		if !node.IsLeaf() {
			l.Nodes[i].Y = (l.Nodes[node.Children[0]].Y + l.Nodes[node.Children[1]].Y) / 2
		}
	})
	tre.PreOrder(func(i int) {
		p := tre.Parent(i)
		if p == gr.NoNode {
			return
		}
		parent, child := l.Nodes[p], l.Nodes[i]
		l.Edges = append(l.Edges, Edge{
			Parent:     p,
			Child:      i,
			Horizontal: Segment{From: Point{parent.X, child.Y}, To: Point{child.X, child.Y}},
			Vertical:   Segment{From: Point{parent.X, parent.Y}, To: Point{parent.X, child.Y}},
		})
	})
	return l, nil
}

func validDimension(d float64) bool {
	return d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d)
}

// All segments needed to draw the tree, two per edge
func (l *Layout) Segments() []Segment {
	segments := make([]Segment, 0, 2*len(l.Edges))
	for _, e := range l.Edges {
		segments = append(segments, e.Vertical, e.Horizontal)
	}
	return segments
}

// Positions of the leaves in slot order
func (l *Layout) LeafPositions() []Position {
	leaves := make([]Position, len(l.LeafOrder))
	for i, leaf := range l.LeafOrder {
		leaves[i] = l.Nodes[leaf]
	}
	return leaves
}
