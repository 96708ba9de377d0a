// Package containing the rooted binary tree built from a distance matrix, its
// Newick encoding, and conversions to and from gotree
package graphs

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Node kind (tagged variant)
type Kind uint8

const (
	Leaf Kind = iota
	Internal

	NoNode = -1 // parent of the root
)

// Tree node. Leaves carry a label; internal nodes carry exactly two children,
// addressed by their index in the tree's arena.
type Node struct {
	Kind         Kind
	Label        string  // leaf identifier (empty for internal nodes)
	Children     [2]int  // arena indices of the children (internal nodes only)
	BranchLength float64 // length of the edge to the parent (0 for the root)
	Height       float64 // distance from the node down to its leaves
}

func (n Node) IsLeaf() bool {
	return n.Kind == Leaf
}

// Rooted binary tree stored as an append-only arena of nodes. Trees are built
// with a Builder and are read-only afterwards.
type Tree struct {
	nodes     []Node
	root      int
	rooted    bool
	parents   []int            // parent index for each node (NoNode for the root)
	depths    []int            // number of edges from the root
	leafsets  []*bitset.BitSet // tip indices below each node
	below     []uint           // number of leaves below each node
	tips      []int            // tip index to node index
	tipIndex  map[string]int   // leaf label to tip index
	leafOrder []int            // leaf node indices, left to right
}

func (t *Tree) NumNodes() int {
	return len(t.nodes)
}

func (t *Tree) Node(i int) Node {
	return t.nodes[i]
}

func (t *Tree) Root() int {
	return t.root
}

func (t *Tree) Rooted() bool {
	return t.rooted
}

func (t *Tree) NumLeaves() int {
	return len(t.tips)
}

// Parent of node i, or NoNode for the root
func (t *Tree) Parent(i int) int {
	return t.parents[i]
}

// Number of edges between node i and the root
func (t *Tree) Depth(i int) int {
	return t.depths[i]
}

// Leaf node indices in left-to-right order
func (t *Tree) Leaves() []int {
	return append([]int(nil), t.leafOrder...)
}

// Leaf labels in left-to-right order
func (t *Tree) Labels() []string {
	labels := make([]string, len(t.leafOrder))
	for i, l := range t.leafOrder {
		labels[i] = t.nodes[l].Label
	}
	return labels
}

// Node index of the leaf labelled label
func (t *Tree) LeafByLabel(label string) (int, bool) {
	ti, ok := t.tipIndex[label]
	if !ok {
		return NoNode, false
	}
	return t.tips[ti], true
}

// Leaves under node i as a set of tip indices. The returned set must not be
// modified.
func (t *Tree) Leafset(i int) *bitset.BitSet {
	return t.leafsets[i]
}

func (t *Tree) NumLeavesBelow(i int) uint {
	return t.below[i]
}

// Returns leafset as string for printing/testing
func (t *Tree) LeafsetAsString(i int) string {
	result := "{"
	for ti, ok := t.leafsets[i].NextSet(0); ok; ti, ok = t.leafsets[i].NextSet(ti + 1) {
		result += t.nodes[t.tips[ti]].Label + ","
	}
	return result[:len(result)-1] + "}"
}

// Lowest common ancestor of nodes i and j
func (t *Tree) LCA(i, j int) int {
	for t.depths[i] > t.depths[j] {
		i = t.parents[i]
	}
	for t.depths[j] > t.depths[i] {
		j = t.parents[j]
	}
	for i != j {
		i, j = t.parents[i], t.parents[j]
	}
	return i
}

// Leaf l (a node index) is in the leafset of node i
func (t *Tree) InLeafset(i, l int) bool {
	ti, ok := t.tipIndex[t.nodes[l].Label]
	return ok && t.nodes[l].IsLeaf() && t.leafsets[i].Test(uint(ti))
}

// n2 is under n1. Leaves below n2 are a subset of those below n1 exactly
// when n1 is an ancestor of n2 (or n2 itself).
func (t *Tree) Under(n1, n2 int) bool {
	return n1 != n2 && t.leafsets[n1].IsSuperSet(t.leafsets[n2])
}

// Sum of branch lengths from node desc up to its ancestor anc. Panics if anc
// is not an ancestor of desc.
func (t *Tree) PathLength(desc, anc int) float64 {
	total := 0.0
	for cur := desc; cur != anc; cur = t.parents[cur] {
		if cur == NoNode || cur == t.root {
			panic(fmt.Sprintf("node %d is not an ancestor of node %d", anc, desc))
		}
		total += t.nodes[cur].BranchLength
	}
	return total
}

// Visits every node below (and including) the root, children before parents,
// left child first.
func (t *Tree) PostOrder(f func(i int)) {
	var visit func(i int)
	visit = func(i int) {
		if n := t.nodes[i]; !n.IsLeaf() {
			visit(n.Children[0])
			visit(n.Children[1])
		}
		f(i)
	}
	visit(t.root)
}

// Visits every node, parents before children, left child first.
func (t *Tree) PreOrder(f func(i int)) {
	var visit func(i int)
	visit = func(i int) {
		f(i)
		if n := t.nodes[i]; !n.IsLeaf() {
			visit(n.Children[0])
			visit(n.Children[1])
		}
	}
	visit(t.root)
}

// Assembles a tree node by node. Each node may be used as a child at most
// once, which keeps the result a strict binary tree.
type Builder struct {
	nodes   []Node
	parents []int
	tips    []int
}

func NewBuilder(nLeaves int) *Builder {
	return &Builder{
		nodes:   make([]Node, 0, max(2*nLeaves-1, 0)),
		parents: make([]int, 0, max(2*nLeaves-1, 0)),
		tips:    make([]int, 0, nLeaves),
	}
}

// Adds a leaf and returns its index
func (b *Builder) AddLeaf(label string) int {
	b.nodes = append(b.nodes, Node{Kind: Leaf, Label: label, Children: [2]int{NoNode, NoNode}})
	b.parents = append(b.parents, NoNode)
	b.tips = append(b.tips, len(b.nodes)-1)
	return len(b.nodes) - 1
}

// Adds an internal node at the given height above left and right, setting
// the children's branch lengths. Returns the new node's index.
func (b *Builder) Join(left, right int, leftLen, rightLen, height float64) int {
	if left == right {
		panic(fmt.Sprintf("cannot join node %d with itself", left))
	}
	id := len(b.nodes)
	for _, c := range [2]int{left, right} {
		if b.parents[c] != NoNode {
			panic(fmt.Sprintf("node %d already has parent %d", c, b.parents[c]))
		}
		b.parents[c] = id
	}
	b.nodes[left].BranchLength = leftLen
	b.nodes[right].BranchLength = rightLen
	b.nodes = append(b.nodes, Node{Kind: Internal, Children: [2]int{left, right}, Height: height})
	b.parents = append(b.parents, NoNode)
	return id
}

func (b *Builder) Height(i int) float64 {
	return b.nodes[i].Height
}

func (b *Builder) NumNodes() int {
	return len(b.nodes)
}

// Finalizes the tree rooted at root and computes derived data. Panics if some
// node other than the root is left without a parent.
func (b *Builder) Finish(root int, rooted bool) *Tree {
	for i, p := range b.parents {
		if p == NoNode && i != root {
			panic(fmt.Sprintf("node %d is detached from the tree", i))
		}
	}
	if b.parents[root] != NoNode {
		panic(fmt.Sprintf("root %d has parent %d", root, b.parents[root]))
	}
	t := &Tree{
		nodes:   b.nodes,
		root:    root,
		rooted:  rooted,
		parents: b.parents,
		tips:    b.tips,
	}
	t.nodes[root].BranchLength = 0
	t.tipIndex = makeTipIndexMap(t)
	t.depths = calcDepths(t)
	t.leafsets, t.below = calcLeafsets(t)
	t.PostOrder(func(i int) {
		if t.nodes[i].IsLeaf() {
			t.leafOrder = append(t.leafOrder, i)
		}
	})
	*b = Builder{}
	return t
}

func makeTipIndexMap(t *Tree) map[string]int {
	tipMap := make(map[string]int, len(t.tips))
	for ti, i := range t.tips {
		tipMap[t.nodes[i].Label] = ti
	}
	return tipMap
}

// Calculate depths for all nodes in tree (slice index = node index)
func calcDepths(t *Tree) []int {
	depths := make([]int, len(t.nodes))
	t.PreOrder(func(i int) {
		if i != t.root {
			depths[i] = depths[t.parents[i]] + 1
		}
	})
	return depths
}

// Calculates the leafset and leaf count for every node
func calcLeafsets(t *Tree) ([]*bitset.BitSet, []uint) {
	nLeaves := uint(len(t.tips))
	tipOf := make(map[int]uint, nLeaves)
	for ti, i := range t.tips {
		tipOf[i] = uint(ti)
	}
	leafsets := make([]*bitset.BitSet, len(t.nodes))
	below := make([]uint, len(t.nodes))
	t.PostOrder(func(i int) {
		n := t.nodes[i]
		if n.IsLeaf() {
			leafsets[i] = bitset.New(nLeaves)
			leafsets[i].Set(tipOf[i])
		} else {
			leafsets[i] = leafsets[n.Children[0]].Union(leafsets[n.Children[1]])
		}
		below[i] = leafsets[i].Count()
	})
	return leafsets, below
}
