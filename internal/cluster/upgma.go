// Package implementing agglomerative clustering of a distance matrix into a
// rooted binary tree (UPGMA).
package cluster

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bits-and-blooms/bitset"

	"github.com/jsdoublel/phylogene/internal/distance"
	gr "github.com/jsdoublel/phylogene/internal/graphs"
)

const MinTaxa = 2

var ErrInsufficientTaxa = errors.New("insufficient taxa")

// Builds a tree from a distance matrix
type Strategy interface {
	Cluster(m *distance.Matrix) (*Result, error)
}

// One agglomeration step
type Merge struct {
	Left, Right int     // arena indices of the joined clusters
	Node        int     // arena index of the new node
	Distance    float64 // cluster distance at the time of the merge
	Height      float64 // height of the new node
}

// A negative branch length was clamped to zero. This only happens when the
// matrix is not consistent with an ultrametric tree; it is not fatal.
type NonUltrametricWarning struct {
	Members []string // leaves below the child whose branch was clamped
	Length  float64  // unclamped branch length
}

func (w NonUltrametricWarning) Error() string {
	return fmt.Sprintf("non-ultrametric input, branch above {%s} clamped from %g to 0",
		strings.Join(w.Members, ","), w.Length)
}

type Result struct {
	Tree     *gr.Tree
	Merges   []Merge
	Warnings []NonUltrametricWarning

	ranks *ranking
}

// Unweighted pair group method with arithmetic mean. Distances to a merged
// cluster are the leaf-count weighted average of its parts; equal minimum
// distances are resolved by the sorted identifiers of the merged cluster.
type UPGMA struct{}

// working state for one active cluster
type cluster struct {
	node    int            // arena index
	size    int            // number of leaves
	members *bitset.BitSet // leaves, by rank of their identifier in sorted order
}

// Leaf identifiers in sorted order; bit i of a member set is byRank[i]
type ranking struct {
	byRank []string
	rank   map[string]uint
}

func newRanking(ids []string) *ranking {
	r := &ranking{byRank: slices.Sorted(slices.Values(ids)), rank: make(map[string]uint, len(ids))}
	for i, id := range r.byRank {
		r.rank[id] = uint(i)
	}
	return r
}

func (r *ranking) leaf(id string) *bitset.BitSet {
	return bitset.New(uint(len(r.byRank))).Set(r.rank[id])
}

func (r *ranking) names(members *bitset.BitSet) []string {
	names := make([]string, 0, members.Count())
	for i, ok := members.NextSet(0); ok; i, ok = members.NextSet(i + 1) {
		names = append(names, r.byRank[i])
	}
	return names
}

func (UPGMA) Cluster(m *distance.Matrix) (*Result, error) {
	n := m.Size()
	if n < MinTaxa {
		return nil, fmt.Errorf("%w, %d leaves (at least %d required)", ErrInsufficientTaxa, n, MinTaxa)
	}
	b := gr.NewBuilder(n)
	res := &Result{Merges: make([]Merge, 0, n-1), ranks: newRanking(m.IDs())}
	active := make([]*cluster, n)
	dist := make([][]float64, n)
	for i := range n {
		id := m.ID(i)
		active[i] = &cluster{node: b.AddLeaf(id), size: 1, members: res.ranks.leaf(id)}
		dist[i] = make([]float64, n)
		for j := range n {
			dist[i][j] = m.Get(i, j)
		}
	}
	if n == 2 {
		root := res.join(b, active[0], active[1], dist[0][1])
		return res.finish(b, root.node), nil
	}
	for remaining := n; remaining > 1; remaining-- {
		logEveryNPercent(n-remaining+1, 10, n-1, fmt.Sprintf("merge %d of %d", n-remaining+1, n-1))
		i, j := closestPair(active, dist)
		merged := res.join(b, active[i], active[j], dist[i][j])
		for k, c := range active {
			if c == nil || k == i || k == j {
				continue
			}
			d := (float64(active[i].size)*dist[i][k] + float64(active[j].size)*dist[j][k]) / float64(merged.size)
			dist[i][k], dist[k][i] = d, d
		}
		active[i], active[j] = merged, nil
	}
	root := slices.IndexFunc(active, func(c *cluster) bool { return c != nil })
	return res.finish(b, active[root].node), nil
}

// Finds the active pair (i < j) with the smallest distance. Ties go to the
// pair whose combined sorted identifiers compare first.
func closestPair(active []*cluster, dist [][]float64) (int, int) {
	bestI, bestJ := -1, -1
	var bestKey *bitset.BitSet
	for i, ci := range active {
		if ci == nil {
			continue
		}
		for j := i + 1; j < len(active); j++ {
			cj := active[j]
			if cj == nil {
				continue
			}
			switch {
			case bestI == -1 || dist[i][j] < dist[bestI][bestJ]:
				bestI, bestJ, bestKey = i, j, nil
			case dist[i][j] == dist[bestI][bestJ]:
				if bestKey == nil {
					bestKey = mergeMembers(active[bestI], active[bestJ])
				}
				if key := mergeMembers(ci, cj); compareMembers(key, bestKey) < 0 {
					bestI, bestJ, bestKey = i, j, key
				}
			}
		}
	}
	return bestI, bestJ
}

func mergeMembers(a, b *cluster) *bitset.BitSet {
	return a.members.Union(b.members)
}

// Orders member sets as their sorted identifier lists compare
// lexicographically (a proper prefix comes first).
func compareMembers(a, b *bitset.BitSet) int {
	i, okA := a.NextSet(0)
	j, okB := b.NextSet(0)
	for okA && okB {
		if i != j {
			return cmp.Compare(i, j)
		}
		i, okA = a.NextSet(i + 1)
		j, okB = b.NextSet(j + 1)
	}
	switch {
	case okA:
		return 1
	case okB:
		return -1
	}
	return 0
}

// Joins a and b under a new node at height d/2. The cluster created first
// becomes the left child.
func (res *Result) join(b *gr.Builder, x, y *cluster, d float64) *cluster {
	if y.node < x.node {
		x, y = y, x
	}
	height := d / 2
	xLen := res.branchLength(height, b.Height(x.node), x)
	yLen := res.branchLength(height, b.Height(y.node), y)
	node := b.Join(x.node, y.node, xLen, yLen, height)
	res.Merges = append(res.Merges, Merge{Left: x.node, Right: y.node, Node: node, Distance: d, Height: height})
	return &cluster{node: node, size: x.size + y.size, members: mergeMembers(x, y)}
}

func (res *Result) branchLength(parentHeight, childHeight float64, child *cluster) float64 {
	length := parentHeight - childHeight
	if length < 0 {
		res.Warnings = append(res.Warnings, NonUltrametricWarning{Members: res.ranks.names(child.members), Length: length})
		return 0
	}
	return length
}

func (res *Result) finish(b *gr.Builder, root int) *Result {
	res.Tree = b.Finish(root, true)
	return res
}
