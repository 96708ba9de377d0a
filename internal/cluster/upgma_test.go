package cluster

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/charmbracelet/log"

	"github.com/jsdoublel/phylogene/internal/distance"
	gr "github.com/jsdoublel/phylogene/internal/graphs"
)

const tolerance = 1e-9

// builds a matrix from the upper triangle given row by row
func makeMatrix(t *testing.T, ids []string, upper [][]float64) *distance.Matrix {
	t.Helper()
	m := distance.NewMatrix(ids)
	for i, row := range upper {
		for k, d := range row {
			if err := m.Set(i, i+k+1, d); err != nil {
				t.Fatalf("invalid matrix; test is written wrong: %s", err)
			}
		}
	}
	return m
}

func TestUPGMA(t *testing.T) {
	testCases := []struct {
		name     string
		ids      []string
		upper    [][]float64
		expected string
		heights  []float64
	}{
		{
			name: "four taxa",
			ids:  []string{"A", "B", "C", "D"},
			upper: [][]float64{
				{0.25, 1.0, 0.75},
				{0.75, 0.5},
				{0.25},
			},
			expected: "((A:0.125,B:0.125):0.25,(C:0.125,D:0.125):0.25);",
			heights:  []float64{0.125, 0.125, 0.375},
		},
		{
			name:     "single pair",
			ids:      []string{"A", "B"},
			upper:    [][]float64{{0.4}},
			expected: "(A:0.2,B:0.2);",
			heights:  []float64{0.2},
		},
		{
			name: "weighted average",
			ids:  []string{"A", "B", "C", "D"},
			upper: [][]float64{
				{0.2, 0.4, 0.9},
				{0.4, 0.9},
				{0.6},
			},
			// d(AB,C) = 0.4, then d(ABC,D) = (2*0.9 + 0.6)/3 = 0.8; leaves are
			// placed left of clusters created after them
			expected: "(D:0.4,(C:0.2,(A:0.1,B:0.1):0.1):0.2);",
			heights:  []float64{0.1, 0.2, 0.4},
		},
		{
			name: "input order does not pick tie",
			ids:  []string{"D", "C", "B", "A"},
			upper: [][]float64{
				{0.3, 0.8, 0.8},
				{0.8, 0.8},
				{0.3},
			},
			// (D,C) and (B,A) tie; {A,B} sorts before {C,D}
			expected: "((B:0.15,A:0.15):0.25,(D:0.15,C:0.15):0.25);",
			heights:  []float64{0.15, 0.15, 0.4},
		},
		{
			name: "zero distances",
			ids:  []string{"A", "B", "C"},
			upper: [][]float64{
				{0, 0},
				{0},
			},
			expected: "(C:0,(A:0,B:0):0);",
			heights:  []float64{0, 0},
		},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			res, err := UPGMA{}.Cluster(makeMatrix(t, test.ids, test.upper))
			if err != nil {
				t.Fatalf("unexpected error %s", err)
			}
			nwk, err := res.Tree.Newick(gr.DefaultPrecision)
			if err != nil {
				t.Fatal(err)
			}
			if nwk != test.expected {
				t.Errorf("%s != %s", nwk, test.expected)
			}
			if len(res.Merges) != len(test.heights) {
				t.Fatalf("%d merges != %d", len(res.Merges), len(test.heights))
			}
			for i, m := range res.Merges {
				if math.Abs(m.Height-test.heights[i]) > tolerance {
					t.Errorf("merge %d at height %f != %f", i, m.Height, test.heights[i])
				}
			}
			if len(res.Warnings) != 0 {
				t.Errorf("unexpected warnings %v", res.Warnings)
			}
			if !res.Tree.Rooted() {
				t.Errorf("tree is not rooted")
			}
		})
	}
}

func TestUPGMAMergeOrder(t *testing.T) {
	m := makeMatrix(t, []string{"A", "B", "C", "D"}, [][]float64{
		{0.25, 1.0, 0.75},
		{0.75, 0.5},
		{0.25},
	})
	res, err := UPGMA{}.Cluster(m)
	if err != nil {
		t.Fatal(err)
	}
	expected := []Merge{
		{Left: 0, Right: 1, Node: 4, Distance: 0.25, Height: 0.125},
		{Left: 2, Right: 3, Node: 5, Distance: 0.25, Height: 0.125},
		{Left: 4, Right: 5, Node: 6, Distance: 0.75, Height: 0.375},
	}
	if !reflect.DeepEqual(res.Merges, expected) {
		t.Errorf("merges %+v != %+v", res.Merges, expected)
	}
}

func TestUPGMAInsufficientTaxa(t *testing.T) {
	for _, ids := range [][]string{{}, {"A"}} {
		_, err := UPGMA{}.Cluster(distance.NewMatrix(ids))
		if !errors.Is(err, ErrInsufficientTaxa) {
			t.Errorf("%d leaves: expected %s, got %+v", len(ids), ErrInsufficientTaxa, err)
		}
	}
}

// every pair of leaves is half their merge distance away from their LCA, and
// the leaf set of the tree is the input set
func TestUPGMAUltrametric(t *testing.T) {
	ids := []string{"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7"}
	m := distance.NewMatrix(ids)
	for i := range ids {
		for j := range i {
			// deterministic, uneven distances in (0, 1)
			d := math.Mod(float64((i+1)*(j+3)*7919), 97) / 100
			if err := m.Set(i, j, d+0.01); err != nil {
				t.Fatal(err)
			}
		}
	}
	res, err := UPGMA{}.Cluster(m)
	if err != nil {
		t.Fatal(err)
	}
	tre := res.Tree
	if tre.NumLeaves() != len(ids) {
		t.Fatalf("%d leaves != %d", tre.NumLeaves(), len(ids))
	}
	seen := make(map[string]bool)
	for _, l := range tre.Labels() {
		seen[l] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("leaf %s missing from tree", id)
		}
	}
	mergeDist := make(map[int]float64)
	for _, merge := range res.Merges {
		mergeDist[merge.Node] = merge.Distance
	}
	for i := range ids {
		for j := range i {
			u, _ := tre.LeafByLabel(ids[i])
			w, _ := tre.LeafByLabel(ids[j])
			lca := tre.LCA(u, w)
			pu, pw := tre.PathLength(u, lca), tre.PathLength(w, lca)
			if math.Abs(pu-pw) > tolerance {
				t.Errorf("%s and %s not equidistant from lca (%f, %f)", ids[i], ids[j], pu, pw)
			}
			if math.Abs(pu-mergeDist[lca]/2) > tolerance {
				t.Errorf("%s to lca %f != half merge distance %f", ids[i], pu, mergeDist[lca]/2)
			}
		}
	}
	tre.PostOrder(func(i int) {
		n := tre.Node(i)
		if n.IsLeaf() {
			if n.Height != 0 {
				t.Errorf("leaf %s has height %f", n.Label, n.Height)
			}
			return
		}
		for _, c := range n.Children {
			child := tre.Node(c)
			if math.Abs(child.Height+child.BranchLength-n.Height) > tolerance {
				t.Errorf("node %d height %f != child height %f + branch %f", i, n.Height, child.Height, child.BranchLength)
			}
		}
	})
}

func TestUPGMADeterministic(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f"}
	m := distance.NewMatrix(ids)
	for i := range ids {
		for j := range i {
			if err := m.Set(i, j, 0.5); err != nil {
				t.Fatal(err)
			}
		}
	}
	var first string
	for i := range 5 {
		res, err := UPGMA{}.Cluster(m)
		if err != nil {
			t.Fatal(err)
		}
		nwk, err := res.Tree.Newick(gr.DefaultPrecision)
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = nwk
		} else if nwk != first {
			t.Errorf("run %d produced %s != %s", i, nwk, first)
		}
	}
}

func TestJoinClampsNegativeBranches(t *testing.T) {
	b := gr.NewBuilder(4)
	a, bb, c, d := b.AddLeaf("A"), b.AddLeaf("B"), b.AddLeaf("C"), b.AddLeaf("D")
	var buf bytes.Buffer
	prev := log.Default()
	log.SetDefault(log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel}))
	defer log.SetDefault(prev)
	res := &Result{ranks: newRanking([]string{"D", "C", "B", "A"})}
	x := &cluster{node: b.Join(a, bb, 0.5, 0.5, 0.5), size: 2, members: res.ranks.leaf("A").Union(res.ranks.leaf("B"))}
	y := &cluster{node: b.Join(c, d, 0.1, 0.1, 0.1), size: 2, members: res.ranks.leaf("C").Union(res.ranks.leaf("D"))}
	merged := res.join(b, x, y, 0.6)
	res.finish(b, merged.node)
	if len(res.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", res.Warnings)
	}
	w := res.Warnings[0]
	if !reflect.DeepEqual(w.Members, []string{"A", "B"}) || math.Abs(w.Length+0.2) > tolerance {
		t.Errorf("unexpected warning %+v", w)
	}
	if strings.Contains(buf.String(), "non-ultrametric") {
		t.Errorf("warning should be returned, not logged: %s", buf.String())
	}
	if l := res.Tree.Node(x.node).BranchLength; l != 0 {
		t.Errorf("clamped branch length %f != 0", l)
	}
	if l := res.Tree.Node(y.node).BranchLength; math.Abs(l-0.2) > tolerance {
		t.Errorf("branch length %f != 0.2", l)
	}
	if names := res.ranks.names(merged.members); !reflect.DeepEqual(names, []string{"A", "B", "C", "D"}) || merged.size != 4 {
		t.Errorf("merged cluster %+v", merged)
	}
}

func TestCompareMembers(t *testing.T) {
	r := newRanking([]string{"E", "B", "A", "D", "C"})
	set := func(ids ...string) *bitset.BitSet {
		s := bitset.New(5)
		for _, id := range ids {
			s.Set(r.rank[id])
		}
		return s
	}
	testCases := []struct {
		name     string
		a, b     []string
		expected int
	}{
		{name: "equal", a: []string{"A", "B"}, b: []string{"B", "A"}, expected: 0},
		{name: "first differs", a: []string{"A", "C"}, b: []string{"B", "C"}, expected: -1},
		{name: "later differs", a: []string{"A", "B", "E"}, b: []string{"A", "B", "D"}, expected: 1},
		{name: "prefix first", a: []string{"A", "B"}, b: []string{"A", "B", "C"}, expected: -1},
		{name: "smaller first element wins", a: []string{"A", "E"}, b: []string{"B", "C", "D"}, expected: -1},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			got := compareMembers(set(test.a...), set(test.b...))
			sortedA, sortedB := slices.Sorted(slices.Values(test.a)), slices.Sorted(slices.Values(test.b))
			if got != test.expected || got != slices.Compare(sortedA, sortedB) {
				t.Errorf("compare %v %v = %d, expected %d", test.a, test.b, got, test.expected)
			}
		})
	}
}
