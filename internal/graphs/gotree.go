package graphs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/evolbioinfo/gotree/io/newick"
	"github.com/evolbioinfo/gotree/tree"
)

var (
	ErrInvalidNewick = errors.New("invalid newick format")
	ErrUnrooted      = errors.New("not rooted")
	ErrNonBinary     = errors.New("not binary")
	ErrMulTree       = errors.New("contains duplicate labels")
)

// Parses a single Newick tree with gotree and converts it. Quoted labels may
// contain any Newick punctuation.
func ParseNewick(nwk string) (*Tree, error) {
	plain, labels, err := unquoteLabels(nwk)
	if err != nil {
		return nil, err
	}
	gt, err := newick.NewParser(strings.NewReader(plain)).Parse()
	if err != nil {
		return nil, fmt.Errorf("%w, %s", ErrInvalidNewick, err.Error())
	}
	return fromGotree(gt, labels)
}

// Converts a rooted binary gotree tree. Missing branch lengths are read as 0;
// internal node names are dropped. Node heights are the longest path down to
// a leaf, which for ultrametric trees is the common leaf distance.
func FromGotree(gt *tree.Tree) (*Tree, error) {
	return fromGotree(gt, nil)
}

// labels maps leaf names in gt to the labels they stand for
func fromGotree(gt *tree.Tree, labels map[string]string) (*Tree, error) {
	if !gt.Rooted() {
		return nil, fmt.Errorf("tree is %w", ErrUnrooted)
	}
	b := NewBuilder(len(gt.Tips()))
	ids := make(map[*tree.Node]int)
	lengths := make(map[*tree.Node]float64)
	seen := make(map[string]bool)
	var err error
	gt.PostOrder(func(cur, prev *tree.Node, e *tree.Edge) (keep bool) {
		if err != nil {
			return true
		}
		if e != nil && e.Length() > 0 {
			lengths[cur] = e.Length()
		}
		if cur.Tip() {
			name := cur.Name()
			if label, ok := labels[name]; ok {
				name = label
			}
			switch {
			case name == "":
				err = fmt.Errorf("%w, leaf without label", ErrInvalidLabel)
			case seen[name]:
				err = fmt.Errorf("tree %w (%s)", ErrMulTree, name)
			default:
				seen[name] = true
				ids[cur] = b.AddLeaf(name)
			}
			return true
		}
		children := make([]*tree.Node, 0, 2)
		for _, n := range cur.Neigh() {
			if n != prev {
				children = append(children, n)
			}
		}
		if len(children) != 2 {
			err = fmt.Errorf("tree is %w, node with %d children", ErrNonBinary, len(children))
			return true
		}
		l, r := ids[children[0]], ids[children[1]]
		lLen, rLen := lengths[children[0]], lengths[children[1]]
		height := max(b.Height(l)+lLen, b.Height(r)+rLen)
		ids[cur] = b.Join(l, r, lLen, rLen, height)
		return true
	})
	if err != nil {
		return nil, err
	}
	return b.Finish(ids[gt.Root()], true), nil
}

// Converts tree to a gotree tree (rooted, with branch lengths and leaf names)
func (t *Tree) Gotree() *tree.Tree {
	gt := tree.NewTree()
	nodes := make([]*tree.Node, len(t.nodes))
	t.PreOrder(func(i int) {
		nodes[i] = gt.NewNode()
		if n := t.nodes[i]; n.IsLeaf() {
			nodes[i].SetName(n.Label)
		}
		if i == t.root {
			gt.SetRoot(nodes[i])
			return
		}
		e := gt.ConnectNodes(nodes[t.parents[i]], nodes[i])
		e.SetLength(t.nodes[i].BranchLength)
	})
	if err := gt.UpdateTipIndex(); err != nil {
		panic(fmt.Sprintf("tree %s", err))
	}
	return gt
}
