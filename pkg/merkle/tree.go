// Package merkle implements the append-only incremental Merkle tree used for
// the state, epoch and history trees.
//
// Leaves are inserted left to right. Internal nodes are hash(left, right)
// and empty subtrees hash to the zero values z0 = 0, z(i+1) = hash(zi, zi),
// so an empty tree of depth d has root z(d).
package merkle

import (
	"fmt"
	"math/big"

	"github.com/sorag20/Unirep/pkg/hasher"
	"github.com/sorag20/Unirep/pkg/unirep"
)

// Tree is an incremental Merkle tree. It is not safe for concurrent use;
// callers serialize access.
type Tree struct {
	depth uint
	zeros []*big.Int
	// levels[0] holds the leaves, levels[depth] holds the root once a leaf
	// exists. Positions past the end of a level are zero subtrees.
	levels [][]*big.Int
}

// Proof is an inclusion proof for one leaf.
type Proof struct {
	Root  *big.Int
	Leaf  *big.Int
	Index uint64
	// Siblings[i] is the sibling at height i.
	Siblings []*big.Int
	// PathIndices[i] is 1 when the path node at height i is a right child.
	PathIndices []uint8
}

// ZeroHashes returns z0..z(depth).
func ZeroHashes(depth uint) []*big.Int {
	zeros := make([]*big.Int, depth+1)
	zeros[0] = new(big.Int)
	for i := uint(1); i <= depth; i++ {
		zeros[i] = hasher.MustHash(zeros[i-1], zeros[i-1])
	}
	return zeros
}

// New returns an empty tree of the given depth.
func New(depth uint) (*Tree, error) {
	if depth < 1 || depth > unirep.MaxTreeDepth {
		return nil, fmt.Errorf("%w: tree depth %d", unirep.ErrRange, depth)
	}
	return &Tree{
		depth:  depth,
		zeros:  ZeroHashes(depth),
		levels: make([][]*big.Int, depth+1),
	}, nil
}

// Depth returns the tree depth.
func (t *Tree) Depth() uint {
	return t.depth
}

// Capacity returns the maximum number of leaves.
func (t *Tree) Capacity() uint64 {
	return uint64(1) << t.depth
}

// NumLeaves returns the number of inserted leaves.
func (t *Tree) NumLeaves() uint64 {
	return uint64(len(t.levels[0]))
}

// Root returns the current root.
func (t *Tree) Root() *big.Int {
	if len(t.levels[t.depth]) == 0 {
		return new(big.Int).Set(t.zeros[t.depth])
	}
	return new(big.Int).Set(t.levels[t.depth][0])
}

// Insert appends leaf and returns its index.
func (t *Tree) Insert(leaf *big.Int) (uint64, error) {
	if err := unirep.CheckField("leaf", leaf); err != nil {
		return 0, err
	}
	index := t.NumLeaves()
	if index >= t.Capacity() {
		return 0, fmt.Errorf("%w: depth %d tree holds %d leaves", unirep.ErrCapacity, t.depth, t.Capacity())
	}

	cur := new(big.Int).Set(leaf)
	t.levels[0] = append(t.levels[0], cur)

	pos := index
	for h := uint(0); h < t.depth; h++ {
		var left, right *big.Int
		if pos&1 == 0 {
			left, right = cur, t.node(h, pos+1)
		} else {
			left, right = t.node(h, pos-1), cur
		}
		cur = hasher.MustHash(left, right)
		pos >>= 1
		t.set(h+1, pos, cur)
	}
	return index, nil
}

// Leaf returns the leaf at index.
func (t *Tree) Leaf(index uint64) (*big.Int, error) {
	if index >= t.NumLeaves() {
		return nil, fmt.Errorf("%w: leaf %d of %d", unirep.ErrNotFound, index, t.NumLeaves())
	}
	return new(big.Int).Set(t.levels[0][index]), nil
}

// Leaves returns a copy of the inserted leaves in order.
func (t *Tree) Leaves() []*big.Int {
	out := make([]*big.Int, len(t.levels[0]))
	for i, l := range t.levels[0] {
		out[i] = new(big.Int).Set(l)
	}
	return out
}

// IndexOf returns the index of the first leaf equal to leaf.
func (t *Tree) IndexOf(leaf *big.Int) (uint64, bool) {
	for i, l := range t.levels[0] {
		if l.Cmp(leaf) == 0 {
			return uint64(i), true
		}
	}
	return 0, false
}

// Prove returns an inclusion proof for the leaf at index.
func (t *Tree) Prove(index uint64) (*Proof, error) {
	leaf, err := t.Leaf(index)
	if err != nil {
		return nil, err
	}

	p := &Proof{
		Root:        t.Root(),
		Leaf:        leaf,
		Index:       index,
		Siblings:    make([]*big.Int, t.depth),
		PathIndices: make([]uint8, t.depth),
	}
	pos := index
	for h := uint(0); h < t.depth; h++ {
		p.PathIndices[h] = uint8(pos & 1)
		p.Siblings[h] = new(big.Int).Set(t.node(h, pos^1))
		pos >>= 1
	}
	return p, nil
}

// Clone returns an independent copy of t.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		depth:  t.depth,
		zeros:  t.zeros,
		levels: make([][]*big.Int, len(t.levels)),
	}
	for h, level := range t.levels {
		c.levels[h] = make([]*big.Int, len(level))
		for i, n := range level {
			c.levels[h][i] = new(big.Int).Set(n)
		}
	}
	return c
}

// ComputeRoot folds leaf up the path described by siblings and pathIndices.
func ComputeRoot(leaf *big.Int, siblings []*big.Int, pathIndices []uint8) (*big.Int, error) {
	if len(siblings) != len(pathIndices) {
		return nil, fmt.Errorf("%w: %d siblings, %d path indices", unirep.ErrRange, len(siblings), len(pathIndices))
	}
	cur := leaf
	for h := range siblings {
		var err error
		switch pathIndices[h] {
		case 0:
			cur, err = hasher.Hash2(cur, siblings[h])
		case 1:
			cur, err = hasher.Hash2(siblings[h], cur)
		default:
			return nil, fmt.Errorf("%w: path index %d at height %d", unirep.ErrRange, pathIndices[h], h)
		}
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// Verify reports whether p proves p.Leaf under p.Root.
func (p *Proof) Verify() bool {
	root, err := ComputeRoot(p.Leaf, p.Siblings, p.PathIndices)
	if err != nil {
		return false
	}
	return root.Cmp(p.Root) == 0
}

func (t *Tree) node(h uint, pos uint64) *big.Int {
	if pos < uint64(len(t.levels[h])) {
		return t.levels[h][pos]
	}
	return t.zeros[h]
}

func (t *Tree) set(h uint, pos uint64, v *big.Int) {
	if pos < uint64(len(t.levels[h])) {
		t.levels[h][pos] = v
		return
	}
	t.levels[h] = append(t.levels[h], v)
}
