package merkle

import (
	"bytes"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorag20/Unirep/pkg/hasher"
	"github.com/sorag20/Unirep/pkg/unirep"
)

func mustTree(t *testing.T, depth uint, leaves ...int64) *Tree {
	t.Helper()
	tree, err := New(depth)
	require.NoError(t, err)
	for _, l := range leaves {
		_, err := tree.Insert(big.NewInt(l))
		require.NoError(t, err)
	}
	return tree
}

func TestNew_EmptyRootIsZeroHash(t *testing.T) {
	tree := mustTree(t, 4)
	zeros := ZeroHashes(4)

	assert.Equal(t, 0, tree.Root().Cmp(zeros[4]))
	assert.Equal(t, uint64(0), tree.NumLeaves())
	assert.Equal(t, uint64(16), tree.Capacity())

	_, err := New(0)
	assert.ErrorIs(t, err, unirep.ErrRange)
}

func TestInsert_RootMatchesManualHash(t *testing.T) {
	tree := mustTree(t, 2, 1, 2, 3)

	h := func(a, b *big.Int) *big.Int { return hasher.MustHash(a, b) }
	left := h(big.NewInt(1), big.NewInt(2))
	right := h(big.NewInt(3), big.NewInt(0))
	want := h(left, right)

	assert.Equal(t, 0, tree.Root().Cmp(want))
	assert.Equal(t, uint64(3), tree.NumLeaves())
}

func TestInsert_Capacity(t *testing.T) {
	tree := mustTree(t, 1, 1, 2)

	_, err := tree.Insert(big.NewInt(3))
	assert.ErrorIs(t, err, unirep.ErrCapacity)
	assert.Equal(t, uint64(2), tree.NumLeaves())
}

func TestInsert_RejectsNonField(t *testing.T) {
	tree := mustTree(t, 2)

	_, err := tree.Insert(unirep.Modulus())
	assert.ErrorIs(t, err, unirep.ErrRange)
}

func TestProve(t *testing.T) {
	tree := mustTree(t, 5, 10, 20, 30, 40, 50)

	for i := uint64(0); i < tree.NumLeaves(); i++ {
		p, err := tree.Prove(i)
		require.NoError(t, err)
		assert.True(t, p.Verify(), "proof for leaf %d", i)
		assert.Len(t, p.Siblings, 5)
		assert.Equal(t, uint8(i&1), p.PathIndices[0])
	}

	p, err := tree.Prove(2)
	require.NoError(t, err)
	p.Leaf = big.NewInt(31)
	assert.False(t, p.Verify(), "tampered leaf must not verify")

	_, err = tree.Prove(5)
	assert.ErrorIs(t, err, unirep.ErrNotFound)
}

func TestProve_StaysValidForOldRoot(t *testing.T) {
	tree := mustTree(t, 3, 1, 2)
	before, err := tree.Prove(0)
	require.NoError(t, err)

	_, err = tree.Insert(big.NewInt(3))
	require.NoError(t, err)

	assert.True(t, before.Verify(), "proof against the earlier root remains valid")
	assert.NotEqual(t, 0, before.Root.Cmp(tree.Root()))
}

func TestClone_Independent(t *testing.T) {
	tree := mustTree(t, 3, 1, 2)
	clone := tree.Clone()

	_, err := clone.Insert(big.NewInt(3))
	require.NoError(t, err)

	assert.Equal(t, uint64(2), tree.NumLeaves())
	assert.NotEqual(t, 0, tree.Root().Cmp(clone.Root()))
}

func TestIndexOf(t *testing.T) {
	tree := mustTree(t, 3, 7, 8, 9)

	idx, ok := tree.IndexOf(big.NewInt(9))
	assert.True(t, ok)
	assert.Equal(t, uint64(2), idx)

	_, ok = tree.IndexOf(big.NewInt(10))
	assert.False(t, ok)
}

func TestComputeRoot_RejectsBadPath(t *testing.T) {
	_, err := ComputeRoot(big.NewInt(1), []*big.Int{big.NewInt(0)}, []uint8{2})
	assert.ErrorIs(t, err, unirep.ErrRange)

	_, err = ComputeRoot(big.NewInt(1), []*big.Int{big.NewInt(0)}, nil)
	assert.ErrorIs(t, err, unirep.ErrRange)
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	tree := mustTree(t, 6, 3, 1, 4, 1, 5, 9, 2, 6)

	var buf bytes.Buffer
	_, err := tree.WriteTo(&buf)
	require.NoError(t, err)

	loaded, err := ReadTree(&buf)
	require.NoError(t, err)
	assert.Equal(t, tree.Depth(), loaded.Depth())
	assert.Equal(t, tree.NumLeaves(), loaded.NumLeaves())
	assert.Equal(t, 0, tree.Root().Cmp(loaded.Root()))
}

func TestCheckpoint_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.tree")
	tree := mustTree(t, 4, 11, 12)

	require.NoError(t, tree.SaveFile(path))
	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0, tree.Root().Cmp(loaded.Root()))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestCheckpoint_RejectsUnknownVersion(t *testing.T) {
	data := []byte{99, 4, 0, 0, 0, 0, 0, 0, 0, 0}
	_, err := ReadTree(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrUnsupportedFormatVersion)
}
