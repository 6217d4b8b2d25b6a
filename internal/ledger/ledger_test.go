package ledger

import (
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sorag20/Unirep/pkg/hasher"
	"github.com/sorag20/Unirep/pkg/merkle"
	"github.com/sorag20/Unirep/pkg/repdata"
	"github.com/sorag20/Unirep/pkg/unirep"
)

func testConfig() unirep.Config {
	cfg := unirep.DefaultConfig()
	cfg.StateTreeDepth = 4
	cfg.EpochTreeDepth = 4
	cfg.HistoryTreeDepth = 4
	return cfg
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := New(Params{
		Config:     testConfig(),
		AttesterID: big.NewInt(1),
		StartEpoch: 0,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return l
}

func TestNew_Empty(t *testing.T) {
	l := newTestLedger(t)

	assert.Equal(t, uint64(0), l.CurrentEpoch())
	n, err := l.NumLeaves(StateTree, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	root, err := l.Root(StateTree, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, root.Cmp(merkle.ZeroHashes(4)[4]))

	_, err = l.Root(StateTree, 7)
	assert.ErrorIs(t, err, unirep.ErrNotFound)
}

func TestSignUp(t *testing.T) {
	l := newTestLedger(t)

	idx, err := l.SignUp(0, big.NewInt(100), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), idx)
	assert.True(t, l.IsSignedUp(big.NewInt(100)))

	_, err = l.SignUp(0, big.NewInt(100), big.NewInt(1001))
	assert.ErrorIs(t, err, ErrUserAlreadySignedUp)

	_, err = l.SignUp(3, big.NewInt(101), big.NewInt(1002))
	assert.ErrorIs(t, err, ErrEpochMismatch)

	n, err := l.NumLeaves(StateTree, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n, "rejected sign-ups must not insert leaves")
}

func TestSignUp_Capacity(t *testing.T) {
	l := newTestLedger(t)

	for i := int64(0); i < 16; i++ {
		_, err := l.SignUp(0, big.NewInt(i+1), big.NewInt(i+1))
		require.NoError(t, err)
	}
	_, err := l.SignUp(0, big.NewInt(99), big.NewInt(99))
	assert.ErrorIs(t, err, unirep.ErrCapacity)
	assert.False(t, l.IsSignedUp(big.NewInt(99)))
}

func TestStateRootExists(t *testing.T) {
	l := newTestLedger(t)

	empty, err := l.Root(StateTree, 0)
	require.NoError(t, err)
	_, err = l.SignUp(0, big.NewInt(1), big.NewInt(10))
	require.NoError(t, err)
	afterOne, err := l.Root(StateTree, 0)
	require.NoError(t, err)

	assert.True(t, l.StateRootExists(0, empty))
	assert.True(t, l.StateRootExists(0, afterOne))
	assert.False(t, l.StateRootExists(1, afterOne))
	assert.False(t, l.StateRootExists(0, big.NewInt(5)))
}

func TestAttest_EpochMismatch(t *testing.T) {
	l := newTestLedger(t)

	err := l.Attest(1, big.NewInt(5), 0, big.NewInt(1))
	assert.ErrorIs(t, err, ErrEpochMismatch)

	err = l.Attest(0, big.NewInt(5), testConfig().FieldCount, big.NewInt(1))
	assert.ErrorIs(t, err, unirep.ErrRange)
}

func TestSealEpoch_BuildsEpochTreeAndHistory(t *testing.T) {
	cfg := testConfig()
	l := newTestLedger(t)

	_, err := l.SignUp(0, big.NewInt(1), big.NewInt(10))
	require.NoError(t, err)

	epkA, epkB := big.NewInt(111), big.NewInt(222)
	require.NoError(t, l.Attest(0, epkB, 0, big.NewInt(3)))
	require.NoError(t, l.Attest(0, epkA, 1, big.NewInt(2)))
	require.NoError(t, l.Attest(0, epkB, 0, big.NewInt(4)))

	res, err := l.SealEpoch(0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NumEpochKeys)
	assert.Equal(t, uint64(0), res.HistoryIndex)
	assert.Equal(t, uint64(1), l.CurrentEpoch())
	assert.True(t, l.IsSealed(0))

	// first-attestation order: B then A
	deltaB := repdata.New(cfg)
	deltaB[0].SetInt64(7)
	leafB := hasher.MustHash(append([]*big.Int{epkB}, deltaB...)...)
	entry, err := l.EpochKeyEntry(0, epkB)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), entry.Index)
	assert.Equal(t, 0, entry.Proof.Leaf.Cmp(leafB))
	assert.True(t, entry.Proof.Verify())
	assert.Equal(t, int64(7), entry.Delta[0].Int64())

	entryA, err := l.EpochKeyEntry(0, epkA)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entryA.Index)

	idxA, err := l.EpochTreeIndex(0, epkA)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), idxA)
	_, err = l.EpochTreeIndex(1, epkA)
	assert.ErrorIs(t, err, unirep.ErrNotFound)

	_, err = l.EpochKeyEntry(0, big.NewInt(333))
	assert.ErrorIs(t, err, unirep.ErrNotFound)

	wantLeaf := hasher.MustHash(res.StateRoot, res.EpochRoot)
	assert.Equal(t, 0, wantLeaf.Cmp(res.HistoryLeaf))
	histRoot, err := l.Root(HistoryTree, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, histRoot.Cmp(res.HistoryRoot))
	assert.True(t, l.HistoryRootExists(histRoot))

	idx, err := l.HistoryIndex(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), idx)
}

func TestSealEpoch_RejectsWritesAfterSeal(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.SealEpoch(0)
	require.NoError(t, err)

	_, err = l.InsertStateLeaf(0, big.NewInt(1))
	assert.ErrorIs(t, err, unirep.ErrStaleEpoch)

	_, err = l.InsertEpochLeaf(0, big.NewInt(1))
	assert.ErrorIs(t, err, unirep.ErrStaleEpoch)

	_, err = l.SealEpoch(0)
	assert.ErrorIs(t, err, ErrEpochMismatch)

	_, err = l.InsertStateLeaf(1, big.NewInt(1))
	assert.NoError(t, err, "next epoch accepts writes")
}

func TestSealEpoch_AtomicOnHistoryOverflow(t *testing.T) {
	cfg := testConfig()
	cfg.HistoryTreeDepth = 1
	l, err := New(Params{Config: cfg, AttesterID: big.NewInt(1)})
	require.NoError(t, err)

	_, err = l.SealEpoch(0)
	require.NoError(t, err)
	_, err = l.SealEpoch(1)
	require.NoError(t, err)

	require.NoError(t, l.Attest(2, big.NewInt(9), 0, big.NewInt(1)))
	before, err := l.Root(EpochTree, 2)
	require.NoError(t, err)

	_, err = l.SealEpoch(2)
	assert.ErrorIs(t, err, unirep.ErrCapacity)

	after, err := l.Root(EpochTree, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, before.Cmp(after), "failed seal must not publish an epoch tree")
	assert.False(t, l.IsSealed(2))
	assert.Equal(t, uint64(2), l.CurrentEpoch())

	_, err = l.InsertStateLeaf(2, big.NewInt(1))
	assert.NoError(t, err, "epoch stays open after a failed seal")
}

func TestHistoryTree_Immutable(t *testing.T) {
	l := newTestLedger(t)

	res0, err := l.SealEpoch(0)
	require.NoError(t, err)
	p0, err := l.ProveInclusion(HistoryTree, 0, 0)
	require.NoError(t, err)

	_, err = l.SignUp(1, big.NewInt(5), big.NewInt(50))
	require.NoError(t, err)
	_, err = l.SealEpoch(1)
	require.NoError(t, err)

	p0again, err := l.ProveInclusion(HistoryTree, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, p0.Leaf.Cmp(p0again.Leaf))
	assert.Equal(t, 0, res0.HistoryLeaf.Cmp(p0again.Leaf))
	assert.True(t, l.HistoryRootExists(res0.HistoryRoot), "old history roots remain known")
}

func TestApplyTransition(t *testing.T) {
	l := newTestLedger(t)
	res, err := l.SealEpoch(0)
	require.NoError(t, err)

	keys := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}

	_, err = l.ApplyTransition(1, big.NewInt(12345), big.NewInt(77), keys)
	assert.ErrorIs(t, err, unirep.ErrNotFound, "unknown history root")

	idx, err := l.ApplyTransition(1, res.HistoryRoot, big.NewInt(77), keys)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), idx)

	_, err = l.ApplyTransition(1, res.HistoryRoot, big.NewInt(78), keys[:1])
	assert.ErrorIs(t, err, ErrAlreadyTransitioned)

	_, err = l.ApplyTransition(0, res.HistoryRoot, big.NewInt(79), []*big.Int{big.NewInt(9)})
	assert.ErrorIs(t, err, ErrEpochMismatch)

	_, err = l.ApplyTransition(1, res.HistoryRoot, big.NewInt(80), []*big.Int{big.NewInt(4), keys[2]})
	assert.ErrorIs(t, err, ErrAlreadyTransitioned)
	_, err = l.ApplyTransition(1, res.HistoryRoot, big.NewInt(80), []*big.Int{big.NewInt(4)})
	assert.NoError(t, err, "a rejected transition consumes none of its keys")
}

func TestApplyTransition_RejectsUnclaimedAttestations(t *testing.T) {
	l := newTestLedger(t)
	attested := big.NewInt(55)
	require.NoError(t, l.Attest(0, attested, 0, big.NewInt(3)))
	res, err := l.SealEpoch(0)
	require.NoError(t, err)

	_, err = l.ApplyTransition(1, res.HistoryRoot, big.NewInt(77), []*big.Int{big.NewInt(1), attested})
	assert.ErrorIs(t, err, ErrUnclaimedAttestations)

	n, err := l.NumLeaves(StateTree, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n, "rejected transition inserts nothing")
}

func TestSealEpoch_SkipsZeroDeltas(t *testing.T) {
	l := newTestLedger(t)
	cfg := l.Config()
	zero, cancelled, live := big.NewInt(31), big.NewInt(32), big.NewInt(33)

	// replacement value 0 at attestation nonce 0 packs to zero
	require.NoError(t, l.Attest(0, zero, cfg.SumFieldCount, big.NewInt(0)))
	require.NoError(t, l.Attest(0, cancelled, 0, big.NewInt(3)))
	require.NoError(t, l.Attest(0, cancelled, 0, new(big.Int).Sub(unirep.Modulus(), big.NewInt(3))))
	require.NoError(t, l.Attest(0, live, 1, big.NewInt(2)))

	res, err := l.SealEpoch(0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NumEpochKeys)
	n, err := l.NumLeaves(EpochTree, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	for _, k := range []*big.Int{zero, cancelled} {
		_, err := l.EpochTreeIndex(0, k)
		assert.ErrorIs(t, err, unirep.ErrNotFound)
	}
	idx, err := l.EpochTreeIndex(0, live)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), idx)

	_, err = l.ApplyTransition(1, res.HistoryRoot, big.NewInt(77), []*big.Int{zero, cancelled})
	assert.NoError(t, err, "keys with nothing to claim can be emitted as is")
	_, err = l.ApplyTransition(1, res.HistoryRoot, big.NewInt(78), []*big.Int{live})
	assert.ErrorIs(t, err, ErrUnclaimedAttestations)
}

func TestConcurrentReaders(t *testing.T) {
	l := newTestLedger(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(0); i < 16; i++ {
			_, _ = l.SignUp(0, big.NewInt(i+1), big.NewInt(i+100))
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				n, err := l.NumLeaves(StateTree, 0)
				if err != nil || n == 0 {
					continue
				}
				p, err := l.ProveInclusion(StateTree, 0, n-1)
				if err == nil {
					assert.True(t, p.Verify())
				}
			}
		}()
	}
	wg.Wait()
}

func TestTreeKind_String(t *testing.T) {
	for _, k := range []TreeKind{StateTree, EpochTree, HistoryTree} {
		parsed, err := ParseTreeKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseTreeKind("nope")
	assert.ErrorIs(t, err, unirep.ErrNotFound)
}
