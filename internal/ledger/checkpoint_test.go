package ledger

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCheckpoint_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := newTestLedger(t)

	_, err := l.SignUp(0, big.NewInt(1), big.NewInt(10))
	require.NoError(t, err)
	require.NoError(t, l.Attest(0, big.NewInt(55), 0, big.NewInt(3)))
	res, err := l.SealEpoch(0)
	require.NoError(t, err)
	_, err = l.ApplyTransition(1, res.HistoryRoot, big.NewInt(20), []*big.Int{big.NewInt(8)})
	require.NoError(t, err)
	require.NoError(t, l.Attest(1, big.NewInt(66), 1, big.NewInt(2)))

	require.NoError(t, l.Save(dir))

	loaded, err := Load(dir, Params{Config: testConfig(), Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), loaded.CurrentEpoch())
	assert.Equal(t, 0, loaded.AttesterID().Cmp(big.NewInt(1)))
	assert.True(t, loaded.IsSealed(0))
	assert.False(t, loaded.IsSealed(1))
	assert.True(t, loaded.IsSignedUp(big.NewInt(1)))
	assert.True(t, loaded.HistoryRootExists(res.HistoryRoot))

	for _, kind := range []TreeKind{StateTree, EpochTree, HistoryTree} {
		for _, epoch := range []uint64{0, 1} {
			want, err := l.Root(kind, epoch)
			require.NoError(t, err)
			got, err := loaded.Root(kind, epoch)
			require.NoError(t, err)
			assert.Equal(t, 0, want.Cmp(got), "%s tree of epoch %d", kind, epoch)
		}
	}

	entry, err := loaded.EpochKeyEntry(0, big.NewInt(55))
	require.NoError(t, err)
	assert.Equal(t, int64(3), entry.Delta[0].Int64())

	pending, ok := loaded.PendingDelta(1, big.NewInt(66))
	require.True(t, ok)
	assert.Equal(t, int64(2), pending[1].Int64())

	_, err = loaded.ApplyTransition(1, res.HistoryRoot, big.NewInt(21), []*big.Int{big.NewInt(8)})
	assert.ErrorIs(t, err, ErrAlreadyTransitioned)
}

func TestRegistry(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledgers")
	r := NewRegistry(testConfig(), zaptest.NewLogger(t))

	_, err := r.SignUpAttester(big.NewInt(2), 0)
	require.NoError(t, err)
	_, err = r.SignUpAttester(big.NewInt(1), 5)
	require.NoError(t, err)
	_, err = r.SignUpAttester(big.NewInt(1), 0)
	assert.ErrorIs(t, err, ErrAttesterAlreadySignedUp)

	_, err = r.Get(big.NewInt(3))
	assert.ErrorIs(t, err, ErrAttesterNotSignedUp)

	attesters := r.Attesters()
	require.Len(t, attesters, 2)
	assert.Equal(t, int64(1), attesters[0].Int64())

	require.NoError(t, r.Save(dir))
	loaded, err := LoadRegistry(dir, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	l, err := loaded.Get(big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), l.CurrentEpoch())

	empty, err := LoadRegistry(filepath.Join(t.TempDir(), "missing"), testConfig(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Attesters())
}
