package userstate

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorag20/Unirep/pkg/repdata"
	"github.com/sorag20/Unirep/pkg/unirep"
)

func TestStore_RoundTrip(t *testing.T) {
	cfg := unirep.DefaultConfig()
	s := NewStore(t.TempDir(), cfg)
	secret := big.NewInt(987654321)

	data, err := repdata.FromInts(cfg, 7, 2, 0, 0, 99)
	require.NoError(t, err)
	st := &State{AttesterID: big.NewInt(5), Epoch: 3, Data: data}
	require.NoError(t, s.Save(secret, st))

	loaded, err := s.Load(secret, big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), loaded.Epoch)
	assert.Equal(t, 0, loaded.AttesterID.Cmp(big.NewInt(5)))
	assert.True(t, repdata.Equal(cfg, data, loaded.Data))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".state"))

	raw, err := os.ReadFile(filepath.Join(s.Dir(), entries[0].Name()))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "attester_id", "file is encrypted")
}

func TestStore_Overwrite(t *testing.T) {
	cfg := unirep.DefaultConfig()
	s := NewStore(t.TempDir(), cfg)
	secret := big.NewInt(1)
	attester := big.NewInt(2)

	require.NoError(t, s.Save(secret, &State{AttesterID: attester, Epoch: 0, Data: repdata.New(cfg)}))
	data, err := repdata.FromInts(cfg, 10)
	require.NoError(t, err)
	require.NoError(t, s.Save(secret, &State{AttesterID: attester, Epoch: 1, Data: data}))

	loaded, err := s.Load(secret, attester)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loaded.Epoch)
	assert.Equal(t, int64(10), loaded.Data[0].Int64())
}

func TestStore_NotFound(t *testing.T) {
	s := NewStore(t.TempDir(), unirep.DefaultConfig())
	_, err := s.Load(big.NewInt(1), big.NewInt(2))
	assert.ErrorIs(t, err, unirep.ErrNotFound)
}

func TestStore_WrongSecret(t *testing.T) {
	cfg := unirep.DefaultConfig()
	dir := t.TempDir()
	s := NewStore(dir, cfg)
	require.NoError(t, s.Save(big.NewInt(1), &State{AttesterID: big.NewInt(2), Data: repdata.New(cfg)}))

	// A different secret looks up a different file.
	_, err := s.Load(big.NewInt(3), big.NewInt(2))
	assert.ErrorIs(t, err, unirep.ErrNotFound)

	// The right file under the wrong key fails to decrypt.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	path, err := s.path(big.NewInt(3), big.NewInt(2))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0600))

	_, err = s.Load(big.NewInt(3), big.NewInt(2))
	require.Error(t, err)
	assert.NotErrorIs(t, err, unirep.ErrNotFound)
}

func TestStore_RejectsInvalidData(t *testing.T) {
	cfg := unirep.DefaultConfig()
	s := NewStore(t.TempDir(), cfg)
	err := s.Save(big.NewInt(1), &State{AttesterID: big.NewInt(2), Data: repdata.Data{big.NewInt(1)}})
	assert.Error(t, err)
}

func TestStore_Delete(t *testing.T) {
	cfg := unirep.DefaultConfig()
	s := NewStore(t.TempDir(), cfg)
	require.NoError(t, s.Save(big.NewInt(1), &State{AttesterID: big.NewInt(2), Data: repdata.New(cfg)}))

	require.NoError(t, s.Delete(big.NewInt(1), big.NewInt(2)))
	_, err := s.Load(big.NewInt(1), big.NewInt(2))
	assert.ErrorIs(t, err, unirep.ErrNotFound)
	assert.NoError(t, s.Delete(big.NewInt(1), big.NewInt(2)))
}

func TestStore_Pending(t *testing.T) {
	cfg := unirep.DefaultConfig()
	s := NewStore(t.TempDir(), cfg)
	secret, attester := big.NewInt(1), big.NewInt(2)

	// a pending sign-up has nothing committed yet
	require.NoError(t, s.SavePending(secret, &State{AttesterID: attester, Epoch: 0, Data: repdata.New(cfg)}))
	_, err := s.Load(secret, attester)
	assert.ErrorIs(t, err, unirep.ErrNotFound)
	require.NoError(t, s.DropPending(secret, attester))
	_, err = s.LoadPending(secret, attester)
	assert.ErrorIs(t, err, unirep.ErrNotFound)

	require.NoError(t, s.Save(secret, &State{AttesterID: attester, Epoch: 1, Data: repdata.New(cfg)}))
	next, err := repdata.FromInts(cfg, 4)
	require.NoError(t, err)
	require.NoError(t, s.SavePending(secret, &State{AttesterID: attester, Epoch: 2, Data: next}))

	committed, err := s.Load(secret, attester)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), committed.Epoch, "pending state does not replace the committed one")
	pending, err := s.LoadPending(secret, attester)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), pending.Epoch)

	require.NoError(t, s.DropPending(secret, attester))
	committed, err = s.Load(secret, attester)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), committed.Epoch)

	require.NoError(t, s.SavePending(secret, &State{AttesterID: attester, Epoch: 2, Data: next}))
	require.NoError(t, s.Promote(secret, attester))
	committed, err = s.Load(secret, attester)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), committed.Epoch)
	assert.Equal(t, int64(4), committed.Data[0].Int64())
	_, err = s.LoadPending(secret, attester)
	assert.ErrorIs(t, err, unirep.ErrNotFound)

	assert.ErrorIs(t, s.Promote(secret, attester), unirep.ErrNotFound)
}
