package zkproof

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorag20/Unirep/pkg/unirep"
)

func TestCheckCompatibility(t *testing.T) {
	local := unirep.DefaultConfig()

	t.Run("compatible", func(t *testing.T) {
		require.NoError(t, CheckCompatibility(local, NewCapability(local, true)))
	})

	t.Run("nil", func(t *testing.T) {
		assert.Error(t, CheckCompatibility(local, nil))
	})

	t.Run("disabled", func(t *testing.T) {
		err := CheckCompatibility(local, NewCapability(local, false))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not enabled")
	})

	t.Run("proof system", func(t *testing.T) {
		remote := NewCapability(local, true)
		remote.ProofSystem = "groth16-bn254"
		err := CheckCompatibility(local, remote)
		assert.ErrorIs(t, err, ErrIncompatibleSystem)
		assert.Contains(t, err.Error(), "groth16-bn254")
	})

	t.Run("parameters", func(t *testing.T) {
		other := local
		other.FieldCount++
		err := CheckCompatibility(local, NewCapability(other, true))
		assert.ErrorIs(t, err, ErrIncompatibleSystem)
	})
}

func TestCapability_Struct(t *testing.T) {
	cfg := unirep.DefaultConfig()
	cfg.ReplNonceBits = 40
	c := NewCapability(cfg, true)

	s, err := c.ToStruct()
	require.NoError(t, err)

	back := CapabilityFromStruct(s)
	require.NotNil(t, back)
	assert.Equal(t, c, back)
	assert.NoError(t, CheckCompatibility(cfg, back))

	assert.Nil(t, CapabilityFromStruct(nil))
}
