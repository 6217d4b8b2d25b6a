package zkproof

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorag20/Unirep/pkg/unirep"
)

func TestParseCircuitID(t *testing.T) {
	for _, id := range Circuits {
		got, err := ParseCircuitID(string(id))
		require.NoError(t, err)
		assert.Equal(t, id, got)

		c, err := NewCircuit(testConfig(), id)
		require.NoError(t, err)
		assert.NotNil(t, c)
	}

	_, err := ParseCircuitID("hamming")
	assert.ErrorIs(t, err, unirep.ErrNotFound)
}

func TestCompileCircuit_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SumFieldCount = 0
	_, err := CompileCircuit(cfg, CircuitEpochKeyLite)
	assert.Error(t, err)
}

func TestPlonkBackend_ProveVerify(t *testing.T) {
	if testing.Short() {
		t.Skip("PLONK setup is slow")
	}
	cfg := testConfig()
	b := NewPlonkBackend(cfg)
	ctx := context.Background()

	assignment, err := NewEpochKeyLiteAssignment(cfg, testEpochKeyInputs(t, cfg))
	require.NoError(t, err)

	result, err := b.Prove(ctx, CircuitEpochKeyLite, assignment)
	require.NoError(t, err)
	assert.Equal(t, CircuitEpochKeyLite, result.CircuitID)
	assert.NotEmpty(t, result.Proof)
	require.Len(t, result.PublicSignals, 3)
	assert.Equal(t, 0, result.PublicSignals[1].Cmp(assignment.EpochKey.(*big.Int)))
	assert.Equal(t, int64(11), result.PublicSignals[2].Int64())

	require.NoError(t, b.Verify(ctx, CircuitEpochKeyLite, result.Proof, result.PublicSignals))

	t.Run("tampered signal", func(t *testing.T) {
		signals := append([]*big.Int(nil), result.PublicSignals...)
		signals[2] = big.NewInt(12)
		err := b.Verify(ctx, CircuitEpochKeyLite, result.Proof, signals)
		assert.ErrorIs(t, err, unirep.ErrVerification)
	})

	t.Run("tampered proof", func(t *testing.T) {
		proof := append([]byte(nil), result.Proof...)
		proof[len(proof)/2] ^= 0xff
		err := b.Verify(ctx, CircuitEpochKeyLite, proof, result.PublicSignals)
		assert.ErrorIs(t, err, unirep.ErrVerification)
	})

	t.Run("wrong signal count", func(t *testing.T) {
		err := b.Verify(ctx, CircuitEpochKeyLite, result.Proof, result.PublicSignals[:2])
		assert.ErrorIs(t, err, unirep.ErrRange)
	})

	t.Run("empty proof", func(t *testing.T) {
		err := b.Verify(ctx, CircuitEpochKeyLite, nil, result.PublicSignals)
		assert.ErrorIs(t, err, unirep.ErrVerification)
	})

	t.Run("unsatisfied assignment", func(t *testing.T) {
		bad := *assignment
		bad.Data = big.NewInt(12)
		bad.EpochKey = big.NewInt(1)
		_, err := b.Prove(ctx, CircuitEpochKeyLite, &bad)
		assert.ErrorIs(t, err, unirep.ErrVerification)
	})
}

func TestPlonkBackend_Signup(t *testing.T) {
	if testing.Short() {
		t.Skip("PLONK setup is slow")
	}
	cfg := testConfig()
	b := NewPlonkBackend(cfg)

	assignment, err := NewSignupAssignment(cfg, SignupInputs{
		IdentitySecret: testSecret,
		AttesterID:     testAttester,
		Epoch:          testEpoch,
	})
	require.NoError(t, err)

	result, err := b.Prove(context.Background(), CircuitSignup, assignment)
	require.NoError(t, err)

	proof, err := ParseSignupSignals(result.PublicSignals)
	require.NoError(t, err)
	assert.Equal(t, uint64(testEpoch), proof.Epoch)
	assert.Equal(t, 0, proof.Airdrop.Sign())
	require.NoError(t, b.Verify(context.Background(), CircuitSignup, result.Proof, result.PublicSignals))
}

func TestProver_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProver(&CompiledCircuit{ID: CircuitEpochKeyLite, Config: testConfig()})
	_, err := p.Prove(ctx, NewEpochKeyLiteCircuit(testConfig()))
	assert.ErrorIs(t, err, context.Canceled)

	v := NewVerifier(&CompiledCircuit{ID: CircuitEpochKeyLite, Config: testConfig()})
	err = v.Verify(ctx, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
