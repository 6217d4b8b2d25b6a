package zkproof

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/frontend"

	"github.com/sorag20/Unirep/pkg/unirep"
)

// Verifier validates proofs for one compiled circuit.
type Verifier struct {
	compiled *CompiledCircuit
}

// NewVerifier creates a Verifier for a compiled circuit.
func NewVerifier(compiled *CompiledCircuit) *Verifier {
	return &Verifier{compiled: compiled}
}

// Verify checks proofBytes against signals. Signals of the wrong count or
// out of field range are range errors; a proof that does not verify wraps
// unirep.ErrVerification.
func (v *Verifier) Verify(ctx context.Context, proofBytes []byte, signals []*big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	circuit, err := NewCircuit(v.compiled.Config, v.compiled.ID)
	if err != nil {
		return err
	}
	if err := circuit.assignPublic(signals); err != nil {
		return err
	}

	proof := plonk.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("%w: deserialize proof: %v", unirep.ErrVerification, err)
	}

	publicWitness, err := frontend.NewWitness(circuit, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("build public witness: %w", err)
	}

	if err := plonk.Verify(proof, v.compiled.VerifyingKey, publicWitness); err != nil {
		return fmt.Errorf("%w: %s proof: %v", unirep.ErrVerification, v.compiled.ID, err)
	}
	return nil
}
