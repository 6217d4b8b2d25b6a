package zkproof

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"

	"github.com/sorag20/Unirep/pkg/unirep"
)

// ProofResult is a serialized proof with its public signals in circuit
// order.
type ProofResult struct {
	CircuitID     CircuitID
	Proof         []byte
	PublicSignals []*big.Int
}

// Backend proves and verifies circuits. PlonkBackend is the production
// implementation.
type Backend interface {
	Prove(ctx context.Context, id CircuitID, assignment Circuit) (*ProofResult, error)
	Verify(ctx context.Context, id CircuitID, proof []byte, signals []*big.Int) error
}

// PlonkBackend proves and verifies with PLONK over BN254, compiling each
// circuit family on first use.
type PlonkBackend struct {
	cfg unirep.Config
}

// NewPlonkBackend creates a PlonkBackend for circuits sized by cfg.
func NewPlonkBackend(cfg unirep.Config) *PlonkBackend {
	return &PlonkBackend{cfg: cfg}
}

// Config returns the circuit parameters.
func (b *PlonkBackend) Config() unirep.Config {
	return b.cfg
}

// Prove generates a proof for a full assignment built by one of the
// New*Assignment functions.
//
// Proving runs in its own goroutine. When ctx ends first the call returns
// ctx.Err() and the result is discarded.
func (b *PlonkBackend) Prove(ctx context.Context, id CircuitID, assignment Circuit) (*ProofResult, error) {
	compiled, err := GetCompiledCircuit(b.cfg, id)
	if err != nil {
		return nil, err
	}
	return NewProver(compiled).Prove(ctx, assignment)
}

// Verify checks a proof against public signals.
func (b *PlonkBackend) Verify(ctx context.Context, id CircuitID, proof []byte, signals []*big.Int) error {
	compiled, err := GetCompiledCircuit(b.cfg, id)
	if err != nil {
		return err
	}
	return NewVerifier(compiled).Verify(ctx, proof, signals)
}

// Prover generates proofs for one compiled circuit.
type Prover struct {
	compiled *CompiledCircuit
}

// NewProver creates a Prover for a compiled circuit.
func NewProver(compiled *CompiledCircuit) *Prover {
	return &Prover{compiled: compiled}
}

// Prove generates a proof for assignment.
//
// An assignment that does not satisfy the circuit wraps
// unirep.ErrVerification.
func (p *Prover) Prove(ctx context.Context, assignment Circuit) (*ProofResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("build witness: %w", err)
	}
	signals, err := publicSignals(full)
	if err != nil {
		return nil, err
	}

	type result struct {
		proof plonk.Proof
		err   error
	}
	done := make(chan result, 1)
	go func() {
		proof, err := plonk.Prove(p.compiled.ConstraintSystem, p.compiled.ProvingKey, full)
		done <- result{proof: proof, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("%w: generate %s proof: %v", unirep.ErrVerification, p.compiled.ID, res.err)
	}

	var buf bytes.Buffer
	if _, err := res.proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize proof: %w", err)
	}

	return &ProofResult{
		CircuitID:     p.compiled.ID,
		Proof:         buf.Bytes(),
		PublicSignals: signals,
	}, nil
}

// publicSignals extracts the public part of a witness in declaration order.
func publicSignals(full witness.Witness) ([]*big.Int, error) {
	pub, err := full.Public()
	if err != nil {
		return nil, fmt.Errorf("extract public witness: %w", err)
	}
	vec, ok := pub.Vector().(fr.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected witness vector type %T", pub.Vector())
	}
	signals := make([]*big.Int, len(vec))
	for i := range vec {
		signals[i] = vec[i].BigInt(new(big.Int))
	}
	return signals, nil
}
