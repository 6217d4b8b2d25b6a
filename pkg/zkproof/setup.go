package zkproof

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/scs"
	"github.com/consensys/gnark/test/unsafekzg"

	"github.com/sorag20/Unirep/pkg/unirep"
)

// CircuitID names a proof family.
type CircuitID string

// Proof families.
const (
	CircuitSignup              CircuitID = "signup"
	CircuitReputation          CircuitID = "proveReputation"
	CircuitUserStateTransition CircuitID = "userStateTransition"
	CircuitEpochKey            CircuitID = "epochKey"
	CircuitEpochKeyLite        CircuitID = "epochKeyLite"
	CircuitPreventDoubleAction CircuitID = "preventDoubleAction"
)

// Circuits lists every proof family.
var Circuits = []CircuitID{
	CircuitSignup,
	CircuitReputation,
	CircuitUserStateTransition,
	CircuitEpochKey,
	CircuitEpochKeyLite,
	CircuitPreventDoubleAction,
}

// ParseCircuitID resolves a circuit name.
func ParseCircuitID(s string) (CircuitID, error) {
	for _, id := range Circuits {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: unknown circuit %q", unirep.ErrNotFound, s)
}

// Circuit is a compilable circuit whose public part can be rebuilt from
// public signals.
type Circuit interface {
	frontend.Circuit
	assignPublic(signals []*big.Int) error
}

// NewCircuit allocates an empty circuit of the given family sized for cfg.
func NewCircuit(cfg unirep.Config, id CircuitID) (Circuit, error) {
	switch id {
	case CircuitSignup:
		return NewSignupCircuit(cfg), nil
	case CircuitReputation:
		return NewReputationCircuit(cfg), nil
	case CircuitUserStateTransition:
		return NewUserStateTransitionCircuit(cfg), nil
	case CircuitEpochKey:
		return NewEpochKeyCircuit(cfg), nil
	case CircuitEpochKeyLite:
		return NewEpochKeyLiteCircuit(cfg), nil
	case CircuitPreventDoubleAction:
		return NewPreventDoubleActionCircuit(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown circuit %q", unirep.ErrNotFound, id)
	}
}

// CompiledCircuit contains the compiled constraint system and the keys
// needed to generate and verify proofs for one family under one Config.
type CompiledCircuit struct {
	ID     CircuitID
	Config unirep.Config

	ConstraintSystem constraint.ConstraintSystem
	ProvingKey       plonk.ProvingKey
	VerifyingKey     plonk.VerifyingKey
}

// CompileCircuit compiles a circuit family for cfg and runs the PLONK setup.
//
// The SRS comes from unsafekzg and is only suitable for development and
// testing. Production deployments need keys from a trusted setup.
func CompileCircuit(cfg unirep.Config, id CircuitID) (*CompiledCircuit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	circuit, err := NewCircuit(cfg, id)
	if err != nil {
		return nil, err
	}

	cs, err := frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", id, err)
	}

	srs, srsLagrange, err := unsafekzg.NewSRS(cs)
	if err != nil {
		return nil, fmt.Errorf("generate SRS for %s: %w", id, err)
	}

	pk, vk, err := plonk.Setup(cs, srs, srsLagrange)
	if err != nil {
		return nil, fmt.Errorf("setup keys for %s: %w", id, err)
	}

	return &CompiledCircuit{
		ID:               id,
		Config:           cfg,
		ConstraintSystem: cs,
		ProvingKey:       pk,
		VerifyingKey:     vk,
	}, nil
}

type compileKey struct {
	cfg unirep.Config
	id  CircuitID
}

var (
	compiled  = make(map[compileKey]*CompiledCircuit)
	compileMu sync.Mutex
)

// GetCompiledCircuit returns a cached compiled circuit, compiling it on the
// first call for a (cfg, id) pair.
func GetCompiledCircuit(cfg unirep.Config, id CircuitID) (*CompiledCircuit, error) {
	compileMu.Lock()
	defer compileMu.Unlock()

	key := compileKey{cfg: cfg, id: id}
	if c, ok := compiled[key]; ok {
		return c, nil
	}

	c, err := CompileCircuit(cfg, id)
	if err != nil {
		return nil, err
	}
	compiled[key] = c
	return c, nil
}

// ResetCompiledCircuits clears the compile cache.
func ResetCompiledCircuits() {
	compileMu.Lock()
	defer compileMu.Unlock()
	compiled = make(map[compileKey]*CompiledCircuit)
}
