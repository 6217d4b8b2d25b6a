// Package hasher provides the field hash used for every commitment of the
// protocol: epoch keys, state and epoch tree leaves, history leaves and
// Merkle nodes.
//
// The hash is MiMC over the BN254 scalar field. The circuits in
// pkg/zkproof use the gnark gadget of the same construction, so a value
// computed here can be used directly as a public input.
package hasher

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"github.com/sorag20/Unirep/pkg/unirep"
)

// Hash absorbs each input as a canonical field element and returns the
// resulting digest. Inputs must be in [0, P).
func Hash(inputs ...*big.Int) (*big.Int, error) {
	h := mimc.NewMiMC()
	for i, in := range inputs {
		if err := unirep.CheckField(fmt.Sprintf("input[%d]", i), in); err != nil {
			return nil, err
		}
		var elem fr.Element
		elem.SetBigInt(in)
		b := elem.Bytes()
		if _, err := h.Write(b[:]); err != nil {
			return nil, fmt.Errorf("hasher: absorb input %d: %w", i, err)
		}
	}

	var result fr.Element
	result.SetBytes(h.Sum(nil))
	return result.BigInt(new(big.Int)), nil
}

// MustHash is Hash for inputs already known to be canonical.
// It panics otherwise.
func MustHash(inputs ...*big.Int) *big.Int {
	out, err := Hash(inputs...)
	if err != nil {
		panic(err)
	}
	return out
}

// Hash2 hashes a Merkle node.
func Hash2(left, right *big.Int) (*big.Int, error) {
	return Hash(left, right)
}

// Reduce returns x mod P.
func Reduce(x *big.Int) *big.Int {
	return new(big.Int).Mod(x, unirep.Modulus())
}
