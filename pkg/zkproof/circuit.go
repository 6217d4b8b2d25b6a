// Package zkproof provides the zero-knowledge circuits of the reputation
// protocol together with their witness builders, public signal layouts and
// a PLONK backend over BN254.
//
// Every circuit re-derives the commitments a user claims (epoch keys, state
// tree leaves, control words) from private inputs and asserts they match the
// public signals, so a verifier learns only what the public signals say.
//
// Circuits are sized by a unirep.Config. Each family has a constructor that
// allocates the slices for a given Config; the same constructor is used for
// compilation and for assignments.
package zkproof

import (
	"math/big"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/sorag20/Unirep/pkg/unirep"
)

// hashVars is the in-circuit counterpart of hasher.Hash.
func hashVars(api frontend.API, inputs ...frontend.Variable) (frontend.Variable, error) {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return nil, err
	}
	h.Write(inputs...)
	return h.Sum(), nil
}

// merkleRoot folds leaf up a path. A path index of 1 means the node at that
// height is a right child.
func merkleRoot(api frontend.API, leaf frontend.Variable, siblings, indices []frontend.Variable) (frontend.Variable, error) {
	cur := leaf
	for i := range siblings {
		api.AssertIsBoolean(indices[i])
		left := api.Select(indices[i], siblings[i], cur)
		right := api.Select(indices[i], cur, siblings[i])

		var err error
		cur, err = hashVars(api, left, right)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// assertBits constrains v to fit in n bits.
func assertBits(api frontend.API, v frontend.Variable, n int) {
	api.ToBinary(v, n)
}

// assertNonce constrains nonce to [0, numNonces).
func assertNonce(api frontend.API, nonce frontend.Variable, numNonces uint) {
	assertBits(api, nonce, unirep.NonceBits)
	api.AssertIsLessOrEqual(nonce, numNonces-1)
}

// stateTreeLeaf computes hash(secret, attesterID, epoch, data...).
func stateTreeLeaf(api frontend.API, secret, attesterID, epoch frontend.Variable, data []frontend.Variable) (frontend.Variable, error) {
	inputs := make([]frontend.Variable, 0, 3+len(data))
	inputs = append(inputs, secret, attesterID, epoch)
	inputs = append(inputs, data...)
	return hashVars(api, inputs...)
}

// epochKeyControl packs attesterID, epoch, nonce and the reveal flag the
// same way field.BuildEpochKeyControl does.
func epochKeyControl(api frontend.API, attesterID, epoch, nonce, revealNonce frontend.Variable) frontend.Variable {
	return api.Add(
		attesterID,
		api.Mul(epoch, pow2(unirep.AttesterIDBits)),
		api.Mul(api.Mul(nonce, revealNonce), pow2(unirep.AttesterIDBits+unirep.EpochBits)),
		api.Mul(revealNonce, pow2(unirep.AttesterIDBits+unirep.EpochBits+unirep.NonceBits)),
	)
}

// bind adds a constraint on a public input that is otherwise only carried
// through, such as the signal a proof is bound to.
func bind(api frontend.API, v frontend.Variable) {
	api.Mul(v, v)
}

func pow2(n uint) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), n)
}

func newVars(n uint) []frontend.Variable {
	return make([]frontend.Variable, n)
}

func newVarMatrix(rows, cols uint) [][]frontend.Variable {
	m := make([][]frontend.Variable, rows)
	for i := range m {
		m[i] = newVars(cols)
	}
	return m
}
