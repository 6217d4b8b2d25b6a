package hasher

import (
	"math/big"
)

// StateTreeLeaf returns hash(secret, attesterID, epoch, data...).
func StateTreeLeaf(secret, attesterID *big.Int, epoch uint64, data []*big.Int) (*big.Int, error) {
	inputs := make([]*big.Int, 0, 3+len(data))
	inputs = append(inputs, secret, attesterID, new(big.Int).SetUint64(epoch))
	inputs = append(inputs, data...)
	return Hash(inputs...)
}

// EpochTreeLeaf returns hash(epochKey, delta...).
func EpochTreeLeaf(epochKey *big.Int, delta []*big.Int) (*big.Int, error) {
	inputs := make([]*big.Int, 0, 1+len(delta))
	inputs = append(inputs, epochKey)
	inputs = append(inputs, delta...)
	return Hash(inputs...)
}

// HistoryTreeLeaf returns hash(stateTreeRoot, epochTreeRoot).
func HistoryTreeLeaf(stateTreeRoot, epochTreeRoot *big.Int) (*big.Int, error) {
	return Hash(stateTreeRoot, epochTreeRoot)
}

// IdentityCommitment returns hash(secret).
func IdentityCommitment(secret *big.Int) (*big.Int, error) {
	return Hash(secret)
}

// Nullifier returns hash(scope, secret), the per-scope action nullifier.
func Nullifier(scope, secret *big.Int) (*big.Int, error) {
	return Hash(scope, secret)
}
