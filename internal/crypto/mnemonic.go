package crypto

import (
	"errors"
	"math/big"

	"github.com/tyler-smith/go-bip39"

	"github.com/sorag20/Unirep/pkg/hasher"
)

// ErrInvalidMnemonic is returned when an invalid BIP-39 mnemonic phrase is provided.
var ErrInvalidMnemonic = errors.New("crypto: invalid mnemonic phrase")

// NewIdentityWithMnemonic generates a new identity with a 24 word BIP-39
// mnemonic for recovery.
func NewIdentityWithMnemonic() (*Identity, string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, "", err
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", err
	}

	identity, err := IdentityFromMnemonic(mnemonic)
	if err != nil {
		return nil, "", err
	}

	return identity, mnemonic, nil
}

// IdentityFromMnemonic recovers an identity from a BIP-39 mnemonic. The
// same mnemonic always produces the same identity.
func IdentityFromMnemonic(mnemonic string) (*Identity, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	// 64-byte seed: trapdoor from the first half, nullifier from the second
	seed := bip39.NewSeed(mnemonic, "")
	trapdoor := hasher.Reduce(new(big.Int).SetBytes(seed[:32]))
	nullifier := hasher.Reduce(new(big.Int).SetBytes(seed[32:]))

	return NewIdentity(trapdoor, nullifier)
}
