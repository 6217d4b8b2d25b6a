// Package crypto holds the user's protocol identity: the two random field
// elements it is generated from, the secret every commitment uses, and the
// public identity commitment registered at sign-up.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"

	"github.com/sorag20/Unirep/pkg/hasher"
	"github.com/sorag20/Unirep/pkg/unirep"
)

// ErrInvalidEncoding is returned when a printable field element cannot be
// decoded.
var ErrInvalidEncoding = errors.New("crypto: invalid field encoding")

// IDPrefix starts the printable form of an identity commitment.
const IDPrefix = "unirep:"

// Identity is a user identity.
//
// Secret is hash(nullifier, trapdoor) and Commitment is hash(secret). Only
// Commitment is ever published.
type Identity struct {
	Trapdoor  *big.Int
	Nullifier *big.Int

	Secret     *big.Int
	Commitment *big.Int
}

// GenerateIdentity creates an identity from fresh randomness.
func GenerateIdentity() (*Identity, error) {
	trapdoor, err := rand.Int(rand.Reader, unirep.Modulus())
	if err != nil {
		return nil, fmt.Errorf("failed to generate trapdoor: %w", err)
	}
	nullifier, err := rand.Int(rand.Reader, unirep.Modulus())
	if err != nil {
		return nil, fmt.Errorf("failed to generate nullifier: %w", err)
	}
	return NewIdentity(trapdoor, nullifier)
}

// NewIdentity rebuilds an identity from its trapdoor and nullifier.
func NewIdentity(trapdoor, nullifier *big.Int) (*Identity, error) {
	secret, err := hasher.Hash(nullifier, trapdoor)
	if err != nil {
		return nil, err
	}
	commitment, err := hasher.IdentityCommitment(secret)
	if err != nil {
		return nil, err
	}
	return &Identity{
		Trapdoor:   new(big.Int).Set(trapdoor),
		Nullifier:  new(big.Int).Set(nullifier),
		Secret:     secret,
		Commitment: commitment,
	}, nil
}

// ID is the printable identity commitment.
func (i *Identity) ID() string {
	return IDPrefix + EncodeField(i.Commitment)
}

// EncodeField prints a field element as base58 of its 32-byte big-endian
// form.
func EncodeField(v *big.Int) string {
	var buf [32]byte
	v.FillBytes(buf[:])
	return base58.Encode(buf[:])
}

// DecodeField is the inverse of EncodeField.
func DecodeField(s string) (*big.Int, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidEncoding, len(b))
	}
	v := new(big.Int).SetBytes(b)
	if err := unirep.CheckField("value", v); err != nil {
		return nil, err
	}
	return v, nil
}
