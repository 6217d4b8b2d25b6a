// Package unirep holds the process-wide protocol parameters and the error
// taxonomy shared by every layer of the reputation protocol.
//
// A Config is immutable once validated. Every tree depth, field count and
// bit width used by the codecs, the ledger and the circuits is read from it,
// so two components built from the same Config always agree on encodings.
package unirep

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Fixed bit widths of the packed control values.
const (
	// EpochBits is the width of an epoch number.
	EpochBits = 48

	// NonceBits is the width of an epoch key nonce.
	NonceBits = 8

	// AttesterIDBits is the width of an attester identifier.
	AttesterIDBits = 160

	// RepBits is the width of the minRep and maxRep bounds.
	RepBits = 64

	// NetRepBits bounds posRep and negRep while a minRep or maxRep claim
	// is proven, so negRep plus a bound never wraps the field.
	NetRepBits = 252

	// FieldBits is the number of bits a replacement field may occupy
	// (value and nonce together). It stays below the scalar field size.
	FieldBits = 253

	// MaxTreeDepth bounds every tree depth a Config accepts.
	MaxTreeDepth = 32
)

// Default protocol parameters.
const (
	DefaultStateTreeDepth           = 17
	DefaultEpochTreeDepth           = 17
	DefaultHistoryTreeDepth         = 17
	DefaultNumEpochKeyNoncePerEpoch = 3
	DefaultFieldCount               = 6
	DefaultSumFieldCount            = 4
	DefaultReplNonceBits            = 48
)

// Config contains the protocol parameters.
type Config struct {
	// StateTreeDepth is the depth of each per-epoch state tree.
	StateTreeDepth uint `toml:"state_tree_depth"`

	// EpochTreeDepth is the depth of each per-epoch epoch tree.
	EpochTreeDepth uint `toml:"epoch_tree_depth"`

	// HistoryTreeDepth is the depth of the per-attester history tree.
	HistoryTreeDepth uint `toml:"history_tree_depth"`

	// NumEpochKeyNoncePerEpoch is the number of epoch keys a user holds
	// in a single epoch.
	NumEpochKeyNoncePerEpoch uint `toml:"num_epoch_key_nonce_per_epoch"`

	// FieldCount is the length of the reputation data vector.
	FieldCount uint `toml:"field_count"`

	// SumFieldCount is the number of leading additive fields. The rest are
	// replacement fields.
	SumFieldCount uint `toml:"sum_field_count"`

	// ReplNonceBits is the number of low bits of a replacement field that
	// carry the attestation nonce.
	ReplNonceBits uint `toml:"repl_nonce_bits"`
}

// DefaultConfig returns the default protocol parameters.
func DefaultConfig() Config {
	return Config{
		StateTreeDepth:           DefaultStateTreeDepth,
		EpochTreeDepth:           DefaultEpochTreeDepth,
		HistoryTreeDepth:         DefaultHistoryTreeDepth,
		NumEpochKeyNoncePerEpoch: DefaultNumEpochKeyNoncePerEpoch,
		FieldCount:               DefaultFieldCount,
		SumFieldCount:            DefaultSumFieldCount,
		ReplNonceBits:            DefaultReplNonceBits,
	}
}

// Validate checks the parameters for consistency.
// Every failure wraps ErrRange.
func (c Config) Validate() error {
	depths := []struct {
		name  string
		value uint
	}{
		{"state_tree_depth", c.StateTreeDepth},
		{"epoch_tree_depth", c.EpochTreeDepth},
		{"history_tree_depth", c.HistoryTreeDepth},
	}
	for _, d := range depths {
		if d.value < 1 || d.value > MaxTreeDepth {
			return fmt.Errorf("%w: %s must be between 1 and %d, got %d",
				ErrRange, d.name, MaxTreeDepth, d.value)
		}
	}

	// Offset nonces run up to 2n-1 and must still fit the nonce width.
	if c.NumEpochKeyNoncePerEpoch < 1 || 2*c.NumEpochKeyNoncePerEpoch > 1<<NonceBits {
		return fmt.Errorf("%w: num_epoch_key_nonce_per_epoch must be between 1 and %d, got %d",
			ErrRange, (1<<NonceBits)/2, c.NumEpochKeyNoncePerEpoch)
	}
	if c.SumFieldCount < 2 {
		return fmt.Errorf("%w: sum_field_count must be at least 2, got %d", ErrRange, c.SumFieldCount)
	}
	if c.FieldCount < c.SumFieldCount {
		return fmt.Errorf("%w: field_count %d is smaller than sum_field_count %d",
			ErrRange, c.FieldCount, c.SumFieldCount)
	}
	if c.ReplNonceBits < 1 || c.ReplNonceBits >= FieldBits {
		return fmt.Errorf("%w: repl_nonce_bits must be between 1 and %d, got %d",
			ErrRange, FieldBits-1, c.ReplNonceBits)
	}
	return nil
}

// ReplFieldBits is the width of the value part of a replacement field.
func (c Config) ReplFieldBits() uint {
	return FieldBits - c.ReplNonceBits
}

// ReplacementFieldCount is the number of replacement fields.
func (c Config) ReplacementFieldCount() uint {
	return c.FieldCount - c.SumFieldCount
}

// HasGraffiti reports whether the data vector has a replacement field that
// can carry graffiti.
func (c Config) HasGraffiti() bool {
	return c.FieldCount > c.SumFieldCount
}

// String returns a compact description of the parameters.
func (c Config) String() string {
	return fmt.Sprintf("Config{state=%d epoch=%d history=%d nonces=%d fields=%d/%d replNonceBits=%d}",
		c.StateTreeDepth, c.EpochTreeDepth, c.HistoryTreeDepth,
		c.NumEpochKeyNoncePerEpoch, c.SumFieldCount, c.FieldCount, c.ReplNonceBits)
}

// ContractConfig is the flat parameter view published alongside the
// verifier keys.
type ContractConfig struct {
	StateTreeDepth           uint   `json:"stateTreeDepth"`
	EpochTreeDepth           uint   `json:"epochTreeDepth"`
	HistoryTreeDepth         uint   `json:"historyTreeDepth"`
	NumEpochKeyNoncePerEpoch uint   `json:"numEpochKeyNoncePerEpoch"`
	FieldCount               uint   `json:"fieldCount"`
	SumFieldCount            uint   `json:"sumFieldCount"`
	ReplNonceBits            uint   `json:"replNonceBits"`
	ReplFieldBits            uint   `json:"replFieldBits"`
	Modulus                  string `json:"modulus"`
}

// ContractConfig returns the flat view of c.
func (c Config) ContractConfig() ContractConfig {
	return ContractConfig{
		StateTreeDepth:           c.StateTreeDepth,
		EpochTreeDepth:           c.EpochTreeDepth,
		HistoryTreeDepth:         c.HistoryTreeDepth,
		NumEpochKeyNoncePerEpoch: c.NumEpochKeyNoncePerEpoch,
		FieldCount:               c.FieldCount,
		SumFieldCount:            c.SumFieldCount,
		ReplNonceBits:            c.ReplNonceBits,
		ReplFieldBits:            c.ReplFieldBits(),
		Modulus:                  Modulus().String(),
	}
}

// Modulus returns the scalar field modulus P of BN254.
// The caller owns the returned value.
func Modulus() *big.Int {
	return fr.Modulus()
}
