// Package repdata implements the reputation data vector and the rules by
// which attestations accumulate into it.
//
// The first SumFieldCount fields are additive: deltas are summed modulo P.
// The remaining fields are replacement fields holding
// (value << ReplNonceBits) | nonce; a non-zero delta replaces the prior value.
package repdata

import (
	"fmt"
	"math/big"

	"github.com/sorag20/Unirep/pkg/unirep"
)

// Indices of the two reputation fields read by the predicates.
const (
	PosRepField = 0
	NegRepField = 1
)

// Data is a reputation data vector of Config.FieldCount field elements.
type Data []*big.Int

// New returns an all-zero vector.
func New(cfg unirep.Config) Data {
	d := make(Data, cfg.FieldCount)
	for i := range d {
		d[i] = new(big.Int)
	}
	return d
}

// FromInts builds a vector from small integers, padding with zeros.
func FromInts(cfg unirep.Config, values ...int64) (Data, error) {
	if uint(len(values)) > cfg.FieldCount {
		return nil, fmt.Errorf("%w: %d values for %d fields", unirep.ErrRange, len(values), cfg.FieldCount)
	}
	d := New(cfg)
	for i, v := range values {
		d[i].SetInt64(v)
	}
	return d, d.Validate(cfg)
}

// Clone returns a deep copy of d.
func (d Data) Clone() Data {
	out := make(Data, len(d))
	for i, v := range d {
		if v == nil {
			out[i] = new(big.Int)
			continue
		}
		out[i] = new(big.Int).Set(v)
	}
	return out
}

// IsZero reports whether every field is zero.
func (d Data) IsZero() bool {
	for _, v := range d {
		if v != nil && v.Sign() != 0 {
			return false
		}
	}
	return true
}

// Validate checks the vector length and that every field is in [0, P).
func (d Data) Validate(cfg unirep.Config) error {
	if uint(len(d)) != cfg.FieldCount {
		return fmt.Errorf("%w: data has %d fields, expected %d", unirep.ErrRange, len(d), cfg.FieldCount)
	}
	for i, v := range d {
		if err := unirep.CheckField(fmt.Sprintf("data[%d]", i), v); err != nil {
			return err
		}
	}
	return nil
}

// Merge returns prior combined with delta. Neither input is modified.
func Merge(cfg unirep.Config, prior, delta Data) (Data, error) {
	if err := prior.Validate(cfg); err != nil {
		return nil, fmt.Errorf("prior: %w", err)
	}
	if err := delta.Validate(cfg); err != nil {
		return nil, fmt.Errorf("delta: %w", err)
	}

	p := unirep.Modulus()
	merged := prior.Clone()
	for i := range merged {
		if uint(i) < cfg.SumFieldCount {
			merged[i].Add(merged[i], delta[i])
			merged[i].Mod(merged[i], p)
			continue
		}
		if delta[i].Sign() != 0 {
			merged[i].Set(delta[i])
		}
	}
	return merged, nil
}

// MergeAll folds deltas into prior in slice order.
func MergeAll(cfg unirep.Config, prior Data, deltas []Data) (Data, error) {
	out := prior.Clone()
	for i, delta := range deltas {
		var err error
		out, err = Merge(cfg, out, delta)
		if err != nil {
			return nil, fmt.Errorf("delta %d: %w", i, err)
		}
	}
	return out, nil
}

// Equal compares two vectors. Replacement fields are compared on their value
// part only; the low ReplNonceBits are ignored.
func Equal(cfg unirep.Config, a, b Data) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if uint(i) < cfg.SumFieldCount {
			if a[i].Cmp(b[i]) != 0 {
				return false
			}
			continue
		}
		if ReplacementValue(cfg, a[i]).Cmp(ReplacementValue(cfg, b[i])) != 0 {
			return false
		}
	}
	return true
}
