package unirep

import (
	"errors"
	"fmt"
	"math/big"
)

// Error kinds. Every error produced by the protocol packages wraps exactly
// one of these and can be matched with errors.Is.
var (
	// ErrRange is returned when a value exceeds its declared bit width or
	// domain.
	ErrRange = errors.New("unirep: value out of range")

	// ErrCapacity is returned when a tree is full.
	ErrCapacity = errors.New("unirep: tree capacity exceeded")

	// ErrNotFound is returned for a leaf index or record that does not exist.
	ErrNotFound = errors.New("unirep: not found")

	// ErrStaleEpoch is returned for a write that targets a sealed epoch.
	ErrStaleEpoch = errors.New("unirep: epoch already sealed")

	// ErrVerification is returned when a proof does not verify or when a
	// witness does not satisfy the predicates it claims.
	ErrVerification = errors.New("unirep: verification failure")
)

// RangeError describes a value that does not fit its bit width.
type RangeError struct {
	Field string
	Value *big.Int
	Bits  uint
}

// Error implements the error interface.
func (e *RangeError) Error() string {
	return fmt.Sprintf("unirep: %s=%s does not fit in %d bits", e.Field, e.Value, e.Bits)
}

// Is matches ErrRange.
func (e *RangeError) Is(target error) bool {
	return target == ErrRange
}

// CheckBits returns a *RangeError if v is negative or needs more than bits bits.
func CheckBits(field string, v *big.Int, bits uint) error {
	if v == nil {
		return fmt.Errorf("%w: %s is missing", ErrRange, field)
	}
	if v.Sign() < 0 || uint(v.BitLen()) > bits {
		return &RangeError{Field: field, Value: new(big.Int).Set(v), Bits: bits}
	}
	return nil
}

// CheckField returns an error wrapping ErrRange unless 0 <= v < P.
func CheckField(field string, v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: %s is missing", ErrRange, field)
	}
	if v.Sign() < 0 || v.Cmp(Modulus()) >= 0 {
		return fmt.Errorf("%w: %s is not a canonical field element", ErrRange, field)
	}
	return nil
}
