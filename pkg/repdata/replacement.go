package repdata

import (
	"fmt"
	"math/big"

	"github.com/sorag20/Unirep/pkg/unirep"
)

// PackReplacement returns (value << ReplNonceBits) | nonce.
func PackReplacement(cfg unirep.Config, value, nonce *big.Int) (*big.Int, error) {
	if err := unirep.CheckBits("replacement value", value, cfg.ReplFieldBits()); err != nil {
		return nil, err
	}
	if err := unirep.CheckBits("replacement nonce", nonce, cfg.ReplNonceBits); err != nil {
		return nil, err
	}
	out := new(big.Int).Lsh(value, cfg.ReplNonceBits)
	return out.Or(out, nonce), nil
}

// SplitReplacement is the inverse of PackReplacement.
func SplitReplacement(cfg unirep.Config, x *big.Int) (value, nonce *big.Int) {
	return ReplacementValue(cfg, x), ReplacementNonce(cfg, x)
}

// ReplacementValue returns x without its low ReplNonceBits.
func ReplacementValue(cfg unirep.Config, x *big.Int) *big.Int {
	return new(big.Int).Rsh(x, cfg.ReplNonceBits)
}

// ReplacementNonce returns the low ReplNonceBits of x.
func ReplacementNonce(cfg unirep.Config, x *big.Int) *big.Int {
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), cfg.ReplNonceBits), big.NewInt(1))
	return new(big.Int).And(x, mask)
}

// Accumulate folds a single attestation into delta in place.
//
// For an additive field the change is added modulo P. For a replacement
// field the change is the new value; it is stored with the attestation
// nonce and only overwrites an entry whose nonce is not newer.
func Accumulate(cfg unirep.Config, delta Data, fieldIndex uint, change, nonce *big.Int) error {
	if fieldIndex >= cfg.FieldCount || uint(len(delta)) != cfg.FieldCount {
		return fmt.Errorf("%w: field index %d of %d", unirep.ErrRange, fieldIndex, cfg.FieldCount)
	}

	if fieldIndex < cfg.SumFieldCount {
		if err := unirep.CheckField("change", change); err != nil {
			return err
		}
		delta[fieldIndex].Add(delta[fieldIndex], change)
		delta[fieldIndex].Mod(delta[fieldIndex], unirep.Modulus())
		return nil
	}

	packed, err := PackReplacement(cfg, change, nonce)
	if err != nil {
		return err
	}
	current := delta[fieldIndex]
	if current.Sign() != 0 && ReplacementNonce(cfg, current).Cmp(nonce) > 0 {
		return nil
	}
	current.Set(packed)
	return nil
}
