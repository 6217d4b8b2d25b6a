// Package epochkey derives the per-epoch pseudonyms of a user.
//
// A user holds NumEpochKeyNoncePerEpoch epoch keys for every attester and
// epoch. The epoch transition additionally emits keys for the offset nonces
// nonce+n, which never collide with keys a user can publish in that epoch.
package epochkey

import (
	"fmt"
	"math/big"

	"github.com/sorag20/Unirep/pkg/hasher"
	"github.com/sorag20/Unirep/pkg/unirep"
)

// Deriver derives epoch keys for one configuration.
type Deriver struct {
	cfg unirep.Config
}

// NewDeriver returns a Deriver for cfg.
func NewDeriver(cfg unirep.Config) *Deriver {
	return &Deriver{cfg: cfg}
}

// Derive returns hash(secret, attesterID, epoch, nonce).
// Nonces in [0, 2n) are accepted; the upper half are offset nonces.
func (d *Deriver) Derive(secret, attesterID *big.Int, epoch, nonce uint64) (*big.Int, error) {
	n := uint64(d.cfg.NumEpochKeyNoncePerEpoch)
	if nonce >= 2*n {
		return nil, fmt.Errorf("%w: nonce %d must be below %d", unirep.ErrRange, nonce, 2*n)
	}
	if err := unirep.CheckBits("attester_id", attesterID, unirep.AttesterIDBits); err != nil {
		return nil, err
	}
	if err := unirep.CheckBits("epoch", new(big.Int).SetUint64(epoch), unirep.EpochBits); err != nil {
		return nil, err
	}
	return hasher.Hash(secret, attesterID, new(big.Int).SetUint64(epoch), new(big.Int).SetUint64(nonce))
}

// All returns the n epoch keys of one epoch, indexed by nonce.
func (d *Deriver) All(secret, attesterID *big.Int, epoch uint64) ([]*big.Int, error) {
	keys := make([]*big.Int, d.cfg.NumEpochKeyNoncePerEpoch)
	seen := make(map[string]uint64, len(keys))
	for nonce := range keys {
		k, err := d.Derive(secret, attesterID, epoch, uint64(nonce))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[k.String()]; dup {
			return nil, fmt.Errorf("epochkey: nonces %d and %d collide", prev, nonce)
		}
		seen[k.String()] = uint64(nonce)
		keys[nonce] = k
	}
	return keys, nil
}

// Offset returns the key emitted by an epoch transition for a slot that
// received attestations.
func (d *Deriver) Offset(secret, attesterID *big.Int, epoch, nonce uint64) (*big.Int, error) {
	if nonce >= uint64(d.cfg.NumEpochKeyNoncePerEpoch) {
		return nil, fmt.Errorf("%w: nonce %d must be below %d", unirep.ErrRange, nonce, d.cfg.NumEpochKeyNoncePerEpoch)
	}
	return d.Derive(secret, attesterID, epoch, nonce+uint64(d.cfg.NumEpochKeyNoncePerEpoch))
}
