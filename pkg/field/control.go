package field

import (
	"fmt"
	"math/big"

	"github.com/sorag20/Unirep/pkg/unirep"
)

// Slot names shared by the control layouts.
const (
	SlotAttesterID    = "attester_id"
	SlotEpoch         = "epoch"
	SlotNonce         = "nonce"
	SlotRevealNonce   = "reveal_nonce"
	SlotProveGraffiti = "prove_graffiti"
	SlotProveZeroRep  = "prove_zero_rep"
	SlotProveMinRep   = "prove_min_rep"
	SlotProveMaxRep   = "prove_max_rep"
	SlotMinRep        = "min_rep"
	SlotMaxRep        = "max_rep"
)

var (
	// ReputationControl0 is the layout of the first reputation control word.
	ReputationControl0 = Layout{
		{SlotAttesterID, unirep.AttesterIDBits},
		{SlotEpoch, unirep.EpochBits},
		{SlotNonce, unirep.NonceBits},
		{SlotRevealNonce, 1},
		{SlotProveGraffiti, 1},
		{SlotProveZeroRep, 1},
	}

	// ReputationControl1 is the layout of the second reputation control word.
	ReputationControl1 = Layout{
		{SlotProveMinRep, 1},
		{SlotProveMaxRep, 1},
		{SlotMinRep, unirep.RepBits},
		{SlotMaxRep, unirep.RepBits},
	}

	// EpochKeyControl is the layout of the epoch key control word.
	EpochKeyControl = Layout{
		{SlotAttesterID, unirep.AttesterIDBits},
		{SlotEpoch, unirep.EpochBits},
		{SlotNonce, unirep.NonceBits},
		{SlotRevealNonce, 1},
	}
)

// EpochKeyControlValues are the values carried by an epoch key control word.
type EpochKeyControlValues struct {
	AttesterID  *big.Int
	Epoch       uint64
	Nonce       uint64
	RevealNonce bool
}

// ReputationControlValues are the values carried by the two reputation
// control words.
type ReputationControlValues struct {
	EpochKeyControlValues

	ProveGraffiti bool
	ProveZeroRep  bool
	ProveMinRep   bool
	ProveMaxRep   bool
	MinRep        *big.Int
	MaxRep        *big.Int
}

// BuildEpochKeyControl packs v into a single control word.
// An unrevealed nonce is encoded as zero.
func BuildEpochKeyControl(v EpochKeyControlValues, cfg unirep.Config) (*big.Int, error) {
	if err := checkNonce(v.Nonce, cfg); err != nil {
		return nil, err
	}
	return Pack(EpochKeyControl, []*big.Int{
		v.AttesterID,
		new(big.Int).SetUint64(v.Epoch),
		revealedNonce(v.Nonce, v.RevealNonce),
		boolInt(v.RevealNonce),
	})
}

// ParseEpochKeyControl is the inverse of BuildEpochKeyControl.
func ParseEpochKeyControl(word *big.Int) (EpochKeyControlValues, error) {
	values, err := Unpack(EpochKeyControl, word)
	if err != nil {
		return EpochKeyControlValues{}, err
	}
	return EpochKeyControlValues{
		AttesterID:  values[0],
		Epoch:       values[1].Uint64(),
		Nonce:       values[2].Uint64(),
		RevealNonce: values[3].Sign() != 0,
	}, nil
}

// BuildReputationControl packs v into the two reputation control words.
func BuildReputationControl(v ReputationControlValues, cfg unirep.Config) ([2]*big.Int, error) {
	var words [2]*big.Int

	if err := checkNonce(v.Nonce, cfg); err != nil {
		return words, err
	}

	w0, err := Pack(ReputationControl0, []*big.Int{
		v.AttesterID,
		new(big.Int).SetUint64(v.Epoch),
		revealedNonce(v.Nonce, v.RevealNonce),
		boolInt(v.RevealNonce),
		boolInt(v.ProveGraffiti),
		boolInt(v.ProveZeroRep),
	})
	if err != nil {
		return words, err
	}

	w1, err := Pack(ReputationControl1, []*big.Int{
		boolInt(v.ProveMinRep),
		boolInt(v.ProveMaxRep),
		orZero(v.MinRep),
		orZero(v.MaxRep),
	})
	if err != nil {
		return words, err
	}

	words[0], words[1] = w0, w1
	return words, nil
}

// ParseReputationControl is the inverse of BuildReputationControl.
func ParseReputationControl(w0, w1 *big.Int) (ReputationControlValues, error) {
	v0, err := Unpack(ReputationControl0, w0)
	if err != nil {
		return ReputationControlValues{}, err
	}
	v1, err := Unpack(ReputationControl1, w1)
	if err != nil {
		return ReputationControlValues{}, err
	}

	return ReputationControlValues{
		EpochKeyControlValues: EpochKeyControlValues{
			AttesterID:  v0[0],
			Epoch:       v0[1].Uint64(),
			Nonce:       v0[2].Uint64(),
			RevealNonce: v0[3].Sign() != 0,
		},
		ProveGraffiti: v0[4].Sign() != 0,
		ProveZeroRep:  v0[5].Sign() != 0,
		ProveMinRep:   v1[0].Sign() != 0,
		ProveMaxRep:   v1[1].Sign() != 0,
		MinRep:        v1[2],
		MaxRep:        v1[3],
	}, nil
}

func checkNonce(nonce uint64, cfg unirep.Config) error {
	if nonce >= uint64(cfg.NumEpochKeyNoncePerEpoch) {
		return fmt.Errorf("%w: nonce %d must be below %d",
			unirep.ErrRange, nonce, cfg.NumEpochKeyNoncePerEpoch)
	}
	return nil
}

func revealedNonce(nonce uint64, reveal bool) *big.Int {
	if !reveal {
		return new(big.Int)
	}
	return new(big.Int).SetUint64(nonce)
}

func boolInt(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return new(big.Int)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
