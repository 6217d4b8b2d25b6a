package repdata

import (
	"fmt"
	"math/big"

	"github.com/sorag20/Unirep/pkg/field"
	"github.com/sorag20/Unirep/pkg/unirep"
)

// NetRep returns posRep - negRep as a signed integer.
func NetRep(d Data) *big.Int {
	return new(big.Int).Sub(d[PosRepField], d[NegRepField])
}

// Graffiti returns the value part of the first replacement field, or zero
// when the configuration has no replacement field.
func Graffiti(cfg unirep.Config, d Data) *big.Int {
	if !cfg.HasGraffiti() {
		return new(big.Int)
	}
	return ReplacementValue(cfg, d[cfg.SumFieldCount])
}

// CheckClaims verifies the reputation predicates enabled in ctl against d.
//
// Bounds that do not fit their declared widths are range errors, as are
// posRep or negRep wider than unirep.NetRepBits when a minRep or maxRep
// claim is made. A predicate that does not hold wraps
// unirep.ErrVerification.
func CheckClaims(cfg unirep.Config, d Data, ctl field.ReputationControlValues, graffiti *big.Int) error {
	if err := d.Validate(cfg); err != nil {
		return err
	}
	if ctl.ProveMinRep {
		if err := unirep.CheckBits(field.SlotMinRep, ctl.MinRep, unirep.RepBits); err != nil {
			return err
		}
	}
	if ctl.ProveMaxRep {
		if err := unirep.CheckBits(field.SlotMaxRep, ctl.MaxRep, unirep.RepBits); err != nil {
			return err
		}
	}

	if ctl.ProveMinRep || ctl.ProveMaxRep {
		if err := unirep.CheckBits("posRep", d[PosRepField], unirep.NetRepBits); err != nil {
			return err
		}
		if err := unirep.CheckBits("negRep", d[NegRepField], unirep.NetRepBits); err != nil {
			return err
		}
	}

	net := NetRep(d)
	if ctl.ProveMinRep && net.Cmp(ctl.MinRep) < 0 {
		return fmt.Errorf("%w: net reputation %s below minRep %s", unirep.ErrVerification, net, ctl.MinRep)
	}
	if ctl.ProveMaxRep && net.Cmp(ctl.MaxRep) > 0 {
		return fmt.Errorf("%w: net reputation %s above maxRep %s", unirep.ErrVerification, net, ctl.MaxRep)
	}
	if ctl.ProveZeroRep && net.Sign() != 0 {
		return fmt.Errorf("%w: net reputation %s is not zero", unirep.ErrVerification, net)
	}
	if ctl.ProveGraffiti {
		return CheckGraffiti(cfg, d, graffiti)
	}
	return nil
}

// CheckGraffiti compares the first replacement field of d with graffiti,
// ignoring the attestation nonce in its low bits.
func CheckGraffiti(cfg unirep.Config, d Data, graffiti *big.Int) error {
	if !cfg.HasGraffiti() {
		return fmt.Errorf("%w: configuration has no graffiti field", unirep.ErrRange)
	}
	if graffiti == nil || Graffiti(cfg, d).Cmp(graffiti) != 0 {
		return fmt.Errorf("%w: graffiti does not match", unirep.ErrVerification)
	}
	return nil
}
