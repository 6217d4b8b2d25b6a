package zkproof

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark/frontend"

	"github.com/sorag20/Unirep/pkg/epochkey"
	"github.com/sorag20/Unirep/pkg/field"
	"github.com/sorag20/Unirep/pkg/hasher"
	"github.com/sorag20/Unirep/pkg/merkle"
	"github.com/sorag20/Unirep/pkg/repdata"
	"github.com/sorag20/Unirep/pkg/unirep"
)

// ReputationCircuit proves that the holder of a state tree leaf controls an
// epoch key and that their reputation satisfies the bounds enabled in the
// control words.
//
// Public signals: [epochKey, stateTreeRoot, control0, control1, graffiti, data].
type ReputationCircuit struct {
	Cfg unirep.Config `gnark:"-"`

	EpochKey      frontend.Variable `gnark:",public"`
	StateTreeRoot frontend.Variable `gnark:",public"`
	Control0      frontend.Variable `gnark:",public"`
	Control1      frontend.Variable `gnark:",public"`
	Graffiti      frontend.Variable `gnark:",public"`
	Data          frontend.Variable `gnark:",public"`

	IdentitySecret    frontend.Variable
	AttesterID        frontend.Variable
	Epoch             frontend.Variable
	Nonce             frontend.Variable
	RevealNonce       frontend.Variable
	ProveGraffiti     frontend.Variable
	ProveZeroRep      frontend.Variable
	ProveMinRep       frontend.Variable
	ProveMaxRep       frontend.Variable
	MinRep            frontend.Variable
	MaxRep            frontend.Variable
	RepData           []frontend.Variable
	StateTreeSiblings []frontend.Variable
	StateTreeIndices  []frontend.Variable
}

// NewReputationCircuit allocates a ReputationCircuit for cfg.
func NewReputationCircuit(cfg unirep.Config) *ReputationCircuit {
	return &ReputationCircuit{
		Cfg:               cfg,
		RepData:           newVars(cfg.FieldCount),
		StateTreeSiblings: newVars(cfg.StateTreeDepth),
		StateTreeIndices:  newVars(cfg.StateTreeDepth),
	}
}

// Define implements frontend.Circuit.
func (c *ReputationCircuit) Define(api frontend.API) error {
	// 1. Ranges and flags
	assertBits(api, c.AttesterID, unirep.AttesterIDBits)
	assertBits(api, c.Epoch, unirep.EpochBits)
	assertNonce(api, c.Nonce, c.Cfg.NumEpochKeyNoncePerEpoch)
	assertBits(api, c.MinRep, unirep.RepBits)
	assertBits(api, c.MaxRep, unirep.RepBits)
	for _, flag := range []frontend.Variable{
		c.RevealNonce, c.ProveGraffiti, c.ProveZeroRep, c.ProveMinRep, c.ProveMaxRep,
	} {
		api.AssertIsBoolean(flag)
	}

	// 2. State tree membership
	leaf, err := stateTreeLeaf(api, c.IdentitySecret, c.AttesterID, c.Epoch, c.RepData)
	if err != nil {
		return err
	}
	root, err := merkleRoot(api, leaf, c.StateTreeSiblings, c.StateTreeIndices)
	if err != nil {
		return err
	}
	api.AssertIsEqual(root, c.StateTreeRoot)

	// 3. Epoch key
	epk, err := hashVars(api, c.IdentitySecret, c.AttesterID, c.Epoch, c.Nonce)
	if err != nil {
		return err
	}
	api.AssertIsEqual(epk, c.EpochKey)

	// 4. Control words
	const flagsAt = unirep.AttesterIDBits + unirep.EpochBits + unirep.NonceBits + 1
	control0 := api.Add(
		epochKeyControl(api, c.AttesterID, c.Epoch, c.Nonce, c.RevealNonce),
		api.Mul(c.ProveGraffiti, pow2(flagsAt)),
		api.Mul(c.ProveZeroRep, pow2(flagsAt+1)),
	)
	api.AssertIsEqual(control0, c.Control0)

	control1 := api.Add(
		c.ProveMinRep,
		api.Mul(c.ProveMaxRep, 2),
		api.Mul(c.MinRep, pow2(2)),
		api.Mul(c.MaxRep, pow2(2+unirep.RepBits)),
	)
	api.AssertIsEqual(control1, c.Control1)

	// 5. Reputation predicates over posRep - negRep, compared as integers
	pos := c.RepData[repdata.PosRepField]
	neg := c.RepData[repdata.NegRepField]
	bounded := api.Or(c.ProveMinRep, c.ProveMaxRep)
	assertBits(api, api.Select(bounded, pos, 0), unirep.NetRepBits)
	assertBits(api, api.Select(bounded, neg, 0), unirep.NetRepBits)

	api.AssertIsLessOrEqual(
		api.Select(c.ProveMinRep, api.Add(neg, c.MinRep), 0),
		api.Select(c.ProveMinRep, pos, 0),
	)
	api.AssertIsLessOrEqual(
		api.Select(c.ProveMaxRep, pos, 0),
		api.Select(c.ProveMaxRep, api.Add(neg, c.MaxRep), 0),
	)
	api.AssertIsEqual(api.Select(c.ProveZeroRep, pos, neg), neg)

	// 6. Graffiti, compared without the replacement nonce
	if c.Cfg.HasGraffiti() {
		bits := api.ToBinary(c.RepData[c.Cfg.SumFieldCount], api.Compiler().FieldBitLen())
		value := api.FromBinary(bits[c.Cfg.ReplNonceBits:]...)
		api.AssertIsEqual(api.Select(c.ProveGraffiti, value, c.Graffiti), c.Graffiti)
	} else {
		api.AssertIsEqual(c.ProveGraffiti, 0)
		bind(api, c.Graffiti)
	}

	bind(api, c.Data)
	return nil
}

func (c *ReputationCircuit) assignPublic(signals []*big.Int) error {
	if err := expectSignals(CircuitReputation, signals, 6); err != nil {
		return err
	}
	c.EpochKey = signals[0]
	c.StateTreeRoot = signals[1]
	c.Control0 = signals[2]
	c.Control1 = signals[3]
	c.Graffiti = signals[4]
	c.Data = signals[5]
	return nil
}

// ReputationInputs are the domain values of a reputation proof.
type ReputationInputs struct {
	IdentitySecret *big.Int
	Control        field.ReputationControlValues
	RepData        repdata.Data
	Graffiti       *big.Int
	// StateTreeProof is the inclusion proof of the user's current state
	// tree leaf.
	StateTreeProof *merkle.Proof
	// Data is an arbitrary field element the proof is bound to.
	Data *big.Int
}

// NewReputationAssignment validates in and builds a full assignment.
//
// Values that exceed their widths are range errors. Claims that do not hold
// for the given data, or a state tree proof that does not match the user's
// leaf, wrap unirep.ErrVerification.
func NewReputationAssignment(cfg unirep.Config, in ReputationInputs) (*ReputationCircuit, error) {
	words, err := field.BuildReputationControl(in.Control, cfg)
	if err != nil {
		return nil, err
	}
	if err := unirep.CheckField("identity_secret", in.IdentitySecret); err != nil {
		return nil, err
	}
	graffiti := orZero(in.Graffiti)
	if in.Control.ProveGraffiti {
		if err := unirep.CheckBits("graffiti", graffiti, cfg.ReplFieldBits()); err != nil {
			return nil, err
		}
	}
	if err := unirep.CheckField("graffiti", graffiti); err != nil {
		return nil, err
	}
	data := orZero(in.Data)
	if err := unirep.CheckField("data", data); err != nil {
		return nil, err
	}
	if err := repdata.CheckClaims(cfg, in.RepData, in.Control, graffiti); err != nil {
		return nil, err
	}

	c := NewReputationCircuit(cfg)
	if err := assignStatePath(c.StateTreeSiblings, c.StateTreeIndices, in.StateTreeProof); err != nil {
		return nil, err
	}
	leaf, err := hasher.StateTreeLeaf(in.IdentitySecret, in.Control.AttesterID, in.Control.Epoch, in.RepData)
	if err != nil {
		return nil, err
	}
	if leaf.Cmp(in.StateTreeProof.Leaf) != 0 || !in.StateTreeProof.Verify() {
		return nil, fmt.Errorf("%w: state tree proof does not match the user's leaf", unirep.ErrVerification)
	}
	epk, err := epochkey.NewDeriver(cfg).Derive(in.IdentitySecret, in.Control.AttesterID, in.Control.Epoch, in.Control.Nonce)
	if err != nil {
		return nil, err
	}

	c.EpochKey = epk
	c.StateTreeRoot = in.StateTreeProof.Root
	c.Control0 = words[0]
	c.Control1 = words[1]
	c.Graffiti = graffiti
	c.Data = data

	c.IdentitySecret = in.IdentitySecret
	c.AttesterID = in.Control.AttesterID
	c.Epoch = in.Control.Epoch
	c.Nonce = in.Control.Nonce
	c.RevealNonce = boolVar(in.Control.RevealNonce)
	c.ProveGraffiti = boolVar(in.Control.ProveGraffiti)
	c.ProveZeroRep = boolVar(in.Control.ProveZeroRep)
	c.ProveMinRep = boolVar(in.Control.ProveMinRep)
	c.ProveMaxRep = boolVar(in.Control.ProveMaxRep)
	c.MinRep = orZero(in.Control.MinRep)
	c.MaxRep = orZero(in.Control.MaxRep)
	for i, v := range in.RepData {
		c.RepData[i] = v
	}
	return c, nil
}

// ReputationProof is the typed view of reputation public signals.
type ReputationProof struct {
	field.ReputationControlValues

	EpochKey      *big.Int
	StateTreeRoot *big.Int
	Control0      *big.Int
	Control1      *big.Int
	// Graffiti is returned as given even when ProveGraffiti is not set.
	Graffiti *big.Int
	Data     *big.Int
}

// ParseReputationSignals decodes reputation public signals.
func ParseReputationSignals(signals []*big.Int) (*ReputationProof, error) {
	if err := expectSignals(CircuitReputation, signals, 6); err != nil {
		return nil, err
	}
	ctl, err := field.ParseReputationControl(signals[2], signals[3])
	if err != nil {
		return nil, err
	}
	return &ReputationProof{
		ReputationControlValues: ctl,
		EpochKey:                signals[0],
		StateTreeRoot:           signals[1],
		Control0:                signals[2],
		Control1:                signals[3],
		Graffiti:                signals[4],
		Data:                    signals[5],
	}, nil
}

// assignStatePath copies a Merkle path into circuit variables.
func assignStatePath(siblings, indices []frontend.Variable, p *merkle.Proof) error {
	if p == nil {
		return fmt.Errorf("%w: missing inclusion proof", unirep.ErrNotFound)
	}
	if len(p.Siblings) != len(siblings) || len(p.PathIndices) != len(indices) {
		return fmt.Errorf("%w: proof has %d levels, circuit expects %d",
			unirep.ErrRange, len(p.Siblings), len(siblings))
	}
	for i := range siblings {
		siblings[i] = p.Siblings[i]
		indices[i] = p.PathIndices[i]
	}
	return nil
}

func boolVar(b bool) frontend.Variable {
	if b {
		return 1
	}
	return 0
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
