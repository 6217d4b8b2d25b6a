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

// epochKeyInputs are the private inputs shared by the epoch key family.
type epochKeyInputs struct {
	IdentitySecret frontend.Variable
	AttesterID     frontend.Variable
	Epoch          frontend.Variable
	Nonce          frontend.Variable
	RevealNonce    frontend.Variable
}

// define checks ranges, re-derives the epoch key and the control word.
func (in *epochKeyInputs) define(api frontend.API, cfg unirep.Config, epochKey, control frontend.Variable) error {
	assertBits(api, in.AttesterID, unirep.AttesterIDBits)
	assertBits(api, in.Epoch, unirep.EpochBits)
	assertNonce(api, in.Nonce, cfg.NumEpochKeyNoncePerEpoch)
	api.AssertIsBoolean(in.RevealNonce)

	epk, err := hashVars(api, in.IdentitySecret, in.AttesterID, in.Epoch, in.Nonce)
	if err != nil {
		return err
	}
	api.AssertIsEqual(epk, epochKey)
	api.AssertIsEqual(epochKeyControl(api, in.AttesterID, in.Epoch, in.Nonce, in.RevealNonce), control)
	return nil
}

// EpochKeyCircuit proves control of an epoch key by a member of the state
// tree.
//
// Public signals: [epochKey, stateTreeRoot, control, data].
type EpochKeyCircuit struct {
	Cfg unirep.Config `gnark:"-"`

	EpochKey      frontend.Variable `gnark:",public"`
	StateTreeRoot frontend.Variable `gnark:",public"`
	Control       frontend.Variable `gnark:",public"`
	Data          frontend.Variable `gnark:",public"`

	Inputs            epochKeyInputs
	RepData           []frontend.Variable
	StateTreeSiblings []frontend.Variable
	StateTreeIndices  []frontend.Variable
}

// NewEpochKeyCircuit allocates an EpochKeyCircuit for cfg.
func NewEpochKeyCircuit(cfg unirep.Config) *EpochKeyCircuit {
	return &EpochKeyCircuit{
		Cfg:               cfg,
		RepData:           newVars(cfg.FieldCount),
		StateTreeSiblings: newVars(cfg.StateTreeDepth),
		StateTreeIndices:  newVars(cfg.StateTreeDepth),
	}
}

// Define implements frontend.Circuit.
func (c *EpochKeyCircuit) Define(api frontend.API) error {
	if err := c.Inputs.define(api, c.Cfg, c.EpochKey, c.Control); err != nil {
		return err
	}
	leaf, err := stateTreeLeaf(api, c.Inputs.IdentitySecret, c.Inputs.AttesterID, c.Inputs.Epoch, c.RepData)
	if err != nil {
		return err
	}
	root, err := merkleRoot(api, leaf, c.StateTreeSiblings, c.StateTreeIndices)
	if err != nil {
		return err
	}
	api.AssertIsEqual(root, c.StateTreeRoot)
	bind(api, c.Data)
	return nil
}

func (c *EpochKeyCircuit) assignPublic(signals []*big.Int) error {
	if err := expectSignals(CircuitEpochKey, signals, 4); err != nil {
		return err
	}
	c.EpochKey = signals[0]
	c.StateTreeRoot = signals[1]
	c.Control = signals[2]
	c.Data = signals[3]
	return nil
}

// EpochKeyLiteCircuit proves control of an epoch key without state tree
// membership.
//
// Public signals: [control, epochKey, data].
type EpochKeyLiteCircuit struct {
	Cfg unirep.Config `gnark:"-"`

	Control  frontend.Variable `gnark:",public"`
	EpochKey frontend.Variable `gnark:",public"`
	Data     frontend.Variable `gnark:",public"`

	Inputs epochKeyInputs
}

// NewEpochKeyLiteCircuit allocates an EpochKeyLiteCircuit for cfg.
func NewEpochKeyLiteCircuit(cfg unirep.Config) *EpochKeyLiteCircuit {
	return &EpochKeyLiteCircuit{Cfg: cfg}
}

// Define implements frontend.Circuit.
func (c *EpochKeyLiteCircuit) Define(api frontend.API) error {
	if err := c.Inputs.define(api, c.Cfg, c.EpochKey, c.Control); err != nil {
		return err
	}
	bind(api, c.Data)
	return nil
}

func (c *EpochKeyLiteCircuit) assignPublic(signals []*big.Int) error {
	if err := expectSignals(CircuitEpochKeyLite, signals, 3); err != nil {
		return err
	}
	c.Control = signals[0]
	c.EpochKey = signals[1]
	c.Data = signals[2]
	return nil
}

// PreventDoubleActionCircuit is an epoch key proof that also publishes a
// per-scope nullifier hash(scope, secret).
//
// Public signals: [epochKey, stateTreeRoot, control, nullifier, scope, data].
type PreventDoubleActionCircuit struct {
	Cfg unirep.Config `gnark:"-"`

	EpochKey      frontend.Variable `gnark:",public"`
	StateTreeRoot frontend.Variable `gnark:",public"`
	Control       frontend.Variable `gnark:",public"`
	Nullifier     frontend.Variable `gnark:",public"`
	Scope         frontend.Variable `gnark:",public"`
	Data          frontend.Variable `gnark:",public"`

	Inputs            epochKeyInputs
	RepData           []frontend.Variable
	StateTreeSiblings []frontend.Variable
	StateTreeIndices  []frontend.Variable
}

// NewPreventDoubleActionCircuit allocates a PreventDoubleActionCircuit for cfg.
func NewPreventDoubleActionCircuit(cfg unirep.Config) *PreventDoubleActionCircuit {
	return &PreventDoubleActionCircuit{
		Cfg:               cfg,
		RepData:           newVars(cfg.FieldCount),
		StateTreeSiblings: newVars(cfg.StateTreeDepth),
		StateTreeIndices:  newVars(cfg.StateTreeDepth),
	}
}

// Define implements frontend.Circuit.
func (c *PreventDoubleActionCircuit) Define(api frontend.API) error {
	if err := c.Inputs.define(api, c.Cfg, c.EpochKey, c.Control); err != nil {
		return err
	}
	leaf, err := stateTreeLeaf(api, c.Inputs.IdentitySecret, c.Inputs.AttesterID, c.Inputs.Epoch, c.RepData)
	if err != nil {
		return err
	}
	root, err := merkleRoot(api, leaf, c.StateTreeSiblings, c.StateTreeIndices)
	if err != nil {
		return err
	}
	api.AssertIsEqual(root, c.StateTreeRoot)

	nullifier, err := hashVars(api, c.Scope, c.Inputs.IdentitySecret)
	if err != nil {
		return err
	}
	api.AssertIsEqual(nullifier, c.Nullifier)
	bind(api, c.Data)
	return nil
}

func (c *PreventDoubleActionCircuit) assignPublic(signals []*big.Int) error {
	if err := expectSignals(CircuitPreventDoubleAction, signals, 6); err != nil {
		return err
	}
	c.EpochKey = signals[0]
	c.StateTreeRoot = signals[1]
	c.Control = signals[2]
	c.Nullifier = signals[3]
	c.Scope = signals[4]
	c.Data = signals[5]
	return nil
}

// EpochKeyInputs are the domain values of the epoch key proofs.
type EpochKeyInputs struct {
	IdentitySecret *big.Int
	Control        field.EpochKeyControlValues
	// RepData and StateTreeProof are ignored by the lite proof.
	RepData        repdata.Data
	StateTreeProof *merkle.Proof
	Data           *big.Int
	// Scope is only used by the prevent-double-action proof.
	Scope *big.Int
}

type epochKeyValues struct {
	epochKey *big.Int
	control  *big.Int
	data     *big.Int
	private  epochKeyInputs
}

func buildEpochKeyValues(cfg unirep.Config, in EpochKeyInputs) (*epochKeyValues, error) {
	control, err := field.BuildEpochKeyControl(in.Control, cfg)
	if err != nil {
		return nil, err
	}
	if err := unirep.CheckField("identity_secret", in.IdentitySecret); err != nil {
		return nil, err
	}
	data := orZero(in.Data)
	if err := unirep.CheckField("data", data); err != nil {
		return nil, err
	}
	epk, err := epochkey.NewDeriver(cfg).Derive(in.IdentitySecret, in.Control.AttesterID, in.Control.Epoch, in.Control.Nonce)
	if err != nil {
		return nil, err
	}
	return &epochKeyValues{
		epochKey: epk,
		control:  control,
		data:     data,
		private: epochKeyInputs{
			IdentitySecret: in.IdentitySecret,
			AttesterID:     in.Control.AttesterID,
			Epoch:          in.Control.Epoch,
			Nonce:          in.Control.Nonce,
			RevealNonce:    boolVar(in.Control.RevealNonce),
		},
	}, nil
}

func checkMembership(cfg unirep.Config, in EpochKeyInputs, siblings, indices []frontend.Variable, repData []frontend.Variable) error {
	if err := in.RepData.Validate(cfg); err != nil {
		return err
	}
	if err := assignStatePath(siblings, indices, in.StateTreeProof); err != nil {
		return err
	}
	leaf, err := hasher.StateTreeLeaf(in.IdentitySecret, in.Control.AttesterID, in.Control.Epoch, in.RepData)
	if err != nil {
		return err
	}
	if leaf.Cmp(in.StateTreeProof.Leaf) != 0 || !in.StateTreeProof.Verify() {
		return fmt.Errorf("%w: state tree proof does not match the user's leaf", unirep.ErrVerification)
	}
	for i, v := range in.RepData {
		repData[i] = v
	}
	return nil
}

// NewEpochKeyAssignment validates in and builds a full assignment.
func NewEpochKeyAssignment(cfg unirep.Config, in EpochKeyInputs) (*EpochKeyCircuit, error) {
	v, err := buildEpochKeyValues(cfg, in)
	if err != nil {
		return nil, err
	}
	c := NewEpochKeyCircuit(cfg)
	if err := checkMembership(cfg, in, c.StateTreeSiblings, c.StateTreeIndices, c.RepData); err != nil {
		return nil, err
	}
	c.EpochKey = v.epochKey
	c.StateTreeRoot = in.StateTreeProof.Root
	c.Control = v.control
	c.Data = v.data
	c.Inputs = v.private
	return c, nil
}

// NewEpochKeyLiteAssignment validates in and builds a full assignment.
func NewEpochKeyLiteAssignment(cfg unirep.Config, in EpochKeyInputs) (*EpochKeyLiteCircuit, error) {
	v, err := buildEpochKeyValues(cfg, in)
	if err != nil {
		return nil, err
	}
	c := NewEpochKeyLiteCircuit(cfg)
	c.Control = v.control
	c.EpochKey = v.epochKey
	c.Data = v.data
	c.Inputs = v.private
	return c, nil
}

// NewPreventDoubleActionAssignment validates in and builds a full assignment.
func NewPreventDoubleActionAssignment(cfg unirep.Config, in EpochKeyInputs) (*PreventDoubleActionCircuit, error) {
	v, err := buildEpochKeyValues(cfg, in)
	if err != nil {
		return nil, err
	}
	scope := orZero(in.Scope)
	nullifier, err := hasher.Nullifier(scope, in.IdentitySecret)
	if err != nil {
		return nil, err
	}
	c := NewPreventDoubleActionCircuit(cfg)
	if err := checkMembership(cfg, in, c.StateTreeSiblings, c.StateTreeIndices, c.RepData); err != nil {
		return nil, err
	}
	c.EpochKey = v.epochKey
	c.StateTreeRoot = in.StateTreeProof.Root
	c.Control = v.control
	c.Nullifier = nullifier
	c.Scope = scope
	c.Data = v.data
	c.Inputs = v.private
	return c, nil
}

// EpochKeyProof is the typed view of epoch key public signals.
type EpochKeyProof struct {
	field.EpochKeyControlValues

	EpochKey      *big.Int
	StateTreeRoot *big.Int
	Control       *big.Int
	Data          *big.Int
}

// ParseEpochKeySignals decodes epoch key public signals.
func ParseEpochKeySignals(signals []*big.Int) (*EpochKeyProof, error) {
	if err := expectSignals(CircuitEpochKey, signals, 4); err != nil {
		return nil, err
	}
	ctl, err := field.ParseEpochKeyControl(signals[2])
	if err != nil {
		return nil, err
	}
	return &EpochKeyProof{
		EpochKeyControlValues: ctl,
		EpochKey:              signals[0],
		StateTreeRoot:         signals[1],
		Control:               signals[2],
		Data:                  signals[3],
	}, nil
}

// EpochKeyLiteProof is the typed view of epoch key lite public signals.
type EpochKeyLiteProof struct {
	field.EpochKeyControlValues

	Control  *big.Int
	EpochKey *big.Int
	Data     *big.Int
}

// ParseEpochKeyLiteSignals decodes epoch key lite public signals.
func ParseEpochKeyLiteSignals(signals []*big.Int) (*EpochKeyLiteProof, error) {
	if err := expectSignals(CircuitEpochKeyLite, signals, 3); err != nil {
		return nil, err
	}
	ctl, err := field.ParseEpochKeyControl(signals[0])
	if err != nil {
		return nil, err
	}
	return &EpochKeyLiteProof{
		EpochKeyControlValues: ctl,
		Control:               signals[0],
		EpochKey:              signals[1],
		Data:                  signals[2],
	}, nil
}

// PreventDoubleActionProof is the typed view of prevent-double-action
// public signals.
type PreventDoubleActionProof struct {
	field.EpochKeyControlValues

	EpochKey      *big.Int
	StateTreeRoot *big.Int
	Control       *big.Int
	Nullifier     *big.Int
	Scope         *big.Int
	Data          *big.Int
}

// ParsePreventDoubleActionSignals decodes prevent-double-action public signals.
func ParsePreventDoubleActionSignals(signals []*big.Int) (*PreventDoubleActionProof, error) {
	if err := expectSignals(CircuitPreventDoubleAction, signals, 6); err != nil {
		return nil, err
	}
	ctl, err := field.ParseEpochKeyControl(signals[2])
	if err != nil {
		return nil, err
	}
	return &PreventDoubleActionProof{
		EpochKeyControlValues: ctl,
		EpochKey:              signals[0],
		StateTreeRoot:         signals[1],
		Control:               signals[2],
		Nullifier:             signals[3],
		Scope:                 signals[4],
		Data:                  signals[5],
	}, nil
}
