package zkproof

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark/frontend"

	"github.com/sorag20/Unirep/pkg/epochkey"
	"github.com/sorag20/Unirep/pkg/hasher"
	"github.com/sorag20/Unirep/pkg/merkle"
	"github.com/sorag20/Unirep/pkg/repdata"
	"github.com/sorag20/Unirep/pkg/unirep"
)

// UserStateTransitionCircuit proves that a new state tree leaf for toEpoch
// carries the user's data at fromEpoch merged with every delta the epoch
// tree of fromEpoch holds for the user's epoch keys.
//
// Public signals: [historyTreeRoot, stateTreeLeaf, epochKey_0..epochKey_{n-1},
// toEpoch, attesterId].
type UserStateTransitionCircuit struct {
	Cfg unirep.Config `gnark:"-"`

	HistoryTreeRoot frontend.Variable   `gnark:",public"`
	StateTreeLeaf   frontend.Variable   `gnark:",public"`
	EpochKeys       []frontend.Variable `gnark:",public"`
	ToEpoch         frontend.Variable   `gnark:",public"`
	AttesterID      frontend.Variable   `gnark:",public"`

	FromEpoch           frontend.Variable
	IdentitySecret      frontend.Variable
	RepData             []frontend.Variable
	StateTreeSiblings   []frontend.Variable
	StateTreeIndices    []frontend.Variable
	HistoryTreeSiblings []frontend.Variable
	HistoryTreeIndices  []frontend.Variable
	EpochTreeRoot       frontend.Variable
	NewData             [][]frontend.Variable
	EpochTreeSiblings   [][]frontend.Variable
	EpochTreeIndices    [][]frontend.Variable
}

// NewUserStateTransitionCircuit allocates a UserStateTransitionCircuit for cfg.
func NewUserStateTransitionCircuit(cfg unirep.Config) *UserStateTransitionCircuit {
	n := cfg.NumEpochKeyNoncePerEpoch
	return &UserStateTransitionCircuit{
		Cfg:                 cfg,
		EpochKeys:           newVars(n),
		RepData:             newVars(cfg.FieldCount),
		StateTreeSiblings:   newVars(cfg.StateTreeDepth),
		StateTreeIndices:    newVars(cfg.StateTreeDepth),
		HistoryTreeSiblings: newVars(cfg.HistoryTreeDepth),
		HistoryTreeIndices:  newVars(cfg.HistoryTreeDepth),
		NewData:             newVarMatrix(n, cfg.FieldCount),
		EpochTreeSiblings:   newVarMatrix(n, cfg.EpochTreeDepth),
		EpochTreeIndices:    newVarMatrix(n, cfg.EpochTreeDepth),
	}
}

// Define implements frontend.Circuit.
func (c *UserStateTransitionCircuit) Define(api frontend.API) error {
	n := c.Cfg.NumEpochKeyNoncePerEpoch

	assertBits(api, c.AttesterID, unirep.AttesterIDBits)
	assertBits(api, c.FromEpoch, unirep.EpochBits)
	assertBits(api, c.ToEpoch, unirep.EpochBits)
	api.AssertIsLessOrEqual(api.Add(c.FromEpoch, 1), c.ToEpoch)

	// Prior leaf and its state root at fromEpoch
	oldLeaf, err := stateTreeLeaf(api, c.IdentitySecret, c.AttesterID, c.FromEpoch, c.RepData)
	if err != nil {
		return err
	}
	stateRoot, err := merkleRoot(api, oldLeaf, c.StateTreeSiblings, c.StateTreeIndices)
	if err != nil {
		return err
	}

	// (stateRoot, epochRoot) of fromEpoch must be in the history tree
	historyLeaf, err := hashVars(api, stateRoot, c.EpochTreeRoot)
	if err != nil {
		return err
	}
	historyRoot, err := merkleRoot(api, historyLeaf, c.HistoryTreeSiblings, c.HistoryTreeIndices)
	if err != nil {
		return err
	}
	api.AssertIsEqual(historyRoot, c.HistoryTreeRoot)

	merged := make([]frontend.Variable, len(c.RepData))
	copy(merged, c.RepData)

	for i := uint(0); i < n; i++ {
		delta := c.NewData[i]

		var allZero frontend.Variable = 1
		for _, d := range delta {
			allZero = api.Mul(allZero, api.IsZero(d))
		}
		hasData := api.Sub(1, allZero)

		epk, err := hashVars(api, c.IdentitySecret, c.AttesterID, c.FromEpoch, i)
		if err != nil {
			return err
		}

		// a non-zero delta must sit in the epoch tree under this key
		epochLeaf, err := hashVars(api, append([]frontend.Variable{epk}, delta...)...)
		if err != nil {
			return err
		}
		epochRoot, err := merkleRoot(api, epochLeaf, c.EpochTreeSiblings[i], c.EpochTreeIndices[i])
		if err != nil {
			return err
		}
		api.AssertIsEqual(api.Select(hasData, epochRoot, c.EpochTreeRoot), c.EpochTreeRoot)

		offsetKey, err := hashVars(api, c.IdentitySecret, c.AttesterID, c.FromEpoch, i+n)
		if err != nil {
			return err
		}
		api.AssertIsEqual(api.Select(hasData, offsetKey, epk), c.EpochKeys[i])

		for j := range merged {
			if uint(j) < c.Cfg.SumFieldCount {
				merged[j] = api.Add(merged[j], delta[j])
				continue
			}
			merged[j] = api.Select(api.IsZero(delta[j]), merged[j], delta[j])
		}
	}

	newLeaf, err := stateTreeLeaf(api, c.IdentitySecret, c.AttesterID, c.ToEpoch, merged)
	if err != nil {
		return err
	}
	api.AssertIsEqual(newLeaf, c.StateTreeLeaf)
	return nil
}

func (c *UserStateTransitionCircuit) assignPublic(signals []*big.Int) error {
	n := int(c.Cfg.NumEpochKeyNoncePerEpoch)
	if err := expectSignals(CircuitUserStateTransition, signals, n+4); err != nil {
		return err
	}
	c.HistoryTreeRoot = signals[0]
	c.StateTreeLeaf = signals[1]
	for i := 0; i < n; i++ {
		c.EpochKeys[i] = signals[2+i]
	}
	c.ToEpoch = signals[2+n]
	c.AttesterID = signals[3+n]
	return nil
}

// EpochKeySlot is what the epoch tree of fromEpoch holds for one nonce.
// A slot without attestations has a nil Proof and a nil or zero Delta.
type EpochKeySlot struct {
	Delta repdata.Data
	Proof *merkle.Proof
}

// TransitionInputs are the domain values of a user state transition proof.
type TransitionInputs struct {
	IdentitySecret *big.Int
	AttesterID     *big.Int
	FromEpoch      uint64
	ToEpoch        uint64
	// RepData is the user's data as committed in fromEpoch.
	RepData          repdata.Data
	StateTreeProof   *merkle.Proof
	HistoryTreeProof *merkle.Proof
	EpochTreeRoot    *big.Int
	// Slots is indexed by nonce and has NumEpochKeyNoncePerEpoch entries.
	Slots []EpochKeySlot
}

// TransitionResult is the outcome computed alongside the assignment.
type TransitionResult struct {
	NewData       repdata.Data
	StateTreeLeaf *big.Int
	EpochKeys     []*big.Int
}

// NewUserStateTransitionAssignment validates in, merges the deltas on a copy
// of the user's data and builds a full assignment.
func NewUserStateTransitionAssignment(cfg unirep.Config, in TransitionInputs) (*UserStateTransitionCircuit, *TransitionResult, error) {
	n := cfg.NumEpochKeyNoncePerEpoch
	if in.FromEpoch >= in.ToEpoch {
		return nil, nil, fmt.Errorf("%w: fromEpoch %d must be below toEpoch %d", unirep.ErrRange, in.FromEpoch, in.ToEpoch)
	}
	if err := unirep.CheckBits("to_epoch", new(big.Int).SetUint64(in.ToEpoch), unirep.EpochBits); err != nil {
		return nil, nil, err
	}
	if uint(len(in.Slots)) != n {
		return nil, nil, fmt.Errorf("%w: %d epoch key slots, expected %d", unirep.ErrRange, len(in.Slots), n)
	}
	if err := in.RepData.Validate(cfg); err != nil {
		return nil, nil, err
	}
	if err := unirep.CheckField("epoch_tree_root", in.EpochTreeRoot); err != nil {
		return nil, nil, err
	}

	deriver := epochkey.NewDeriver(cfg)
	keys, err := deriver.All(in.IdentitySecret, in.AttesterID, in.FromEpoch)
	if err != nil {
		return nil, nil, err
	}

	c := NewUserStateTransitionCircuit(cfg)
	if err := assignStatePath(c.StateTreeSiblings, c.StateTreeIndices, in.StateTreeProof); err != nil {
		return nil, nil, fmt.Errorf("state tree: %w", err)
	}
	if err := assignStatePath(c.HistoryTreeSiblings, c.HistoryTreeIndices, in.HistoryTreeProof); err != nil {
		return nil, nil, fmt.Errorf("history tree: %w", err)
	}

	oldLeaf, err := hasher.StateTreeLeaf(in.IdentitySecret, in.AttesterID, in.FromEpoch, in.RepData)
	if err != nil {
		return nil, nil, err
	}
	if oldLeaf.Cmp(in.StateTreeProof.Leaf) != 0 || !in.StateTreeProof.Verify() {
		return nil, nil, fmt.Errorf("%w: state tree proof does not match the user's leaf", unirep.ErrVerification)
	}
	historyLeaf, err := hasher.HistoryTreeLeaf(in.StateTreeProof.Root, in.EpochTreeRoot)
	if err != nil {
		return nil, nil, err
	}
	if historyLeaf.Cmp(in.HistoryTreeProof.Leaf) != 0 || !in.HistoryTreeProof.Verify() {
		return nil, nil, fmt.Errorf("%w: history tree proof does not cover fromEpoch roots", unirep.ErrVerification)
	}

	merged := in.RepData.Clone()
	emitted := make([]*big.Int, n)
	for i, slot := range in.Slots {
		delta := slot.Delta
		if delta == nil {
			delta = repdata.New(cfg)
		}
		if err := delta.Validate(cfg); err != nil {
			return nil, nil, fmt.Errorf("slot %d: %w", i, err)
		}

		emitted[i] = keys[i]
		if delta.IsZero() {
			for h := range c.EpochTreeSiblings[i] {
				c.EpochTreeSiblings[i][h] = 0
				c.EpochTreeIndices[i][h] = 0
			}
		} else {
			if err := assignStatePath(c.EpochTreeSiblings[i], c.EpochTreeIndices[i], slot.Proof); err != nil {
				return nil, nil, fmt.Errorf("epoch tree slot %d: %w", i, err)
			}
			leaf, err := hasher.EpochTreeLeaf(keys[i], delta)
			if err != nil {
				return nil, nil, err
			}
			if leaf.Cmp(slot.Proof.Leaf) != 0 || slot.Proof.Root.Cmp(in.EpochTreeRoot) != 0 || !slot.Proof.Verify() {
				return nil, nil, fmt.Errorf("%w: epoch tree proof for nonce %d", unirep.ErrVerification, i)
			}
			emitted[i], err = deriver.Offset(in.IdentitySecret, in.AttesterID, in.FromEpoch, uint64(i))
			if err != nil {
				return nil, nil, err
			}
		}

		merged, err = repdata.Merge(cfg, merged, delta)
		if err != nil {
			return nil, nil, err
		}
		for j, v := range delta {
			c.NewData[i][j] = v
		}
	}

	newLeaf, err := hasher.StateTreeLeaf(in.IdentitySecret, in.AttesterID, in.ToEpoch, merged)
	if err != nil {
		return nil, nil, err
	}

	c.HistoryTreeRoot = in.HistoryTreeProof.Root
	c.StateTreeLeaf = newLeaf
	for i, k := range emitted {
		c.EpochKeys[i] = k
	}
	c.ToEpoch = in.ToEpoch
	c.AttesterID = in.AttesterID

	c.FromEpoch = in.FromEpoch
	c.IdentitySecret = in.IdentitySecret
	for i, v := range in.RepData {
		c.RepData[i] = v
	}
	c.EpochTreeRoot = in.EpochTreeRoot

	return c, &TransitionResult{
		NewData:       merged,
		StateTreeLeaf: newLeaf,
		EpochKeys:     emitted,
	}, nil
}

// UserStateTransitionProof is the typed view of transition public signals.
type UserStateTransitionProof struct {
	HistoryTreeRoot *big.Int
	StateTreeLeaf   *big.Int
	EpochKeys       []*big.Int
	ToEpoch         uint64
	AttesterID      *big.Int
}

// ParseUserStateTransitionSignals decodes transition public signals for a
// configuration with numNonces epoch keys per epoch.
func ParseUserStateTransitionSignals(signals []*big.Int, numNonces uint) (*UserStateTransitionProof, error) {
	n := int(numNonces)
	if err := expectSignals(CircuitUserStateTransition, signals, n+4); err != nil {
		return nil, err
	}
	if err := unirep.CheckBits("to_epoch", signals[2+n], unirep.EpochBits); err != nil {
		return nil, err
	}
	if err := unirep.CheckBits("attester_id", signals[3+n], unirep.AttesterIDBits); err != nil {
		return nil, err
	}
	keys := make([]*big.Int, n)
	copy(keys, signals[2:2+n])
	return &UserStateTransitionProof{
		HistoryTreeRoot: signals[0],
		StateTreeLeaf:   signals[1],
		EpochKeys:       keys,
		ToEpoch:         signals[2+n].Uint64(),
		AttesterID:      signals[3+n],
	}, nil
}
