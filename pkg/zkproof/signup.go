package zkproof

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark/frontend"

	"github.com/sorag20/Unirep/pkg/hasher"
	"github.com/sorag20/Unirep/pkg/repdata"
	"github.com/sorag20/Unirep/pkg/unirep"
)

// SignupCircuit proves that a state tree leaf was built from the identity
// behind a commitment, with all data zero except the airdrop in the
// positive reputation field.
type SignupCircuit struct {
	Cfg unirep.Config `gnark:"-"`

	IdentityCommitment frontend.Variable `gnark:",public"`
	StateTreeLeaf      frontend.Variable `gnark:",public"`
	AttesterID         frontend.Variable `gnark:",public"`
	Epoch              frontend.Variable `gnark:",public"`
	Airdrop            frontend.Variable `gnark:",public"`

	IdentitySecret frontend.Variable
}

// NewSignupCircuit allocates a SignupCircuit for cfg.
func NewSignupCircuit(cfg unirep.Config) *SignupCircuit {
	return &SignupCircuit{Cfg: cfg}
}

// Define implements frontend.Circuit.
func (c *SignupCircuit) Define(api frontend.API) error {
	assertBits(api, c.AttesterID, unirep.AttesterIDBits)
	assertBits(api, c.Epoch, unirep.EpochBits)

	commitment, err := hashVars(api, c.IdentitySecret)
	if err != nil {
		return err
	}
	api.AssertIsEqual(commitment, c.IdentityCommitment)

	data := newVars(c.Cfg.FieldCount)
	for i := range data {
		data[i] = 0
	}
	data[repdata.PosRepField] = c.Airdrop

	leaf, err := stateTreeLeaf(api, c.IdentitySecret, c.AttesterID, c.Epoch, data)
	if err != nil {
		return err
	}
	api.AssertIsEqual(leaf, c.StateTreeLeaf)
	return nil
}

func (c *SignupCircuit) assignPublic(signals []*big.Int) error {
	if err := expectSignals(CircuitSignup, signals, 5); err != nil {
		return err
	}
	c.IdentityCommitment = signals[0]
	c.StateTreeLeaf = signals[1]
	c.AttesterID = signals[2]
	c.Epoch = signals[3]
	c.Airdrop = signals[4]
	return nil
}

// SignupInputs are the domain values of a sign-up proof.
type SignupInputs struct {
	IdentitySecret *big.Int
	AttesterID     *big.Int
	Epoch          uint64
	Airdrop        *big.Int
}

// NewSignupAssignment validates in and builds a full assignment.
func NewSignupAssignment(cfg unirep.Config, in SignupInputs) (*SignupCircuit, error) {
	if err := unirep.CheckField("identity_secret", in.IdentitySecret); err != nil {
		return nil, err
	}
	if err := unirep.CheckBits("attester_id", in.AttesterID, unirep.AttesterIDBits); err != nil {
		return nil, err
	}
	if err := unirep.CheckBits("epoch", new(big.Int).SetUint64(in.Epoch), unirep.EpochBits); err != nil {
		return nil, err
	}
	airdrop := in.Airdrop
	if airdrop == nil {
		airdrop = new(big.Int)
	}
	if err := unirep.CheckField("airdrop", airdrop); err != nil {
		return nil, err
	}

	data := repdata.New(cfg)
	data[repdata.PosRepField].Set(airdrop)

	commitment, err := hasher.IdentityCommitment(in.IdentitySecret)
	if err != nil {
		return nil, err
	}
	leaf, err := hasher.StateTreeLeaf(in.IdentitySecret, in.AttesterID, in.Epoch, data)
	if err != nil {
		return nil, err
	}

	c := NewSignupCircuit(cfg)
	c.IdentityCommitment = commitment
	c.StateTreeLeaf = leaf
	c.AttesterID = in.AttesterID
	c.Epoch = in.Epoch
	c.Airdrop = airdrop
	c.IdentitySecret = in.IdentitySecret
	return c, nil
}

// SignupProof is the typed view of sign-up public signals.
type SignupProof struct {
	IdentityCommitment *big.Int
	StateTreeLeaf      *big.Int
	AttesterID         *big.Int
	Epoch              uint64
	Airdrop            *big.Int
}

// ParseSignupSignals decodes sign-up public signals.
func ParseSignupSignals(signals []*big.Int) (*SignupProof, error) {
	if err := expectSignals(CircuitSignup, signals, 5); err != nil {
		return nil, err
	}
	if err := unirep.CheckBits("epoch", signals[3], unirep.EpochBits); err != nil {
		return nil, err
	}
	return &SignupProof{
		IdentityCommitment: signals[0],
		StateTreeLeaf:      signals[1],
		AttesterID:         signals[2],
		Epoch:              signals[3].Uint64(),
		Airdrop:            signals[4],
	}, nil
}

func expectSignals(id CircuitID, signals []*big.Int, n int) error {
	if len(signals) != n {
		return fmt.Errorf("%w: %s expects %d public signals, got %d", unirep.ErrRange, id, n, len(signals))
	}
	for i, s := range signals {
		if err := unirep.CheckField(fmt.Sprintf("signal[%d]", i), s); err != nil {
			return err
		}
	}
	return nil
}
