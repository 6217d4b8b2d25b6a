// Package transition drives a user through the epoch lifecycle of one
// attester: sign-up, epoch key and reputation proofs in the current epoch,
// and the user state transition that carries data into a new epoch.
//
// A user is Active in the epoch their stored state belongs to. Transition
// moves them to Transitioning while the proof is built. The new state is
// then stored as pending next to the committed one and becomes committed
// only once the ledger holds its leaf; until then the user is Submitted. A
// pending state whose epoch ends without its leaf is dropped, leaving the
// user Active in the old epoch to try again.
package transition

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"github.com/sorag20/Unirep/internal/crypto"
	"github.com/sorag20/Unirep/internal/ledger"
	"github.com/sorag20/Unirep/internal/userstate"
	"github.com/sorag20/Unirep/pkg/epochkey"
	"github.com/sorag20/Unirep/pkg/field"
	"github.com/sorag20/Unirep/pkg/hasher"
	"github.com/sorag20/Unirep/pkg/merkle"
	"github.com/sorag20/Unirep/pkg/repdata"
	"github.com/sorag20/Unirep/pkg/unirep"
	"github.com/sorag20/Unirep/pkg/zkproof"
)

// ErrTransitionInProgress is returned when a user starts a second
// transition before the first one finished.
var ErrTransitionInProgress = errors.New("transition: already in progress")

// ErrSubmissionPending is returned when a user starts a sign-up or
// transition while an earlier one still waits for the ledger.
var ErrSubmissionPending = errors.New("transition: submission not yet in the ledger")

// Phase is the lifecycle phase of a user with the attester.
type Phase int

const (
	Active Phase = iota
	Transitioning
	Submitted
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Active:
		return "active"
	case Transitioning:
		return "transitioning"
	case Submitted:
		return "submitted"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Submitter hands proven sign-ups and transitions to the process that owns
// the ledger.
type Submitter interface {
	SubmitSignUp(ctx context.Context, signals *zkproof.SignupProof) error
	SubmitTransition(ctx context.Context, signals *zkproof.UserStateTransitionProof) error
}

// Params are the dependencies of a Protocol.
type Params struct {
	Ledger  *ledger.Ledger
	Backend zkproof.Backend
	Store   *userstate.Store
	// Submitter is set when Ledger is a read-only copy. Without it the
	// protocol writes to Ledger directly.
	Submitter Submitter
	Logger    *zap.Logger
}

// Protocol runs user operations against one attester's ledger.
type Protocol struct {
	ledger    *ledger.Ledger
	backend   zkproof.Backend
	store     *userstate.Store
	submitter Submitter
	cfg       unirep.Config
	deriver *epochkey.Deriver
	log     *zap.Logger

	mu     sync.Mutex
	phases map[string]Phase
}

// New creates a Protocol.
func New(p Params) *Protocol {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := p.Ledger.Config()
	return &Protocol{
		ledger:    p.Ledger,
		backend:   p.Backend,
		store:     p.Store,
		submitter: p.Submitter,
		cfg:       cfg,
		deriver:   epochkey.NewDeriver(cfg),
		log:       log.Named("transition").With(zap.Stringer("attester", p.Ledger.AttesterID())),
		phases:    make(map[string]Phase),
	}
}

// Status describes where a user stands with the attester.
type Status struct {
	Phase Phase
	// Epoch is the epoch of the user's stored state.
	Epoch uint64
	// NeedsTransition is set when the ledger has moved past Epoch.
	NeedsTransition bool
	Data            repdata.Data
	// Pending is a submitted state the ledger does not hold yet.
	Pending *userstate.State
}

// Status returns the user's phase and stored state. A submitted sign-up
// that is still pending is reported with its own epoch and data.
func (p *Protocol) Status(id *crypto.Identity) (*Status, error) {
	pending, err := p.settle(id)
	if err != nil {
		return nil, err
	}
	st, err := p.store.Load(id.Secret, p.ledger.AttesterID())
	switch {
	case errors.Is(err, unirep.ErrNotFound) && pending != nil:
		return &Status{Phase: Submitted, Epoch: pending.Epoch, Data: pending.Data, Pending: pending}, nil
	case err != nil:
		return nil, err
	}

	status := &Status{
		Phase:           p.phase(id),
		Epoch:           st.Epoch,
		NeedsTransition: st.Epoch < p.ledger.CurrentEpoch(),
		Data:            st.Data,
		Pending:         pending,
	}
	if pending != nil && status.Phase == Active {
		status.Phase = Submitted
		status.NeedsTransition = false
	}
	return status, nil
}

// settle promotes the pending state once the ledger holds its leaf and
// drops it once its epoch has ended without it. It returns the pending
// state that is still waiting, if any.
func (p *Protocol) settle(id *crypto.Identity) (*userstate.State, error) {
	attesterID := p.ledger.AttesterID()
	pending, err := p.store.LoadPending(id.Secret, attesterID)
	if errors.Is(err, unirep.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	log := p.log.With(zap.Uint64("epoch", pending.Epoch))

	leaf, err := hasher.StateTreeLeaf(id.Secret, attesterID, pending.Epoch, pending.Data)
	if err != nil {
		return nil, err
	}
	_, err = p.ledger.StateLeafIndex(pending.Epoch, leaf)
	switch {
	case err == nil:
		if err := p.store.Promote(id.Secret, attesterID); err != nil {
			return nil, fmt.Errorf("promote user state: %w", err)
		}
		log.Info("pending user state committed")
		return nil, nil
	case !errors.Is(err, unirep.ErrNotFound):
		return nil, err
	case pending.Epoch < p.ledger.CurrentEpoch():
		if err := p.store.DropPending(id.Secret, attesterID); err != nil {
			return nil, fmt.Errorf("drop pending user state: %w", err)
		}
		log.Warn("pending user state dropped, its epoch ended without the leaf")
		return nil, nil
	default:
		return pending, nil
	}
}

// load settles any pending state and returns the committed one. It fails
// with ErrSubmissionPending while a submission still waits for the ledger.
func (p *Protocol) load(id *crypto.Identity) (*userstate.State, error) {
	pending, err := p.settle(id)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, fmt.Errorf("%w: epoch %d", ErrSubmissionPending, pending.Epoch)
	}
	return p.store.Load(id.Secret, p.ledger.AttesterID())
}

// commit stores next as pending, runs apply against the local ledger and
// hands the result to the submitter. Without a submitter the local ledger
// is authoritative and next is committed straight away.
func (p *Protocol) commit(id *crypto.Identity, next *userstate.State, apply func() (uint64, error), submit func() error) (uint64, error) {
	if err := p.store.SavePending(id.Secret, next); err != nil {
		return 0, fmt.Errorf("save user state: %w", err)
	}
	index, err := apply()
	if err == nil && p.submitter != nil {
		err = submit()
	}
	if err != nil {
		if dropErr := p.store.DropPending(id.Secret, next.AttesterID); dropErr != nil {
			p.log.Error("failed to drop pending user state", zap.Error(dropErr))
		}
		return 0, err
	}
	if p.submitter == nil {
		if _, err := p.settle(id); err != nil {
			return 0, err
		}
	}
	return index, nil
}

func (p *Protocol) phase(id *crypto.Identity) Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phases[id.Commitment.String()]
}

// begin moves a user to Transitioning. The returned func moves them back.
func (p *Protocol) begin(id *crypto.Identity) (func(), error) {
	key := id.Commitment.String()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phases[key] == Transitioning {
		return nil, ErrTransitionInProgress
	}
	p.phases[key] = Transitioning
	return func() {
		p.mu.Lock()
		delete(p.phases, key)
		p.mu.Unlock()
	}, nil
}

// SignUp proves and registers a new user in the current epoch with airdrop
// in the positive reputation field.
func (p *Protocol) SignUp(ctx context.Context, id *crypto.Identity, airdrop *big.Int) (*zkproof.ProofResult, error) {
	if pending, err := p.settle(id); err != nil {
		return nil, err
	} else if pending != nil {
		return nil, fmt.Errorf("%w: epoch %d", ErrSubmissionPending, pending.Epoch)
	}
	epoch := p.ledger.CurrentEpoch()
	assignment, err := zkproof.NewSignupAssignment(p.cfg, zkproof.SignupInputs{
		IdentitySecret: id.Secret,
		AttesterID:     p.ledger.AttesterID(),
		Epoch:          epoch,
		Airdrop:        airdrop,
	})
	if err != nil {
		return nil, err
	}
	proof, err := p.proveAndVerify(ctx, zkproof.CircuitSignup, assignment)
	if err != nil {
		return nil, err
	}
	signals, err := zkproof.ParseSignupSignals(proof.PublicSignals)
	if err != nil {
		return nil, err
	}

	data := repdata.New(p.cfg)
	data[repdata.PosRepField].Set(signals.Airdrop)
	next := &userstate.State{AttesterID: p.ledger.AttesterID(), Epoch: epoch, Data: data}
	_, err = p.commit(id, next,
		func() (uint64, error) {
			return p.ledger.SignUp(signals.Epoch, signals.IdentityCommitment, signals.StateTreeLeaf)
		},
		func() error { return p.submitter.SubmitSignUp(ctx, signals) },
	)
	if err != nil {
		return nil, err
	}

	p.log.Info("user signed up", zap.Uint64("epoch", epoch))
	return proof, nil
}

// TransitionResult is the outcome of a completed transition.
type TransitionResult struct {
	Proof     *zkproof.ProofResult
	FromEpoch uint64
	ToEpoch   uint64
	LeafIndex uint64
	Data      repdata.Data
}

// Transition moves the user from the epoch of their stored state into the
// ledger's current epoch.
//
// The source epoch must be sealed and older than the current epoch,
// otherwise the error wraps unirep.ErrStaleEpoch. A user without a leaf in
// the source epoch gets unirep.ErrNotFound.
func (p *Protocol) Transition(ctx context.Context, id *crypto.Identity) (*TransitionResult, error) {
	done, err := p.begin(id)
	if err != nil {
		return nil, err
	}
	defer done()

	attesterID := p.ledger.AttesterID()
	st, err := p.load(id)
	if err != nil {
		return nil, err
	}
	from, to := st.Epoch, p.ledger.CurrentEpoch()
	if to <= from {
		return nil, fmt.Errorf("%w: already in epoch %d", unirep.ErrStaleEpoch, from)
	}
	if !p.ledger.IsSealed(from) {
		return nil, fmt.Errorf("%w: epoch %d is not sealed", unirep.ErrStaleEpoch, from)
	}
	log := p.log.With(zap.Uint64("from_epoch", from), zap.Uint64("to_epoch", to))

	inputs, err := p.transitionInputs(id, st, to)
	if err != nil {
		return nil, err
	}
	assignment, computed, err := zkproof.NewUserStateTransitionAssignment(p.cfg, *inputs)
	if err != nil {
		return nil, err
	}

	proof, err := p.proveAndVerify(ctx, zkproof.CircuitUserStateTransition, assignment)
	if err != nil {
		return nil, err
	}
	signals, err := zkproof.ParseUserStateTransitionSignals(proof.PublicSignals, p.cfg.NumEpochKeyNoncePerEpoch)
	if err != nil {
		return nil, err
	}

	next := &userstate.State{AttesterID: attesterID, Epoch: to, Data: computed.NewData}
	index, err := p.commit(id, next,
		func() (uint64, error) {
			return p.ledger.ApplyTransition(signals.ToEpoch, signals.HistoryTreeRoot, signals.StateTreeLeaf, signals.EpochKeys)
		},
		func() error { return p.submitter.SubmitTransition(ctx, signals) },
	)
	if err != nil {
		return nil, err
	}

	log.Info("user state transitioned", zap.Uint64("leaf_index", index))
	return &TransitionResult{
		Proof:     proof,
		FromEpoch: from,
		ToEpoch:   to,
		LeafIndex: index,
		Data:      computed.NewData,
	}, nil
}

// transitionInputs collects every path and delta of the source epoch before
// any proving starts.
func (p *Protocol) transitionInputs(id *crypto.Identity, st *userstate.State, to uint64) (*zkproof.TransitionInputs, error) {
	from := st.Epoch
	attesterID := p.ledger.AttesterID()

	leaf, err := hasher.StateTreeLeaf(id.Secret, attesterID, from, st.Data)
	if err != nil {
		return nil, err
	}
	leafIndex, err := p.ledger.StateLeafIndex(from, leaf)
	if err != nil {
		return nil, err
	}
	stateProof, err := p.ledger.ProveInclusion(ledger.StateTree, from, leafIndex)
	if err != nil {
		return nil, err
	}
	historyIndex, err := p.ledger.HistoryIndex(from)
	if err != nil {
		return nil, err
	}
	historyProof, err := p.ledger.ProveInclusion(ledger.HistoryTree, from, historyIndex)
	if err != nil {
		return nil, err
	}
	epochRoot, err := p.ledger.Root(ledger.EpochTree, from)
	if err != nil {
		return nil, err
	}

	keys, err := p.deriver.All(id.Secret, attesterID, from)
	if err != nil {
		return nil, err
	}
	slots := make([]zkproof.EpochKeySlot, len(keys))
	for i, k := range keys {
		entry, err := p.ledger.EpochKeyEntry(from, k)
		if errors.Is(err, unirep.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		slots[i] = zkproof.EpochKeySlot{Delta: entry.Delta, Proof: entry.Proof}
	}

	return &zkproof.TransitionInputs{
		IdentitySecret:   id.Secret,
		AttesterID:       attesterID,
		FromEpoch:        from,
		ToEpoch:          to,
		RepData:          st.Data,
		StateTreeProof:   stateProof,
		HistoryTreeProof: historyProof,
		EpochTreeRoot:    epochRoot,
		Slots:            slots,
	}, nil
}

// ReputationRequest selects what a reputation proof discloses.
type ReputationRequest struct {
	Nonce         uint64
	RevealNonce   bool
	ProveMinRep   bool
	MinRep        *big.Int
	ProveMaxRep   bool
	MaxRep        *big.Int
	ProveZeroRep  bool
	ProveGraffiti bool
	Graffiti      *big.Int
	// Data is an arbitrary value the proof is bound to.
	Data *big.Int
}

// ProveReputation builds a reputation proof over the user's current state.
// A user whose state is behind the ledger must transition first.
func (p *Protocol) ProveReputation(ctx context.Context, id *crypto.Identity, req ReputationRequest) (*zkproof.ProofResult, error) {
	st, stateProof, err := p.currentState(id)
	if err != nil {
		return nil, err
	}
	assignment, err := zkproof.NewReputationAssignment(p.cfg, zkproof.ReputationInputs{
		IdentitySecret: id.Secret,
		Control: field.ReputationControlValues{
			EpochKeyControlValues: field.EpochKeyControlValues{
				AttesterID:  p.ledger.AttesterID(),
				Epoch:       st.Epoch,
				Nonce:       req.Nonce,
				RevealNonce: req.RevealNonce,
			},
			ProveGraffiti: req.ProveGraffiti,
			ProveZeroRep:  req.ProveZeroRep,
			ProveMinRep:   req.ProveMinRep,
			ProveMaxRep:   req.ProveMaxRep,
			MinRep:        req.MinRep,
			MaxRep:        req.MaxRep,
		},
		RepData:        st.Data,
		Graffiti:       req.Graffiti,
		StateTreeProof: stateProof,
		Data:           req.Data,
	})
	if err != nil {
		return nil, err
	}
	return p.backend.Prove(ctx, zkproof.CircuitReputation, assignment)
}

// VerifyReputation checks a reputation proof and that it was made against
// a state root this attester's ledger has seen in the proof's epoch.
func (p *Protocol) VerifyReputation(ctx context.Context, proof *zkproof.ProofResult) (*zkproof.ReputationProof, error) {
	signals, err := zkproof.ParseReputationSignals(proof.PublicSignals)
	if err != nil {
		return nil, err
	}
	if err := p.checkContext(signals.AttesterID, signals.Epoch, signals.StateTreeRoot); err != nil {
		return nil, err
	}
	if err := p.backend.Verify(ctx, zkproof.CircuitReputation, proof.Proof, proof.PublicSignals); err != nil {
		return nil, err
	}
	return signals, nil
}

// EpochKeyRequest selects the epoch key a proof is made for.
type EpochKeyRequest struct {
	Nonce       uint64
	RevealNonce bool
	Data        *big.Int
	// Scope, when set, makes the proof a prevent-double-action proof with
	// nullifier hash(scope, secret).
	Scope *big.Int
}

// ProveEpochKey proves control of one of the user's current epoch keys.
func (p *Protocol) ProveEpochKey(ctx context.Context, id *crypto.Identity, req EpochKeyRequest) (*zkproof.ProofResult, error) {
	st, stateProof, err := p.currentState(id)
	if err != nil {
		return nil, err
	}
	in := zkproof.EpochKeyInputs{
		IdentitySecret: id.Secret,
		Control: field.EpochKeyControlValues{
			AttesterID:  p.ledger.AttesterID(),
			Epoch:       st.Epoch,
			Nonce:       req.Nonce,
			RevealNonce: req.RevealNonce,
		},
		RepData:        st.Data,
		StateTreeProof: stateProof,
		Data:           req.Data,
		Scope:          req.Scope,
	}
	if req.Scope != nil {
		assignment, err := zkproof.NewPreventDoubleActionAssignment(p.cfg, in)
		if err != nil {
			return nil, err
		}
		return p.backend.Prove(ctx, zkproof.CircuitPreventDoubleAction, assignment)
	}
	assignment, err := zkproof.NewEpochKeyAssignment(p.cfg, in)
	if err != nil {
		return nil, err
	}
	return p.backend.Prove(ctx, zkproof.CircuitEpochKey, assignment)
}

// VerifyEpochKey checks an epoch key or prevent-double-action proof against
// this attester's ledger.
func (p *Protocol) VerifyEpochKey(ctx context.Context, proof *zkproof.ProofResult) error {
	var (
		ctl  field.EpochKeyControlValues
		root *big.Int
	)
	switch proof.CircuitID {
	case zkproof.CircuitEpochKey:
		s, err := zkproof.ParseEpochKeySignals(proof.PublicSignals)
		if err != nil {
			return err
		}
		ctl, root = s.EpochKeyControlValues, s.StateTreeRoot
	case zkproof.CircuitPreventDoubleAction:
		s, err := zkproof.ParsePreventDoubleActionSignals(proof.PublicSignals)
		if err != nil {
			return err
		}
		ctl, root = s.EpochKeyControlValues, s.StateTreeRoot
	default:
		return fmt.Errorf("%w: %s is not an epoch key proof", unirep.ErrVerification, proof.CircuitID)
	}
	if err := p.checkContext(ctl.AttesterID, ctl.Epoch, root); err != nil {
		return err
	}
	return p.backend.Verify(ctx, proof.CircuitID, proof.Proof, proof.PublicSignals)
}

func (p *Protocol) checkContext(attesterID *big.Int, epoch uint64, stateRoot *big.Int) error {
	if attesterID.Cmp(p.ledger.AttesterID()) != 0 {
		return fmt.Errorf("%w: proof is for attester %s", unirep.ErrVerification, attesterID)
	}
	if epoch > p.ledger.CurrentEpoch() {
		return fmt.Errorf("%w: proof epoch %d is in the future", unirep.ErrVerification, epoch)
	}
	if !p.ledger.StateRootExists(epoch, stateRoot) {
		return fmt.Errorf("%w: unknown state tree root for epoch %d", unirep.ErrVerification, epoch)
	}
	return nil
}

// currentState loads the user's state and proves its leaf in the current
// epoch's state tree.
func (p *Protocol) currentState(id *crypto.Identity) (*userstate.State, *merkle.Proof, error) {
	st, err := p.load(id)
	if err != nil {
		return nil, nil, err
	}
	if current := p.ledger.CurrentEpoch(); st.Epoch != current {
		return nil, nil, fmt.Errorf("%w: state is in epoch %d, ledger in %d; transition first",
			unirep.ErrStaleEpoch, st.Epoch, current)
	}
	leaf, err := hasher.StateTreeLeaf(id.Secret, p.ledger.AttesterID(), st.Epoch, st.Data)
	if err != nil {
		return nil, nil, err
	}
	index, err := p.ledger.StateLeafIndex(st.Epoch, leaf)
	if err != nil {
		return nil, nil, err
	}
	proof, err := p.ledger.ProveInclusion(ledger.StateTree, st.Epoch, index)
	if err != nil {
		return nil, nil, err
	}
	return st, proof, nil
}

func (p *Protocol) proveAndVerify(ctx context.Context, id zkproof.CircuitID, assignment zkproof.Circuit) (*zkproof.ProofResult, error) {
	proof, err := p.backend.Prove(ctx, id, assignment)
	if err != nil {
		return nil, err
	}
	if err := p.backend.Verify(ctx, id, proof.Proof, proof.PublicSignals); err != nil {
		return nil, err
	}
	return proof, nil
}
