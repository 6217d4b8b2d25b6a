// Package ledger maintains the three linked trees of one attester: a state
// tree and an epoch tree per epoch, and a single history tree.
//
// A Ledger has one writer (the synchronizer) and any number of readers.
// Writers hold the write lock for the whole mutation, readers hold the read
// lock and receive copies, so a reader never observes a partial write.
// Sealing an epoch is transactional: the epoch tree and the history leaf
// are built on copies and published together, or not at all.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"github.com/sorag20/Unirep/pkg/hasher"
	"github.com/sorag20/Unirep/pkg/merkle"
	"github.com/sorag20/Unirep/pkg/repdata"
	"github.com/sorag20/Unirep/pkg/unirep"
)

var (
	// ErrEpochMismatch is returned when an event targets an epoch other than
	// the current one.
	ErrEpochMismatch = errors.New("ledger: epoch does not match current epoch")

	// ErrUserAlreadySignedUp is returned for a duplicate identity commitment.
	ErrUserAlreadySignedUp = errors.New("ledger: user already signed up")

	// ErrAlreadyTransitioned is returned when a transition reuses an epoch
	// key that an earlier transition already emitted.
	ErrAlreadyTransitioned = errors.New("ledger: epoch key already transitioned")

	// ErrUnclaimedAttestations is returned when a transition emits the plain
	// epoch key of a slot that has an epoch tree entry, which means the
	// user left out attested reputation.
	ErrUnclaimedAttestations = errors.New("ledger: transition skips attested epoch key")
)

// TreeKind selects one of the three trees.
type TreeKind int

const (
	StateTree TreeKind = iota
	EpochTree
	HistoryTree
)

// String returns the tree name used in logs and RPC.
func (k TreeKind) String() string {
	switch k {
	case StateTree:
		return "state"
	case EpochTree:
		return "epoch"
	case HistoryTree:
		return "history"
	default:
		return fmt.Sprintf("TreeKind(%d)", int(k))
	}
}

// ParseTreeKind is the inverse of TreeKind.String.
func ParseTreeKind(s string) (TreeKind, error) {
	switch s {
	case "state":
		return StateTree, nil
	case "epoch":
		return EpochTree, nil
	case "history":
		return HistoryTree, nil
	}
	return 0, fmt.Errorf("%w: unknown tree %q", unirep.ErrNotFound, s)
}

// epochState is everything the ledger tracks for a single epoch.
type epochState struct {
	state      *merkle.Tree
	epoch      *merkle.Tree
	stateRoots map[string]struct{}

	// pending attestations, aggregated per epoch key
	deltas map[string]repdata.Data
	order  []*big.Int
	nonce  uint64

	epochKeyIndex map[string]uint64
	sealed        bool
}

// Params configures a Ledger.
type Params struct {
	Config     unirep.Config
	AttesterID *big.Int
	StartEpoch uint64
	Logger     *zap.Logger
}

// Ledger holds the trees of one attester.
type Ledger struct {
	mu sync.RWMutex

	cfg        unirep.Config
	attesterID *big.Int
	log        *zap.Logger

	currentEpoch uint64
	epochs       map[uint64]*epochState

	history      *merkle.Tree
	historyIndex map[uint64]uint64
	historyRoots map[string]struct{}

	commitments  map[string]struct{}
	transitioned map[string]struct{}
}

// New returns a Ledger whose first open epoch is p.StartEpoch.
func New(p Params) (*Ledger, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	if err := unirep.CheckBits("attester_id", p.AttesterID, unirep.AttesterIDBits); err != nil {
		return nil, err
	}
	history, err := merkle.New(p.Config.HistoryTreeDepth)
	if err != nil {
		return nil, err
	}

	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}

	l := &Ledger{
		cfg:          p.Config,
		attesterID:   new(big.Int).Set(p.AttesterID),
		log:          log.With(zap.Stringer("attester", p.AttesterID)),
		currentEpoch: p.StartEpoch,
		epochs:       make(map[uint64]*epochState),
		history:      history,
		historyIndex: make(map[uint64]uint64),
		historyRoots: map[string]struct{}{history.Root().String(): {}},
		commitments:  make(map[string]struct{}),
		transitioned: make(map[string]struct{}),
	}
	if _, err := l.openEpoch(p.StartEpoch); err != nil {
		return nil, err
	}
	return l, nil
}

// AttesterID returns the attester this ledger belongs to.
func (l *Ledger) AttesterID() *big.Int {
	return new(big.Int).Set(l.attesterID)
}

// Config returns the protocol parameters of the ledger.
func (l *Ledger) Config() unirep.Config {
	return l.cfg
}

// CurrentEpoch returns the epoch accepting writes.
func (l *Ledger) CurrentEpoch() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.currentEpoch
}

func (l *Ledger) openEpoch(epoch uint64) (*epochState, error) {
	state, err := merkle.New(l.cfg.StateTreeDepth)
	if err != nil {
		return nil, err
	}
	ep, err := merkle.New(l.cfg.EpochTreeDepth)
	if err != nil {
		return nil, err
	}
	es := &epochState{
		state:         state,
		epoch:         ep,
		stateRoots:    map[string]struct{}{state.Root().String(): {}},
		deltas:        make(map[string]repdata.Data),
		epochKeyIndex: make(map[string]uint64),
	}
	l.epochs[epoch] = es
	return es, nil
}

// writable returns the state of an open epoch. Caller holds the write lock.
func (l *Ledger) writable(epoch uint64) (*epochState, error) {
	es, ok := l.epochs[epoch]
	if !ok {
		return nil, fmt.Errorf("%w: epoch %d", unirep.ErrNotFound, epoch)
	}
	if es.sealed {
		return nil, fmt.Errorf("%w: epoch %d", unirep.ErrStaleEpoch, epoch)
	}
	return es, nil
}

// readable returns the state of a known epoch. Caller holds a lock.
func (l *Ledger) readable(epoch uint64) (*epochState, error) {
	es, ok := l.epochs[epoch]
	if !ok {
		return nil, fmt.Errorf("%w: epoch %d", unirep.ErrNotFound, epoch)
	}
	return es, nil
}

// InsertStateLeaf appends leaf to the state tree of epoch.
func (l *Ledger) InsertStateLeaf(epoch uint64, leaf *big.Int) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	es, err := l.writable(epoch)
	if err != nil {
		return 0, err
	}
	return l.insertStateLeaf(es, leaf)
}

func (l *Ledger) insertStateLeaf(es *epochState, leaf *big.Int) (uint64, error) {
	index, err := es.state.Insert(leaf)
	if err != nil {
		return 0, err
	}
	es.stateRoots[es.state.Root().String()] = struct{}{}
	return index, nil
}

// InsertEpochLeaf appends leaf to the epoch tree of an open epoch.
func (l *Ledger) InsertEpochLeaf(epoch uint64, leaf *big.Int) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	es, err := l.writable(epoch)
	if err != nil {
		return 0, err
	}
	return es.epoch.Insert(leaf)
}

// SignUp inserts the initial state leaf of a new user in the current epoch.
func (l *Ledger) SignUp(epoch uint64, identityCommitment, leaf *big.Int) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if epoch != l.currentEpoch {
		return 0, fmt.Errorf("%w: got %d, current %d", ErrEpochMismatch, epoch, l.currentEpoch)
	}
	key := identityCommitment.String()
	if _, dup := l.commitments[key]; dup {
		return 0, ErrUserAlreadySignedUp
	}
	es, err := l.writable(epoch)
	if err != nil {
		return 0, err
	}
	index, err := l.insertStateLeaf(es, leaf)
	if err != nil {
		return 0, err
	}
	l.commitments[key] = struct{}{}
	return index, nil
}

// IsSignedUp reports whether identityCommitment has signed up.
func (l *Ledger) IsSignedUp(identityCommitment *big.Int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.commitments[identityCommitment.String()]
	return ok
}

// Attest folds one attestation into the pending delta of epochKey.
func (l *Ledger) Attest(epoch uint64, epochKey *big.Int, fieldIndex uint, change *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if epoch != l.currentEpoch {
		return fmt.Errorf("%w: got %d, current %d", ErrEpochMismatch, epoch, l.currentEpoch)
	}
	es, err := l.writable(epoch)
	if err != nil {
		return err
	}
	if err := unirep.CheckField("epoch_key", epochKey); err != nil {
		return err
	}

	key := epochKey.String()
	delta, ok := es.deltas[key]
	if !ok {
		delta = repdata.New(l.cfg)
	} else {
		delta = delta.Clone()
	}
	nonce := new(big.Int).SetUint64(es.nonce)
	if err := repdata.Accumulate(l.cfg, delta, fieldIndex, change, nonce); err != nil {
		return err
	}

	if !ok {
		es.order = append(es.order, new(big.Int).Set(epochKey))
	}
	es.deltas[key] = delta
	es.nonce++
	return nil
}

// SealResult describes a sealed epoch.
type SealResult struct {
	Epoch        uint64
	StateRoot    *big.Int
	EpochRoot    *big.Int
	HistoryLeaf  *big.Int
	HistoryIndex uint64
	HistoryRoot  *big.Int
	NumEpochKeys int
}

// SealEpoch finalizes the current epoch and opens the next one.
//
// The epoch tree receives one leaf hash(epochKey, delta...) per attested
// epoch key in first-attestation order, then hash(stateRoot, epochRoot) is
// appended to the history tree. If any step fails nothing is published.
func (l *Ledger) SealEpoch(epoch uint64) (*SealResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if epoch != l.currentEpoch {
		return nil, fmt.Errorf("%w: got %d, current %d", ErrEpochMismatch, epoch, l.currentEpoch)
	}
	es, err := l.writable(epoch)
	if err != nil {
		return nil, err
	}

	epochTree := es.epoch.Clone()
	keyIndex := make(map[string]uint64, len(es.order))
	for _, epk := range es.order {
		delta := es.deltas[epk.String()]
		// a zero delta has nothing to claim; the transition treats its
		// slot as empty
		if delta.IsZero() {
			continue
		}
		leaf, err := hasher.EpochTreeLeaf(epk, delta)
		if err != nil {
			return nil, err
		}
		index, err := epochTree.Insert(leaf)
		if err != nil {
			return nil, fmt.Errorf("build epoch tree: %w", err)
		}
		keyIndex[epk.String()] = index
	}

	stateRoot := es.state.Root()
	epochRoot := epochTree.Root()
	historyLeaf, err := hasher.HistoryTreeLeaf(stateRoot, epochRoot)
	if err != nil {
		return nil, err
	}
	history := l.history.Clone()
	historyIndex, err := history.Insert(historyLeaf)
	if err != nil {
		return nil, fmt.Errorf("append history leaf: %w", err)
	}

	next := l.currentEpoch + 1
	if _, err := l.openEpoch(next); err != nil {
		return nil, err
	}

	// publish
	es.epoch = epochTree
	es.epochKeyIndex = keyIndex
	es.sealed = true
	l.history = history
	l.historyIndex[epoch] = historyIndex
	l.historyRoots[history.Root().String()] = struct{}{}
	l.currentEpoch = next

	l.log.Info("epoch sealed",
		zap.Uint64("epoch", epoch),
		zap.Int("epoch_keys", len(keyIndex)),
		zap.Uint64("history_index", historyIndex),
		zap.Stringer("history_root", history.Root()),
	)

	return &SealResult{
		Epoch:        epoch,
		StateRoot:    stateRoot,
		EpochRoot:    epochRoot,
		HistoryLeaf:  historyLeaf,
		HistoryIndex: historyIndex,
		HistoryRoot:  history.Root(),
		NumEpochKeys: len(keyIndex),
	}, nil
}

// IsSealed reports whether epoch has been sealed.
func (l *Ledger) IsSealed(epoch uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	es, ok := l.epochs[epoch]
	return ok && es.sealed
}

// checkTransitionKeys rejects epoch keys that were already consumed or that
// still carry an attestation in a sealed epoch. The caller holds l.mu.
func (l *Ledger) checkTransitionKeys(epochKeys []*big.Int) error {
	for _, k := range epochKeys {
		if _, dup := l.transitioned[k.String()]; dup {
			return fmt.Errorf("%w: %s", ErrAlreadyTransitioned, k)
		}
		for epoch, es := range l.epochs {
			if _, attested := es.epochKeyIndex[k.String()]; es.sealed && attested {
				return fmt.Errorf("%w: epoch %d", ErrUnclaimedAttestations, epoch)
			}
		}
	}
	return nil
}

// ApplyTransition records a user state transition: the emitted epoch keys
// are consumed and the new leaf is inserted into the state tree of toEpoch.
func (l *Ledger) ApplyTransition(toEpoch uint64, historyRoot, leaf *big.Int, epochKeys []*big.Int) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if toEpoch != l.currentEpoch {
		return 0, fmt.Errorf("%w: got %d, current %d", ErrEpochMismatch, toEpoch, l.currentEpoch)
	}
	if _, ok := l.historyRoots[historyRoot.String()]; !ok {
		return 0, fmt.Errorf("%w: unknown history root", unirep.ErrNotFound)
	}
	if err := l.checkTransitionKeys(epochKeys); err != nil {
		return 0, err
	}
	es, err := l.writable(toEpoch)
	if err != nil {
		return 0, err
	}
	index, err := l.insertStateLeaf(es, leaf)
	if err != nil {
		return 0, err
	}
	for _, k := range epochKeys {
		l.transitioned[k.String()] = struct{}{}
	}
	return index, nil
}
