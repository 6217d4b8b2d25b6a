package ledger

import (
	"fmt"
	"math/big"

	"github.com/sorag20/Unirep/pkg/merkle"
	"github.com/sorag20/Unirep/pkg/repdata"
	"github.com/sorag20/Unirep/pkg/unirep"
)

// tree returns the requested tree. The epoch is ignored for the history
// tree. Caller holds a lock.
func (l *Ledger) tree(kind TreeKind, epoch uint64) (*merkle.Tree, error) {
	if kind == HistoryTree {
		return l.history, nil
	}
	es, err := l.readable(epoch)
	if err != nil {
		return nil, err
	}
	switch kind {
	case StateTree:
		return es.state, nil
	case EpochTree:
		return es.epoch, nil
	}
	return nil, fmt.Errorf("%w: tree kind %d", unirep.ErrNotFound, int(kind))
}

// Root returns the current root of a tree.
func (l *Ledger) Root(kind TreeKind, epoch uint64) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	t, err := l.tree(kind, epoch)
	if err != nil {
		return nil, err
	}
	return t.Root(), nil
}

// NumLeaves returns the number of leaves of a tree.
func (l *Ledger) NumLeaves(kind TreeKind, epoch uint64) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	t, err := l.tree(kind, epoch)
	if err != nil {
		return 0, err
	}
	return t.NumLeaves(), nil
}

// ProveInclusion returns an inclusion proof for a leaf of a tree.
func (l *Ledger) ProveInclusion(kind TreeKind, epoch, index uint64) (*merkle.Proof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	t, err := l.tree(kind, epoch)
	if err != nil {
		return nil, err
	}
	return t.Prove(index)
}

// StateLeafIndex finds the index of leaf in the state tree of epoch.
func (l *Ledger) StateLeafIndex(epoch uint64, leaf *big.Int) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	es, err := l.readable(epoch)
	if err != nil {
		return 0, err
	}
	index, ok := es.state.IndexOf(leaf)
	if !ok {
		return 0, fmt.Errorf("%w: state leaf in epoch %d", unirep.ErrNotFound, epoch)
	}
	return index, nil
}

// StateRootExists reports whether root was ever the state tree root of epoch.
func (l *Ledger) StateRootExists(epoch uint64, root *big.Int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	es, ok := l.epochs[epoch]
	if !ok {
		return false
	}
	_, exists := es.stateRoots[root.String()]
	return exists
}

// HistoryRootExists reports whether root was ever the history tree root.
func (l *Ledger) HistoryRootExists(root *big.Int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, exists := l.historyRoots[root.String()]
	return exists
}

// HistoryIndex returns the history leaf index of a sealed epoch.
func (l *Ledger) HistoryIndex(epoch uint64) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	index, ok := l.historyIndex[epoch]
	if !ok {
		return 0, fmt.Errorf("%w: epoch %d is not sealed", unirep.ErrNotFound, epoch)
	}
	return index, nil
}

// EpochKeyEntry is the sealed epoch tree entry of one epoch key.
type EpochKeyEntry struct {
	Index uint64
	Delta repdata.Data
	Proof *merkle.Proof
}

// EpochKeyEntry returns the epoch tree entry of epochKey in a sealed epoch.
// It returns ErrNotFound when the key received no attestation.
func (l *Ledger) EpochKeyEntry(epoch uint64, epochKey *big.Int) (*EpochKeyEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	es, err := l.readable(epoch)
	if err != nil {
		return nil, err
	}
	if !es.sealed {
		return nil, fmt.Errorf("%w: epoch %d is not sealed", unirep.ErrNotFound, epoch)
	}
	index, ok := es.epochKeyIndex[epochKey.String()]
	if !ok {
		return nil, fmt.Errorf("%w: epoch key has no attestations", unirep.ErrNotFound)
	}
	proof, err := es.epoch.Prove(index)
	if err != nil {
		return nil, err
	}
	return &EpochKeyEntry{
		Index: index,
		Delta: es.deltas[epochKey.String()].Clone(),
		Proof: proof,
	}, nil
}

// EpochTreeIndex returns the epoch tree position of epochKey in a sealed
// epoch.
func (l *Ledger) EpochTreeIndex(epoch uint64, epochKey *big.Int) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	es, err := l.readable(epoch)
	if err != nil {
		return 0, err
	}
	if !es.sealed {
		return 0, fmt.Errorf("%w: epoch %d is not sealed", unirep.ErrNotFound, epoch)
	}
	index, ok := es.epochKeyIndex[epochKey.String()]
	if !ok {
		return 0, fmt.Errorf("%w: epoch key has no attestations", unirep.ErrNotFound)
	}
	return index, nil
}

// PendingDelta returns the aggregated delta of epochKey in an open epoch.
func (l *Ledger) PendingDelta(epoch uint64, epochKey *big.Int) (repdata.Data, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	es, ok := l.epochs[epoch]
	if !ok {
		return nil, false
	}
	d, ok := es.deltas[epochKey.String()]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}
