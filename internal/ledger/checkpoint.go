package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/sorag20/Unirep/internal/atomicfile"
	"github.com/sorag20/Unirep/pkg/merkle"
	"github.com/sorag20/Unirep/pkg/repdata"
)

// ErrUnsupportedCheckpoint is returned for a checkpoint written by an
// unknown format version.
var ErrUnsupportedCheckpoint = errors.New("ledger: unsupported checkpoint version")

const checkpointVersion = 1

type checkpointMeta struct {
	Version      int         `json:"version"`
	AttesterID   string      `json:"attester_id"`
	CurrentEpoch uint64      `json:"current_epoch"`
	Epochs       []epochMeta `json:"epochs"`
	Commitments  []string    `json:"commitments"`
	Transitioned []string    `json:"transitioned"`
	// HistoryIndex maps sealed epochs to their history leaf.
	HistoryIndex map[uint64]uint64 `json:"history_index"`
}

type epochMeta struct {
	Epoch         uint64              `json:"epoch"`
	Sealed        bool                `json:"sealed"`
	Nonce         uint64              `json:"nonce"`
	StateRoots    []string            `json:"state_roots"`
	Order         []string            `json:"order"`
	Deltas        map[string][]string `json:"deltas"`
	EpochKeyIndex map[string]uint64   `json:"epoch_key_index"`
}

func treePath(dir, kind string, epoch uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d.tree", kind, epoch))
}

// Save writes a checkpoint of the ledger into dir.
func (l *Ledger) Save(dir string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	meta := checkpointMeta{
		Version:      checkpointVersion,
		AttesterID:   l.attesterID.String(),
		CurrentEpoch: l.currentEpoch,
		HistoryIndex: l.historyIndex,
	}
	for c := range l.commitments {
		meta.Commitments = append(meta.Commitments, c)
	}
	for k := range l.transitioned {
		meta.Transitioned = append(meta.Transitioned, k)
	}

	for epoch, es := range l.epochs {
		em := epochMeta{
			Epoch:         epoch,
			Sealed:        es.sealed,
			Nonce:         es.nonce,
			Deltas:        make(map[string][]string, len(es.deltas)),
			EpochKeyIndex: es.epochKeyIndex,
		}
		for r := range es.stateRoots {
			em.StateRoots = append(em.StateRoots, r)
		}
		for _, k := range es.order {
			em.Order = append(em.Order, k.String())
		}
		for k, d := range es.deltas {
			em.Deltas[k] = bigStrings(d)
		}
		meta.Epochs = append(meta.Epochs, em)

		if err := es.state.SaveFile(treePath(dir, "state", epoch)); err != nil {
			return fmt.Errorf("save state tree %d: %w", epoch, err)
		}
		if err := es.epoch.SaveFile(treePath(dir, "epoch", epoch)); err != nil {
			return fmt.Errorf("save epoch tree %d: %w", epoch, err)
		}
	}
	if err := l.history.SaveFile(filepath.Join(dir, "history.tree")); err != nil {
		return fmt.Errorf("save history tree: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	// meta goes last so a crash leaves the previous checkpoint readable
	return atomicfile.WriteFile(filepath.Join(dir, "ledger.json"), data, 0600)
}

// Load restores a ledger from a checkpoint written by Save.
// p.AttesterID and p.StartEpoch are taken from the checkpoint.
func Load(dir string, p Params) (*Ledger, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "ledger.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var meta checkpointMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if meta.Version != checkpointVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCheckpoint, meta.Version)
	}

	attester, ok := new(big.Int).SetString(meta.AttesterID, 10)
	if !ok {
		return nil, fmt.Errorf("decode checkpoint: bad attester id %q", meta.AttesterID)
	}
	p.AttesterID = attester
	p.StartEpoch = meta.CurrentEpoch

	l, err := New(p)
	if err != nil {
		return nil, err
	}

	loadedHistory, err := merkle.LoadFile(filepath.Join(dir, "history.tree"))
	if err != nil {
		return nil, fmt.Errorf("load history tree: %w", err)
	}
	// replay to recover every root the history tree ever had
	for _, leaf := range loadedHistory.Leaves() {
		if _, err := l.history.Insert(leaf); err != nil {
			return nil, fmt.Errorf("replay history tree: %w", err)
		}
		l.historyRoots[l.history.Root().String()] = struct{}{}
	}
	for epoch, index := range meta.HistoryIndex {
		l.historyIndex[epoch] = index
	}
	for _, c := range meta.Commitments {
		l.commitments[c] = struct{}{}
	}
	for _, k := range meta.Transitioned {
		l.transitioned[k] = struct{}{}
	}

	for _, em := range meta.Epochs {
		es, err := l.loadEpoch(dir, em)
		if err != nil {
			return nil, fmt.Errorf("load epoch %d: %w", em.Epoch, err)
		}
		l.epochs[em.Epoch] = es
	}
	return l, nil
}

func (l *Ledger) loadEpoch(dir string, em epochMeta) (*epochState, error) {
	state, err := merkle.LoadFile(treePath(dir, "state", em.Epoch))
	if err != nil {
		return nil, err
	}
	ep, err := merkle.LoadFile(treePath(dir, "epoch", em.Epoch))
	if err != nil {
		return nil, err
	}

	es := &epochState{
		state:         state,
		epoch:         ep,
		stateRoots:    make(map[string]struct{}, len(em.StateRoots)),
		deltas:        make(map[string]repdata.Data, len(em.Deltas)),
		nonce:         em.Nonce,
		epochKeyIndex: em.EpochKeyIndex,
		sealed:        em.Sealed,
	}
	if es.epochKeyIndex == nil {
		es.epochKeyIndex = make(map[string]uint64)
	}
	for _, r := range em.StateRoots {
		es.stateRoots[r] = struct{}{}
	}
	for _, k := range em.Order {
		v, ok := new(big.Int).SetString(k, 10)
		if !ok {
			return nil, fmt.Errorf("bad epoch key %q", k)
		}
		es.order = append(es.order, v)
	}
	for k, values := range em.Deltas {
		d, err := parseBigStrings(values)
		if err != nil {
			return nil, err
		}
		if err := d.Validate(l.cfg); err != nil {
			return nil, err
		}
		es.deltas[k] = d
	}
	return es, nil
}

func bigStrings(d repdata.Data) []string {
	out := make([]string, len(d))
	for i, v := range d {
		out[i] = v.String()
	}
	return out
}

func parseBigStrings(values []string) (repdata.Data, error) {
	d := make(repdata.Data, len(values))
	for i, s := range values {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("bad field element %q", s)
		}
		d[i] = v
	}
	return d, nil
}
