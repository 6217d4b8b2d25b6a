package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sorag20/Unirep/pkg/unirep"
)

var (
	// ErrAttesterNotSignedUp is returned for an event from an unknown attester.
	ErrAttesterNotSignedUp = errors.New("ledger: attester not signed up")

	// ErrAttesterAlreadySignedUp is returned for a duplicate attester sign-up.
	ErrAttesterAlreadySignedUp = errors.New("ledger: attester already signed up")
)

// Registry holds the ledgers of every signed-up attester.
type Registry struct {
	mu      sync.RWMutex
	cfg     unirep.Config
	log     *zap.Logger
	ledgers map[string]*Ledger
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg unirep.Config, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		cfg:     cfg,
		log:     log,
		ledgers: make(map[string]*Ledger),
	}
}

// Config returns the protocol parameters shared by every ledger.
func (r *Registry) Config() unirep.Config {
	return r.cfg
}

// SignUpAttester creates the ledger of a new attester.
func (r *Registry) SignUpAttester(attesterID *big.Int, startEpoch uint64) (*Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := attesterID.String()
	if _, dup := r.ledgers[key]; dup {
		return nil, fmt.Errorf("%w: %s", ErrAttesterAlreadySignedUp, key)
	}
	l, err := New(Params{
		Config:     r.cfg,
		AttesterID: attesterID,
		StartEpoch: startEpoch,
		Logger:     r.log,
	})
	if err != nil {
		return nil, err
	}
	r.ledgers[key] = l
	return l, nil
}

// Get returns the ledger of an attester.
func (r *Registry) Get(attesterID *big.Int) (*Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.ledgers[attesterID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAttesterNotSignedUp, attesterID)
	}
	return l, nil
}

// Attesters returns the signed-up attester ids in ascending order.
func (r *Registry) Attesters() []*big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*big.Int, 0, len(r.ledgers))
	for _, l := range r.ledgers {
		out = append(out, l.AttesterID())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Save checkpoints every ledger under dir, one subdirectory per attester.
func (r *Registry) Save(dir string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for key, l := range r.ledgers {
		if err := l.Save(filepath.Join(dir, key)); err != nil {
			return fmt.Errorf("save attester %s: %w", key, err)
		}
	}
	return nil
}

// LoadRegistry restores every ledger checkpointed under dir. A missing
// directory yields an empty registry.
func LoadRegistry(dir string, cfg unirep.Config, log *zap.Logger) (*Registry, error) {
	r := NewRegistry(cfg, log)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		l, err := Load(filepath.Join(dir, e.Name()), Params{Config: cfg, Logger: r.log})
		if err != nil {
			return nil, fmt.Errorf("load attester %s: %w", e.Name(), err)
		}
		r.ledgers[l.AttesterID().String()] = l
	}
	return r, nil
}
