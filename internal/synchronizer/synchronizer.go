// Package synchronizer is the single writer of the attester ledgers. It
// replays JSON-lines event logs strictly in order; each event is applied
// completely or rejected, logged and skipped.
//
// Events carry public signals only, not proofs. user_signup and
// user_state_transition lines are applied after the ledger's own checks
// (current epoch, known history root, unused epoch keys) without verifying
// that a proof backs them, so whoever can write to the event directory can
// insert state tree leaves. The event directory must only be writable by
// the synchronizer's operator and the local users it serves.
package synchronizer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sorag20/Unirep/internal/atomicfile"
	"github.com/sorag20/Unirep/internal/ingest"
	"github.com/sorag20/Unirep/internal/ledger"
	"github.com/sorag20/Unirep/pkg/repdata"
	"github.com/sorag20/Unirep/pkg/unirep"
)

const (
	ledgersDir = "ledgers"
	cursorFile = "cursor.json"
)

// Params configures a Synchronizer.
type Params struct {
	Config unirep.Config
	// CheckpointDir holds the ledgers and the log cursor. Empty disables
	// checkpointing.
	CheckpointDir string
	Registerer    prometheus.Registerer
	Logger        *zap.Logger
}

// Synchronizer applies ledger events to a registry.
type Synchronizer struct {
	registry *ledger.Registry
	dir      string
	log      *zap.Logger
	metrics  *metrics

	// mu serializes writers; readers go through the registry.
	mu      sync.Mutex
	cursors map[string]int64
}

// New restores the registry and log cursor from p.CheckpointDir, or starts
// empty when there is no checkpoint.
func New(p Params) (*Synchronizer, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("sync")

	m, err := newMetrics(p.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	s := &Synchronizer{
		dir:     p.CheckpointDir,
		log:     log,
		metrics: m,
		cursors: make(map[string]int64),
	}
	if s.dir == "" {
		s.registry = ledger.NewRegistry(p.Config, log)
		return s, nil
	}

	s.registry, err = ledger.LoadRegistry(filepath.Join(s.dir, ledgersDir), p.Config, log)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, cursorFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read cursor: %w", err)
	default:
		if err := json.Unmarshal(data, &s.cursors); err != nil {
			return nil, fmt.Errorf("failed to parse cursor: %w", err)
		}
	}

	attesters := s.registry.Attesters()
	for _, id := range attesters {
		l, err := s.registry.Get(id)
		if err != nil {
			return nil, err
		}
		s.metrics.epoch.WithLabelValues(id.String()).Set(float64(l.CurrentEpoch()))
	}
	s.metrics.attesters.Set(float64(len(attesters)))
	log.Info("restored checkpoint", zap.String("dir", s.dir), zap.Int("attesters", len(attesters)))
	return s, nil
}

// LoadCheckpoint reads the ledgers saved under a checkpoint directory
// without taking over the log cursor. An empty directory yields an empty
// registry.
func LoadCheckpoint(dir string, cfg unirep.Config, log *zap.Logger) (*ledger.Registry, error) {
	return ledger.LoadRegistry(filepath.Join(dir, ledgersDir), cfg, log)
}

// Registry returns the ledgers for read access.
func (s *Synchronizer) Registry() *ledger.Registry {
	return s.registry
}

// Apply applies one event.
func (s *Synchronizer) Apply(ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ev)
}

func (s *Synchronizer) apply(ev *Event) error {
	err := s.dispatch(ev)
	result := resultApplied
	if err != nil {
		result = resultRejected
	}
	s.metrics.events.WithLabelValues(string(ev.Type), result).Inc()
	return err
}

func (s *Synchronizer) dispatch(ev *Event) error {
	attester := ev.AttesterID.big()

	if ev.Type == EventAttesterSignUp {
		l, err := s.registry.SignUpAttester(attester, ev.Epoch)
		if err != nil {
			return err
		}
		s.metrics.attesters.Inc()
		s.metrics.epoch.WithLabelValues(attester.String()).Set(float64(l.CurrentEpoch()))
		s.log.Info("attester signed up",
			zap.Stringer("attester", attester),
			zap.Uint64("start_epoch", ev.Epoch),
			zap.Uint64("epoch_length", ev.EpochLength),
		)
		return nil
	}

	l, err := s.registry.Get(attester)
	if err != nil {
		return err
	}

	switch ev.Type {
	case EventUserSignUp:
		_, err := l.SignUp(ev.Epoch, ev.IdentityCommitment.big(), ev.StateTreeLeaf.big())
		return err

	case EventAttestation:
		return s.attest(l, ev)

	case EventUserStateTransition:
		keys := make([]*big.Int, len(ev.EpochKeys))
		for i, k := range ev.EpochKeys {
			keys[i] = k.big()
		}
		_, err := l.ApplyTransition(ev.ToEpoch, ev.HistoryTreeRoot.big(), ev.StateTreeLeaf.big(), keys)
		return err

	case EventEpochEnded:
		if _, err := l.SealEpoch(ev.Epoch); err != nil {
			return err
		}
		s.metrics.epoch.WithLabelValues(attester.String()).Set(float64(l.CurrentEpoch()))
		return nil
	}
	return fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, ev.Type)
}

// attest folds an attestation into the ledger. The legacy shape changes the
// positive and negative reputation fields; both values are checked before
// either is applied.
func (s *Synchronizer) attest(l *ledger.Ledger, ev *Event) error {
	type change struct {
		field uint
		value *big.Int
	}
	var changes []change
	if ev.FieldIndex != nil {
		changes = append(changes, change{*ev.FieldIndex, ev.Change.big()})
	} else {
		if ev.PosRep != nil {
			changes = append(changes, change{repdata.PosRepField, ev.PosRep.big()})
		}
		if ev.NegRep != nil {
			changes = append(changes, change{repdata.NegRepField, ev.NegRep.big()})
		}
	}

	if ev.Epoch != l.CurrentEpoch() {
		return fmt.Errorf("%w: got %d, current %d", ledger.ErrEpochMismatch, ev.Epoch, l.CurrentEpoch())
	}
	for _, c := range changes {
		if c.field >= l.Config().FieldCount {
			return fmt.Errorf("%w: field index %d", unirep.ErrRange, c.field)
		}
		if err := unirep.CheckField("change", c.value); err != nil {
			return err
		}
	}
	for _, c := range changes {
		if err := l.Attest(ev.Epoch, ev.EpochKey.big(), c.field, c.value); err != nil {
			return err
		}
	}
	return nil
}

// ReadLog applies the complete lines of the log at path that were not read
// before. A trailing line without a newline is left for the next call.
// Rejected lines are logged and counted; only I/O failures are returned.
func (s *Synchronizer) ReadLog(path string) (applied, rejected int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	name := filepath.Base(path)
	offset := s.cursors[name]
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, 0, err
	}

	log := s.log.With(zap.String("log", name))
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return applied, rejected, err
		}
		lineNo := offset
		offset += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		ev, err := DecodeEvent(line)
		if err == nil {
			err = s.apply(ev)
		}
		if err != nil {
			rejected++
			log.Warn("event rejected", zap.Int64("offset", lineNo), zap.Error(err))
			continue
		}
		applied++
	}

	if offset == s.cursors[name] {
		return applied, rejected, nil
	}
	s.cursors[name] = offset
	if s.dir != "" {
		if err := s.checkpoint(); err != nil {
			return applied, rejected, err
		}
	}
	log.Debug("log read", zap.Int("applied", applied), zap.Int("rejected", rejected), zap.Int64("offset", offset))
	return applied, rejected, nil
}

// Checkpoint saves the ledgers and the log cursor.
func (s *Synchronizer) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir == "" {
		return nil
	}
	return s.checkpoint()
}

func (s *Synchronizer) checkpoint() error {
	if err := s.registry.Save(filepath.Join(s.dir, ledgersDir)); err != nil {
		return err
	}
	data, err := json.Marshal(s.cursors)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(filepath.Join(s.dir, cursorFile), data, 0600)
}

// Run replays paths in order and then follows file events until ctx ends.
func (s *Synchronizer) Run(ctx context.Context, paths []string, events <-chan ingest.FileEvent) error {
	for _, p := range paths {
		if err := s.readLogged(p); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return s.Checkpoint()
		case ev, ok := <-events:
			if !ok {
				return s.Checkpoint()
			}
			if ev.Op == ingest.OpDelete {
				continue
			}
			if err := s.readLogged(ev.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.log.Error("failed to read log", zap.String("path", ev.Path), zap.Error(err))
			}
		}
	}
}

func (s *Synchronizer) readLogged(path string) error {
	applied, rejected, err := s.ReadLog(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if applied+rejected > 0 {
		s.log.Info("log ingested",
			zap.String("log", filepath.Base(path)),
			zap.Int("applied", applied),
			zap.Int("rejected", rejected),
		)
	}
	return nil
}
