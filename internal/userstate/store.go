// Package userstate persists the reputation data a user holds with each
// attester. The ledger only stores commitments, so losing this file means
// losing the ability to prove or transition.
//
// Files are encrypted with AES-256-GCM under a key derived from the
// identity secret, and are named by a hash that does not reveal the
// identity commitment.
package userstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/sorag20/Unirep/internal/atomicfile"
	"github.com/sorag20/Unirep/internal/crypto"
	"github.com/sorag20/Unirep/pkg/hasher"
	"github.com/sorag20/Unirep/pkg/repdata"
	"github.com/sorag20/Unirep/pkg/unirep"
)

// ErrUnsupportedFormatVersion is returned when loading a file with an unknown format version.
var ErrUnsupportedFormatVersion = errors.New("userstate: unsupported format version")

const formatVersion = 2

// State is what a user holds with one attester: the data committed in the
// state tree leaf of Epoch.
type State struct {
	AttesterID *big.Int
	Epoch      uint64
	Data       repdata.Data
}

type stateRecord struct {
	Epoch uint64   `json:"epoch"`
	Data  []string `json:"data"`
}

// fileState holds the committed state and, after a sign-up or transition
// was submitted, the state whose leaf the ledger has not included yet.
type fileState struct {
	Version    int          `json:"version"`
	AttesterID string       `json:"attester_id"`
	Committed  *stateRecord `json:"committed,omitempty"`
	Pending    *stateRecord `json:"pending,omitempty"`
}

// Store keeps one encrypted file per identity and attester under a
// directory.
type Store struct {
	dir string
	cfg unirep.Config
}

// NewStore returns a store rooted at dir. The directory is created on the
// first save.
func NewStore(dir string, cfg unirep.Config) *Store {
	return &Store{dir: dir, cfg: cfg}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(secret, attesterID *big.Int) (string, error) {
	name, err := hasher.Hash(secret, attesterID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, crypto.EncodeField(name)+".state"), nil
}

func key(secret, attesterID *big.Int) ([]byte, error) {
	return crypto.DeriveKey(secret, "userstate:"+attesterID.String())
}

// Save commits st and drops any pending state for the same attester.
func (s *Store) Save(secret *big.Int, st *State) error {
	rec, err := s.record(st)
	if err != nil {
		return err
	}
	return s.write(secret, st.AttesterID, &fileState{Committed: rec})
}

// SavePending records st as submitted but not yet in the ledger. The
// committed state is kept until Promote.
func (s *Store) SavePending(secret *big.Int, st *State) error {
	rec, err := s.record(st)
	if err != nil {
		return err
	}
	fs, err := s.read(secret, st.AttesterID)
	if err != nil {
		return err
	}
	if fs == nil {
		fs = &fileState{}
	}
	fs.Pending = rec
	return s.write(secret, st.AttesterID, fs)
}

// Promote makes the pending state the committed one.
func (s *Store) Promote(secret, attesterID *big.Int) error {
	fs, err := s.read(secret, attesterID)
	if err != nil {
		return err
	}
	if fs == nil || fs.Pending == nil {
		return fmt.Errorf("%w: no pending state for attester %s", unirep.ErrNotFound, attesterID)
	}
	return s.write(secret, attesterID, &fileState{Committed: fs.Pending})
}

// DropPending discards the pending state. The file is removed when nothing
// was ever committed.
func (s *Store) DropPending(secret, attesterID *big.Int) error {
	fs, err := s.read(secret, attesterID)
	if err != nil || fs == nil || fs.Pending == nil {
		return err
	}
	if fs.Committed == nil {
		return s.Delete(secret, attesterID)
	}
	fs.Pending = nil
	return s.write(secret, attesterID, fs)
}

// Load returns the committed state for attesterID. A missing file or one
// holding only a pending state wraps unirep.ErrNotFound; a file that does
// not decrypt under secret is an error as well.
func (s *Store) Load(secret, attesterID *big.Int) (*State, error) {
	fs, err := s.read(secret, attesterID)
	if err != nil {
		return nil, err
	}
	if fs == nil || fs.Committed == nil {
		return nil, fmt.Errorf("%w: no state for attester %s", unirep.ErrNotFound, attesterID)
	}
	return s.state(attesterID, fs.Committed)
}

// LoadPending returns the pending state for attesterID, wrapping
// unirep.ErrNotFound when there is none.
func (s *Store) LoadPending(secret, attesterID *big.Int) (*State, error) {
	fs, err := s.read(secret, attesterID)
	if err != nil {
		return nil, err
	}
	if fs == nil || fs.Pending == nil {
		return nil, fmt.Errorf("%w: no pending state for attester %s", unirep.ErrNotFound, attesterID)
	}
	return s.state(attesterID, fs.Pending)
}

// Delete removes the state for attesterID. Deleting a missing state is not
// an error.
func (s *Store) Delete(secret, attesterID *big.Int) error {
	path, err := s.path(secret, attesterID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) record(st *State) (*stateRecord, error) {
	if err := st.Data.Validate(s.cfg); err != nil {
		return nil, err
	}
	rec := &stateRecord{Epoch: st.Epoch, Data: make([]string, len(st.Data))}
	for i, v := range st.Data {
		rec.Data[i] = v.String()
	}
	return rec, nil
}

func (s *Store) state(attesterID *big.Int, rec *stateRecord) (*State, error) {
	st := &State{
		AttesterID: new(big.Int).Set(attesterID),
		Epoch:      rec.Epoch,
		Data:       make(repdata.Data, len(rec.Data)),
	}
	for i, v := range rec.Data {
		x, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("failed to parse data[%d]", i)
		}
		st.Data[i] = x
	}
	if err := st.Data.Validate(s.cfg); err != nil {
		return nil, err
	}
	return st, nil
}

// write encrypts fs under secret and replaces the file atomically.
func (s *Store) write(secret, attesterID *big.Int, fs *fileState) error {
	path, err := s.path(secret, attesterID)
	if err != nil {
		return err
	}
	k, err := key(secret, attesterID)
	if err != nil {
		return err
	}

	fs.Version = formatVersion
	fs.AttesterID = attesterID.String()
	plaintext, err := json.Marshal(fs)
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	sealed, err := crypto.Seal(k, plaintext)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(path, sealed, 0600)
}

// read returns nil without error when there is no file.
func (s *Store) read(secret, attesterID *big.Int) (*fileState, error) {
	path, err := s.path(secret, attesterID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	k, err := key(secret, attesterID)
	if err != nil {
		return nil, err
	}
	plaintext, err := crypto.Open(k, data)
	if err != nil {
		return nil, err
	}

	var fs fileState
	if err := json.Unmarshal(plaintext, &fs); err != nil {
		return nil, fmt.Errorf("failed to deserialize state: %w", err)
	}
	if fs.Version != formatVersion {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedFormatVersion, fs.Version, formatVersion)
	}
	return &fs, nil
}
