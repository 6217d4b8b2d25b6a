package synchronizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
)

// ErrMalformedEvent is returned for a log line that is not a known event.
var ErrMalformedEvent = errors.New("synchronizer: malformed event")

// EventType discriminates ledger events.
type EventType string

const (
	EventAttesterSignUp      EventType = "attester_signup"
	EventUserSignUp          EventType = "user_signup"
	EventAttestation         EventType = "attestation"
	EventUserStateTransition EventType = "user_state_transition"
	EventEpochEnded          EventType = "epoch_ended"
)

// Int is a field element in an event. It decodes from a JSON number or a
// string in decimal or 0x-prefixed hex.
type Int struct {
	big.Int
}

// NewInt returns x as an Int.
func NewInt(x int64) *Int {
	v := new(Int)
	v.SetInt64(x)
	return v
}

// FromBig returns a copy of x as an Int.
func FromBig(x *big.Int) *Int {
	v := new(Int)
	v.Set(x)
	return v
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Int) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if _, ok := v.SetString(s, 0); !ok {
		return fmt.Errorf("%w: invalid integer %s", ErrMalformedEvent, b)
	}
	return nil
}

// MarshalJSON encodes v as a decimal string.
func (v *Int) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

func (v *Int) big() *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(&v.Int)
}

// Event is one line of a ledger event log. Fields not used by Type are
// left empty.
type Event struct {
	Type       EventType `json:"type"`
	AttesterID *Int      `json:"attesterId"`
	Epoch      uint64    `json:"epoch,omitempty"`

	// attester_signup
	EpochLength uint64 `json:"epochLength,omitempty"`

	// user_signup
	IdentityCommitment *Int `json:"identityCommitment,omitempty"`
	StateTreeLeaf      *Int `json:"stateTreeLeaf,omitempty"`
	Airdrop            *Int `json:"airdrop,omitempty"`

	// attestation, either a single field change or the legacy
	// posRep/negRep pair
	EpochKey   *Int  `json:"epochKey,omitempty"`
	FieldIndex *uint `json:"fieldIndex,omitempty"`
	Change     *Int  `json:"change,omitempty"`
	PosRep     *Int  `json:"posRep,omitempty"`
	NegRep     *Int  `json:"negRep,omitempty"`

	// user_state_transition
	ToEpoch         uint64 `json:"toEpoch,omitempty"`
	HistoryTreeRoot *Int   `json:"historyTreeRoot,omitempty"`
	EpochKeys       []*Int `json:"epochKeys,omitempty"`
}

// DecodeEvent parses one log line and checks that the fields its type
// needs are present.
func DecodeEvent(line []byte) (*Event, error) {
	var ev Event
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		if errors.Is(err, ErrMalformedEvent) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.AttesterID == nil {
		return nil, fmt.Errorf("%w: %s without attesterId", ErrMalformedEvent, ev.Type)
	}

	var missing string
	switch ev.Type {
	case EventAttesterSignUp, EventEpochEnded:
	case EventUserSignUp:
		switch {
		case ev.IdentityCommitment == nil:
			missing = "identityCommitment"
		case ev.StateTreeLeaf == nil:
			missing = "stateTreeLeaf"
		}
	case EventAttestation:
		switch {
		case ev.EpochKey == nil:
			missing = "epochKey"
		case ev.FieldIndex == nil && ev.PosRep == nil && ev.NegRep == nil:
			missing = "fieldIndex"
		case ev.FieldIndex != nil && ev.Change == nil:
			missing = "change"
		}
	case EventUserStateTransition:
		switch {
		case ev.StateTreeLeaf == nil:
			missing = "stateTreeLeaf"
		case ev.HistoryTreeRoot == nil:
			missing = "historyTreeRoot"
		case len(ev.EpochKeys) == 0:
			missing = "epochKeys"
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, ev.Type)
	}
	if missing != "" {
		return nil, fmt.Errorf("%w: %s without %s", ErrMalformedEvent, ev.Type, missing)
	}
	return &ev, nil
}

// AppendEvent writes ev as one line at the end of the log at path,
// creating the log if needed.
func AppendEvent(path string, ev *Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
