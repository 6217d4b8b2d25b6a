package zkproof

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sorag20/Unirep/pkg/unirep"
	"github.com/sorag20/Unirep/pkg/zkproof"
)

// SupportedProofSystem is the only proof system this implementation speaks.
const SupportedProofSystem = "plonk-bn254"

// Capability describes what a proof service can prove and verify. Two
// services interoperate only when they agree on the proof system and on
// every protocol parameter.
type Capability struct {
	Supported   bool          `json:"supported"`
	ProofSystem string        `json:"proof_system"`
	Config      unirep.Config `json:"config"`
	Circuits    []string      `json:"circuits"`
}

// NewCapability advertises a service built for cfg.
func NewCapability(cfg unirep.Config, enabled bool) *Capability {
	circuits := make([]string, len(zkproof.Circuits))
	for i, id := range zkproof.Circuits {
		circuits[i] = string(id)
	}
	return &Capability{
		Supported:   enabled,
		ProofSystem: SupportedProofSystem,
		Config:      cfg,
		Circuits:    circuits,
	}
}

// CheckCompatibility reports whether remote can exchange proofs with a
// service built for local.
func CheckCompatibility(local unirep.Config, remote *Capability) error {
	if remote == nil {
		return fmt.Errorf("remote has no proof capability")
	}
	if !remote.Supported {
		return fmt.Errorf("remote proofs not enabled")
	}
	if remote.ProofSystem != SupportedProofSystem {
		return fmt.Errorf("%w: remote uses %s, we use %s",
			ErrIncompatibleSystem, remote.ProofSystem, SupportedProofSystem)
	}
	if remote.Config != local {
		return fmt.Errorf("%w: remote parameters %s, local %s",
			ErrIncompatibleSystem, remote.Config, local)
	}
	return nil
}

// ToStruct converts the capability for transport over the query API.
func (c *Capability) ToStruct() (*structpb.Struct, error) {
	circuits := make([]any, len(c.Circuits))
	for i, id := range c.Circuits {
		circuits[i] = id
	}
	return structpb.NewStruct(map[string]any{
		"supported":    c.Supported,
		"proof_system": c.ProofSystem,
		"circuits":     circuits,
		"config": map[string]any{
			"state_tree_depth":              c.Config.StateTreeDepth,
			"epoch_tree_depth":              c.Config.EpochTreeDepth,
			"history_tree_depth":            c.Config.HistoryTreeDepth,
			"num_epoch_key_nonce_per_epoch": c.Config.NumEpochKeyNoncePerEpoch,
			"field_count":                   c.Config.FieldCount,
			"sum_field_count":               c.Config.SumFieldCount,
			"repl_nonce_bits":               c.Config.ReplNonceBits,
		},
	})
}

// CapabilityFromStruct is the inverse of ToStruct. It returns nil for a nil
// input.
func CapabilityFromStruct(s *structpb.Struct) *Capability {
	if s == nil {
		return nil
	}
	m := s.AsMap()
	c := &Capability{}
	c.Supported, _ = m["supported"].(bool)
	c.ProofSystem, _ = m["proof_system"].(string)
	if list, ok := m["circuits"].([]any); ok {
		for _, v := range list {
			if id, ok := v.(string); ok {
				c.Circuits = append(c.Circuits, id)
			}
		}
	}
	if cfg, ok := m["config"].(map[string]any); ok {
		c.Config = unirep.Config{
			StateTreeDepth:           uintField(cfg, "state_tree_depth"),
			EpochTreeDepth:           uintField(cfg, "epoch_tree_depth"),
			HistoryTreeDepth:         uintField(cfg, "history_tree_depth"),
			NumEpochKeyNoncePerEpoch: uintField(cfg, "num_epoch_key_nonce_per_epoch"),
			FieldCount:               uintField(cfg, "field_count"),
			SumFieldCount:            uintField(cfg, "sum_field_count"),
			ReplNonceBits:            uintField(cfg, "repl_nonce_bits"),
		}
	}
	return c
}

// structpb carries numbers as float64.
func uintField(m map[string]any, key string) uint {
	f, _ := m[key].(float64)
	if f < 0 {
		return 0
	}
	return uint(f)
}
