package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sorag20/Unirep/internal/config"
	"github.com/sorag20/Unirep/internal/crypto"
	"github.com/sorag20/Unirep/internal/ipc"
	"github.com/sorag20/Unirep/internal/synchronizer"
	"github.com/sorag20/Unirep/internal/transition"
	"github.com/sorag20/Unirep/internal/userstate"
	izk "github.com/sorag20/Unirep/internal/zkproof"
	"github.com/sorag20/Unirep/pkg/merkle"
	"github.com/sorag20/Unirep/pkg/repdata"
	"github.com/sorag20/Unirep/pkg/zkproof"
)

// submissionsLog is the event log the CLI appends the user's own sign-up
// and transition events to.
const submissionsLog = "submissions.jsonl"

// ErrNoPassphrase is returned when an identity operation runs without a
// passphrase.
var ErrNoPassphrase = errors.New("passphrase required (--passphrase or UNIREP_PASSPHRASE)")

// CLI provides the user commands. Queries go to the synchronizer daemon;
// proofs are built locally against the daemon's last checkpoint.
type CLI struct {
	configPath string
	socket     string
	passphrase string

	cfg     *config.Config
	client  *ipc.Client
	backend zkproof.Backend
	log     *zap.Logger
	output  io.Writer
}

// NewCLI creates a CLI writing to output.
func NewCLI(output io.Writer) *CLI {
	return &CLI{output: output, log: zap.NewNop()}
}

// Close releases the daemon connection.
func (c *CLI) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *CLI) loadConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	path := c.configPath
	if path == "" {
		path = filepath.Join(config.DefaultPaths().ConfigDir, "config.toml")
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if c.socket != "" {
		cfg.IPC.Socket = config.ExpandPath(c.socket)
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *CLI) connect() (*ipc.Client, error) {
	if c.client != nil {
		return c.client, nil
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	client, err := ipc.NewClient(cfg.IPC.Socket)
	if err != nil {
		return nil, err
	}
	client.SetTimeout(cfg.IPC.IPCTimeout())
	c.client = client
	return client, nil
}

func (c *CLI) printf(format string, args ...any) {
	fmt.Fprintf(c.output, format, args...)
}

// IdentityNew creates an identity, stores it encrypted and prints its
// recovery phrase.
func (c *CLI) IdentityNew() error {
	id, mnemonic, err := crypto.NewIdentityWithMnemonic()
	if err != nil {
		return err
	}
	if err := c.saveIdentity(id); err != nil {
		return err
	}
	c.printf("Identity:        %s\n", id.ID())
	c.printf("Recovery phrase: %s\n", mnemonic)
	c.printf("Write the recovery phrase down. It is the only way to restore this identity.\n")
	return nil
}

// IdentityRecover restores an identity from its recovery phrase.
func (c *CLI) IdentityRecover(mnemonic string) error {
	id, err := crypto.IdentityFromMnemonic(mnemonic)
	if err != nil {
		return err
	}
	if err := c.saveIdentity(id); err != nil {
		return err
	}
	c.printf("Identity: %s\n", id.ID())
	return nil
}

// IdentityShow prints the stored identity commitment.
func (c *CLI) IdentityShow() error {
	id, err := c.loadIdentity()
	if err != nil {
		return err
	}
	c.printf("Identity:   %s\n", id.ID())
	c.printf("Commitment: %s\n", id.Commitment)
	return nil
}

func (c *CLI) saveIdentity(id *crypto.Identity) error {
	if c.passphrase == "" {
		return ErrNoPassphrase
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	path := cfg.Storage.IdentityPath
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("identity already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return crypto.SaveIdentity(id, path, c.passphrase)
}

func (c *CLI) loadIdentity() (*crypto.Identity, error) {
	if c.passphrase == "" {
		return nil, ErrNoPassphrase
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	return crypto.LoadIdentity(cfg.Storage.IdentityPath, c.passphrase)
}

// Status prints the attesters known to the daemon and whether the daemon
// runs the same circuits as this CLI.
func (c *CLI) Status(ctx context.Context) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	attesters, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	capability, err := client.GetCapability(ctx)
	if err != nil {
		return fmt.Errorf("failed to get capability: %w", err)
	}

	c.printf("Synchronizer: %s\n", c.cfg.IPC.Socket)
	if !capability.Supported {
		c.printf("Proofs:       not supported\n")
	} else if err := izk.CheckCompatibility(c.cfg.Circuit, capability); err != nil {
		c.printf("Proofs:       incompatible (%v)\n", err)
	} else {
		c.printf("Proofs:       compatible\n")
	}
	c.printf("Attesters:    %d\n", len(attesters))
	for _, a := range attesters {
		c.printf("  %s  epoch %d\n", a.AttesterID, a.CurrentEpoch)
	}
	return nil
}

// Root prints the root of a tree.
func (c *CLI) Root(ctx context.Context, q ipc.TreeQuery) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	root, err := client.GetRoot(ctx, q)
	if err != nil {
		return err
	}
	c.printf("%s\n", root)
	return nil
}

// Leaves prints the number of leaves in a tree.
func (c *CLI) Leaves(ctx context.Context, q ipc.TreeQuery) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	n, err := client.GetNumLeaves(ctx, q)
	if err != nil {
		return err
	}
	c.printf("%d\n", n)
	return nil
}

// ProveInclusion prints the inclusion proof of the leaf at index.
func (c *CLI) ProveInclusion(ctx context.Context, q ipc.TreeQuery, index uint64) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	proof, err := client.ProveInclusion(ctx, q, index)
	if err != nil {
		return err
	}
	return c.writeJSON(inclusionJSON(proof))
}

type inclusionOutput struct {
	Root        string   `json:"root"`
	Leaf        string   `json:"leaf"`
	Index       uint64   `json:"index"`
	Siblings    []string `json:"siblings"`
	PathIndices []int    `json:"pathIndices"`
}

func inclusionJSON(p *merkle.Proof) inclusionOutput {
	out := inclusionOutput{
		Root:     p.Root.String(),
		Leaf:     p.Leaf.String(),
		Index:    p.Index,
		Siblings: bigStrings(p.Siblings),
	}
	// []uint8 would encode as base64
	for _, b := range p.PathIndices {
		out.PathIndices = append(out.PathIndices, int(b))
	}
	return out
}

type proofOutput struct {
	Circuit       zkproof.CircuitID `json:"circuit"`
	Proof         []byte            `json:"proof"`
	PublicSignals []string          `json:"publicSignals"`
}

func (c *CLI) writeProof(res *zkproof.ProofResult) error {
	return c.writeJSON(proofOutput{
		Circuit:       res.CircuitID,
		Proof:         res.Proof,
		PublicSignals: bigStrings(res.PublicSignals),
	})
}

func (c *CLI) writeJSON(v any) error {
	enc := json.NewEncoder(c.output)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func bigStrings(values []*big.Int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out
}

// protocol opens the user protocol for attester over the last checkpoint
// written by the synchronizer.
func (c *CLI) protocol(attester *big.Int) (*transition.Protocol, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	registry, err := synchronizer.LoadCheckpoint(cfg.Storage.CheckpointDir, cfg.Circuit, c.log)
	if err != nil {
		return nil, err
	}
	l, err := registry.Get(attester)
	if err != nil {
		return nil, err
	}

	if c.backend == nil {
		svcCfg, err := cfg.Prover.ServiceConfig()
		if err != nil {
			return nil, err
		}
		svc, err := izk.NewService(izk.Params{
			Config:   svcCfg,
			Protocol: cfg.Circuit,
			Logger:   c.log,
		})
		if err != nil {
			return nil, err
		}
		c.backend = svc
	}

	return transition.New(transition.Params{
		Ledger:    l,
		Backend:   c.backend,
		Store:     userstate.NewStore(cfg.Storage.UserStateDir, cfg.Circuit),
		Submitter: eventSubmitter{dir: cfg.Ingest.EventDir},
		Logger:    c.log,
	}), nil
}

// eventSubmitter appends sign-ups and transitions to the submissions log
// for the synchronizer to pick up.
type eventSubmitter struct {
	dir string
}

func (s eventSubmitter) append(ev *synchronizer.Event) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}
	return synchronizer.AppendEvent(filepath.Join(s.dir, submissionsLog), ev)
}

func (s eventSubmitter) SubmitSignUp(ctx context.Context, signals *zkproof.SignupProof) error {
	if err := s.append(&synchronizer.Event{
		Type:               synchronizer.EventUserSignUp,
		AttesterID:         synchronizer.FromBig(signals.AttesterID),
		Epoch:              signals.Epoch,
		IdentityCommitment: synchronizer.FromBig(signals.IdentityCommitment),
		StateTreeLeaf:      synchronizer.FromBig(signals.StateTreeLeaf),
		Airdrop:            synchronizer.FromBig(signals.Airdrop),
	}); err != nil {
		return fmt.Errorf("failed to submit sign-up: %w", err)
	}
	return nil
}

func (s eventSubmitter) SubmitTransition(ctx context.Context, signals *zkproof.UserStateTransitionProof) error {
	keys := make([]*synchronizer.Int, len(signals.EpochKeys))
	for i, k := range signals.EpochKeys {
		keys[i] = synchronizer.FromBig(k)
	}
	if err := s.append(&synchronizer.Event{
		Type:            synchronizer.EventUserStateTransition,
		AttesterID:      synchronizer.FromBig(signals.AttesterID),
		ToEpoch:         signals.ToEpoch,
		HistoryTreeRoot: synchronizer.FromBig(signals.HistoryTreeRoot),
		StateTreeLeaf:   synchronizer.FromBig(signals.StateTreeLeaf),
		EpochKeys:       keys,
	}); err != nil {
		return fmt.Errorf("failed to submit transition: %w", err)
	}
	return nil
}

// UserStatus prints the user's stored state with attester.
func (c *CLI) UserStatus(attester *big.Int) error {
	id, err := c.loadIdentity()
	if err != nil {
		return err
	}
	p, err := c.protocol(attester)
	if err != nil {
		return err
	}
	st, err := p.Status(id)
	if err != nil {
		return err
	}
	c.printf("Phase:    %s\n", st.Phase)
	c.printf("Epoch:    %d\n", st.Epoch)
	if st.NeedsTransition {
		c.printf("          behind the ledger, run `user transition`\n")
	}
	if st.Pending != nil {
		c.printf("          epoch %d submitted, waiting for the synchronizer\n", st.Pending.Epoch)
	}
	c.printf("Positive: %s\n", st.Data[repdata.PosRepField])
	c.printf("Negative: %s\n", st.Data[repdata.NegRepField])
	c.printf("Data:     %v\n", bigStrings(st.Data))
	return nil
}

// SignUp proves sign-up with attester and submits the user_signup event.
func (c *CLI) SignUp(ctx context.Context, attester, airdrop *big.Int) error {
	id, err := c.loadIdentity()
	if err != nil {
		return err
	}
	p, err := c.protocol(attester)
	if err != nil {
		return err
	}
	res, err := p.SignUp(ctx, id, airdrop)
	if err != nil {
		return err
	}
	signals, err := zkproof.ParseSignupSignals(res.PublicSignals)
	if err != nil {
		return err
	}
	c.printf("Submitted sign-up with attester %s in epoch %d\n", attester, signals.Epoch)
	return c.writeProof(res)
}

// Transition moves the user into the current epoch and submits the
// user_state_transition event.
func (c *CLI) Transition(ctx context.Context, attester *big.Int) error {
	id, err := c.loadIdentity()
	if err != nil {
		return err
	}
	p, err := c.protocol(attester)
	if err != nil {
		return err
	}
	res, err := p.Transition(ctx, id)
	if err != nil {
		return err
	}
	c.printf("Submitted transition from epoch %d to %d\n", res.FromEpoch, res.ToEpoch)
	c.printf("Data: %v\n", bigStrings(res.Data))
	return c.writeProof(res.Proof)
}

// ProveReputation prints a reputation proof over the user's current state.
func (c *CLI) ProveReputation(ctx context.Context, attester *big.Int, req transition.ReputationRequest) error {
	id, err := c.loadIdentity()
	if err != nil {
		return err
	}
	p, err := c.protocol(attester)
	if err != nil {
		return err
	}
	res, err := p.ProveReputation(ctx, id, req)
	if err != nil {
		return err
	}
	return c.writeProof(res)
}

// ProveEpochKey prints an epoch key proof, or a prevent-double-action
// proof when req.Scope is set.
func (c *CLI) ProveEpochKey(ctx context.Context, attester *big.Int, req transition.EpochKeyRequest) error {
	id, err := c.loadIdentity()
	if err != nil {
		return err
	}
	p, err := c.protocol(attester)
	if err != nil {
		return err
	}
	res, err := p.ProveEpochKey(ctx, id, req)
	if err != nil {
		return err
	}
	return c.writeProof(res)
}
