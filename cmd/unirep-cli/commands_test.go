package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sorag20/Unirep/internal/crypto"
	"github.com/sorag20/Unirep/internal/ipc"
	"github.com/sorag20/Unirep/internal/ledger"
	"github.com/sorag20/Unirep/internal/synchronizer"
	"github.com/sorag20/Unirep/internal/transition"
	"github.com/sorag20/Unirep/pkg/unirep"
)

// testMnemonic is the BIP-39 all-zero entropy phrase.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type testEnv struct {
	dir        string
	configPath string
}

func (e testEnv) path(name string) string {
	return filepath.Join(e.dir, name)
}

func testCircuit() unirep.Config {
	return unirep.Config{
		StateTreeDepth:           2,
		EpochTreeDepth:           2,
		HistoryTreeDepth:         2,
		NumEpochKeyNoncePerEpoch: 2,
		FieldCount:               4,
		SumFieldCount:            2,
		ReplNonceBits:            48,
	}
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	t.Setenv("UNIREP_PASSPHRASE", "")

	env := testEnv{dir: t.TempDir()}
	env.configPath = env.path("config.toml")
	content := fmt.Sprintf(`
[circuit]
state_tree_depth = 2
epoch_tree_depth = 2
history_tree_depth = 2
num_epoch_key_nonce_per_epoch = 2
field_count = 4
sum_field_count = 2

[storage]
checkpoint_dir = %q
user_state_dir = %q
identity_path = %q

[ingest]
event_dir = %q

[ipc]
socket = %q
`, env.path("checkpoint"), env.path("userstate"), env.path("identity.key"), env.path("events"), env.path("sync.sock"))
	if err := os.WriteFile(env.configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return env
}

func (e testEnv) run(args ...string) (string, error) {
	var out bytes.Buffer
	cli := NewCLI(&out)
	defer cli.Close()

	cmd := newRootCmd(cli)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestIdentity_NewAndShow(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run("identity", "new", "--passphrase", "pw")
	if err != nil {
		t.Fatalf("identity new failed: %v", err)
	}
	if !strings.Contains(out, "Recovery phrase:") {
		t.Errorf("expected recovery phrase in output, got %q", out)
	}
	var id string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Identity:") {
			id = strings.TrimSpace(strings.TrimPrefix(line, "Identity:"))
		}
	}
	if !strings.HasPrefix(id, crypto.IDPrefix) {
		t.Fatalf("unexpected identity %q", id)
	}

	out, err = env.run("identity", "show", "--passphrase", "pw")
	if err != nil {
		t.Fatalf("identity show failed: %v", err)
	}
	if !strings.Contains(out, id) {
		t.Errorf("show output %q does not contain %s", out, id)
	}

	if _, err := env.run("identity", "new", "--passphrase", "pw"); err == nil {
		t.Error("expected error when an identity already exists")
	}
	if _, err := env.run("identity", "show", "--passphrase", "wrong"); err == nil {
		t.Error("expected error for wrong passphrase")
	}
}

func TestIdentity_Recover(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("UNIREP_PASSPHRASE", "from-env")

	want, err := crypto.IdentityFromMnemonic(testMnemonic)
	if err != nil {
		t.Fatalf("IdentityFromMnemonic failed: %v", err)
	}

	args := append([]string{"identity", "recover"}, strings.Fields(testMnemonic)...)
	out, err := env.run(args...)
	if err != nil {
		t.Fatalf("identity recover failed: %v", err)
	}
	if !strings.Contains(out, want.ID()) {
		t.Errorf("recover output %q does not contain %s", out, want.ID())
	}

	out, err = env.run("identity", "show")
	if err != nil {
		t.Fatalf("identity show failed: %v", err)
	}
	if !strings.Contains(out, want.Commitment.String()) {
		t.Errorf("show output %q does not contain the commitment", out)
	}
}

func TestIdentity_Errors(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.run("identity", "show"); !errors.Is(err, ErrNoPassphrase) {
		t.Errorf("expected ErrNoPassphrase, got %v", err)
	}
	if _, err := env.run("identity", "recover", "not", "a", "phrase", "--passphrase", "pw"); !errors.Is(err, crypto.ErrInvalidMnemonic) {
		t.Errorf("expected ErrInvalidMnemonic, got %v", err)
	}
}

func startSynchronizer(t *testing.T, env testEnv) *ledger.Ledger {
	t.Helper()

	registry := ledger.NewRegistry(testCircuit(), nil)
	l, err := registry.SignUpAttester(big.NewInt(7), 0)
	if err != nil {
		t.Fatalf("SignUpAttester failed: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		if _, err := l.InsertStateLeaf(0, big.NewInt(i*11)); err != nil {
			t.Fatalf("InsertStateLeaf failed: %v", err)
		}
	}

	sock := env.path("sync.sock")
	server, err := ipc.NewServer(ipc.ServerParams{SocketPath: sock, Ledgers: registry})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	go server.Start()
	t.Cleanup(server.Stop)

	for i := 0; i < 50; i++ {
		if _, err := os.Stat(sock); err == nil {
			return l
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s did not appear", sock)
	return nil
}

func TestTreeCommands(t *testing.T) {
	env := newTestEnv(t)
	l := startSynchronizer(t, env)

	out, err := env.run("tree", "leaves", "--attester", "7")
	if err != nil {
		t.Fatalf("tree leaves failed: %v", err)
	}
	if out != "3\n" {
		t.Errorf("leaves: got %q, want 3", out)
	}

	want, _ := l.Root(ledger.StateTree, 0)
	out, err = env.run("tree", "root", "--attester", "0x7", "--tree", "state", "--epoch", "0")
	if err != nil {
		t.Fatalf("tree root failed: %v", err)
	}
	if strings.TrimSpace(out) != want.String() {
		t.Errorf("root: got %q, want %s", out, want)
	}

	out, err = env.run("tree", "prove", "--attester", "7", "--index", "1")
	if err != nil {
		t.Fatalf("tree prove failed: %v", err)
	}
	var proof inclusionOutput
	if err := json.Unmarshal([]byte(out), &proof); err != nil {
		t.Fatalf("failed to parse proof: %v", err)
	}
	if proof.Leaf != "22" || proof.Index != 1 || proof.Root != want.String() {
		t.Errorf("unexpected proof %+v", proof)
	}
	if len(proof.PathIndices) != 2 || proof.PathIndices[0] != 1 {
		t.Errorf("path indices: got %v", proof.PathIndices)
	}

	if _, err := env.run("tree", "root", "--attester", "8"); !errors.Is(err, unirep.ErrNotFound) {
		t.Errorf("unknown attester: expected ErrNotFound, got %v", err)
	}
	if _, err := env.run("tree", "root", "--attester", "7", "--tree", "forest"); err == nil {
		t.Error("expected error for unknown tree")
	}
	if _, err := env.run("tree", "root"); err == nil {
		t.Error("expected error without --attester")
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	startSynchronizer(t, env)

	out, err := env.run("status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	for _, want := range []string{"Proofs:       not supported", "Attesters:    1", "7  epoch 0"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output %q missing %q", out, want)
		}
	}
}

func TestUser_UnknownAttester(t *testing.T) {
	env := newTestEnv(t)
	args := append([]string{"identity", "recover", "--passphrase", "pw"}, strings.Fields(testMnemonic)...)
	if _, err := env.run(args...); err != nil {
		t.Fatalf("identity recover failed: %v", err)
	}

	_, err := env.run("user", "status", "--attester", "9", "--passphrase", "pw")
	if !errors.Is(err, ledger.ErrAttesterNotSignedUp) {
		t.Errorf("expected ErrAttesterNotSignedUp, got %v", err)
	}
	if _, err := env.run("user", "signup", "--attester", "x", "--passphrase", "pw"); err == nil {
		t.Error("expected error for a malformed attester id")
	}
}

func TestUser_SignUpSubmitsEvent(t *testing.T) {
	if testing.Short() {
		t.Skip("PLONK setup is slow")
	}
	env := newTestEnv(t)
	args := append([]string{"identity", "recover", "--passphrase", "pw"}, strings.Fields(testMnemonic)...)
	if _, err := env.run(args...); err != nil {
		t.Fatalf("identity recover failed: %v", err)
	}
	id, _ := crypto.IdentityFromMnemonic(testMnemonic)

	s, err := synchronizer.New(synchronizer.Params{Config: testCircuit(), CheckpointDir: env.path("checkpoint")})
	if err != nil {
		t.Fatalf("synchronizer.New failed: %v", err)
	}
	if err := s.Apply(&synchronizer.Event{Type: synchronizer.EventAttesterSignUp, AttesterID: synchronizer.NewInt(7)}); err != nil {
		t.Fatalf("attester sign-up failed: %v", err)
	}
	if err := s.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	out, err := env.run("user", "signup", "--attester", "7", "--airdrop", "5", "--passphrase", "pw")
	if err != nil {
		t.Fatalf("user signup failed: %v", err)
	}
	if !strings.Contains(out, `"circuit": "signup"`) {
		t.Errorf("expected a signup proof in output, got %q", out)
	}

	out, err = env.run("user", "status", "--attester", "7", "--passphrase", "pw")
	if err != nil {
		t.Fatalf("user status failed: %v", err)
	}
	if !strings.Contains(out, "Phase:    submitted") {
		t.Errorf("sign-up not yet ingested should be submitted, got %q", out)
	}

	applied, rejected, err := s.ReadLog(filepath.Join(env.path("events"), submissionsLog))
	if err != nil {
		t.Fatalf("ReadLog failed: %v", err)
	}
	if applied != 1 || rejected != 0 {
		t.Fatalf("applied %d, rejected %d; want 1, 0", applied, rejected)
	}
	l, _ := s.Registry().Get(big.NewInt(7))
	if !l.IsSignedUp(id.Commitment) {
		t.Error("submitted sign-up should register the commitment")
	}
	if err := s.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	out, err = env.run("user", "status", "--attester", "7", "--passphrase", "pw")
	if err != nil {
		t.Fatalf("user status failed: %v", err)
	}
	if !strings.Contains(out, "Phase:    active") || !strings.Contains(out, "Positive: 5") {
		t.Errorf("status output %q should show the committed airdrop", out)
	}
}

func TestUser_SignUpDroppedWhenEpochEnds(t *testing.T) {
	if testing.Short() {
		t.Skip("PLONK setup is slow")
	}
	env := newTestEnv(t)
	args := append([]string{"identity", "recover", "--passphrase", "pw"}, strings.Fields(testMnemonic)...)
	if _, err := env.run(args...); err != nil {
		t.Fatalf("identity recover failed: %v", err)
	}

	s, err := synchronizer.New(synchronizer.Params{Config: testCircuit(), CheckpointDir: env.path("checkpoint")})
	if err != nil {
		t.Fatalf("synchronizer.New failed: %v", err)
	}
	if err := s.Apply(&synchronizer.Event{Type: synchronizer.EventAttesterSignUp, AttesterID: synchronizer.NewInt(7)}); err != nil {
		t.Fatalf("attester sign-up failed: %v", err)
	}
	if err := s.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	if _, err := env.run("user", "signup", "--attester", "7", "--airdrop", "5", "--passphrase", "pw"); err != nil {
		t.Fatalf("user signup failed: %v", err)
	}
	if _, err := env.run("user", "signup", "--attester", "7", "--passphrase", "pw"); !errors.Is(err, transition.ErrSubmissionPending) {
		t.Errorf("expected ErrSubmissionPending, got %v", err)
	}

	// the epoch ends before the submission is ingested
	if err := s.Apply(&synchronizer.Event{Type: synchronizer.EventEpochEnded, AttesterID: synchronizer.NewInt(7), Epoch: 0}); err != nil {
		t.Fatalf("epoch end failed: %v", err)
	}
	if _, rejected, err := s.ReadLog(filepath.Join(env.path("events"), submissionsLog)); err != nil || rejected != 1 {
		t.Fatalf("ReadLog: rejected %d, err %v; want 1 rejected", rejected, err)
	}
	if err := s.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	if _, err := env.run("user", "status", "--attester", "7", "--passphrase", "pw"); !errors.Is(err, unirep.ErrNotFound) {
		t.Errorf("dropped sign-up should leave no state, got %v", err)
	}
	if _, err := env.run("user", "signup", "--attester", "7", "--airdrop", "5", "--passphrase", "pw"); err != nil {
		t.Fatalf("retried signup failed: %v", err)
	}
}
