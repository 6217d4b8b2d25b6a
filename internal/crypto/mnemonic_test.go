package crypto

import (
	"errors"
	"strings"
	"testing"

	"github.com/tyler-smith/go-bip39"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"

func TestNewIdentityWithMnemonic(t *testing.T) {
	identity, mnemonic, err := NewIdentityWithMnemonic()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	words := strings.Split(mnemonic, " ")
	if len(words) != 24 {
		t.Errorf("expected 24 words, got %d", len(words))
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		t.Error("mnemonic is not valid")
	}

	recovered, err := IdentityFromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("IdentityFromMnemonic failed: %v", err)
	}
	if recovered.Commitment.Cmp(identity.Commitment) != 0 {
		t.Error("recovered identity does not match generated identity")
	}
}

func TestIdentityFromMnemonic_Deterministic(t *testing.T) {
	id1, err := IdentityFromMnemonic(testMnemonic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := IdentityFromMnemonic(testMnemonic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if id1.ID() != id2.ID() {
		t.Errorf("IDs don't match: %s vs %s", id1.ID(), id2.ID())
	}
	if id1.Secret.Cmp(id2.Secret) != 0 {
		t.Error("secrets don't match")
	}
	if id1.Trapdoor.Cmp(id1.Nullifier) == 0 {
		t.Error("trapdoor and nullifier should differ")
	}
}

func TestIdentityFromMnemonic_Invalid(t *testing.T) {
	_, err := IdentityFromMnemonic("not a valid mnemonic")
	if !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("expected ErrInvalidMnemonic, got %v", err)
	}
}
