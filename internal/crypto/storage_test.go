package crypto

import (
	"bytes"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoadIdentity(t *testing.T) {
	tmpDir := t.TempDir()
	keyPath := filepath.Join(tmpDir, "identity.enc")
	passphrase := "test-passphrase-123"

	original, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}

	if err := SaveIdentity(original, keyPath, passphrase); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("key file should exist: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadIdentity(keyPath, passphrase)
	if err != nil {
		t.Fatalf("LoadIdentity failed: %v", err)
	}

	if loaded.Commitment.Cmp(original.Commitment) != 0 {
		t.Errorf("commitment mismatch: got %s, want %s", loaded.Commitment, original.Commitment)
	}
	if loaded.Secret.Cmp(original.Secret) != 0 {
		t.Error("secret mismatch")
	}
}

func TestLoadIdentityWrongPassphrase(t *testing.T) {
	tmpDir := t.TempDir()
	keyPath := filepath.Join(tmpDir, "identity.enc")

	identity, _ := GenerateIdentity()
	if err := SaveIdentity(identity, keyPath, "correct-passphrase"); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}

	_, err := LoadIdentity(keyPath, "wrong-passphrase")
	if err == nil {
		t.Error("LoadIdentity should fail with wrong passphrase")
	}
}

func TestLoadIdentityFileNotFound(t *testing.T) {
	_, err := LoadIdentity("/nonexistent/path/identity.enc", "passphrase")
	if err == nil {
		t.Error("LoadIdentity should fail for missing file")
	}
}

func TestLoadIdentityTruncated(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "identity.enc")
	if err := os.WriteFile(keyPath, []byte("short"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadIdentity(keyPath, "passphrase"); err == nil {
		t.Error("LoadIdentity should fail for a truncated file")
	}
}

func TestSealOpen(t *testing.T) {
	key, err := DeriveKey(big.NewInt(42), "test")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	plaintext := []byte("reputation")

	sealed, err := Seal(key, plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("sealed data contains the plaintext")
	}

	opened, err := Open(key, sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open = %q, want %q", opened, plaintext)
	}

	other, _ := DeriveKey(big.NewInt(43), "test")
	if _, err := Open(other, sealed); err == nil {
		t.Error("Open should fail under another key")
	}
}

func TestDeriveKey(t *testing.T) {
	a, _ := DeriveKey(big.NewInt(42), "attester-1")
	b, _ := DeriveKey(big.NewInt(42), "attester-1")
	c, _ := DeriveKey(big.NewInt(42), "attester-2")

	if !bytes.Equal(a, b) {
		t.Error("DeriveKey should be deterministic")
	}
	if bytes.Equal(a, c) {
		t.Error("different info should give different keys")
	}
	if len(a) != 32 {
		t.Errorf("key length = %d, want 32", len(a))
	}
}

func TestSealInvalidKey(t *testing.T) {
	_, err := Seal([]byte("short"), nil)
	if !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("Seal error = %v, want ErrInvalidKeyLength", err)
	}
}
