package crypto

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"

	"golang.org/x/crypto/argon2"

	"github.com/sorag20/Unirep/internal/atomicfile"
)

// serializedIdentity is the JSON structure for storage. The secret and the
// commitment are recomputed on load.
type serializedIdentity struct {
	Trapdoor  string `json:"trapdoor"`
	Nullifier string `json:"nullifier"`
}

// deriveKey uses Argon2id to derive an AES-256 key from passphrase.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// SaveIdentity encrypts and saves identity to file.
func SaveIdentity(id *Identity, path, passphrase string) error {
	data, err := json.Marshal(serializedIdentity{
		Trapdoor:  id.Trapdoor.String(),
		Nullifier: id.Nullifier.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize identity: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	sealed, err := Seal(deriveKey(passphrase, salt), data)
	if err != nil {
		return err
	}

	// salt + nonce + ciphertext
	return atomicfile.WriteFile(path, append(salt, sealed...), 0600)
}

// LoadIdentity decrypts and loads identity from file.
func LoadIdentity(path, passphrase string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if len(data) < 28 { // 16 salt + 12 nonce minimum
		return nil, fmt.Errorf("file too short")
	}

	plaintext, err := Open(deriveKey(passphrase, data[:16]), data[16:])
	if err != nil {
		return nil, fmt.Errorf("open identity (wrong passphrase?): %w", err)
	}

	var stored serializedIdentity
	if err := json.Unmarshal(plaintext, &stored); err != nil {
		return nil, fmt.Errorf("failed to deserialize identity: %w", err)
	}

	trapdoor, ok := new(big.Int).SetString(stored.Trapdoor, 10)
	if !ok {
		return nil, fmt.Errorf("%w: trapdoor", ErrInvalidEncoding)
	}
	nullifier, ok := new(big.Int).SetString(stored.Nullifier, 10)
	if !ok {
		return nil, fmt.Errorf("%w: nullifier", ErrInvalidEncoding)
	}
	return NewIdentity(trapdoor, nullifier)
}

