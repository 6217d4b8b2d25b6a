package crypto

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/sorag20/Unirep/pkg/hasher"
	"github.com/sorag20/Unirep/pkg/unirep"
)

func TestGenerateIdentity(t *testing.T) {
	identity, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}

	for name, v := range map[string]*big.Int{
		"trapdoor":   identity.Trapdoor,
		"nullifier":  identity.Nullifier,
		"secret":     identity.Secret,
		"commitment": identity.Commitment,
	} {
		if err := unirep.CheckField(name, v); err != nil {
			t.Errorf("%s is not a field element: %v", name, err)
		}
	}
}

func TestIdentityDerivation(t *testing.T) {
	identity, err := NewIdentity(big.NewInt(1), big.NewInt(2))
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}

	secret := hasher.MustHash(big.NewInt(2), big.NewInt(1))
	if identity.Secret.Cmp(secret) != 0 {
		t.Error("secret should be hash(nullifier, trapdoor)")
	}
	if identity.Commitment.Cmp(hasher.MustHash(secret)) != 0 {
		t.Error("commitment should be hash(secret)")
	}
}

func TestIdentityIDFormat(t *testing.T) {
	identity, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}

	id := identity.ID()
	if !strings.HasPrefix(id, IDPrefix) {
		t.Fatalf("ID should start with %q, got: %s", IDPrefix, id)
	}

	decoded, err := DecodeField(strings.TrimPrefix(id, IDPrefix))
	if err != nil {
		t.Fatalf("DecodeField failed: %v", err)
	}
	if decoded.Cmp(identity.Commitment) != 0 {
		t.Error("decoded ID does not match commitment")
	}
}

func TestDecodeFieldRejects(t *testing.T) {
	if _, err := DecodeField("0OIl"); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("invalid base58: got %v", err)
	}
	if _, err := DecodeField(EncodeField(big.NewInt(1))[:5]); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("short input: got %v", err)
	}
	if _, err := DecodeField(EncodeField(unirep.Modulus())); !errors.Is(err, unirep.ErrRange) {
		t.Errorf("out of field: got %v", err)
	}
}

func TestIdentityUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		identity, err := GenerateIdentity()
		if err != nil {
			t.Fatalf("GenerateIdentity failed: %v", err)
		}
		if seen[identity.ID()] {
			t.Errorf("duplicate identity generated: %s", identity.ID())
		}
		seen[identity.ID()] = true
	}
}
