package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestDeriveKey_ProducesDeterministicOutput(t *testing.T) {
	password := "test-password-123"
	salt := []byte("0123456789abcdef0123456789abcdef") // 32 bytes

	key1 := DeriveKey(password, salt)
	key2 := DeriveKey(password, salt)

	if len(key1) != 32 {
		t.Fatalf("expected key length 32, got %d", len(key1))
	}
	if !bytes.Equal(key1, key2) {
		t.Fatal("same password and salt should produce the same key")
	}
}

func TestDeriveKey_DifferentPasswordsDifferentKeys(t *testing.T) {
	salt := []byte("0123456789abcdef0123456789abcdef") // 32 bytes
	if bytes.Equal(DeriveKey("password-one", salt), DeriveKey("password-two", salt)) {
		t.Fatal("different passwords should produce different keys")
	}
}

func TestGenerateSalt(t *testing.T) {
	salt1 := GenerateSalt()
	salt2 := GenerateSalt()
	if len(salt1) != 32 || len(salt2) != 32 {
		t.Fatalf("expected salt length 32, got %d and %d", len(salt1), len(salt2))
	}
	if bytes.Equal(salt1, salt2) {
		t.Fatal("two generated salts should not be equal")
	}
}

func TestGenerateMasterKey(t *testing.T) {
	k, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey: %v", err)
	}
	raw, err := hex.DecodeString(k)
	if err != nil || len(raw) != 32 {
		t.Fatalf("master key %q is not 32 hex-encoded bytes", k)
	}
}
