package identity

import (
	"errors"
	"strings"
	"testing"
)

func TestKeccakKnownVectors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"},
		{"hello", "0x1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8"},
	}
	for _, tt := range tests {
		if got := keccakHex(tt.in); got != tt.want {
			t.Errorf("keccakHex(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestHash_Deterministic(t *testing.T) {
	a := Hash("https://github.com/acme/bot.git", "main")
	b := Hash("https://github.com/acme/bot.git", "main")
	if a != b {
		t.Fatalf("Hash not deterministic: %s vs %s", a, b)
	}
	if a != keccakHex("https://github.com/acme/bot.git/main") {
		t.Fatalf("Hash should cover repo + \"/\" + branch")
	}
	if len(a) != 66 || !strings.HasPrefix(a, "0x") {
		t.Fatalf("unexpected hash shape %q", a)
	}
}

func TestHash_NoNormalization(t *testing.T) {
	base := Hash("https://github.com/acme/bot.git", "main")
	variants := []string{
		Hash("https://github.com/acme/bot.git", "Main"),
		Hash("https://github.com/acme/bot.git ", "main"),
		Hash("https://github.com/acme/bot.git", "main "),
		Hash("https://github.com/Acme/bot.git", "main"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base hash", i)
		}
	}
}

func TestBytes32_RoundTrip(t *testing.T) {
	h := Hash("repo", "branch")
	raw, err := Bytes32(h)
	if err != nil {
		t.Fatalf("Bytes32: %v", err)
	}
	if raw == [32]byte{} {
		t.Fatal("Bytes32 returned zero value")
	}
	if !Valid(h) {
		t.Fatal("Valid should accept a derived hash")
	}
	for _, bad := range []string{"", "0x", "0x1234", "zz" + h[2:], h[2:]} {
		if Valid(bad) {
			t.Errorf("Valid(%q) = true, want false", bad)
		}
	}
}

func TestProcessName(t *testing.T) {
	h := "0xABCDEF0123456789aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	if got := ProcessName(h); got != "abcdef0123456789" {
		t.Errorf("ProcessName = %q", got)
	}
	if got := ProcessName(Hash("r", "b")); len(got) != ProcessNameLen {
		t.Errorf("ProcessName length = %d, want %d", len(got), ProcessNameLen)
	}
}

func TestBranchFromRef(t *testing.T) {
	got, err := BranchFromRef("refs/heads/feature/x")
	if err != nil || got != "feature/x" {
		t.Fatalf("BranchFromRef = %q, %v", got, err)
	}
	for _, ref := range []string{"refs/tags/v1", "refs/heads/", "main", ""} {
		if _, err := BranchFromRef(ref); !errors.Is(err, ErrNotBranchRef) {
			t.Errorf("BranchFromRef(%q) err = %v, want ErrNotBranchRef", ref, err)
		}
	}
}
