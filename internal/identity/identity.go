// Package identity derives the stable key that ties a (repository, branch)
// pair to its on-chain registry slot, database row, workspace directory and
// supervised process name.
package identity

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ProcessNameLen is the number of hex characters kept for process names.
const ProcessNameLen = 16

const headsPrefix = "refs/heads/"

// ErrNotBranchRef is returned by BranchFromRef for refs that do not name a branch.
var ErrNotBranchRef = errors.New("ref is not a branch ref")

// Hash returns the 0x-prefixed Keccak-256 of repoURL + "/" + branch.
//
// The inputs are hashed exactly as given. External tooling computes the same
// value to address the registry, so no trimming or case folding is applied.
func Hash(repoURL, branch string) string {
	return keccakHex(repoURL + "/" + branch)
}

func keccakHex(s string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(s))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// Bytes32 decodes a hash produced by Hash into its raw 32-byte form.
func Bytes32(hash string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(hash, "0x"))
	if err != nil {
		return out, err
	}
	if len(raw) != len(out) {
		return out, errors.New("branch hash must be 32 bytes")
	}
	copy(out[:], raw)
	return out, nil
}

// Valid reports whether s looks like a hash produced by Hash.
func Valid(s string) bool {
	_, err := Bytes32(s)
	return err == nil && strings.HasPrefix(s, "0x")
}

// ProcessName returns the fixed-width process name for a branch hash. Anything
// that knows the hash can rebuild the name, which lets the orchestrator find
// its processes again after a restart.
func ProcessName(hash string) string {
	name := strings.ToLower(strings.TrimPrefix(hash, "0x"))
	if len(name) > ProcessNameLen {
		name = name[:ProcessNameLen]
	}
	return name
}

// BranchFromRef extracts the branch name from a "refs/heads/<branch>" ref.
func BranchFromRef(ref string) (string, error) {
	if !strings.HasPrefix(ref, headsPrefix) {
		return "", ErrNotBranchRef
	}
	branch := strings.TrimPrefix(ref, headsPrefix)
	if branch == "" {
		return "", ErrNotBranchRef
	}
	return branch, nil
}
