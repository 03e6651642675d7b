package registry

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/sha3"
)

// Memory is an in-process registry for local development and tests.
// Addresses are derived from the branch hash so they are stable across runs.
type Memory struct {
	mu        sync.Mutex
	agents    map[string]string
	registers int
	down      bool
}

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{agents: make(map[string]string)}
}

// SetAvailable toggles whether calls fail with ErrUnavailable.
func (m *Memory) SetAvailable(ok bool) {
	m.mu.Lock()
	m.down = !ok
	m.mu.Unlock()
}

// Seed records an address as if it had been registered elsewhere.
func (m *Memory) Seed(branchHash, address string) {
	m.mu.Lock()
	m.agents[strings.ToLower(branchHash)] = address
	m.mu.Unlock()
}

// Registrations returns how many registrations were submitted.
func (m *Memory) Registrations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registers
}

func (m *Memory) AgentAddress(ctx context.Context, branchHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return "", ErrUnavailable
	}
	return m.agents[strings.ToLower(branchHash)], nil
}

func (m *Memory) Register(ctx context.Context, branchHash string) (*Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrUnavailable
	}
	m.registers++
	key := strings.ToLower(branchHash)
	addr, ok := m.agents[key]
	if !ok {
		addr = MemoryAddress(branchHash)
		m.agents[key] = addr
	}
	return &Registration{TxHash: fmt.Sprintf("0x%064x", m.registers), Address: addr}, nil
}

// MemoryAddress is the address Memory assigns to branchHash.
func MemoryAddress(branchHash string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("agent:" + strings.ToLower(branchHash)))
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:])
}
