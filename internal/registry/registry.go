// Package registry reads and writes the on-chain mapping from branch hash to
// agent contract address.
package registry

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the registry could not be consulted. Callers must
	// treat the address as unknown, not absent.
	ErrUnavailable = errors.New("registry unavailable")
	// ErrNotRegistered means a confirmed registration left no address behind.
	ErrNotRegistered = errors.New("agent not registered")
)

// Registration is the outcome of a confirmed registration transaction.
type Registration struct {
	TxHash string
	// Address is taken from the registration event when the receipt carries
	// one. It is informational; the registry read is authoritative.
	Address string
}

// Registry is the on-chain agent factory.
type Registry interface {
	// AgentAddress returns the address registered for branchHash, or "" when
	// the registry reports none.
	AgentAddress(ctx context.Context, branchHash string) (string, error)
	// Register submits a registration and waits for it to be mined.
	Register(ctx context.Context, branchHash string) (*Registration, error)
}
