package registry

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ssd-technologies/gitagent/internal/identity"
)

// FactoryABI is the subset of the agent factory contract this package calls.
const FactoryABI = `[
 {"type":"function","name":"agents","stateMutability":"view",
  "inputs":[{"name":"branchHash","type":"bytes32"}],
  "outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"registerAgent","stateMutability":"nonpayable",
  "inputs":[{"name":"branchHash","type":"bytes32"}],
  "outputs":[{"name":"","type":"address"}]},
 {"type":"event","name":"AgentRegistered","anonymous":false,
  "inputs":[{"name":"owner","type":"address","indexed":true},
            {"name":"branchHash","type":"bytes32","indexed":true},
            {"name":"agentAddress","type":"address","indexed":false}]}
]`

const defaultConfirmTimeout = 2 * time.Minute

// EthConfig configures the go-ethereum registry client.
type EthConfig struct {
	RPCURL         string
	FactoryAddress string
	// PrivateKey is the hex signing key. Without it the client is read-only.
	PrivateKey     string
	ConfirmTimeout time.Duration
}

// Backend is what the registry needs from an Ethereum node connection.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Eth talks to the factory contract over JSON-RPC.
type Eth struct {
	backend  Backend
	factory  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	timeout  time.Duration
}

// DialEth connects to cfg.RPCURL and returns a registry client.
func DialEth(ctx context.Context, cfg EthConfig) (*Eth, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("registry rpc url is required")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewEth(client, cfg)
}

// NewEth builds a registry client over an existing backend.
func NewEth(backend Backend, cfg EthConfig) (*Eth, error) {
	parsed, err := abi.JSON(strings.NewReader(FactoryABI))
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	e := &Eth{backend: backend, abi: parsed, timeout: cfg.ConfirmTimeout}
	if e.timeout <= 0 {
		e.timeout = defaultConfirmTimeout
	}
	if cfg.FactoryAddress != "" {
		if !common.IsHexAddress(cfg.FactoryAddress) {
			return nil, fmt.Errorf("invalid factory address %q", cfg.FactoryAddress)
		}
		e.factory = common.HexToAddress(cfg.FactoryAddress)
		e.contract = bind.NewBoundContract(e.factory, parsed, backend, backend, backend)
	}
	if cfg.PrivateKey != "" {
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		e.key = key
	}
	return e, nil
}

// Writable reports whether Register can submit transactions.
func (e *Eth) Writable() bool {
	return e.contract != nil && e.key != nil
}

func (e *Eth) AgentAddress(ctx context.Context, branchHash string) (string, error) {
	if e.contract == nil {
		return "", fmt.Errorf("%w: no factory address configured", ErrUnavailable)
	}
	key, err := identity.Bytes32(branchHash)
	if err != nil {
		return "", err
	}
	var out []any
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "agents", key); err != nil {
		return "", fmt.Errorf("%w: call agents: %v", ErrUnavailable, err)
	}
	if len(out) != 1 {
		return "", fmt.Errorf("%w: agents returned %d values", ErrUnavailable, len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("%w: agents returned %T", ErrUnavailable, out[0])
	}
	if addr == (common.Address{}) {
		return "", nil
	}
	return addr.Hex(), nil
}

func (e *Eth) Register(ctx context.Context, branchHash string) (*Registration, error) {
	if !e.Writable() {
		return nil, fmt.Errorf("%w: registry is read-only", ErrUnavailable)
	}
	key, err := identity.Bytes32(branchHash)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	chainID, err := e.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %v", ErrUnavailable, err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(e.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := e.contract.Transact(opts, "registerAgent", key)
	if err != nil {
		return nil, fmt.Errorf("send registerAgent: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, e.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for registerAgent %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("registerAgent %s reverted", tx.Hash().Hex())
	}
	return &Registration{TxHash: tx.Hash().Hex(), Address: e.registeredAddress(receipt)}, nil
}

// registeredAddress extracts the agent address from an AgentRegistered log.
func (e *Eth) registeredAddress(receipt *types.Receipt) string {
	event, ok := e.abi.Events["AgentRegistered"]
	if !ok {
		return ""
	}
	for _, l := range receipt.Logs {
		if l == nil || l.Address != e.factory || len(l.Topics) == 0 || l.Topics[0] != event.ID {
			continue
		}
		var ev struct {
			Owner        common.Address
			BranchHash   [32]byte
			AgentAddress common.Address
		}
		if err := e.contract.UnpackLog(&ev, "AgentRegistered", *l); err != nil {
			continue
		}
		return ev.AgentAddress.Hex()
	}
	return ""
}
