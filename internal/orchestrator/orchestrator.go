// Package orchestrator drives an agent identity from a push event to a
// supervised process: registry reconciliation, record keeping, workspace
// materialization and launch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ssd-technologies/gitagent/internal/identity"
	"github.com/ssd-technologies/gitagent/internal/registry"
	"github.com/ssd-technologies/gitagent/internal/storage"
	"github.com/ssd-technologies/gitagent/internal/supervisor"
)

var (
	ErrUnknownAgent     = errors.New("agent not found")
	ErrWorkspaceMissing = errors.New("agent workspace not found")
	ErrQueueFull        = errors.New("deploy queue is full")
	ErrClosed           = errors.New("orchestrator is shut down")
	// ErrNoAddress means the agent has no confirmed on-chain address and
	// the registry could not supply one.
	ErrNoAddress = errors.New("agent has no confirmed address")
)

// Reserved process environment keys. Secrets never override them.
const (
	EnvContractAddress = "AGENT_CONTRACT_ADDRESS"
	EnvRepoURL         = "REPO_URL"
	EnvBranchName      = "BRANCH_NAME"
	EnvBackendURL      = "BACKEND_URL"
	EnvRPCURL          = "SOMNIA_RPC_URL"
	EnvBranchHash      = "BRANCH_HASH"
)

const defaultBranch = "main"

// Store is the agent persistence the orchestrator needs.
type Store interface {
	CreateAgent(a *storage.Agent) error
	GetAgentByBranchHash(branchHash string) (*storage.Agent, error)
	UpdateAgent(id string, u storage.AgentUpdate) error
	SetAgentStatus(id, status string) error
	ListAgentsByStatus(statuses ...string) ([]storage.Agent, error)
}

// Secrets yields the decrypted secrets of an agent.
type Secrets interface {
	Materialize(agentID string) (map[string]string, error)
}

// Workspaces materializes source checkouts.
type Workspaces interface {
	Ensure(ctx context.Context, branchHash, repoURL, branch string) (string, error)
	Install(ctx context.Context, dir string) error
	Exists(branchHash string) bool
	Path(branchHash string) (string, error)
}

// Supervisor launches and inspects agent processes.
type Supervisor interface {
	StartOrReload(ctx context.Context, branchHash, workdir string, env map[string]string) (int, error)
	Status(ctx context.Context, branchHash string) (*supervisor.ProcessInfo, error)
}

// Config tunes the orchestrator.
type Config struct {
	// BackendURL and RPCURL are handed to every agent process.
	BackendURL string
	RPCURL     string
	// Workers is the number of concurrent pipeline runs.
	Workers   int
	QueueSize int
	// PropagationDelay is waited between a confirmed registration and the
	// registry read that fetches the assigned address.
	PropagationDelay time.Duration
	// SweepInterval is the period of the liveness sweep. Zero disables it.
	SweepInterval time.Duration
}

// Orchestrator owns agent lifecycles. It is the only writer of agent status.
type Orchestrator struct {
	store    Store
	registry registry.Registry
	secrets  Secrets
	ws       Workspaces
	sup      Supervisor
	cfg      Config
	logger   *slog.Logger
	locks    *keyedMutex
	queue    *queue
}

// New wires an orchestrator. Call Run to start its workers.
func New(store Store, reg registry.Registry, secrets Secrets, ws Workspaces, sup Supervisor, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    store,
		registry: reg,
		secrets:  secrets,
		ws:       ws,
		sup:      sup,
		cfg:      cfg,
		logger:   logger,
		locks:    newKeyedMutex(),
		queue:    newQueue(cfg.QueueSize),
	}
}

// Deploy runs the full pipeline for a push to branch of repoURL and returns
// the resulting agent record.
func (o *Orchestrator) Deploy(ctx context.Context, repoURL, branch string) (*storage.Agent, error) {
	if repoURL == "" || branch == "" {
		return nil, errors.New("repo url and branch are required")
	}
	hash := identity.Hash(repoURL, branch)
	log := o.logger.With("branch_hash", hash, "repo_url", repoURL, "branch", branch)
	if id, ok := jobIDFrom(ctx); ok {
		log = log.With("job_id", id)
	}

	unlock := o.locks.Lock(hash)
	defer unlock()

	agent, err := o.reconcileRecord(ctx, log, hash, repoURL, branch)
	if err != nil {
		return agent, err
	}

	dir, err := o.ws.Ensure(ctx, hash, agent.RepoURL, agent.BranchName)
	if err != nil {
		o.fail(log, agent, err)
		return agent, err
	}
	if err := o.ws.Install(ctx, dir); err != nil {
		log.Warn("dependency install failed, launching anyway", "error", err)
	}
	if err := o.launch(ctx, log, agent, dir); err != nil {
		return agent, err
	}
	log.Info("deploy complete", "status", agent.Status, "pid", pidValue(agent.PID))
	return agent, nil
}

// reconcileRecord brings the store and the registry into agreement for one
// identity and returns the record to deploy.
func (o *Orchestrator) reconcileRecord(ctx context.Context, log *slog.Logger, hash, repoURL, branch string) (*storage.Agent, error) {
	onChain, regErr := o.registry.AgentAddress(ctx, hash)
	if regErr != nil {
		log.Warn("registry lookup failed, treating address as unknown", "error", regErr)
	}

	agent, err := o.store.GetAgentByBranchHash(hash)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load agent: %w", err)
	}

	if agent == nil {
		switch {
		case regErr != nil:
			agent = &storage.Agent{RepoURL: repoURL, BranchName: branch, BranchHash: hash, Status: storage.StatusError}
			if err := o.store.CreateAgent(agent); err != nil {
				return nil, err
			}
			return agent, fmt.Errorf("registry lookup: %w", regErr)

		case onChain != "":
			log.Info("recovering agent from registry", "agent_address", onChain)
			agent = &storage.Agent{RepoURL: repoURL, BranchName: branch, BranchHash: hash,
				AgentAddress: &onChain, Status: storage.StatusDeployed}
			if err := o.store.CreateAgent(agent); err != nil {
				return nil, err
			}
			return agent, nil

		default:
			addr, err := o.register(ctx, log, hash)
			if err != nil {
				agent = &storage.Agent{RepoURL: repoURL, BranchName: branch, BranchHash: hash, Status: storage.StatusError}
				if cerr := o.store.CreateAgent(agent); cerr != nil {
					log.Error("record registration failure", "error", cerr)
				}
				return agent, err
			}
			agent = &storage.Agent{RepoURL: repoURL, BranchName: branch, BranchHash: hash,
				AgentAddress: &addr, Status: storage.StatusDeploying}
			if err := o.store.CreateAgent(agent); err != nil {
				return nil, err
			}
			return agent, nil
		}
	}

	switch {
	case regErr == nil && onChain != "" && onChain != agent.Address():
		log.Info("registry reports new address", "agent_address", onChain, "previous", agent.Address())
		status := storage.StatusUpdating
		if err := o.store.UpdateAgent(agent.ID, storage.AgentUpdate{
			AgentAddress: &onChain, RepoURL: &repoURL, BranchName: &branch, Status: &status,
		}); err != nil {
			return agent, err
		}
		agent.AgentAddress, agent.RepoURL, agent.BranchName, agent.Status = &onChain, repoURL, branch, status

	case agent.AgentAddress == nil && regErr == nil && onChain == "":
		// An earlier registration attempt failed; this event is the retry.
		addr, err := o.register(ctx, log, hash)
		if err != nil {
			o.fail(log, agent, err)
			return agent, err
		}
		status := storage.StatusDeploying
		if err := o.store.UpdateAgent(agent.ID, storage.AgentUpdate{AgentAddress: &addr, Status: &status}); err != nil {
			return agent, err
		}
		agent.AgentAddress, agent.Status = &addr, status

	case agent.AgentAddress == nil:
		o.fail(log, agent, ErrNoAddress)
		return agent, ErrNoAddress
	}
	return agent, nil
}

// register submits a registration and returns the address the registry
// reports once it is confirmed.
func (o *Orchestrator) register(ctx context.Context, log *slog.Logger, hash string) (string, error) {
	log.Info("registering agent")
	reg, err := o.registry.Register(ctx, hash)
	if err != nil {
		return "", fmt.Errorf("register agent: %w", err)
	}
	log.Info("registration confirmed", "tx_hash", reg.TxHash, "event_address", reg.Address)

	if d := o.cfg.PropagationDelay; d > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(d):
		}
	}
	addr, err := o.registry.AgentAddress(ctx, hash)
	if err != nil {
		return "", fmt.Errorf("read address after registration: %w", err)
	}
	if addr == "" {
		return "", fmt.Errorf("after tx %s: %w", reg.TxHash, registry.ErrNotRegistered)
	}
	log.Info("agent registered", "agent_address", addr)
	return addr, nil
}

// Restart relaunches the process of a known identity from its existing
// workspace. The identity lock is held for the whole relaunch.
func (o *Orchestrator) Restart(ctx context.Context, branchHash string) (*storage.Agent, error) {
	log := o.logger.With("branch_hash", branchHash)

	unlock := o.locks.Lock(branchHash)
	defer unlock()

	agent, err := o.store.GetAgentByBranchHash(branchHash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnknownAgent
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if !o.ws.Exists(branchHash) {
		return agent, ErrWorkspaceMissing
	}
	log = log.With("repo_url", agent.RepoURL, "branch", agent.BranchName)

	dir, err := o.ws.Ensure(ctx, branchHash, agent.RepoURL, agent.BranchName)
	if err != nil {
		o.fail(log, agent, err)
		return agent, err
	}
	if err := o.ws.Install(ctx, dir); err != nil {
		log.Warn("dependency install failed, launching anyway", "error", err)
	}
	if err := o.launch(ctx, log, agent, dir); err != nil {
		return agent, err
	}
	log.Info("agent restarted", "pid", pidValue(agent.PID))
	return agent, nil
}

// launch starts the process with a freshly built environment and records
// the running state. Launch failures mark the agent as errored.
func (o *Orchestrator) launch(ctx context.Context, log *slog.Logger, agent *storage.Agent, dir string) error {
	env, err := o.environment(log, agent)
	if err != nil {
		o.fail(log, agent, err)
		return err
	}
	pid, err := o.sup.StartOrReload(ctx, agent.BranchHash, dir, env)
	if err != nil {
		o.fail(log, agent, err)
		return err
	}
	status := storage.StatusRunning
	if err := o.store.UpdateAgent(agent.ID, storage.AgentUpdate{Status: &status, PID: &pid}); err != nil {
		return fmt.Errorf("record running agent: %w", err)
	}
	agent.Status, agent.PID = status, &pid
	return nil
}

// environment merges the agent's secrets with the reserved variables.
func (o *Orchestrator) environment(log *slog.Logger, agent *storage.Agent) (map[string]string, error) {
	env, err := o.secrets.Materialize(agent.ID)
	if err != nil {
		return nil, err
	}
	if env == nil {
		env = make(map[string]string)
	}
	branch := agent.BranchName
	if branch == "" {
		branch = defaultBranch
	}
	reserved := map[string]string{
		EnvContractAddress: agent.Address(),
		EnvRepoURL:         agent.RepoURL,
		EnvBranchName:      branch,
		EnvBackendURL:      o.cfg.BackendURL,
		EnvRPCURL:          o.cfg.RPCURL,
		EnvBranchHash:      agent.BranchHash,
	}
	for k, v := range reserved {
		if _, clash := env[k]; clash {
			log.Warn("secret shadows reserved variable, ignoring secret", "key", k)
		}
		env[k] = v
	}
	return env, nil
}

// fail records the error status for agent. The cause is logged, not stored.
func (o *Orchestrator) fail(log *slog.Logger, agent *storage.Agent, cause error) {
	log.Error("pipeline failed", "error", cause)
	if agent == nil || agent.ID == "" {
		return
	}
	if err := o.store.SetAgentStatus(agent.ID, storage.StatusError); err != nil {
		log.Error("record error status", "error", err)
		return
	}
	agent.Status = storage.StatusError
}

func pidValue(pid *int) int {
	if pid == nil {
		return 0
	}
	return *pid
}
