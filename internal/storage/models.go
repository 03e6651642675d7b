// internal/storage/models.go
package storage

import "time"

// Agent lifecycle states. Only the orchestrator writes them.
const (
	StatusDeploying = "deploying"
	StatusDeployed  = "deployed"
	StatusUpdating  = "updating"
	StatusRunning   = "running"
	StatusError     = "error"
)

// Agent is the durable record for one (repository, branch) identity.
type Agent struct {
	ID           string    `json:"id"`
	RepoURL      string    `json:"repo_url"`
	BranchName   string    `json:"branch_name"`
	BranchHash   string    `json:"branch_hash"`
	AgentAddress *string   `json:"agent_address"`
	Status       string    `json:"status"`
	PID          *int      `json:"pid"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Address returns the agent address or "" when none has been confirmed.
func (a *Agent) Address() string {
	if a.AgentAddress == nil {
		return ""
	}
	return *a.AgentAddress
}

// AgentUpdate lists the fields to change on an agent. Nil fields are left alone.
type AgentUpdate struct {
	RepoURL      *string
	BranchName   *string
	AgentAddress *string
	Status       *string
	PID          *int
}

// Secret is a named, encrypted value scoped to one agent.
type Secret struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	Key            string    `json:"key"`
	EncryptedValue string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Metric is one decision observation reported by a running agent.
type Metric struct {
	ID            string    `json:"id"`
	AgentID       string    `json:"agent_id"`
	Decision      string    `json:"decision"`
	Price         *float64  `json:"price"`
	Timestamp     time.Time `json:"timestamp"`
	TradeExecuted bool      `json:"trade_executed"`
	TradeTxHash   *string   `json:"trade_tx_hash"`
	TradeAmount   *float64  `json:"trade_amount"`
}

// AgentStats aggregates the metrics of one agent.
type AgentStats struct {
	TotalDecisions int64    `json:"total_decisions"`
	BuyCount       int64    `json:"buy_count"`
	HoldCount      int64    `json:"hold_count"`
	TradesExecuted int64    `json:"trades_executed"`
	AvgPrice       *float64 `json:"avg_price"`
	MinPrice       *float64 `json:"min_price"`
	MaxPrice       *float64 `json:"max_price"`
}
