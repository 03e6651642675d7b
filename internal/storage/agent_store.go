package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const agentColumns = `id, repo_url, branch_name, branch_hash, agent_address, status, pid, created_at, updated_at`

// CreateAgent inserts a new agent record. ID, timestamps and an empty status
// are filled in when unset.
func (d *DB) CreateAgent(a *Agent) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = StatusDeploying
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := d.exec(
		`INSERT INTO agents (`+agentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RepoURL, a.BranchName, a.BranchHash, nullString(a.AgentAddress), a.Status,
		nullInt(a.PID), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// GetAgentByBranchHash retrieves an agent by its branch hash.
func (d *DB) GetAgentByBranchHash(branchHash string) (*Agent, error) {
	a, err := scanAgent(d.queryRow(
		`SELECT `+agentColumns+` FROM agents WHERE branch_hash = ?`, branchHash,
	))
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// GetAgent retrieves an agent by ID.
func (d *DB) GetAgent(id string) (*Agent, error) {
	a, err := scanAgent(d.queryRow(
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id,
	))
	if err != nil {
		return nil, fmt.Errorf("get agent by id: %w", err)
	}
	return a, nil
}

// ListAgents returns all agents newest first, optionally filtered by repo URL.
func (d *DB) ListAgents(repoURL string) ([]Agent, error) {
	var rows *sql.Rows
	var err error
	if repoURL != "" {
		rows, err = d.query(`SELECT `+agentColumns+` FROM agents WHERE repo_url = ? ORDER BY created_at DESC`, repoURL)
	} else {
		rows, err = d.query(`SELECT ` + agentColumns + ` FROM agents ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return collectAgents(rows)
}

// ListAgentsByStatus returns agents whose status is one of statuses.
func (d *DB) ListAgentsByStatus(statuses ...string) ([]Agent, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	rows, err := d.query(`SELECT `+agentColumns+` FROM agents WHERE status IN (`+marks+`) ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents by status: %w", err)
	}
	return collectAgents(rows)
}

// UpdateAgent applies the non-nil fields of u and bumps updated_at.
func (d *DB) UpdateAgent(id string, u AgentUpdate) error {
	var sets []string
	var args []any
	if u.RepoURL != nil {
		sets = append(sets, "repo_url = ?")
		args = append(args, *u.RepoURL)
	}
	if u.BranchName != nil {
		sets = append(sets, "branch_name = ?")
		args = append(args, *u.BranchName)
	}
	if u.AgentAddress != nil {
		sets = append(sets, "agent_address = ?")
		args = append(args, *u.AgentAddress)
	}
	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if u.PID != nil {
		sets = append(sets, "pid = ?")
		args = append(args, *u.PID)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().UnixNano(), id)

	res, err := d.exec(`UPDATE agents SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update agent rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update agent: %w", ErrNotFound)
	}
	return nil
}

// SetAgentStatus is a shorthand for updating only the status.
func (d *DB) SetAgentStatus(id, status string) error {
	return d.UpdateAgent(id, AgentUpdate{Status: &status})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	a := &Agent{}
	var address sql.NullString
	var pid sql.NullInt64
	var created, updated int64
	err := row.Scan(&a.ID, &a.RepoURL, &a.BranchName, &a.BranchHash, &address, &a.Status, &pid, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if address.Valid {
		a.AgentAddress = &address.String
	}
	if pid.Valid {
		p := int(pid.Int64)
		a.PID = &p
	}
	a.CreatedAt = time.Unix(0, created).UTC()
	a.UpdatedAt = time.Unix(0, updated).UTC()
	return a, nil
}

func collectAgents(rows *sql.Rows) ([]Agent, error) {
	defer rows.Close()
	agents := []Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}
