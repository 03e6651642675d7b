package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ssd-technologies/gitagent/internal/identity"
	"github.com/ssd-technologies/gitagent/internal/orchestrator"
	"github.com/ssd-technologies/gitagent/internal/server"
	"github.com/ssd-technologies/gitagent/internal/storage"
	"github.com/ssd-technologies/gitagent/internal/vault"
)

const testRepo = "https://github.com/acme/trader.git"

type noopDeployer struct{}

func (noopDeployer) Enqueue(repoURL, branch string) (orchestrator.Job, error) {
	return orchestrator.Job{}, nil
}

func (noopDeployer) Restart(ctx context.Context, hash string) (*storage.Agent, error) {
	return nil, orchestrator.ErrWorkspaceMissing
}

type tmpLogs string

func (d tmpLogs) LogPaths(hash string) (string, string) {
	return filepath.Join(string(d), "out.log"), filepath.Join(string(d), "err.log")
}

func startServer(t *testing.T) (string, *storage.DB) {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	v, err := vault.New(db, "master", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(server.New(db, noopDeployer{}, v, tmpLogs(t.TempDir()), server.Options{}))
	t.Cleanup(ts.Close)
	return ts.URL, db
}

func executeCmd(args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHash(t *testing.T) {
	out, err := executeCmd("hash", testRepo, "main")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != identity.Hash(testRepo, "main") {
		t.Fatalf("hash output = %q", out)
	}
}

func TestAgentsAndSecrets(t *testing.T) {
	url, db := startServer(t)
	a := &storage.Agent{RepoURL: testRepo, BranchName: "main", BranchHash: identity.Hash(testRepo, "main"), Status: storage.StatusRunning}
	if err := db.CreateAgent(a); err != nil {
		t.Fatal(err)
	}

	out, err := executeCmd("--server", url, "agents", "ls")
	if err != nil {
		t.Fatalf("agents ls: %v", err)
	}
	if !strings.Contains(out, a.BranchHash) || !strings.Contains(out, "running") {
		t.Fatalf("agents ls output = %q", out)
	}

	out, err = executeCmd("--server", url, "--json", "agents", "get", a.BranchHash)
	if err != nil || !strings.Contains(out, `"branch_hash": "`+a.BranchHash+`"`) {
		t.Fatalf("agents get --json = %q, %v", out, err)
	}

	if _, err := executeCmd("--server", url, "secrets", "set", "K", "V"); err == nil {
		t.Fatal("secrets set without identity should fail")
	}
	if _, err := executeCmd("--server", url, "secrets", "set", "--repo", testRepo, "--branch", "main", "API_KEY", "v"); err != nil {
		t.Fatalf("secrets set: %v", err)
	}
	out, err = executeCmd("--server", url, "secrets", "ls", a.BranchHash)
	if err != nil || strings.TrimSpace(out) != "API_KEY" {
		t.Fatalf("secrets ls = %q, %v", out, err)
	}

	if _, err := executeCmd("--server", url, "agents", "restart", a.BranchHash); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("restart err = %v, want 404", err)
	}

	out, err = executeCmd("--server", url, "metrics", "stats", a.BranchHash)
	if err != nil || !strings.Contains(out, "Decisions:       0") {
		t.Fatalf("metrics stats = %q, %v", out, err)
	}
}
