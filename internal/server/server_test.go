package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ssd-technologies/gitagent/internal/identity"
	"github.com/ssd-technologies/gitagent/internal/orchestrator"
	"github.com/ssd-technologies/gitagent/internal/storage"
	"github.com/ssd-technologies/gitagent/internal/vault"
)

const (
	testRepo   = "https://github.com/acme/trader.git"
	testBranch = "main"
)

// setupTestDB creates a temporary SQLite database for testing.
func setupTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeDeployer struct {
	mu         sync.Mutex
	enqueued   []orchestrator.Job
	enqueueErr error
	restarts   []string
	restartErr error
	restarted  *storage.Agent
}

func (f *fakeDeployer) Enqueue(repoURL, branch string) (orchestrator.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := orchestrator.Job{ID: "job-1", RepoURL: repoURL, Branch: branch, BranchHash: identity.Hash(repoURL, branch)}
	if f.enqueueErr != nil {
		return j, f.enqueueErr
	}
	f.enqueued = append(f.enqueued, j)
	return j, nil
}

func (f *fakeDeployer) Restart(ctx context.Context, hash string) (*storage.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, hash)
	return f.restarted, f.restartErr
}

type fakeLogs struct{ dir string }

func (f fakeLogs) LogPaths(hash string) (string, string) {
	name := identity.ProcessName(hash)
	return filepath.Join(f.dir, name+"-out.log"), filepath.Join(f.dir, name+"-error.log")
}

type testEnv struct {
	srv      *Server
	db       *storage.DB
	deployer *fakeDeployer
	vault    *vault.Vault
	logDir   string
}

func setupTestServer(t *testing.T, opts Options) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	v, err := vault.New(db, "test-master", "", nil)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	d := &fakeDeployer{}
	logDir := t.TempDir()
	return &testEnv{
		srv:      New(db, d, v, fakeLogs{dir: logDir}, opts),
		db:       db,
		deployer: d,
		vault:    v,
		logDir:   logDir,
	}
}

func (e *testEnv) seedAgent(t *testing.T) *storage.Agent {
	t.Helper()
	addr := "0x00000000000000000000000000000000000000aa"
	a := &storage.Agent{
		RepoURL:      testRepo,
		BranchName:   testBranch,
		BranchHash:   identity.Hash(testRepo, testBranch),
		AgentAddress: &addr,
		Status:       storage.StatusRunning,
	}
	if err := e.db.CreateAgent(a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	return a
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.([]byte); ok {
			buf.Write(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t, Options{})
	rec := doJSON(t, env.srv, "GET", "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := decode(t, rec); body["status"] != "ok" || body["timestamp"] == "" {
		t.Fatalf("health body = %v", body)
	}
}

func pushPayload(ref string, deleted bool) []byte {
	raw, _ := json.Marshal(map[string]any{
		"ref":        ref,
		"deleted":    deleted,
		"repository": map[string]any{"clone_url": testRepo},
	})
	return raw
}

func TestWebhook_QueuesDeploy(t *testing.T) {
	env := setupTestServer(t, Options{})
	rec := doJSON(t, env.srv, "POST", "/webhook/github", pushPayload("refs/heads/main", false),
		map[string]string{"X-GitHub-Event": "push", "X-GitHub-Delivery": "d-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["status"] != "queued" || body["branch_hash"] != identity.Hash(testRepo, "main") {
		t.Fatalf("webhook body = %v", body)
	}
	if len(env.deployer.enqueued) != 1 || env.deployer.enqueued[0].Branch != "main" {
		t.Fatalf("enqueued = %+v", env.deployer.enqueued)
	}

	// Same delivery id again is acknowledged but not redeployed.
	rec = doJSON(t, env.srv, "POST", "/webhook/github", pushPayload("refs/heads/main", false),
		map[string]string{"X-GitHub-Event": "push", "X-GitHub-Delivery": "d-1"})
	if decode(t, rec)["status"] != "duplicate" || len(env.deployer.enqueued) != 1 {
		t.Fatalf("duplicate delivery redeployed: %s", rec.Body.String())
	}
}

func TestWebhook_IgnoredEvents(t *testing.T) {
	env := setupTestServer(t, Options{})
	tests := []struct {
		name    string
		event   string
		payload []byte
		want    string
	}{
		{"ping", "ping", []byte(`{"zen":"hi"}`), "pong"},
		{"other event", "issues", []byte(`{}`), "ignored"},
		{"tag push", "push", pushPayload("refs/tags/v1", false), "ignored"},
		{"branch deleted", "push", pushPayload("refs/heads/old", true), "ignored"},
		{"missing repository", "push", []byte(`{"ref":"refs/heads/main"}`), "ignored"},
		{"invalid json", "push", []byte(`{not json`), "ignored"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, env.srv, "POST", "/webhook/github", tt.payload, map[string]string{"X-GitHub-Event": tt.event})
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if got := decode(t, rec)["status"]; got != tt.want {
				t.Fatalf("status field = %v, want %s", got, tt.want)
			}
		})
	}
	if len(env.deployer.enqueued) != 0 {
		t.Fatalf("ignored events enqueued %d deploys", len(env.deployer.enqueued))
	}
}

func TestWebhook_QueueFullStillAcknowledged(t *testing.T) {
	env := setupTestServer(t, Options{})
	env.deployer.enqueueErr = orchestrator.ErrQueueFull
	rec := doJSON(t, env.srv, "POST", "/webhook/github", pushPayload("refs/heads/main", false), nil)
	if rec.Code != http.StatusOK || decode(t, rec)["status"] != "dropped" {
		t.Fatalf("queue full: status = %d; body = %s", rec.Code, rec.Body.String())
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhook_Signature(t *testing.T) {
	env := setupTestServer(t, Options{WebhookSecret: "hook-secret"})
	payload := pushPayload("refs/heads/main", false)

	rec := doJSON(t, env.srv, "POST", "/webhook/github", payload, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned: status = %d, want 401", rec.Code)
	}
	rec = doJSON(t, env.srv, "POST", "/webhook/github", payload,
		map[string]string{"X-Hub-Signature-256": sign("wrong", payload)})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature: status = %d, want 401", rec.Code)
	}
	rec = doJSON(t, env.srv, "POST", "/webhook/github", payload,
		map[string]string{"X-Hub-Signature-256": sign("hook-secret", payload)})
	if rec.Code != http.StatusOK {
		t.Fatalf("signed: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if len(env.deployer.enqueued) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(env.deployer.enqueued))
	}
}

func TestWebhook_ThrottledStillAcknowledged(t *testing.T) {
	env := setupTestServer(t, Options{WebhookRate: 2})
	body := pushPayload("refs/heads/"+testBranch, false)
	hdr := map[string]string{"X-GitHub-Event": "push"}
	for i := 0; i < 2; i++ {
		if rec := doJSON(t, env.srv, "POST", "/webhook/github", body, hdr); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := doJSON(t, env.srv, "POST", "/webhook/github", body, hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("third request: status = %d, want 200", rec.Code)
	}
	if got := decode(t, rec)["status"]; got != "throttled" {
		t.Fatalf("status = %v, want throttled", got)
	}
	env.deployer.mu.Lock()
	defer env.deployer.mu.Unlock()
	if len(env.deployer.enqueued) != 2 {
		t.Fatalf("enqueued %d jobs, want 2", len(env.deployer.enqueued))
	}
}

func TestWebhook_RedeliveryAfterDropIsQueued(t *testing.T) {
	env := setupTestServer(t, Options{})
	env.deployer.enqueueErr = orchestrator.ErrQueueFull
	body := pushPayload("refs/heads/"+testBranch, false)
	hdr := map[string]string{"X-GitHub-Event": "push", "X-GitHub-Delivery": "d-drop"}

	rec := doJSON(t, env.srv, "POST", "/webhook/github", body, hdr)
	if got := decode(t, rec)["status"]; rec.Code != http.StatusOK || got != "dropped" {
		t.Fatalf("first delivery: %d %v, want 200 dropped", rec.Code, got)
	}

	env.deployer.mu.Lock()
	env.deployer.enqueueErr = nil
	env.deployer.mu.Unlock()
	rec = doJSON(t, env.srv, "POST", "/webhook/github", body, hdr)
	if got := decode(t, rec)["status"]; got != "queued" {
		t.Fatalf("redelivery status = %v, want queued", got)
	}
	if len(env.deployer.enqueued) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(env.deployer.enqueued))
	}
}

func TestWebhook_RedeliveryAfterBadPayloadIsAccepted(t *testing.T) {
	env := setupTestServer(t, Options{})
	hdr := map[string]string{"X-GitHub-Event": "push", "X-GitHub-Delivery": "d-bad"}

	rec := doJSON(t, env.srv, "POST", "/webhook/github", []byte("{not json"), hdr)
	if got := decode(t, rec)["status"]; got != "ignored" {
		t.Fatalf("bad payload status = %v, want ignored", got)
	}
	rec = doJSON(t, env.srv, "POST", "/webhook/github", pushPayload("refs/heads/"+testBranch, false), hdr)
	if got := decode(t, rec)["status"]; got != "queued" {
		t.Fatalf("redelivery status = %v, want queued", got)
	}
}

func TestSaveSecret(t *testing.T) {
	env := setupTestServer(t, Options{})
	a := env.seedAgent(t)

	rec := doJSON(t, env.srv, "POST", "/api/secrets",
		map[string]string{"repo_url": testRepo, "branch_name": testBranch, "key": "API_KEY", "value": "s3cret"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("save secret: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	env2, err := env.vault.Materialize(a.ID)
	if err != nil || env2["API_KEY"] != "s3cret" {
		t.Fatalf("Materialize = %v, %v", env2, err)
	}

	rec = doJSON(t, env.srv, "GET", "/api/agents/"+a.BranchHash+"/secrets", nil, nil)
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), "s3cret") {
		t.Fatalf("list keys: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if keys := decode(t, rec)["keys"].([]any); len(keys) != 1 || keys[0] != "API_KEY" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestSaveSecret_Validation(t *testing.T) {
	env := setupTestServer(t, Options{})
	env.seedAgent(t)

	rec := doJSON(t, env.srv, "POST", "/api/secrets", map[string]string{"key": "K", "value": "v"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing identity: status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, env.srv, "POST", "/api/secrets",
		map[string]string{"branch_hash": identity.Hash(testRepo, testBranch), "key": "K"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing value: status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, env.srv, "POST", "/api/secrets",
		map[string]string{"branch_hash": identity.Hash(testRepo, "nope"), "key": "K", "value": "v"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown agent: status = %d, want 404", rec.Code)
	}
	rec = doJSON(t, env.srv, "POST", "/api/secrets", []byte("{"), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: status = %d, want 400", rec.Code)
	}
	for _, key := range []string{"A=B", "HAS SPACE", "NUL\x00"} {
		rec = doJSON(t, env.srv, "POST", "/api/secrets",
			map[string]string{"branch_hash": identity.Hash(testRepo, testBranch), "key": key, "value": "v"}, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("key %q: status = %d, want 400", key, rec.Code)
		}
	}
	rec = doJSON(t, env.srv, "POST", "/api/secrets",
		map[string]string{"branch_hash": identity.Hash(testRepo, testBranch), "key": "K", "value": "a\x00b"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("NUL value: status = %d, want 400", rec.Code)
	}
}

func TestAPIToken(t *testing.T) {
	env := setupTestServer(t, Options{APIToken: "tok"})
	a := env.seedAgent(t)
	env.deployer.restarted = a
	body := map[string]string{"branch_hash": a.BranchHash, "key": "K", "value": "v"}

	if rec := doJSON(t, env.srv, "POST", "/api/secrets", body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}
	if rec := doJSON(t, env.srv, "POST", "/api/agents/"+a.BranchHash+"/restart", nil,
		map[string]string{"Authorization": "Bearer nope"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d, want 401", rec.Code)
	}
	if rec := doJSON(t, env.srv, "POST", "/api/secrets", body,
		map[string]string{"Authorization": "Bearer tok"}); rec.Code != http.StatusOK {
		t.Fatalf("with token: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	// Reads stay open.
	if rec := doJSON(t, env.srv, "GET", "/api/agents", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("list agents: status = %d", rec.Code)
	}
}

func TestAgents_ListAndGet(t *testing.T) {
	env := setupTestServer(t, Options{})
	a := env.seedAgent(t)

	rec := doJSON(t, env.srv, "GET", "/api/agents?repo_url="+testRepo, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	if agents := decode(t, rec)["agents"].([]any); len(agents) != 1 {
		t.Fatalf("agents = %v", agents)
	}
	rec = doJSON(t, env.srv, "GET", "/api/agents?repo_url=https://other", nil, nil)
	if agents := decode(t, rec)["agents"].([]any); len(agents) != 0 {
		t.Fatalf("filtered agents = %v", agents)
	}

	rec = doJSON(t, env.srv, "GET", "/api/agents/"+a.BranchHash, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	got := decode(t, rec)["agent"].(map[string]any)
	if got["branch_hash"] != a.BranchHash || got["status"] != storage.StatusRunning {
		t.Fatalf("agent = %v", got)
	}
	if rec := doJSON(t, env.srv, "GET", "/api/agents/0xdead", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown: status = %d, want 404", rec.Code)
	}
}

func TestRestart_ErrorMapping(t *testing.T) {
	env := setupTestServer(t, Options{})
	a := env.seedAgent(t)
	path := "/api/agents/" + a.BranchHash + "/restart"

	env.deployer.restarted = a
	if rec := doJSON(t, env.srv, "POST", path, nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("restart: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	env.deployer.restartErr = orchestrator.ErrWorkspaceMissing
	if rec := doJSON(t, env.srv, "POST", path, nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing workspace: status = %d, want 404", rec.Code)
	}
	env.deployer.restartErr = orchestrator.ErrUnknownAgent
	if rec := doJSON(t, env.srv, "POST", path, nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown agent: status = %d, want 404", rec.Code)
	}
	env.deployer.restartErr = os.ErrPermission
	if rec := doJSON(t, env.srv, "POST", path, nil, nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("launch failure: status = %d, want 500", rec.Code)
	}
}

func TestMetrics_RecordListStats(t *testing.T) {
	env := setupTestServer(t, Options{})
	a := env.seedAgent(t)

	for _, m := range []map[string]any{
		{"branch_hash": a.BranchHash, "decision": "BUY - momentum", "price": 1.5, "trade_executed": true, "trade_tx_hash": "0xtx", "trade_amount": 10},
		{"repo_url": testRepo, "branch_name": testBranch, "decision": "HOLD", "price": 2.5},
	} {
		if rec := doJSON(t, env.srv, "POST", "/api/metrics", m, nil); rec.Code != http.StatusOK {
			t.Fatalf("record metric: status = %d; body = %s", rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, env.srv, "GET", "/api/metrics/"+a.BranchHash, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list metrics: status = %d", rec.Code)
	}
	if metrics := decode(t, rec)["metrics"].([]any); len(metrics) != 2 {
		t.Fatalf("metrics = %v", metrics)
	}

	rec = doJSON(t, env.srv, "GET", "/api/stats/"+a.BranchHash, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status = %d", rec.Code)
	}
	stats := decode(t, rec)["stats"].(map[string]any)
	if stats["total_decisions"] != 2.0 || stats["buy_count"] != 1.0 || stats["hold_count"] != 1.0 || stats["trades_executed"] != 1.0 {
		t.Fatalf("stats = %v", stats)
	}
	if stats["avg_price"] != 2.0 {
		t.Fatalf("avg_price = %v, want 2", stats["avg_price"])
	}
}

func TestMetrics_Validation(t *testing.T) {
	env := setupTestServer(t, Options{MetricsRate: 3})
	a := env.seedAgent(t)

	if rec := doJSON(t, env.srv, "POST", "/api/metrics", map[string]any{"branch_hash": a.BranchHash}, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing decision: status = %d, want 400", rec.Code)
	}
	if rec := doJSON(t, env.srv, "POST", "/api/metrics", map[string]any{"branch_hash": "0xdead", "decision": "HOLD"}, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown agent: status = %d, want 404", rec.Code)
	}
	if rec := doJSON(t, env.srv, "GET", "/api/metrics/"+a.BranchHash+"?limit=x", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: status = %d, want 400", rec.Code)
	}
	doJSON(t, env.srv, "POST", "/api/metrics", map[string]any{"branch_hash": a.BranchHash, "decision": "HOLD"}, nil)
	if rec := doJSON(t, env.srv, "POST", "/api/metrics", map[string]any{"branch_hash": a.BranchHash, "decision": "HOLD"}, nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("fourth metric: status = %d, want 429", rec.Code)
	}
}

func TestLogs(t *testing.T) {
	env := setupTestServer(t, Options{})
	a := env.seedAgent(t)
	path := "/api/logs/" + a.BranchHash

	rec := doJSON(t, env.srv, "GET", path, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logs: status = %d", rec.Code)
	}
	if logs := decode(t, rec)["logs"].([]any); len(logs) != 1 || logs[0] != "No logs available yet" {
		t.Fatalf("logs = %v", logs)
	}

	out, _ := fakeLogs{dir: env.logDir}.LogPaths(a.BranchHash)
	if err := os.WriteFile(out, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec = doJSON(t, env.srv, "GET", path+"?lines=2", nil, nil)
	logs := decode(t, rec)["logs"].([]any)
	if len(logs) != 2 || logs[0] != "two" || logs[1] != "three" {
		t.Fatalf("logs = %v", logs)
	}
	if rec := doJSON(t, env.srv, "GET", path+"?lines=abc", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad lines: status = %d, want 400", rec.Code)
	}
	if rec := doJSON(t, env.srv, "GET", "/api/logs/0xdead", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown agent: status = %d, want 404", rec.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := setupTestServer(t, Options{})
	rec := doJSON(t, env.srv, "OPTIONS", "/api/secrets", nil, nil)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight: status = %d, headers = %v", rec.Code, rec.Header())
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	if err := verifySignature([]byte("k"), body, sign("k", body)); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	for _, sig := range []string{"", "sha256=zz", sign("other", body)} {
		if err := verifySignature([]byte("k"), body, sig); err == nil {
			t.Errorf("signature %q accepted", sig)
		}
	}
}

func TestDeliveryCache(t *testing.T) {
	c := newDeliveryCache(0)
	if !c.add("a") {
		t.Fatal("first add should be new")
	}
	if !c.add("a") {
		t.Fatal("zero ttl should forget immediately")
	}
	c = newDeliveryCache(testHour)
	c.add("a")
	if c.add("a") {
		t.Fatal("repeat within ttl should be a duplicate")
	}
	if n := c.prune(); n != 0 {
		t.Fatalf("prune removed %d live entries", n)
	}
}
