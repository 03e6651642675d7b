package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ssd-technologies/gitagent/internal/identity"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func newNativeAdapter(t *testing.T, script string) (*Adapter, *Native) {
	t.Helper()
	n := NewNative()
	t.Cleanup(func() { n.Close(context.Background()) })
	a, err := NewAdapter(n, filepath.Join(t.TempDir(), "logs"), []string{"/bin/sh", "-c", script}, nil)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return a, n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met within 5s")
}

func TestNative_BackToBackRestartReplacesProcess(t *testing.T) {
	skipOnWindows(t)
	a, n := newNativeAdapter(t, "sleep 30")
	hash := identity.Hash("https://github.com/o/r.git", "main")
	ctx := context.Background()

	pid1, err := a.StartOrReload(ctx, hash, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("first StartOrReload: %v", err)
	}
	n.mu.Lock()
	first := n.procs[identity.ProcessName(hash)]
	n.mu.Unlock()

	pid2, err := a.StartOrReload(ctx, hash, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("second StartOrReload: %v", err)
	}
	if pid1 == pid2 {
		t.Fatalf("pid unchanged after restart: %d", pid1)
	}
	select {
	case <-first.done:
	default:
		t.Fatal("first process still running after restart")
	}

	info, err := a.Status(ctx, hash)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !info.Alive() || info.PID != pid2 {
		t.Fatalf("Status = %+v, want online pid %d", info, pid2)
	}
	n.mu.Lock()
	count := len(n.procs)
	n.mu.Unlock()
	if count != 1 {
		t.Fatalf("tracked processes = %d, want 1", count)
	}
}

func TestNative_EnvAndLogs(t *testing.T) {
	skipOnWindows(t)
	t.Setenv("MASTER_SECRET_KEY", "must-not-leak")
	a, _ := newNativeAdapter(t, `echo "addr=$AGENT_CONTRACT_ADDRESS master=$MASTER_SECRET_KEY"; echo boom >&2`)
	hash := identity.Hash("https://github.com/o/r.git", "dev")
	ctx := context.Background()

	if _, err := a.StartOrReload(ctx, hash, t.TempDir(), map[string]string{"AGENT_CONTRACT_ADDRESS": "0xabc"}); err != nil {
		t.Fatalf("StartOrReload: %v", err)
	}
	waitFor(t, func() bool {
		info, err := a.Status(ctx, hash)
		return err == nil && !info.Alive()
	})

	out, errLog := a.LogPaths(hash)
	if filepath.Base(out) != identity.ProcessName(hash)+"-out.log" {
		t.Fatalf("out log = %s", out)
	}
	stdout, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read out log: %v", err)
	}
	if got := strings.TrimSpace(string(stdout)); got != "addr=0xabc master=" {
		t.Fatalf("stdout = %q", got)
	}
	stderr, err := os.ReadFile(errLog)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	if strings.TrimSpace(string(stderr)) != "boom" {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestNative_DescribeAndDeleteUnknown(t *testing.T) {
	n := NewNative()
	if _, err := n.Describe(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("Describe err = %v, want ErrNotFound", err)
	}
	if err := n.Delete(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("Delete err = %v, want ErrNotFound", err)
	}
}

func TestNative_DeleteKeepsProcessWhenStopFails(t *testing.T) {
	skipOnWindows(t)
	// A reaped child refuses every signal, and done never closes, so stop
	// cannot confirm the exit.
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	n := NewNative()
	n.procs["stuck"] = &nativeProc{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Delete(ctx, "stuck"); err == nil {
		t.Fatal("expected Delete to fail")
	}
	info, err := n.Describe(context.Background(), "stuck")
	if err != nil || !info.Alive() {
		t.Fatalf("Describe after failed Delete = %+v, %v", info, err)
	}
	if _, err := n.Start(context.Background(), App{Name: "stuck", Command: "/bin/true"}); err == nil {
		t.Fatal("Start must refuse while the old process is still tracked")
	}
}

func TestNative_StartFailure(t *testing.T) {
	n := NewNative()
	dir := t.TempDir()
	_, err := n.Start(context.Background(), App{
		Name:    "broken",
		Command: filepath.Join(dir, "no-such-interpreter"),
		Dir:     dir,
		OutLog:  filepath.Join(dir, "out.log"),
		ErrLog:  filepath.Join(dir, "err.log"),
	})
	if err == nil {
		t.Fatal("expected start failure")
	}
	if _, err := n.Describe(context.Background(), "broken"); err != ErrNotFound {
		t.Fatalf("failed start should not be tracked: %v", err)
	}
}

func TestResolveInterpreter(t *testing.T) {
	skipOnWindows(t)
	workdir := t.TempDir()
	if got := resolveInterpreter(workdir, "ts-node"); got != "ts-node" {
		t.Fatalf("without local bin = %q, want ts-node", got)
	}

	bin := filepath.Join(workdir, "node_modules", ".bin")
	pkg := filepath.Join(workdir, "node_modules", "ts-node", "dist")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(pkg, 0o755); err != nil {
		t.Fatal(err)
	}
	real := filepath.Join(pkg, "bin.js")
	if err := os.WriteFile(real, []byte("#!/usr/bin/env node\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(real, filepath.Join(bin, "ts-node")); err != nil {
		t.Fatal(err)
	}
	got := resolveInterpreter(workdir, "ts-node")
	want, _ := filepath.EvalSymlinks(real)
	if got != want {
		t.Fatalf("resolveInterpreter = %q, want %q", got, want)
	}
	if got := resolveInterpreter(workdir, "/usr/bin/node"); got != "/usr/bin/node" {
		t.Fatalf("absolute command rewritten to %q", got)
	}
}
