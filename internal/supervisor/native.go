package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"
)

// passthroughEnv lists the parent variables a supervised process inherits.
// Everything else comes from App.Env.
var passthroughEnv = []string{"PATH", "HOME", "USER", "LANG", "TZ", "TMPDIR"}

const stopGrace = 5 * time.Second

type nativeProc struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}
}

// Native supervises child processes of the current binary. Children do not
// outlive the supervisor; Close stops them all.
type Native struct {
	mu    sync.Mutex
	procs map[string]*nativeProc
}

// NewNative returns an empty native process manager.
func NewNative() *Native {
	return &Native{procs: make(map[string]*nativeProc)}
}

func (n *Native) Describe(ctx context.Context, name string) (*ProcessInfo, error) {
	n.mu.Lock()
	p, ok := n.procs[name]
	n.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	select {
	case <-p.done:
		return &ProcessInfo{Name: name, State: StateStopped}, nil
	default:
		return &ProcessInfo{Name: name, PID: p.pid, State: StateOnline}, nil
	}
}

func (n *Native) Start(ctx context.Context, app App) (*ProcessInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.procs[app.Name]; ok {
		select {
		case <-p.done:
		default:
			return nil, fmt.Errorf("process %s already running", app.Name)
		}
	}

	stdout, err := openLog(app.OutLog)
	if err != nil {
		return nil, err
	}
	stderr, err := openLog(app.ErrLog)
	if err != nil {
		stdout.Close()
		return nil, err
	}

	// Not CommandContext: the process outlives the request that started it.
	cmd := exec.Command(app.Command, app.Args...)
	cmd.Dir = app.Dir
	cmd.Env = buildEnv(app.Env)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("exec %s: %w", app.Command, err)
	}

	p := &nativeProc{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		cmd.Wait()
		stdout.Close()
		stderr.Close()
		close(p.done)
	}()
	n.procs[app.Name] = p
	return &ProcessInfo{Name: app.Name, PID: p.pid, State: StateOnline}, nil
}

// Delete stops the named process. The entry stays tracked until the
// process has exited, so a failed stop still blocks a second Start.
func (n *Native) Delete(ctx context.Context, name string) error {
	n.mu.Lock()
	p, ok := n.procs[name]
	n.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if err := stop(ctx, p); err != nil {
		return err
	}
	n.mu.Lock()
	if n.procs[name] == p {
		delete(n.procs, name)
	}
	n.mu.Unlock()
	return nil
}

// Close stops every supervised process.
func (n *Native) Close(ctx context.Context) error {
	n.mu.Lock()
	procs := n.procs
	n.procs = make(map[string]*nativeProc)
	n.mu.Unlock()

	var firstErr error
	for _, p := range procs {
		if err := stop(ctx, p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func stop(ctx context.Context, p *nativeProc) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.cmd.Process.Kill()
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(stopGrace):
	case <-ctx.Done():
	}
	if err := p.cmd.Process.Kill(); err != nil {
		select {
		case <-p.done:
			return nil
		default:
		}
		return fmt.Errorf("kill pid %d: %w", p.pid, err)
	}
	<-p.done
	return nil
}

func openLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	return f, nil
}

func buildEnv(env map[string]string) []string {
	out := make([]string, 0, len(passthroughEnv)+len(env))
	for _, k := range passthroughEnv {
		if _, override := env[k]; override {
			continue
		}
		if v, ok := os.LookupEnv(k); ok {
			out = append(out, k+"="+v)
		}
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
