// Package supervisor starts and tracks one named OS process per agent
// identity through a pluggable process manager.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ssd-technologies/gitagent/internal/identity"
)

// ErrNotFound is returned by a Manager for a name it does not know.
var ErrNotFound = errors.New("process not found")

// Process states reported by Describe.
const (
	StateOnline  = "online"
	StateStopped = "stopped"
)

// App describes a process to launch.
type App struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	OutLog  string
	ErrLog  string
}

// ProcessInfo is a manager's view of one named process.
type ProcessInfo struct {
	Name  string `json:"name"`
	PID   int    `json:"pid"`
	State string `json:"state"`
}

// Alive reports whether the process is running.
func (p *ProcessInfo) Alive() bool {
	return p != nil && p.State == StateOnline && p.PID > 0
}

// Manager is a process control plane.
type Manager interface {
	Describe(ctx context.Context, name string) (*ProcessInfo, error)
	Start(ctx context.Context, app App) (*ProcessInfo, error)
	Delete(ctx context.Context, name string) error
}

// Adapter derives process names from identities and applies the
// delete-then-start policy so every launch gets a fresh environment.
type Adapter struct {
	mgr     Manager
	logsDir string
	command []string
	logger  *slog.Logger
}

// NewAdapter returns an Adapter launching command (interpreter first, then
// its arguments) inside each workspace.
func NewAdapter(mgr Manager, logsDir string, command []string, logger *slog.Logger) (*Adapter, error) {
	if len(command) == 0 {
		return nil, errors.New("agent command is empty")
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{mgr: mgr, logsDir: logsDir, command: command, logger: logger}, nil
}

// LogPaths returns the stdout and stderr log files of an identity.
func (a *Adapter) LogPaths(branchHash string) (out, errLog string) {
	name := identity.ProcessName(branchHash)
	return filepath.Join(a.logsDir, name+"-out.log"), filepath.Join(a.logsDir, name+"-error.log")
}

// Status describes the process of an identity.
func (a *Adapter) Status(ctx context.Context, branchHash string) (*ProcessInfo, error) {
	return a.mgr.Describe(ctx, identity.ProcessName(branchHash))
}

// StartOrReload launches the identity's process in workdir with env,
// deleting any existing process of the same name first. It returns the pid
// of the new process.
func (a *Adapter) StartOrReload(ctx context.Context, branchHash, workdir string, env map[string]string) (int, error) {
	name := identity.ProcessName(branchHash)
	log := a.logger.With("branch_hash", branchHash, "process", name)

	if _, err := a.mgr.Describe(ctx, name); err == nil {
		if err := a.mgr.Delete(ctx, name); err != nil && !errors.Is(err, ErrNotFound) {
			return 0, fmt.Errorf("delete existing process %s: %w", name, err)
		}
		log.Info("existing process deleted")
	} else if !errors.Is(err, ErrNotFound) {
		log.Warn("describe process failed", "error", err)
	}

	out, errLog := a.LogPaths(branchHash)
	app := App{
		Name:    name,
		Command: resolveInterpreter(workdir, a.command[0]),
		Args:    a.command[1:],
		Dir:     workdir,
		Env:     env,
		OutLog:  out,
		ErrLog:  errLog,
	}
	info, err := a.mgr.Start(ctx, app)
	if err != nil {
		return 0, fmt.Errorf("start process %s: %w", name, err)
	}
	log.Info("process started", "pid", info.PID)
	return info.PID, nil
}

// resolveInterpreter prefers a workspace-local node_modules/.bin binary for a
// bare command name, following symlinks to the real file.
func resolveInterpreter(workdir, cmd string) string {
	if strings.ContainsRune(cmd, filepath.Separator) || strings.ContainsRune(cmd, '/') {
		return cmd
	}
	local := filepath.Join(workdir, "node_modules", ".bin", cmd)
	if _, err := os.Stat(local); err != nil {
		return cmd
	}
	if real, err := filepath.EvalSymlinks(local); err == nil {
		return real
	}
	return local
}
