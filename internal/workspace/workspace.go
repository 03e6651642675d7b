// Package workspace materializes one source checkout per agent identity.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ssd-technologies/gitagent/internal/execx"
	"github.com/ssd-technologies/gitagent/internal/identity"
)

// Manager owns the directory tree root/<branch_hash>.
type Manager struct {
	root    string
	runner  execx.CommandRunner
	install []string
	logger  *slog.Logger
}

// New returns a Manager rooted at root. install is the dependency install
// command run inside each checkout; an empty slice disables the step.
func New(root string, runner execx.CommandRunner, install []string, logger *slog.Logger) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{root: abs, runner: runner, install: install, logger: logger}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string { return m.root }

// Path returns the checkout directory for an identity. It does not touch
// the filesystem.
func (m *Manager) Path(branchHash string) (string, error) {
	if !identity.Valid(branchHash) {
		return "", fmt.Errorf("invalid branch hash %q", branchHash)
	}
	return filepath.Join(m.root, strings.ToLower(branchHash)), nil
}

// Exists reports whether the checkout directory for an identity is present.
func (m *Manager) Exists(branchHash string) bool {
	p, err := m.Path(branchHash)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// Ensure clones the branch when the checkout is absent and pulls otherwise.
// A failed clone is returned as an error; a failed pull is logged and the
// existing checkout is used as is.
func (m *Manager) Ensure(ctx context.Context, branchHash, repoURL, branch string) (string, error) {
	p, err := m.Path(branchHash)
	if err != nil {
		return "", err
	}
	log := m.logger.With("branch_hash", branchHash, "repo_url", repoURL, "branch", branch)

	if _, err := os.Stat(p); err == nil {
		res, err := m.runner.Run(ctx, "git", []string{"pull"}, execx.RunOpts{Dir: p})
		switch {
		case err != nil:
			log.Warn("pull failed, using existing checkout", "error", err)
		case res.ExitCode != 0:
			log.Warn("pull failed, using existing checkout", "error", execx.ExitError("git pull", res))
		default:
			log.Info("repository pulled", "path", p)
		}
		return p, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat workspace: %w", err)
	}

	args := []string{"clone", "--branch", branch, "--", repoURL, p}
	res, err := m.runner.Run(ctx, "git", args, execx.RunOpts{Dir: m.root})
	if err == nil && res.ExitCode != 0 {
		err = execx.ExitError("git clone", res)
	}
	if err != nil {
		// Leave no half-written directory behind, or the next run would pull into it.
		os.RemoveAll(p)
		return "", fmt.Errorf("clone repository: %w", err)
	}
	log.Info("repository cloned", "path", p)
	return p, nil
}

// Install runs the dependency install command inside dir.
func (m *Manager) Install(ctx context.Context, dir string) error {
	if len(m.install) == 0 {
		return nil
	}
	res, err := m.runner.Run(ctx, m.install[0], m.install[1:], execx.RunOpts{Dir: dir})
	if err != nil {
		return fmt.Errorf("install dependencies: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("install dependencies: %w", execx.ExitError(strings.Join(m.install, " "), res))
	}
	return nil
}
