// Package execx runs external commands (git, the package manager, pm2)
// behind an interface so callers can be tested without a shell.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// maxStderrLen bounds the stderr included in error messages.
const maxStderrLen = 4096

// RunOpts configures one command invocation.
type RunOpts struct {
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Env is appended to the parent environment when non-nil.
	Env []string
}

// CmdResult is the outcome of a command that executed.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner executes commands. A non-zero exit is reported through
// CmdResult.ExitCode; err is reserved for commands that could not run.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, opts RunOpts) (CmdResult, error)
}

// RealRunner runs commands with os/exec.
type RealRunner struct{}

// NewRealRunner returns a CommandRunner backed by os/exec.
func NewRealRunner() *RealRunner { return &RealRunner{} }

func (RealRunner) Run(ctx context.Context, name string, args []string, opts RunOpts) (CmdResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := CmdResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("run %s: %w", name, err)
	}
	return res, nil
}

// ExitError formats a failed command for error messages.
func ExitError(op string, res CmdResult) error {
	stderr := strings.TrimSpace(res.Stderr)
	if len(stderr) > maxStderrLen {
		stderr = stderr[:maxStderrLen] + "...(truncated)"
	}
	if stderr == "" {
		return fmt.Errorf("%s: exit %d", op, res.ExitCode)
	}
	return fmt.Errorf("%s: exit %d: %s", op, res.ExitCode, stderr)
}
