package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ssd-technologies/gitagent/internal/execx"
)

// PM2 drives the pm2 CLI. Apps are started from a short-lived ecosystem file
// so the environment never appears on a command line.
type PM2 struct {
	runner execx.CommandRunner
	bin    string
	tmpDir string
}

// NewPM2 returns a Manager backed by the pm2 binary bin. Ecosystem files are
// written under tmpDir.
func NewPM2(runner execx.CommandRunner, bin, tmpDir string) *PM2 {
	if bin == "" {
		bin = "pm2"
	}
	return &PM2{runner: runner, bin: bin, tmpDir: tmpDir}
}

type pm2Process struct {
	Name   string `json:"name"`
	PID    int    `json:"pid"`
	PM2Env struct {
		Status string `json:"status"`
	} `json:"pm2_env"`
}

type pm2App struct {
	Name        string            `json:"name"`
	Script      string            `json:"script"`
	Args        []string          `json:"args,omitempty"`
	Interpreter string            `json:"interpreter"`
	Cwd         string            `json:"cwd"`
	ExecMode    string            `json:"exec_mode"`
	Env         map[string]string `json:"env"`
	OutFile     string            `json:"out_file"`
	ErrorFile   string            `json:"error_file"`
	Autorestart bool              `json:"autorestart"`
}

func (p *PM2) Describe(ctx context.Context, name string) (*ProcessInfo, error) {
	res, err := p.runner.Run(ctx, p.bin, []string{"jlist"}, execx.RunOpts{})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, execx.ExitError("pm2 jlist", res)
	}
	var procs []pm2Process
	if err := json.Unmarshal([]byte(res.Stdout), &procs); err != nil {
		return nil, fmt.Errorf("decode pm2 jlist: %w", err)
	}
	for _, proc := range procs {
		if proc.Name != name {
			continue
		}
		state := StateStopped
		if proc.PM2Env.Status == "online" {
			state = StateOnline
		}
		return &ProcessInfo{Name: name, PID: proc.PID, State: state}, nil
	}
	return nil, ErrNotFound
}

func (p *PM2) Start(ctx context.Context, app App) (*ProcessInfo, error) {
	eco := pm2App{
		Name:        app.Name,
		Script:      app.Command,
		Interpreter: "none",
		Cwd:         app.Dir,
		ExecMode:    "fork",
		Env:         app.Env,
		OutFile:     app.OutLog,
		ErrorFile:   app.ErrLog,
		Autorestart: true,
	}
	if len(app.Args) > 0 {
		eco.Interpreter = app.Command
		eco.Script = app.Args[0]
		if !filepath.IsAbs(eco.Script) {
			eco.Script = filepath.Join(app.Dir, eco.Script)
		}
		eco.Args = app.Args[1:]
	}

	body, err := json.Marshal(map[string][]pm2App{"apps": {eco}})
	if err != nil {
		return nil, fmt.Errorf("encode ecosystem: %w", err)
	}
	f, err := os.CreateTemp(p.tmpDir, app.Name+"-*.config.json")
	if err != nil {
		return nil, fmt.Errorf("create ecosystem file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(body); err != nil {
		f.Close()
		return nil, fmt.Errorf("write ecosystem file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write ecosystem file: %w", err)
	}

	res, err := p.runner.Run(ctx, p.bin, []string{"start", f.Name()}, execx.RunOpts{Dir: app.Dir})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, execx.ExitError("pm2 start", res)
	}
	return p.Describe(ctx, app.Name)
}

func (p *PM2) Delete(ctx context.Context, name string) error {
	res, err := p.runner.Run(ctx, p.bin, []string{"delete", name}, execx.RunOpts{})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		if strings.Contains(res.Stderr+res.Stdout, "not found") {
			return ErrNotFound
		}
		return execx.ExitError("pm2 delete", res)
	}
	return nil
}
