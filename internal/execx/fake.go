package execx

import (
	"context"
	"sync"
)

// Call records one invocation seen by a FakeRunner.
type Call struct {
	Name string
	Args []string
	Opts RunOpts
}

// FakeRunner is a CommandRunner for tests. Handler, when set, decides the
// result of each call; otherwise every call succeeds with exit 0.
type FakeRunner struct {
	Handler func(c Call) (CmdResult, error)

	mu    sync.Mutex
	calls []Call
}

func (f *FakeRunner) Run(ctx context.Context, name string, args []string, opts RunOpts) (CmdResult, error) {
	c := Call{Name: name, Args: append([]string(nil), args...), Opts: opts}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	h := f.Handler
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return CmdResult{}, err
	}
	if h != nil {
		return h(c)
	}
	return CmdResult{}, nil
}

// Calls returns a copy of the recorded invocations.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
