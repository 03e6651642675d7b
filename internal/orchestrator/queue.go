package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ssd-technologies/gitagent/internal/identity"
)

// Job is one queued deploy.
type Job struct {
	ID         string    `json:"job_id"`
	RepoURL    string    `json:"repo_url"`
	Branch     string    `json:"branch"`
	BranchHash string    `json:"branch_hash"`
	Enqueued   time.Time `json:"enqueued_at"`
}

type queue struct {
	mu     sync.RWMutex
	jobs   chan Job
	closed bool
}

func newQueue(size int) *queue {
	return &queue{jobs: make(chan Job, size)}
}

func (q *queue) push(j Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

// Enqueue schedules a deploy and returns immediately.
func (o *Orchestrator) Enqueue(repoURL, branch string) (Job, error) {
	j := Job{
		ID:         uuid.New().String(),
		RepoURL:    repoURL,
		Branch:     branch,
		BranchHash: identity.Hash(repoURL, branch),
		Enqueued:   time.Now().UTC(),
	}
	if err := o.queue.push(j); err != nil {
		o.logger.Warn("deploy not queued", "branch_hash", j.BranchHash, "job_id", j.ID, "error", err)
		return j, err
	}
	o.logger.Info("deploy queued", "branch_hash", j.BranchHash, "job_id", j.ID, "repo_url", repoURL, "branch", branch)
	return j, nil
}

// Pending returns the number of queued deploys not yet picked up.
func (o *Orchestrator) Pending() int {
	return len(o.queue.jobs)
}

// Run processes queued deploys with the configured number of workers and
// runs the liveness sweep. It returns once ctx is done, or once Shutdown
// drained the queue when the sweep is disabled.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.work(ctx)
		}()
	}
	if o.cfg.SweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.runSweep(ctx)
		}()
	}
	wg.Wait()
}

// Shutdown stops accepting deploys. Already queued jobs are still run by
// Run's workers unless their context is canceled.
func (o *Orchestrator) Shutdown() {
	o.queue.close()
}

func (o *Orchestrator) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-o.queue.jobs:
			if !ok {
				return
			}
			jobCtx := withJobID(ctx, j.ID)
			if _, err := o.Deploy(jobCtx, j.RepoURL, j.Branch); err != nil {
				o.logger.Error("deploy failed", "branch_hash", j.BranchHash, "job_id", j.ID, "error", err)
			}
		}
	}
}

// runSweep periodically aligns recorded status with process liveness.
func (o *Orchestrator) runSweep(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.SweepInterval):
			rep, err := o.Reconcile(ctx, false)
			if err != nil {
				o.logger.Error("liveness sweep failed", "error", err)
				continue
			}
			if rep.Failed > 0 || rep.Running > 0 {
				o.logger.Info("liveness sweep", "checked", rep.Checked, "running", rep.Running, "failed", rep.Failed)
			}
		}
	}
}

type jobIDKey struct{}

func withJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, id)
}

func jobIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(jobIDKey{}).(string)
	return id, ok
}

// keyedMutex serializes work per identity. Entries are dropped once no
// goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
