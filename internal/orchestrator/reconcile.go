package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ssd-technologies/gitagent/internal/storage"
	"github.com/ssd-technologies/gitagent/internal/supervisor"
)

// ReconcileReport summarizes one Reconcile pass.
type ReconcileReport struct {
	Checked int `json:"checked"`
	Running int `json:"running"`
	Failed  int `json:"failed"`
	Resumed int `json:"resumed"`
}

// Reconcile compares every active agent record with the process manager.
// Live processes are recorded as running with their current pid. Dead
// processes of interrupted pipelines (deploying, updating) and of running
// agents are marked as errored; with resume set, dead running agents whose
// workspace is present are relaunched instead. Deployed agents without a
// process are left alone.
func (o *Orchestrator) Reconcile(ctx context.Context, resume bool) (ReconcileReport, error) {
	var rep ReconcileReport
	agents, err := o.store.ListAgentsByStatus(
		storage.StatusDeploying, storage.StatusUpdating, storage.StatusRunning, storage.StatusDeployed)
	if err != nil {
		return rep, fmt.Errorf("reconcile: %w", err)
	}

	for i := range agents {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		o.reconcileOne(ctx, &agents[i], resume, &rep)
	}
	return rep, nil
}

func (o *Orchestrator) reconcileOne(ctx context.Context, a *storage.Agent, resume bool, rep *ReconcileReport) {
	log := o.logger.With("branch_hash", a.BranchHash)
	unlock := o.locks.Lock(a.BranchHash)
	defer unlock()

	// Re-read under the lock; a pipeline may have moved the record on.
	cur, err := o.store.GetAgentByBranchHash(a.BranchHash)
	if err != nil {
		log.Warn("reconcile: reload agent", "error", err)
		return
	}
	a = cur
	rep.Checked++

	info, err := o.sup.Status(ctx, a.BranchHash)
	if err != nil && !errors.Is(err, supervisor.ErrNotFound) {
		log.Warn("reconcile: process status unknown", "error", err)
		return
	}

	if info.Alive() {
		rep.Running++
		if a.Status != storage.StatusRunning || pidValue(a.PID) != info.PID {
			status, pid := storage.StatusRunning, info.PID
			if err := o.store.UpdateAgent(a.ID, storage.AgentUpdate{Status: &status, PID: &pid}); err != nil {
				log.Error("reconcile: record running", "error", err)
			}
		}
		return
	}

	switch a.Status {
	case storage.StatusDeployed:
		return
	case storage.StatusRunning:
		if resume && a.AgentAddress != nil && o.ws.Exists(a.BranchHash) {
			dir, err := o.ws.Path(a.BranchHash)
			if err == nil {
				err = o.launch(ctx, log, a, dir)
			}
			if err == nil {
				rep.Resumed++
				log.Info("reconcile: agent resumed", "pid", pidValue(a.PID))
				return
			}
			rep.Failed++
			return
		}
	}
	log.Warn("reconcile: process not running", "status", a.Status)
	if err := o.store.SetAgentStatus(a.ID, storage.StatusError); err != nil {
		log.Error("reconcile: record error status", "error", err)
		return
	}
	rep.Failed++
}
