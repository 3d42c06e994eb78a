// Package backendnode wires the Model Executor to the control-plane
// transport on the backend side: it owns one ModelExecutor per loaded
// model and reconciles that set against a scheduler-pushed model table.
package backendnode

import (
	"context"
	"sync"
	"time"

	"github.com/liangyuRain/nexus/internal/executor"
	"github.com/liangyuRain/nexus/internal/plan"
	"github.com/liangyuRain/nexus/internal/profile"
	"github.com/liangyuRain/nexus/internal/xklib/klogging"
)

// idlePollInterval is how long the worker loop sleeps after an Execute
// call that leaves the input queue empty, mirroring the original worker thread's
// condvar wait on an empty input queue (model_exec.cpp's Execute runs
// once per wakeup; the wakeup source itself is an out-of-scope
// collaborator here, so a short poll stands in for it).
const idlePollInterval = 2 * time.Millisecond

// runnerFactory builds the ForwardRunner for a newly loaded model. The
// actual model-framework forward kernel is an out-of-scope collaborator
// (spec §1); production deployments inject a real one here.
type runnerFactory func(sess profile.ModelSession) executor.ForwardRunner

type loadedModel struct {
	exec   *executor.ModelExecutor
	cancel context.CancelFunc
}

// Node owns this backend's loaded models and answers the scheduler's
// UpdateModelTable pushes by starting, reconfiguring, or tearing down
// ModelExecutors.
type Node struct {
	gpuDeviceName string
	db            *profile.Database
	postprocess   executor.PostprocessQueue
	newRunner     runnerFactory

	mu     sync.Mutex
	models map[profile.ProfileID]*loadedModel
}

func NewNode(gpuDeviceName string, db *profile.Database, postprocess executor.PostprocessQueue, newRunner runnerFactory) *Node {
	return &Node{
		gpuDeviceName: gpuDeviceName,
		db:            db,
		postprocess:   postprocess,
		newRunner:     newRunner,
		models:        make(map[profile.ProfileID]*loadedModel),
	}
}

// ApplyModelTable reconciles the running executors against configs,
// implementing ctrl.ModelTableReceiver. Unservable entries (Batch == 0)
// are skipped: they represent a planner decision not to place a model
// here, not something to load.
func (n *Node) ApplyModelTable(ctx context.Context, configs []plan.InstanceConfig) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	wanted := make(map[profile.ProfileID]plan.InstanceConfig, len(configs))
	for _, cfg := range configs {
		if !cfg.Servable() {
			continue
		}
		wanted[cfg.ModelSession.ID()] = cfg
	}

	for id, cfg := range wanted {
		if lm, ok := n.models[id]; ok {
			lm.exec.SetConfig(cfg)
			if prof, ok := n.db.GetForSession(n.gpuDeviceName, cfg.ModelSession); ok {
				lm.exec.SetProfile(prof)
			}
			continue
		}
		n.startModel(ctx, id, cfg)
	}

	for id, lm := range n.models {
		if _, ok := wanted[id]; !ok {
			lm.cancel()
			delete(n.models, id)
			klogging.Info(ctx).With("profileId", string(id)).Log("ModelUnloaded", "model removed from pushed table")
		}
	}
	return nil
}

func (n *Node) startModel(ctx context.Context, id profile.ProfileID, cfg plan.InstanceConfig) {
	prof, _ := n.db.GetForSession(n.gpuDeviceName, cfg.ModelSession)
	runner := n.newRunner(cfg.ModelSession)
	exec := executor.NewModelExecutor(cfg.ModelSession.ModelName, cfg.ModelSession, n.gpuDeviceName, cfg.MaxBatch, prof, runner, n.postprocess)
	exec.SetConfig(cfg)

	execCtx, cancel := context.WithCancel(ctx)
	n.models[id] = &loadedModel{exec: exec, cancel: cancel}

	go func() {
		for execCtx.Err() == nil {
			if err := exec.Execute(execCtx); err != nil {
				klogging.Error(ctx).WithError(err).With("profileId", string(id)).
					Log("ExecutorBatchFailed", "a forward batch failed; executor continues")
				continue
			}
			if exec.QueueLen() == 0 {
				time.Sleep(idlePollInterval)
			}
		}
	}()

	klogging.Info(ctx).With("profileId", string(id)).With("batch", cfg.Batch).
		Log("ModelLoaded", "model executor started for pushed config")
}

// Executor returns the running executor for a loaded model, for routing
// inference requests from the frontend-facing surface (out of scope
// here per spec §1).
func (n *Node) Executor(id profile.ProfileID) (*executor.ModelExecutor, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	lm, ok := n.models[id]
	if !ok {
		return nil, false
	}
	return lm.exec, true
}
