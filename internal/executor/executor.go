// Package executor implements the Nexus Model Executor (spec §4.2): one
// executor per loaded (backend, model), aggregating per-request inputs
// into batched forward passes that honor per-item deadlines, the
// backend's planned batch size, and the profile-predicted forward
// latency.
package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/liangyuRain/nexus/internal/plan"
	"github.com/liangyuRain/nexus/internal/profile"
	"github.com/liangyuRain/nexus/internal/task"
	"github.com/liangyuRain/nexus/internal/xklib/kcommon"
	"github.com/liangyuRain/nexus/internal/xklib/kerror"
	"github.com/liangyuRain/nexus/internal/xklib/klogging"
	"github.com/liangyuRain/nexus/internal/xklib/kmetrics"
)

var (
	batchSizeMetric    = kmetrics.CreateKmetric(context.Background(), "executor_batch_size", "items per forward batch", []string{"model"})
	batchLatencyMetric = kmetrics.CreateKmetric(context.Background(), "executor_batch_latency_ms", "forward pass wall time", []string{"model"})
	virtualOutputMetric = kmetrics.CreateKmetric(context.Background(), "executor_virtual_output", "inputs dropped without running forward", []string{"model", "reason"}).CountOnly()
)

// ForwardRunner is the out-of-scope collaborator that actually runs the
// model-framework forward kernel against a formed batch. Implementations
// must call bt.SetOutputs before returning successfully.
type ForwardRunner interface {
	Forward(ctx context.Context, bt *task.BatchTask) error
}

// PostprocessQueue is the shared, internally-synchronized queue that
// completed/failed tasks are handed off to. The postprocess pipeline and
// reply transport are out-of-scope collaborators (spec §1); only this
// narrow interface matters to the executor.
type PostprocessQueue interface {
	Push(t *task.Task)
}

// ModelExecutor owns one input priority queue (earliest deadline first),
// one processing-tasks map, and invokes ForwardRunner.Forward outside its
// own lock so GPU launches are never serialized behind bookkeeping.
type ModelExecutor struct {
	modelName     string
	modelSession  profile.ModelSession
	gpuDeviceName string
	maxBatch      uint32 // hard cap on BatchTask size (model.max_batch)
	runner        ForwardRunner
	postprocess   PostprocessQueue

	cfg atomic.Pointer[plan.InstanceConfig] // current planned batch/etc; may be nil
	prof atomic.Pointer[profile.Profile]    // may be nil: disables the deadline cutoff

	mu              sync.Mutex
	inputQueue      *inputQueue
	processingTasks map[uint64]*task.Task

	batchIDCounter atomic.Uint64
}

// NewModelExecutor constructs an executor for one loaded (backend,model).
// prof may be nil, in which case the deadline cutoff in getBatchInput is
// disabled but batching still proceeds (spec §4.2 Failure semantics).
func NewModelExecutor(modelName string, sess profile.ModelSession, gpuDeviceName string, maxBatch uint32, prof *profile.Profile, runner ForwardRunner, postprocess PostprocessQueue) *ModelExecutor {
	e := &ModelExecutor{
		modelName:       modelName,
		modelSession:    sess,
		gpuDeviceName:   gpuDeviceName,
		maxBatch:        maxBatch,
		runner:          runner,
		postprocess:     postprocess,
		inputQueue:      newInputQueue(),
		processingTasks: make(map[uint64]*task.Task),
	}
	e.prof.Store(prof)
	return e
}

// SetConfig installs a new planned ModelInstanceConfig (pushed by
// UpdateModelTable). Reads are lock-free so Execute never blocks on a
// concurrent table push.
func (e *ModelExecutor) SetConfig(cfg plan.InstanceConfig) {
	e.cfg.Store(&cfg)
}

// SetProfile swaps the profile used for the deadline cutoff. Passing nil
// disables the cutoff.
func (e *ModelExecutor) SetProfile(p *profile.Profile) {
	e.prof.Store(p)
}

func (e *ModelExecutor) plannedBatch() uint32 {
	cfg := e.cfg.Load()
	if cfg == nil {
		return e.maxBatch
	}
	return cfg.Batch
}

// AddTask inserts the task into the processing map and pushes each of
// its inputs into the priority queue. Fails only on duplicate task id.
func (e *ModelExecutor) AddTask(t *task.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.processingTasks[t.ID]; exists {
		return kerror.Create("DuplicateTaskId", "task id already present in processing table").
			With("taskId", t.ID)
	}
	e.processingTasks[t.ID] = t
	for _, in := range t.Inputs {
		e.inputQueue.Push(in)
	}
	return nil
}

// RemoveTask transitions the task to postprocess stage, removes it from
// the processing map, and pushes it onto the shared postprocess queue.
// Idempotent: removing a task already absent from the map is a no-op.
func (e *ModelExecutor) RemoveTask(t *task.Task) {
	e.mu.Lock()
	_, present := e.processingTasks[t.ID]
	if present {
		delete(e.processingTasks, t.ID)
	}
	e.mu.Unlock()
	if !present {
		return
	}
	t.Stage = task.StagePostprocess
	t.Timer.Record("postprocess")
	e.postprocess.Push(t)
}

// Execute forms one batch and runs one forward pass, returning after the
// forward completes and all per-item outputs are attached. An empty
// batch after filtering is a no-op: Execute still allocated a batch id
// (the counter always advances) but runs no forward.
func (e *ModelExecutor) Execute(ctx context.Context) error {
	batchID := e.batchIDCounter.Add(1)
	bt := task.NewBatchTask(batchID, e.maxBatch)

	e.getBatchInput(ctx, bt)
	if bt.BatchSize() == 0 {
		return nil
	}

	start := kcommon.GetMonoTimeMs()
	if err := e.runner.Forward(ctx, bt); err != nil {
		wrapped := kerror.Wrap(err, "ForwardFailure", "forward pass failed", true).
			With("batchId", batchID).
			With("batchSize", bt.BatchSize())
		klogging.Error(ctx).WithError(wrapped).With("model", e.modelName).With("batchId", batchID).
			Log("ForwardFailure", "forward pass failed, failing entire batch")
		e.failBatch(bt)
		return wrapped
	}
	elapsed := kcommon.GetMonoTimeMs() - start

	batchSizeMetric.GetTimeSequence(ctx, e.modelName).Add(int64(bt.BatchSize()))
	batchLatencyMetric.GetTimeSequence(ctx, e.modelName).Add(elapsed)
	klogging.Debug(ctx).
		With("model", e.modelName).
		With("batchId", batchID).
		With("batchSize", bt.BatchSize()).
		With("forwardMs", elapsed).
		Log("BatchForward", "forward pass completed")

	e.fanout(bt)
	return nil
}

// getBatchInput implements the batch formation algorithm (spec §4.2):
// drain the earliest-deadline-first queue up to the planned batch size,
// dropping items whose task already failed or whose deadline cannot
// plausibly be met even if included in this batch.
func (e *ModelExecutor) getBatchInput(ctx context.Context, bt *task.BatchTask) {
	e.mu.Lock()
	batchSize := e.inputQueue.Len()
	if planned := e.plannedBatch(); uint32(batchSize) > planned {
		batchSize = int(planned)
	}
	if uint32(batchSize) > e.maxBatch {
		batchSize = int(e.maxBatch)
	}

	prof := e.prof.Load()
	haveDeadlineCutoff := prof != nil
	var finish int64
	if haveDeadlineCutoff {
		if lat, err := prof.ForwardLatency(uint32(batchSize)); err == nil {
			finish = kcommon.GetWallTimeMs() + int64(lat/1000.0)
		} else {
			haveDeadlineCutoff = false
		}
	}

	var completedTasks []*task.Task
	for bt.BatchSize() < batchSize && e.inputQueue.Len() > 0 {
		in, ok := e.inputQueue.Pop()
		if !ok {
			break
		}
		t, ok := e.processingTasks[in.TaskID]
		if !ok {
			// task was already removed (e.g. concurrently failed); drop silently.
			continue
		}
		t.Timer.Record("exec")

		deadlineMissed := haveDeadlineCutoff && in.Deadline.UnixMilli() < finish
		if t.Status() != task.StatusOK || deadlineMissed {
			reason := "taskFailed"
			if deadlineMissed {
				reason = "deadlineExceeded"
			}
			virtualOutputMetric.GetTimeSequence(ctx, e.modelName, reason).Add(1)
			if t.AddVirtualOutput(in.Index, reason) {
				completedTasks = append(completedTasks, t)
			}
			continue
		}
		if err := bt.Append(in, t); err != nil {
			// should not happen: batchSize already capped at MaxBatch.
			break
		}
	}
	e.mu.Unlock()

	for _, t := range completedTasks {
		e.RemoveTask(t)
	}
}

// fanout walks the batch's outputs and attaches each to its owning task;
// a task whose output set becomes complete is removed to postprocess.
func (e *ModelExecutor) fanout(bt *task.BatchTask) {
	outputs := bt.Outputs()
	inputs := bt.Inputs()
	tasks := bt.Tasks()
	for i := range outputs {
		t := tasks[i]
		if t.AddOutput(inputs[i].Index, outputs[i]) {
			e.RemoveTask(t)
		}
	}
}

// failBatch is the ForwardFailure path: every task in the batch is
// marked failed and transitioned to postprocess. The executor itself
// remains live.
func (e *ModelExecutor) failBatch(bt *task.BatchTask) {
	inputs := bt.Inputs()
	tasks := bt.Tasks()
	seen := make(map[uint64]bool, len(tasks))
	for i, t := range tasks {
		t.SetStatus(task.StatusFailed)
		completed := t.AddVirtualOutput(inputs[i].Index, "forwardFailure")
		if completed && !seen[t.ID] {
			seen[t.ID] = true
			e.RemoveTask(t)
		}
	}
}

// QueueLen returns the current number of queued inputs, for metrics/tests.
func (e *ModelExecutor) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inputQueue.Len()
}
