// Package scheduler implements the Nexus scheduler core: backend and
// frontend registries, the load-planning algorithm, static model
// loading, and the liveness/table-push loop that binds them together.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/liangyuRain/nexus/internal/plan"
	"github.com/liangyuRain/nexus/internal/profile"
	"github.com/liangyuRain/nexus/internal/xklib/kerror"
	"github.com/liangyuRain/nexus/internal/xklib/klogging"
)

// BackendCtrlClient is the scheduler's view of a backend node: the two
// RPCs the scheduler drives, implemented over whatever transport
// internal/ctrl provides. Kept as an interface here so this package
// never imports the transport package (it would be the reverse
// dependency in a real deployment).
type BackendCtrlClient interface {
	UpdateModelTable(ctx context.Context, configs []plan.InstanceConfig) error
	CheckAlive(ctx context.Context) error
}

// BackendRecord is the scheduler-side bookkeeping for one registered
// backend node, grounded on backend_rpc_client.cpp: one mutex guards the
// exec/duty cycle accounting and the model table, RPCs are invoked
// outside the lock.
type BackendRecord struct {
	NodeID              uint32
	ServerAddress       string
	RpcAddress          string
	GpuDevice           string
	GpuAvailableMemory  uint64
	Timeout             time.Duration
	client              BackendCtrlClient

	mu               sync.Mutex
	execCycleUs      float64
	dutyCycleUs      float64
	modelTableConfig []plan.InstanceConfig
	dirtyModelTable  bool
	lastAliveTime    time.Time
}

// NewBackendRecord registers a freshly-connected backend. lastAliveTime
// is seeded to now, matching the constructor behavior in
// backend_rpc_client.cpp.
func NewBackendRecord(nodeID uint32, serverAddr, rpcAddr, gpuDevice string, gpuAvailableMemory uint64, timeout time.Duration, client BackendCtrlClient) *BackendRecord {
	return &BackendRecord{
		NodeID:             nodeID,
		ServerAddress:      serverAddr,
		RpcAddress:         rpcAddr,
		GpuDevice:          gpuDevice,
		GpuAvailableMemory: gpuAvailableMemory,
		Timeout:            timeout,
		client:             client,
		lastAliveTime:      time.Now(),
	}
}

// IsIdle reports whether this backend has no model loaded yet (exec
// cycle is zero), the precondition for the Case A planner branch.
func (b *BackendRecord) IsIdle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.execCycleUs == 0
}

// LastAliveTime returns the last time this backend was confirmed alive.
func (b *BackendRecord) LastAliveTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAliveTime
}

// errBackendNotIdle is returned by LoadModel when a second model is
// loaded onto a backend that already has one (multi-model batching on a
// single backend is the Case B stub, not yet supported).
func errBackendNotIdle(nodeID uint32) error {
	return kerror.Create("BackendNotIdle", "backend already has a model loaded; multi-model batching is not supported").
		WithErrorCode(kerror.EC_CONFLICT).
		With("nodeId", nodeID)
}

// LoadModel installs a freshly planned config as this backend's sole
// loaded model. Mirrors BackendRpcClient::LoadModel(ModelInstanceConfig).
func (b *BackendRecord) LoadModel(cfg plan.InstanceConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.execCycleUs > 0 {
		return errBackendNotIdle(b.NodeID)
	}
	b.execCycleUs = cfg.ForwardLatencyUs
	b.dutyCycleUs = float64(cfg.ModelSession.LatencySLA)*1000 - b.execCycleUs
	b.modelTableConfig = append(b.modelTableConfig, cfg)
	b.dirtyModelTable = true
	return nil
}

// LoadModelStatic appends a statically-configured model (fixed batch
// size from the workload file, not planned) to this backend's table,
// recomputing the shared duty cycle and per-model throughput across all
// models already on this backend. Mirrors
// BackendRpcClient::LoadModel(const YAML::Node&).
func (b *BackendRecord) LoadModelStatic(cfg plan.InstanceConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modelTableConfig = append(b.modelTableConfig, cfg)
	b.execCycleUs += cfg.ForwardLatencyUs
	b.dutyCycleUs += cfg.ForwardLatencyUs
	for i := range b.modelTableConfig {
		throughput := float64(b.modelTableConfig[i].Batch) * 1e6 / b.dutyCycleUs
		b.modelTableConfig[i].ThroughputPerSec = throughput
		b.modelTableConfig[i].WorkloadPerSec = throughput
	}
	b.dirtyModelTable = true
}

// GetModelTable returns a snapshot of the currently loaded model configs.
func (b *BackendRecord) GetModelTable() []plan.InstanceConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]plan.InstanceConfig, len(b.modelTableConfig))
	copy(cp, b.modelTableConfig)
	return cp
}

// UpdateModelTable pushes the current table to the backend if dirty,
// clearing the dirty flag on success. The RPC itself runs outside the
// lock; only the dirty-check and snapshot are guarded.
func (b *BackendRecord) UpdateModelTable(ctx context.Context) error {
	b.mu.Lock()
	if !b.dirtyModelTable {
		b.mu.Unlock()
		return nil
	}
	table := make([]plan.InstanceConfig, len(b.modelTableConfig))
	copy(table, b.modelTableConfig)
	b.mu.Unlock()

	if err := b.client.UpdateModelTable(ctx, table); err != nil {
		return kerror.Wrap(err, "ServerUnreachable", "update_model_table rpc failed", false).
			With("nodeId", b.NodeID)
	}

	b.mu.Lock()
	b.lastAliveTime = time.Now()
	b.dirtyModelTable = false
	b.mu.Unlock()
	return nil
}

// UpdateStats records a stats report from the backend, which also
// counts as a liveness heartbeat. Mirrors BackendRpcClient::UpdateStats.
func (b *BackendRecord) UpdateStats() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastAliveTime = time.Now()
}

// IsAlive reports liveness: true immediately if a heartbeat arrived
// within Timeout, otherwise actively probes the backend with CheckAlive.
func (b *BackendRecord) IsAlive(ctx context.Context) bool {
	b.mu.Lock()
	elapsed := time.Since(b.lastAliveTime)
	b.mu.Unlock()
	if elapsed < b.Timeout {
		return true
	}

	if err := b.client.CheckAlive(ctx); err != nil {
		klogging.Warning(ctx).WithError(err).With("nodeId", b.NodeID).
			Log("BackendUnreachable", "check_alive rpc failed")
		return false
	}
	b.mu.Lock()
	b.lastAliveTime = time.Now()
	b.mu.Unlock()
	return true
}

// PrepareLoadModel computes the plan.InstanceConfig for loading
// modelSession at the given steady-state workload (req/s), without
// mutating backend state. Mirrors BackendRpcClient::PrepareLoadModel,
// including both documented behaviors: the Case A saturating branch
// correctly uses profile.MemoryUsage(maxBatch) (the original's
// copy-paste bug, which reused the forward latency value, is fixed
// here), and the Case B dynamic multi-model branch remains a stub
// returning batch=0.
//
// Per the propagation rule for planning conditions (ProfileMissing,
// SlaInfeasible), these never surface as a Go error: they are reported
// as cfg.Batch == 0 and logged, matching the original's "return
// batch=0" contract. Only a caller that pushes the resulting config to
// a backend (via LoadModel) sees an error, and only for conditions that
// are real invariant violations (e.g. backend already loaded).
func (b *BackendRecord) PrepareLoadModel(ctx context.Context, sess profile.ModelSession, workload float64, db *profile.Database) (plan.InstanceConfig, float64) {
	unservable := plan.InstanceConfig{ModelSession: sess, Batch: 0}

	prof, ok := db.GetForSession(b.GpuDevice, sess)
	if !ok {
		klogging.Debug(ctx).With("gpu", b.GpuDevice).With("profileId", string(sess.ID())).
			Log("ProfileMissing", "no profile for this (gpu, model) pair; model cannot be placed here")
		return unservable, 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	maxBatch, maxThroughput := prof.MaxThroughput(sess.LatencySLA)
	if maxBatch == 0 {
		klogging.Info(ctx).With("gpu", b.GpuDevice).With("sla", sess.LatencySLA).
			Log("SlaInfeasible", "even batch size 1 exceeds the latency SLA on this GPU")
		return unservable, 0
	}

	if b.execCycleUs != 0 {
		// Case B: backend already has a model loaded. Dynamic multi-model
		// replanning is not implemented; always returns batch=0.
		return unservable, 0
	}

	// Case A: empty GPU.
	if workload == 0 || float64(maxThroughput) <= workload {
		// Workload can saturate (or exceed) the GPU: serve at max throughput.
		fwdLatency, err := prof.ForwardLatency(maxBatch)
		if err != nil {
			klogging.Error(ctx).WithError(err).Log("ProfileInconsistent", "max_batch from MaxThroughput is out of profiled range")
			return unservable, 0
		}
		memUsage, err := prof.MemoryUsage(maxBatch)
		if err != nil {
			klogging.Error(ctx).WithError(err).Log("ProfileInconsistent", "max_batch from MaxThroughput is out of profiled range")
			return unservable, 0
		}
		cfg := plan.InstanceConfig{
			ModelSession:     sess,
			Batch:            maxBatch,
			MaxBatch:         maxBatch,
			ForwardLatencyUs: fwdLatency,
			MemoryUsageBytes: memUsage,
			ThroughputPerSec: maxThroughput,
			WorkloadPerSec:   maxThroughput,
		}
		return cfg, 1.0
	}

	// Residue load: find the largest batch whose worst-case arrival
	// spacing (duty cycle) still fits the SLA.
	latencySlaUs := float64(sess.LatencySLA) * 1000
	preprocess := prof.PreprocessLatency()
	postprocess := prof.PostprocessLatency()

	var batch uint32
	for candidate := uint32(1); candidate <= maxBatch; candidate++ {
		fwdLat, err := prof.ForwardLatency(candidate)
		if err != nil {
			break
		}
		// batch = ceil(workload * duty_cycle) implies
		// duty_cycle >= (batch - 1) / workload.
		minDutyCycle := float64(candidate-1) * 1e6 / workload
		if minDutyCycle+fwdLat+preprocess+postprocess > latencySlaUs {
			break
		}
		batch = candidate
	}

	if batch == 0 {
		klogging.Info(ctx).With("gpu", b.GpuDevice).With("sla", sess.LatencySLA).With("workload", workload).
			Log("SlaInfeasible", "even batch size 1 exceeds the latency SLA at this workload")
		return unservable, 0
	}

	fwdLat, err := prof.ForwardLatency(batch)
	if err != nil {
		klogging.Error(ctx).WithError(err).Log("ProfileInconsistent", "residue batch search produced an out-of-range batch")
		return unservable, 0
	}
	memUsage, err := prof.MemoryUsage(batch)
	if err != nil {
		klogging.Error(ctx).WithError(err).Log("ProfileInconsistent", "residue batch search produced an out-of-range batch")
		return unservable, 0
	}
	dutyCycle := latencySlaUs - fwdLat - preprocess - postprocess
	throughput := float64(batch) * 1e6 / dutyCycle
	cfg := plan.InstanceConfig{
		ModelSession:     sess,
		Batch:            batch,
		MaxBatch:         maxBatch,
		ForwardLatencyUs: fwdLat,
		MemoryUsageBytes: memUsage,
		ThroughputPerSec: throughput,
		WorkloadPerSec:   workload,
	}
	occupancy := fwdLat / dutyCycle
	return cfg, occupancy
}
