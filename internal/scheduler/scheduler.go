package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/liangyuRain/nexus/internal/gpu"
	"github.com/liangyuRain/nexus/internal/plan"
	"github.com/liangyuRain/nexus/internal/profile"
	"github.com/liangyuRain/nexus/internal/xklib/kerror"
	"github.com/liangyuRain/nexus/internal/xklib/klogging"
	"github.com/liangyuRain/nexus/internal/xklib/kmetrics"
)

var (
	dirtyPushMetric     = kmetrics.CreateKmetric(context.Background(), "scheduler_dirty_push", "model table pushes to backends", []string{"result"}).CountOnly()
	livenessCheckMetric = kmetrics.CreateKmetric(context.Background(), "scheduler_liveness_check", "liveness probe outcomes", []string{"nodeKind", "result"}).CountOnly()
)

// Scheduler owns the backend and frontend registries and drives the
// periodic table-push / liveness sweep. One registry mutex guards both
// maps; RPCs invoked during the sweep run outside the lock (each
// BackendRecord/FrontendRecord has its own mutex for that).
type Scheduler struct {
	ProfileDB *profile.Database
	Devices   *gpu.DeviceManager

	mu        sync.RWMutex
	backends  map[uint32]*BackendRecord
	frontends map[uint32]*FrontendRecord

	tickInterval time.Duration
	stop         chan struct{}
	wg           sync.WaitGroup

	// OnBackendRegistered, if set, fires synchronously after a backend
	// joins the registry — the hook a static-workload loader uses to
	// place pending workload-file entries onto newly available GPUs
	// (spec.md's CLI lists --workload as a scheduler-side flag; nothing
	// in the registry itself needs to know about that policy).
	OnBackendRegistered func(*BackendRecord)
}

// New constructs a Scheduler. db and devices are injected handles, never
// package-level singletons, so tests can substitute fakes.
func New(db *profile.Database, devices *gpu.DeviceManager, tickInterval time.Duration) *Scheduler {
	return &Scheduler{
		ProfileDB:    db,
		Devices:      devices,
		backends:     make(map[uint32]*BackendRecord),
		frontends:    make(map[uint32]*FrontendRecord),
		tickInterval: tickInterval,
		stop:         make(chan struct{}),
	}
}

// RegisterBackend adds a newly-connected backend to the registry.
func (s *Scheduler) RegisterBackend(b *BackendRecord) {
	s.mu.Lock()
	s.backends[b.NodeID] = b
	s.mu.Unlock()

	klogging.Info(context.Background()).With("nodeId", b.NodeID).With("gpu", b.GpuDevice).
		Log("BackendRegistered", "backend joined the cluster")
	if s.OnBackendRegistered != nil {
		s.OnBackendRegistered(b)
	}
}

// RegisterFrontend adds a newly-connected frontend to the registry.
func (s *Scheduler) RegisterFrontend(f *FrontendRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frontends[f.NodeID] = f
	klogging.Info(context.Background()).With("nodeId", f.NodeID).
		Log("FrontendRegistered", "frontend joined the cluster")
}

// Backend looks up a registered backend by node id.
func (s *Scheduler) Backend(nodeID uint32) (*BackendRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.backends[nodeID]
	return b, ok
}

// Frontend looks up a registered frontend by node id.
func (s *Scheduler) Frontend(nodeID uint32) (*FrontendRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.frontends[nodeID]
	return f, ok
}

func (s *Scheduler) backendSnapshot() []*BackendRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*BackendRecord, 0, len(s.backends))
	for _, b := range s.backends {
		out = append(out, b)
	}
	return out
}

func (s *Scheduler) frontendSnapshot() []*FrontendRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*FrontendRecord, 0, len(s.frontends))
	for _, f := range s.frontends {
		out = append(out, f)
	}
	return out
}

// PlaceModel plans and loads modelSession onto the given backend at the
// given workload, in one call: PrepareLoadModel followed by LoadModel if
// the plan is servable. Returns the resulting config either way so
// callers can observe a batch=0 plan (SLA infeasible, no profile, or
// Case B stub) without treating it as an error.
func (s *Scheduler) PlaceModel(ctx context.Context, nodeID uint32, sess profile.ModelSession, workload float64) (plan.InstanceConfig, error) {
	b, ok := s.Backend(nodeID)
	if !ok {
		return plan.InstanceConfig{}, kerror.Create("UnknownBackend", "no backend registered with this node id").
			WithErrorCode(kerror.EC_NOT_FOUND).
			With("nodeId", nodeID)
	}
	cfg, _ := b.PrepareLoadModel(ctx, sess, workload, s.ProfileDB)
	if !cfg.Servable() {
		return cfg, nil
	}
	if err := b.LoadModel(cfg); err != nil {
		return cfg, err
	}
	s.notifySubscribers(ctx, sess.ID(), cfg)
	return cfg, nil
}

// LoadStatic installs a fixed-batch model config directly, bypassing the
// planner — the static workload-file loading path (spec §4.4). batch is
// taken as given rather than computed from a target SLA.
func (s *Scheduler) LoadStatic(nodeID uint32, sess profile.ModelSession, batch uint32) error {
	b, ok := s.Backend(nodeID)
	if !ok {
		return kerror.Create("UnknownBackend", "no backend registered with this node id").
			WithErrorCode(kerror.EC_NOT_FOUND).
			With("nodeId", nodeID)
	}
	prof, ok := s.ProfileDB.GetForSession(b.GpuDevice, sess)
	if !ok {
		return kerror.Create("ProfileMissing", "no profile for this (gpu, model) pair").
			WithErrorCode(kerror.EC_NOT_FOUND).
			With("gpu", b.GpuDevice).
			With("profileId", string(sess.ID()))
	}
	memUsage, err := prof.MemoryUsage(batch)
	if err != nil {
		return err
	}
	fwdLatency, err := prof.ForwardLatency(batch)
	if err != nil {
		return err
	}
	cfg := plan.InstanceConfig{
		ModelSession:     sess,
		Batch:            batch,
		MaxBatch:         batch,
		MemoryUsageBytes: memUsage,
		ForwardLatencyUs: fwdLatency,
	}
	b.LoadModelStatic(cfg)
	return nil
}

func (s *Scheduler) notifySubscribers(ctx context.Context, id profile.ProfileID, cfg plan.InstanceConfig) {
	for _, f := range s.frontendSnapshot() {
		for _, subscribed := range f.SubscribedModels() {
			if subscribed == id {
				klogging.Debug(ctx).With("frontendNodeId", f.NodeID).With("profileId", string(id)).
					Log("ModelTableNotify", "model config changed for a subscribed session")
			}
		}
	}
}

// Start begins the periodic table-push / liveness sweep on a
// time.Ticker goroutine, grounded on spec.md §5's "periodic planner
// tick" description — there is no gRPC completion queue in this
// transport, so a thread pool servicing one does not apply.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tick(ctx)
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	for _, b := range s.backendSnapshot() {
		if err := b.UpdateModelTable(ctx); err != nil {
			dirtyPushMetric.GetTimeSequence(ctx, "error").Add(1)
			klogging.Warning(ctx).WithError(err).With("nodeId", b.NodeID).
				Log("ModelTablePushFailed", "failed to push model table to backend")
		} else {
			dirtyPushMetric.GetTimeSequence(ctx, "ok").Add(1)
		}

		alive := b.IsAlive(ctx)
		result := "alive"
		if !alive {
			result = "dead"
			s.removeBackend(b.NodeID)
		}
		livenessCheckMetric.GetTimeSequence(ctx, "backend", result).Add(1)
	}

	for _, f := range s.frontendSnapshot() {
		alive := f.IsAlive(ctx)
		result := "alive"
		if !alive {
			result = "dead"
			s.removeFrontend(f.NodeID)
		}
		livenessCheckMetric.GetTimeSequence(ctx, "frontend", result).Add(1)
	}
}

func (s *Scheduler) removeBackend(nodeID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backends, nodeID)
	klogging.Warning(context.Background()).With("nodeId", nodeID).
		Log("BackendRemoved", "backend failed liveness check and was removed")
}

func (s *Scheduler) removeFrontend(nodeID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.frontends, nodeID)
	klogging.Warning(context.Background()).With("nodeId", nodeID).
		Log("FrontendRemoved", "frontend failed liveness check and was removed")
}
