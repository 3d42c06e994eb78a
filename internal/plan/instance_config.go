// Package plan holds ModelInstanceConfig, the plan for one (backend,
// model) pair computed by the scheduler and consumed by the backend's
// model executor. It is a small, dependency-free package so it can be
// imported by both internal/scheduler and internal/ctrl without either
// depending on the other.
package plan

import "github.com/liangyuRain/nexus/internal/profile"

// InstanceConfig is the plan for one (backend, model) pair: the model
// session, the chosen batch size, the backend's per-model max batch, the
// predicted forward latency and memory usage at that batch, and the
// throughput/workload numbers used for occupancy accounting.
//
// Invariant (backend side, single-model case): the sum over loaded
// configs of ForwardLatencyUs equals the backend's exec cycle, and
// DutyCycleUs = SLA_us - exec_cycle_us.
type InstanceConfig struct {
	ModelSession    profile.ModelSession `json:"model_session"`
	Batch           uint32               `json:"batch"`
	MaxBatch        uint32               `json:"max_batch"`
	ForwardLatencyUs float64             `json:"forward_latency_us"`
	MemoryUsageBytes uint64              `json:"memory_usage_bytes"`
	ThroughputPerSec float64             `json:"throughput_per_sec"`
	WorkloadPerSec   float64             `json:"workload_per_sec"`
}

// Servable reports whether this config represents a model that can
// actually be placed (batch=0 means the planner found no feasible batch).
func (c InstanceConfig) Servable() bool {
	return c.Batch > 0
}
