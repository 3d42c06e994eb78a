package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liangyuRain/nexus/internal/plan"
	"github.com/liangyuRain/nexus/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackendClient struct {
	updateCalls int
	lastConfigs []plan.InstanceConfig
	checkAlive  error
}

func (c *fakeBackendClient) UpdateModelTable(ctx context.Context, configs []plan.InstanceConfig) error {
	c.updateCalls++
	c.lastConfigs = configs
	return nil
}

func (c *fakeBackendClient) CheckAlive(ctx context.Context) error {
	return c.checkAlive
}

func newTestDB(t *testing.T, gpuName string, sess profile.ModelSession, points []profile.BatchPoint, preUs, postUs float64) *profile.Database {
	t.Helper()
	db := profile.NewDatabase()
	db.Put(gpuName, sess.ID(), profile.NewProfile(points, preUs, postUs))
	return db
}

func TestBackend_PrepareLoadModel_SaturatingBranchFixesMemoryUsage(t *testing.T) {
	sess := profile.ModelSession{Framework: "tensorflow", ModelName: "vgg16", Version: 1, LatencySLA: 100}
	points := []profile.BatchPoint{
		{Batch: 1, ForwardLatencyUs: 10_000, MemoryUsageBytes: 500},
		{Batch: 4, ForwardLatencyUs: 30_000, MemoryUsageBytes: 900},
	}
	db := newTestDB(t, "titanx", sess, points, 0, 0)

	b := NewBackendRecord(1, "backend1", "backend1:9001", "titanx", 1<<30, time.Second, &fakeBackendClient{})

	// workload=0 means "saturate the GPU": the planner must pick max_batch
	// and must NOT reuse forward latency as memory usage (the documented
	// upstream bug), but call profile.MemoryUsage(maxBatch) instead.
	cfg, occupancy := b.PrepareLoadModel(context.Background(), sess, 0, db)
	assert.Equal(t, uint32(4), cfg.Batch)
	assert.Equal(t, uint32(4), cfg.MaxBatch)
	assert.Equal(t, float64(30_000), cfg.ForwardLatencyUs)
	assert.Equal(t, uint64(900), cfg.MemoryUsageBytes, "memory usage must come from the profile, not from forward latency")
	assert.Equal(t, 1.0, occupancy)
}

func TestBackend_PrepareLoadModel_ResidueBranch(t *testing.T) {
	sess := profile.ModelSession{Framework: "tensorflow", ModelName: "vgg16", Version: 1, LatencySLA: 100}
	points := []profile.BatchPoint{
		{Batch: 1, ForwardLatencyUs: 10_000, MemoryUsageBytes: 500},
		{Batch: 2, ForwardLatencyUs: 18_000, MemoryUsageBytes: 700},
		{Batch: 4, ForwardLatencyUs: 30_000, MemoryUsageBytes: 900},
	}
	db := newTestDB(t, "titanx", sess, points, 1_000, 1_000)

	b := NewBackendRecord(1, "backend1", "backend1:9001", "titanx", 1<<30, time.Second, &fakeBackendClient{})

	// A small workload well under max throughput should take the residue
	// branch and plan a batch smaller than max_batch.
	cfg, _ := b.PrepareLoadModel(context.Background(), sess, 20, db)
	assert.True(t, cfg.Batch >= 1)
	assert.True(t, cfg.Batch <= cfg.MaxBatch)
	assert.Equal(t, float64(20), cfg.WorkloadPerSec)
}

func TestBackend_PrepareLoadModel_SlaInfeasible(t *testing.T) {
	sess := profile.ModelSession{Framework: "tensorflow", ModelName: "vgg16", Version: 1, LatencySLA: 1}
	points := []profile.BatchPoint{
		{Batch: 1, ForwardLatencyUs: 5_000_000, MemoryUsageBytes: 500},
	}
	// preprocess+forward+postprocess for batch=1 vastly exceeds the 1ms SLA:
	// the planner must report this as batch=0, never as a Go error.
	db := newTestDB(t, "titanx", sess, points, 0, 0)
	b := NewBackendRecord(1, "backend1", "backend1:9001", "titanx", 1<<30, time.Second, &fakeBackendClient{})

	cfg, occupancy := b.PrepareLoadModel(context.Background(), sess, 1, db)
	assert.Equal(t, uint32(0), cfg.Batch)
	assert.Equal(t, 0.0, occupancy)
}

func TestBackend_PrepareLoadModel_ProfileMissing(t *testing.T) {
	db := profile.NewDatabase()
	sess := profile.ModelSession{Framework: "tensorflow", ModelName: "missing", Version: 1, LatencySLA: 100}
	b := NewBackendRecord(1, "backend1", "backend1:9001", "titanx", 1<<30, time.Second, &fakeBackendClient{})

	cfg, _ := b.PrepareLoadModel(context.Background(), sess, 0, db)
	assert.Equal(t, uint32(0), cfg.Batch)
}

func TestBackend_PrepareLoadModel_CaseBStubReturnsZeroBatch(t *testing.T) {
	sess := profile.ModelSession{Framework: "tensorflow", ModelName: "vgg16", Version: 1, LatencySLA: 100}
	points := []profile.BatchPoint{
		{Batch: 1, ForwardLatencyUs: 10_000, MemoryUsageBytes: 500},
		{Batch: 4, ForwardLatencyUs: 30_000, MemoryUsageBytes: 900},
	}
	db := newTestDB(t, "titanx", sess, points, 0, 0)
	b := NewBackendRecord(1, "backend1", "backend1:9001", "titanx", 1<<30, time.Second, &fakeBackendClient{})

	first, _ := b.PrepareLoadModel(context.Background(), sess, 0, db)
	require.NoError(t, b.LoadModel(first))

	other := profile.ModelSession{Framework: "tensorflow", ModelName: "resnet", Version: 1, LatencySLA: 100}
	db.Put("titanx", other.ID(), profile.NewProfile(points, 0, 0))

	cfg, _ := b.PrepareLoadModel(context.Background(), other, 5, db)
	assert.Equal(t, uint32(0), cfg.Batch, "dynamic multi-model planning remains the documented stub")
}

func TestBackend_LoadModel_RejectsSecondModelWhenNotIdle(t *testing.T) {
	sess := profile.ModelSession{Framework: "tensorflow", ModelName: "vgg16", Version: 1, LatencySLA: 100}
	points := []profile.BatchPoint{{Batch: 1, ForwardLatencyUs: 10_000, MemoryUsageBytes: 500}}
	db := newTestDB(t, "titanx", sess, points, 0, 0)
	b := NewBackendRecord(1, "backend1", "backend1:9001", "titanx", 1<<30, time.Second, &fakeBackendClient{})

	cfg, _ := b.PrepareLoadModel(context.Background(), sess, 0, db)
	require.NoError(t, b.LoadModel(cfg))
	assert.False(t, b.IsIdle())

	err := b.LoadModel(cfg)
	require.Error(t, err)
}

func TestBackend_UpdateModelTable_PushesOnlyWhenDirty(t *testing.T) {
	sess := profile.ModelSession{Framework: "tensorflow", ModelName: "vgg16", Version: 1, LatencySLA: 100}
	points := []profile.BatchPoint{{Batch: 1, ForwardLatencyUs: 10_000, MemoryUsageBytes: 500}}
	db := newTestDB(t, "titanx", sess, points, 0, 0)
	client := &fakeBackendClient{}
	b := NewBackendRecord(1, "backend1", "backend1:9001", "titanx", 1<<30, time.Second, client)

	require.NoError(t, b.UpdateModelTable(context.Background()))
	assert.Equal(t, 0, client.updateCalls, "a clean table must not trigger an rpc")

	cfg, _ := b.PrepareLoadModel(context.Background(), sess, 0, db)
	require.NoError(t, b.LoadModel(cfg))

	require.NoError(t, b.UpdateModelTable(context.Background()))
	assert.Equal(t, 1, client.updateCalls)
	assert.Len(t, client.lastConfigs, 1)

	require.NoError(t, b.UpdateModelTable(context.Background()))
	assert.Equal(t, 1, client.updateCalls, "table is clean again after a successful push")
}

func TestBackend_IsAlive_ProbesAfterTimeout(t *testing.T) {
	client := &fakeBackendClient{checkAlive: errors.New("unreachable")}
	b := NewBackendRecord(1, "backend1", "backend1:9001", "titanx", 1<<30, 0, client)
	assert.False(t, b.IsAlive(context.Background()))
}
