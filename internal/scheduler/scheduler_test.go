package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liangyuRain/nexus/internal/gpu"
	"github.com/liangyuRain/nexus/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFrontendClient struct {
	checkAlive error
}

func (c *fakeFrontendClient) CheckAlive(ctx context.Context) error {
	return c.checkAlive
}

func TestScheduler_RegisterAndLookup(t *testing.T) {
	s := New(profile.NewDatabase(), gpu.NewDeviceManager(nil), time.Hour)

	b := NewBackendRecord(1, "b1", "b1:9000", "titanx", 1<<30, time.Second, &fakeBackendClient{})
	s.RegisterBackend(b)
	got, ok := s.Backend(1)
	require.True(t, ok)
	assert.Same(t, b, got)

	f := NewFrontendRecord(2, "f1", "f1:9001", time.Second, &fakeFrontendClient{})
	s.RegisterFrontend(f)
	gotF, ok := s.Frontend(2)
	require.True(t, ok)
	assert.Same(t, f, gotF)

	_, ok = s.Backend(99)
	assert.False(t, ok)
}

func TestScheduler_PlaceModel_PlansAndLoads(t *testing.T) {
	sess := profile.ModelSession{Framework: "tensorflow", ModelName: "vgg16", Version: 1, LatencySLA: 100}
	points := []profile.BatchPoint{
		{Batch: 1, ForwardLatencyUs: 10_000, MemoryUsageBytes: 500},
		{Batch: 4, ForwardLatencyUs: 30_000, MemoryUsageBytes: 900},
	}
	db := profile.NewDatabase()
	db.Put("titanx", sess.ID(), profile.NewProfile(points, 0, 0))

	s := New(db, gpu.NewDeviceManager(nil), time.Hour)
	client := &fakeBackendClient{}
	b := NewBackendRecord(1, "b1", "b1:9000", "titanx", 1<<30, time.Second, client)
	s.RegisterBackend(b)

	cfg, err := s.PlaceModel(context.Background(), 1, sess, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), cfg.Batch)
	assert.False(t, b.IsIdle())
}

func TestScheduler_PlaceModel_UnknownBackend(t *testing.T) {
	s := New(profile.NewDatabase(), gpu.NewDeviceManager(nil), time.Hour)
	sess := profile.ModelSession{Framework: "tensorflow", ModelName: "vgg16", Version: 1, LatencySLA: 100}
	_, err := s.PlaceModel(context.Background(), 42, sess, 0)
	require.Error(t, err)
}

func TestScheduler_PlaceModel_SlaInfeasibleIsNotAnError(t *testing.T) {
	sess := profile.ModelSession{Framework: "tensorflow", ModelName: "vgg16", Version: 1, LatencySLA: 1}
	points := []profile.BatchPoint{{Batch: 1, ForwardLatencyUs: 5_000_000, MemoryUsageBytes: 500}}
	db := profile.NewDatabase()
	db.Put("titanx", sess.ID(), profile.NewProfile(points, 0, 0))

	s := New(db, gpu.NewDeviceManager(nil), time.Hour)
	s.RegisterBackend(NewBackendRecord(1, "b1", "b1:9000", "titanx", 1<<30, time.Second, &fakeBackendClient{}))

	cfg, err := s.PlaceModel(context.Background(), 1, sess, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), cfg.Batch)
}

func TestScheduler_LoadStatic_InstallsFixedBatchConfig(t *testing.T) {
	sess := profile.ModelSession{Framework: "caffe2", ModelName: "resnet50", Version: 1, LatencySLA: 100}
	points := []profile.BatchPoint{{Batch: 8, ForwardLatencyUs: 40_000, MemoryUsageBytes: 1200}}
	db := profile.NewDatabase()
	db.Put("titanx", sess.ID(), profile.NewProfile(points, 0, 0))

	s := New(db, gpu.NewDeviceManager(nil), time.Hour)
	s.RegisterBackend(NewBackendRecord(1, "b1", "b1:9000", "titanx", 1<<30, time.Second, &fakeBackendClient{}))

	require.NoError(t, s.LoadStatic(1, sess, 8))
	b, _ := s.Backend(1)
	table := b.GetModelTable()
	require.Len(t, table, 1)
	assert.Equal(t, uint32(8), table[0].Batch)
}

func TestScheduler_Tick_PushesDirtyTablesAndRemovesDeadNodes(t *testing.T) {
	sess := profile.ModelSession{Framework: "tensorflow", ModelName: "vgg16", Version: 1, LatencySLA: 100}
	points := []profile.BatchPoint{{Batch: 1, ForwardLatencyUs: 10_000, MemoryUsageBytes: 500}}
	db := profile.NewDatabase()
	db.Put("titanx", sess.ID(), profile.NewProfile(points, 0, 0))

	s := New(db, gpu.NewDeviceManager(nil), time.Hour)
	healthyClient := &fakeBackendClient{}
	healthy := NewBackendRecord(1, "b1", "b1:9000", "titanx", 1<<30, 0, healthyClient)
	dead := NewBackendRecord(2, "b2", "b2:9000", "titanx", 1<<30, 0, &fakeBackendClient{checkAlive: errors.New("down")})
	s.RegisterBackend(healthy)
	s.RegisterBackend(dead)

	cfg, err := s.PlaceModel(context.Background(), 1, sess, 0)
	require.NoError(t, err)
	require.True(t, cfg.Servable())

	s.tick(context.Background())

	assert.Equal(t, 1, healthyClient.updateCalls)
	_, ok := s.Backend(2)
	assert.False(t, ok, "a backend failing check_alive must be removed on tick")
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(profile.NewDatabase(), gpu.NewDeviceManager(nil), 5*time.Millisecond)
	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()
}
