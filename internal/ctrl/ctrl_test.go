package ctrl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/liangyuRain/nexus/internal/gpu"
	"github.com/liangyuRain/nexus/internal/plan"
	"github.com/liangyuRain/nexus/internal/profile"
	"github.com/liangyuRain/nexus/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModelTableReceiver struct {
	applied []plan.InstanceConfig
	err     error
}

func (r *fakeModelTableReceiver) ApplyModelTable(ctx context.Context, configs []plan.InstanceConfig) error {
	if r.err != nil {
		return r.err
	}
	r.applied = configs
	return nil
}

func TestNodeServer_UpdateModelTableRoundTrip(t *testing.T) {
	receiver := &fakeModelTableReceiver{}
	mux := http.NewServeMux()
	NewNodeServer(receiver).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewBackendClient(srv.URL, time.Second)
	cfgs := []plan.InstanceConfig{{ModelSession: profile.ModelSession{ModelName: "vgg16"}, Batch: 4}}
	require.NoError(t, client.UpdateModelTable(context.Background(), cfgs))
	require.Len(t, receiver.applied, 1)
	assert.Equal(t, "vgg16", receiver.applied[0].ModelSession.ModelName)
}

func TestNodeServer_CheckAliveRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	NewNodeServer(nil).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewFrontendClient(srv.URL, time.Second)
	require.NoError(t, client.CheckAlive(context.Background()))
}

func TestBackendClient_UnreachableServerReturnsError(t *testing.T) {
	client := NewBackendClient("http://127.0.0.1:1", 50*time.Millisecond)
	err := client.CheckAlive(context.Background())
	require.Error(t, err)
}

func TestSchedulerServer_RegisterAndSubscribeRoundTrip(t *testing.T) {
	db := profile.NewDatabase()
	devices := gpu.NewDeviceManager(nil)
	sched := scheduler.New(db, devices, time.Hour)

	mux := http.NewServeMux()
	NewSchedulerServer(sched, time.Second).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewSchedulerClient(srv.URL, time.Second)

	require.NoError(t, client.RegisterBackend(context.Background(), RegisterBackendRequest{
		NodeID: 1, ServerAddress: "b1:8000", RpcAddress: "http://b1:9000", GpuDevice: "titanx", GpuAvailableMemory: 1 << 30,
	}))
	b, ok := sched.Backend(1)
	require.True(t, ok)
	assert.Equal(t, "titanx", b.GpuDevice)

	require.NoError(t, client.RegisterFrontend(context.Background(), RegisterFrontendRequest{
		NodeID: 2, ServerAddress: "f1:8001", RpcAddress: "http://f1:9001",
	}))
	f, ok := sched.Frontend(2)
	require.True(t, ok)

	require.NoError(t, client.Subscribe(context.Background(), SubscribeRequest{NodeID: 2, ProfileID: "tensorflow:vgg16:1"}))
	assert.Contains(t, f.SubscribedModels(), profile.ProfileID("tensorflow:vgg16:1"))
}

func TestSchedulerServer_SubscribeUnknownFrontendFails(t *testing.T) {
	db := profile.NewDatabase()
	devices := gpu.NewDeviceManager(nil)
	sched := scheduler.New(db, devices, time.Hour)

	mux := http.NewServeMux()
	NewSchedulerServer(sched, time.Second).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewSchedulerClient(srv.URL, time.Second)
	err := client.Subscribe(context.Background(), SubscribeRequest{NodeID: 99, ProfileID: "x"})
	require.Error(t, err)
}
