package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/liangyuRain/nexus/internal/profile"
	"github.com/liangyuRain/nexus/internal/xklib/klogging"
)

// FrontendCtrlClient is the scheduler's view of a frontend node: the one
// RPC the scheduler drives to probe liveness. Grounded on
// frontend_rpc_client.h's stub usage.
type FrontendCtrlClient interface {
	CheckAlive(ctx context.Context) error
}

// FrontendRecord is the scheduler-side bookkeeping for one registered
// frontend node: liveness plus the set of model sessions it has
// subscribed to receive table updates for. Mirrors
// frontend_rpc_client.h.
type FrontendRecord struct {
	NodeID        uint32
	ServerAddress string
	RpcAddress    string
	Timeout       time.Duration
	client        FrontendCtrlClient

	mu               sync.Mutex
	lastAliveTime    time.Time
	subscribedModels map[profile.ProfileID]bool
}

// NewFrontendRecord registers a freshly-connected frontend.
func NewFrontendRecord(nodeID uint32, serverAddr, rpcAddr string, timeout time.Duration, client FrontendCtrlClient) *FrontendRecord {
	return &FrontendRecord{
		NodeID:           nodeID,
		ServerAddress:    serverAddr,
		RpcAddress:       rpcAddr,
		Timeout:          timeout,
		client:           client,
		lastAliveTime:    time.Now(),
		subscribedModels: make(map[profile.ProfileID]bool),
	}
}

// LastAliveTime returns the last confirmed-alive time.
func (f *FrontendRecord) LastAliveTime() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAliveTime
}

// SubscribeModel records that this frontend wants table updates for the
// given model session.
func (f *FrontendRecord) SubscribeModel(id profile.ProfileID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribedModels[id] = true
}

// SubscribedModels returns the set of model session ids this frontend is
// subscribed to.
func (f *FrontendRecord) SubscribedModels() []profile.ProfileID {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]profile.ProfileID, 0, len(f.subscribedModels))
	for id := range f.subscribedModels {
		ids = append(ids, id)
	}
	return ids
}

// IsAlive mirrors BackendRecord.IsAlive: a recent heartbeat is
// sufficient, otherwise the frontend is actively probed.
func (f *FrontendRecord) IsAlive(ctx context.Context) bool {
	f.mu.Lock()
	elapsed := time.Since(f.lastAliveTime)
	f.mu.Unlock()
	if elapsed < f.Timeout {
		return true
	}

	if err := f.client.CheckAlive(ctx); err != nil {
		klogging.Warning(ctx).WithError(err).With("nodeId", f.NodeID).
			Log("FrontendUnreachable", "check_alive rpc failed")
		return false
	}
	f.mu.Lock()
	f.lastAliveTime = time.Now()
	f.mu.Unlock()
	return true
}

// UpdateStats records a heartbeat from the frontend.
func (f *FrontendRecord) UpdateStats() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAliveTime = time.Now()
}
