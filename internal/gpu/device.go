// Package gpu implements the DeviceManager design note from §9: a small,
// explicitly-constructed registry mapping a local GPU id to the device
// name the Profile Oracle keys its tables by. The actual CUDA/device
// query is an out-of-scope collaborator (the model-framework forward
// kernel); this package only carries the (id -> name) association the
// executor needs to resolve its profile.
package gpu

import (
	"sync"

	"github.com/liangyuRain/nexus/internal/xklib/kerror"
)

// DeviceManager is a read-mostly registry of GPU id -> device name
// (e.g. "Tesla-M60"), threaded through constructors rather than kept as
// a package-level singleton so tests can substitute a fake.
type DeviceManager struct {
	mu      sync.RWMutex
	devices map[uint32]string
}

// NewDeviceManager creates a DeviceManager pre-populated from a static
// id->name map, mirroring how a backend process discovers its local GPUs
// at startup.
func NewDeviceManager(devices map[uint32]string) *DeviceManager {
	cp := make(map[uint32]string, len(devices))
	for k, v := range devices {
		cp[k] = v
	}
	return &DeviceManager{devices: cp}
}

// DeviceName returns the device name for a local GPU id.
func (dm *DeviceManager) DeviceName(gpuID uint32) (string, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	name, ok := dm.devices[gpuID]
	if !ok {
		return "", kerror.Create("UnknownGpuId", "no device registered for this gpu id").
			WithErrorCode(kerror.EC_NOT_FOUND).
			With("gpuId", gpuID)
	}
	return name, nil
}

// Register adds or replaces a GPU id -> device name association.
func (dm *DeviceManager) Register(gpuID uint32, deviceName string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.devices[gpuID] = deviceName
}
