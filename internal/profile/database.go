package profile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/liangyuRain/nexus/internal/xklib/kerror"
	"github.com/liangyuRain/nexus/internal/xklib/klogging"
)

// profileFile is the on-disk JSON shape for one (gpu, profile_id) profile,
// stored at <model_root>/<gpu_device_name>/<profile_id>.json.
type profileFile struct {
	Points             []BatchPoint `json:"points"`
	PreprocessUs       float64      `json:"preprocess_us"`
	PostprocessUs      float64      `json:"postprocess_us"`
}

// Database is the Profile Oracle: a read-mostly registry of Profiles
// keyed by (gpu device name, ProfileID), loaded once from a model root
// directory. It is constructed explicitly (no package-level singleton)
// so callers can inject a fake in tests, per the design note in §9.
type Database struct {
	mu       sync.RWMutex
	profiles map[string]map[ProfileID]*Profile // gpuDeviceName -> profileID -> Profile
}

// NewDatabase creates an empty Database. Use Load to populate it from a
// model root directory, or Put to register profiles directly in tests.
func NewDatabase() *Database {
	return &Database{
		profiles: make(map[string]map[ProfileID]*Profile),
	}
}

// Load walks modelRoot/<gpu>/<profileId>.json files and populates the
// database. A malformed individual file is logged and skipped rather than
// failing the whole load, since profile availability is already a
// recoverable "cannot serve this model on this GPU" condition.
func (d *Database) Load(ctx context.Context, modelRoot string) error {
	gpuDirs, err := os.ReadDir(modelRoot)
	if err != nil {
		return kerror.Wrap(err, "ProfileRootUnreadable", "failed to read model root", true).
			With("modelRoot", modelRoot)
	}
	for _, gpuDir := range gpuDirs {
		if !gpuDir.IsDir() {
			continue
		}
		gpuName := gpuDir.Name()
		entries, err := os.ReadDir(filepath.Join(modelRoot, gpuName))
		if err != nil {
			klogging.Warning(ctx).WithError(err).With("gpu", gpuName).Log("ProfileGpuDirUnreadable", "skipping gpu directory")
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
				continue
			}
			profileID := ProfileID(entry.Name()[:len(entry.Name())-len(".json")])
			path := filepath.Join(modelRoot, gpuName, entry.Name())
			raw, err := os.ReadFile(path)
			if err != nil {
				klogging.Warning(ctx).WithError(err).With("path", path).Log("ProfileFileUnreadable", "skipping profile file")
				continue
			}
			var pf profileFile
			if err := json.Unmarshal(raw, &pf); err != nil {
				klogging.Warning(ctx).WithError(err).With("path", path).Log("ProfileFileInvalid", "skipping profile file")
				continue
			}
			d.Put(gpuName, profileID, NewProfile(pf.Points, pf.PreprocessUs, pf.PostprocessUs))
			klogging.Info(ctx).With("gpu", gpuName).With("profileId", profileID).Log("ProfileLoaded", "")
		}
	}
	return nil
}

// Put registers (or replaces) a profile for (gpuDeviceName, profileID).
func (d *Database) Put(gpuDeviceName string, profileID ProfileID, p *Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	byID, ok := d.profiles[gpuDeviceName]
	if !ok {
		byID = make(map[ProfileID]*Profile)
		d.profiles[gpuDeviceName] = byID
	}
	byID[profileID] = p
}

// Get looks up a profile by (gpu device name, profile id). A missing
// profile is a recoverable condition (ok=false); callers treat it as
// "cannot serve this model on this GPU".
func (d *Database) Get(gpuDeviceName string, profileID ProfileID) (*Profile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	byID, ok := d.profiles[gpuDeviceName]
	if !ok {
		return nil, false
	}
	p, ok := byID[profileID]
	return p, ok
}

// GetForSession is a convenience wrapper deriving the ProfileID from a
// ModelSession.
func (d *Database) GetForSession(gpuDeviceName string, sess ModelSession) (*Profile, bool) {
	return d.Get(gpuDeviceName, sess.ID())
}

// SaveProfileFile writes one profile's batch table to disk in the same
// JSON shape Load reads back, the inverse of the unmarshal in Load. Used
// by the profiler tool to drop a freshly measured profile straight into
// a model root directory.
func SaveProfileFile(path string, points []BatchPoint, preprocessUs, postprocessUs float64) error {
	pf := profileFile{Points: points, PreprocessUs: preprocessUs, PostprocessUs: postprocessUs}
	raw, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return kerror.Wrap(err, "ProfileEncodeFailed", "failed to encode profile", false)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return kerror.Wrap(err, "ProfileWriteFailed", "failed to create profile directory", true).
			With("path", path)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return kerror.Wrap(err, "ProfileWriteFailed", "failed to write profile file", true).
			With("path", path)
	}
	return nil
}
