// Package workload parses the static workload file: a YAML list of
// models to load onto a backend at startup, bypassing the scheduler's
// dynamic planner (spec §4.4, §6).
package workload

import (
	"os"

	"github.com/liangyuRain/nexus/internal/profile"
	"github.com/liangyuRain/nexus/internal/xklib/kerror"
	"gopkg.in/yaml.v3"
)

// Entry is one declared model load, in the exact shape documented in
// spec.md §6:
//
//	- framework: <str>
//	  model_name: <str>
//	  version: <uint>
//	  latency_sla: <uint ms>
//	  image_height: <uint, optional>
//	  image_width: <uint, optional>
//	  batch: <uint>
type Entry struct {
	Framework    string `yaml:"framework"`
	ModelName    string `yaml:"model_name"`
	Version      uint32 `yaml:"version"`
	LatencySLA   uint32 `yaml:"latency_sla"`
	ImageHeight  uint32 `yaml:"image_height,omitempty"`
	ImageWidth   uint32 `yaml:"image_width,omitempty"`
	Batch        uint32 `yaml:"batch"`
}

// ModelSession derives the ModelSession this entry declares.
func (e Entry) ModelSession() profile.ModelSession {
	return profile.ModelSession{
		Framework:   e.Framework,
		ModelName:   e.ModelName,
		Version:     e.Version,
		LatencySLA:  e.LatencySLA,
		ImageHeight: e.ImageHeight,
		ImageWidth:  e.ImageWidth,
	}
}

// Load reads and parses a workload file from path.
func Load(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, kerror.Wrap(err, "WorkloadFileUnreadable", "failed to read workload file", true).
			With("path", path)
	}
	var entries []Entry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, kerror.Wrap(err, "WorkloadFileInvalid", "failed to parse workload file", true).
			With("path", path)
	}
	return entries, nil
}
