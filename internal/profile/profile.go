package profile

import (
	"sort"

	"github.com/liangyuRain/nexus/internal/xklib/kerror"
)

// BatchPoint is one measured row of a profile table: at this batch size,
// the forward pass takes ForwardLatencyUs and uses MemoryUsageBytes.
type BatchPoint struct {
	Batch             uint32
	ForwardLatencyUs  float64
	MemoryUsageBytes  uint64
}

// Profile is a measured latency/memory table for a fixed (GPU, model)
// pair, keyed by batch size, plus scalar preprocess/postprocess latency.
// A Profile is immutable after construction; all query methods are safe
// for concurrent use by many executors.
type Profile struct {
	points            map[uint32]BatchPoint
	maxKnownBatch     uint32
	preprocessLatency float64 // microseconds
	postprocessLatency float64 // microseconds
}

// NewProfile builds a Profile from the measured batch table. points must
// contain at least batch=1.
func NewProfile(points []BatchPoint, preprocessUs, postprocessUs float64) *Profile {
	p := &Profile{
		points:             make(map[uint32]BatchPoint, len(points)),
		preprocessLatency:  preprocessUs,
		postprocessLatency: postprocessUs,
	}
	for _, pt := range points {
		p.points[pt.Batch] = pt
		if pt.Batch > p.maxKnownBatch {
			p.maxKnownBatch = pt.Batch
		}
	}
	return p
}

// errProfileOutOfRange builds the error returned by ForwardLatency/MemoryUsage when the
// requested batch size is outside [1, max_known_batch].
func errProfileOutOfRange(batch, maxKnownBatch uint32) error {
	return kerror.Create("ProfileOutOfRange", "batch size outside profiled range").
		WithErrorCode(kerror.EC_INVALID_PARAMETER).
		With("batch", batch).
		With("maxKnownBatch", maxKnownBatch)
}

// ForwardLatency returns the measured forward-pass latency, in
// microseconds, for the given batch size.
func (p *Profile) ForwardLatency(batch uint32) (float64, error) {
	pt, ok := p.points[batch]
	if !ok || batch < 1 || batch > p.maxKnownBatch {
		return 0, errProfileOutOfRange(batch, p.maxKnownBatch)
	}
	return pt.ForwardLatencyUs, nil
}

// MemoryUsage returns the measured GPU memory usage, in bytes, for the
// given batch size.
func (p *Profile) MemoryUsage(batch uint32) (uint64, error) {
	pt, ok := p.points[batch]
	if !ok || batch < 1 || batch > p.maxKnownBatch {
		return 0, errProfileOutOfRange(batch, p.maxKnownBatch)
	}
	return pt.MemoryUsageBytes, nil
}

// PreprocessLatency returns the scalar preprocess latency in microseconds.
func (p *Profile) PreprocessLatency() float64 {
	return p.preprocessLatency
}

// PostprocessLatency returns the scalar postprocess latency in microseconds.
func (p *Profile) PostprocessLatency() float64 {
	return p.postprocessLatency
}

// MaxKnownBatch returns the largest batch size this profile has a
// measurement for.
func (p *Profile) MaxKnownBatch() uint32 {
	return p.maxKnownBatch
}

// MaxThroughput returns the largest batch b such that the total pipeline
// latency (preprocess + forward(b) + postprocess) still fits within
// slaMs, and the throughput (req/s) achieved at that batch. If even
// batch=1 does not fit, maxBatch=0 and throughput=0.
func (p *Profile) MaxThroughput(slaMs uint32) (maxBatch uint32, throughputPerSec float64) {
	slaUs := float64(slaMs) * 1000
	batches := make([]uint32, 0, len(p.points))
	for b := range p.points {
		batches = append(batches, b)
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i] < batches[j] })

	var best uint32
	for _, b := range batches {
		pt := p.points[b]
		total := p.preprocessLatency + pt.ForwardLatencyUs + p.postprocessLatency
		if total <= slaUs && b > best {
			best = b
		}
	}
	if best == 0 {
		return 0, 0
	}
	return best, float64(best) * 1e6 / slaUs
}
