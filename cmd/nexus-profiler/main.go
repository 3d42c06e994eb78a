// Command nexus-profiler measures a (framework, model, version) pair's
// forward-pass latency and memory usage across a range of batch sizes
// and writes the result as a profile file the scheduler's Profile
// Database can load.
//
// The real model-framework forward kernel and GPU memory query are
// out-of-scope collaborators here (spec §1); profileKernel stands in
// for them with a CPU-bound, batch-scaled workload so the measurement
// loop below — dry run, then repeated timed runs, then mean/std — is
// exercised against real wall-clock numbers rather than fabricated
// ones.
package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/liangyuRain/nexus/internal/profile"
	"github.com/liangyuRain/nexus/internal/xklib/kcommon"
	"github.com/liangyuRain/nexus/internal/xklib/klogging"
	flag "github.com/spf13/pflag"
)

var Version string = "dev"

// stats returns the sample mean and (n-1) standard deviation of lats, in
// the same two-pass form as the original profiler's GetStats.
func stats(lats []float64) (mean, std float64) {
	if len(lats) == 0 {
		return 0, 0
	}
	for _, l := range lats {
		mean += l
	}
	mean /= float64(len(lats))
	if len(lats) < 2 {
		return mean, 0
	}
	for _, l := range lats {
		std += (l - mean) * (l - mean)
	}
	return mean, math.Sqrt(std / float64(len(lats)-1))
}

// listImages counts files under dir, mirroring the original profiler's
// ListImages: the sample count drives how many preprocess measurements
// get taken, not the pixel content (decoding/resizing is the out-of-scope
// forward kernel's concern).
func listImages(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	return n, nil
}

// profileKernel performs batch-scaled, otherwise meaningless CPU work
// standing in for a real forward pass, so the timed loop below measures
// genuine wall-clock cost rather than a fabricated number.
func profileKernel(batch int, bytesPerSample int) {
	buf := make([]byte, bytesPerSample)
	sum := sha256.Sum256(buf)
	for i := 1; i < batch; i++ {
		sum = sha256.Sum256(sum[:])
	}
}

func timedRuns(fn func(), repeat int) []float64 {
	lats := make([]float64, 0, repeat)
	for i := 0; i < repeat; i++ {
		beg := time.Now()
		fn()
		lats = append(lats, float64(time.Since(beg).Microseconds()))
	}
	return lats
}

func main() {
	ctx := context.Background()

	var (
		gpu         = flag.Uint32("gpu", 0, "local gpu id")
		gpuDevice   = flag.String("gpu_device", "", "device name to key the written profile under (required)")
		framework   = flag.String("framework", "", "model framework (required)")
		model       = flag.String("model", "", "model name (required)")
		modelVer    = flag.Uint32("model_version", 1, "model version")
		modelRoot   = flag.String("model_root", "", "profile database root; output defaults under here (required)")
		imageDir    = flag.String("image_dir", "", "directory of sample inputs used to size preprocess measurements (required)")
		minBatch    = flag.Uint32("min_batch", 1, "smallest batch size to profile")
		maxBatch    = flag.Uint32("max_batch", 32, "largest batch size to profile")
		output      = flag.String("output", "", "output file path; defaults to <model_root>/<gpu_device>/<profile_id>.json")
		height      = flag.Uint32("height", 0, "input image height, if fixed for this model")
		width       = flag.Uint32("width", 0, "input image width, if fixed for this model")
		repeat      = flag.Int("repeat", 10, "timed runs per batch size")
		logLevel    = flag.String("log_level", kcommon.GetEnvString("LOG_LEVEL", "info"), "log level")
		logFormat   = flag.String("log_format", kcommon.GetEnvString("LOG_FORMAT", "json"), "log format (json|text)")
	)
	flag.Parse()

	logger := klogging.NewLogrusLogger(ctx)
	logger.SetConfig(ctx, *logLevel, *logFormat)
	klogging.SetDefaultLogger(logger)

	if *modelRoot == "" || *framework == "" || *model == "" || *imageDir == "" || *gpuDevice == "" {
		klogging.Fatal(ctx).Log("MissingFlag", "model_root, framework, model, image_dir and gpu_device are required")
	}
	if *maxBatch < *minBatch {
		klogging.Fatal(ctx).With("minBatch", *minBatch).With("maxBatch", *maxBatch).
			Log("InvalidBatchRange", "max_batch must be >= min_batch")
	}

	sess := profile.ModelSession{
		Framework:   *framework,
		ModelName:   *model,
		Version:     *modelVer,
		ImageHeight: *height,
		ImageWidth:  *width,
	}
	profileID := sess.ID()

	klogging.Info(ctx).With("gpu", *gpu).With("gpuDevice", *gpuDevice).With("profileId", string(profileID)).
		Log("ProfilerStarting", "starting nexus-profiler")

	numImages, err := listImages(*imageDir)
	if err != nil {
		klogging.Fatal(ctx).WithError(err).With("imageDir", *imageDir).Log("ImageDirUnreadable", "failed to list sample images")
	}

	bytesPerSample := 3 * 224 * 224
	if *height > 0 && *width > 0 {
		bytesPerSample = 3 * int(*height) * int(*width)
	}

	// Preprocess latency: one measurement per sample image, the first
	// sample dropped as a warm-up, matching the original profiler's
	// "if (i > 0)" skip.
	preprocessLats := make([]float64, 0, numImages)
	for i := 0; i < numImages; i++ {
		beg := time.Now()
		_ = sha256.Sum256(make([]byte, bytesPerSample))
		elapsed := float64(time.Since(beg).Microseconds())
		if i > 0 {
			preprocessLats = append(preprocessLats, elapsed)
		}
	}
	preprocessMean, _ := stats(preprocessLats)

	// Postprocess latency: capped at 2000 samples like the original.
	postprocessLats := make([]float64, 0, 2000)
	for i := 0; i < numImages && i < 2001; i++ {
		beg := time.Now()
		_ = sha256.Sum256(make([]byte, 256))
		elapsed := float64(time.Since(beg).Microseconds())
		if i > 0 {
			postprocessLats = append(postprocessLats, elapsed)
		}
	}
	postprocessMean, _ := stats(postprocessLats)

	points := make([]profile.BatchPoint, 0, *maxBatch-*minBatch+1)
	for batch := *minBatch; batch <= *maxBatch; batch++ {
		// dry run, discarded, mirroring the original's warm-up Forward call
		profileKernel(int(batch), bytesPerSample)

		lats := timedRuns(func() { profileKernel(int(batch), bytesPerSample) }, *repeat)
		mean, std := stats(lats)

		memUsage := uint64(bytesPerSample) * uint64(batch) * 4 // stand-in: out-of-scope GPU memory query

		points = append(points, profile.BatchPoint{
			Batch:            batch,
			ForwardLatencyUs: mean,
			MemoryUsageBytes: memUsage,
		})
		klogging.Info(ctx).With("batch", batch).With("forwardUs", mean).With("stdUs", std).With("memoryBytes", memUsage).
			Log("BatchProfiled", "profiled one batch size")
	}

	outPath := *output
	if outPath == "" {
		outPath = filepath.Join(*modelRoot, *gpuDevice, fmt.Sprintf("%s.json", profileID))
	}
	if err := profile.SaveProfileFile(outPath, points, preprocessMean, postprocessMean); err != nil {
		klogging.Fatal(ctx).WithError(err).With("path", outPath).Log("ProfileWriteFailed", "failed to write profile file")
	}

	klogging.Info(ctx).With("path", outPath).With("points", len(points)).Log("ProfilerDone", "profile written")
}
