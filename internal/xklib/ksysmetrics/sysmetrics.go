// Package ksysmetrics exposes process-level resource metrics (CPU,
// memory, goroutines, open fds, GC) through an opencensus registry of
// its own (see GetRegistry), separate from the kmetrics registry.
package ksysmetrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/liangyuRain/nexus/internal/xklib/klogging"
	"go.opencensus.io/metric"
	"go.opencensus.io/metric/metricdata"
)

var (
	registry *metric.Registry

	userCPUGauge   *metric.Float64DerivedGauge
	systemCPUGauge *metric.Float64DerivedGauge

	heapAllocGauge  *metric.Int64DerivedGauge
	stackInuseGauge *metric.Int64DerivedGauge
	sysMemGauge     *metric.Int64DerivedGauge

	goroutineGauge *metric.Int64DerivedGauge

	fdGauge *metric.Int64DerivedGauge

	gcPauseGauge       *metric.Int64DerivedGauge
	gcIntervalGauge    *metric.Int64DerivedGauge
	gcCPUFractionGauge *metric.Float64DerivedGauge

	currentUserCPU       float64
	currentSystemCPU     float64
	currentHeapAlloc     int64
	currentStackInuse    int64
	currentSysMem        int64
	currentGoroutines    int64
	currentFDs           int64
	currentGCPause       int64
	currentGCInterval    int64
	currentGCCPUFraction float64

	currentVersion = "unknown"
)

// SetVersion sets the build version attached to CPU metric labels.
func SetVersion(version string) {
	if version != "" {
		currentVersion = version
	}
}

func init() {
	registry = metric.NewRegistry()

	userCPUGauge, _ = registry.AddFloat64DerivedGauge(
		"process_user_cpu_seconds",
		metric.WithDescription("User CPU time spent in seconds"),
		metric.WithUnit("seconds"))
	userCPUGauge.UpsertEntry(func() float64 { return currentUserCPU })

	systemCPUGauge, _ = registry.AddFloat64DerivedGauge(
		"process_system_cpu_seconds",
		metric.WithDescription("System CPU time spent in seconds"),
		metric.WithUnit("seconds"))
	systemCPUGauge.UpsertEntry(func() float64 { return currentSystemCPU })

	heapAllocGauge, _ = registry.AddInt64DerivedGauge(
		"process_heap_bytes",
		metric.WithDescription("Process heap memory in bytes"),
		metric.WithUnit("bytes"))
	heapAllocGauge.UpsertEntry(func() int64 { return currentHeapAlloc })

	stackInuseGauge, _ = registry.AddInt64DerivedGauge(
		"process_stack_bytes",
		metric.WithDescription("Process stack memory in bytes"),
		metric.WithUnit("bytes"))
	stackInuseGauge.UpsertEntry(func() int64 { return currentStackInuse })

	sysMemGauge, _ = registry.AddInt64DerivedGauge(
		"process_resident_memory_bytes",
		metric.WithDescription("Resident memory size in bytes"),
		metric.WithUnit("bytes"))
	sysMemGauge.UpsertEntry(func() int64 { return currentSysMem })

	goroutineGauge, _ = registry.AddInt64DerivedGauge(
		"process_goroutines",
		metric.WithDescription("Number of goroutines"))
	goroutineGauge.UpsertEntry(func() int64 { return currentGoroutines })

	fdGauge, _ = registry.AddInt64DerivedGauge(
		"process_open_fds",
		metric.WithDescription("Number of open file descriptors"))
	fdGauge.UpsertEntry(func() int64 { return currentFDs })

	gcPauseGauge, _ = registry.AddInt64DerivedGauge(
		"process_gc_pause_total_ns",
		metric.WithDescription("Total GC pause time in nanoseconds"),
		metric.WithUnit("ns"))
	gcPauseGauge.UpsertEntry(func() int64 { return currentGCPause })

	gcIntervalGauge, _ = registry.AddInt64DerivedGauge(
		"process_gc_interval_ms",
		metric.WithDescription("Time since last GC in milliseconds"),
		metric.WithUnit("ms"))
	gcIntervalGauge.UpsertEntry(func() int64 { return currentGCInterval })

	gcCPUFractionGauge, _ = registry.AddFloat64DerivedGauge(
		"process_gc_cpu_fraction",
		metric.WithDescription("Fraction of CPU time used by GC"))
	gcCPUFractionGauge.UpsertEntry(func() float64 { return currentGCCPUFraction })
}

// StartSysMetricsCollector starts a background ticker sampling process
// metrics every interval, tagging CPU gauges with version.
func StartSysMetricsCollector(ctx context.Context, interval time.Duration, version string) {
	if version != "" {
		currentVersion = version
	}

	userCPUGauge, _ = registry.AddFloat64DerivedGauge(
		"process_user_cpu_seconds",
		metric.WithDescription("User CPU time spent in seconds"),
		metric.WithUnit("seconds"),
		metric.WithLabelKeys("version"))
	userCPUGauge.UpsertEntry(func() float64 { return currentUserCPU }, metricdata.NewLabelValue(currentVersion))

	systemCPUGauge, _ = registry.AddFloat64DerivedGauge(
		"process_system_cpu_seconds",
		metric.WithDescription("System CPU time spent in seconds"),
		metric.WithUnit("seconds"),
		metric.WithLabelKeys("version"))
	systemCPUGauge.UpsertEntry(func() float64 { return currentSystemCPU }, metricdata.NewLabelValue(currentVersion))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		pid := os.Getpid()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collectMetrics(ctx, pid)
			}
		}
	}()
}

func collectMetrics(ctx context.Context, pid int) {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err == nil {
		userCPU := time.Duration(rusage.Utime.Sec)*time.Second + time.Duration(rusage.Utime.Usec)*time.Microsecond
		sysCPU := time.Duration(rusage.Stime.Sec)*time.Second + time.Duration(rusage.Stime.Usec)*time.Microsecond
		currentUserCPU = userCPU.Seconds()
		currentSystemCPU = sysCPU.Seconds()
	} else {
		klogging.Error(ctx).With("error", err).Log("CPUMetricsError", "failed to collect CPU metrics")
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	currentHeapAlloc = int64(memStats.HeapAlloc)
	currentStackInuse = int64(memStats.StackInuse)
	currentSysMem = int64(memStats.Sys)

	currentGoroutines = int64(runtime.NumGoroutine())

	if fds, err := getFDCount(pid); err == nil {
		currentFDs = int64(fds)
	} else {
		klogging.Error(ctx).With("error", err).Log("FDMetricsError", "failed to collect fd metrics")
	}

	currentGCPause = int64(memStats.PauseTotalNs)
	if memStats.LastGC > 0 {
		currentGCInterval = time.Since(time.Unix(0, int64(memStats.LastGC))).Milliseconds()
	}
	currentGCCPUFraction = memStats.GCCPUFraction
}

func getFDCount(pid int) (int, error) {
	fdPath := fmt.Sprintf("/proc/%d/fd", pid)
	fds, err := os.ReadDir(fdPath)
	if err != nil {
		return 0, err
	}
	return len(fds), nil
}

// GetRegistry returns the opencensus registry these gauges are attached to.
func GetRegistry() *metric.Registry {
	return registry
}
