// Command nexus-scheduler runs the Nexus scheduler: the backend/frontend
// registry, the load planner, and the control-plane HTTP server nodes
// register against.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	"github.com/liangyuRain/nexus/internal/ctrl"
	"github.com/liangyuRain/nexus/internal/gpu"
	"github.com/liangyuRain/nexus/internal/profile"
	"github.com/liangyuRain/nexus/internal/scheduler"
	"github.com/liangyuRain/nexus/internal/workload"
	"github.com/liangyuRain/nexus/internal/xklib/kcommon"
	"github.com/liangyuRain/nexus/internal/xklib/klogging"
	"github.com/liangyuRain/nexus/internal/xklib/kmetrics"
	"github.com/liangyuRain/nexus/internal/xklib/ksysmetrics"
	flag "github.com/spf13/pflag"
	"go.opencensus.io/metric/metricproducer"
)

var Version string = "dev"

// staticLoader places workload-file entries onto backends as they
// register, first-fit in file order: each entry is claimed by the
// first backend whose GPU has a matching profile, mirroring the
// original scheduler's "--workload" startup flag (scheduler_main.cpp)
// with a first-available-backend assignment policy (not specified by
// the original sources read for this port; picked here as the simplest
// policy consistent with the static loader being a startup-time
// convenience, not a full placement algorithm).
type staticLoader struct {
	db      *profile.Database
	mu      sync.Mutex
	pending []workload.Entry
}

func (l *staticLoader) onBackendRegistered(sched *scheduler.Scheduler, b *scheduler.BackendRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := l.pending[:0]
	for _, entry := range l.pending {
		sess := entry.ModelSession()
		if _, ok := l.db.GetForSession(b.GpuDevice, sess); !ok {
			remaining = append(remaining, entry)
			continue
		}
		if err := sched.LoadStatic(b.NodeID, sess, entry.Batch); err != nil {
			klogging.Error(context.Background()).WithError(err).With("nodeId", b.NodeID).With("model", sess.ModelName).
				Log("StaticLoadFailed", "failed to statically load a workload entry onto a newly registered backend")
			remaining = append(remaining, entry)
			continue
		}
		klogging.Info(context.Background()).With("nodeId", b.NodeID).With("model", sess.ModelName).With("batch", entry.Batch).
			Log("StaticLoadPlaced", "placed a workload entry onto a newly registered backend")
	}
	l.pending = remaining
}

func main() {
	ctx := context.Background()

	var (
		port         = flag.Int("port", 8080, "ctrl api port")
		metricsPort  = flag.Int("metrics_port", 9090, "prometheus metrics port")
		modelRoot    = flag.String("model_root", "", "profile database root directory")
		workloadFile = flag.String("workload", "", "static workload file placed onto backends as they register")
		tick         = flag.Duration("tick_interval", time.Second, "planner tick / liveness sweep interval")
		nodeTimeout  = flag.Duration("node_timeout", 10*time.Second, "backend/frontend liveness timeout")
		logLevel     = flag.String("log_level", kcommon.GetEnvString("LOG_LEVEL", "info"), "log level")
		logFormat    = flag.String("log_format", kcommon.GetEnvString("LOG_FORMAT", "json"), "log format (json|text)")
	)
	flag.Parse()

	logger := klogging.NewLogrusLogger(ctx)
	logger.SetConfig(ctx, *logLevel, *logFormat)
	klogging.SetDefaultLogger(logger)
	ksysmetrics.SetVersion(Version)

	klogging.Info(ctx).With("version", Version).With("port", *port).With("modelRoot", *modelRoot).
		Log("SchedulerStarting", "starting nexus-scheduler")

	db := profile.NewDatabase()
	if *modelRoot != "" {
		if err := db.Load(ctx, *modelRoot); err != nil {
			klogging.Fatal(ctx).WithError(err).Log("ProfileLoadFailed", "failed to load profile database")
		}
	}
	devices := gpu.NewDeviceManager(nil)

	sched := scheduler.New(db, devices, *tick)

	if *workloadFile != "" {
		entries, err := workload.Load(*workloadFile)
		if err != nil {
			klogging.Fatal(ctx).WithError(err).Log("WorkloadLoadFailed", "failed to load static workload file")
		}
		loader := &staticLoader{db: db, pending: entries}
		sched.OnBackendRegistered = func(b *scheduler.BackendRecord) { loader.onBackendRegistered(sched, b) }
		klogging.Info(ctx).With("entryCount", len(entries)).Log("WorkloadLoaded", "static workload file parsed")
	}

	sched.Start(ctx)

	pe, err := prometheus.NewExporter(prometheus.Options{Namespace: "nexus_scheduler"})
	if err != nil {
		klogging.Fatal(ctx).WithError(err).Log("PrometheusExporterFailed", "failed to create prometheus exporter")
	}
	metricproducer.GlobalManager().AddProducer(kmetrics.GetKmetricsRegistry())
	metricproducer.GlobalManager().AddProducer(ksysmetrics.GetRegistry())
	ksysmetrics.StartSysMetricsCollector(ctx, 15*time.Second, Version)

	mainMux := http.NewServeMux()
	ctrl.NewSchedulerServer(sched, *nodeTimeout).RegisterRoutes(mainMux)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", pe)

	mainServer := &http.Server{Addr: fmt.Sprintf(":%d", *port), Handler: mainMux}
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", *metricsPort), Handler: metricsMux}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		klogging.Info(ctx).Log("SchedulerShutdown", "shutting down")
		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := mainServer.Shutdown(shutdownCtx); err != nil {
			klogging.Error(ctx).WithError(err).Log("MainServerShutdownError", "main server shutdown error")
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			klogging.Error(ctx).WithError(err).Log("MetricsServerShutdownError", "metrics server shutdown error")
		}
	}()

	go func() {
		klogging.Info(ctx).With("addr", metricsServer.Addr).Log("MetricsServerStarting", "metrics server starting")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			klogging.Error(ctx).WithError(err).Log("MetricsServerError", "metrics server error")
		}
	}()

	klogging.Info(ctx).With("addr", mainServer.Addr).Log("MainServerStarting", "ctrl server starting")
	if err := mainServer.ListenAndServe(); err != http.ErrServerClosed {
		klogging.Error(ctx).WithError(err).Log("MainServerError", "ctrl server error")
	}
	klogging.Info(ctx).Log("SchedulerStopped", "nexus-scheduler stopped")
}
