// Command nexus-backend runs a Nexus backend node: it registers with
// the scheduler, receives pushed model table updates, and runs one
// Model Executor per loaded model.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	"github.com/liangyuRain/nexus/internal/backendnode"
	"github.com/liangyuRain/nexus/internal/ctrl"
	"github.com/liangyuRain/nexus/internal/executor"
	"github.com/liangyuRain/nexus/internal/profile"
	"github.com/liangyuRain/nexus/internal/task"
	"github.com/liangyuRain/nexus/internal/xklib/kcommon"
	"github.com/liangyuRain/nexus/internal/xklib/klogging"
	"github.com/liangyuRain/nexus/internal/xklib/kmetrics"
	"github.com/liangyuRain/nexus/internal/xklib/ksysmetrics"
	flag "github.com/spf13/pflag"
	"go.opencensus.io/metric/metricproducer"
)

var Version string = "dev"

// echoForwardRunner is a placeholder ForwardRunner: the real
// model-framework forward kernel is an out-of-scope collaborator (spec
// §1). It copies input payloads straight to outputs so the batching
// loop, deadline cutoff, and fanout path are all exercisable without a
// real GPU kernel attached.
type echoForwardRunner struct{}

func (echoForwardRunner) Forward(ctx context.Context, bt *task.BatchTask) error {
	outputs := make([][]byte, bt.BatchSize())
	for i, in := range bt.Inputs() {
		outputs[i] = in.Data
	}
	return bt.SetOutputs(outputs)
}

// loggingPostprocessQueue is a placeholder PostprocessQueue: the reply
// transport back to the frontend is an out-of-scope collaborator (spec
// §1).
type loggingPostprocessQueue struct{}

func (loggingPostprocessQueue) Push(t *task.Task) {
	klogging.Debug(context.Background()).With("taskId", t.ID).With("status", t.Status()).
		Log("TaskCompleted", "task reached postprocess")
}

func main() {
	ctx := context.Background()

	var (
		port             = flag.Int("port", 8081, "ctrl api port")
		metricsPort      = flag.Int("metrics_port", 9091, "prometheus metrics port")
		schedulerAddress = flag.String("scheduler_address", "http://localhost:8080", "scheduler ctrl address")
		modelRoot        = flag.String("model_root", "", "profile database root directory")
		gpuDevice        = flag.String("gpu_device", "", "this backend's gpu device name")
		nodeID           = flag.Uint32("node_id", 0, "this backend's node id")
		rpcAddress       = flag.String("rpc_address", "", "address the scheduler can reach this backend at")
		logLevel         = flag.String("log_level", kcommon.GetEnvString("LOG_LEVEL", "info"), "log level")
		logFormat        = flag.String("log_format", kcommon.GetEnvString("LOG_FORMAT", "json"), "log format (json|text)")
	)
	flag.Parse()

	logger := klogging.NewLogrusLogger(ctx)
	logger.SetConfig(ctx, *logLevel, *logFormat)
	klogging.SetDefaultLogger(logger)
	ksysmetrics.SetVersion(Version)

	klogging.Info(ctx).With("version", Version).With("port", *port).With("gpuDevice", *gpuDevice).
		Log("BackendStarting", "starting nexus-backend")

	db := profile.NewDatabase()
	if *modelRoot != "" {
		if err := db.Load(ctx, *modelRoot); err != nil {
			klogging.Fatal(ctx).WithError(err).Log("ProfileLoadFailed", "failed to load profile database")
		}
	}

	node := backendnode.NewNode(*gpuDevice, db, loggingPostprocessQueue{}, func(sess profile.ModelSession) executor.ForwardRunner {
		return echoForwardRunner{}
	})

	pe, err := prometheus.NewExporter(prometheus.Options{Namespace: "nexus_backend"})
	if err != nil {
		klogging.Fatal(ctx).WithError(err).Log("PrometheusExporterFailed", "failed to create prometheus exporter")
	}
	metricproducer.GlobalManager().AddProducer(kmetrics.GetKmetricsRegistry())
	metricproducer.GlobalManager().AddProducer(ksysmetrics.GetRegistry())
	ksysmetrics.StartSysMetricsCollector(ctx, 15*time.Second, Version)

	mainMux := http.NewServeMux()
	ctrl.NewNodeServer(node).RegisterRoutes(mainMux)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", pe)

	mainServer := &http.Server{Addr: fmt.Sprintf(":%d", *port), Handler: mainMux}
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", *metricsPort), Handler: metricsMux}

	go func() {
		klogging.Info(ctx).With("addr", metricsServer.Addr).Log("MetricsServerStarting", "metrics server starting")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			klogging.Error(ctx).WithError(err).Log("MetricsServerError", "metrics server error")
		}
	}()

	go func() {
		schedClient := ctrl.NewSchedulerClient(*schedulerAddress, 5*time.Second)
		selfAddr := *rpcAddress
		if selfAddr == "" {
			selfAddr = fmt.Sprintf("http://localhost:%d", *port)
		}
		if err := schedClient.RegisterBackend(ctx, ctrl.RegisterBackendRequest{
			NodeID:        *nodeID,
			ServerAddress: selfAddr,
			RpcAddress:    selfAddr,
			GpuDevice:     *gpuDevice,
		}); err != nil {
			klogging.Error(ctx).WithError(err).Log("RegisterBackendFailed", "failed to register with scheduler")
		}
	}()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		klogging.Info(ctx).Log("BackendShutdown", "shutting down")
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := mainServer.Shutdown(shutdownCtx); err != nil {
			klogging.Error(ctx).WithError(err).Log("MainServerShutdownError", "main server shutdown error")
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			klogging.Error(ctx).WithError(err).Log("MetricsServerShutdownError", "metrics server shutdown error")
		}
	}()

	klogging.Info(ctx).With("addr", mainServer.Addr).Log("MainServerStarting", "ctrl server starting")
	if err := mainServer.ListenAndServe(); err != http.ErrServerClosed {
		klogging.Error(ctx).WithError(err).Log("MainServerError", "ctrl server error")
	}
	klogging.Info(ctx).Log("BackendStopped", "nexus-backend stopped")
}
