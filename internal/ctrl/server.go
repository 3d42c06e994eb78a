package ctrl

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/liangyuRain/nexus/internal/profile"
	"github.com/liangyuRain/nexus/internal/scheduler"
	"github.com/liangyuRain/nexus/internal/xklib/kerror"
	"github.com/liangyuRain/nexus/internal/xklib/klogging"
	"github.com/liangyuRain/nexus/internal/xklib/kmetrics"
)

// SchedulerServer exposes the scheduler's registration and subscription
// endpoints: the half of the control surface where nodes are the RPC
// client and the scheduler is the RPC server.
type SchedulerServer struct {
	sched          *scheduler.Scheduler
	backendTimeout time.Duration
}

func NewSchedulerServer(sched *scheduler.Scheduler, backendTimeout time.Duration) *SchedulerServer {
	return &SchedulerServer{sched: sched, backendTimeout: backendTimeout}
}

// RegisterRoutes wires this server's handlers onto mux, each behind
// ErrorHandlingMiddleware.
func (s *SchedulerServer) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/ctrl/register_backend", ErrorHandlingMiddleware(http.HandlerFunc(s.registerBackendHandler)))
	mux.Handle("/ctrl/register_frontend", ErrorHandlingMiddleware(http.HandlerFunc(s.registerFrontendHandler)))
	mux.Handle("/ctrl/subscribe", ErrorHandlingMiddleware(http.HandlerFunc(s.subscribeHandler)))
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) {
	if r.Method != http.MethodPost {
		panic(kerror.Create("MethodNotAllowed", "only POST is allowed").
			WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		panic(kerror.Wrap(err, "MalformedRequest", "failed to decode request body", false).
			WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
}

func writeReply(w http.ResponseWriter, reply Reply) {
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		panic(kerror.Wrap(err, "EncodingError", "failed to encode ctrl response", false).
			WithErrorCode(kerror.EC_INTERNAL_ERROR))
	}
}

func (s *SchedulerServer) registerBackendHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterBackendRequest
	decodeRequest(w, r, &req)

	kmetrics.InstrumentSummaryRunVoid(r.Context(), "ctrl.RegisterBackend", func() {
		client := NewBackendClient(req.RpcAddress, s.backendTimeout)
		record := scheduler.NewBackendRecord(req.NodeID, req.ServerAddress, req.RpcAddress,
			req.GpuDevice, req.GpuAvailableMemory, s.backendTimeout, client)
		s.sched.RegisterBackend(record)
	}, "")

	klogging.Info(r.Context()).With("nodeId", req.NodeID).With("gpu", req.GpuDevice).
		Log("RegisterBackendHandled", "backend registration accepted")
	writeReply(w, Reply{Status: StatusOK})
}

func (s *SchedulerServer) registerFrontendHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterFrontendRequest
	decodeRequest(w, r, &req)

	kmetrics.InstrumentSummaryRunVoid(r.Context(), "ctrl.RegisterFrontend", func() {
		client := NewFrontendClient(req.RpcAddress, s.backendTimeout)
		record := scheduler.NewFrontendRecord(req.NodeID, req.ServerAddress, req.RpcAddress, s.backendTimeout, client)
		s.sched.RegisterFrontend(record)
	}, "")

	klogging.Info(r.Context()).With("nodeId", req.NodeID).
		Log("RegisterFrontendHandled", "frontend registration accepted")
	writeReply(w, Reply{Status: StatusOK})
}

func (s *SchedulerServer) subscribeHandler(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	decodeRequest(w, r, &req)

	f, ok := s.sched.Frontend(req.NodeID)
	if !ok {
		panic(kerror.Create("UnknownFrontend", "no frontend registered with this node id").
			WithErrorCode(kerror.EC_NOT_FOUND).
			With("nodeId", req.NodeID))
	}
	f.SubscribeModel(profile.ProfileID(req.ProfileID))

	klogging.Info(r.Context()).With("nodeId", req.NodeID).With("profileId", req.ProfileID).
		Log("SubscribeHandled", "frontend subscribed to a model session")
	writeReply(w, Reply{Status: StatusOK})
}
