package ctrl

import (
	"context"
	"net/http"

	"github.com/liangyuRain/nexus/internal/plan"
	"github.com/liangyuRain/nexus/internal/xklib/klogging"
	"github.com/liangyuRain/nexus/internal/xklib/kmetrics"
)

// ModelTableReceiver is implemented by the backend process: applying a
// scheduler-pushed model table means reconciling the set of running
// ModelExecutors against the pushed configs (load new ones, update
// existing ones' planned batch, tear down ones no longer present).
type ModelTableReceiver interface {
	ApplyModelTable(ctx context.Context, configs []plan.InstanceConfig) error
}

// NodeServer exposes the ctrl endpoints a backend or frontend process
// answers: update_model_table (backend only) and check_alive (both). A
// frontend process passes a nil receiver since it never receives a
// pushed table.
type NodeServer struct {
	receiver ModelTableReceiver
}

func NewNodeServer(receiver ModelTableReceiver) *NodeServer {
	return &NodeServer{receiver: receiver}
}

func (s *NodeServer) RegisterRoutes(mux *http.ServeMux) {
	if s.receiver != nil {
		mux.Handle("/ctrl/update_model_table", ErrorHandlingMiddleware(http.HandlerFunc(s.updateModelTableHandler)))
	}
	mux.Handle("/ctrl/check_alive", ErrorHandlingMiddleware(http.HandlerFunc(s.checkAliveHandler)))
}

func (s *NodeServer) updateModelTableHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateModelTableRequest
	decodeRequest(w, r, &req)

	kmetrics.InstrumentSummaryRunVoid(r.Context(), "ctrl.UpdateModelTable", func() {
		if err := s.receiver.ApplyModelTable(r.Context(), req.Configs); err != nil {
			panic(err)
		}
	}, "")

	klogging.Info(r.Context()).With("configCount", len(req.Configs)).
		Log("UpdateModelTableHandled", "applied pushed model table")
	writeReply(w, Reply{Status: StatusOK})
}

func (s *NodeServer) checkAliveHandler(w http.ResponseWriter, r *http.Request) {
	var req CheckAliveRequest
	decodeRequest(w, r, &req)

	klogging.Verbose(r.Context()).With("nodeKind", req.NodeKind).With("nodeId", req.NodeID).
		Log("CheckAliveHandled", "liveness probe answered")
	writeReply(w, Reply{Status: StatusOK})
}
