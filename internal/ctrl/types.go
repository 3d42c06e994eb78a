// Package ctrl implements the control-plane RPC transport between the
// scheduler and backend/frontend nodes. The original system transports
// these same messages over gRPC; this module uses HTTP+JSON in the
// teacher's idiom (net/http.ServeMux, encoding/json, panic-recovering
// middleware, kerror-typed failures mapped to HTTP status) since a
// concrete transport choice is required even though spec.md treats the
// RPC layer as an out-of-scope collaborator.
package ctrl

import "github.com/liangyuRain/nexus/internal/plan"

// Status is the control-RPC status taxonomy from spec.md §6:
// CTRL_OK, CTRL_SERVER_UNREACHABLE, plus model-level error statuses.
type Status string

const (
	StatusOK                Status = "CTRL_OK"
	StatusServerUnreachable Status = "CTRL_SERVER_UNREACHABLE"
	StatusError             Status = "CTRL_ERROR"
)

// NodeKind distinguishes backend and frontend nodes in CheckAlive,
// carried from the original CheckAliveRequest.node_type field.
type NodeKind string

const (
	NodeKindBackend  NodeKind = "BACKEND_NODE"
	NodeKindFrontend NodeKind = "FRONTEND_NODE"
)

// Reply is the common response envelope for every control RPC.
type Reply struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// UpdateModelTableRequest carries the scheduler's computed table push.
type UpdateModelTableRequest struct {
	Configs []plan.InstanceConfig `json:"configs"`
}

// CheckAliveRequest probes a node's liveness.
type CheckAliveRequest struct {
	NodeKind NodeKind `json:"node_kind"`
	NodeID   uint32   `json:"node_id"`
}

// SubscribeRequest registers a frontend's interest in a model session's
// table updates.
type SubscribeRequest struct {
	NodeID    uint32 `json:"node_id"`
	ProfileID string `json:"profile_id"`
}

// RegisterBackendRequest is the registration handshake a backend process
// sends the scheduler at startup.
type RegisterBackendRequest struct {
	NodeID             uint32 `json:"node_id"`
	ServerAddress      string `json:"server_address"`
	RpcAddress         string `json:"rpc_address"`
	GpuDevice          string `json:"gpu_device"`
	GpuAvailableMemory uint64 `json:"gpu_available_memory"`
}

// RegisterFrontendRequest is the registration handshake a frontend
// process sends the scheduler at startup.
type RegisterFrontendRequest struct {
	NodeID        uint32 `json:"node_id"`
	ServerAddress string `json:"server_address"`
	RpcAddress    string `json:"rpc_address"`
}
