package ctrl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/liangyuRain/nexus/internal/plan"
	"github.com/liangyuRain/nexus/internal/xklib/kerror"
)

// httpClient is the shared low-level POST-JSON-get-JSON helper used by
// every client below. Connection failures and non-2xx responses both
// surface as a ServerUnreachable kerror, per spec.md §6's CTRL_OK /
// CTRL_SERVER_UNREACHABLE taxonomy.
type httpClient struct {
	baseURL string
	hc      *http.Client
}

func newHTTPClient(baseURL string, timeout time.Duration) *httpClient {
	return &httpClient{baseURL: baseURL, hc: &http.Client{Timeout: timeout}}
}

func (c *httpClient) post(ctx context.Context, path string, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return kerror.Wrap(err, "CtrlEncodeFailed", "failed to encode ctrl request", false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return kerror.Wrap(err, "CtrlRequestBuildFailed", "failed to build ctrl request", false)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.hc.Do(httpReq)
	if err != nil {
		return kerror.Wrap(err, "ServerUnreachable", "ctrl rpc connection failed", false).
			WithErrorCode(kerror.EC_NETWORK_ERR).
			With("path", path)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var reply Reply
		_ = json.NewDecoder(httpResp.Body).Decode(&reply)
		return kerror.Create("ServerUnreachable", "ctrl rpc returned an error status").
			WithErrorCode(kerror.EC_NETWORK_ERR).
			With("path", path).
			With("httpStatus", httpResp.StatusCode).
			With("remoteError", reply.Error)
	}

	if resp != nil {
		if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
			return kerror.Wrap(err, "CtrlDecodeFailed", "failed to decode ctrl response", false)
		}
	}
	return nil
}

// BackendClient is the scheduler's outbound handle to a backend node's
// ctrl server, implementing scheduler.BackendCtrlClient.
type BackendClient struct {
	*httpClient
}

func NewBackendClient(rpcAddress string, timeout time.Duration) *BackendClient {
	return &BackendClient{httpClient: newHTTPClient(rpcAddress, timeout)}
}

func (c *BackendClient) UpdateModelTable(ctx context.Context, configs []plan.InstanceConfig) error {
	var reply Reply
	return c.post(ctx, "/ctrl/update_model_table", UpdateModelTableRequest{Configs: configs}, &reply)
}

func (c *BackendClient) CheckAlive(ctx context.Context) error {
	var reply Reply
	return c.post(ctx, "/ctrl/check_alive", CheckAliveRequest{NodeKind: NodeKindBackend}, &reply)
}

// FrontendClient is the scheduler's outbound handle to a frontend node's
// ctrl server, implementing scheduler.FrontendCtrlClient.
type FrontendClient struct {
	*httpClient
}

func NewFrontendClient(rpcAddress string, timeout time.Duration) *FrontendClient {
	return &FrontendClient{httpClient: newHTTPClient(rpcAddress, timeout)}
}

func (c *FrontendClient) CheckAlive(ctx context.Context) error {
	var reply Reply
	return c.post(ctx, "/ctrl/check_alive", CheckAliveRequest{NodeKind: NodeKindFrontend}, &reply)
}

// SchedulerClient is a node's outbound handle to the scheduler's ctrl
// server, used for registration and subscription at startup.
type SchedulerClient struct {
	*httpClient
}

func NewSchedulerClient(schedulerAddress string, timeout time.Duration) *SchedulerClient {
	return &SchedulerClient{httpClient: newHTTPClient(schedulerAddress, timeout)}
}

func (c *SchedulerClient) RegisterBackend(ctx context.Context, req RegisterBackendRequest) error {
	var reply Reply
	return c.post(ctx, "/ctrl/register_backend", req, &reply)
}

func (c *SchedulerClient) RegisterFrontend(ctx context.Context, req RegisterFrontendRequest) error {
	var reply Reply
	return c.post(ctx, "/ctrl/register_frontend", req, &reply)
}

func (c *SchedulerClient) Subscribe(ctx context.Context, req SubscribeRequest) error {
	var reply Reply
	return c.post(ctx, "/ctrl/subscribe", req, &reply)
}
