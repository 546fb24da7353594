package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpremote/internal/config"
	"mcpremote/internal/oauth"
	"mcpremote/pkg/logging"
)

const remoteSubsystem = "RemoteTransport"

// TokenProvider returns the current bearer token, or empty when none is
// available. It is consulted per request so refreshed tokens take effect
// without a reconnect.
type TokenProvider func(ctx context.Context) string

// ReauthFunc re-establishes credentials after the server rejected ours
// mid-session. It blocks until new tokens are persisted or fails.
type ReauthFunc func(ctx context.Context) error

// rpcTransport is the slice of the mcp-go transport surface the relay
// uses. Both transport.SSE and transport.StreamableHTTP satisfy it.
type rpcTransport interface {
	Start(ctx context.Context) error
	SendRequest(ctx context.Context, request transport.JSONRPCRequest) (*transport.JSONRPCResponse, error)
	SendNotification(ctx context.Context, notification mcp.JSONRPCNotification) error
	SetNotificationHandler(handler func(notification mcp.JSONRPCNotification))
	Close() error
}

// Remote adapts an mcp-go client transport to the opaque relay. Outbound
// frames are sniffed just enough to route them: requests go through
// SendRequest (whose response is relayed back), notifications through
// SendNotification. Responses travelling client-to-server have no channel
// on an MCP client transport and are reported, not relayed.
type Remote struct {
	rpc       rpcTransport
	serverURL string

	onMessage func([]byte)
	onClose   func()
	onError   func(error)

	reauth   ReauthFunc
	reauthMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// NewRemote creates the remote side of the relay for the configured
// transport type. Custom headers and the Authorization bearer are
// injected on every HTTP request.
func NewRemote(cfg *config.Config, tokens TokenProvider) (*Remote, error) {
	headerFunc := func(ctx context.Context) map[string]string {
		headers := make(map[string]string, len(cfg.Headers)+1)
		for k, v := range cfg.Headers {
			headers[k] = v
		}
		if token := tokens(ctx); token != "" {
			headers["Authorization"] = "Bearer " + token
		}
		return headers
	}

	var (
		rpc rpcTransport
		err error
	)
	switch cfg.Transport {
	case config.TransportSSE:
		rpc, err = transport.NewSSE(cfg.ServerURL, transport.WithHeaderFunc(headerFunc))
	case config.TransportHTTP:
		rpc, err = transport.NewStreamableHTTP(cfg.ServerURL, transport.WithHTTPHeaderFunc(headerFunc))
	default:
		return nil, fmt.Errorf("unknown transport type %q", cfg.Transport)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s transport: %w", cfg.Transport, err)
	}

	return &Remote{
		rpc:       rpc,
		serverURL: cfg.ServerURL,
		closed:    make(chan struct{}),
	}, nil
}

// SetReauthFunc installs the coordinated re-authentication hook used when
// the server rejects our credentials mid-session.
func (r *Remote) SetReauthFunc(f ReauthFunc) {
	r.reauth = f
}

func (r *Remote) SetMessageHandler(h func([]byte)) { r.onMessage = h }
func (r *Remote) SetCloseHandler(h func())         { r.onClose = h }
func (r *Remote) SetErrorHandler(h func(error))    { r.onError = h }

// Start connects the underlying transport and wires server-initiated
// notifications back into the relay.
func (r *Remote) Start(ctx context.Context) error {
	r.rpc.SetNotificationHandler(func(notification mcp.JSONRPCNotification) {
		raw, err := json.Marshal(notification)
		if err != nil {
			r.reportError(fmt.Errorf("failed to encode server notification: %w", err))
			return
		}
		r.deliver(raw)
	})

	if err := r.rpc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start remote transport: %w", err)
	}
	return nil
}

// frame is the minimal sniff of an outbound JSON-RPC message, enough to
// tell requests, notifications, and responses apart. Payloads are never
// re-shaped beyond this routing decision.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Send routes one client frame to the server.
func (r *Remote) Send(ctx context.Context, message []byte) error {
	select {
	case <-r.closed:
		return fmt.Errorf("remote transport closed")
	default:
	}

	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		return fmt.Errorf("malformed JSON-RPC frame: %w", err)
	}

	switch {
	case f.Method != "" && len(f.ID) > 0:
		// Requests block until the response arrives; run each in its
		// own goroutine so slow calls don't stall the relay.
		go r.sendRequest(ctx, &f)
		return nil

	case f.Method != "":
		return r.sendNotification(ctx, &f)

	default:
		// A client-to-server response. MCP client transports have no
		// channel for these; surface it instead of dropping silently.
		return fmt.Errorf("cannot relay client response (id=%s) to server: unsupported by %s transport",
			string(f.ID), r.serverURL)
	}
}

func (r *Remote) sendRequest(ctx context.Context, f *frame) {
	var id mcp.RequestId
	if err := id.UnmarshalJSON(f.ID); err != nil {
		r.reportError(fmt.Errorf("invalid request id %s: %w", string(f.ID), err))
		return
	}

	req := transport.JSONRPCRequest{
		JSONRPC: f.JSONRPC,
		ID:      id,
		Method:  f.Method,
	}
	if len(f.Params) > 0 {
		req.Params = f.Params
	}

	resp, err := r.rpc.SendRequest(ctx, req)
	if err != nil && oauth.IsAuthRequiredError(err) && r.reauth != nil {
		logging.Info(remoteSubsystem, "Credentials rejected mid-session, re-authenticating: server=%s", r.serverURL)
		if reauthErr := r.reauthOnce(ctx); reauthErr != nil {
			r.reportError(fmt.Errorf("re-authentication failed: %w", reauthErr))
			r.deliverErrorResponse(f.ID, err)
			return
		}
		resp, err = r.rpc.SendRequest(ctx, req)
	}
	if err != nil {
		r.reportError(fmt.Errorf("request %s failed: %w", f.Method, err))
		r.deliverErrorResponse(f.ID, err)
		return
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		r.reportError(fmt.Errorf("failed to encode response for %s: %w", f.Method, err))
		return
	}
	r.deliver(raw)
}

func (r *Remote) sendNotification(ctx context.Context, f *frame) error {
	notification := mcp.JSONRPCNotification{
		JSONRPC: f.JSONRPC,
		Notification: mcp.Notification{
			Method: f.Method,
		},
	}

	if len(f.Params) > 0 {
		var fields map[string]any
		if err := json.Unmarshal(f.Params, &fields); err != nil {
			return fmt.Errorf("malformed params in notification %s: %w", f.Method, err)
		}
		notification.Params.AdditionalFields = fields
	}

	return r.rpc.SendNotification(ctx, notification)
}

// reauthOnce serializes concurrent re-auth attempts; whoever loses the
// race finds fresh tokens already in place and returns immediately.
func (r *Remote) reauthOnce(ctx context.Context) error {
	r.reauthMu.Lock()
	defer r.reauthMu.Unlock()
	return r.reauth(ctx)
}

// deliverErrorResponse synthesizes a JSON-RPC error frame so the local
// client never hangs on a request the server could not answer.
func (r *Remote) deliverErrorResponse(id json.RawMessage, cause error) {
	msg, err := json.Marshal(cause.Error())
	if err != nil {
		return
	}
	raw := fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"error":{"code":-32603,"message":%s}}`, string(id), string(msg))
	r.deliver([]byte(raw))
}

func (r *Remote) deliver(message []byte) {
	select {
	case <-r.closed:
		return
	default:
	}
	if r.onMessage != nil {
		r.onMessage(message)
	}
}

func (r *Remote) reportError(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}

// Close shuts the underlying transport down.
func (r *Remote) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)
		err = r.rpc.Close()
	})
	return err
}
