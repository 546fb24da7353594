// Package callback runs the local HTTP listener that receives the OAuth
// redirect and lets other bridge processes observe auth completion.
//
// The listener exposes two routes:
//
//	GET /oauth/callback?code=...   the OAuth redirect target
//	GET /wait-for-auth?poll=bool   completion probe / long-poll
//
// Completion is a broadcast: one writer (the callback route) and arbitrarily
// many waiters (long-poll route, plus the owning process), with the signal
// replayed to waiters that arrive after it fired.
package callback

import (
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"mcpremote/pkg/logging"
)

// CallbackPath is the redirect path registered with the authorization server.
const CallbackPath = "/oauth/callback"

// WaitPath is the completion probe path used by follower processes and by
// lock validation.
const WaitPath = "/wait-for-auth"

// LongPollTimeout bounds a single blocking wait-for-auth request. Callers
// re-poll on 202; this is an explicit re-poll contract, not a single
// infinite wait.
const LongPollTimeout = 30 * time.Second

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

var (
	successTemplate = template.Must(template.New("success").Parse(callbackSuccessHTML))
	errorTemplate   = template.Must(template.New("error").Parse(callbackErrorHTML))
)

// Result carries the outcome of the OAuth redirect.
type Result struct {
	// Code is the authorization code from the OAuth provider.
	Code string

	// State is the state parameter to verify against the original request.
	State string

	// Err is the error code if the authorization failed.
	Err string

	// ErrDescription is a human-readable error description.
	ErrDescription string
}

// IsError returns true if the redirect reported an authorization failure.
func (r *Result) IsError() bool {
	return r.Err != ""
}

// Server is the local HTTP listener for one fingerprint. The lock
// coordinator starts exactly one per leader process; followers talk to the
// leader's instance over loopback.
type Server struct {
	server   *http.Server
	listener net.Listener
	port     int

	mu     sync.Mutex
	result *Result

	// done is the completion broadcast: closed exactly once when the
	// authorization code arrives. A closed channel replays completion to
	// waiters that subscribe late, which a buffered channel cannot do.
	done     chan struct{}
	doneOnce sync.Once
}

// NewServer creates a callback server. It does not bind until Start.
func NewServer() *Server {
	return &Server{done: make(chan struct{})}
}

// Start binds the listener on 127.0.0.1:port and begins serving. A port of
// 0 picks an ephemeral port. The server stops when ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start callback listener on %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, s.handleCallback)
	mux.HandleFunc(WaitPath, s.handleWaitForAuth)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.Error("Callback", err, "callback listener terminated unexpectedly")
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	logging.Debug("Callback", "listening on 127.0.0.1:%d", s.port)
	return nil
}

// Port returns the bound port. Only valid after Start.
func (s *Server) Port() int {
	return s.port
}

// RedirectURI returns the redirect URI to register with the authorization
// server. Only valid after Start.
func (s *Server) RedirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", s.port, CallbackPath)
}

// Completed reports whether the authorization code has been received.
func (s *Server) Completed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done returns the completion broadcast channel. It is closed exactly once
// when the authorization code arrives and stays closed, so waiters that
// subscribe after completion observe it immediately.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// WaitForCode blocks until the authorization code arrives or ctx is done.
func (s *Server) WaitForCode(ctx context.Context) (*Result, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleCallback handles the OAuth redirect. The first request carrying a
// code wins and fires the completion broadcast; repeats are answered with
// the same success page so a browser refresh stays harmless.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	query := r.URL.Query()
	result := &Result{
		Code:           query.Get("code"),
		State:          query.Get("state"),
		Err:            query.Get("error"),
		ErrDescription: query.Get("error_description"),
	}

	if result.IsError() {
		logging.Warn("Callback", "authorization server reported error: %s", result.Err)
		renderError(w, http.StatusOK, result.Err, result.ErrDescription)
		return
	}

	if result.Code == "" {
		renderError(w, http.StatusBadRequest, "missing_code", "The redirect did not include an authorization code.")
		return
	}

	// First code wins, including when duplicate redirects race each
	// other; repeats get the same success page so a browser refresh
	// stays harmless.
	s.mu.Lock()
	first := s.result == nil
	if first {
		s.result = result
	}
	s.mu.Unlock()

	if first {
		s.doneOnce.Do(func() { close(s.done) })
		logging.Debug("Callback", "authorization code received")
	}

	renderSuccess(w)
}

// handleWaitForAuth implements the completion probe.
//
//	poll=false  never blocks: 200 when complete, 202 otherwise
//	poll=true   200 immediately when complete, else blocks up to
//	            LongPollTimeout; 200 on completion, 202 on timeout
func (s *Server) handleWaitForAuth(w http.ResponseWriter, r *http.Request) {
	if s.Completed() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Authentication completed")
		return
	}

	if r.URL.Query().Get("poll") == "false" {
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintln(w, "Authentication in progress")
		return
	}

	select {
	case <-s.done:
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Authentication completed")
	case <-r.Context().Done():
		// Client went away; nothing useful to write.
	case <-time.After(LongPollTimeout):
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintln(w, "Authentication in progress, retry")
	}
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
}

func renderSuccess(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := successTemplate.Execute(w, nil); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func renderError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	data := map[string]string{"Error": code, "Description": description}
	if err := errorTemplate.Execute(w, data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
