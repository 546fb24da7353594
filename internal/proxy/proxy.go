// Package proxy relays opaque messages between two transports. It has no
// protocol knowledge beyond message boundaries: payloads pass through
// unmodified, and a close on one side is mirrored to the other exactly
// once.
package proxy

import (
	"context"
	"fmt"
	"sync"

	"mcpremote/pkg/logging"
)

const subsystem = "Proxy"

// Transport is one side of the relay. Implementations deliver inbound
// messages through the registered message handler and report terminal
// conditions through the close and error handlers. Handlers must be
// registered before Start.
type Transport interface {
	// Start begins reading. It returns once the transport is ready;
	// delivery happens on the transport's own goroutines.
	Start(ctx context.Context) error

	// Send writes one message. Message contents are opaque.
	Send(ctx context.Context, message []byte) error

	// SetMessageHandler registers the inbound message callback.
	SetMessageHandler(func(message []byte))

	// SetCloseHandler registers the callback fired when the transport
	// reaches end of stream or its peer disconnects.
	SetCloseHandler(func())

	// SetErrorHandler registers the callback for non-terminal errors.
	SetErrorHandler(func(err error))

	// Close shuts the transport down. It must be safe to call more than
	// once and after the close handler has fired.
	Close() error
}

// Proxy wires a local and a remote transport together and relays until
// either side closes.
type Proxy struct {
	local  Transport
	remote Transport

	// sessionID correlates log lines across both directions.
	sessionID string

	localClosed  sync.Once
	remoteClosed sync.Once

	done     chan struct{}
	doneOnce sync.Once

	errMu   sync.Mutex
	lastErr error
}

// New creates a Proxy over the two transports.
func New(local, remote Transport, sessionID string) *Proxy {
	return &Proxy{
		local:     local,
		remote:    remote,
		sessionID: sessionID,
		done:      make(chan struct{}),
	}
}

// Run starts both transports and relays until either side closes or the
// context is cancelled. On return both transports are closed. Startup
// failures and context cancellation are returned directly; otherwise Run
// returns the last relay error recorded during the session, so a send
// failure surfaces to the caller even after a clean close, and nil when
// no relay error occurred.
func (p *Proxy) Run(ctx context.Context) error {
	p.local.SetMessageHandler(func(message []byte) {
		p.relay(ctx, p.remote, "local->remote", message)
	})
	p.remote.SetMessageHandler(func(message []byte) {
		p.relay(ctx, p.local, "remote->local", message)
	})

	p.local.SetCloseHandler(func() {
		logging.Debug(subsystem, "Local side closed: session=%s", p.sessionID)
		p.mirrorClose(&p.remoteClosed, p.remote, "remote")
		p.finish()
	})
	p.remote.SetCloseHandler(func() {
		logging.Debug(subsystem, "Remote side closed: session=%s", p.sessionID)
		p.mirrorClose(&p.localClosed, p.local, "local")
		p.finish()
	})

	p.local.SetErrorHandler(func(err error) {
		p.recordError(fmt.Errorf("local transport: %w", err))
	})
	p.remote.SetErrorHandler(func(err error) {
		p.recordError(fmt.Errorf("remote transport: %w", err))
	})

	if err := p.local.Start(ctx); err != nil {
		return fmt.Errorf("failed to start local transport: %w", err)
	}
	if err := p.remote.Start(ctx); err != nil {
		p.mirrorClose(&p.localClosed, p.local, "local")
		return fmt.Errorf("failed to start remote transport: %w", err)
	}

	logging.Info(subsystem, "Relay established: session=%s", p.sessionID)

	select {
	case <-ctx.Done():
		p.Close()
		return ctx.Err()
	case <-p.done:
	}

	// Both sides are closed here; mirrorClose already ran for the
	// surviving side.
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.lastErr
}

// Close shuts both sides down. Safe to call concurrently with Run and
// with transport callbacks.
func (p *Proxy) Close() {
	p.mirrorClose(&p.localClosed, p.local, "local")
	p.mirrorClose(&p.remoteClosed, p.remote, "remote")
	p.finish()
}

// Done is closed once the relay has ended.
func (p *Proxy) Done() <-chan struct{} {
	return p.done
}

// relay forwards one message. Send failures are reported, never fatal:
// closing is the transport's decision, signalled via its close handler.
func (p *Proxy) relay(ctx context.Context, dst Transport, direction string, message []byte) {
	logging.Debug(subsystem, "Relaying message: session=%s direction=%s bytes=%d",
		p.sessionID, direction, len(message))

	if err := dst.Send(ctx, message); err != nil {
		p.recordError(fmt.Errorf("relay %s: %w", direction, err))
	}
}

// mirrorClose closes the given side at most once.
func (p *Proxy) mirrorClose(once *sync.Once, t Transport, side string) {
	once.Do(func() {
		if err := t.Close(); err != nil {
			logging.Debug(subsystem, "Error closing %s transport: session=%s error=%v", side, p.sessionID, err)
		}
	})
}

func (p *Proxy) finish() {
	p.doneOnce.Do(func() {
		close(p.done)
	})
}

func (p *Proxy) recordError(err error) {
	logging.Warn(subsystem, "Relay error: session=%s error=%v", p.sessionID, err)
	p.errMu.Lock()
	p.lastErr = err
	p.errMu.Unlock()
}
