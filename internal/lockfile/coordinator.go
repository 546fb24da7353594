package lockfile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"mcpremote/internal/callback"
	"mcpremote/internal/store"
	"mcpremote/pkg/logging"
)

const subsystem = "LockCoordinator"

// probeTimeout bounds the liveness probe against a leader's callback
// listener during lock validation.
const probeTimeout = time.Second

// maxPortAttempts caps the linear search for a free callback port when the
// preferred port is taken.
const maxPortAttempts = 10

// ErrLeaderGone is returned from WaitForLeader when the leader stopped
// responding or its lock disappeared before auth completed. The caller is
// expected to retry acquisition.
var ErrLeaderGone = errors.New("auth leader is gone")

// ProcessProber checks whether a process is alive. Best-effort: false on
// any inability to determine.
type ProcessProber interface {
	IsRunning(pid int) bool
}

// osProber probes the local process table.
type osProber struct{}

func (osProber) IsRunning(pid int) bool { return isProcessRunning(pid) }

// Session is the outcome of AcquireOrJoin for one fingerprint.
type Session struct {
	// Role says whether this process leads the interactive login.
	Role Role

	// Server is the leader's callback listener. Nil for followers.
	Server *callback.Server

	// LeaderPort is the existing leader's listener port. Zero for leaders.
	LeaderPort int
}

// Coordinator arbitrates which process performs interactive login for a
// fingerprint. It is the sole writer of the lock record.
type Coordinator struct {
	store      store.Store
	prober     ProcessProber
	httpClient *http.Client
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithProber sets a custom process liveness prober (used by tests).
func WithProber(p ProcessProber) Option {
	return func(c *Coordinator) { c.prober = p }
}

// WithHTTPClient sets a custom HTTP client for leader probes.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) { c.httpClient = client }
}

// NewCoordinator creates a coordinator backed by the given store.
func NewCoordinator(s store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      s,
		prober:     osProber{},
		httpClient: &http.Client{Timeout: probeTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AcquireOrJoin decides whether this process leads the interactive login
// for the fingerprint or follows an existing leader.
//
// With no lock on disk the process starts a callback listener, writes a
// fresh lock, and leads. With a valid lock it follows the recorded leader.
// An invalid lock is deleted and acquisition retried once; the single retry
// avoids a live-lock between two processes that both detect staleness.
func (c *Coordinator) AcquireOrJoin(ctx context.Context, fingerprint string, preferredPort int) (*Session, error) {
	for attempt := 0; attempt < 2; attempt++ {
		var rec Record
		err := c.store.ReadJSON(fingerprint, store.NameLock, &rec)

		switch {
		case err == nil:
			if c.Validate(ctx, &rec) {
				logging.Debug(subsystem, "valid lock held by pid %d on port %d, joining as follower", rec.PID, rec.Port)
				return &Session{Role: RoleFollower, LeaderPort: rec.Port}, nil
			}

			logging.Info(subsystem, "stale lock for pid %d (age %s), removing it", rec.PID, rec.Age().Round(time.Second))
			if err := c.store.Delete(fingerprint, store.NameLock); err != nil {
				logging.Warn(subsystem, "failed to remove stale lock: %v", err)
			}
			// Re-read on the next attempt; a concurrent process may have
			// acquired in the meantime.
			continue

		case errors.Is(err, store.ErrNotFound):
			return c.becomeLeader(ctx, fingerprint, preferredPort)

		default:
			// Unreadable lock: assume no valid leader rather than fail.
			logging.Warn(subsystem, "lock unreadable (%v), assuming no leader", err)
			return c.becomeLeader(ctx, fingerprint, preferredPort)
		}
	}

	// Both attempts found a lock that failed validation; one redundant
	// login prompt is preferable to blocking auth entirely.
	logging.Warn(subsystem, "lock still present after stale cleanup, proceeding as leader anyway")
	return c.becomeLeader(ctx, fingerprint, preferredPort)
}

// becomeLeader starts the callback listener and records the lock.
func (c *Coordinator) becomeLeader(ctx context.Context, fingerprint string, preferredPort int) (*Session, error) {
	server, err := c.startListener(ctx, preferredPort)
	if err != nil {
		return nil, err
	}

	rec := Record{
		PID:        os.Getpid(),
		Port:       server.Port(),
		AcquiredAt: time.Now().UnixMilli(),
	}
	if err := c.store.WriteJSON(fingerprint, store.NameLock, &rec); err != nil {
		// Leading without a lock record only risks a duplicate prompt.
		logging.Warn(subsystem, "failed to write lock record: %v", err)
	}

	logging.Debug(subsystem, "acquired leadership for %s (pid %d, port %d)", fingerprint, rec.PID, rec.Port)
	return &Session{Role: RoleLeader, Server: server}, nil
}

// startListener binds the callback listener, walking forward from the
// preferred port a bounded number of times. Port 0 asks the OS directly.
func (c *Coordinator) startListener(ctx context.Context, preferredPort int) (*callback.Server, error) {
	if preferredPort == 0 {
		server := callback.NewServer()
		if err := server.Start(ctx, 0); err != nil {
			return nil, fmt.Errorf("failed to start callback listener: %w", err)
		}
		return server, nil
	}

	var lastErr error
	for i := 0; i < maxPortAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		port := preferredPort + i
		server := callback.NewServer()
		if err := server.Start(ctx, port); err != nil {
			lastErr = err
			continue
		}
		if i > 0 {
			logging.Info(subsystem, "preferred callback port busy, using %d", port)
		}
		return server, nil
	}

	return nil, fmt.Errorf("no free callback port in range %d-%d: %w",
		preferredPort, preferredPort+maxPortAttempts-1, lastErr)
}

// Validate reports whether a lock record still designates a usable leader.
// A record is valid iff it is within MaxAge, its owner process is alive,
// and the owner's completion probe answers within probeTimeout. Every
// validation failure means "invalid": a stuck lock is worse than a
// redundant login prompt.
func (c *Coordinator) Validate(ctx context.Context, rec *Record) bool {
	if rec.Expired() {
		logging.Debug(subsystem, "lock expired (age %s)", rec.Age().Round(time.Second))
		return false
	}

	if !c.prober.IsRunning(rec.PID) {
		logging.Debug(subsystem, "lock owner pid %d is not running", rec.PID)
		return false
	}

	if c.probeLeader(ctx, rec.Port) == leaderUnreachable {
		logging.Debug(subsystem, "lock owner's listener on port %d is unreachable", rec.Port)
		return false
	}
	return true
}

type leaderStatus int

const (
	leaderUnreachable leaderStatus = iota
	leaderInProgress
	leaderCompleted
)

// probeLeader asks the leader's non-blocking completion probe.
func (c *Coordinator) probeLeader(ctx context.Context, port int) leaderStatus {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d%s?poll=false", port, callback.WaitPath)
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return leaderUnreachable
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return leaderUnreachable
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return leaderCompleted
	case http.StatusAccepted:
		return leaderInProgress
	default:
		return leaderUnreachable
	}
}

// Release deletes the lock record iff this process owns it. Called on
// graceful shutdown and from the signal handler; failures are logged, not
// propagated, because exit-time cleanup must not block shutdown.
func (c *Coordinator) Release(fingerprint string) {
	var rec Record
	if err := c.store.ReadJSON(fingerprint, store.NameLock, &rec); err != nil {
		return
	}
	if rec.PID != os.Getpid() {
		return
	}

	if err := c.store.Delete(fingerprint, store.NameLock); err != nil {
		logging.Warn(subsystem, "failed to release lock: %v", err)
		return
	}
	logging.Debug(subsystem, "released lock for %s", fingerprint)
}
