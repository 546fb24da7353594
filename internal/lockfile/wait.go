package lockfile

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"mcpremote/internal/callback"
	"mcpremote/internal/store"
	"mcpremote/pkg/logging"
)

// lockPollInterval is the fallback polling interval when fsnotify is not
// available for watching the lock file.
const lockPollInterval = 2 * time.Second

// longPollClientTimeout must exceed the listener's LongPollTimeout so a
// held poll is never cut short on the client side.
const longPollClientTimeout = callback.LongPollTimeout + 10*time.Second

// WaitForLeader blocks until the leader on leaderPort signals auth
// completion. It combines the long-poll contract (each poll is held up to
// 30s server-side and retried on 202) with a watch on the lock file so a
// crashed leader is detected without waiting out a full poll cycle.
//
// Returns nil once the leader reports completion, ErrLeaderGone when the
// leader stops responding or its lock disappears, or ctx.Err on cancel.
func (c *Coordinator) WaitForLeader(ctx context.Context, fingerprint string, leaderPort int) error {
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	lockGone := c.watchLock(watchCtx, fingerprint, leaderPort)

	pollClient := &http.Client{Timeout: longPollClientTimeout}
	url := fmt.Sprintf("http://127.0.0.1:%d%s?poll=true", leaderPort, callback.WaitPath)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lockGone:
			return ErrLeaderGone
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to build wait-for-auth request: %w", err)
		}

		resp, err := pollClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Debug(subsystem, "leader poll failed: %v", err)
			return ErrLeaderGone
		}
		status := resp.StatusCode
		resp.Body.Close()

		switch status {
		case http.StatusOK:
			logging.Debug(subsystem, "leader reported auth completion")
			return nil
		case http.StatusAccepted:
			// Poll timed out server-side; re-poll.
		default:
			logging.Debug(subsystem, "leader poll returned unexpected status %d", status)
			return ErrLeaderGone
		}
	}
}

// watchLock reports on the returned channel when the fingerprint's lock
// file vanishes or changes owner while waiting. Uses fsnotify when
// available, falling back to polling.
func (c *Coordinator) watchLock(ctx context.Context, fingerprint string, leaderPort int) <-chan struct{} {
	gone := make(chan struct{})

	fileStore, ok := c.store.(*store.FileStore)
	if !ok {
		// Non-file store (tests): no lock file to watch.
		return gone
	}
	lockPath := fileStore.Path(fingerprint, store.NameLock)

	check := func() bool {
		var rec Record
		if err := c.store.ReadJSON(fingerprint, store.NameLock, &rec); err != nil {
			return true
		}
		return rec.Port != leaderPort
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn(subsystem, "fsnotify unavailable, polling lock file instead: %v", err)
		go c.pollLock(ctx, gone, check)
		return gone
	}

	// Watch the directory: watching the file itself breaks on the
	// delete-then-recreate pattern used when leadership changes hands.
	if err := watcher.Add(filepath.Dir(lockPath)); err != nil {
		watcher.Close()
		logging.Warn(subsystem, "failed to watch lock directory, polling instead: %v", err)
		go c.pollLock(ctx, gone, check)
		return gone
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != lockPath {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename|fsnotify.Write|fsnotify.Create) != 0 && check() {
					close(gone)
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Debug(subsystem, "lock watcher error: %v", err)
			}
		}
	}()

	return gone
}

// pollLock is the fsnotify fallback: stat the lock on an interval.
func (c *Coordinator) pollLock(ctx context.Context, gone chan struct{}, check func() bool) {
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if check() {
				close(gone)
				return
			}
		}
	}
}
