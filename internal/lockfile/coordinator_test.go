package lockfile

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpremote/internal/store"
)

const testFingerprint = "abcabcabcabcabcabcabcabcabcabcab"

// fakeProber lets tests script process liveness per pid.
type fakeProber struct {
	running map[int]bool
}

func (p *fakeProber) IsRunning(pid int) bool {
	return p.running[pid]
}

func newTestCoordinator(t *testing.T, s store.Store, prober ProcessProber) *Coordinator {
	t.Helper()
	if prober == nil {
		prober = &fakeProber{running: map[int]bool{os.Getpid(): true}}
	}
	return NewCoordinator(s, WithProber(prober))
}

func TestRecord_Expiry(t *testing.T) {
	fresh := Record{AcquiredAt: time.Now().UnixMilli()}
	assert.False(t, fresh.Expired())

	old := Record{AcquiredAt: time.Now().Add(-31 * time.Minute).UnixMilli()}
	assert.True(t, old.Expired(), "a record older than 30 minutes is always expired")
}

func TestAcquireOrJoin_NoLockBecomesLeader(t *testing.T) {
	s := store.NewMemoryStore()
	c := newTestCoordinator(t, s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := c.AcquireOrJoin(ctx, testFingerprint, 0)
	require.NoError(t, err)
	defer session.Server.Stop()

	assert.Equal(t, RoleLeader, session.Role)
	require.NotNil(t, session.Server)

	var rec Record
	require.NoError(t, s.ReadJSON(testFingerprint, store.NameLock, &rec))
	assert.Equal(t, os.Getpid(), rec.PID)
	assert.Equal(t, session.Server.Port(), rec.Port)
	assert.InDelta(t, time.Now().UnixMilli(), rec.AcquiredAt, 5000)
}

func TestAcquireOrJoin_ValidLockBecomesFollower(t *testing.T) {
	s := store.NewMemoryStore()

	// Simulate a running leader: real listener, live pid.
	leaderCoord := newTestCoordinator(t, s, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	leader, err := leaderCoord.AcquireOrJoin(ctx, testFingerprint, 0)
	require.NoError(t, err)
	defer leader.Server.Stop()

	follower, err := newTestCoordinator(t, s, nil).AcquireOrJoin(ctx, testFingerprint, 0)
	require.NoError(t, err)

	assert.Equal(t, RoleFollower, follower.Role)
	assert.Equal(t, leader.Server.Port(), follower.LeaderPort)
	assert.Nil(t, follower.Server, "a follower must never open its own listener")
}

func TestAcquireOrJoin_DeadOwnerLockIsReplaced(t *testing.T) {
	s := store.NewMemoryStore()

	// Crashed leader: pid 100 not running, lock left behind.
	stale := Record{PID: 100, Port: 4001, AcquiredAt: time.Now().UnixMilli()}
	require.NoError(t, s.WriteJSON(testFingerprint, store.NameLock, &stale))

	prober := &fakeProber{running: map[int]bool{os.Getpid(): true}}
	c := newTestCoordinator(t, s, prober)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := c.AcquireOrJoin(ctx, testFingerprint, 0)
	require.NoError(t, err)
	defer session.Server.Stop()

	assert.Equal(t, RoleLeader, session.Role)

	var rec Record
	require.NoError(t, s.ReadJSON(testFingerprint, store.NameLock, &rec))
	assert.Equal(t, os.Getpid(), rec.PID, "the stale lock must be replaced by ours")
}

func TestAcquireOrJoin_ExpiredLockIsReplacedEvenIfOwnerAlive(t *testing.T) {
	s := store.NewMemoryStore()

	expired := Record{
		PID:        os.Getpid(), // alive by definition
		Port:       4001,
		AcquiredAt: time.Now().Add(-31 * time.Minute).UnixMilli(),
	}
	require.NoError(t, s.WriteJSON(testFingerprint, store.NameLock, &expired))

	c := newTestCoordinator(t, s, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := c.AcquireOrJoin(ctx, testFingerprint, 0)
	require.NoError(t, err)
	defer session.Server.Stop()

	assert.Equal(t, RoleLeader, session.Role)
}

func TestAcquireOrJoin_UnreachableListenerIsStale(t *testing.T) {
	s := store.NewMemoryStore()

	// Owner is alive but nothing listens on the recorded port.
	port := unusedPort(t)
	rec := Record{PID: os.Getpid(), Port: port, AcquiredAt: time.Now().UnixMilli()}
	require.NoError(t, s.WriteJSON(testFingerprint, store.NameLock, &rec))

	c := newTestCoordinator(t, s, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := c.AcquireOrJoin(ctx, testFingerprint, 0)
	require.NoError(t, err)
	defer session.Server.Stop()

	assert.Equal(t, RoleLeader, session.Role)
}

func TestValidate_AllConditions(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	t.Run("expired regardless of liveness", func(t *testing.T) {
		prober := &fakeProber{running: map[int]bool{100: true}}
		c := newTestCoordinator(t, s, prober)
		rec := Record{PID: 100, Port: 4001, AcquiredAt: time.Now().Add(-31 * time.Minute).UnixMilli()}
		assert.False(t, c.Validate(ctx, &rec))
	})

	t.Run("dead owner", func(t *testing.T) {
		c := newTestCoordinator(t, s, &fakeProber{running: map[int]bool{}})
		rec := Record{PID: 100, Port: 4001, AcquiredAt: time.Now().UnixMilli()}
		assert.False(t, c.Validate(ctx, &rec))
	})

	t.Run("alive and reachable", func(t *testing.T) {
		leaderCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		leader := newTestCoordinator(t, s, nil)
		session, err := leader.AcquireOrJoin(leaderCtx, "validatecheck", 0)
		require.NoError(t, err)
		defer session.Server.Stop()

		prober := &fakeProber{running: map[int]bool{os.Getpid(): true}}
		c := newTestCoordinator(t, s, prober)
		rec := Record{PID: os.Getpid(), Port: session.Server.Port(), AcquiredAt: time.Now().UnixMilli()}
		assert.True(t, c.Validate(ctx, &rec))
	})
}

func TestRelease_OnlyOwnerDeletes(t *testing.T) {
	s := store.NewMemoryStore()
	c := newTestCoordinator(t, s, nil)

	foreign := Record{PID: os.Getpid() + 1, Port: 4001, AcquiredAt: time.Now().UnixMilli()}
	require.NoError(t, s.WriteJSON(testFingerprint, store.NameLock, &foreign))

	c.Release(testFingerprint)

	var rec Record
	assert.NoError(t, s.ReadJSON(testFingerprint, store.NameLock, &rec),
		"a foreign lock must survive Release")

	owned := Record{PID: os.Getpid(), Port: 4001, AcquiredAt: time.Now().UnixMilli()}
	require.NoError(t, s.WriteJSON(testFingerprint, store.NameLock, &owned))

	c.Release(testFingerprint)
	assert.ErrorIs(t, s.ReadJSON(testFingerprint, store.NameLock, &rec), store.ErrNotFound)
}

func TestWaitForLeader_ReleasedByCompletion(t *testing.T) {
	s := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	leaderCoord := newTestCoordinator(t, s, nil)
	leader, err := leaderCoord.AcquireOrJoin(ctx, testFingerprint, 0)
	require.NoError(t, err)
	defer leader.Server.Stop()

	done := make(chan error, 1)
	go func() {
		done <- newTestCoordinator(t, s, nil).WaitForLeader(ctx, testFingerprint, leader.Server.Port())
	}()

	time.Sleep(100 * time.Millisecond)

	// Deliver the authorization code to the leader's listener.
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/oauth/callback?code=abc123", leader.Server.Port()))
	require.NoError(t, err)
	resp.Body.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follower was not released by leader completion")
	}
}

func TestWaitForLeader_LeaderGone(t *testing.T) {
	s := store.NewMemoryStore()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := newTestCoordinator(t, s, nil).WaitForLeader(ctx, testFingerprint, unusedPort(t))
	assert.ErrorIs(t, err, ErrLeaderGone)
}

// unusedPort reserves and immediately releases a port, returning one that
// is very likely free.
func unusedPort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}
