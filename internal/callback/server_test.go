package callback

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) *Server {
	t.Helper()

	s := NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(s.Stop)

	require.NoError(t, s.Start(ctx, 0))
	return s
}

func get(t *testing.T, s *Server, path string) *http.Response {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s", s.Port(), path))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_RedirectURI(t *testing.T) {
	s := startServer(t)
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d/oauth/callback", s.Port()), s.RedirectURI())
	assert.NotZero(t, s.Port())
}

func TestServer_CallbackDeliversCode(t *testing.T) {
	s := startServer(t)

	resp := get(t, s, "/oauth/callback?code=abc123&state=xyz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result, err := s.WaitForCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", result.Code)
	assert.Equal(t, "xyz", result.State)
	assert.False(t, result.IsError())
}

func TestServer_CallbackMissingCode(t *testing.T) {
	s := startServer(t)

	resp := get(t, s, "/oauth/callback")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, s.Completed(), "missing code must not signal completion")
}

func TestServer_CallbackErrorRedirect(t *testing.T) {
	s := startServer(t)

	resp := get(t, s, "/oauth/callback?error=access_denied&error_description=nope")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, s.Completed(), "error redirect must not signal completion")
}

func TestServer_CallbackIsIdempotent(t *testing.T) {
	s := startServer(t)

	get(t, s, "/oauth/callback?code=first")
	resp := get(t, s, "/oauth/callback?code=second")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := s.WaitForCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", result.Code, "first code wins; repeats are ignored")
}

func TestServer_ConcurrentCallbacksKeepOneResult(t *testing.T) {
	s := startServer(t)

	// Racing duplicate redirects must settle on exactly one code; later
	// arrivals must not overwrite it.
	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/oauth/callback?code=code-%d", s.Port(), i))
			if err == nil {
				resp.Body.Close()
			}
		}(i)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result, err := s.WaitForCode(ctx)
	require.NoError(t, err)
	winner := result.Code
	assert.Regexp(t, `^code-[0-7]$`, winner)

	// A straggler after the dust settles changes nothing.
	get(t, s, "/oauth/callback?code=late")
	result, err = s.WaitForCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, winner, result.Code)
}

func TestServer_WaitForAuth_PollFalseNeverBlocks(t *testing.T) {
	s := startServer(t)

	start := time.Now()
	resp := get(t, s, "/wait-for-auth?poll=false")
	elapsed := time.Since(start)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Less(t, elapsed, 2*time.Second, "poll=false must return immediately")
}

func TestServer_WaitForAuth_ReturnsOKAfterCompletion(t *testing.T) {
	s := startServer(t)

	get(t, s, "/oauth/callback?code=abc123")

	assert.Equal(t, http.StatusOK, get(t, s, "/wait-for-auth?poll=false").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, s, "/wait-for-auth?poll=true").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, s, "/wait-for-auth").StatusCode)
}

func TestServer_WaitForAuth_LongPollReleasedByCallback(t *testing.T) {
	s := startServer(t)

	done := make(chan int, 1)
	go func() {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/wait-for-auth?poll=true", s.Port()))
		if err != nil {
			done <- 0
			return
		}
		defer resp.Body.Close()
		done <- resp.StatusCode
	}()

	// Let the long poll attach before firing the callback.
	time.Sleep(100 * time.Millisecond)
	get(t, s, "/oauth/callback?code=abc123")

	select {
	case status := <-done:
		assert.Equal(t, http.StatusOK, status, "long poll must be released by the callback")
	case <-time.After(5 * time.Second):
		t.Fatal("long poll was not released by the callback")
	}
}

func TestServer_CompletionBroadcastReachesAllWaiters(t *testing.T) {
	s := startServer(t)

	const waiters = 8
	var wg sync.WaitGroup
	statuses := make([]int, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/wait-for-auth", s.Port()))
			if err != nil {
				return
			}
			defer resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	get(t, s, "/oauth/callback?code=abc123")
	wg.Wait()

	for i, status := range statuses {
		assert.Equal(t, http.StatusOK, status, "waiter %d missed the completion broadcast", i)
	}

	// Late subscribers observe completion too.
	select {
	case <-s.Done():
	default:
		t.Fatal("Done() must replay completion to late subscribers")
	}
}

func TestServer_WaitForCode_ContextCancel(t *testing.T) {
	s := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.WaitForCode(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
