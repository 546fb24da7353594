// Package transport provides the two relay endpoints: the local stdio
// stream speaking newline-delimited JSON-RPC, and the remote MCP server
// reached over SSE or streamable HTTP.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"mcpremote/pkg/logging"
)

// maxFrameSize bounds a single newline-delimited message. Tool results
// can be large; 16 MiB matches what HTTP-side MCP servers accept.
const maxFrameSize = 16 * 1024 * 1024

// Stdio is the local side of the relay: one JSON-RPC message per line on
// stdin, one per line on stdout. Stdout carries nothing else; all
// diagnostics go to stderr via the logger.
type Stdio struct {
	in  io.Reader
	out io.Writer

	writeMu sync.Mutex

	onMessage func([]byte)
	onClose   func()
	onError   func(error)

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStdio creates a stdio transport over os.Stdin and os.Stdout.
func NewStdio() *Stdio {
	return NewStdioWithStreams(os.Stdin, os.Stdout)
}

// NewStdioWithStreams creates a stdio transport over arbitrary streams.
func NewStdioWithStreams(in io.Reader, out io.Writer) *Stdio {
	return &Stdio{
		in:     in,
		out:    out,
		closed: make(chan struct{}),
	}
}

func (s *Stdio) SetMessageHandler(h func([]byte)) { s.onMessage = h }
func (s *Stdio) SetCloseHandler(h func())         { s.onClose = h }
func (s *Stdio) SetErrorHandler(h func(error))    { s.onError = h }

// Start begins reading frames. EOF on the input stream fires the close
// handler: the local client hung up.
func (s *Stdio) Start(ctx context.Context) error {
	go s.readLoop(ctx)
	return nil
}

func (s *Stdio) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg := make([]byte, len(line))
		copy(msg, line)

		if s.onMessage != nil {
			s.onMessage(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		if s.onError != nil {
			s.onError(fmt.Errorf("stdin read: %w", err))
		}
	}

	logging.Debug("Stdio", "Input stream ended")
	s.fireClose()
}

// Send writes one frame followed by a newline. Concurrent senders are
// serialized so frames never interleave.
func (s *Stdio) Send(ctx context.Context, message []byte) error {
	select {
	case <-s.closed:
		return fmt.Errorf("stdio transport closed")
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.out.Write(message); err != nil {
		return fmt.Errorf("stdout write: %w", err)
	}
	if _, err := s.out.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("stdout write: %w", err)
	}
	return nil
}

// Close stops the transport. The close handler does not fire for a local
// Close, only for peer-initiated end of stream.
func (s *Stdio) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}

func (s *Stdio) fireClose() {
	select {
	case <-s.closed:
		// Already closed locally; the peer hangup is not news.
		return
	default:
	}
	if s.onClose != nil {
		s.onClose()
	}
}
