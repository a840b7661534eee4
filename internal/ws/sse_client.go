package ws

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SSEClient streams Server-Sent Events over an HTTP response writer.
type SSEClient struct {
	mu     sync.Mutex
	writer io.Writer
	rc     *http.ResponseController
	log    *slog.Logger
	closed bool
	done   chan struct{}
}

// NewSSEClient builds an SSE client instance.
func NewSSEClient(w http.ResponseWriter, logger *slog.Logger) *SSEClient {
	return &SSEClient{writer: w, rc: http.NewResponseController(w), log: logger, done: make(chan struct{})}
}

// Send emits a data event to the SSE stream.
func (c *SSEClient) Send(payload []byte) error {
	return c.emit(func() error {
		_, err := fmt.Fprintf(c.writer, "data: %s\n\n", payload)
		return err
	}, "sse send failed")
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	return c.emit(func() error {
		_, err := fmt.Fprint(c.writer, ": ping\n\n")
		return err
	}, "sse heartbeat failed")
}

// emit runs one write under a deadline so a stalled peer fails instead of blocking.
func (c *SSEClient) emit(write func() error, msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		c.closeLocked()
		return err
	}
	err := write()
	if err == nil {
		err = c.rc.Flush()
	}
	if err != nil {
		c.closeLocked()
		c.log.Warn(msg, "error", err)
		return err
	}
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// Done is closed once the stream stops accepting events.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}

func (c *SSEClient) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	_ = c.rc.SetWriteDeadline(time.Time{})
	close(c.done)
}
