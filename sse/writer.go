package sse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/vercel/ai-chatbot-sub000/types"
)

// ErrClientGone is returned by Writer once the client has disconnected.
var ErrClientGone = errors.New("sse: client disconnected")

// FrameWriter delivers encoded frames to one consumer.
type FrameWriter interface {
	// WriteFrame writes and flushes one frame. Any error means the
	// consumer is gone and no further frames will be delivered.
	WriteFrame(frame []byte) error
	// Done is closed when the consumer goes away without a write failing.
	Done() <-chan struct{}
}

// Writer writes frames to an http.ResponseWriter.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
	failed  error
}

// NewWriter creates a Writer bound to the request context. The response
// writer must support http.Flusher.
func NewWriter(ctx context.Context, w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &Writer{w: w, flusher: flusher, ctx: ctx}, nil
}

// WriteFrame implements FrameWriter.
func (w *Writer) WriteFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failed != nil {
		return w.failed
	}
	if w.ctx.Err() != nil {
		w.failed = ErrClientGone
		return w.failed
	}
	if _, err := w.w.Write(frame); err != nil {
		w.failed = fmt.Errorf("%w: %v", ErrClientGone, err)
		return w.failed
	}
	w.flusher.Flush()
	return nil
}

// WriteKeepAlive writes an SSE comment line.
func (w *Writer) WriteKeepAlive() error {
	return w.WriteFrame([]byte(": ping\n\n"))
}

// Done implements FrameWriter.
func (w *Writer) Done() <-chan struct{} {
	return w.ctx.Done()
}

// SetHeaders sets the streaming response headers, including the protocol
// marker the client uses to select its parser.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(types.ProtocolHeader, types.ProtocolVersion)
}

var _ FrameWriter = (*Writer)(nil)
