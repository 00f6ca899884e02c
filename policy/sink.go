package policy

import (
	"context"
	"sync"
)

// Sink is the destination of mirrored frames. *chunkstore.Store satisfies
// it; Append reports whether the frame was stored and never fails loudly.
type Sink interface {
	Append(ctx context.Context, streamID string, seq int64, frame []byte) bool
}

// WriteOp records one Append call for ordering assertions.
type WriteOp struct {
	StreamID string
	Seq      int64
	Frame    []byte
}

// StubSink is a test sink that records appends in memory.
type StubSink struct {
	mu sync.Mutex

	// Writes holds accepted appends in arrival order.
	Writes []WriteOp
	// Reject makes every Append report failure.
	Reject bool
	// Gate, if non-nil, blocks each Append until it is closed.
	Gate chan struct{}
}

// NewStubSink creates an empty stub sink.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// Append implements Sink.
func (s *StubSink) Append(ctx context.Context, streamID string, seq int64, frame []byte) bool {
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return false
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Reject {
		return false
	}
	s.Writes = append(s.Writes, WriteOp{StreamID: streamID, Seq: seq, Frame: frame})
	return true
}

// Count returns the number of accepted appends for streamID.
func (s *StubSink) Count(streamID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, w := range s.Writes {
		if w.StreamID == streamID {
			n++
		}
	}
	return n
}
