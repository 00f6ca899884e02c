package policy

import "context"

// StrictPolicy writes each frame to the sink inline, on the caller's
// goroutine. The client write path absorbs sink latency, bounded by the
// sink's own timeout. Mirrored frames arrive in sequence order.
type StrictPolicy struct {
	sink  Sink
	stats statsRecorder
}

// NewStrictPolicy creates a strict policy writing to sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{sink: sink}
}

// Mirror writes the frame before returning. Cancellation of ctx does not
// abort the write: the frame has already reached the client.
func (p *StrictPolicy) Mirror(ctx context.Context, streamID string, seq int64, frame []byte) {
	p.stats.incTotal()
	if p.sink.Append(context.WithoutCancel(ctx), streamID, seq, frame) {
		p.stats.incPersisted()
		return
	}
	p.stats.incErrors()
}

// Flush is a no-op: nothing is ever pending.
func (p *StrictPolicy) Flush(context.Context, string) error {
	p.stats.incFlush()
	return nil
}

// Close is a no-op.
func (p *StrictPolicy) Close(context.Context) error {
	return nil
}

// Name implements Policy.
func (p *StrictPolicy) Name() string { return NameStrict }

// Stats implements Policy.
func (p *StrictPolicy) Stats() Stats { return p.stats.snapshot() }

// Verify StrictPolicy implements Policy.
var _ Policy = (*StrictPolicy)(nil)
