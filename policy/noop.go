package policy

import "context"

// NoopPolicy discards every frame. Used when no chunk store is configured,
// which disables resumption entirely.
type NoopPolicy struct {
	stats statsRecorder
}

// NewNoopPolicy creates a new no-op policy.
func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{}
}

// Mirror counts the frame as dropped.
func (p *NoopPolicy) Mirror(context.Context, string, int64, []byte) {
	p.stats.incTotal()
	p.stats.incDropped()
}

// Flush is a no-op.
func (p *NoopPolicy) Flush(context.Context, string) error {
	p.stats.incFlush()
	return nil
}

// Close is a no-op.
func (p *NoopPolicy) Close(context.Context) error { return nil }

// Name implements Policy.
func (p *NoopPolicy) Name() string { return NameNoop }

// Stats implements Policy.
func (p *NoopPolicy) Stats() Stats { return p.stats.snapshot() }

// Verify NoopPolicy implements Policy.
var _ Policy = (*NoopPolicy)(nil)
