package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vercel/ai-chatbot-sub000/log"
	"github.com/vercel/ai-chatbot-sub000/metrics"
)

// Defaults for AsyncConfig.
const (
	DefaultMaxInFlight   = 256
	DefaultAcquireBudget = 50 * time.Millisecond
)

// ErrClosed is returned by Close when called twice.
var ErrClosed = errors.New("policy closed")

// AsyncConfig configures an AsyncPolicy.
type AsyncConfig struct {
	// MaxInFlight bounds concurrent sink writes across all streams.
	MaxInFlight int64
	// AcquireBudget is how long Mirror may wait for a free slot before
	// dropping the frame.
	AcquireBudget time.Duration
	// Logger is an optional logger for dropped frames.
	Logger *log.Logger
	// Collector receives drop counts. Nil disables metrics.
	Collector *metrics.Collector
}

// AsyncPolicy writes frames on background goroutines so the client write
// path never waits on the sink.
//
// Concurrency is bounded by a weighted semaphore. When no slot frees up
// within AcquireBudget the frame is dropped and counted; the resulting
// sequence gap makes the stream non-resumable rather than corrupt.
//
// Writes for one stream may land out of order. Readers restore order from
// the sequence number carried with each frame.
type AsyncPolicy struct {
	sink      Sink
	sem       *semaphore.Weighted
	budget    time.Duration
	logger    *log.Logger
	collector *metrics.Collector
	stats     statsRecorder

	mu      sync.Mutex
	pending map[string]*pendingWrites
	closed  bool
	all     sync.WaitGroup
}

// pendingWrites tracks in-flight writes for one stream. An entry is
// removed when its count reaches zero, so a WaitGroup is never reused.
type pendingWrites struct {
	n  int
	wg sync.WaitGroup
}

// NewAsyncPolicy creates an async policy writing to sink.
func NewAsyncPolicy(sink Sink, cfg AsyncConfig) *AsyncPolicy {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.AcquireBudget <= 0 {
		cfg.AcquireBudget = DefaultAcquireBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &AsyncPolicy{
		sink:      sink,
		sem:       semaphore.NewWeighted(cfg.MaxInFlight),
		budget:    cfg.AcquireBudget,
		logger:    cfg.Logger.WithComponent("policy"),
		collector: cfg.Collector,
		pending:   make(map[string]*pendingWrites),
	}
}

// Mirror schedules the frame for writing. It returns once a write slot is
// reserved or the acquire budget runs out.
func (p *AsyncPolicy) Mirror(ctx context.Context, streamID string, seq int64, frame []byte) {
	p.stats.incTotal()
	detached := context.WithoutCancel(ctx)

	acquireCtx, cancel := context.WithTimeout(detached, p.budget)
	err := p.sem.Acquire(acquireCtx, 1)
	cancel()
	if err != nil {
		p.drop(streamID, seq, "saturated")
		return
	}

	pw, ok := p.track(streamID)
	if !ok {
		p.sem.Release(1)
		p.drop(streamID, seq, "closed")
		return
	}

	p.stats.addInFlight(1)
	go func() {
		defer p.untrack(streamID, pw)
		defer p.sem.Release(1)
		defer p.stats.addInFlight(-1)

		if p.sink.Append(detached, streamID, seq, frame) {
			p.stats.incPersisted()
			return
		}
		p.stats.incErrors()
	}()
}

func (p *AsyncPolicy) track(streamID string) (*pendingWrites, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false
	}
	pw, ok := p.pending[streamID]
	if !ok {
		pw = &pendingWrites{}
		p.pending[streamID] = pw
	}
	pw.n++
	pw.wg.Add(1)
	p.all.Add(1)
	return pw, true
}

func (p *AsyncPolicy) untrack(streamID string, pw *pendingWrites) {
	p.mu.Lock()
	pw.n--
	if pw.n == 0 && p.pending[streamID] == pw {
		delete(p.pending, streamID)
	}
	p.mu.Unlock()

	pw.wg.Done()
	p.all.Done()
}

func (p *AsyncPolicy) drop(streamID string, seq int64, reason string) {
	p.stats.incDropped()
	p.collector.IncChunkAppendDropped()
	p.logger.Warn("frame not mirrored", map[string]any{
		"stream_id": streamID,
		"seq":       seq,
		"reason":    reason,
	})
}

// Flush waits for the stream's in-flight writes.
func (p *AsyncPolicy) Flush(ctx context.Context, streamID string) error {
	p.stats.incFlush()

	p.mu.Lock()
	pw, ok := p.pending[streamID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return waitCtx(ctx, &pw.wg)
}

// Close rejects new frames and waits for all in-flight writes.
func (p *AsyncPolicy) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.mu.Unlock()

	if err := waitCtx(ctx, &p.all); err != nil {
		return fmt.Errorf("policy: close with %d frames in flight: %w", p.stats.snapshot().InFlight, err)
	}
	return nil
}

// Name implements Policy.
func (p *AsyncPolicy) Name() string { return NameAsync }

// Stats implements Policy.
func (p *AsyncPolicy) Stats() Stats { return p.stats.snapshot() }

func waitCtx(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FromName builds the named policy over sink.
func FromName(name string, sink Sink, cfg AsyncConfig) (Policy, error) {
	switch name {
	case NameAsync, "":
		return NewAsyncPolicy(sink, cfg), nil
	case NameStrict:
		return NewStrictPolicy(sink), nil
	case NameNoop:
		return NewNoopPolicy(), nil
	default:
		return nil, fmt.Errorf("unknown policy %q (expected %s, %s or %s)", name, NameAsync, NameStrict, NameNoop)
	}
}

// Verify AsyncPolicy implements Policy.
var _ Policy = (*AsyncPolicy)(nil)
