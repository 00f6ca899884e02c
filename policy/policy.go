// Package policy controls how frames already written to a client are
// mirrored into the chunk store.
//
// Mirroring is strictly best-effort: a policy never returns a mirror
// failure to the caller and never blocks the client write path for longer
// than its configured budget.
package policy

import (
	"context"
	"sync"
)

// Names accepted by FromName.
const (
	NameAsync  = "async"
	NameStrict = "strict"
	NameNoop   = "noop"
)

// Policy mirrors encoded frames to a Sink.
type Policy interface {
	// Mirror hands one frame at seq to the sink. Must not be called after
	// Close. The frame must not be mutated afterwards.
	Mirror(ctx context.Context, streamID string, seq int64, frame []byte)

	// Flush waits until every frame previously mirrored for streamID has
	// reached the sink, or ctx expires.
	Flush(ctx context.Context, streamID string) error

	// Close rejects further frames and waits for in-flight ones, bounded
	// by ctx.
	Close(ctx context.Context) error

	// Name identifies the policy in logs and metrics.
	Name() string

	// Stats returns a consistent snapshot of policy counters.
	Stats() Stats
}

// Stats represents policy observability counters.
type Stats struct {
	// TotalFrames is the number of frames handed to Mirror.
	TotalFrames int64
	// FramesPersisted is the number of frames the sink accepted.
	FramesPersisted int64
	// FramesDropped is the number of frames never attempted because the
	// policy was saturated or closed.
	FramesDropped int64
	// Errors is the number of frames the sink rejected.
	Errors int64
	// InFlight is the number of frames currently being written.
	InFlight int64
	// FlushCount is the number of Flush calls.
	FlushCount int64
}

// statsRecorder is a thread-safe Stats holder. Policies call explicit
// methods to record mutations; the recorder makes no policy decisions.
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func (r *statsRecorder) incTotal() {
	r.mu.Lock()
	r.stats.TotalFrames++
	r.mu.Unlock()
}

func (r *statsRecorder) incPersisted() {
	r.mu.Lock()
	r.stats.FramesPersisted++
	r.mu.Unlock()
}

func (r *statsRecorder) incDropped() {
	r.mu.Lock()
	r.stats.FramesDropped++
	r.mu.Unlock()
}

func (r *statsRecorder) incErrors() {
	r.mu.Lock()
	r.stats.Errors++
	r.mu.Unlock()
}

func (r *statsRecorder) addInFlight(n int64) {
	r.mu.Lock()
	r.stats.InFlight += n
	r.mu.Unlock()
}

func (r *statsRecorder) incFlush() {
	r.mu.Lock()
	r.stats.FlushCount++
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
