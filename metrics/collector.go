// Package metrics provides service-wide counters for the streaming pipeline.
//
// The Collector is a leaf package with no internal dependencies. Components
// record into it live; Snapshot gives a consistent point-in-time view that
// the Prometheus exporter and tests read from.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Stream lifecycle
	StreamsStarted     int64
	StreamsCompleted   int64
	StreamsInterrupted int64
	StreamsRejected    int64
	FramesWritten      int64

	// Background continuation
	ContinuationsStarted   int64
	ContinuationsCompleted int64
	ContinuationsFailed    int64
	TasksAbandoned         int64

	// Durable chunk store
	ChunkAppendSuccess int64
	ChunkAppendFailure int64
	ChunkAppendDropped int64
	ChunkGaps          int64
	StoreOpFailure     int64

	// Generation
	ToolCallSuccess       int64
	ToolCallFailure       int64
	UnknownProviderChunks int64

	// Persistence and notification
	PersistSuccess int64
	PersistFailure int64
	NotifySuccess  int64
	NotifyFailure  int64

	// Resume endpoint
	ResumeReplayed  int64
	ResumeEmpty     int64
	ResumeNoContent int64

	// Dimensions (informational, set at construction)
	Provider     string
	StoreBackend string
	Policy       string
}

// Collector accumulates counters for the lifetime of the process.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(provider, storeBackend, policy string) *Collector {
	return &Collector{s: Snapshot{
		Provider:     provider,
		StoreBackend: storeBackend,
		Policy:       policy,
	}}
}

// --- Stream lifecycle ---

// IncStreamStarted records a new foreground stream.
func (c *Collector) IncStreamStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.StreamsStarted++
	c.mu.Unlock()
}

// IncStreamCompleted records a foreground stream reaching Completed.
func (c *Collector) IncStreamCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.StreamsCompleted++
	c.mu.Unlock()
}

// IncStreamInterrupted records a client disconnect before finish.
func (c *Collector) IncStreamInterrupted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.StreamsInterrupted++
	c.mu.Unlock()
}

// IncStreamRejected records a stream refused for lack of registry capacity.
func (c *Collector) IncStreamRejected() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.StreamsRejected++
	c.mu.Unlock()
}

// AddFramesWritten records frames delivered to a client.
func (c *Collector) AddFramesWritten(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.FramesWritten += n
	c.mu.Unlock()
}

// --- Background continuation ---

// IncContinuationStarted records a continuation launch.
func (c *Collector) IncContinuationStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.ContinuationsStarted++
	c.mu.Unlock()
}

// IncContinuationCompleted records a continuation that observed finish.
func (c *Collector) IncContinuationCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.ContinuationsCompleted++
	c.mu.Unlock()
}

// IncContinuationFailed records a continuation that ended without finish.
func (c *Collector) IncContinuationFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.ContinuationsFailed++
	c.mu.Unlock()
}

// IncTaskAbandoned records a supervised task still running at shutdown deadline.
func (c *Collector) IncTaskAbandoned() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.TasksAbandoned++
	c.mu.Unlock()
}

// --- Durable chunk store ---
// Append counters are per-chunk.

// IncChunkAppendSuccess records a persisted chunk.
func (c *Collector) IncChunkAppendSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.ChunkAppendSuccess++
	c.mu.Unlock()
}

// IncChunkAppendFailure records a chunk append that errored or timed out.
func (c *Collector) IncChunkAppendFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.ChunkAppendFailure++
	c.mu.Unlock()
}

// IncChunkAppendDropped records a chunk abandoned before reaching the store.
func (c *Collector) IncChunkAppendDropped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.ChunkAppendDropped++
	c.mu.Unlock()
}

// IncChunkGap records a replay refused because of a sequence gap.
func (c *Collector) IncChunkGap() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.ChunkGaps++
	c.mu.Unlock()
}

// IncStoreOpFailure records a failed read, complete-flag, or probe operation.
func (c *Collector) IncStoreOpFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.StoreOpFailure++
	c.mu.Unlock()
}

// --- Generation ---

// IncToolCallSuccess records a tool invocation that returned output.
func (c *Collector) IncToolCallSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.ToolCallSuccess++
	c.mu.Unlock()
}

// IncToolCallFailure records a tool invocation that failed.
func (c *Collector) IncToolCallFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.ToolCallFailure++
	c.mu.Unlock()
}

// IncUnknownProviderChunk records a provider chunk with no known variant.
func (c *Collector) IncUnknownProviderChunk() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.UnknownProviderChunks++
	c.mu.Unlock()
}

// --- Persistence and notification ---

// IncPersistSuccess records a completed persistence step set.
func (c *Collector) IncPersistSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.PersistSuccess++
	c.mu.Unlock()
}

// IncPersistFailure records a failed persistence step.
func (c *Collector) IncPersistFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.PersistFailure++
	c.mu.Unlock()
}

// IncNotifySuccess records a delivered completion notification.
func (c *Collector) IncNotifySuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.NotifySuccess++
	c.mu.Unlock()
}

// IncNotifyFailure records a completion notification that exhausted retries.
func (c *Collector) IncNotifyFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.NotifyFailure++
	c.mu.Unlock()
}

// --- Resume endpoint ---

// IncResumeReplayed records a 200 replay of a completed stream.
func (c *Collector) IncResumeReplayed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.ResumeReplayed++
	c.mu.Unlock()
}

// IncResumeEmpty records a 200 empty response for a recently answered chat.
func (c *Collector) IncResumeEmpty() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.ResumeEmpty++
	c.mu.Unlock()
}

// IncResumeNoContent records a 204 response.
func (c *Collector) IncResumeNoContent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.ResumeNoContent++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
