package chunkstore

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/vercel/ai-chatbot-sub000/log"
	"github.com/vercel/ai-chatbot-sub000/metrics"
)

// DefaultTimeout bounds every store operation.
const DefaultTimeout = 2 * time.Second

// Options configures a Store.
type Options struct {
	// Timeout bounds each operation (default 2s). Operations that exceed
	// it are abandoned, never retried.
	Timeout time.Duration
	// Logger receives absorbed errors. Nil disables logging.
	Logger *log.Logger
	// Collector receives store counters. Nil disables metrics.
	Collector *metrics.Collector
}

// Store is the best-effort facade over a Backend. No method returns an
// error: failures are logged, counted, and reported as "unavailable".
//
// A nil *Store, or one built over a nil Backend, is a valid disabled store.
type Store struct {
	backend   Backend
	timeout   time.Duration
	logger    *log.Logger
	collector *metrics.Collector
}

// New creates a Store over backend. A nil backend yields a disabled store.
func New(backend Backend, opts Options) *Store {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	return &Store{
		backend:   backend,
		timeout:   opts.Timeout,
		logger:    opts.Logger.WithComponent("chunkstore"),
		collector: opts.Collector,
	}
}

// Enabled reports whether resumability is available at all.
func (s *Store) Enabled() bool {
	return s != nil && s.backend != nil
}

// Backend returns the underlying backend name, or "none".
func (s *Store) Backend() string {
	if !s.Enabled() {
		return "none"
	}
	return s.backend.Name()
}

// Append persists one frame at seq. Returns true if the frame was stored.
func (s *Store) Append(ctx context.Context, streamID string, seq int64, frame []byte) bool {
	if !s.Enabled() {
		return false
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.Append(opCtx, streamID, Record{Seq: seq, Payload: frame}); err != nil {
		s.collector.IncChunkAppendFailure()
		s.logger.Warn("chunk append failed", map[string]any{
			"stream_id": streamID,
			"seq":       seq,
			"timeout":   errors.Is(err, context.DeadlineExceeded),
			"error":     err.Error(),
		})
		return false
	}
	s.collector.IncChunkAppendSuccess()
	return true
}

// MarkComplete sets the stream's terminal flag. Returns true on success.
func (s *Store) MarkComplete(ctx context.Context, streamID string) bool {
	if !s.Enabled() {
		return false
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.MarkComplete(opCtx, streamID); err != nil {
		s.collector.IncStoreOpFailure()
		s.logger.Warn("mark complete failed", map[string]any{
			"stream_id": streamID,
			"error":     err.Error(),
		})
		return false
	}
	return true
}

// ReadAll returns the stream's frames in sequence order, or nil when the
// store is unavailable, the stream is unknown, or the log has a gap.
func (s *Store) ReadAll(ctx context.Context, streamID string) [][]byte {
	if !s.Enabled() {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	records, err := s.backend.ReadAll(opCtx, streamID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		s.collector.IncStoreOpFailure()
		s.logger.Warn("chunk read failed", map[string]any{
			"stream_id": streamID,
			"error":     err.Error(),
		})
		return nil
	}

	ordered, ok := orderRecords(records)
	if !ok {
		s.collector.IncChunkGap()
		s.logger.Error("chunk log has a sequence gap", map[string]any{
			"stream_id": streamID,
			"records":   len(records),
		})
		return nil
	}

	frames := make([][]byte, len(ordered))
	for i, r := range ordered {
		frames[i] = r.Payload
	}
	return frames
}

// IsComplete reports whether the stream finished. Any failure reads as
// false: an ambiguous stream is treated as still active.
func (s *Store) IsComplete(ctx context.Context, streamID string) bool {
	if !s.Enabled() {
		return false
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done, err := s.backend.IsComplete(opCtx, streamID)
	if err != nil {
		s.collector.IncStoreOpFailure()
		s.logger.Warn("completion probe failed", map[string]any{
			"stream_id": streamID,
			"error":     err.Error(),
		})
		return false
	}
	return done
}

// Close releases the backend.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.backend.Close()
}

// orderRecords sorts by sequence number, drops duplicate deliveries of
// the same sequence, and verifies the log is contiguous from zero.
func orderRecords(records []Record) ([]Record, bool) {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b Record) int { return cmp.Compare(a.Seq, b.Seq) })
	sorted = slices.CompactFunc(sorted, func(a, b Record) bool { return a.Seq == b.Seq })

	for i, r := range sorted {
		if r.Seq != int64(i) {
			return nil, false
		}
	}
	return sorted, true
}
