package chunkstore

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend for single-node deployments and
// tests. Entries expire after the TTL like their Redis counterparts.
//
// The Fail* fields inject errors; set them before concurrent use or via
// the setter methods.
type MemoryBackend struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	streams map[string]*memoryStream

	failAppend   error
	failComplete error
	failRead     error
}

type memoryStream struct {
	records   []Record
	complete  bool
	expiresAt time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryBackend{
		ttl:     ttl,
		now:     time.Now,
		streams: make(map[string]*memoryStream),
	}
}

// FailAppends makes every subsequent Append return err (nil clears).
func (m *MemoryBackend) FailAppends(err error) {
	m.mu.Lock()
	m.failAppend = err
	m.mu.Unlock()
}

// FailMarkComplete makes every subsequent MarkComplete return err.
func (m *MemoryBackend) FailMarkComplete(err error) {
	m.mu.Lock()
	m.failComplete = err
	m.mu.Unlock()
}

// FailReads makes every subsequent ReadAll and IsComplete return err.
func (m *MemoryBackend) FailReads(err error) {
	m.mu.Lock()
	m.failRead = err
	m.mu.Unlock()
}

// live returns the stream entry, dropping it if expired. Caller holds mu.
func (m *MemoryBackend) live(streamID string) *memoryStream {
	s, ok := m.streams[streamID]
	if !ok {
		return nil
	}
	if !m.now().Before(s.expiresAt) {
		delete(m.streams, streamID)
		return nil
	}
	return s
}

// Append implements Backend.
func (m *MemoryBackend) Append(ctx context.Context, streamID string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAppend != nil {
		return m.failAppend
	}
	s := m.live(streamID)
	if s == nil {
		s = &memoryStream{}
		m.streams[streamID] = s
	}
	s.records = append(s.records, Record{Seq: rec.Seq, Payload: append([]byte(nil), rec.Payload...)})
	s.expiresAt = m.now().Add(m.ttl)
	return nil
}

// MarkComplete implements Backend.
func (m *MemoryBackend) MarkComplete(ctx context.Context, streamID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failComplete != nil {
		return m.failComplete
	}
	s := m.live(streamID)
	if s == nil {
		s = &memoryStream{}
		m.streams[streamID] = s
	}
	s.complete = true
	s.expiresAt = m.now().Add(m.ttl)
	return nil
}

// ReadAll implements Backend.
func (m *MemoryBackend) ReadAll(ctx context.Context, streamID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failRead != nil {
		return nil, m.failRead
	}
	s := m.live(streamID)
	if s == nil || len(s.records) == 0 {
		return nil, ErrNotFound
	}
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// IsComplete implements Backend.
func (m *MemoryBackend) IsComplete(ctx context.Context, streamID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failRead != nil {
		return false, m.failRead
	}
	s := m.live(streamID)
	return s != nil && s.complete, nil
}

// Name implements Backend.
func (m *MemoryBackend) Name() string {
	return "memory"
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	return nil
}

// Verify MemoryBackend implements Backend.
var _ Backend = (*MemoryBackend)(nil)
