package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vercel/ai-chatbot-sub000/types"
)

// Registry defaults.
const (
	DefaultRegistryCapacity = 1024
	DefaultRetention        = time.Hour
)

var (
	// ErrRegistryFull is returned by Open when every slot holds a session
	// with a live producer.
	ErrRegistryFull = errors.New("session registry full")
	// ErrDuplicateStream is returned by Open for a stream id already registered.
	ErrDuplicateStream = errors.New("stream already registered")
	// ErrNotProducer is returned when a task that does not own the session
	// tries to advance it.
	ErrNotProducer = errors.New("caller is not the session producer")
	// ErrSessionComplete is returned when advancing a completed session.
	ErrSessionComplete = errors.New("session complete")
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Capacity is the maximum number of sessions held (default 1024).
	Capacity int
	// Retention is how long a session is kept after creation, regardless
	// of state (default 1h).
	Retention time.Duration
	// Now overrides the clock (for tests).
	Now func() time.Time
}

// entry is one arena slot.
type entry struct {
	session types.StreamSession
	claimed bool
}

// Registry owns every StreamSession of the process. Sessions live in a
// fixed-capacity arena addressed through an index keyed by stream id.
// All mutation goes through the registry lock.
type Registry struct {
	config RegistryConfig

	mu    sync.Mutex
	slots []*entry
	index map[string]int
	free  []int
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultRegistryCapacity
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	free := make([]int, cfg.Capacity)
	for i := range free {
		free[i] = cfg.Capacity - 1 - i
	}
	return &Registry{
		config: cfg,
		slots:  make([]*entry, cfg.Capacity),
		index:  make(map[string]int, cfg.Capacity),
		free:   free,
	}
}

// Open registers a new Active session produced by the foreground task.
// When the arena is full the least recently updated session without a
// producer is evicted; if there is none, Open fails with ErrRegistryFull.
func (r *Registry) Open(chatID, streamID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[streamID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateStream, streamID)
	}
	if len(r.free) == 0 && !r.evictLocked() {
		return nil, ErrRegistryFull
	}

	slot := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]

	now := r.config.Now()
	e := &entry{
		session: types.StreamSession{
			StreamID:  streamID,
			ChatID:    chatID,
			State:     types.SessionActive,
			Producer:  types.ProducerForeground,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	r.slots[slot] = e
	r.index[streamID] = slot
	return &Session{reg: r, e: e}, nil
}

// evictLocked frees the least recently updated slot whose session has no
// producer. Reports whether a slot was freed.
func (r *Registry) evictLocked() bool {
	victim := -1
	for i, e := range r.slots {
		if e == nil || e.session.Producer != types.ProducerNone {
			continue
		}
		if victim < 0 || e.session.UpdatedAt.Before(r.slots[victim].session.UpdatedAt) {
			victim = i
		}
	}
	if victim < 0 {
		return false
	}
	r.releaseLocked(victim)
	return true
}

func (r *Registry) releaseLocked(slot int) {
	delete(r.index, r.slots[slot].session.StreamID)
	r.slots[slot] = nil
	r.free = append(r.free, slot)
}

// Get returns a snapshot of the session for streamID.
func (r *Registry) Get(streamID string) (types.StreamSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.index[streamID]
	if !ok {
		return types.StreamSession{}, false
	}
	return r.slots[slot].session, true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.index)
}

// Capacity returns the arena size.
func (r *Registry) Capacity() int { return r.config.Capacity }

// Sweep removes sessions created more than Retention ago, whatever their
// state, and returns how many were removed. A producer still holding a
// swept session's handle keeps working; the session is just no longer
// visible through the registry.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.config.Now().Add(-r.config.Retention)
	removed := 0
	for i, e := range r.slots {
		if e != nil && e.session.CreatedAt.Before(cutoff) {
			r.releaseLocked(i)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep()
		}
	}
}

// Session is the producer-side handle of one registered stream session.
// It stays valid after the session is swept or evicted from the registry.
type Session struct {
	reg *Registry
	e   *entry
}

// ID returns the stream id.
func (s *Session) ID() string { return s.e.session.StreamID }

// ChatID returns the owning chat id.
func (s *Session) ChatID() string { return s.e.session.ChatID }

// with runs fn on the session's entry under the registry lock.
func (s *Session) with(fn func(e *entry)) {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	fn(s.e)
}

// Next assigns the next sequence number to producer p.
func (s *Session) Next(p types.Producer) (int64, error) {
	var (
		seq int64
		err error
	)
	s.with(func(e *entry) {
		switch {
		case e.session.State.IsTerminal():
			err = ErrSessionComplete
		case e.session.Producer != p:
			err = fmt.Errorf("%w: %s (producer is %s)", ErrNotProducer, p, e.session.Producer)
		default:
			seq = e.session.Sequence
			e.session.Sequence++
			e.session.UpdatedAt = s.reg.config.Now()
		}
	})
	return seq, err
}

// Handoff moves production from the foreground to the background task
// and marks the session Interrupted. It returns the next sequence number
// the background producer will be assigned.
func (s *Session) Handoff() (int64, error) {
	var (
		seq int64
		err error
	)
	s.with(func(e *entry) {
		switch {
		case e.session.State.IsTerminal():
			err = ErrSessionComplete
		case e.session.Producer != types.ProducerForeground:
			err = fmt.Errorf("%w: handoff from %s", ErrNotProducer, e.session.Producer)
		default:
			e.session.State = types.SessionInterrupted
			e.session.Producer = types.ProducerBackground
			e.session.UpdatedAt = s.reg.config.Now()
			seq = e.session.Sequence
		}
	})
	return seq, err
}

// Complete marks the session Complete. No producer may advance it after.
func (s *Session) Complete() {
	s.with(func(e *entry) {
		e.session.State = types.SessionComplete
		e.session.Producer = types.ProducerNone
		e.session.UpdatedAt = s.reg.config.Now()
	})
}

// ClaimCompletion returns true exactly once per session. The caller that
// wins the claim is the only one allowed to persist the turn.
func (s *Session) ClaimCompletion() bool {
	won := false
	s.with(func(e *entry) {
		if !e.claimed {
			e.claimed = true
			won = true
		}
	})
	return won
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() types.StreamSession {
	var out types.StreamSession
	s.with(func(e *entry) { out = e.session })
	return out
}
