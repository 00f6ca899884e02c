package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vercel/ai-chatbot-sub000/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRegistry_OpenAndGet(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	sess, err := r.Open("chat-1", "s1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if sess.ID() != "s1" || sess.ChatID() != "chat-1" {
		t.Errorf("session = %s/%s", sess.ChatID(), sess.ID())
	}

	got, ok := r.Get("s1")
	if !ok {
		t.Fatal("session not found")
	}
	if got.State != types.SessionActive || got.Producer != types.ProducerForeground || got.Sequence != 0 {
		t.Errorf("session = %+v", got)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("unexpected session for unknown id")
	}
	if r.Capacity() != DefaultRegistryCapacity {
		t.Errorf("capacity = %d", r.Capacity())
	}
}

func TestRegistry_DuplicateStream(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	if _, err := r.Open("chat-1", "s1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := r.Open("chat-1", "s1"); !errors.Is(err, ErrDuplicateStream) {
		t.Errorf("err = %v, want ErrDuplicateStream", err)
	}
}

func TestRegistry_FullWhenEveryoneProduces(t *testing.T) {
	r := NewRegistry(RegistryConfig{Capacity: 2})
	for _, id := range []string{"s1", "s2"} {
		if _, err := r.Open("chat", id); err != nil {
			t.Fatalf("open %s: %v", id, err)
		}
	}
	if _, err := r.Open("chat", "s3"); !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("err = %v, want ErrRegistryFull", err)
	}
	if r.Len() != 2 {
		t.Errorf("len = %d", r.Len())
	}
}

func TestRegistry_EvictsOldestCompleted(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(RegistryConfig{Capacity: 3, Now: clock.Now})

	s1, _ := r.Open("chat", "s1")
	clock.Advance(time.Second)
	s2, _ := r.Open("chat", "s2")
	clock.Advance(time.Second)
	if _, err := r.Open("chat", "s3"); err != nil {
		t.Fatalf("open s3: %v", err)
	}

	clock.Advance(time.Second)
	s2.Complete()
	clock.Advance(time.Second)
	s1.Complete()

	if _, err := r.Open("chat", "s4"); err != nil {
		t.Fatalf("open s4: %v", err)
	}
	if _, ok := r.Get("s2"); ok {
		t.Error("s2 should have been evicted first")
	}
	if _, ok := r.Get("s1"); !ok {
		t.Error("s1 evicted out of order")
	}
	if _, ok := r.Get("s3"); !ok {
		t.Error("active session evicted")
	}

	// Handles outlive eviction.
	if s2.Snapshot().State != types.SessionComplete {
		t.Errorf("evicted handle state = %s", s2.Snapshot().State)
	}
}

func TestRegistry_Sweep(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(RegistryConfig{Retention: time.Minute, Now: clock.Now})

	_, _ = r.Open("chat", "old")
	clock.Advance(2 * time.Minute)
	_, _ = r.Open("chat", "new")

	if n := r.Sweep(); n != 1 {
		t.Errorf("swept %d, want 1", n)
	}
	if _, ok := r.Get("old"); ok {
		t.Error("old session survived sweep")
	}
	if _, ok := r.Get("new"); !ok {
		t.Error("new session swept")
	}
	// The freed slot is reusable.
	if _, err := r.Open("chat", "old"); err != nil {
		t.Errorf("reopen: %v", err)
	}
}

func TestRegistry_RunSweeperStopsOnCancel(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		r.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSession_SequenceIsMonotonic(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	sess, _ := r.Open("chat", "s1")

	for want := int64(0); want < 5; want++ {
		got, err := sess.Next(types.ProducerForeground)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != want {
			t.Fatalf("seq = %d, want %d", got, want)
		}
	}
}

func TestSession_SingleProducer(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	sess, _ := r.Open("chat", "s1")
	_, _ = sess.Next(types.ProducerForeground)
	_, _ = sess.Next(types.ProducerForeground)

	if _, err := sess.Next(types.ProducerBackground); !errors.Is(err, ErrNotProducer) {
		t.Errorf("background before handoff: err = %v", err)
	}

	seq, err := sess.Handoff()
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}
	if seq != 2 {
		t.Errorf("handoff seq = %d, want 2", seq)
	}
	if _, err := sess.Next(types.ProducerForeground); !errors.Is(err, ErrNotProducer) {
		t.Errorf("foreground after handoff: err = %v", err)
	}
	if got, err := sess.Next(types.ProducerBackground); err != nil || got != 2 {
		t.Errorf("background next = %d, %v", got, err)
	}
	if _, err := sess.Handoff(); !errors.Is(err, ErrNotProducer) {
		t.Errorf("second handoff: err = %v", err)
	}

	snap := sess.Snapshot()
	if snap.State != types.SessionInterrupted || snap.Producer != types.ProducerBackground {
		t.Errorf("snapshot = %+v", snap)
	}

	sess.Complete()
	if _, err := sess.Next(types.ProducerBackground); !errors.Is(err, ErrSessionComplete) {
		t.Errorf("next after complete: err = %v", err)
	}
	if _, err := sess.Handoff(); !errors.Is(err, ErrSessionComplete) {
		t.Errorf("handoff after complete: err = %v", err)
	}
}

func TestSession_ClaimCompletionOnce(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	sess, _ := r.Open("chat", "s1")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sess.ClaimCompletion() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}
