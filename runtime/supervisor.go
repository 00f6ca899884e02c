package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vercel/ai-chatbot-sub000/log"
	"github.com/vercel/ai-chatbot-sub000/metrics"
)

// ErrSupervisorClosed is returned by Go after Shutdown has begun.
var ErrSupervisorClosed = errors.New("supervisor is shutting down")

// Task kinds.
const (
	TaskContinuation = "continuation"
	TaskCompletion   = "completion"
)

// TaskInfo describes one running task.
type TaskInfo struct {
	ID       string
	Kind     string
	StreamID string
	Started  time.Time
}

// Supervisor runs detached background work that must outlive the request
// that started it. Every task is tracked until it returns, so shutdown
// can wait for in-flight work and report what it had to abandon.
type Supervisor struct {
	logger    *log.Logger
	collector *metrics.Collector

	// base is cancelled only when Shutdown gives up waiting.
	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]TaskInfo
	closed bool
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor.
func NewSupervisor(logger *log.Logger, collector *metrics.Collector) *Supervisor {
	if logger == nil {
		logger = log.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger:    logger.WithComponent("supervisor"),
		collector: collector,
		base:      base,
		cancel:    cancel,
		tasks:     make(map[string]TaskInfo),
	}
}

// Go starts fn as a tracked task and returns its id. The context passed
// to fn is independent of any request and is cancelled only when
// Shutdown abandons the task. A panic in fn is recovered and logged as a
// task failure.
func (s *Supervisor) Go(kind, streamID string, fn func(ctx context.Context) error) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSupervisorClosed
	}
	info := TaskInfo{ID: uuid.NewString(), Kind: kind, StreamID: streamID, Started: time.Now()}
	s.tasks[info.ID] = info
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(info, fn)
	return info.ID, nil
}

func (s *Supervisor) run(info TaskInfo, fn func(ctx context.Context) error) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.tasks, info.ID)
		s.mu.Unlock()
	}()

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("task panicked: %v", p)
			}
		}()
		return fn(s.base)
	}()

	fields := map[string]any{
		"task_id":     info.ID,
		"kind":        info.Kind,
		"stream_id":   info.StreamID,
		"duration_ms": time.Since(info.Started).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Error("background task failed", fields)
		return
	}
	s.logger.Debug("background task finished", fields)
}

// Active returns the running tasks ordered by start time.
func (s *Supervisor) Active() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Len returns the number of running tasks.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown stops admitting tasks and waits for running ones. If ctx ends
// first, every task still running is logged as abandoned, its context is
// cancelled, and ctx's error is returned.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
	}

	for _, t := range s.Active() {
		s.collector.IncTaskAbandoned()
		s.logger.Error("background task abandoned at shutdown", map[string]any{
			"task_id":    t.ID,
			"kind":       t.Kind,
			"stream_id":  t.StreamID,
			"running_ms": time.Since(t.Started).Milliseconds(),
		})
	}
	s.cancel()
	return ctx.Err()
}
