package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vercel/ai-chatbot-sub000/adapter"
	"github.com/vercel/ai-chatbot-sub000/chunkstore"
	"github.com/vercel/ai-chatbot-sub000/metrics"
	"github.com/vercel/ai-chatbot-sub000/policy"
	"github.com/vercel/ai-chatbot-sub000/provider"
	"github.com/vercel/ai-chatbot-sub000/provider/scripted"
	"github.com/vercel/ai-chatbot-sub000/sse"
	"github.com/vercel/ai-chatbot-sub000/types"
	"github.com/vercel/ai-chatbot-sub000/upstream"
)

// fakeWriter records frames. With failAfter > 0 it accepts that many
// frames, then behaves like a client that went away.
type fakeWriter struct {
	mu        sync.Mutex
	frames    [][]byte
	failAfter int
	done      chan struct{}
	gone      bool
}

func newFakeWriter(failAfter int) *fakeWriter {
	return &fakeWriter{failAfter: failAfter, done: make(chan struct{})}
}

func (w *fakeWriter) WriteFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gone || (w.failAfter > 0 && len(w.frames) >= w.failAfter) {
		if !w.gone {
			w.gone = true
			close(w.done)
		}
		return sse.ErrClientGone
	}
	w.frames = append(w.frames, append([]byte(nil), frame...))
	return nil
}

func (w *fakeWriter) Done() <-chan struct{} { return w.done }

func (w *fakeWriter) Frames() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]byte(nil), w.frames...)
}

type recordingPersistence struct {
	mu       sync.Mutex
	saved    []types.StoredMessage
	usage    map[string]*types.Usage
	saveErr  error
	usageErr error
}

func (p *recordingPersistence) SaveMessages(_ context.Context, msgs []types.StoredMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.saved = append(p.saved, msgs...)
	return nil
}

func (p *recordingPersistence) UpdateConversationContext(_ context.Context, chatID string, usage *types.Usage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.usageErr != nil {
		return p.usageErr
	}
	if p.usage == nil {
		p.usage = make(map[string]*types.Usage)
	}
	p.usage[chatID] = usage
	return nil
}

func (p *recordingPersistence) Saved() []types.StoredMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.StoredMessage(nil), p.saved...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*adapter.TurnCompletedEvent
}

func (n *recordingNotifier) Publish(_ context.Context, e *adapter.TurnCompletedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

// generatorFunc adapts a fixed event list to Generator.
type generatorFunc func() []types.Event

func (g generatorFunc) Run(ctx context.Context, _ upstream.Turn) <-chan types.Event {
	out := make(chan types.Event)
	go func() {
		defer close(out)
		for _, ev := range g() {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

type harness struct {
	controller  *Controller
	registry    *Registry
	supervisor  *Supervisor
	backend     *chunkstore.MemoryBackend
	store       *chunkstore.Store
	persistence *recordingPersistence
	notifier    *recordingNotifier
	collector   *metrics.Collector
}

func counterIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newHarness(t *testing.T, gen Generator) *harness {
	t.Helper()
	h := &harness{
		registry:    NewRegistry(RegistryConfig{Capacity: 8}),
		backend:     chunkstore.NewMemoryBackend(time.Hour),
		persistence: &recordingPersistence{},
		notifier:    &recordingNotifier{},
		collector:   metrics.NewCollector("scripted", "memory", "async"),
	}
	h.supervisor = NewSupervisor(nil, h.collector)
	h.store = chunkstore.New(h.backend, chunkstore.Options{Collector: h.collector})

	c, err := NewController(ControllerConfig{
		Generator:   gen,
		Registry:    h.registry,
		Supervisor:  h.supervisor,
		Store:       h.store,
		Persistence: h.persistence,
		Notifier:    h.notifier,
		Collector:   h.collector,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	h.controller = c
	return h
}

func scriptedGenerator(t *testing.T, scripts ...scripted.Script) Generator {
	t.Helper()
	a, err := upstream.New(upstream.Config{
		Provider: scripted.New(0, scripts...),
		NewID:    counterIDs(),
	})
	if err != nil {
		t.Fatalf("upstream: %v", err)
	}
	return a
}

func testTurn() upstream.Turn {
	return upstream.Turn{Messages: []types.ChatMessage{{
		ID: "u1", Role: types.RoleUser, Parts: []types.ContentPart{{Type: types.ContentPartText, Text: "hi"}},
	}}}
}

func (h *harness) run(t *testing.T, w sse.FrameWriter) *Outcome {
	t.Helper()
	sess, err := h.controller.Open("chat-1", "stream-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return h.controller.Run(t.Context(), w, sess, testTurn())
}

// settle waits for every background task and in-flight chunk append.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.supervisor.Shutdown(ctx); err != nil {
		t.Fatalf("supervisor shutdown: %v", err)
	}
	if err := h.controller.Policy().Close(ctx); err != nil {
		t.Fatalf("policy close: %v", err)
	}
}

func frameTypes(t *testing.T, frames [][]byte) []string {
	t.Helper()
	out := make([]string, len(frames))
	for i, f := range frames {
		if sse.IsDone(f) {
			out[i] = "[DONE]"
			continue
		}
		ev, err := sse.DecodeEvent(f)
		if err != nil {
			t.Fatalf("decode frame %d %q: %v", i, f, err)
		}
		out[i] = string(ev.Type())
	}
	return out
}

func assertFrameTypes(t *testing.T, frames [][]byte, want ...string) {
	t.Helper()
	if got := frameTypes(t, frames); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("frames:\n got %v\nwant %v", got, want)
	}
}

func assistantText(t *testing.T, m types.StoredMessage) string {
	t.Helper()
	var parts []types.Part
	if err := json.Unmarshal(m.Parts, &parts); err != nil {
		t.Fatalf("parts: %v", err)
	}
	var text string
	for _, p := range parts {
		if p.Type == types.PartTypeText {
			text += p.Text
		}
	}
	return text
}

func TestNewController_Validation(t *testing.T) {
	reg := NewRegistry(RegistryConfig{})
	sup := NewSupervisor(nil, nil)
	gen := generatorFunc(func() []types.Event { return nil })

	cases := map[string]ControllerConfig{
		"no generator":  {Registry: reg, Supervisor: sup},
		"no registry":   {Generator: gen, Supervisor: sup},
		"no supervisor": {Generator: gen, Registry: reg},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewController(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	c, err := NewController(ControllerConfig{Generator: gen, Registry: reg, Supervisor: sup})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.Policy().Name() != policy.NameAsync {
		t.Errorf("default policy = %s", c.Policy().Name())
	}
}

func TestController_SimpleText(t *testing.T) {
	h := newHarness(t, scriptedGenerator(t, scripted.Text("Hello world")))
	w := newFakeWriter(0)

	out := h.run(t, w)
	h.settle(t)

	if out.Status != StatusCompleted || out.Interrupted() {
		t.Fatalf("outcome = %+v", out)
	}
	if out.FinishReason != types.FinishReasonStop || out.Frames != 7 {
		t.Errorf("outcome = %+v", out)
	}
	assertFrameTypes(t, w.Frames(),
		"start", "text-start", "text-delta", "text-delta", "text-end", "finish", "[DONE]")

	stored := h.store.ReadAll(t.Context(), "stream-1")
	if len(stored) != len(w.Frames()) {
		t.Fatalf("stored %d frames, client saw %d", len(stored), len(w.Frames()))
	}
	for i, f := range w.Frames() {
		if !bytes.Equal(stored[i], f) {
			t.Errorf("frame %d: stored %q, client saw %q", i, stored[i], f)
		}
	}
	if !h.store.IsComplete(t.Context(), "stream-1") {
		t.Error("stream not marked complete")
	}

	saved := h.persistence.Saved()
	if len(saved) != 1 {
		t.Fatalf("saved %d messages, want 1", len(saved))
	}
	if saved[0].ChatID != "chat-1" || saved[0].Role != types.RoleAssistant || saved[0].ID != out.MessageID {
		t.Errorf("saved = %+v", saved[0])
	}
	if got := assistantText(t, saved[0]); got != "Hello world" {
		t.Errorf("text = %q", got)
	}
	if u := h.persistence.usage["chat-1"]; u == nil || u.TotalTokens != 3 {
		t.Errorf("usage = %+v", u)
	}

	if len(h.notifier.events) != 1 || h.notifier.events[0].Continued || h.notifier.events[0].FrameCount != 7 {
		t.Errorf("notifications = %+v", h.notifier.events)
	}
	snap, _ := h.registry.Get("stream-1")
	if snap.State != types.SessionComplete || snap.Sequence != 7 {
		t.Errorf("session = %+v", snap)
	}
	m := h.collector.Snapshot()
	if m.StreamsCompleted != 1 || m.PersistSuccess != 1 || m.NotifySuccess != 1 || m.FramesWritten != 7 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestController_DisconnectHandsOffToContinuation(t *testing.T) {
	h := newHarness(t, scriptedGenerator(t, scripted.Text("Hello world")))
	w := newFakeWriter(3)

	out := h.run(t, w)
	h.settle(t)

	if !out.Interrupted() || out.HandoffSeq != 3 || out.Frames != 3 || out.TaskID == "" {
		t.Fatalf("outcome = %+v", out)
	}

	stored := h.store.ReadAll(t.Context(), "stream-1")
	assertFrameTypes(t, stored,
		"start", "text-start", "text-delta",
		"start", "text-start", "text-delta", "text-delta", "text-end", "finish", "[DONE]")
	for i, f := range w.Frames() {
		if !bytes.Equal(stored[i], f) {
			t.Errorf("frame %d differs from what the client saw", i)
		}
	}
	if !h.store.IsComplete(t.Context(), "stream-1") {
		t.Error("stream not marked complete")
	}

	saved := h.persistence.Saved()
	if len(saved) != 1 {
		t.Fatalf("saved %d messages, want exactly 1", len(saved))
	}
	if got := assistantText(t, saved[0]); got != "Hello world" {
		t.Errorf("text = %q", got)
	}
	if len(h.notifier.events) != 1 || !h.notifier.events[0].Continued {
		t.Errorf("notifications = %+v", h.notifier.events)
	}

	m := h.collector.Snapshot()
	if m.StreamsInterrupted != 1 || m.ContinuationsStarted != 1 || m.ContinuationsCompleted != 1 || m.StreamsCompleted != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestController_DisconnectOnFinishFrame(t *testing.T) {
	// The finish frame itself never reached the client.
	h := newHarness(t, scriptedGenerator(t, scripted.Text("Hi")))
	w := newFakeWriter(4)

	out := h.run(t, w)
	h.settle(t)

	if !out.Interrupted() {
		t.Fatalf("outcome = %+v", out)
	}
	if n := len(h.persistence.Saved()); n != 1 {
		t.Errorf("saved %d messages, want 1", n)
	}
}

func TestController_ContinuationWithoutFinish(t *testing.T) {
	calls := 0
	gen := generatorFunc(func() []types.Event {
		calls++
		if calls == 1 {
			return []types.Event{types.Start{MessageID: "m1"}, types.TextStart{TextID: "t1"}, types.TextDelta{TextID: "t1", Delta: "a"}}
		}
		// The restarted generation dies before finishing.
		return []types.Event{types.Start{MessageID: "m2"}}
	})
	h := newHarness(t, gen)
	w := newFakeWriter(1)

	out := h.run(t, w)
	h.settle(t)

	if !out.Interrupted() {
		t.Fatalf("outcome = %+v", out)
	}
	if !h.store.IsComplete(t.Context(), "stream-1") {
		t.Error("stream must be sealed even when the continuation fails")
	}
	if n := len(h.persistence.Saved()); n != 0 {
		t.Errorf("saved %d messages, want none", n)
	}
	if m := h.collector.Snapshot(); m.ContinuationsFailed != 1 {
		t.Errorf("continuations failed = %d", m.ContinuationsFailed)
	}
}

func TestController_StoreFailureDoesNotAffectClient(t *testing.T) {
	h := newHarness(t, scriptedGenerator(t, scripted.Text("Hello world")))
	h.backend.FailAppends(errors.New("connection refused"))
	w := newFakeWriter(0)

	out := h.run(t, w)
	h.settle(t)

	if out.Status != StatusCompleted {
		t.Fatalf("outcome = %+v", out)
	}
	assertFrameTypes(t, w.Frames(),
		"start", "text-start", "text-delta", "text-delta", "text-end", "finish", "[DONE]")
	if got := h.store.ReadAll(t.Context(), "stream-1"); got != nil {
		t.Errorf("replay = %d frames, want none", len(got))
	}
	if n := len(h.persistence.Saved()); n != 1 {
		t.Errorf("saved %d messages, want 1", n)
	}
	if m := h.collector.Snapshot(); m.ChunkAppendFailure != 7 {
		t.Errorf("append failures = %d, want 7", m.ChunkAppendFailure)
	}
}

func TestController_NoStore(t *testing.T) {
	h := newHarness(t, scriptedGenerator(t, scripted.Text("ok")))
	c, err := NewController(ControllerConfig{
		Generator:   scriptedGenerator(t, scripted.Text("ok")),
		Registry:    h.registry,
		Supervisor:  h.supervisor,
		Persistence: h.persistence,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h.controller = c
	w := newFakeWriter(0)

	if out := h.run(t, w); out.Status != StatusCompleted {
		t.Fatalf("outcome = %+v", out)
	}
	h.settle(t)
	if n := len(h.persistence.Saved()); n != 1 {
		t.Errorf("saved %d messages, want 1", n)
	}
}

func TestController_ToolTurn(t *testing.T) {
	h := newHarness(t, scriptedGenerator(t,
		scripted.ToolCall("call_1", "lookup", `{"q":"x"}`),
		scripted.Text("done"),
	))
	w := newFakeWriter(0)

	out := h.run(t, w)
	h.settle(t)

	// No tools are registered, so the call fails and the model answers.
	assertFrameTypes(t, w.Frames(),
		"start",
		"tool-input-start", "tool-input-delta", "tool-input-available", "tool-output-error",
		"start-step", "text-start", "text-delta", "text-end",
		"finish", "[DONE]")
	if out.FinishReason != types.FinishReasonStop {
		t.Errorf("finish reason = %s", out.FinishReason)
	}

	saved := h.persistence.Saved()
	if len(saved) != 1 {
		t.Fatalf("saved %d messages", len(saved))
	}
	var parts []types.Part
	if err := json.Unmarshal(saved[0].Parts, &parts); err != nil {
		t.Fatalf("parts: %v", err)
	}
	if len(parts) != 3 || parts[0].Type != types.PartTypeTool || parts[1].Type != types.PartTypeStepStart || parts[2].Text != "done" {
		t.Errorf("parts = %+v", parts)
	}
}

func TestController_EncodeFailureEndsTurn(t *testing.T) {
	gen := generatorFunc(func() []types.Event {
		return []types.Event{
			types.Start{MessageID: "m1"},
			types.ToolOutputAvailable{CallID: "c1", Output: json.RawMessage("{bad")},
			types.TextStart{TextID: "never"},
		}
	})
	h := newHarness(t, gen)
	w := newFakeWriter(0)

	out := h.run(t, w)
	h.settle(t)

	assertFrameTypes(t, w.Frames(), "start", "error", "finish", "[DONE]")
	if out.Status != StatusCompleted || out.FinishReason != types.FinishReasonError {
		t.Errorf("outcome = %+v", out)
	}
	if n := len(h.persistence.Saved()); n != 1 {
		t.Errorf("saved %d messages, want 1", n)
	}
}

func TestController_PersistenceFailure(t *testing.T) {
	h := newHarness(t, scriptedGenerator(t, scripted.Text("ok")))
	h.persistence.saveErr = errors.New("db down")
	w := newFakeWriter(0)

	out := h.run(t, w)
	h.settle(t)

	if out.Status != StatusCompleted {
		t.Fatalf("outcome = %+v", out)
	}
	if !h.store.IsComplete(t.Context(), "stream-1") {
		t.Error("stream not marked complete")
	}
	m := h.collector.Snapshot()
	if m.PersistFailure != 1 || m.PersistSuccess != 0 || m.NotifySuccess != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestController_RegistryFull(t *testing.T) {
	h := newHarness(t, scriptedGenerator(t, scripted.Text("ok")))
	for i := range h.registry.Capacity() {
		if _, err := h.controller.Open("chat", fmt.Sprintf("busy-%d", i)); err != nil {
			t.Fatalf("open: %v", err)
		}
	}
	if _, err := h.controller.Open("chat", "one-too-many"); !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("err = %v, want ErrRegistryFull", err)
	}
	if got := h.collector.Snapshot().StreamsRejected; got != 1 {
		t.Errorf("rejected = %d", got)
	}
}

func TestController_ShutdownCompletesInline(t *testing.T) {
	h := newHarness(t, scriptedGenerator(t, scripted.Text("ok")))
	if err := h.supervisor.Shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	w := newFakeWriter(0)

	out := h.run(t, w)
	if out.TaskID != "" {
		t.Errorf("task id = %q, want inline completion", out.TaskID)
	}
	if n := len(h.persistence.Saved()); n != 1 {
		t.Errorf("saved %d messages, want 1", n)
	}
}

func TestController_SlowProviderDisconnect(t *testing.T) {
	p := scripted.New(0, scripted.Script{Chunks: []provider.Chunk{
		provider.TextChunk{Text: "partial"},
		provider.TextChunk{Text: " reply"},
		provider.FinishChunk{Reason: types.FinishReasonStop},
	}})
	gen, err := upstream.New(upstream.Config{Provider: p, NewID: counterIDs()})
	if err != nil {
		t.Fatalf("upstream: %v", err)
	}
	h := newHarness(t, gen)

	ctx, cancel := context.WithCancel(t.Context())
	sess, err := h.controller.Open("chat-1", "stream-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	p.Hold()
	w := newFakeWriter(0)
	done := make(chan *Outcome, 1)
	go func() { done <- h.controller.Run(ctx, w, sess, testTurn()) }()

	// Request context ends while the provider is stalled.
	time.Sleep(20 * time.Millisecond)
	cancel()

	var out *Outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	p.Release()
	h.settle(t)

	if !out.Interrupted() {
		t.Fatalf("outcome = %+v", out)
	}
	saved := h.persistence.Saved()
	if len(saved) != 1 || assistantText(t, saved[0]) != "partial reply" {
		t.Errorf("saved = %+v", saved)
	}
}
