package metrics

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("scripted", "redis", "async")

	c.IncStreamStarted()
	c.IncStreamStarted()
	c.IncStreamCompleted()
	c.IncStreamInterrupted()
	c.IncStreamRejected()
	c.AddFramesWritten(7)
	c.IncContinuationStarted()
	c.IncContinuationCompleted()
	c.IncContinuationFailed()
	c.IncTaskAbandoned()
	c.IncChunkAppendSuccess()
	c.IncChunkAppendSuccess()
	c.IncChunkAppendFailure()
	c.IncChunkAppendDropped()
	c.IncChunkGap()
	c.IncStoreOpFailure()
	c.IncToolCallSuccess()
	c.IncToolCallFailure()
	c.IncUnknownProviderChunk()
	c.IncPersistSuccess()
	c.IncPersistFailure()
	c.IncNotifySuccess()
	c.IncNotifyFailure()
	c.IncResumeReplayed()
	c.IncResumeEmpty()
	c.IncResumeNoContent()

	s := c.Snapshot()

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"StreamsStarted", s.StreamsStarted, 2},
		{"StreamsCompleted", s.StreamsCompleted, 1},
		{"StreamsInterrupted", s.StreamsInterrupted, 1},
		{"StreamsRejected", s.StreamsRejected, 1},
		{"FramesWritten", s.FramesWritten, 7},
		{"ContinuationsStarted", s.ContinuationsStarted, 1},
		{"ContinuationsCompleted", s.ContinuationsCompleted, 1},
		{"ContinuationsFailed", s.ContinuationsFailed, 1},
		{"TasksAbandoned", s.TasksAbandoned, 1},
		{"ChunkAppendSuccess", s.ChunkAppendSuccess, 2},
		{"ChunkAppendFailure", s.ChunkAppendFailure, 1},
		{"ChunkAppendDropped", s.ChunkAppendDropped, 1},
		{"ChunkGaps", s.ChunkGaps, 1},
		{"StoreOpFailure", s.StoreOpFailure, 1},
		{"ToolCallSuccess", s.ToolCallSuccess, 1},
		{"ToolCallFailure", s.ToolCallFailure, 1},
		{"UnknownProviderChunks", s.UnknownProviderChunks, 1},
		{"PersistSuccess", s.PersistSuccess, 1},
		{"PersistFailure", s.PersistFailure, 1},
		{"NotifySuccess", s.NotifySuccess, 1},
		{"NotifyFailure", s.NotifyFailure, 1},
		{"ResumeReplayed", s.ResumeReplayed, 1},
		{"ResumeEmpty", s.ResumeEmpty, 1},
		{"ResumeNoContent", s.ResumeNoContent, 1},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			t.Errorf("%s = %d, want %d", ch.name, ch.got, ch.want)
		}
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("openai", "memory", "strict")
	s := c.Snapshot()

	if s.Provider != "openai" {
		t.Errorf("Provider = %q, want %q", s.Provider, "openai")
	}
	if s.StoreBackend != "memory" {
		t.Errorf("StoreBackend = %q, want %q", s.StoreBackend, "memory")
	}
	if s.Policy != "strict" {
		t.Errorf("Policy = %q, want %q", s.Policy, "strict")
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	c.IncStreamStarted()
	c.IncChunkAppendFailure()
	c.AddFramesWritten(3)
	c.IncResumeNoContent()

	if s := c.Snapshot(); s.StreamsStarted != 0 {
		t.Errorf("nil collector snapshot = %+v", s)
	}
}

func TestCollector_ConcurrentIncrements(t *testing.T) {
	c := NewCollector("scripted", "memory", "async")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.IncChunkAppendSuccess()
				c.AddFramesWritten(1)
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.ChunkAppendSuccess != 5000 {
		t.Errorf("ChunkAppendSuccess = %d, want 5000", s.ChunkAppendSuccess)
	}
	if s.FramesWritten != 5000 {
		t.Errorf("FramesWritten = %d, want 5000", s.FramesWritten)
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector("scripted", "memory", "async")
	c.IncStreamStarted()

	s1 := c.Snapshot()
	c.IncStreamStarted()

	if s1.StreamsStarted != 1 {
		t.Errorf("earlier snapshot mutated: %d", s1.StreamsStarted)
	}
}

func TestPrometheusCollector_Export(t *testing.T) {
	c := NewCollector("scripted", "redis", "async")
	c.IncStreamStarted()
	c.IncStreamStarted()
	c.IncChunkAppendDropped()

	p := NewPrometheusCollector(c)
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}

	if n := testutil.CollectAndCount(p); n != len(counterSpecs) {
		t.Errorf("collected %d metrics, want %d", n, len(counterSpecs))
	}

	expected := `
# HELP chatstream_streams_started_total Foreground streams started.
# TYPE chatstream_streams_started_total counter
chatstream_streams_started_total{policy="async",provider="scripted",store_backend="redis"} 2
# HELP chatstream_chunk_append_dropped_total Chunks abandoned before reaching the store.
# TYPE chatstream_chunk_append_dropped_total counter
chatstream_chunk_append_dropped_total{policy="async",provider="scripted",store_backend="redis"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"chatstream_streams_started_total", "chatstream_chunk_append_dropped_total"); err != nil {
		t.Error(err)
	}
}
