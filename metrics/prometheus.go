package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatstream"

// counterSpec maps one Snapshot field to an exported counter.
type counterSpec struct {
	name string
	help string
	get  func(Snapshot) int64
}

var counterSpecs = []counterSpec{
	{"streams_started_total", "Foreground streams started.", func(s Snapshot) int64 { return s.StreamsStarted }},
	{"streams_completed_total", "Foreground streams that reached finish.", func(s Snapshot) int64 { return s.StreamsCompleted }},
	{"streams_interrupted_total", "Streams whose client disconnected before finish.", func(s Snapshot) int64 { return s.StreamsInterrupted }},
	{"streams_rejected_total", "Streams refused because the session registry was full.", func(s Snapshot) int64 { return s.StreamsRejected }},
	{"frames_written_total", "SSE frames delivered to clients.", func(s Snapshot) int64 { return s.FramesWritten }},
	{"continuations_started_total", "Background continuations launched.", func(s Snapshot) int64 { return s.ContinuationsStarted }},
	{"continuations_completed_total", "Background continuations that reached finish.", func(s Snapshot) int64 { return s.ContinuationsCompleted }},
	{"continuations_failed_total", "Background continuations that ended without finish.", func(s Snapshot) int64 { return s.ContinuationsFailed }},
	{"tasks_abandoned_total", "Supervised tasks still running at shutdown deadline.", func(s Snapshot) int64 { return s.TasksAbandoned }},
	{"chunk_append_success_total", "Chunks persisted to the durable store.", func(s Snapshot) int64 { return s.ChunkAppendSuccess }},
	{"chunk_append_failure_total", "Chunk appends that errored or timed out.", func(s Snapshot) int64 { return s.ChunkAppendFailure }},
	{"chunk_append_dropped_total", "Chunks abandoned before reaching the store.", func(s Snapshot) int64 { return s.ChunkAppendDropped }},
	{"chunk_gaps_total", "Replays refused because of a sequence gap.", func(s Snapshot) int64 { return s.ChunkGaps }},
	{"store_op_failure_total", "Failed chunk store reads and flag operations.", func(s Snapshot) int64 { return s.StoreOpFailure }},
	{"tool_call_success_total", "Tool invocations that returned output.", func(s Snapshot) int64 { return s.ToolCallSuccess }},
	{"tool_call_failure_total", "Tool invocations that failed.", func(s Snapshot) int64 { return s.ToolCallFailure }},
	{"unknown_provider_chunks_total", "Provider chunks with no known variant.", func(s Snapshot) int64 { return s.UnknownProviderChunks }},
	{"persist_success_total", "Assistant turns persisted.", func(s Snapshot) int64 { return s.PersistSuccess }},
	{"persist_failure_total", "Failed persistence steps.", func(s Snapshot) int64 { return s.PersistFailure }},
	{"notify_success_total", "Completion notifications delivered.", func(s Snapshot) int64 { return s.NotifySuccess }},
	{"notify_failure_total", "Completion notifications that exhausted retries.", func(s Snapshot) int64 { return s.NotifyFailure }},
	{"resume_replayed_total", "Resume requests answered with a full replay.", func(s Snapshot) int64 { return s.ResumeReplayed }},
	{"resume_empty_total", "Resume requests answered with an empty stream.", func(s Snapshot) int64 { return s.ResumeEmpty }},
	{"resume_no_content_total", "Resume requests answered with 204.", func(s Snapshot) int64 { return s.ResumeNoContent }},
}

// PrometheusCollector exports a Collector's counters. Values are read from
// a fresh Snapshot on every scrape.
type PrometheusCollector struct {
	source *Collector
	descs  []*prometheus.Desc
}

// NewPrometheusCollector builds an exporter for c. The collector's
// dimensions become constant labels.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	s := c.Snapshot()
	labels := prometheus.Labels{
		"provider":      s.Provider,
		"store_backend": s.StoreBackend,
		"policy":        s.Policy,
	}
	descs := make([]*prometheus.Desc, len(counterSpecs))
	for i, spec := range counterSpecs {
		descs[i] = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", spec.name), spec.help, nil, labels)
	}
	return &PrometheusCollector{source: c, descs: descs}
}

// Describe implements prometheus.Collector.
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range p.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.source.Snapshot()
	for i, spec := range counterSpecs {
		ch <- prometheus.MustNewConstMetric(p.descs[i], prometheus.CounterValue, float64(spec.get(s)))
	}
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)
