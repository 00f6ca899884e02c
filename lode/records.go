package lode

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vercel/ai-chatbot-sub000/metrics"
	"github.com/vercel/ai-chatbot-sub000/types"
)

// RecordKind discriminator values. record_kind is also the first
// partition key of the archive layout.
const (
	RecordKindMessage = "message"
	RecordKindContext = "conversation_context"
	RecordKindStream  = "stream"
	RecordKindMetrics = "metrics"
)

// metricsChatID is the chat_id partition value of metrics records.
const metricsChatID = "_service"

// DeriveDay computes the day partition of a timestamp.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// toMessageRecordMap converts a stored message for the archive.
// The hive layout requires records as map[string]any.
func toMessageRecordMap(m types.StoredMessage) map[string]any {
	created := m.CreatedAt.UTC()
	parts := string(m.Parts)
	if parts == "" {
		parts = "[]"
	}
	return map[string]any{
		"record_kind":      RecordKindMessage,
		"contract_version": types.Version,
		"chat_id":          m.ChatID,
		"message_id":       m.ID,
		"role":             string(m.Role),
		"parts_json":       parts,
		"created_at":       created.Format(time.RFC3339Nano),
		"day":              DeriveDay(created),
	}
}

func toContextRecordMap(chatID, recordID string, usage *types.Usage, at time.Time) map[string]any {
	var u types.Usage
	if usage != nil {
		u = *usage
	}
	return map[string]any{
		"record_kind":       RecordKindContext,
		"record_id":         recordID,
		"chat_id":           chatID,
		"prompt_tokens":     u.PromptTokens,
		"completion_tokens": u.CompletionTokens,
		"total_tokens":      u.TotalTokens,
		"updated_at":        at.UTC().Format(time.RFC3339Nano),
		"day":               DeriveDay(at),
	}
}

func toStreamRecordMap(chatID, streamID string, at time.Time) map[string]any {
	return map[string]any{
		"record_kind": RecordKindStream,
		"chat_id":     chatID,
		"stream_id":   streamID,
		"created_at":  at.UTC().Format(time.RFC3339Nano),
		"day":         DeriveDay(at),
	}
}

// toMetricsRecordMap converts a metrics snapshot for the archive.
func toMetricsRecordMap(s metrics.Snapshot, at time.Time) map[string]any {
	return map[string]any{
		"record_kind":             RecordKindMetrics,
		"chat_id":                 metricsChatID,
		"streams_started":         s.StreamsStarted,
		"streams_completed":       s.StreamsCompleted,
		"streams_interrupted":     s.StreamsInterrupted,
		"streams_rejected":        s.StreamsRejected,
		"frames_written":          s.FramesWritten,
		"continuations_started":   s.ContinuationsStarted,
		"continuations_completed": s.ContinuationsCompleted,
		"continuations_failed":    s.ContinuationsFailed,
		"tasks_abandoned":         s.TasksAbandoned,
		"chunk_append_success":    s.ChunkAppendSuccess,
		"chunk_append_failure":    s.ChunkAppendFailure,
		"chunk_append_dropped":    s.ChunkAppendDropped,
		"chunk_gaps":              s.ChunkGaps,
		"store_op_failure":        s.StoreOpFailure,
		"tool_call_success":       s.ToolCallSuccess,
		"tool_call_failure":       s.ToolCallFailure,
		"unknown_provider_chunks": s.UnknownProviderChunks,
		"persist_success":         s.PersistSuccess,
		"persist_failure":         s.PersistFailure,
		"notify_success":          s.NotifySuccess,
		"notify_failure":          s.NotifyFailure,
		"resume_replayed":         s.ResumeReplayed,
		"resume_empty":            s.ResumeEmpty,
		"resume_no_content":       s.ResumeNoContent,
		"provider":                s.Provider,
		"store_backend":           s.StoreBackend,
		"policy":                  s.Policy,
		"recorded_at":             at.UTC().Format(time.RFC3339Nano),
		"day":                     DeriveDay(at),
	}
}

// fromMessageRecord rebuilds a stored message from a decoded record.
func fromMessageRecord(record map[string]any) (types.StoredMessage, error) {
	created, err := time.Parse(time.RFC3339Nano, toString(record["created_at"]))
	if err != nil {
		return types.StoredMessage{}, fmt.Errorf("message %s: bad created_at: %w", toString(record["message_id"]), err)
	}
	parts := toString(record["parts_json"])
	if !json.Valid([]byte(parts)) {
		return types.StoredMessage{}, fmt.Errorf("message %s: parts are not valid JSON", toString(record["message_id"]))
	}
	return types.StoredMessage{
		ID:        toString(record["message_id"]),
		ChatID:    toString(record["chat_id"]),
		Role:      types.Role(toString(record["role"])),
		Parts:     json.RawMessage(parts),
		CreatedAt: created,
	}, nil
}

func fromContextRecord(record map[string]any) types.Usage {
	return types.Usage{
		PromptTokens:     int(toInt64(record["prompt_tokens"])),
		CompletionTokens: int(toInt64(record["completion_tokens"])),
		TotalTokens:      int(toInt64(record["total_tokens"])),
	}
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// parseTime parses an RFC3339 timestamp field; malformed values sort first.
func parseTime(v any) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, toString(v))
	return t
}

// toInt64 converts a decoded JSON number to int64.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
