package lode

import (
	"testing"
	"time"

	"github.com/vercel/ai-chatbot-sub000/types"
)

func TestMatchesPartitionValue(t *testing.T) {
	tests := []struct {
		path  string
		key   string
		value string
		want  bool
	}{
		{"chats/record_kind=message/chat_id=c-1/day=2026-03-01/data.jsonl", "chat_id", "c-1", true},
		{"chats/record_kind=message/chat_id=c-10/day=2026-03-01/data.jsonl", "chat_id", "c-1", false},
		{"chats/record_kind=stream/chat_id=c-1/day=2026-03-01/data.jsonl", "record_kind", "message", false},
		{"chats/record_kind=metrics/chat_id=_service/data.jsonl", "record_kind", "metrics", true},
	}
	for _, tt := range tests {
		if got := matchesPartitionValue(tt.path, tt.key, tt.value); got != tt.want {
			t.Errorf("matchesPartitionValue(%q, %q, %q) = %v, want %v", tt.path, tt.key, tt.value, got, tt.want)
		}
	}
}

func TestNewReadDatasetFS(t *testing.T) {
	ds, err := NewReadDatasetFS(DefaultDataset, t.TempDir())
	if err != nil {
		t.Fatalf("NewReadDatasetFS failed: %v", err)
	}
	if ds == nil {
		t.Fatal("dataset is nil")
	}
}

func TestMessageRecord_RoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 23, 59, 59, 500, time.FixedZone("X", 3600))
	in := storedMessage("chat-1", "m-1", types.RoleAssistant, "hi", at)

	record := toMessageRecordMap(in)
	if record["day"] != "2026-03-01" {
		t.Errorf("day = %v, want UTC day", record["day"])
	}

	out, err := fromMessageRecord(record)
	if err != nil {
		t.Fatalf("fromMessageRecord: %v", err)
	}
	if out.ID != in.ID || out.ChatID != in.ChatID || out.Role != in.Role {
		t.Errorf("out = %+v", out)
	}
	if string(out.Parts) != string(in.Parts) {
		t.Errorf("parts = %s, want %s", out.Parts, in.Parts)
	}
	if !out.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %v, want %v", out.CreatedAt, at)
	}
}

func TestMessageRecord_Invalid(t *testing.T) {
	if _, err := fromMessageRecord(map[string]any{"created_at": "yesterday"}); err == nil {
		t.Error("bad timestamp accepted")
	}
	record := toMessageRecordMap(storedMessage("c", "m", types.RoleUser, "x", time.Now()))
	record["parts_json"] = "{not json"
	if _, err := fromMessageRecord(record); err == nil {
		t.Error("bad parts accepted")
	}
}

func TestDeriveDay(t *testing.T) {
	at := time.Date(2026, 3, 2, 1, 0, 0, 0, time.FixedZone("east", 5*3600))
	if got := DeriveDay(at); got != "2026-03-01" {
		t.Errorf("DeriveDay = %q, want 2026-03-01", got)
	}
}
