// Package lode persists chat history on a Lode dataset.
//
// The Archive implements the persistence collaborators of the streaming
// runtime: saving messages, recording per-turn usage, and allocating
// stream ids. Records are JSONL, hive-partitioned by record kind, chat
// and day, on a filesystem, S3 or in-memory store.
package lode

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/justapithecus/lode/lode"

	"github.com/vercel/ai-chatbot-sub000/metrics"
	"github.com/vercel/ai-chatbot-sub000/types"
)

// DefaultDataset is the dataset id used when Config.Dataset is empty.
const DefaultDataset = "chats"

// ErrMissingChatID is returned by writes without a chat id.
var ErrMissingChatID = errors.New("archive write rejected: missing chat_id")

// Config configures an Archive.
type Config struct {
	// Dataset is the Lode dataset id (default "chats").
	Dataset string
	// Now is the clock used for record timestamps (default time.Now).
	Now func() time.Time
	// NewID allocates stream ids (default uuid.NewString).
	NewID func() string
}

// Archive is a Lode-backed chat history store.
// Uses Lode's HiveLayout with partition keys record_kind/chat_id/day.
type Archive struct {
	dataset lode.Dataset
	config  Config

	mu sync.Mutex // serializes dataset writes
}

// NewFSArchive creates an archive on the filesystem under root.
func NewFSArchive(cfg Config, root string) (*Archive, error) {
	return NewArchive(cfg, lode.NewFSFactory(root))
}

// NewArchive creates an archive with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewArchive(cfg Config, factory lode.StoreFactory) (*Archive, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	ds, err := NewDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return &Archive{dataset: ds, config: cfg}, nil
}

func (a *Archive) write(ctx context.Context, op, chatID string, records []any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, op, chatID)
	}
	return nil
}

// SaveMessages appends msgs to their chats in one write.
func (a *Archive) SaveMessages(ctx context.Context, msgs []types.StoredMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	records := make([]any, 0, len(msgs))
	for _, m := range msgs {
		if m.ChatID == "" {
			return fmt.Errorf("%w: message %s", ErrMissingChatID, m.ID)
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = a.config.Now()
		}
		records = append(records, toMessageRecordMap(m))
	}
	return a.write(ctx, "save_messages", msgs[0].ChatID, records)
}

// UpdateConversationContext records the usage of one completed turn.
// A nil usage is recorded as zero so the turn is still counted.
func (a *Archive) UpdateConversationContext(ctx context.Context, chatID string, usage *types.Usage) error {
	if chatID == "" {
		return ErrMissingChatID
	}
	return a.write(ctx, "update_context", chatID, []any{toContextRecordMap(chatID, uuid.NewString(), usage, a.config.Now())})
}

// CreateStreamID allocates a stream id for chatID and records it.
func (a *Archive) CreateStreamID(ctx context.Context, chatID string) (string, error) {
	if chatID == "" {
		return "", ErrMissingChatID
	}
	id := a.config.NewID()
	if err := a.write(ctx, "create_stream", chatID, []any{toStreamRecordMap(chatID, id, a.config.Now())}); err != nil {
		return "", err
	}
	return id, nil
}

// WriteMetrics archives a metrics snapshot.
func (a *Archive) WriteMetrics(ctx context.Context, s metrics.Snapshot, at time.Time) error {
	return a.write(ctx, "write_metrics", metricsChatID, []any{toMetricsRecordMap(s, at)})
}

// StreamIDs returns the stream ids of chatID, oldest first.
func (a *Archive) StreamIDs(ctx context.Context, chatID string) ([]string, error) {
	type allocation struct {
		id      string
		created time.Time
	}
	var out []allocation
	seen := make(map[string]struct{})
	err := a.scan(ctx, RecordKindStream, chatID, func(record map[string]any) error {
		id := toString(record["stream_id"])
		if _, dup := seen[id]; dup || id == "" {
			return nil
		}
		seen[id] = struct{}{}
		out = append(out, allocation{id: id, created: parseTime(record["created_at"])})
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(x, y allocation) int { return x.created.Compare(y.created) })

	ids := make([]string, len(out))
	for i, s := range out {
		ids[i] = s.id
	}
	return ids, nil
}

// LatestStreamID returns the most recently allocated stream id of chatID.
func (a *Archive) LatestStreamID(ctx context.Context, chatID string) (string, bool, error) {
	ids, err := a.StreamIDs(ctx, chatID)
	if err != nil || len(ids) == 0 {
		return "", false, err
	}
	return ids[len(ids)-1], true, nil
}

// Messages returns the messages of chatID ordered by creation time.
func (a *Archive) Messages(ctx context.Context, chatID string) ([]types.StoredMessage, error) {
	var out []types.StoredMessage
	seen := make(map[string]struct{})
	err := a.scan(ctx, RecordKindMessage, chatID, func(record map[string]any) error {
		m, err := fromMessageRecord(record)
		if err != nil {
			return err
		}
		if _, dup := seen[m.ID]; dup {
			return nil
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(x, y types.StoredMessage) int { return x.CreatedAt.Compare(y.CreatedAt) })
	return out, nil
}

// LatestMessage returns the most recent message of chatID.
func (a *Archive) LatestMessage(ctx context.Context, chatID string) (types.StoredMessage, bool, error) {
	msgs, err := a.Messages(ctx, chatID)
	if err != nil || len(msgs) == 0 {
		return types.StoredMessage{}, false, err
	}
	return msgs[len(msgs)-1], true, nil
}

// ConversationUsage returns the usage summed over every recorded turn of
// chatID, and the number of turns.
func (a *Archive) ConversationUsage(ctx context.Context, chatID string) (types.Usage, int, error) {
	var (
		total types.Usage
		turns int
	)
	seen := make(map[string]struct{})
	err := a.scan(ctx, RecordKindContext, chatID, func(record map[string]any) error {
		key := toString(record["record_id"])
		if _, dup := seen[key]; dup {
			return nil
		}
		seen[key] = struct{}{}
		u := fromContextRecord(record)
		total = *total.Add(&u)
		turns++
		return nil
	})
	return total, turns, err
}

// Close releases archive resources.
func (a *Archive) Close() error {
	// Dataset doesn't require explicit close in current Lode API
	return nil
}
