package chunkstore

import (
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedisBackend(RedisConfig{URL: "redis://" + mr.Addr(), TTL: time.Hour})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestNewRedisBackend_RequiresURL(t *testing.T) {
	_, err := NewRedisBackend(RedisConfig{})
	if err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestNewRedisBackend_InvalidURL(t *testing.T) {
	_, err := NewRedisBackend(RedisConfig{URL: "not-a-url://bad"})
	if err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestNewRedisBackend_Defaults(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBackend(RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = b.Close() }()

	if b.config.KeyPrefix != DefaultKeyPrefix {
		t.Errorf("expected prefix %q, got %q", DefaultKeyPrefix, b.config.KeyPrefix)
	}
	if b.config.TTL != DefaultTTL {
		t.Errorf("expected TTL %v, got %v", DefaultTTL, b.config.TTL)
	}
}

func TestRedisBackend_AppendAndReadAll(t *testing.T) {
	b, mr := newTestRedis(t)
	ctx := t.Context()

	for i, payload := range []string{"data: a\n\n", "data: b\n\n", "data: [DONE]\n\n"} {
		if err := b.Append(ctx, "s1", Record{Seq: int64(i), Payload: []byte(payload)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	records, err := b.ReadAll(ctx, "s1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if string(records[1].Payload) != "data: b\n\n" || records[1].Seq != 1 {
		t.Errorf("record 1 = %+v", records[1])
	}

	ttl := mr.TTL(b.chunksKey("s1"))
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("chunks TTL = %v, want (0, 1h]", ttl)
	}
}

func TestRedisBackend_AppendRefreshesTTL(t *testing.T) {
	b, mr := newTestRedis(t)
	ctx := t.Context()

	if err := b.Append(ctx, "s1", Record{Seq: 0, Payload: []byte("x")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	mr.FastForward(50 * time.Minute)
	if err := b.Append(ctx, "s1", Record{Seq: 1, Payload: []byte("y")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	mr.FastForward(50 * time.Minute)

	records, err := b.ReadAll(ctx, "s1")
	if err != nil {
		t.Fatalf("read after refresh: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("got %d records, want 2", len(records))
	}
}

func TestRedisBackend_Expiry(t *testing.T) {
	b, mr := newTestRedis(t)
	ctx := t.Context()

	if err := b.Append(ctx, "s1", Record{Seq: 0, Payload: []byte("x")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	mr.FastForward(61 * time.Minute)

	if _, err := b.ReadAll(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRedisBackend_MarkComplete(t *testing.T) {
	b, mr := newTestRedis(t)
	ctx := t.Context()

	done, err := b.IsComplete(ctx, "s1")
	if err != nil || done {
		t.Fatalf("IsComplete before mark = %v, %v", done, err)
	}

	if err := b.MarkComplete(ctx, "s1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	done, err = b.IsComplete(ctx, "s1")
	if err != nil || !done {
		t.Fatalf("IsComplete after mark = %v, %v", done, err)
	}
	if ttl := mr.TTL(b.completeKey("s1")); ttl <= 0 {
		t.Errorf("complete key has no TTL")
	}
}

func TestRedisBackend_ReadAllUnknown(t *testing.T) {
	b, _ := newTestRedis(t)
	if _, err := b.ReadAll(t.Context(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRedisBackend_ServerDown(t *testing.T) {
	b, mr := newTestRedis(t)
	mr.Close()

	if err := b.Append(t.Context(), "s1", Record{Seq: 0}); err == nil {
		t.Error("expected append error with server down")
	}
	if _, err := b.IsComplete(t.Context(), "s1"); err == nil {
		t.Error("expected probe error with server down")
	}
}

func TestRedisBackend_CorruptRecord(t *testing.T) {
	b, mr := newTestRedis(t)
	if _, err := mr.Push(b.chunksKey("s1"), "\xc1 not msgpack"); err != nil {
		t.Fatalf("push: %v", err)
	}
	_, err := b.ReadAll(t.Context(), "s1")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want decode error", err)
	}
}
