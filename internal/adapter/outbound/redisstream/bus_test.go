package redisstream

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testBus(t *testing.T) *Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewFromClient(client, testLogger())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestAppend_StoresPayloadUnderJSONField(t *testing.T) {
	b := testBus(t)
	ctx := context.Background()

	id, err := b.Append(ctx, "action.intent", []byte(`{"event_id":"e1"}`))
	if err != nil {
		t.Fatalf("Append() returned unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a broker-assigned ID")
	}

	if err := b.EnsureGroup(ctx, "action.intent", "guardian"); err != nil {
		t.Fatalf("EnsureGroup() returned unexpected error: %v", err)
	}
	msgs, err := b.ReadGroup(ctx, "action.intent", "guardian", "c1", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadGroup() returned unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].ID != id {
		t.Errorf("expected message ID %s, got %s", id, msgs[0].ID)
	}
	if got := msgs[0].Values["json"]; got != `{"event_id":"e1"}` {
		t.Errorf("expected payload under 'json' field, got %q", got)
	}
}

func TestEnsureGroup_ExistingGroupIsNotAnError(t *testing.T) {
	b := testBus(t)
	ctx := context.Background()

	if err := b.EnsureGroup(ctx, "action.intent", "guardian"); err != nil {
		t.Fatalf("first EnsureGroup() returned unexpected error: %v", err)
	}
	if err := b.EnsureGroup(ctx, "action.intent", "guardian"); err != nil {
		t.Fatalf("second EnsureGroup() must be idempotent, got: %v", err)
	}
}

func TestEnsureGroup_CreatesMissingStream(t *testing.T) {
	b := testBus(t)
	ctx := context.Background()

	if err := b.EnsureGroup(ctx, "never-written", "guardian"); err != nil {
		t.Fatalf("EnsureGroup() on a missing stream returned unexpected error: %v", err)
	}
	msgs, err := b.ReadGroup(ctx, "never-written", "guardian", "c1", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadGroup() returned unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty stream, got %d messages", len(msgs))
	}
}

func TestReadGroup_UnackedMessageStaysPending(t *testing.T) {
	b := testBus(t)
	ctx := context.Background()

	if err := b.EnsureGroup(ctx, "action.intent", "guardian"); err != nil {
		t.Fatalf("EnsureGroup() returned unexpected error: %v", err)
	}
	id, err := b.Append(ctx, "action.intent", []byte(`{"event_id":"e1"}`))
	if err != nil {
		t.Fatalf("Append() returned unexpected error: %v", err)
	}

	first, err := b.ReadGroup(ctx, "action.intent", "guardian", "c1", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("first ReadGroup() returned unexpected error: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 message on first read, got %d", len(first))
	}

	// Not ACKed: the message must not be re-delivered as new ('>'), but an ACK
	// must still be accepted for it.
	second, err := b.ReadGroup(ctx, "action.intent", "guardian", "c1", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("second ReadGroup() returned unexpected error: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("expected no new messages on second read, got %d", len(second))
	}
	if err := b.Ack(ctx, "action.intent", "guardian", id); err != nil {
		t.Fatalf("Ack() returned unexpected error: %v", err)
	}
}

func TestAck_EmptyIDListIsNoOp(t *testing.T) {
	b := testBus(t)
	if err := b.Ack(context.Background(), "action.intent", "guardian"); err != nil {
		t.Fatalf("Ack() with no IDs must be a no-op, got: %v", err)
	}
}

func TestPing(t *testing.T) {
	b := testBus(t)
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() returned unexpected error: %v", err)
	}
}
