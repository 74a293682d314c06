// Package redisstream implements the Guardian event bus on Redis streams.
//
// Every Guardian event travels as a single stream field "json" holding the
// event's JSON encoding. Intents are consumed through a consumer group so a
// crashed worker's pending messages are redelivered to its peers.
package redisstream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guardian-hq/guardian/internal/port/outbound"
)

// payloadField is the stream field carrying the event JSON.
const payloadField = "json"

// Bus is the Redis-backed implementation of outbound.Bus.
type Bus struct {
	client *redis.Client
	logger *slog.Logger
}

// New connects to the Redis instance named by url (redis:// or rediss://).
func New(url string, logger *slog.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Bus{client: redis.NewClient(opts), logger: logger}, nil
}

// NewFromClient wraps an existing client. Used by tests with miniredis.
func NewFromClient(client *redis.Client, logger *slog.Logger) *Bus {
	return &Bus{client: client, logger: logger}
}

// Append implements outbound.Bus.
func (b *Bus) Append(ctx context.Context, stream string, payload []byte) (string, error) {
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// EnsureGroup implements outbound.Bus. Creating a group that already exists
// is not an error; the stream is created when missing.
func (b *Bus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// ReadGroup implements outbound.Bus. A block timeout with no messages is a
// normal idle tick and returns an empty slice.
func (b *Bus) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]outbound.StreamMessage, error) {
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", stream, err)
	}

	var out []outbound.StreamMessage
	for _, s := range streams {
		for _, m := range s.Messages {
			values := make(map[string]string, len(m.Values))
			for k, v := range m.Values {
				if str, ok := v.(string); ok {
					values[k] = str
				} else {
					values[k] = fmt.Sprintf("%v", v)
				}
			}
			out = append(out, outbound.StreamMessage{ID: m.ID, Values: values})
		}
	}
	return out, nil
}

// Ack implements outbound.Bus.
func (b *Bus) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", stream, err)
	}
	return nil
}

// Ping implements outbound.Bus.
func (b *Bus) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close implements outbound.Bus.
func (b *Bus) Close() error { return b.client.Close() }
