package outbound

import (
	"context"
	"time"
)

// StreamMessage is one entry read from a stream. Each Guardian event is a
// single field "json" holding the UTF-8 JSON encoding of the event; IDs are
// broker-assigned.
type StreamMessage struct {
	ID     string
	Values map[string]string
}

// Bus is an ordered log with consumer groups and per-message acknowledgement.
type Bus interface {
	// Append adds an entry with the payload under the "json" field and
	// returns the broker-assigned ID.
	Append(ctx context.Context, stream string, payload []byte) (string, error)
	// EnsureGroup creates the consumer group, creating the stream if absent.
	// An already-existing group is not an error.
	EnsureGroup(ctx context.Context, stream, group string) error
	// ReadGroup blocks up to the given duration for up to count messages that
	// are pending for this consumer or never delivered. A timeout returns an
	// empty slice and nil error.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error)
	// Ack acknowledges messages for the group. Only ACKed messages are
	// terminal; everything else is redelivered.
	Ack(ctx context.Context, stream, group string, ids ...string) error
	// Ping verifies the broker is reachable.
	Ping(ctx context.Context) error
	// Close releases the connection.
	Close() error
}
