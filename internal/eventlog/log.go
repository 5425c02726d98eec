// Package eventlog defines the durable stream contract every pipeline stage reads from
// and writes to, with Redis and in-memory backends.
package eventlog

import (
	"context"
	"time"
)

// Positions understood by EnsureGroup, ReadGroup and Read.
const (
	// PositionLast starts after the newest entry at the time the group or cursor is created.
	PositionLast = "$"
	// PositionFirst starts from the oldest retained entry.
	PositionFirst = "0"
	// PositionNew reads entries never delivered to any consumer of the group.
	PositionNew = ">"
)

// Message is one stream entry: a flat mapping of string keys to string values.
type Message struct {
	ID     string
	Stream string
	Values map[string]string
}

// AddOptions controls trimming on append. MaxLen 0 leaves the stream uncapped.
type AddOptions struct {
	MaxLen int64
	Approx bool
}

// ReadGroupArgs describes a consumer-group read. Start is PositionNew for fresh
// entries or an ID (usually PositionFirst) to re-read this consumer's pending entries.
// Block <= 0 returns immediately.
type ReadGroupArgs struct {
	Stream   string
	Group    string
	Consumer string
	Start    string
	Count    int64
	Block    time.Duration
}

// ReadArgs describes a tailing read of entries strictly after After.
type ReadArgs struct {
	Stream string
	After  string
	Count  int64
	Block  time.Duration
}

// PendingSummary is the group-level view of unacknowledged entries.
type PendingSummary struct {
	Count     int64
	Lower     string
	Higher    string
	Consumers map[string]int64
}

// PendingEntry is a single delivered-but-unacknowledged entry.
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

// PubSubMessage is a non-durable broadcast message.
type PubSubMessage struct {
	Channel string
	Payload []byte
}

// Subscription delivers pub/sub messages until closed.
type Subscription interface {
	Messages() <-chan PubSubMessage
	Close() error
}

// Log is an ordered, durable, appendable log of messages per named stream.
type Log interface {
	Add(ctx context.Context, stream string, values map[string]string, opts AddOptions) (string, error)
	Len(ctx context.Context, stream string) (int64, error)
	LastID(ctx context.Context, stream string) (string, error)

	EnsureGroup(ctx context.Context, stream, group, start string) error
	ReadGroup(ctx context.Context, args ReadGroupArgs) ([]Message, error)
	Read(ctx context.Context, args ReadArgs) ([]Message, error)
	Ack(ctx context.Context, stream, group string, ids ...string) (int64, error)
	Pending(ctx context.Context, stream, group string) (PendingSummary, error)
	PendingEntries(ctx context.Context, stream, group string, count int64) ([]PendingEntry, error)

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	Close() error
}

// Acker acknowledges entries of one stream for one group.
type Acker interface {
	Ack(ctx context.Context, stream, group string, ids ...string) (int64, error)
}
