package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/redis/go-redis/v9"
)

// Redis implements Log on Redis streams and pub/sub.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the Redis server at url (redis://host:port/db).
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("parsing redis url: %w", err))
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Ping verifies connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return core.WrapError(core.ErrStreamUnavailable, err)
	}
	return nil
}

func (r *Redis) Add(ctx context.Context, stream string, values map[string]string, opts AddOptions) (string, error) {
	fields := make(map[string]any, len(values))
	for k, v := range values {
		fields[k] = v
	}
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: opts.MaxLen,
		Approx: opts.Approx && opts.MaxLen > 0,
		Values: fields,
	}).Result()
	if err != nil {
		return "", core.WrapError(core.ErrStreamUnavailable, err)
	}
	return id, nil
}

func (r *Redis) Len(ctx context.Context, stream string) (int64, error) {
	n, err := r.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, core.WrapError(core.ErrStreamUnavailable, err)
	}
	return n, nil
}

func (r *Redis) LastID(ctx context.Context, stream string) (string, error) {
	msgs, err := r.client.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		return "", core.WrapError(core.ErrStreamUnavailable, err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

// EnsureGroup creates the group (and stream). BUSYGROUP is treated as success.
func (r *Redis) EnsureGroup(ctx context.Context, stream, group, start string) error {
	if start == "" {
		start = PositionLast
	}
	err := r.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && !isBusyGroup(err) {
		return core.WrapError(core.ErrStreamUnavailable, err)
	}
	return nil
}

func (r *Redis) ReadGroup(ctx context.Context, args ReadGroupArgs) ([]Message, error) {
	msgs, err := r.readGroup(ctx, args)
	if err != nil && isNoGroup(err) {
		if err := r.EnsureGroup(ctx, args.Stream, args.Group, PositionLast); err != nil {
			return nil, err
		}
		msgs, err = r.readGroup(ctx, args)
	}
	if err != nil {
		return nil, core.WrapError(core.ErrStreamUnavailable, err)
	}
	return msgs, nil
}

func (r *Redis) readGroup(ctx context.Context, args ReadGroupArgs) ([]Message, error) {
	start := args.Start
	if start == "" {
		start = PositionNew
	}
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    args.Group,
		Consumer: args.Consumer,
		Streams:  []string{args.Stream, start},
		Count:    args.Count,
		Block:    blockArg(args.Block),
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toMessages(streams), nil
}

func (r *Redis) Read(ctx context.Context, args ReadArgs) ([]Message, error) {
	after := args.After
	if after == "" {
		after = PositionLast
	}
	streams, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{args.Stream, after},
		Count:   args.Count,
		Block:   blockArg(args.Block),
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, core.WrapError(core.ErrStreamUnavailable, err)
	}
	return toMessages(streams), nil
}

func (r *Redis) Ack(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := r.client.XAck(ctx, stream, group, ids...).Result()
	if err != nil {
		return 0, core.WrapError(core.ErrStreamUnavailable, err)
	}
	return n, nil
}

func (r *Redis) Pending(ctx context.Context, stream, group string) (PendingSummary, error) {
	p, err := r.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return PendingSummary{}, core.WrapError(core.ErrStreamUnavailable, err)
	}
	return PendingSummary{
		Count:     p.Count,
		Lower:     p.Lower,
		Higher:    p.Higher,
		Consumers: p.Consumers,
	}, nil
}

func (r *Redis) PendingEntries(ctx context.Context, stream, group string, count int64) ([]PendingEntry, error) {
	if count <= 0 {
		count = 1000
	}
	entries, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, core.WrapError(core.ErrStreamUnavailable, err)
	}
	out := make([]PendingEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, PendingEntry{
			ID:         e.ID,
			Consumer:   e.Consumer,
			Idle:       e.Idle,
			Deliveries: e.RetryCount,
		})
	}
	return out, nil
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return core.WrapError(core.ErrStreamUnavailable, err)
	}
	return nil
}

// Subscribe waits for the subscription confirmation before returning.
func (r *Redis) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, core.WrapError(core.ErrStreamUnavailable, err)
	}
	sub := &redisSubscription{ps: ps, ch: make(chan PubSubMessage, 256), done: make(chan struct{})}
	go sub.pump()
	return sub, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSubscription struct {
	ps   *redis.PubSub
	ch   chan PubSubMessage
	done chan struct{}
	once sync.Once
}

// pump stops on Close even when nobody drains Messages.
func (s *redisSubscription) pump() {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		select {
		case s.ch <- PubSubMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan PubSubMessage {
	return s.ch
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.ps.Close()
}

func toMessages(streams []redis.XStream) []Message {
	var out []Message
	for _, st := range streams {
		for _, m := range st.Messages {
			values := make(map[string]string, len(m.Values))
			for k, v := range m.Values {
				switch val := v.(type) {
				case string:
					values[k] = val
				default:
					values[k] = fmt.Sprint(val)
				}
			}
			out = append(out, Message{ID: m.ID, Stream: st.Stream, Values: values})
		}
	}
	return out
}

// blockArg maps a non-positive block to go-redis' "no BLOCK argument".
func blockArg(d time.Duration) time.Duration {
	if d <= 0 {
		return -1
	}
	return d
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isNoGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "NOGROUP")
}
