package eventlog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var errClosed = errors.New("eventlog: closed")

// Memory is an in-process Log. It keeps Redis stream semantics (IDs, consumer groups,
// pending lists, trimming, blocking reads) so stages behave identically against it.
type Memory struct {
	mu      sync.Mutex
	streams map[string]*memStream
	subs    map[string]map[*memSubscription]struct{}
	wake    chan struct{}
	closed  bool

	// For testing: allow clock control
	now func() time.Time
}

type memStream struct {
	entries []Message
	last    streamID
	groups  map[string]*memGroup
}

type memGroup struct {
	lastDelivered streamID
	pending       map[string]*memPending
}

type memPending struct {
	id          streamID
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{
		streams: make(map[string]*memStream),
		subs:    make(map[string]map[*memSubscription]struct{}),
		wake:    make(chan struct{}),
		now:     time.Now,
	}
}

func (m *Memory) stream(name string) *memStream {
	s, ok := m.streams[name]
	if !ok {
		s = &memStream{groups: make(map[string]*memGroup)}
		m.streams[name] = s
	}
	return s
}

func (m *Memory) nextID(s *memStream) streamID {
	ms := m.now().UnixMilli()
	if ms <= s.last.ms {
		return streamID{ms: s.last.ms, seq: s.last.seq + 1}
	}
	return streamID{ms: ms}
}

// Add appends values to stream, trimming the oldest entries beyond opts.MaxLen.
func (m *Memory) Add(ctx context.Context, stream string, values map[string]string, opts AddOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", errClosed
	}

	s := m.stream(stream)
	id := m.nextID(s)
	s.last = id

	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	s.entries = append(s.entries, Message{ID: id.String(), Stream: stream, Values: copied})

	if opts.MaxLen > 0 && int64(len(s.entries)) > opts.MaxLen {
		drop := int64(len(s.entries)) - opts.MaxLen
		s.entries = append([]Message(nil), s.entries[drop:]...)
	}

	close(m.wake)
	m.wake = make(chan struct{})
	return id.String(), nil
}

// Len returns the number of retained entries.
func (m *Memory) Len(ctx context.Context, stream string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[stream]
	if !ok {
		return 0, nil
	}
	return int64(len(s.entries)), nil
}

// LastID returns the newest entry ID, or "0-0" for an empty stream.
func (m *Memory) LastID(ctx context.Context, stream string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[stream]
	if !ok || len(s.entries) == 0 {
		return "0-0", nil
	}
	return s.entries[len(s.entries)-1].ID, nil
}

// EnsureGroup creates the stream and group; an existing group is left untouched.
func (m *Memory) EnsureGroup(ctx context.Context, stream, group, start string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	m.ensureGroupLocked(stream, group, start)
	return nil
}

func (m *Memory) ensureGroupLocked(stream, group, start string) *memGroup {
	s := m.stream(stream)
	if g, ok := s.groups[group]; ok {
		return g
	}

	g := &memGroup{pending: make(map[string]*memPending)}
	switch start {
	case "", PositionLast:
		g.lastDelivered = s.last
	case PositionFirst:
	default:
		if id, err := parseID(start); err == nil {
			g.lastDelivered = id
		}
	}
	s.groups[group] = g
	return g
}

// ReadGroup delivers entries to a consumer. Unknown groups are created at PositionLast.
func (m *Memory) ReadGroup(ctx context.Context, args ReadGroupArgs) ([]Message, error) {
	if args.Start != "" && args.Start != PositionNew {
		return m.readPending(args)
	}

	deadline := time.Now().Add(args.Block)
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, errClosed
		}
		g := m.ensureGroupLocked(args.Stream, args.Group, PositionLast)
		s := m.streams[args.Stream]

		var out []Message
		for _, e := range s.entries {
			id, _ := parseID(e.ID)
			if !g.lastDelivered.less(id) {
				continue
			}
			out = append(out, copyMessage(e))
			g.lastDelivered = id
			g.pending[e.ID] = &memPending{id: id, consumer: args.Consumer, deliveredAt: m.now(), deliveries: 1}
			if args.Count > 0 && int64(len(out)) >= args.Count {
				break
			}
		}
		wake := m.wake
		m.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}
		if !m.wait(ctx, wake, deadline) {
			return nil, ctx.Err()
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
	}
}

// readPending re-delivers this consumer's unacknowledged entries with IDs after Start.
func (m *Memory) readPending(args ReadGroupArgs) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errClosed
	}

	g := m.ensureGroupLocked(args.Stream, args.Group, PositionLast)
	s := m.streams[args.Stream]
	after, err := parseID(args.Start)
	if err != nil {
		return nil, err
	}

	var out []Message
	for _, e := range s.entries {
		p, ok := g.pending[e.ID]
		if !ok || p.consumer != args.Consumer || !after.less(p.id) {
			continue
		}
		p.deliveries++
		p.deliveredAt = m.now()
		out = append(out, copyMessage(e))
		if args.Count > 0 && int64(len(out)) >= args.Count {
			break
		}
	}
	return out, nil
}

// Read returns entries strictly after args.After, blocking up to args.Block.
func (m *Memory) Read(ctx context.Context, args ReadArgs) ([]Message, error) {
	deadline := time.Now().Add(args.Block)
	after := args.After
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, errClosed
		}
		s := m.stream(args.Stream)
		if after == PositionLast {
			after = s.last.String()
		}
		from, err := parseID(after)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}

		var out []Message
		for _, e := range s.entries {
			id, _ := parseID(e.ID)
			if !from.less(id) {
				continue
			}
			out = append(out, copyMessage(e))
			if args.Count > 0 && int64(len(out)) >= args.Count {
				break
			}
		}
		wake := m.wake
		m.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}
		if !m.wait(ctx, wake, deadline) {
			return nil, ctx.Err()
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
	}
}

// wait blocks until the log changes, the deadline passes, or ctx is done. It returns
// false only when ctx is done.
func (m *Memory) wait(ctx context.Context, wake <-chan struct{}, deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-wake:
	case <-timer.C:
	}
	return true
}

// Ack removes ids from the group's pending list and returns how many were pending.
func (m *Memory) Ack(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[stream]
	if !ok {
		return 0, nil
	}
	g, ok := s.groups[group]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, id := range ids {
		if _, ok := g.pending[id]; ok {
			delete(g.pending, id)
			n++
		}
	}
	return n, nil
}

// Pending summarizes the group's unacknowledged entries.
func (m *Memory) Pending(ctx context.Context, stream, group string) (PendingSummary, error) {
	entries, err := m.PendingEntries(ctx, stream, group, 0)
	if err != nil {
		return PendingSummary{}, err
	}
	summary := PendingSummary{Consumers: make(map[string]int64)}
	for _, e := range entries {
		summary.Count++
		summary.Consumers[e.Consumer]++
	}
	if len(entries) > 0 {
		summary.Lower = entries[0].ID
		summary.Higher = entries[len(entries)-1].ID
	}
	return summary, nil
}

// PendingEntries lists unacknowledged entries in ID order; count <= 0 lists all.
func (m *Memory) PendingEntries(ctx context.Context, stream, group string, count int64) ([]PendingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[stream]
	if !ok {
		return nil, nil
	}
	g, ok := s.groups[group]
	if !ok {
		return nil, nil
	}

	pending := make([]*memPending, 0, len(g.pending))
	for _, p := range g.pending {
		pending = append(pending, p)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].id.less(pending[j].id) })

	now := m.now()
	var out []PendingEntry
	for _, p := range pending {
		out = append(out, PendingEntry{
			ID:         p.id.String(),
			Consumer:   p.consumer,
			Idle:       now.Sub(p.deliveredAt),
			Deliveries: p.deliveries,
		})
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

// Publish delivers payload to current subscribers. Subscribers whose buffer is full miss
// the message; pub/sub is not durable.
func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	msg := PubSubMessage{Channel: channel, Payload: append([]byte(nil), payload...)}
	for sub := range m.subs[channel] {
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscription on channels.
func (m *Memory) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errClosed
	}
	sub := &memSubscription{log: m, channels: channels, ch: make(chan PubSubMessage, 256)}
	for _, c := range channels {
		if m.subs[c] == nil {
			m.subs[c] = make(map[*memSubscription]struct{})
		}
		m.subs[c][sub] = struct{}{}
	}
	return sub, nil
}

// Close wakes blocked readers and rejects further calls.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.wake)
	for _, subs := range m.subs {
		for sub := range subs {
			sub.closeLocked()
		}
	}
	m.subs = make(map[string]map[*memSubscription]struct{})
	return nil
}

type memSubscription struct {
	log      *Memory
	channels []string
	ch       chan PubSubMessage
	once     sync.Once
}

func (s *memSubscription) Messages() <-chan PubSubMessage {
	return s.ch
}

func (s *memSubscription) Close() error {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	for _, c := range s.channels {
		delete(s.log.subs[c], s)
	}
	s.closeLocked()
	return nil
}

func (s *memSubscription) closeLocked() {
	s.once.Do(func() { close(s.ch) })
}

func copyMessage(m Message) Message {
	values := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		values[k] = v
	}
	return Message{ID: m.ID, Stream: m.Stream, Values: values}
}
