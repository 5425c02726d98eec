package broadcast

import (
	"sync"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/metrics"
	"go.uber.org/zap"
)

// Conn is the write side of one subscriber.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

type client struct {
	conn  Conn
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

// Hub delivers every broadcast to all subscribers. Each subscriber has its own bounded
// queue and writer goroutine; a subscriber whose queue is full or whose write fails is
// removed without affecting the others.
type Hub struct {
	mu        sync.Mutex
	clients   map[*client]struct{}
	queueSize int
	closed    bool

	metrics *metrics.Registry
	logger  *zap.Logger
}

// NewHub creates a hub with the given per-subscriber queue size.
func NewHub(queueSize int, reg *metrics.Registry, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{
		clients:   make(map[*client]struct{}),
		queueSize: queueSize,
		metrics:   reg,
		logger:    logger.With(zap.String("stage", "broadcast")),
	}
}

// Add registers conn and returns a function that unsubscribes it.
func (h *Hub) Add(conn Conn) (remove func()) {
	c := &client{
		conn:  conn,
		queue: make(chan []byte, h.queueSize),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return func() {}
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetSubscribers(n)
	go h.writeLoop(c)

	return func() { h.remove(c, nil) }
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every subscriber without blocking and returns how many
// subscribers accepted it.
func (h *Hub) Broadcast(msg []byte) int {
	var slow []*client
	delivered := 0

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.queue <- msg:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.remove(c, core.ErrSlowSubscriber)
	}
	return delivered
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c, nil)
	}
}

func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.queue:
			if err := c.conn.WriteMessage(msg); err != nil {
				h.remove(c, err)
				return
			}
		}
	}
}

// remove drops c once. A non-nil cause marks the removal as a failed subscriber.
func (h *Hub) remove(c *client, cause error) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		n := len(h.clients)
		h.mu.Unlock()

		close(c.done)
		_ = c.conn.Close()

		h.metrics.SetSubscribers(n)
		if cause != nil {
			h.metrics.RecordSubscriberDropped()
			h.logger.Warn("subscriber removed", zap.Int("remaining", n), zap.Error(cause))
		}
	})
}
