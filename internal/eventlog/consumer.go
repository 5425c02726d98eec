package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/newthinker/tickflow/internal/core"
	"go.uber.org/zap"
)

// Handler processes a batch in arrival order and returns the IDs whose downstream side
// effect completed. Only those IDs are acknowledged (group mode) or passed by the cursor
// (tail mode). A non-nil error triggers a backoff before the next read.
type Handler interface {
	Handle(ctx context.Context, batch []Message) ([]string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, batch []Message) ([]string, error)

func (f HandlerFunc) Handle(ctx context.Context, batch []Message) ([]string, error) {
	return f(ctx, batch)
}

// PerMessage builds a Handler from a function that processes one entry at a time.
// Entries rejected with core.ErrMalformedPayload are logged and acknowledged so they do
// not stall the group; any other error stops the batch, leaving that entry and the rest
// of the batch unacknowledged.
func PerMessage(logger *zap.Logger, fn func(ctx context.Context, msg Message) error) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return HandlerFunc(func(ctx context.Context, batch []Message) ([]string, error) {
		acks := make([]string, 0, len(batch))
		for _, msg := range batch {
			err := fn(ctx, msg)
			switch {
			case err == nil:
			case errors.Is(err, core.ErrMalformedPayload):
				logger.Warn("skipping malformed message",
					zap.String("stream", msg.Stream),
					zap.String("id", msg.ID),
					zap.Error(err),
				)
			default:
				return acks, err
			}
			acks = append(acks, msg.ID)
		}
		return acks, nil
	})
}

// Observer receives consumer loop events; metrics.Registry implements it.
type Observer interface {
	ObserveBatch(stage string, size int)
	ObserveConsumerError(stage, kind string)
}

// ConsumerConfig configures one consumption loop. An empty Group selects tail mode.
type ConsumerConfig struct {
	Stage    string
	Stream   string
	Group    string
	Consumer string
	// Start is the group creation position or the initial tail cursor.
	Start   string
	Count   int64
	Block   time.Duration
	Backoff time.Duration
}

// Consumer runs the read → process → acknowledge loop for one stream.
type Consumer struct {
	log      Log
	cfg      ConsumerConfig
	handler  Handler
	logger   *zap.Logger
	observer Observer

	ready         bool
	cursor        string
	pendingCursor string
	drainPending  bool
}

// NewConsumer creates a consumer; zero Count, Block and Backoff get defaults.
func NewConsumer(log Log, cfg ConsumerConfig, handler Handler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Count <= 0 {
		cfg.Count = 100
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.Start == "" {
		cfg.Start = PositionLast
	}
	if cfg.Consumer == "" {
		cfg.Consumer = cfg.Stage
	}
	return &Consumer{
		log:     log,
		cfg:     cfg,
		handler: handler,
		logger: logger.With(
			zap.String("stage", cfg.Stage),
			zap.String("stream", cfg.Stream),
			zap.String("group", cfg.Group),
		),
	}
}

// SetObserver attaches an observer for batch and error events.
func (c *Consumer) SetObserver(o Observer) {
	c.observer = o
}

// Cursor returns the tail cursor (tail mode only).
func (c *Consumer) Cursor() string {
	return c.cursor
}

// Run consumes until ctx is cancelled. Cancellation is observed between batches; the
// current batch always finishes. Transient errors never end the loop.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.init(ctx); err != nil {
		return nil
	}
	c.logger.Info("consumer started", zap.String("cursor", c.cursor))

	for ctx.Err() == nil {
		c.Poll(ctx)
	}

	c.logger.Info("consumer stopped")
	return nil
}

// init creates the group or resolves the tail cursor, retrying until ctx is done.
func (c *Consumer) init(ctx context.Context) error {
	for {
		err := c.setup(ctx)
		if err == nil {
			return nil
		}
		c.logger.Warn("consumer setup failed", zap.Error(err))
		c.observeError("setup")
		if !c.sleep(ctx) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) setup(ctx context.Context) error {
	if c.cfg.Group != "" {
		if err := c.log.EnsureGroup(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.Start); err != nil {
			return err
		}
		c.drainPending = true
		c.pendingCursor = PositionFirst
		c.ready = true
		return nil
	}

	if c.cfg.Start != PositionLast {
		c.cursor = c.cfg.Start
		c.ready = true
		return nil
	}
	last, err := c.log.LastID(ctx, c.cfg.Stream)
	if err != nil {
		return err
	}
	c.cursor = last
	c.ready = true
	return nil
}

// Poll performs one read/handle/commit iteration. Exposed so tests can drive the loop
// deterministically; Run calls it repeatedly.
func (c *Consumer) Poll(ctx context.Context) {
	if !c.ready {
		if err := c.setup(ctx); err != nil {
			c.logger.Warn("consumer setup failed", zap.Error(err))
			c.observeError("setup")
			c.sleep(ctx)
			return
		}
	}

	batch, err := c.read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("stream read failed", zap.Error(err))
		c.observeError("read")
		c.sleep(ctx)
		return
	}

	if len(batch) == 0 {
		if c.drainPending {
			c.drainPending = false
			c.pendingCursor = PositionFirst
		}
		return
	}
	if c.drainPending {
		c.pendingCursor = batch[len(batch)-1].ID
	}

	if c.observer != nil {
		c.observer.ObserveBatch(c.cfg.Stage, len(batch))
	}

	// The handler runs to completion on a context that outlives shutdown so an
	// in-flight batch is never cut in half.
	acks, herr := c.handler.Handle(context.WithoutCancel(ctx), batch)
	c.commit(ctx, batch, acks)

	if herr != nil {
		c.logger.Warn("batch handling failed",
			zap.Int("batch", len(batch)),
			zap.Int("acked", len(acks)),
			zap.Error(herr),
		)
		c.observeError("handle")
		if c.cfg.Group != "" {
			// Unacknowledged entries sit in this consumer's pending list; re-read them.
			c.drainPending = true
			c.pendingCursor = PositionFirst
		}
		c.sleep(ctx)
	}
}

func (c *Consumer) read(ctx context.Context) ([]Message, error) {
	if c.cfg.Group == "" {
		return c.log.Read(ctx, ReadArgs{
			Stream: c.cfg.Stream,
			After:  c.cursor,
			Count:  c.cfg.Count,
			Block:  c.cfg.Block,
		})
	}

	start := PositionNew
	block := c.cfg.Block
	if c.drainPending {
		start = c.pendingCursor
		block = 0
	}
	return c.log.ReadGroup(ctx, ReadGroupArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Start:    start,
		Count:    c.cfg.Count,
		Block:    block,
	})
}

func (c *Consumer) commit(ctx context.Context, batch []Message, acks []string) {
	if len(acks) == 0 {
		return
	}

	if c.cfg.Group != "" {
		if _, err := c.log.Ack(context.WithoutCancel(ctx), c.cfg.Stream, c.cfg.Group, acks...); err != nil {
			c.logger.Warn("ack failed", zap.Int("count", len(acks)), zap.Error(err))
			c.observeError("ack")
		}
		return
	}

	acked := make(map[string]struct{}, len(acks))
	for _, id := range acks {
		acked[id] = struct{}{}
	}
	for _, msg := range batch {
		if _, ok := acked[msg.ID]; !ok {
			break
		}
		c.cursor = msg.ID
	}
}

func (c *Consumer) observeError(kind string) {
	if c.observer != nil {
		c.observer.ObserveConsumerError(c.cfg.Stage, kind)
	}
}

// sleep waits for the backoff; it returns false when ctx is done first.
func (c *Consumer) sleep(ctx context.Context) bool {
	timer := time.NewTimer(c.cfg.Backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
