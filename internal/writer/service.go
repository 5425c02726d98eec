package writer

import (
	"context"
	"time"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/eventlog"
	"github.com/newthinker/tickflow/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ServiceConfig wires the writer stage.
type ServiceConfig struct {
	Consumer      eventlog.ConsumerConfig
	FlushInterval time.Duration
}

// Service feeds the clean stream into a Writer. Entries are acknowledged by the
// writer after their batch is stored, not by the consumer loop.
type Service struct {
	cfg      ServiceConfig
	writer   *Writer
	logger   *zap.Logger
	consumer *eventlog.Consumer
}

// NewService creates the writer stage. The writer must acknowledge on the same
// stream and group as cfg.Consumer.
func NewService(log eventlog.Log, cfg ServiceConfig, w *Writer, reg *metrics.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Consumer.Stage == "" {
		cfg.Consumer.Stage = "writer"
	}
	if cfg.Consumer.Group == "" {
		cfg.Consumer.Group = "writer"
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	s := &Service{
		cfg:    cfg,
		writer: w,
		logger: logger.With(zap.String("stage", cfg.Consumer.Stage)),
	}
	s.consumer = eventlog.NewConsumer(log, cfg.Consumer, eventlog.HandlerFunc(s.handle), logger)
	s.consumer.SetObserver(reg)
	return s
}

// Run consumes and flushes on the interval until ctx is cancelled, then flushes
// whatever is left.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.consumer.Run(gctx) })
	g.Go(func() error { return s.flushLoop(gctx) })
	err := g.Wait()

	if ferr := s.writer.Flush(context.WithoutCancel(ctx)); ferr != nil {
		s.logger.Error("final flush failed", zap.Int("buffered", s.writer.Buffered()), zap.Error(ferr))
	}
	return err
}

// Consumer exposes the underlying loop.
func (s *Service) Consumer() *eventlog.Consumer {
	return s.consumer
}

func (s *Service) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.writer.Flush(ctx); err != nil {
				s.logger.Warn("timed flush failed", zap.Error(err))
			}
		}
	}
}

// handle buffers every decodable entry. Only malformed entries are returned for
// acknowledgement; the rest are acknowledged by the writer after a flush. A flush
// failure stops the batch so the consumer backs off and re-reads pending entries,
// which the writer deduplicates.
func (s *Service) handle(ctx context.Context, batch []eventlog.Message) ([]string, error) {
	var acks []string
	for _, msg := range batch {
		var tick core.CleanTick
		if err := eventlog.DecodePayload(msg, &tick); err != nil {
			s.logger.Warn("skipping malformed message", zap.String("id", msg.ID), zap.Error(err))
			acks = append(acks, msg.ID)
			continue
		}
		if err := s.writer.Add(ctx, tick, msg.ID); err != nil {
			return acks, err
		}
	}
	return acks, nil
}
