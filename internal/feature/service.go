package feature

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/eventlog"
	"github.com/newthinker/tickflow/internal/metrics"
	"go.uber.org/zap"
)

// Config wires the aggregator stage.
type Config struct {
	Consumer eventlog.ConsumerConfig
	Output   string
	Channel  string
	MaxLen   int64
}

// Service consumes cleaned ticks and publishes snapshots to the features stream and
// the features channel.
type Service struct {
	log        eventlog.Log
	cfg        Config
	aggregator *Aggregator
	metrics    *metrics.Registry
	logger     *zap.Logger
	consumer   *eventlog.Consumer
}

// NewService creates the feature stage.
func NewService(log eventlog.Log, cfg Config, windows []Window, reg *metrics.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Consumer.Stage == "" {
		cfg.Consumer.Stage = "features"
	}
	if cfg.Consumer.Group == "" {
		cfg.Consumer.Group = "features"
	}
	s := &Service{
		log:        log,
		cfg:        cfg,
		aggregator: NewAggregator(windows),
		metrics:    reg,
		logger:     logger.With(zap.String("stage", cfg.Consumer.Stage)),
	}
	s.consumer = eventlog.NewConsumer(log, cfg.Consumer, eventlog.PerMessage(s.logger, s.handle), logger)
	s.consumer.SetObserver(reg)
	return s
}

// Run consumes until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.consumer.Run(ctx)
}

// Consumer exposes the underlying loop.
func (s *Service) Consumer() *eventlog.Consumer {
	return s.consumer
}

func (s *Service) handle(ctx context.Context, msg eventlog.Message) error {
	var tick core.CleanTick
	if err := eventlog.DecodePayload(msg, &tick); err != nil {
		return err
	}
	if tick.Symbol == "" {
		return core.WrapError(core.ErrMalformedPayload, fmt.Errorf("message %s has no symbol", msg.ID))
	}

	for _, snap := range s.aggregator.Update(tick) {
		if _, err := eventlog.AddRecord(ctx, s.log, s.cfg.Output, snap, s.cfg.MaxLen); err != nil {
			return fmt.Errorf("publishing %s snapshot for %s: %w", snap.Window, snap.Symbol, err)
		}
		if s.cfg.Channel != "" {
			data, err := json.Marshal(snap)
			if err != nil {
				return err
			}
			// Broadcast is best effort; the stream entry is the durable record.
			if err := s.log.Publish(ctx, s.cfg.Channel, data); err != nil {
				s.logger.Warn("features broadcast failed", zap.String("symbol", snap.Symbol), zap.Error(err))
			}
		}
		s.metrics.RecordSnapshot(snap.Window)
	}
	return nil
}
