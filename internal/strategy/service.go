package strategy

import (
	"context"
	"fmt"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/eventlog"
	"github.com/newthinker/tickflow/internal/metrics"
	"go.uber.org/zap"
)

// ServiceConfig wires the strategy stage.
type ServiceConfig struct {
	Consumer eventlog.ConsumerConfig
	Output   string
	MaxLen   int64
}

// Service consumes feature snapshots and publishes signals.
type Service struct {
	log      eventlog.Log
	cfg      ServiceConfig
	engine   *Engine
	metrics  *metrics.Registry
	logger   *zap.Logger
	consumer *eventlog.Consumer
}

// NewService creates the strategy stage around a loaded engine.
func NewService(log eventlog.Log, cfg ServiceConfig, engine *Engine, reg *metrics.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Consumer.Stage == "" {
		cfg.Consumer.Stage = "strategies"
	}
	if cfg.Consumer.Group == "" {
		cfg.Consumer.Group = "strategies"
	}
	engine.SetMetrics(reg)
	s := &Service{
		log:     log,
		cfg:     cfg,
		engine:  engine,
		metrics: reg,
		logger:  logger.With(zap.String("stage", cfg.Consumer.Stage)),
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
	var snap core.FeatureSnapshot
	if err := eventlog.DecodePayload(msg, &snap); err != nil {
		return err
	}
	if snap.Symbol == "" {
		return core.WrapError(core.ErrMalformedPayload, fmt.Errorf("message %s has no symbol", msg.ID))
	}

	for _, sig := range s.engine.Evaluate(ctx, snap) {
		if _, err := eventlog.AddRecord(ctx, s.log, s.cfg.Output, sig, s.cfg.MaxLen); err != nil {
			return fmt.Errorf("publishing %s signal for %s: %w", sig.Strategy, sig.Symbol, err)
		}
		s.metrics.RecordSignal(sig.Strategy, sig.SignalType)
		s.logger.Info("signal emitted",
			zap.String("strategy", sig.Strategy),
			zap.String("symbol", sig.Symbol),
			zap.String("window", sig.Window),
			zap.Float64("confidence", sig.Confidence),
			zap.Float64("strength", sig.StrengthScore),
		)
	}
	return nil
}
