package opportunity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newthinker/tickflow/internal/broadcast"
	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/eventlog"
	"github.com/newthinker/tickflow/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ServiceConfig wires the opportunity stage.
type ServiceConfig struct {
	Consumer      eventlog.ConsumerConfig
	Output        string
	Channel       string
	MaxLen        int64
	SweepInterval time.Duration
}

// Service consumes signals, publishes every opportunity transition to the
// opportunities stream and broadcasts it on the opportunities channel.
type Service struct {
	log        eventlog.Log
	cfg        ServiceConfig
	aggregator *Aggregator
	metrics    *metrics.Registry
	logger     *zap.Logger
	consumer   *eventlog.Consumer

	// For testing: allow clock control
	now func() time.Time
}

// NewService creates the opportunity stage.
func NewService(log eventlog.Log, cfg ServiceConfig, agg *Aggregator, reg *metrics.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Consumer.Stage == "" {
		cfg.Consumer.Stage = "opportunities"
	}
	if cfg.Consumer.Group == "" {
		cfg.Consumer.Group = "opportunities"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	s := &Service{
		log:        log,
		cfg:        cfg,
		aggregator: agg,
		metrics:    reg,
		logger:     logger.With(zap.String("stage", cfg.Consumer.Stage)),
		now:        time.Now,
	}
	s.consumer = eventlog.NewConsumer(log, cfg.Consumer, eventlog.PerMessage(s.logger, s.handle), logger)
	s.consumer.SetObserver(reg)
	return s
}

// Run consumes signals and sweeps stale opportunities until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.consumer.Run(ctx) })
	g.Go(func() error { return s.sweepLoop(ctx) })
	return g.Wait()
}

// Consumer exposes the underlying loop.
func (s *Service) Consumer() *eventlog.Consumer {
	return s.consumer
}

// Sweep expires stale opportunities and publishes the transitions.
func (s *Service) Sweep(ctx context.Context) error {
	expired, err := s.aggregator.Sweep(ctx, s.now())
	for _, opp := range expired {
		if perr := s.publish(ctx, opp); perr != nil {
			s.logger.Warn("publishing expired opportunity failed",
				zap.String("symbol", opp.Symbol),
				zap.String("id", opp.ID),
				zap.Error(perr),
			)
		}
	}
	s.metrics.SetLiveOpportunities(s.aggregator.LiveCount())
	return err
}

func (s *Service) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sweep(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Service) handle(ctx context.Context, msg eventlog.Message) error {
	var sig core.Signal
	if err := eventlog.DecodePayload(msg, &sig); err != nil {
		return err
	}

	opp, expired, err := s.aggregator.Ingest(ctx, sig, s.now())
	if errors.Is(err, core.ErrInvalidSymbol) {
		return core.WrapError(core.ErrMalformedPayload, fmt.Errorf("message %s: %w", msg.ID, err))
	}
	if err != nil {
		return err
	}

	if expired != nil {
		if err := s.publish(ctx, *expired); err != nil {
			return err
		}
	}
	if err := s.publish(ctx, opp); err != nil {
		return err
	}

	s.metrics.SetLiveOpportunities(s.aggregator.LiveCount())
	s.logger.Info("opportunity updated",
		zap.String("symbol", opp.Symbol),
		zap.String("id", opp.ID),
		zap.String("state", string(opp.State)),
		zap.Int("signals", len(opp.Signals)),
	)
	return nil
}

func (s *Service) publish(ctx context.Context, opp core.Opportunity) error {
	if _, err := eventlog.AddRecord(ctx, s.log, s.cfg.Output, opp, s.cfg.MaxLen); err != nil {
		return fmt.Errorf("publishing opportunity %s: %w", opp.ID, err)
	}
	s.metrics.RecordOpportunity(string(opp.State))

	if s.cfg.Channel == "" {
		return nil
	}
	data, err := broadcast.Encode(broadcast.TypeOpportunity, opp)
	if err != nil {
		return err
	}
	// Broadcast is best effort; the stream entry is the durable record.
	if err := s.log.Publish(ctx, s.cfg.Channel, data); err != nil {
		s.logger.Warn("opportunity broadcast failed", zap.String("symbol", opp.Symbol), zap.Error(err))
	}
	return nil
}
