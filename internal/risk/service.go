package risk

import (
	"context"
	"fmt"

	"github.com/newthinker/tickflow/internal/broadcast"
	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/eventlog"
	"github.com/newthinker/tickflow/internal/metrics"
	"github.com/newthinker/tickflow/internal/notifier"
	"go.uber.org/zap"
)

// ServiceConfig wires the risk stage.
type ServiceConfig struct {
	Consumer eventlog.ConsumerConfig
	Channel  string
	Rules    Rules
}

// Service consumes opportunity updates and broadcasts the alerts they raise. HIGH
// alerts are also delivered through the notifier registry.
type Service struct {
	log       eventlog.Log
	cfg       ServiceConfig
	notifiers *notifier.Registry
	metrics   *metrics.Registry
	logger    *zap.Logger
	consumer  *eventlog.Consumer
}

// NewService creates the risk stage. notifiers may be nil.
func NewService(log eventlog.Log, cfg ServiceConfig, notifiers *notifier.Registry, reg *metrics.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Consumer.Stage == "" {
		cfg.Consumer.Stage = "risk"
	}
	if cfg.Consumer.Group == "" {
		cfg.Consumer.Group = "risk"
	}
	s := &Service{
		log:       log,
		cfg:       cfg,
		notifiers: notifiers,
		metrics:   reg,
		logger:    logger.With(zap.String("stage", cfg.Consumer.Stage)),
	}
	s.consumer = eventlog.NewConsumer(log, cfg.Consumer, eventlog.PerMessage(s.logger, s.handle), logger)
	s.consumer.SetObserver(reg)
	return s
}

// Run consumes opportunities until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.consumer.Run(ctx)
}

// Consumer exposes the underlying loop.
func (s *Service) Consumer() *eventlog.Consumer {
	return s.consumer
}

func (s *Service) handle(ctx context.Context, msg eventlog.Message) error {
	var opp core.Opportunity
	if err := eventlog.DecodePayload(msg, &opp); err != nil {
		return err
	}
	if opp.Symbol == "" {
		return core.WrapError(core.ErrMalformedPayload, fmt.Errorf("message %s: opportunity without symbol", msg.ID))
	}

	alerts := Evaluate(opp, s.cfg.Rules)
	var high []core.RiskAlert
	for _, alert := range alerts {
		if err := s.publish(ctx, alert); err != nil {
			return err
		}
		s.metrics.RecordRiskAlert(alert.RiskType, string(alert.Severity))
		s.logger.Info("risk alert",
			zap.String("symbol", alert.Symbol),
			zap.String("risk_type", alert.RiskType),
			zap.String("severity", string(alert.Severity)),
			zap.String("opportunity_id", alert.OpportunityID),
		)
		if alert.Severity == core.SeverityHigh {
			high = append(high, alert)
		}
	}
	s.notify(ctx, high)
	return nil
}

func (s *Service) publish(ctx context.Context, alert core.RiskAlert) error {
	if s.cfg.Channel == "" {
		return nil
	}
	data, err := broadcast.Encode(broadcast.TypeRiskAlert, alert)
	if err != nil {
		return err
	}
	if err := s.log.Publish(ctx, s.cfg.Channel, data); err != nil {
		return fmt.Errorf("publishing %s alert for %s: %w", alert.RiskType, alert.Symbol, err)
	}
	return nil
}

// notify delivers the HIGH alerts of one opportunity update, as a batch when there
// are several. It is best effort; delivery failures are logged and never block the
// stream.
func (s *Service) notify(ctx context.Context, alerts []core.RiskAlert) {
	if s.notifiers == nil || len(alerts) == 0 {
		return
	}
	var errs map[string]error
	if len(alerts) == 1 {
		errs = s.notifiers.NotifyAll(ctx, alerts[0])
	} else {
		errs = s.notifiers.NotifyAllBatch(ctx, alerts)
	}
	for name, err := range errs {
		s.logger.Warn("notifier failed",
			zap.String("notifier", name),
			zap.String("symbol", alerts[0].Symbol),
			zap.Int("alerts", len(alerts)),
			zap.Error(err),
		)
	}
}
