// Package cleaner repairs raw ticks and republishes them on the clean stream.
package cleaner

import (
	"context"
	"fmt"
	"time"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/eventlog"
	"github.com/newthinker/tickflow/internal/metrics"
	"go.uber.org/zap"
)

// Clean applies the repair rules in order. Only price, volume and turnover may change.
func Clean(raw core.RawTick, now time.Time) core.CleanTick {
	out := core.CleanTick{
		RawTick:      raw,
		CleanedAt:    now,
		QualityFlags: []string{},
	}

	if out.Price < 0 {
		out.Price = 0
		out.QualityFlags = append(out.QualityFlags, core.FlagNegativePrice)
	}
	if out.Volume < 0 {
		out.Volume = 0
		out.QualityFlags = append(out.QualityFlags, core.FlagNegativeVolume)
	}
	if out.Turnover < 0 {
		out.Turnover = 0
		out.QualityFlags = append(out.QualityFlags, core.FlagNegativeTurnover)
	}
	if out.Turnover == 0 {
		out.Turnover = out.Price * out.Volume
		out.QualityFlags = append(out.QualityFlags, core.FlagTurnoverReconstructed)
	}

	return out
}

// Config wires the cleaner to its input and output streams.
type Config struct {
	Consumer eventlog.ConsumerConfig
	Output   string
	MaxLen   int64
}

// Service consumes raw ticks and publishes cleaned ticks.
type Service struct {
	log      eventlog.Log
	cfg      Config
	metrics  *metrics.Registry
	logger   *zap.Logger
	consumer *eventlog.Consumer

	// For testing: allow clock control
	now func() time.Time
}

// NewService creates the cleaner stage.
func NewService(log eventlog.Log, cfg Config, reg *metrics.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Consumer.Stage == "" {
		cfg.Consumer.Stage = "cleaner"
	}
	if cfg.Consumer.Group == "" {
		cfg.Consumer.Group = "cleaner"
	}
	s := &Service{
		log:     log,
		cfg:     cfg,
		metrics: reg,
		logger:  logger.With(zap.String("stage", cfg.Consumer.Stage)),
		now:     time.Now,
	}
	s.consumer = eventlog.NewConsumer(log, cfg.Consumer, eventlog.PerMessage(s.logger, s.handle), logger)
	s.consumer.SetObserver(reg)
	return s
}

// Run consumes until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.consumer.Run(ctx)
}

// Consumer exposes the underlying loop so callers can poll it directly.
func (s *Service) Consumer() *eventlog.Consumer {
	return s.consumer
}

func (s *Service) handle(ctx context.Context, msg eventlog.Message) error {
	var raw core.RawTick
	if err := eventlog.DecodePayload(msg, &raw); err != nil {
		return err
	}

	symbol := core.NormalizeSymbol(raw.Symbol)
	if symbol == "" {
		return core.WrapError(core.ErrMalformedPayload, fmt.Errorf("message %s: %w", msg.ID, core.ErrInvalidSymbol))
	}
	raw.Symbol = symbol

	clean := Clean(raw, s.now())
	for _, flag := range clean.QualityFlags {
		s.metrics.RecordQualityFlag(flag)
	}

	if _, err := eventlog.AddRecord(ctx, s.log, s.cfg.Output, clean, s.cfg.MaxLen); err != nil {
		return fmt.Errorf("publishing clean tick %s: %w", symbol, err)
	}

	s.logger.Debug("tick cleaned",
		zap.String("symbol", symbol),
		zap.String("id", msg.ID),
		zap.Strings("flags", clean.QualityFlags),
	)
	return nil
}
