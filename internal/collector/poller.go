package collector

import (
	"context"
	"time"

	"github.com/newthinker/tickflow/internal/eventlog"
	"github.com/newthinker/tickflow/internal/metrics"
	"go.uber.org/zap"
)

// PollerConfig wires one collector to the raw stream.
type PollerConfig struct {
	Symbols  []string
	Interval time.Duration
	Stream   string
	MaxLen   int64
}

// Poller fetches ticks on an interval and publishes them to the raw stream.
type Poller struct {
	log       eventlog.Log
	collector Collector
	cfg       PollerConfig
	metrics   *metrics.Registry
	logger    *zap.Logger
}

// NewPoller creates a poller; a non-positive interval defaults to 3s.
func NewPoller(log eventlog.Log, c Collector, cfg PollerConfig, reg *metrics.Registry, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	return &Poller{
		log:       log,
		collector: c,
		cfg:       cfg,
		metrics:   reg,
		logger:    logger.With(zap.String("stage", "collector"), zap.String("source", c.Name())),
	}
}

// Run polls until ctx is cancelled. Fetch failures are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", zap.Int("symbols", len(p.cfg.Symbols)), zap.Duration("interval", p.cfg.Interval))
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll performs one fetch and publishes every tick, returning how many were published.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	ticks, err := p.collector.FetchTicks(ctx, p.cfg.Symbols)
	if err != nil {
		p.metrics.RecordSourceFailure(p.collector.Name())
		return 0, err
	}

	published := 0
	for _, tick := range ticks {
		if _, err := eventlog.AddRecord(ctx, p.log, p.cfg.Stream, tick, p.cfg.MaxLen); err != nil {
			p.metrics.RecordSourceTicks(p.collector.Name(), published)
			return published, err
		}
		published++
	}
	p.metrics.RecordSourceTicks(p.collector.Name(), published)
	p.logger.Debug("ticks published", zap.Int("count", published))
	return published, nil
}
