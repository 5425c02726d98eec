// Package app assembles the pipeline stages from configuration and runs them as one
// process.
package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/newthinker/tickflow/internal/broadcast"
	"github.com/newthinker/tickflow/internal/cleaner"
	"github.com/newthinker/tickflow/internal/collector"
	"github.com/newthinker/tickflow/internal/collector/binance"
	"github.com/newthinker/tickflow/internal/collector/eastmoney"
	"github.com/newthinker/tickflow/internal/config"
	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/eventlog"
	"github.com/newthinker/tickflow/internal/feature"
	"github.com/newthinker/tickflow/internal/metrics"
	"github.com/newthinker/tickflow/internal/notifier"
	"github.com/newthinker/tickflow/internal/notifier/webhook"
	"github.com/newthinker/tickflow/internal/opportunity"
	"github.com/newthinker/tickflow/internal/replicator"
	"github.com/newthinker/tickflow/internal/risk"
	"github.com/newthinker/tickflow/internal/storage/archive"
	"github.com/newthinker/tickflow/internal/storage/checkpoint"
	oppstore "github.com/newthinker/tickflow/internal/storage/opportunity"
	"github.com/newthinker/tickflow/internal/strategy"
	"github.com/newthinker/tickflow/internal/strategy/builtin"
	"github.com/newthinker/tickflow/internal/writer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Stage names accepted by Options.Stages.
const (
	StageCollectors    = "collectors"
	StageCleaner       = "cleaner"
	StageFeatures      = "features"
	StageStrategies    = "strategies"
	StageOpportunities = "opportunities"
	StageRisk          = "risk"
	StageWriter        = "writer"
	StageReplicator    = "replicator"
	StageBroadcast     = "broadcast"
)

// Stages lists every stage in startup order.
var Stages = []string{
	StageCollectors,
	StageCleaner,
	StageFeatures,
	StageStrategies,
	StageOpportunities,
	StageRisk,
	StageWriter,
	StageReplicator,
	StageBroadcast,
}

// writerGroup is the consumer group the batch writer reads and acknowledges under.
const writerGroup = "writer"

// sources maps collector config keys to their constructors.
var sources = map[string]func() collector.Collector{
	"eastmoney": func() collector.Collector { return eastmoney.New() },
	"binance":   func() collector.Collector { return binance.New() },
}

// Options selects what the process runs.
type Options struct {
	// Stages limits the process to the named stages; empty runs all of them.
	Stages []string
}

type runner struct {
	name string
	run  func(ctx context.Context) error
}

// App is the main application orchestrator
type App struct {
	cfg        *config.Config
	log        eventlog.Log
	metrics    *metrics.Registry
	logger     *zap.Logger
	collectors *collector.Registry
	notifiers  *notifier.Registry
	hub        *broadcast.Hub
	replicator *replicator.Replicator
	history    oppstore.Store

	stages  []string
	runners []runner
	closers []func() error

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New builds every selected stage on top of log. Nothing runs until Run.
func New(cfg *config.Config, log eventlog.Log, opts Options, reg *metrics.Registry, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	stages, err := selectStages(opts.Stages)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		log:        log,
		metrics:    reg,
		logger:     logger,
		collectors: collector.NewRegistry(),
		notifiers:  notifier.NewRegistry(),
		stages:     stages,
	}

	builders := map[string]func() error{
		StageCollectors:    a.buildCollectors,
		StageCleaner:       a.buildCleaner,
		StageFeatures:      a.buildFeatures,
		StageStrategies:    a.buildStrategies,
		StageOpportunities: a.buildOpportunities,
		StageRisk:          a.buildRisk,
		StageWriter:        a.buildWriter,
		StageReplicator:    a.buildReplicator,
		StageBroadcast:     a.buildBroadcast,
	}
	for _, name := range stages {
		if err := builders[name](); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("building %s: %w", name, err)
		}
	}
	return a, nil
}

// selectStages validates the requested names and returns them in startup order.
func selectStages(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return append([]string(nil), Stages...), nil
	}
	want := make(map[string]bool, len(requested))
	for _, name := range requested {
		known := false
		for _, s := range Stages {
			if s == name {
				known = true
				break
			}
		}
		if !known {
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown stage %q", name))
		}
		want[name] = true
	}
	var out []string
	for _, s := range Stages {
		if want[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (a *App) consumer(stream string) eventlog.ConsumerConfig {
	return eventlog.ConsumerConfig{
		Stream:  stream,
		Count:   a.cfg.Consumer.Count,
		Block:   a.cfg.Consumer.Block,
		Backoff: a.cfg.Consumer.Backoff,
	}
}

func (a *App) add(name string, run func(ctx context.Context) error) {
	a.runners = append(a.runners, runner{name: name, run: run})
}

func (a *App) buildCollectors() error {
	names := make([]string, 0, len(a.cfg.Collectors))
	for name := range a.cfg.Collectors {
		names = append(names, name)
	}
	sort.Strings(names)

	instances := make(map[string]collector.Collector, len(names))
	for _, name := range names {
		newSource, ok := sources[name]
		if !ok {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown collector %q", name))
		}
		cc := a.cfg.Collectors[name]
		c := newSource()
		if err := c.Init(collector.Config{
			Enabled:  cc.Enabled,
			Symbols:  cc.Symbols,
			Interval: cc.Interval,
			BaseURL:  cc.BaseURL,
		}); err != nil {
			return fmt.Errorf("initializing collector %s: %w", name, err)
		}
		instances[name] = c
		a.collectors.Register(c)
	}

	for _, name := range names {
		cc := a.cfg.Collectors[name]
		if !cc.Enabled {
			continue
		}
		source := instances[name]
		if len(cc.Fallbacks) > 0 {
			chain := []collector.Collector{source}
			for _, fb := range cc.Fallbacks {
				c, ok := instances[fb]
				if !ok {
					return core.WrapError(core.ErrConfigInvalid,
						fmt.Errorf("collector %s: unknown fallback %q", name, fb))
				}
				chain = append(chain, c)
			}
			source = collector.NewChain(chain...)
		}
		p := collector.NewPoller(a.log, source, collector.PollerConfig{
			Symbols:  cc.Symbols,
			Interval: cc.Interval,
			Stream:   a.cfg.Streams.Raw,
			MaxLen:   a.cfg.Streams.MaxLength,
		}, a.metrics, a.logger)
		a.add("collector."+name, p.Run)
	}
	return nil
}

func (a *App) buildCleaner() error {
	svc := cleaner.NewService(a.log, cleaner.Config{
		Consumer: a.consumer(a.cfg.Streams.Raw),
		Output:   a.cfg.Streams.Clean,
		MaxLen:   a.cfg.Streams.MaxLength,
	}, a.metrics, a.logger)
	a.add(StageCleaner, svc.Run)
	return nil
}

func (a *App) buildFeatures() error {
	windows, err := feature.ParseWindows(a.cfg.Features.Windows)
	if err != nil {
		return err
	}
	svc := feature.NewService(a.log, feature.Config{
		Consumer: a.consumer(a.cfg.Streams.Clean),
		Output:   a.cfg.Streams.Features,
		Channel:  a.cfg.Channels.Features,
		MaxLen:   a.cfg.Streams.MaxLength,
	}, windows, a.metrics, a.logger)
	a.add(StageFeatures, svc.Run)
	return nil
}

func (a *App) buildStrategies() error {
	configs := make(map[string]strategy.Config, len(a.cfg.Strategies))
	for name, sc := range a.cfg.Strategies {
		configs[name] = strategy.Config{Enabled: sc.Enabled, Params: sc.Params}
	}
	engine, err := strategy.Load(configs, builtin.Factories(), a.logger)
	if err != nil {
		return err
	}
	svc := strategy.NewService(a.log, strategy.ServiceConfig{
		Consumer: a.consumer(a.cfg.Streams.Features),
		Output:   a.cfg.Streams.Signals,
		MaxLen:   a.cfg.Streams.MaxLength,
	}, engine, a.metrics, a.logger)
	a.add(StageStrategies, svc.Run)
	return nil
}

func (a *App) buildOpportunities() error {
	agg := opportunity.NewAggregator(a.cfg.Opportunity.Expiration, oppstore.NewMemoryStore(a.cfg.Opportunity.HistorySize))
	a.history = agg.History()
	svc := opportunity.NewService(a.log, opportunity.ServiceConfig{
		Consumer:      a.consumer(a.cfg.Streams.Signals),
		Output:        a.cfg.Streams.Opportunities,
		Channel:       a.cfg.Channels.Opportunities,
		MaxLen:        a.cfg.Streams.MaxLength,
		SweepInterval: a.cfg.Opportunity.SweepInterval,
	}, agg, a.metrics, a.logger)
	a.add(StageOpportunities, svc.Run)
	return nil
}

func (a *App) buildRisk() error {
	if n, ok := a.cfg.Notifiers["webhook"]; ok && n.Enabled {
		if err := a.notifiers.Register(webhook.New(n.URL, n.Headers)); err != nil {
			return err
		}
	}
	svc := risk.NewService(a.log, risk.ServiceConfig{
		Consumer: a.consumer(a.cfg.Streams.Opportunities),
		Channel:  a.cfg.Channels.Alerts,
		Rules: risk.Rules{
			MinConfidence:       a.cfg.Risk.MinConfidence,
			MinStrength:         a.cfg.Risk.MinStrength,
			VolatilityThreshold: a.cfg.Risk.VolatilityThreshold,
			DrawdownThreshold:   a.cfg.Risk.DrawdownThreshold,
		},
	}, a.notifiers, a.metrics, a.logger)
	a.add(StageRisk, svc.Run)
	return nil
}

func (a *App) buildWriter() error {
	sc := a.cfg.Storage
	storage, err := archive.Open(sc.Type, sc.Path, archive.S3Config{
		Bucket:    sc.S3.Bucket,
		Endpoint:  sc.S3.Endpoint,
		Region:    sc.S3.Region,
		AccessKey: sc.S3.AccessKey,
		SecretKey: sc.S3.SecretKey,
		Prefix:    sc.S3.Prefix,
	})
	if err != nil {
		return err
	}
	enc, err := writer.NewEncoder(a.cfg.Writer.Format)
	if err != nil {
		return err
	}

	var checkpoints checkpoint.Store
	if dsn := a.cfg.Checkpoint.DSN; dsn != "" {
		store, err := checkpoint.OpenPostgres(dsn)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		checkpoints = store
	} else {
		checkpoints = checkpoint.NewMemoryStore()
	}

	w := writer.New(writer.Config{
		MaxBufferSize: a.cfg.Writer.MaxBufferSize,
		Prefix:        a.cfg.Writer.Prefix,
		Stream:        a.cfg.Streams.Clean,
		Group:         writerGroup,
	}, enc, storage, a.log, checkpoints, a.metrics, a.logger)

	cc := a.consumer(a.cfg.Streams.Clean)
	cc.Group = writerGroup
	svc := writer.NewService(a.log, writer.ServiceConfig{
		Consumer:      cc,
		FlushInterval: a.cfg.Writer.FlushInterval,
	}, w, a.metrics, a.logger)
	a.add(StageWriter, svc.Run)
	return nil
}

func (a *App) buildReplicator() error {
	if len(a.cfg.Replicator.Pipelines) == 0 {
		a.logger.Debug("no replication pipelines configured")
		return nil
	}
	pipelines := make([]replicator.Pipeline, 0, len(a.cfg.Replicator.Pipelines))
	for _, pc := range a.cfg.Replicator.Pipelines {
		p := replicator.Pipeline{Name: pc.Name, Source: pc.Source, Group: pc.Group}
		for _, t := range pc.Targets {
			p.Targets = append(p.Targets, replicator.Target{Stream: t.Stream, MaxLen: t.MaxLen})
		}
		pipelines = append(pipelines, p)
	}
	r, err := replicator.New(a.log, pipelines, a.consumer(""), a.metrics, a.logger)
	if err != nil {
		return err
	}
	a.replicator = r
	a.add(StageReplicator, r.Run)
	return nil
}

func (a *App) buildBroadcast() error {
	if !a.cfg.Broadcast.Enabled {
		a.logger.Debug("broadcast disabled")
		return nil
	}
	a.hub = broadcast.NewHub(a.cfg.Broadcast.QueueSize, a.metrics, a.logger)
	a.closers = append(a.closers, func() error {
		a.hub.Close()
		return nil
	})
	ch := a.cfg.Channels
	relay := broadcast.NewRelay(a.log, []string{ch.Features, ch.Opportunities, ch.Alerts}, a.hub, a.logger)
	a.add(StageBroadcast, relay.Run)
	return nil
}

// Run starts every built stage and blocks until ctx is cancelled or Stop is called.
// In-flight batches finish before Run returns.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app already running")
	}
	a.running = true

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	defer func() {
		cancel()
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	a.logger.Info("tickflow starting",
		zap.Strings("stages", a.stages),
		zap.Int("runners", len(a.runners)),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range a.runners {
		r := r
		g.Go(func() error {
			if err := r.run(gctx); err != nil {
				return fmt.Errorf("%s: %w", r.name, err)
			}
			return nil
		})
	}
	err := g.Wait()
	a.logger.Info("tickflow stopped")
	return err
}

// Stop cancels a running Run.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// Close releases stores and connections opened by New. The event log is owned by the
// caller and is left open.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// Hub returns the broadcast hub, or nil when broadcast is not running.
func (a *App) Hub() *broadcast.Hub {
	return a.hub
}

// Replicator returns the replicator, or nil when no pipelines are configured.
func (a *App) Replicator() *replicator.Replicator {
	return a.replicator
}

// Collectors returns every configured quote source.
func (a *App) Collectors() []collector.Collector {
	return a.collectors.GetAll()
}

// Stats returns application statistics
func (a *App) Stats() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := map[string]any{
		"running":    a.running,
		"stages":     a.stages,
		"runners":    len(a.runners),
		"collectors": len(a.collectors.GetAll()),
		"notifiers":  a.notifiers.Len(),
	}
	if a.hub != nil {
		stats["subscribers"] = a.hub.Len()
	}
	if a.history != nil {
		ctx := context.Background()
		if n, err := a.history.Count(ctx, oppstore.Filter{}); err == nil {
			stats["opportunities"] = n
		}
		if n, err := a.history.Count(ctx, oppstore.Filter{State: core.StateExpired}); err == nil {
			stats["opportunities_expired"] = n
		}
	}
	return stats
}
