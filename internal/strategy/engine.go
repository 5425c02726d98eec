package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/metrics"
	"go.uber.org/zap"
)

// Engine manages and runs strategies
type Engine struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	logger     *zap.Logger
	metrics    *metrics.Registry

	// For testing: allow clock control
	now func() time.Time
}

// NewEngine creates a new strategy engine
func NewEngine(logger ...*zap.Logger) *Engine {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	return &Engine{
		strategies: make(map[string]Strategy),
		logger:     l,
		now:        time.Now,
	}
}

// SetMetrics attaches a metrics registry.
func (e *Engine) SetMetrics(reg *metrics.Registry) {
	e.metrics = reg
}

// Register adds a strategy to the engine
func (e *Engine) Register(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[s.Name()] = s
}

// Get retrieves a strategy by name
func (e *Engine) Get(name string) (Strategy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.strategies[name]
	return s, ok
}

// GetAll returns all registered strategies ordered by name.
func (e *Engine) GetAll() []Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Evaluate runs every strategy on snap. A strategy that errors or panics is logged and
// contributes nothing; the others still run. Signals get the strategy name, the
// snapshot window and symbol, and a trigger time when the strategy left them empty.
func (e *Engine) Evaluate(ctx context.Context, snap core.FeatureSnapshot) []core.Signal {
	var signals []core.Signal

	for _, s := range e.GetAll() {
		sig, err := e.evaluateOne(s, snap)
		if err != nil {
			e.logger.Warn("strategy evaluation failed",
				zap.String("strategy", s.Name()),
				zap.String("symbol", snap.Symbol),
				zap.String("window", snap.Window),
				zap.Error(err),
			)
			e.metrics.RecordStrategyFailure(s.Name())
			continue
		}
		if sig == nil {
			continue
		}

		sig.Strategy = s.Name()
		if sig.Symbol == "" {
			sig.Symbol = snap.Symbol
		}
		if sig.Window == "" {
			sig.Window = snap.Window
		}
		if sig.TriggeredAt.IsZero() {
			sig.TriggeredAt = e.now()
		}
		signals = append(signals, *sig)
	}

	return signals
}

func (e *Engine) evaluateOne(s Strategy, snap core.FeatureSnapshot) (sig *core.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig = nil
			err = core.WrapError(core.ErrStrategyFailed, fmt.Errorf("panic: %v", r))
		}
	}()
	return s.Evaluate(snap)
}

// Load builds an engine from configured strategies. Entries that are disabled, unknown,
// or whose factory fails are logged and skipped; it fails only when nothing loads.
func Load(configs map[string]Config, factories map[string]Factory, logger *zap.Logger) (*Engine, error) {
	engine := NewEngine(logger)

	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := configs[name]
		if !cfg.Enabled {
			continue
		}
		factory, ok := factories[name]
		if !ok {
			engine.logger.Warn("unknown strategy", zap.String("strategy", name))
			continue
		}
		s, err := factory(cfg)
		if err != nil {
			engine.logger.Warn("strategy failed to load", zap.String("strategy", name), zap.Error(err))
			continue
		}
		engine.Register(s)
		engine.logger.Info("strategy loaded", zap.String("strategy", s.Name()))
	}

	if len(engine.GetAll()) == 0 {
		return nil, core.ErrNoStrategies
	}
	return engine, nil
}
