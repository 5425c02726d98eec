package collector

import (
	"context"
	"fmt"
	"strings"

	"github.com/newthinker/tickflow/internal/core"
)

// Chain tries its collectors in order and returns the first successful fetch.
type Chain struct {
	collectors []Collector
}

// NewChain creates a fallback chain.
func NewChain(collectors ...Collector) *Chain {
	return &Chain{collectors: collectors}
}

func (c *Chain) Name() string {
	names := make([]string, len(c.collectors))
	for i, col := range c.collectors {
		names[i] = col.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Init passes cfg to every member.
func (c *Chain) Init(cfg Config) error {
	for _, col := range c.collectors {
		if err := col.Init(cfg); err != nil {
			return fmt.Errorf("%s: %w", col.Name(), err)
		}
	}
	return nil
}

// FetchTicks returns ALL_SOURCES_FAILED wrapping the last member's error when every
// member fails.
func (c *Chain) FetchTicks(ctx context.Context, symbols []string) ([]core.RawTick, error) {
	var lastErr error
	for _, col := range c.collectors {
		ticks, err := col.FetchTicks(ctx, symbols)
		if err == nil {
			return ticks, nil
		}
		lastErr = fmt.Errorf("%s: %w", col.Name(), err)
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no sources configured")
	}
	return nil, core.WrapError(core.ErrAllSourcesFailed, lastErr)
}
