package collector

import (
	"context"
	"time"

	"github.com/newthinker/tickflow/internal/core"
)

// Config holds collector configuration
type Config struct {
	Enabled  bool
	Symbols  []string
	Interval time.Duration
	// BaseURL overrides the source's API endpoint.
	BaseURL string
}

// Collector is a quote source adapter. FetchTicks returns one normalized RawTick per
// symbol the source could quote; symbols it does not know are omitted.
type Collector interface {
	// Metadata
	Name() string

	// Lifecycle
	Init(cfg Config) error

	// Data fetching
	FetchTicks(ctx context.Context, symbols []string) ([]core.RawTick, error)
}
