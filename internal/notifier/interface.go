package notifier

import (
	"context"

	"github.com/newthinker/tickflow/internal/core"
)

// Config holds notifier configuration
type Config struct {
	Type   string         `mapstructure:"type"`
	Params map[string]any `mapstructure:"params"`
}

// Notifier delivers risk alerts to an external sink.
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Init initializes the notifier with configuration
	Init(cfg Config) error

	// Send sends a single alert
	Send(ctx context.Context, alert core.RiskAlert) error

	// SendBatch sends several alerts in one delivery
	SendBatch(ctx context.Context, alerts []core.RiskAlert) error
}
