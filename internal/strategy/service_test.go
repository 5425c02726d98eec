package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/eventlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_PublishesSignals(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory()

	engine := NewEngine()
	engine.Register(&mockStrategy{
		name:   "mock",
		signal: &core.Signal{SignalType: "up", Confidence: 0.7, TriggeredAt: fixedNow},
	})
	engine.Register(&mockStrategy{name: "panicking", panics: true})

	svc := NewService(log, ServiceConfig{
		Consumer: eventlog.ConsumerConfig{
			Stream: "market.features",
			Start:  eventlog.PositionFirst,
			Block:  10 * time.Millisecond,
		},
		Output: "market.signals",
	}, engine, nil, nil)

	_, err := eventlog.AddRecord(ctx, log, "market.features", testSnapshot(), 0)
	require.NoError(t, err)

	svc.Consumer().Poll(ctx)
	svc.Consumer().Poll(ctx)

	msgs, err := log.Read(ctx, eventlog.ReadArgs{Stream: "market.signals", After: eventlog.PositionFirst})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var sig core.Signal
	require.NoError(t, eventlog.DecodePayload(msgs[0], &sig))
	assert.Equal(t, "mock", sig.Strategy)
	assert.Equal(t, "sh600000", sig.Symbol)
	assert.Equal(t, 0.7, sig.Confidence)

	pending, err := log.Pending(ctx, "market.features", "strategies")
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}
