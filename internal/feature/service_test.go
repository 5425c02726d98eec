package feature

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/eventlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_PublishesSnapshots(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory()

	sub, err := log.Subscribe(ctx, "features")
	require.NoError(t, err)
	defer sub.Close()

	svc := NewService(log, Config{
		Consumer: eventlog.ConsumerConfig{
			Stream: "market.clean",
			Start:  eventlog.PositionFirst,
			Block:  10 * time.Millisecond,
		},
		Output:  "market.features",
		Channel: "features",
	}, []Window{{Label: "5s", Duration: 5 * time.Second}}, nil, nil)

	for _, tick := range []core.CleanTick{
		tickAt("sh600000", 0, 10, 100),
		tickAt("sh600000", 2*time.Second, 11, 200),
	} {
		_, err := eventlog.AddRecord(ctx, log, "market.clean", tick, 0)
		require.NoError(t, err)
	}

	svc.Consumer().Poll(ctx)
	svc.Consumer().Poll(ctx)

	msgs, err := log.Read(ctx, eventlog.ReadArgs{Stream: "market.features", After: eventlog.PositionFirst})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	var last core.FeatureSnapshot
	require.NoError(t, eventlog.DecodePayload(msgs[1], &last))
	assert.Equal(t, 2, last.SampleSize)
	assert.Equal(t, 300.0, last.VolumeSum)

	select {
	case m := <-sub.Messages():
		var snap core.FeatureSnapshot
		require.NoError(t, json.Unmarshal(m.Payload, &snap))
		assert.Equal(t, "sh600000", snap.Symbol)
	case <-time.After(time.Second):
		t.Fatal("expected a broadcast snapshot")
	}
}
