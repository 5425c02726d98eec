package risk

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/newthinker/tickflow/internal/broadcast"
	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/eventlog"
	"github.com/newthinker/tickflow/internal/notifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	sent    []core.RiskAlert
	batches int
	fail    bool
}

func (r *recordingNotifier) Name() string                   { return "recording" }
func (r *recordingNotifier) Init(cfg notifier.Config) error { return nil }

func (r *recordingNotifier) Send(ctx context.Context, alert core.RiskAlert) error {
	r.sent = append(r.sent, alert)
	if r.fail {
		return errors.New("unreachable")
	}
	return nil
}

func (r *recordingNotifier) SendBatch(ctx context.Context, alerts []core.RiskAlert) error {
	r.batches++
	for _, a := range alerts {
		if err := r.Send(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func newTestService(t *testing.T, n notifier.Notifier) (*Service, *eventlog.Memory) {
	t.Helper()
	return newTestServiceWithRules(t, n, DefaultRules())
}

func newTestServiceWithRules(t *testing.T, n notifier.Notifier, rules Rules) (*Service, *eventlog.Memory) {
	t.Helper()
	log := eventlog.NewMemory()
	reg := notifier.NewRegistry()
	if n != nil {
		require.NoError(t, reg.Register(n))
	}
	svc := NewService(log, ServiceConfig{
		Consumer: eventlog.ConsumerConfig{
			Stream: "market.opportunities",
			Start:  eventlog.PositionFirst,
			Block:  10 * time.Millisecond,
		},
		Channel: "risk_alerts",
		Rules:   rules,
	}, reg, nil, nil)
	return svc, log
}

func drainAlerts(t *testing.T, sub eventlog.Subscription, n int) []core.RiskAlert {
	t.Helper()
	var out []core.RiskAlert
	for len(out) < n {
		select {
		case m := <-sub.Messages():
			var env broadcast.Envelope
			require.NoError(t, json.Unmarshal(m.Payload, &env))
			require.Equal(t, broadcast.TypeRiskAlert, env.Type)
			var alert core.RiskAlert
			require.NoError(t, json.Unmarshal(env.Payload, &alert))
			out = append(out, alert)
		case <-time.After(time.Second):
			t.Fatalf("expected %d alerts, got %d", n, len(out))
		}
	}
	return out
}

func TestService_BroadcastsAlerts(t *testing.T) {
	ctx := context.Background()
	rec := &recordingNotifier{}
	svc, log := newTestService(t, rec)

	sub, err := log.Subscribe(ctx, "risk_alerts")
	require.NoError(t, err)
	defer sub.Close()

	_, err = eventlog.AddRecord(ctx, log, "market.opportunities", opportunity(0.3, 30), 0)
	require.NoError(t, err)

	svc.Consumer().Poll(ctx)
	svc.Consumer().Poll(ctx)

	alerts := drainAlerts(t, sub, 2)
	assert.Equal(t, TypeLowConfidence, alerts[0].RiskType)
	assert.Equal(t, TypeWeakMomentum, alerts[1].RiskType)
	assert.Empty(t, rec.sent, "MEDIUM alerts are not sent to notifiers")

	pending, err := log.Pending(ctx, "market.opportunities", "risk")
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestService_NotifiesHighAlerts(t *testing.T) {
	ctx := context.Background()
	rec := &recordingNotifier{fail: true}
	svc, log := newTestService(t, rec)

	opp := opportunity(0.9, 90, withMeta(map[string]any{"change_percent": -2.5}))
	_, err := eventlog.AddRecord(ctx, log, "market.opportunities", opp, 0)
	require.NoError(t, err)

	svc.Consumer().Poll(ctx)
	svc.Consumer().Poll(ctx)

	require.Len(t, rec.sent, 1)
	assert.Equal(t, TypeNegativeReversal, rec.sent[0].RiskType)
	assert.Zero(t, rec.batches)

	// A failing notifier does not leave the opportunity unacknowledged.
	pending, err := log.Pending(ctx, "market.opportunities", "risk")
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestService_BatchesHighAlertsPerUpdate(t *testing.T) {
	ctx := context.Background()
	rec := &recordingNotifier{}
	rules := DefaultRules()
	rules.DrawdownThreshold = 5
	svc, log := newTestServiceWithRules(t, rec, rules)

	// Low confidence (MEDIUM) plus reversal and drawdown (both HIGH).
	opp := opportunity(0.2, 90, withMeta(map[string]any{"change_percent": -2.5, "drawdown_percent": 8.0}))
	_, err := eventlog.AddRecord(ctx, log, "market.opportunities", opp, 0)
	require.NoError(t, err)

	svc.Consumer().Poll(ctx)
	svc.Consumer().Poll(ctx)

	assert.Equal(t, 1, rec.batches)
	assert.Equal(t, []string{TypeNegativeReversal, TypeDrawdown}, types(rec.sent))
}

func TestService_SkipsMalformed(t *testing.T) {
	ctx := context.Background()
	svc, log := newTestService(t, nil)

	_, err := log.Add(ctx, "market.opportunities", map[string]string{"payload": "{not json"}, eventlog.AddOptions{})
	require.NoError(t, err)
	_, err = eventlog.AddRecord(ctx, log, "market.opportunities", core.Opportunity{ID: "x"}, 0)
	require.NoError(t, err)

	svc.Consumer().Poll(ctx)
	svc.Consumer().Poll(ctx)

	pending, err := log.Pending(ctx, "market.opportunities", "risk")
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}
