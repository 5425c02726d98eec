package risk

import (
	"testing"
	"time"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func opportunity(conf, strength float64, signals ...core.Signal) core.Opportunity {
	return core.Opportunity{
		ID:            "opp-1",
		Symbol:        "sh600000",
		State:         core.StateTracking,
		CreatedAt:     t0,
		UpdatedAt:     t0.Add(time.Minute),
		Confidence:    conf,
		StrengthScore: strength,
		Signals:       signals,
	}
}

func withMeta(meta map[string]any) core.Signal {
	return core.Signal{Strategy: "rapid_rise", Symbol: "sh600000", Window: "5s", Metadata: meta}
}

func types(alerts []core.RiskAlert) []string {
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.RiskType)
	}
	return out
}

func TestEvaluate_LowConfidence(t *testing.T) {
	alerts := Evaluate(opportunity(0.3, 80), DefaultRules())

	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, TypeLowConfidence, a.RiskType)
	assert.Equal(t, core.SeverityMedium, a.Severity)
	assert.Equal(t, "sh600000", a.Symbol)
	assert.Equal(t, "opp-1", a.OpportunityID)
	assert.Equal(t, t0.Add(time.Minute), a.TriggeredAt)
}

func TestEvaluate_IndependentAlerts(t *testing.T) {
	alerts := Evaluate(opportunity(0.3, 30), DefaultRules())

	assert.Equal(t, []string{TypeLowConfidence, TypeWeakMomentum}, types(alerts))
}

func TestEvaluate_Thresholds(t *testing.T) {
	tests := []struct {
		name     string
		conf     float64
		strength float64
		want     []string
	}{
		{"healthy", 0.8, 70, []string{}},
		{"confidence at cutoff", 0.4, 70, []string{}},
		{"strength at cutoff", 0.8, 40, []string{}},
		{"weak momentum", 0.8, 39.9, []string{TypeWeakMomentum}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, types(Evaluate(opportunity(tt.conf, tt.strength), DefaultRules())))
		})
	}
}

func TestEvaluate_NegativeReversal(t *testing.T) {
	opp := opportunity(0.9, 90,
		withMeta(map[string]any{"change_percent": 3.0}),
		withMeta(map[string]any{"change_percent": -1.5}),
		withMeta(map[string]any{"change_percent": -2.0}),
	)

	alerts := Evaluate(opp, DefaultRules())

	require.Len(t, alerts, 1)
	assert.Equal(t, TypeNegativeReversal, alerts[0].RiskType)
	assert.Equal(t, core.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, -1.5, alerts[0].Metadata["change_percent"])
}

func TestEvaluate_MissingOrNonNumericChange(t *testing.T) {
	opp := opportunity(0.9, 90,
		withMeta(nil),
		withMeta(map[string]any{"change_percent": "n/a"}),
		withMeta(map[string]any{"change_percent": true}),
	)

	assert.Empty(t, Evaluate(opp, DefaultRules()))
}

func TestEvaluate_NumericStringMetadata(t *testing.T) {
	opp := opportunity(0.9, 90,
		withMeta(map[string]any{"change_percent": " -1.5", "drawdown_percent": "6"}),
	)
	rules := DefaultRules()
	rules.DrawdownThreshold = 5

	alerts := Evaluate(opp, rules)

	assert.Equal(t, []string{TypeNegativeReversal, TypeDrawdown}, types(alerts))
	assert.Equal(t, -1.5, alerts[0].Metadata["change_percent"])
	assert.Equal(t, 6.0, alerts[1].Metadata["drawdown_percent"])
}

func TestEvaluate_VolatilityAndDrawdown(t *testing.T) {
	rules := DefaultRules()
	rules.VolatilityThreshold = 2
	rules.DrawdownThreshold = 5

	opp := opportunity(0.9, 90,
		withMeta(map[string]any{"volatility_percent": 10.0, "drawdown_percent": 10.0}),
		withMeta(map[string]any{"volatility_percent": 2.0, "drawdown_percent": 6}),
	)

	alerts := Evaluate(opp, rules)

	assert.Equal(t, []string{TypeHighVolatility, TypeDrawdown}, types(alerts))
	assert.Equal(t, core.SeverityMedium, alerts[0].Severity)
	assert.Equal(t, core.SeverityHigh, alerts[1].Severity)
}

func TestEvaluate_OnlyLatestSignalForVolatility(t *testing.T) {
	rules := DefaultRules()
	rules.VolatilityThreshold = 2

	opp := opportunity(0.9, 90,
		withMeta(map[string]any{"volatility_percent": 10.0}),
		withMeta(map[string]any{"volatility_percent": 1.0}),
	)

	assert.Empty(t, Evaluate(opp, rules))
}

func TestEvaluate_ZeroThresholdDisablesRule(t *testing.T) {
	opp := opportunity(0.9, 90, withMeta(map[string]any{"volatility_percent": 50.0, "drawdown_percent": 50.0}))

	assert.Empty(t, Evaluate(opp, DefaultRules()))
}

func TestEvaluate_ExpiredProducesNothing(t *testing.T) {
	opp := opportunity(0.1, 10, withMeta(map[string]any{"change_percent": -3.0}))
	opp.State = core.StateExpired

	assert.Empty(t, Evaluate(opp, DefaultRules()))
}

func TestEvaluate_DoesNotMutateOpportunity(t *testing.T) {
	meta := map[string]any{"change_percent": -3.0}
	opp := opportunity(0.1, 10, withMeta(meta))

	Evaluate(opp, DefaultRules())

	assert.Equal(t, 0.1, opp.Confidence)
	assert.Len(t, meta, 1)
}
