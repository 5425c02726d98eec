package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/newthinker/tickflow/internal/core"
)

type mockStrategy struct {
	name   string
	signal *core.Signal
	err    error
	panics bool
}

func (m *mockStrategy) Name() string { return m.name }
func (m *mockStrategy) Evaluate(snap core.FeatureSnapshot) (*core.Signal, error) {
	if m.panics {
		panic("boom")
	}
	if m.err != nil || m.signal == nil {
		return nil, m.err
	}
	sig := *m.signal
	return &sig, nil
}

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func testSnapshot() core.FeatureSnapshot {
	return core.FeatureSnapshot{Symbol: "sh600000", Window: "5s", Price: 10.5, ChangePercent: 5}
}

func TestEngine_RegisterAndEvaluate(t *testing.T) {
	engine := NewEngine()
	engine.now = func() time.Time { return fixedNow }

	engine.Register(&mockStrategy{
		name:   "mock",
		signal: &core.Signal{SignalType: "up", Confidence: 0.8},
	})

	signals := engine.Evaluate(context.Background(), testSnapshot())
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}

	sig := signals[0]
	if sig.Strategy != "mock" {
		t.Errorf("expected strategy mock, got %s", sig.Strategy)
	}
	if sig.Symbol != "sh600000" || sig.Window != "5s" {
		t.Errorf("expected symbol and window stamped from snapshot, got %s/%s", sig.Symbol, sig.Window)
	}
	if !sig.TriggeredAt.Equal(fixedNow) {
		t.Errorf("expected default trigger time, got %v", sig.TriggeredAt)
	}
}

func TestEngine_GetAll(t *testing.T) {
	engine := NewEngine()
	engine.Register(&mockStrategy{name: "b"})
	engine.Register(&mockStrategy{name: "a"})

	all := engine.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 strategies, got %d", len(all))
	}
	if all[0].Name() != "a" {
		t.Errorf("expected strategies ordered by name, got %s first", all[0].Name())
	}
}

func TestEngine_FailuresIsolated(t *testing.T) {
	engine := NewEngine()

	engine.Register(&mockStrategy{name: "erroring", err: errors.New("bad input")})
	engine.Register(&mockStrategy{name: "panicking", panics: true})
	engine.Register(&mockStrategy{name: "quiet"})
	engine.Register(&mockStrategy{name: "working", signal: &core.Signal{SignalType: "up"}})

	signals := engine.Evaluate(context.Background(), testSnapshot())
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	if signals[0].Strategy != "working" {
		t.Errorf("expected signal from working, got %s", signals[0].Strategy)
	}
}

func TestEngine_PanicReportedAsStrategyFailure(t *testing.T) {
	engine := NewEngine()

	_, err := engine.evaluateOne(&mockStrategy{name: "p", panics: true}, testSnapshot())
	if !errors.Is(err, core.ErrStrategyFailed) {
		t.Errorf("expected STRATEGY_FAILED, got %v", err)
	}
}

func mockFactory(name string) Factory {
	return func(cfg Config) (Strategy, error) {
		return &mockStrategy{name: name}, nil
	}
}

func TestLoad_FailSoftPerEntry(t *testing.T) {
	factories := map[string]Factory{
		"good": mockFactory("good"),
		"broken": func(cfg Config) (Strategy, error) {
			return nil, errors.New("bad params")
		},
	}
	configs := map[string]Config{
		"good":    {Enabled: true},
		"broken":  {Enabled: true},
		"missing": {Enabled: true},
	}

	engine, err := Load(configs, factories, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all := engine.GetAll()
	if len(all) != 1 || all[0].Name() != "good" {
		t.Errorf("expected only the good strategy, got %d", len(all))
	}
}

func TestLoad_SkipsDisabled(t *testing.T) {
	factories := map[string]Factory{
		"a": mockFactory("a"),
		"b": mockFactory("b"),
	}
	configs := map[string]Config{
		"a": {Enabled: true},
		"b": {Enabled: false},
	}

	engine, err := Load(configs, factories, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := engine.Get("b"); ok {
		t.Error("disabled strategy should not load")
	}
}

func TestLoad_NothingLoaded(t *testing.T) {
	configs := map[string]Config{"missing": {Enabled: true}}

	_, err := Load(configs, map[string]Factory{}, nil)
	if !errors.Is(err, core.ErrNoStrategies) {
		t.Errorf("expected NO_STRATEGIES, got %v", err)
	}
}

func TestFloatParam(t *testing.T) {
	params := map[string]any{
		"f":   2.5,
		"i":   3,
		"s":   "1.5",
		"bad": "x",
		"b":   true,
	}

	tests := []struct {
		key     string
		want    float64
		wantErr bool
	}{
		{"f", 2.5, false},
		{"i", 3, false},
		{"s", 1.5, false},
		{"absent", 7, false},
		{"bad", 0, true},
		{"b", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := FloatParam(params, tt.key, 7)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FloatParam() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("FloatParam() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIntParam_RejectsFraction(t *testing.T) {
	if _, err := IntParam(map[string]any{"n": 2.5}, "n", 1); err == nil {
		t.Error("expected error for fractional value")
	}
	if n, err := IntParam(map[string]any{"n": 4.0}, "n", 1); err != nil || n != 4 {
		t.Errorf("expected 4, got %d (%v)", n, err)
	}
}

func TestSnapshotMetadata(t *testing.T) {
	meta := SnapshotMetadata(core.FeatureSnapshot{
		Price:         9,
		MaxPrice:      10,
		MinPrice:      8,
		ChangePercent: -3,
	})

	if meta["change_percent"] != -3.0 {
		t.Errorf("expected change_percent -3, got %v", meta["change_percent"])
	}
	if meta["volatility_percent"] != 25.0 {
		t.Errorf("expected volatility 25, got %v", meta["volatility_percent"])
	}
	if meta["drawdown_percent"] != 10.0 {
		t.Errorf("expected drawdown 10, got %v", meta["drawdown_percent"])
	}
}
