package core

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{" SH600000 ", "sh600000"},
		{"sh600000", "sh600000"},
		{"600000.SH", "sh600000"},
		{"000001.sz", "sz000001"},
		{"600519", "sh600519"},
		{"300750", "sz300750"},
		{"830799", "bj830799"},
		{"510300", "sh510300"},
		{"159915", "sz159915"},
		{"BTCUSDT", "btcusdt"},
		{"   ", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeSymbol(tt.input); got != tt.want {
				t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeSymbol_Idempotent(t *testing.T) {
	inputs := []string{" SH600000 ", "600000.SH", "000001", "BTCUSDT", "aapl"}
	for _, in := range inputs {
		once := NormalizeSymbol(in)
		if twice := NormalizeSymbol(once); twice != once {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNewRawTick(t *testing.T) {
	now := time.Now()
	tick, err := NewRawTick("eastmoney", " SH600000 ", 10.5, 100, 1050, now, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tick.Symbol != "sh600000" {
		t.Errorf("expected normalized symbol, got %q", tick.Symbol)
	}

	_, err = NewRawTick("eastmoney", "   ", 10.5, 100, 1050, now, now)
	if !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("expected ErrInvalidSymbol, got %v", err)
	}
}

func TestOpportunityState_IsLive(t *testing.T) {
	tests := []struct {
		state OpportunityState
		want  bool
	}{
		{StateNew, true},
		{StateTracking, true},
		{StateExpired, false},
	}
	for _, tt := range tests {
		if got := tt.state.IsLive(); got != tt.want {
			t.Errorf("%s.IsLive() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestOpportunity_Clone(t *testing.T) {
	o := Opportunity{Notes: []string{"a"}, Signals: []Signal{{Symbol: "sh600000"}}}
	c := o.Clone()
	c.Notes[0] = "b"
	c.Signals = append(c.Signals, Signal{})

	if o.Notes[0] != "a" {
		t.Error("clone shares notes with original")
	}
	if len(o.Signals) != 1 {
		t.Error("clone shares signals with original")
	}
}

func TestCleanTick_HasFlag(t *testing.T) {
	c := CleanTick{QualityFlags: []string{FlagNegativePrice}}
	if !c.HasFlag(FlagNegativePrice) {
		t.Error("expected negative_price flag")
	}
	if c.HasFlag(FlagTurnoverReconstructed) {
		t.Error("unexpected turnover_reconstructed flag")
	}
}
