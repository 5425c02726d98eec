package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/newthinker/tickflow/internal/collector"
)

func TestBinance_ImplementsCollector(t *testing.T) {
	var _ collector.Collector = (*Binance)(nil)
}

func TestBinance_Name(t *testing.T) {
	b := New()
	if b.Name() != "binance" {
		t.Errorf("expected 'binance', got '%s'", b.Name())
	}
}

func TestBinance_APISymbol(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"btc", "BTCUSDT", true},
		{"BTC-USDT", "BTCUSDT", true},
		{"eth/btc", "ETHBTC", true},
		{"btcusdt", "BTCUSDT", true},
		{"sh600000", "", false},
		{"600000.SH", "", false},
		{"  ", "", false},
	}

	b := New()
	for _, tc := range tests {
		got, ok := b.apiSymbol(tc.input)
		if got != tc.want || ok != tc.ok {
			t.Errorf("apiSymbol(%s) = (%s, %v), want (%s, %v)", tc.input, got, ok, tc.want, tc.ok)
		}
	}
}

func TestBinance_FetchTicks(t *testing.T) {
	var gotSymbols []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/24hr" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.Unmarshal([]byte(r.URL.Query().Get("symbols")), &gotSymbols)
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","lastPrice":"65000.50","lastQty":"0.25","volume":"1234.5","closeTime":1772415000123},
			{"symbol":"ETHUSDT","lastPrice":"bad","lastQty":"1","volume":"1","closeTime":0}
		]`))
	}))
	defer server.Close()

	b := New()
	b.Init(collector.Config{BaseURL: server.URL})
	fixed := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	ticks, err := b.FetchTicks(context.Background(), []string{"btc", "ETHUSDT", "sh600000"})
	if err != nil {
		t.Fatalf("FetchTicks: %v", err)
	}

	if len(gotSymbols) != 2 || gotSymbols[0] != "BTCUSDT" || gotSymbols[1] != "ETHUSDT" {
		t.Errorf("unexpected symbols query %v", gotSymbols)
	}
	if len(ticks) != 1 {
		t.Fatalf("expected 1 tick, got %d", len(ticks))
	}

	tick := ticks[0]
	if tick.Symbol != "btcusdt" || tick.Price != 65000.50 || tick.Volume != 0.25 || tick.Turnover != 0 {
		t.Errorf("unexpected tick %+v", tick)
	}
	if !tick.Timestamp.Equal(time.UnixMilli(1772415000123)) {
		t.Errorf("unexpected timestamp %v", tick.Timestamp)
	}
}

func TestBinance_FetchTicks_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	b := New()
	b.Init(collector.Config{BaseURL: server.URL})

	if _, err := b.FetchTicks(context.Background(), []string{"btc"}); err == nil {
		t.Error("expected error for rate-limited response")
	}
}

