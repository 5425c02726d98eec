// Package binance polls spot tickers from the Binance REST API.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/tickflow/internal/collector"
	"github.com/newthinker/tickflow/internal/core"
)

const (
	baseURL = "https://api.binance.com"
)

// Common quote currencies in order of priority for detection
var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "BTC", "ETH", "BNB"}

// Binance implements collector.Collector for Binance spot markets
type Binance struct {
	client       *http.Client
	baseURL      string
	defaultQuote string

	// For testing: allow clock control
	now func() time.Time
}

// New creates a new Binance collector
func New() *Binance {
	return &Binance{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:      baseURL,
		defaultQuote: "USDT",
		now:          time.Now,
	}
}

func (b *Binance) Name() string {
	return "binance"
}

func (b *Binance) Init(cfg collector.Config) error {
	if cfg.BaseURL != "" {
		b.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return nil
}

// apiSymbol converts "btc", "BTC-USDT" or "btc/usdt" to the exchange form "BTCUSDT".
// A-share codes are rejected.
func (b *Binance) apiSymbol(input string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(input))
	s = strings.NewReplacer("-", "", "/", "", "_", "").Replace(s)
	if s == "" || strings.ContainsAny(s, ".") {
		return "", false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", false
		}
	}
	if n := core.NormalizeSymbol(input); len(n) == 8 && (strings.HasPrefix(n, "sh") || strings.HasPrefix(n, "sz") || strings.HasPrefix(n, "bj")) {
		if _, err := strconv.Atoi(n[2:]); err == nil {
			return "", false
		}
	}

	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s, true
		}
	}
	return s + b.defaultQuote, true
}

// FetchTicks fetches the 24h ticker of every symbol in one request and reports the
// last trade. Turnover is left at zero for the cleaner to reconstruct.
func (b *Binance) FetchTicks(ctx context.Context, symbols []string) ([]core.RawTick, error) {
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if id, ok := b.apiSymbol(s); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	encoded, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encoding symbols: %w", err)
	}
	endpoint := fmt.Sprintf("%s/api/v3/ticker/24hr?symbols=%s", b.baseURL, url.QueryEscape(string(encoded)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching tickers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result []ticker24hr
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	ingested := b.now()
	ticks := make([]core.RawTick, 0, len(result))
	for _, t := range result {
		price, err := strconv.ParseFloat(t.LastPrice, 64)
		if err != nil {
			continue
		}
		qty, _ := strconv.ParseFloat(t.LastQty, 64)

		ts := ingested
		if t.CloseTime > 0 {
			ts = time.UnixMilli(t.CloseTime)
		}

		tick, err := core.NewRawTick(b.Name(), t.Symbol, price, qty, 0, ts, ingested)
		if err != nil {
			continue
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}

// Binance API response types
type ticker24hr struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	LastQty   string `json:"lastQty"`
	Volume    string `json:"volume"`
	CloseTime int64  `json:"closeTime"`
}
