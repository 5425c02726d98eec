// Package eastmoney polls A-share quotes from the Eastmoney push API.
package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/newthinker/tickflow/internal/collector"
	"github.com/newthinker/tickflow/internal/core"
)

const (
	baseURL   = "https://push2.eastmoney.com"
	quotePath = "/api/qt/ulist.np/get"
)

// Trading days roll over on Beijing time.
var beijing = time.FixedZone("CST", 8*3600)

// dayTotals is the last cumulative volume (lots) and turnover seen for a symbol.
type dayTotals struct {
	day    string
	lots   float64
	amount float64
}

// Eastmoney implements the Eastmoney collector for A-shares
type Eastmoney struct {
	client  *http.Client
	baseURL string
	config  collector.Config

	mu     sync.Mutex
	totals map[string]dayTotals

	// For testing: allow clock control
	now func() time.Time
}

// New creates a new Eastmoney collector
func New() *Eastmoney {
	return &Eastmoney{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
		totals:  make(map[string]dayTotals),
		now:     time.Now,
	}
}

func (e *Eastmoney) Name() string {
	return "eastmoney"
}

func (e *Eastmoney) Init(cfg collector.Config) error {
	e.config = cfg
	if cfg.BaseURL != "" {
		e.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return nil
}

// secid converts sh600519 to 1.600519 for the Eastmoney API.
// Shanghai = 1, Shenzhen and Beijing = 0
func secid(symbol string) (string, bool) {
	s := core.NormalizeSymbol(symbol)
	if len(s) != 8 {
		return "", false
	}
	switch s[:2] {
	case "sh":
		return "1." + s[2:], true
	case "sz", "bj":
		return "0." + s[2:], true
	default:
		return "", false
	}
}

func marketPrefix(market int, code string) string {
	if market == 1 {
		return "sh" + code
	}
	if strings.HasPrefix(code, "4") || strings.HasPrefix(code, "8") {
		return "bj" + code
	}
	return "sz" + code
}

// FetchTicks fetches the latest quote of every A-share symbol in one request.
// Suspended securities (no price) are skipped. The API reports day totals, so each
// tick carries the volume and turnover traded since the previous poll.
func (e *Eastmoney) FetchTicks(ctx context.Context, symbols []string) ([]core.RawTick, error) {
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if id, ok := secid(s); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("fltt", "2")
	q.Set("secids", strings.Join(ids, ","))
	q.Set("fields", "f2,f5,f6,f12,f13,f124")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+quotePath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if result.Data == nil {
		return nil, fmt.Errorf("no data for %d symbols", len(ids))
	}

	ingested := e.now()
	ticks := make([]core.RawTick, 0, len(result.Data.Diff))
	for _, d := range result.Data.Diff {
		price, ok := number(d.F2)
		if !ok {
			continue
		}
		ts := ingested
		if d.F124 > 0 {
			ts = time.Unix(d.F124, 0)
		}

		symbol := marketPrefix(d.F13, d.F12)
		var volume, turnover float64
		if lots, ok := number(d.F5); ok {
			amount, _ := number(d.F6)
			volume, turnover = e.delta(symbol, ts.In(beijing).Format("2006-01-02"), lots, amount)
		}

		tick, err := core.NewRawTick(e.Name(), symbol, price, volume, turnover, ts, ingested)
		if err != nil {
			continue
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}

// delta converts day totals into the shares and turnover traded since the last
// poll. The first poll of a symbol, a new trading day or a total that went backwards
// resets the baseline and yields zero.
func (e *Eastmoney) delta(symbol, day string, lots, amount float64) (volume, turnover float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, ok := e.totals[symbol]
	e.totals[symbol] = dayTotals{day: day, lots: lots, amount: amount}
	if !ok || prev.day != day || lots < prev.lots || amount < prev.amount {
		return 0, 0
	}
	return (lots - prev.lots) * 100, amount - prev.amount
}

// number reads a field that is either numeric or "-" for missing.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Response types
type quoteResponse struct {
	Data *quoteData `json:"data"`
}

type quoteData struct {
	Total int         `json:"total"`
	Diff  []quoteItem `json:"diff"`
}

type quoteItem struct {
	F2   any    `json:"f2"`   // Latest price
	F5   any    `json:"f5"`   // Volume (lots of 100 shares)
	F6   any    `json:"f6"`   // Turnover
	F12  string `json:"f12"`  // Code
	F13  int    `json:"f13"`  // Market (1 = SH)
	F124 int64  `json:"f124"` // Quote time, Unix seconds
}
