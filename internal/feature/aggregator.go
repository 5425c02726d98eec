// Package feature maintains per-symbol trailing windows over cleaned ticks and emits a
// FeatureSnapshot per window on every update.
package feature

import (
	"sort"
	"sync"
	"time"

	"github.com/newthinker/tickflow/internal/core"
)

type sample struct {
	ts     time.Time
	price  float64
	volume float64
}

// symbolState holds one buffer per window, each ordered by timestamp.
type symbolState struct {
	mu      sync.Mutex
	latest  time.Time
	buffers [][]sample
}

// Aggregator computes windowed features. Symbols are independent: each has its own
// lock, so callers may shard symbols across goroutines.
type Aggregator struct {
	windows []Window

	mu      sync.RWMutex
	symbols map[string]*symbolState
}

// NewAggregator creates an aggregator over the given windows.
func NewAggregator(windows []Window) *Aggregator {
	return &Aggregator{
		windows: append([]Window(nil), windows...),
		symbols: make(map[string]*symbolState),
	}
}

// Windows returns the configured windows.
func (a *Aggregator) Windows() []Window {
	return append([]Window(nil), a.windows...)
}

// Symbols returns the number of symbols with buffered state.
func (a *Aggregator) Symbols() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.symbols)
}

func (a *Aggregator) state(symbol string) *symbolState {
	a.mu.RLock()
	st, ok := a.symbols[symbol]
	a.mu.RUnlock()
	if ok {
		return st
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok = a.symbols[symbol]; ok {
		return st
	}
	st = &symbolState{buffers: make([][]sample, len(a.windows))}
	a.symbols[symbol] = st
	return st
}

// Update adds tick to every window of its symbol, evicts samples older than
// now − duration, and returns one snapshot per non-empty window. "now" is the newest
// event timestamp seen for the symbol, so a late tick never moves the window backwards
// and one that is already outside it is evicted before aggregation.
//
// A tick identical to a buffered sample (same timestamp, price and volume) is counted
// once, which makes redelivery of the same entry recompute the same snapshot.
func (a *Aggregator) Update(tick core.CleanTick) []core.FeatureSnapshot {
	st := a.state(tick.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if tick.Timestamp.After(st.latest) {
		st.latest = tick.Timestamp
	}
	s := sample{ts: tick.Timestamp, price: tick.Price, volume: tick.Volume}

	snapshots := make([]core.FeatureSnapshot, 0, len(a.windows))
	for i, w := range a.windows {
		buf := insert(st.buffers[i], s)
		buf = evict(buf, st.latest.Add(-w.Duration))
		st.buffers[i] = buf
		if len(buf) == 0 {
			continue
		}
		snapshots = append(snapshots, aggregate(tick.Symbol, w.Label, st.latest, buf))
	}
	return snapshots
}

// insert places s after every sample with a timestamp <= s.ts.
func insert(buf []sample, s sample) []sample {
	i := sort.Search(len(buf), func(i int) bool { return buf[i].ts.After(s.ts) })
	for j := i - 1; j >= 0 && buf[j].ts.Equal(s.ts); j-- {
		if buf[j].price == s.price && buf[j].volume == s.volume {
			return buf
		}
	}
	buf = append(buf, sample{})
	copy(buf[i+1:], buf[i:])
	buf[i] = s
	return buf
}

// evict drops samples with ts < cutoff.
func evict(buf []sample, cutoff time.Time) []sample {
	i := sort.Search(len(buf), func(i int) bool { return !buf[i].ts.Before(cutoff) })
	if i == 0 {
		return buf
	}
	return append(buf[:0], buf[i:]...)
}

func aggregate(symbol, label string, asOf time.Time, buf []sample) core.FeatureSnapshot {
	snap := core.FeatureSnapshot{
		Symbol:     symbol,
		Window:     label,
		AsOf:       asOf,
		Price:      buf[len(buf)-1].price,
		OpenPrice:  buf[0].price,
		MaxPrice:   buf[0].price,
		MinPrice:   buf[0].price,
		SampleSize: len(buf),
	}

	for _, s := range buf {
		snap.VolumeSum += s.volume
		snap.TurnoverSum += s.price * s.volume
		if s.price > snap.MaxPrice {
			snap.MaxPrice = s.price
		}
		if s.price < snap.MinPrice {
			snap.MinPrice = s.price
		}
	}

	if snap.VolumeSum > 0 {
		snap.AvgPrice = snap.TurnoverSum / snap.VolumeSum
	} else {
		snap.AvgPrice = snap.Price
	}
	if snap.OpenPrice != 0 {
		snap.ChangePercent = (snap.Price - snap.OpenPrice) / snap.OpenPrice * 100
	}
	return snap
}
