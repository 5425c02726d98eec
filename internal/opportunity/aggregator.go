// Package opportunity folds strategy signals into one live opportunity per symbol.
package opportunity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/tickflow/internal/core"
	store "github.com/newthinker/tickflow/internal/storage/opportunity"
)

// Aggregator owns the opportunity state machine:
//
//	(none) --signal--> NEW --signal--> TRACKING --signal--> TRACKING
//	NEW/TRACKING --no signal for > expiration--> EXPIRED (terminal)
//
// A signal merges latest-wins: confidence and strength are replaced, the signal is
// appended to the history. At most one live opportunity exists per symbol.
type Aggregator struct {
	mu         sync.Mutex
	expiration time.Duration
	live       map[string]*core.Opportunity
	store      store.Store

	newID func() string
}

// NewAggregator creates an aggregator. Every transition is saved to history.
func NewAggregator(expiration time.Duration, history store.Store) *Aggregator {
	if history == nil {
		history = store.NewMemoryStore(0)
	}
	return &Aggregator{
		expiration: expiration,
		live:       make(map[string]*core.Opportunity),
		store:      history,
		newID:      uuid.NewString,
	}
}

// Ingest applies sig at time now. It returns the updated opportunity and, when the
// symbol's previous opportunity had gone stale, that opportunity in its EXPIRED state.
// A signal identical to the latest one in the history (same strategy, window and
// trigger time) is a redelivery and leaves the opportunity unchanged.
func (a *Aggregator) Ingest(ctx context.Context, sig core.Signal, now time.Time) (core.Opportunity, *core.Opportunity, error) {
	symbol := core.NormalizeSymbol(sig.Symbol)
	if symbol == "" {
		return core.Opportunity{}, nil, core.ErrInvalidSymbol
	}
	sig.Symbol = symbol

	a.mu.Lock()
	defer a.mu.Unlock()

	var expired *core.Opportunity
	if opp, ok := a.live[symbol]; ok && a.isStale(opp, now) {
		e, err := a.expireLocked(ctx, opp)
		if err != nil {
			return core.Opportunity{}, nil, err
		}
		expired = &e
	}

	opp, ok := a.live[symbol]
	switch {
	case !ok:
		opp = &core.Opportunity{
			ID:            a.newID(),
			Symbol:        symbol,
			State:         core.StateNew,
			CreatedAt:     now,
			UpdatedAt:     now,
			Confidence:    sig.Confidence,
			StrengthScore: sig.StrengthScore,
			Notes:         []string{note("opened", sig)},
			Signals:       []core.Signal{sig},
		}
		a.live[symbol] = opp
	case isRedelivery(opp, sig):
		return opp.Clone(), expired, nil
	default:
		opp.State = core.StateTracking
		opp.UpdatedAt = now
		opp.Confidence = sig.Confidence
		opp.StrengthScore = sig.StrengthScore
		opp.Notes = append(opp.Notes, note("updated", sig))
		opp.Signals = append(opp.Signals, sig)
	}

	if err := a.store.Save(ctx, *opp); err != nil {
		return core.Opportunity{}, expired, fmt.Errorf("saving opportunity %s: %w", opp.ID, err)
	}
	return opp.Clone(), expired, nil
}

// Get returns the live opportunity for symbol, expiring it first if it went stale.
func (a *Aggregator) Get(ctx context.Context, symbol string, now time.Time) (core.Opportunity, bool) {
	symbol = core.NormalizeSymbol(symbol)

	a.mu.Lock()
	defer a.mu.Unlock()

	opp, ok := a.live[symbol]
	if !ok {
		return core.Opportunity{}, false
	}
	if a.isStale(opp, now) {
		_, _ = a.expireLocked(ctx, opp)
		return core.Opportunity{}, false
	}
	return opp.Clone(), true
}

// Active returns every live opportunity ordered by symbol, excluding stale ones.
func (a *Aggregator) Active(now time.Time) []core.Opportunity {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]core.Opportunity, 0, len(a.live))
	for _, opp := range a.live {
		if !a.isStale(opp, now) {
			result = append(result, opp.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result
}

// Sweep expires every stale live opportunity and returns them in their EXPIRED state.
func (a *Aggregator) Sweep(ctx context.Context, now time.Time) ([]core.Opportunity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	symbols := make([]string, 0, len(a.live))
	for symbol, opp := range a.live {
		if a.isStale(opp, now) {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)

	expired := make([]core.Opportunity, 0, len(symbols))
	for _, symbol := range symbols {
		e, err := a.expireLocked(ctx, a.live[symbol])
		if err != nil {
			return expired, err
		}
		expired = append(expired, e)
	}
	return expired, nil
}

// LiveCount returns the number of opportunities not yet flipped to EXPIRED.
func (a *Aggregator) LiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// History exposes the opportunity store.
func (a *Aggregator) History() store.Store {
	return a.store
}

func (a *Aggregator) isStale(opp *core.Opportunity, now time.Time) bool {
	return a.expiration > 0 && now.Sub(opp.UpdatedAt) > a.expiration
}

// expireLocked flips opp to EXPIRED and removes it from the live set. UpdatedAt is
// left as the last signal time so history shows when activity stopped.
func (a *Aggregator) expireLocked(ctx context.Context, opp *core.Opportunity) (core.Opportunity, error) {
	delete(a.live, opp.Symbol)
	opp.State = core.StateExpired
	opp.Notes = append(opp.Notes, fmt.Sprintf("expired after %s without signals", a.expiration))
	if err := a.store.Save(ctx, *opp); err != nil {
		return opp.Clone(), fmt.Errorf("saving expired opportunity %s: %w", opp.ID, err)
	}
	return opp.Clone(), nil
}

func isRedelivery(opp *core.Opportunity, sig core.Signal) bool {
	if len(opp.Signals) == 0 {
		return false
	}
	last := opp.Signals[len(opp.Signals)-1]
	return last.Strategy == sig.Strategy &&
		last.Window == sig.Window &&
		last.SignalType == sig.SignalType &&
		last.TriggeredAt.Equal(sig.TriggeredAt)
}

func note(action string, sig core.Signal) string {
	msg := fmt.Sprintf("%s by %s/%s: confidence %.2f, strength %.1f",
		action, sig.Strategy, sig.Window, sig.Confidence, sig.StrengthScore)
	if len(sig.Reasons) > 0 {
		msg += " (" + strings.Join(sig.Reasons, "; ") + ")"
	}
	return msg
}
