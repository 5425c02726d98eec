package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/tickflow/internal/core"
)

type key struct {
	symbol    string
	tradeDate string
}

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[key]Checkpoint

	// For testing: allow clock control
	now func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[key]Checkpoint),
		now:  time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, symbol, tradeDate string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.rows[key{symbol, tradeDate}]
	if !ok {
		return nil, core.WrapError(core.ErrNotFound, fmt.Errorf("checkpoint %s %s", symbol, tradeDate))
	}
	return &cp, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, cp Checkpoint) error {
	if cp.Symbol == "" || cp.TradeDate == "" {
		return fmt.Errorf("checkpoint needs symbol and trade date")
	}
	if cp.Status == "" {
		cp.Status = StatusPending
	}
	cp.UpdatedAt = m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[key{cp.Symbol, cp.TradeDate}] = cp
	return nil
}

func (m *MemoryStore) MarkStatus(ctx context.Context, symbol, tradeDate string, status Status, errMsg string) error {
	if symbol == "" || tradeDate == "" {
		return fmt.Errorf("checkpoint needs symbol and trade date")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{symbol, tradeDate}
	cp, ok := m.rows[k]
	if !ok {
		cp = Checkpoint{Symbol: symbol, TradeDate: tradeDate}
	}
	cp.Status = status
	cp.ErrorMessage = errMsg
	cp.UpdatedAt = m.now()
	m.rows[k] = cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context, filter ListFilter) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Checkpoint
	for _, cp := range m.rows {
		if filter.Symbol != "" && cp.Symbol != filter.Symbol {
			continue
		}
		if filter.Status != "" && cp.Status != filter.Status {
			continue
		}
		result = append(result, cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TradeDate != result[j].TradeDate {
			return result[i].TradeDate > result[j].TradeDate
		}
		return result[i].Symbol < result[j].Symbol
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}
