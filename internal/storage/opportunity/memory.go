package opportunity

import (
	"context"
	"fmt"
	"sync"

	"github.com/newthinker/tickflow/internal/core"
)

// MemoryStore is a bounded in-memory opportunity store. When full, the opportunity
// saved least recently is dropped.
type MemoryStore struct {
	opps    []core.Opportunity
	maxSize int
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory store with max capacity.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryStore{
		opps:    make([]core.Opportunity, 0, maxSize),
		maxSize: maxSize,
	}
}

// Save stores a copy of opp, moving an existing version to the newest position.
func (m *MemoryStore) Save(ctx context.Context, opp core.Opportunity) error {
	if opp.ID == "" {
		return fmt.Errorf("opportunity for %s has no id", opp.Symbol)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.opps {
		if m.opps[i].ID == opp.ID {
			m.opps = append(m.opps[:i], m.opps[i+1:]...)
			break
		}
	}
	m.opps = append(m.opps, opp.Clone())

	// Trim if over capacity (remove oldest)
	if len(m.opps) > m.maxSize {
		m.opps = append([]core.Opportunity(nil), m.opps[len(m.opps)-m.maxSize:]...)
	}

	return nil
}

// Count returns the count of matching opportunities.
func (m *MemoryStore) Count(ctx context.Context, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, opp := range m.opps {
		if matches(opp, filter) {
			count++
		}
	}
	return count, nil
}

func matches(opp core.Opportunity, filter Filter) bool {
	if filter.Symbol != "" && opp.Symbol != filter.Symbol {
		return false
	}
	if filter.State != "" && opp.State != filter.State {
		return false
	}
	if !filter.From.IsZero() && opp.UpdatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && opp.UpdatedAt.After(filter.To) {
		return false
	}
	return true
}
