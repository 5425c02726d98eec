package opportunity

import (
	"context"
	"time"

	"github.com/newthinker/tickflow/internal/core"
)

// Store keeps opportunity history, including expired opportunities.
type Store interface {
	// Save inserts the opportunity or replaces the stored version with the same ID.
	Save(ctx context.Context, opp core.Opportunity) error

	// Count returns the number of opportunities matching the filter.
	Count(ctx context.Context, filter Filter) (int, error)
}

// Filter narrows Count. From and To bound UpdatedAt; zero values match everything.
type Filter struct {
	Symbol string
	State  core.OpportunityState
	From   time.Time
	To     time.Time
}
