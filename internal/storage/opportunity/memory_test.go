package opportunity

import (
	"context"
	"testing"
	"time"

	"github.com/newthinker/tickflow/internal/core"
)

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func opp(id, symbol string, state core.OpportunityState, updated time.Time) core.Opportunity {
	return core.Opportunity{ID: id, Symbol: symbol, State: state, CreatedAt: updated, UpdatedAt: updated}
}

func count(t *testing.T, store *MemoryStore, filter Filter) int {
	t.Helper()
	n, err := store.Count(context.Background(), filter)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	return n
}

func TestMemoryStore_SaveAndCount(t *testing.T) {
	store := NewMemoryStore(100)
	ctx := context.Background()

	if err := store.Save(ctx, opp("o1", "sh600000", core.StateNew, now)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if n := count(t, store, Filter{Symbol: "sh600000"}); n != 1 {
		t.Errorf("expected 1 opportunity, got %d", n)
	}
	if n := count(t, store, Filter{Symbol: "sz000001"}); n != 0 {
		t.Errorf("expected 0 for another symbol, got %d", n)
	}
}

func TestMemoryStore_SaveReplacesByID(t *testing.T) {
	store := NewMemoryStore(100)
	ctx := context.Background()

	store.Save(ctx, opp("o1", "sh600000", core.StateNew, now))
	store.Save(ctx, opp("o2", "sz000001", core.StateNew, now))
	store.Save(ctx, opp("o1", "sh600000", core.StateTracking, now.Add(time.Minute)))

	if n := count(t, store, Filter{}); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
	if n := count(t, store, Filter{State: core.StateTracking}); n != 1 {
		t.Errorf("expected the replaced o1 to be tracking, got %d", n)
	}
}

func TestMemoryStore_RejectsMissingID(t *testing.T) {
	store := NewMemoryStore(10)
	if err := store.Save(context.Background(), core.Opportunity{Symbol: "sh600000"}); err == nil {
		t.Error("expected error for opportunity without id")
	}
}

func TestMemoryStore_CountByState(t *testing.T) {
	store := NewMemoryStore(100)
	ctx := context.Background()

	store.Save(ctx, opp("o1", "sh600000", core.StateExpired, now))
	store.Save(ctx, opp("o2", "sh600000", core.StateTracking, now))

	if n := count(t, store, Filter{State: core.StateExpired}); n != 1 {
		t.Errorf("expected 1 expired, got %d", n)
	}
}

func TestMemoryStore_CountByTimeRange(t *testing.T) {
	store := NewMemoryStore(100)
	ctx := context.Background()

	store.Save(ctx, opp("o1", "sh600000", core.StateNew, now.Add(-2*time.Hour)))
	store.Save(ctx, opp("o2", "sz000001", core.StateNew, now))

	if n := count(t, store, Filter{From: now.Add(-1 * time.Hour)}); n != 1 {
		t.Errorf("expected 1 after From, got %d", n)
	}
	if n := count(t, store, Filter{To: now.Add(-1 * time.Hour)}); n != 1 {
		t.Errorf("expected 1 before To, got %d", n)
	}
}

func TestMemoryStore_MaxSize(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	store.Save(ctx, opp("a", "A", core.StateNew, now))
	store.Save(ctx, opp("b", "B", core.StateNew, now))
	store.Save(ctx, opp("c", "C", core.StateNew, now))

	if n := count(t, store, Filter{}); n != 2 {
		t.Errorf("expected 2 (max size), got %d", n)
	}
	if n := count(t, store, Filter{Symbol: "A"}); n != 0 {
		t.Errorf("expected oldest to be dropped, got %d", n)
	}
}

func TestMemoryStore_SaveStoresCopy(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	o := opp("o1", "sh600000", core.StateNew, now)
	store.Save(ctx, o)
	o.State = core.StateExpired

	if n := count(t, store, Filter{State: core.StateExpired}); n != 0 {
		t.Error("stored opportunity was mutated through the caller's value")
	}
}
