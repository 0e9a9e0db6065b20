package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/scalp-engine/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOnFill_DedupsByOrderID(t *testing.T) {
	l := New()
	now := time.Now()

	if err := l.OnFill("m1", model.SideYes, dec("0.34"), dec("10"), model.ClassLevel, dec("0.05"), "ord-1", now); err != nil {
		t.Fatalf("first OnFill: %v", err)
	}
	if err := l.OnFill("m1", model.SideYes, dec("0.34"), dec("10"), model.ClassLevel, dec("0.05"), "ord-1", now); err != nil {
		t.Fatalf("duplicate OnFill: %v", err)
	}

	positions := l.LevelPositions("m1")
	if len(positions) != 1 {
		t.Fatalf("len(LevelPositions) = %d, want 1 (duplicate ack must not double the position)", len(positions))
	}
}

func TestOnFill_RejectsOutOfRangePrice(t *testing.T) {
	l := New()
	now := time.Now()

	if err := l.OnFill("m1", model.SideYes, dec("1.00"), dec("10"), model.ClassLevel, dec("0.05"), "ord-1", now); err == nil {
		t.Errorf("OnFill accepted a price of 1.00, outside the open (0,1) interval")
	}
	if err := l.OnFill("m1", model.SideYes, dec("0"), dec("10"), model.ClassLevel, dec("0.05"), "ord-2", now); err == nil {
		t.Errorf("OnFill accepted a price of 0")
	}
}

func TestOnExitFill_IncrementsCompletedCyclesOnlyWhenSideFullyCleared(t *testing.T) {
	l := New()
	now := time.Now()

	_ = l.OnFill("m1", model.SideYes, dec("0.34"), dec("10"), model.ClassLevel, dec("0.05"), "ord-1", now)
	_ = l.OnFill("m1", model.SideYes, dec("0.24"), dec("10"), model.ClassLevel, dec("0.05"), "ord-2", now)

	l.OnExitFill("m1", model.SideYes, model.ClassLevel)

	if got := l.CompletedCycles("m1"); got != 1 {
		t.Fatalf("CompletedCycles() = %d, want 1 after the only LEVEL side fully exits", got)
	}
	if len(l.LevelPositions("m1")) != 0 {
		t.Errorf("LevelPositions() not empty after OnExitFill")
	}
}

func TestOnExitFill_HighScalpNeverIncrementsCycles(t *testing.T) {
	l := New()
	now := time.Now()

	_ = l.OnFill("m1", model.SideYes, dec("0.90"), dec("5"), model.ClassHighScalp, dec("0.02"), "ord-1", now)
	l.OnExitFill("m1", model.SideYes, model.ClassHighScalp)

	if got := l.CompletedCycles("m1"); got != 0 {
		t.Errorf("CompletedCycles() = %d, want 0 (HIGH_SCALP exits never count)", got)
	}
}

func TestWeightedAvgEntry(t *testing.T) {
	positions := []model.Position{
		{EntryPrice: dec("0.34"), Size: dec("10")},
		{EntryPrice: dec("0.24"), Size: dec("10")},
	}
	got := WeightedAvgEntry(positions)
	if !got.Equal(dec("0.29")) {
		t.Errorf("WeightedAvgEntry() = %s, want 0.29", got)
	}
}

func TestWeightedAvgEntry_Empty(t *testing.T) {
	if got := WeightedAvgEntry(nil); !got.IsZero() {
		t.Errorf("WeightedAvgEntry(nil) = %s, want 0", got)
	}
}

func TestRemove(t *testing.T) {
	l := New()
	now := time.Now()
	_ = l.OnFill("m1", model.SideYes, dec("0.34"), dec("10"), model.ClassLevel, dec("0.05"), "ord-1", now)

	l.Remove("m1")

	if len(l.LevelPositions("m1")) != 0 {
		t.Errorf("positions survived Remove()")
	}
	// A post-removal fill with the same order id must not be treated as a
	// duplicate: the dedup set was discarded along with the market state.
	if err := l.OnFill("m1", model.SideYes, dec("0.34"), dec("10"), model.ClassLevel, dec("0.05"), "ord-1", now); err != nil {
		t.Fatalf("OnFill after Remove: %v", err)
	}
	if len(l.LevelPositions("m1")) != 1 {
		t.Errorf("len(LevelPositions) = %d, want 1 after re-filling post-Remove", len(l.LevelPositions("m1")))
	}
}
