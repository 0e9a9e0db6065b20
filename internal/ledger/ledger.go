// Package ledger implements the position ledger (component D): the sole
// writer of position state. Every other component reads through it; no
// other package may append or remove a Position directly.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/scalp-engine/internal/model"
)

// Summary is the read returned by Summary(): dominant side, aggregate
// size, weighted average entry, current unwind exit price, and PnL.
type Summary struct {
	DominantSide        model.Side
	TotalSize           decimal.Decimal
	WeightedAvgEntry    decimal.Decimal
	CurrentExitPrice    decimal.Decimal
	UnrealizedPnL       decimal.Decimal
	UnrealizedPnLPercent decimal.Decimal
}

// Ledger holds per-market state and the dedup record for fill acks.
type Ledger struct {
	mu      sync.RWMutex
	markets map[string]*model.MarketState
	seen    map[string]map[string]bool // marketID -> orderID -> true, dedups onFill
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{
		markets: make(map[string]*model.MarketState),
		seen:    make(map[string]map[string]bool),
	}
}

// State returns the MarketState for marketID, creating one on first use.
// Callers (the orchestrator, on behalf of the strategy FSM) hold the
// per-market queue lock when mutating fields they own; Ledger itself only
// guards the map lookup, not field-level access.
func (l *Ledger) State(marketID string) *model.MarketState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.markets[marketID]
	if !ok {
		st = model.NewMarketState()
		l.markets[marketID] = st
	}
	return st
}

// Remove discards all state for marketID (called when the registry prunes
// an expired market).
func (l *Ledger) Remove(marketID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.markets, marketID)
	delete(l.seen, marketID)
}

// OnFill appends a Position for a confirmed entry fill. A duplicate ack
// for the same orderID is a no-op: acks carry an order id used for dedup.
func (l *Ledger) OnFill(marketID string, side model.Side, price, size decimal.Decimal, classification model.Classification, profitTarget decimal.Decimal, orderID string, entryTime time.Time) error {
	if price.LessThanOrEqual(decimal.Zero) || price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("ledger: entry price %s outside (0,1)", price)
	}
	if size.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("ledger: non-positive fill size %s", size)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seen := l.seen[marketID]
	if seen == nil {
		seen = make(map[string]bool)
		l.seen[marketID] = seen
	}
	if orderID != "" && seen[orderID] {
		return nil
	}
	if orderID != "" {
		seen[orderID] = true
	}

	st, ok := l.markets[marketID]
	if !ok {
		st = model.NewMarketState()
		l.markets[marketID] = st
	}

	st.Positions = append(st.Positions, model.Position{
		Side:           side,
		EntryPrice:     price,
		Size:           size,
		EntryTime:      entryTime,
		Classification: classification,
		ProfitTarget:   profitTarget,
		OrderID:        orderID,
	})
	return nil
}

// OnExitFill removes all positions of classification on side; if
// classification is LEVEL and the side's LEVEL list became empty,
// completed_cycles increments. HIGH_SCALP exits never increment it.
func (l *Ledger) OnExitFill(marketID string, side model.Side, classification model.Classification) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.markets[marketID]
	if !ok {
		return
	}

	kept := st.Positions[:0]
	removedAnyLevel := false
	for _, p := range st.Positions {
		if p.Side == side && p.Classification == classification {
			if classification == model.ClassLevel {
				removedAnyLevel = true
			}
			continue
		}
		kept = append(kept, p)
	}
	st.Positions = kept

	if classification == model.ClassLevel && removedAnyLevel {
		stillHasLevel := false
		for _, p := range st.Positions {
			if p.Side == side && p.Classification == model.ClassLevel {
				stillHasLevel = true
				break
			}
		}
		if !stillHasLevel {
			st.CompletedCycles++
		}
	}
}

// Positions returns a copy of all positions for marketID.
func (l *Ledger) Positions(marketID string) []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.markets[marketID]
	if !ok {
		return nil
	}
	out := make([]model.Position, len(st.Positions))
	copy(out, st.Positions)
	return out
}

// LevelPositions returns positions classified LEVEL.
func (l *Ledger) LevelPositions(marketID string) []model.Position {
	return l.filtered(marketID, func(p model.Position) bool { return p.Classification == model.ClassLevel })
}

// HighScalpPositions returns HIGH_SCALP positions on side.
func (l *Ledger) HighScalpPositions(marketID string, side model.Side) []model.Position {
	return l.filtered(marketID, func(p model.Position) bool {
		return p.Classification == model.ClassHighScalp && p.Side == side
	})
}

func (l *Ledger) filtered(marketID string, keep func(model.Position) bool) []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.markets[marketID]
	if !ok {
		return nil
	}
	var out []model.Position
	for _, p := range st.Positions {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// CompletedCycles returns the market's completed LEVEL round-trip count.
func (l *Ledger) CompletedCycles(marketID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.markets[marketID]
	if !ok {
		return 0
	}
	return st.CompletedCycles
}

// HighScalpCount returns the number of HIGH_SCALP positions currently open
// for marketID, across both sides. This is computed by counting, never
// tracked as an independent counter.
func (l *Ledger) HighScalpCount(marketID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.markets[marketID]
	if !ok {
		return 0
	}
	n := 0
	for _, p := range st.Positions {
		if p.Classification == model.ClassHighScalp {
			n++
		}
	}
	return n
}

// WeightedAvgEntry returns the size-weighted average entry price across
// positions, recomputed fresh on every call — never cached.
func WeightedAvgEntry(positions []model.Position) decimal.Decimal {
	totalSize := decimal.Zero
	totalCost := decimal.Zero
	for _, p := range positions {
		totalSize = totalSize.Add(p.Size)
		totalCost = totalCost.Add(p.EntryPrice.Mul(p.Size))
	}
	if totalSize.IsZero() {
		return decimal.Zero
	}
	return totalCost.Div(totalSize)
}

// Summary returns the dominant side, aggregate size, weighted avg entry,
// unwind exit price and unrealized PnL for marketID, given current asks.
func (l *Ledger) Summary(marketID string, currentYesAsk, currentNoAsk decimal.Decimal) Summary {
	positions := l.Positions(marketID)

	yesSize, noSize := decimal.Zero, decimal.Zero
	var yesPositions, noPositions []model.Position
	for _, p := range positions {
		if p.Side == model.SideYes {
			yesSize = yesSize.Add(p.Size)
			yesPositions = append(yesPositions, p)
		} else {
			noSize = noSize.Add(p.Size)
			noPositions = append(noPositions, p)
		}
	}

	dominant := model.SideYes
	dominantPositions := yesPositions
	totalSize := yesSize
	exitPrice := currentNoAsk
	if noSize.GreaterThan(yesSize) {
		dominant = model.SideNo
		dominantPositions = noPositions
		totalSize = noSize
		exitPrice = currentYesAsk
	}

	avgEntry := WeightedAvgEntry(dominantPositions)
	pnl := model.UnitPnL(avgEntry, exitPrice).Mul(totalSize)
	pnlPct := model.UnitPnLPercent(avgEntry, exitPrice)

	return Summary{
		DominantSide:         dominant,
		TotalSize:            totalSize,
		WeightedAvgEntry:      avgEntry,
		CurrentExitPrice:      exitPrice,
		UnrealizedPnL:         pnl,
		UnrealizedPnLPercent:  pnlPct,
	}
}
