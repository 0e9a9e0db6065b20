// Package strategy implements the strategy FSM (component E): a pure
// function of (prices, positions, time, config) that returns at most one
// Intent per evaluation. It performs no I/O and holds no venue handle —
// the orchestrator is the only component that acts on what Evaluate
// returns.
package strategy

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/scalp-engine/internal/config"
	"github.com/sdibella/scalp-engine/internal/model"
)

// EvalContext is everything Evaluate reads: current best prices for both
// tokens, the market's absolute end time, the current wall clock, and the
// position/cycle state the ledger holds for this market. Evaluate never
// calls the ledger, the mirror, or the venue itself — the orchestrator
// assembles EvalContext from them before each tick.
type EvalContext struct {
	Market model.Market
	Now    time.Time

	YesBid, YesAsk decimal.Decimal
	NoBid, NoAsk   decimal.Decimal

	LevelPositions     []model.Position // both sides
	HighScalpPositions []model.Position // both sides
	CompletedCycles    int
}

func (c EvalContext) timeRemaining() time.Duration {
	return c.Market.TimeRemaining(c.Now)
}

func (c EvalContext) ask(side model.Side) decimal.Decimal {
	if side == model.SideYes {
		return c.YesAsk
	}
	return c.NoAsk
}

func (c EvalContext) bid(side model.Side) decimal.Decimal {
	if side == model.SideYes {
		return c.YesBid
	}
	return c.NoBid
}

func (c EvalContext) levelPositionsOn(side model.Side) []model.Position {
	var out []model.Position
	for _, p := range c.LevelPositions {
		if p.Side == side {
			out = append(out, p)
		}
	}
	return out
}

func (c EvalContext) highScalpPositionsOn(side model.Side) []model.Position {
	var out []model.Position
	for _, p := range c.HighScalpPositions {
		if p.Side == side {
			out = append(out, p)
		}
	}
	return out
}

func aggregateSize(positions []model.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.Size)
	}
	return total
}

func weightedAvgEntry(positions []model.Position) decimal.Decimal {
	totalSize, totalCost := decimal.Zero, decimal.Zero
	for _, p := range positions {
		totalSize = totalSize.Add(p.Size)
		totalCost = totalCost.Add(p.EntryPrice.Mul(p.Size))
	}
	if totalSize.IsZero() {
		return decimal.Zero
	}
	return totalCost.Div(totalSize)
}

// dominantSide picks the side with the larger aggregate LEVEL size,
// breaking ties YES-first.
func dominantSide(yesSize, noSize decimal.Decimal) model.Side {
	if noSize.GreaterThan(yesSize) {
		return model.SideNo
	}
	return model.SideYes
}

// Evaluate runs the per-tick decision order of the design and returns at
// most one Intent. A false second return means "do nothing this tick."
//
// state carries the FSM's own bookkeeping (entry debounce timestamps,
// last-emitted-exit timestamp, the one-way force-unwind-gate latch); it is
// mutated in place as part of returning the Intent, since recording a
// debounce entry is not I/O and single-writer-per-market serialization
// (owned by the orchestrator's per-market queue) makes this safe.
func Evaluate(ctx EvalContext, state *model.MarketState, cfg config.StrategyConfig) (model.Intent, bool) {
	remaining := ctx.timeRemaining()

	if remaining < cfg.ForceUnwindTime {
		crossedGate := !state.ForceUnwindGateCrossed
		state.ForceUnwindGateCrossed = true
		return evalForceUnwindWindow(ctx, state, cfg, crossedGate)
	}
	state.ForceUnwindGateCrossed = false

	if remaining < cfg.MinTimeForLevelEntry {
		return evalPlaceTPLimit(ctx, state, cfg)
	}

	if intent, ok := evalPlaceTPLimit(ctx, state, cfg); ok {
		return intent, true
	}
	return evalLevelEntry(ctx, state, cfg)
}

// evalForceUnwindWindow implements decision-order step 1 (a-d).
func evalForceUnwindWindow(ctx EvalContext, state *model.MarketState, cfg config.StrategyConfig, crossedGate bool) (model.Intent, bool) {
	// 1a: force-unwind any LEVEL positions, larger aggregate side first.
	yesLevel := ctx.levelPositionsOn(model.SideYes)
	noLevel := ctx.levelPositionsOn(model.SideNo)
	if len(yesLevel) > 0 || len(noLevel) > 0 {
		side := dominantSide(aggregateSize(yesLevel), aggregateSize(noLevel))
		positions := yesLevel
		if side == model.SideNo {
			positions = noLevel
		}
		size := aggregateSize(positions)
		opposite := side.Opposite()
		intent := model.NewExit(side, ctx.ask(opposite), size, false, model.UrgencyCritical,
			ctx.Market.TokenID(side), ctx.bid(side))
		state.LastExitIntentAt = ctx.Now
		return intent, true
	}

	// 1b: exit a ready HIGH_SCALP position.
	for _, side := range []model.Side{model.SideYes, model.SideNo} {
		for _, p := range ctx.highScalpPositionsOn(side) {
			target := p.TargetExitPrice()
			opposite := side.Opposite()
			exitPrice := ctx.ask(opposite)
			if exitPrice.IsZero() {
				continue
			}
			if exitPrice.LessThanOrEqual(target) {
				if !crossedGate && debounced(ctx.Now, state.LastExitIntentAt, cfg.ExitDebounce) {
					return model.Intent{}, false
				}
				intent := model.NewExit(side, exitPrice, p.Size, true, model.UrgencyNormal,
					ctx.Market.TokenID(side), ctx.bid(side))
				state.LastExitIntentAt = ctx.Now
				return intent, true
			}
		}
	}

	// 1c: admit a new HIGH_SCALP if none open and under the cap.
	if len(ctx.HighScalpPositions) == 0 && len(ctx.HighScalpPositions) < cfg.MaxHighScalpsPerMarket {
		for _, side := range []model.Side{model.SideYes, model.SideNo} {
			price := ctx.ask(side)
			if !price.IsZero() && price.GreaterThanOrEqual(cfg.HighScalpThreshold) {
				return model.NewEnterHighScalp(side, price, cfg.HighScalpSize, cfg.HighScalpProfitTarget), true
			}
		}
	}

	// 1d
	return model.Intent{}, false
}

// evalPlaceTPLimit implements decision-order step 3: PLACE_TP_LIMIT for
// the side holding LEVEL positions, priced at the current opposite ask
// whenever that ask is at or below the side's target exit.
func evalPlaceTPLimit(ctx EvalContext, state *model.MarketState, cfg config.StrategyConfig) (model.Intent, bool) {
	if debounced(ctx.Now, state.LastExitIntentAt, cfg.ExitDebounce) {
		return model.Intent{}, false
	}

	for _, side := range []model.Side{model.SideYes, model.SideNo} {
		positions := ctx.levelPositionsOn(side)
		if len(positions) == 0 {
			continue
		}
		avgEntry := weightedAvgEntry(positions)
		target := model.TargetExitPrice(avgEntry, cfg.LevelProfitTarget)
		opposite := side.Opposite()
		exitPrice := ctx.ask(opposite)
		if exitPrice.IsZero() {
			continue
		}
		if exitPrice.LessThanOrEqual(target) {
			return model.NewPlaceTPLimit(side, exitPrice, aggregateSize(positions)), true
		}
	}
	return model.Intent{}, false
}

// evalLevelEntry implements decision-order step 4.
func evalLevelEntry(ctx EvalContext, state *model.MarketState, cfg config.StrategyConfig) (model.Intent, bool) {
	if ctx.CompletedCycles >= cfg.MaxCompletedCyclesPerMkt {
		return model.Intent{}, false
	}

	levels := append([]decimal.Decimal(nil), cfg.EntryLevels...)
	sort.Slice(levels, func(i, j int) bool { return levels[i].LessThan(levels[j]) })

	for _, side := range []model.Side{model.SideYes, model.SideNo} {
		if len(ctx.levelPositionsOn(side.Opposite())) > 0 {
			continue // no hedged-LEVEL book
		}
		price := ctx.ask(side)
		if price.IsZero() {
			continue
		}

		for _, level := range levels {
			if price.GreaterThanOrEqual(level) {
				continue
			}
			key := model.EntryLevelKey{Side: side, Level: level}
			if _, debouncedLevel := state.EntryDebounce[key]; debouncedLevel {
				continue
			}
			if enteredNear(ctx.levelPositionsOn(side), level, cfg.EntryLevelTolerance) {
				continue
			}

			state.EntryDebounce[key] = ctx.Now
			return model.NewEnterLevel(side, level, cfg.LevelSize, cfg.LevelProfitTarget), true
		}
	}
	return model.Intent{}, false
}

func enteredNear(positions []model.Position, level, tolerance decimal.Decimal) bool {
	for _, p := range positions {
		if p.EntryPrice.Sub(level).Abs().LessThanOrEqual(tolerance) {
			return true
		}
	}
	return false
}

func debounced(now, last time.Time, window time.Duration) bool {
	if last.IsZero() {
		return false
	}
	return now.Sub(last) < window
}

// ClearSideDebounce drops entry-debounce records for side once its LEVEL
// stack has been fully exited, so the same grid level can retrigger.
// Called by the orchestrator after applying an exit-fill ack — state
// bookkeeping, not I/O, so it stays in this package alongside the fields
// it owns.
func ClearSideDebounce(state *model.MarketState, side model.Side) {
	for key := range state.EntryDebounce {
		if key.Side == side {
			delete(state.EntryDebounce, key)
		}
	}
}
