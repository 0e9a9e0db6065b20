// Package model holds the shared types that flow between the order-book
// mirror, the position ledger, the strategy FSM, and the orchestrator: the
// market identity, per-token order books, positions, per-market state, and
// the tagged-variant Intent the FSM emits.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side identifies one of the two complementary tokens of a binary market.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Classification distinguishes grid LEVEL entries from opportunistic
// late-window HIGH_SCALP entries; the two are counted independently.
type Classification string

const (
	ClassLevel     Classification = "LEVEL"
	ClassHighScalp Classification = "HIGH_SCALP"
)

// Market is immutable once registered: identity, absolute end time, the
// pair of tradable token ids, the venue-facing slug, and discovery metadata.
type Market struct {
	ID               string
	EndTime          time.Time
	YesTokenID       string
	NoTokenID        string
	Slug             string
	Question         string
	MinTimeToExpiry  time.Duration
}

// TokenID returns the token identifier for side s.
func (m Market) TokenID(side Side) string {
	if side == SideYes {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// TimeRemaining returns end time minus now; may be negative past expiry.
func (m Market) TimeRemaining(now time.Time) time.Duration {
	return m.EndTime.Sub(now)
}

// Position is created only by a confirmed fill ack and destroyed only by a
// confirmed exit-fill ack; size and entry_price never mutate in place.
type Position struct {
	Side           Side
	EntryPrice     decimal.Decimal // strictly in (0,1)
	Size           decimal.Decimal // > 0
	EntryTime      time.Time
	Classification Classification
	ProfitTarget   decimal.Decimal // fractional, e.g. 0.05
	OrderID        string          // venue order id the fill ack carried, for dedup
}

// TargetExitPrice returns x* = max(0.01, 1 - (1+t)*e), the price at which
// unwinding this position realizes exactly t*e profit per unit (t*e*size
// in total).
func (p Position) TargetExitPrice() decimal.Decimal {
	return TargetExitPrice(p.EntryPrice, p.ProfitTarget)
}

// TargetExitPrice computes x* = max(0.01, 1 - (1+t)*e) for an entry price e
// and profit target t.
func TargetExitPrice(entry, target decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	floor := decimal.NewFromFloat(0.01)
	x := one.Sub(one.Add(target).Mul(entry))
	if x.LessThan(floor) {
		return floor
	}
	return x
}

// UnitPnL returns PnL per unit for a position unwound by buying the
// complementary token at exitPrice: payoff is 1 (only one side pays), cost
// is entry+exit, so PnL = 1 - entry - exit.
func UnitPnL(entry, exit decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(entry).Sub(exit)
}

// UnitPnLPercent returns PnL% = (1 - entry - exit) / entry.
func UnitPnLPercent(entry, exit decimal.Decimal) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	return UnitPnL(entry, exit).Div(entry)
}

// EntryLevelKey identifies a (side, grid level) pair for entry debouncing.
type EntryLevelKey struct {
	Side  Side
	Level decimal.Decimal
}

// MarketState is the per-market mutable state shared by the ledger and the
// FSM: positions, completed-cycle count, debounce timestamps. The
// ActiveExitOrders map is allocated but not populated; the exit
// coordinator keeps its resting TP orders in its own map.
type MarketState struct {
	Positions           []Position
	CompletedCycles     int
	ActiveExitOrders    map[Side][]string // side -> order ids (or sentinel) resting
	LastExitIntentAt    time.Time
	EntryDebounce       map[EntryLevelKey]time.Time
	ForceUnwindGateCrossed bool
}

// NewMarketState returns a zero-value MarketState ready to use.
func NewMarketState() *MarketState {
	return &MarketState{
		ActiveExitOrders: make(map[Side][]string),
		EntryDebounce:    make(map[EntryLevelKey]time.Time),
	}
}

// IntentKind tags the variant carried by Intent.
type IntentKind string

const (
	IntentEnterLevel     IntentKind = "ENTER_LEVEL"
	IntentEnterHighScalp IntentKind = "ENTER_HIGH_SCALP"
	IntentPlaceTPLimit   IntentKind = "PLACE_TP_LIMIT"
	IntentExit           IntentKind = "EXIT"
)

// Urgency classifies how an EXIT intent should be executed by the
// orchestrator.
type Urgency string

const (
	UrgencyNormal   Urgency = "NORMAL"
	UrgencyCritical Urgency = "CRITICAL"
)

// Intent is the tagged variant the strategy FSM emits: at most one per
// evaluation. Fields not meaningful for a given Kind are left zero.
// The FSM constructs these; only the orchestrator pattern-matches on Kind.
type Intent struct {
	Kind IntentKind
	ID   string // generated at construction; journaled, and the dedup key of simulated (dry-run) fills

	Side  Side
	Price decimal.Decimal
	Size  decimal.Decimal

	Classification Classification
	ProfitTarget   decimal.Decimal
	Level          decimal.Decimal // the grid level triggered, for ENTER_LEVEL

	IsHighScalp bool
	Urgency     Urgency

	// FallbackToken/FallbackPrice are populated on EXIT intents: if the
	// orchestrator lacks collateral to unwind by buying the complementary
	// token, it falls back to selling the held token at FallbackPrice.
	FallbackToken string
	FallbackPrice decimal.Decimal
}

func newIntentID() string {
	return uuid.NewString()
}

// NewEnterLevel builds an ENTER_LEVEL intent.
func NewEnterLevel(side Side, level, size, target decimal.Decimal) Intent {
	return Intent{
		Kind:           IntentEnterLevel,
		ID:             newIntentID(),
		Side:           side,
		Price:          level,
		Size:           size,
		Classification: ClassLevel,
		ProfitTarget:   target,
		Level:          level,
	}
}

// NewEnterHighScalp builds an ENTER_HIGH_SCALP intent.
func NewEnterHighScalp(side Side, price, size, target decimal.Decimal) Intent {
	return Intent{
		Kind:           IntentEnterHighScalp,
		ID:             newIntentID(),
		Side:           side,
		Price:          price,
		Size:           size,
		Classification: ClassHighScalp,
		ProfitTarget:   target,
		IsHighScalp:    true,
	}
}

// NewPlaceTPLimit builds a PLACE_TP_LIMIT intent: rest a post-only BUY of
// the opposite token at price.
func NewPlaceTPLimit(side Side, price, size decimal.Decimal) Intent {
	return Intent{
		Kind:  IntentPlaceTPLimit,
		ID:    newIntentID(),
		Side:  side,
		Price: price,
		Size:  size,
	}
}

// NewExit builds an EXIT intent with unwind-or-SELL fallback metadata.
func NewExit(side Side, price, size decimal.Decimal, isHighScalp bool, urgency Urgency, fallbackToken string, fallbackPrice decimal.Decimal) Intent {
	return Intent{
		Kind:          IntentExit,
		ID:            newIntentID(),
		Side:          side,
		Price:         price,
		Size:          size,
		IsHighScalp:   isHighScalp,
		Urgency:       urgency,
		FallbackToken: fallbackToken,
		FallbackPrice: fallbackPrice,
	}
}
