// Package exit implements the exit coordinator (component F): owns the
// active take-profit limit orders for each market, reprices them on
// improvement, cancels them at the force-unwind gate, and sentinels
// failed placements so a tight retry loop can't form.
package exit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/scalp-engine/internal/ledger"
	"github.com/sdibella/scalp-engine/internal/model"
	"github.com/sdibella/scalp-engine/internal/venue"
)

// sentinelOrderID marks a slot that failed placement, so the next tick
// doesn't immediately retry it.
const sentinelOrderID = "__failed__"

// resting records the last price a TP order was placed (or attempted) at,
// so Coordinator can tell whether a new PLACE_TP_LIMIT intent improves on
// it, and a minimum-reprice-interval gate so volatile books can't churn
// cancel/replace pairs arbitrarily fast.
type resting struct {
	orderID string
	price   decimal.Decimal
	at      time.Time
}

// Coordinator owns the active-exit-order set for every market it tracks,
// held in its own books map (one resting slot per market and side); it
// does not read or write MarketState.
type Coordinator struct {
	adapter venue.Adapter
	ledger  *ledger.Ledger
	logger  *slog.Logger

	minRepriceInterval time.Duration

	mu    sync.Mutex
	books map[string]map[model.Side]*resting
}

// New returns a Coordinator driving orders through adapter.
func New(adapter venue.Adapter, ledg *ledger.Ledger, minRepriceInterval time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		adapter:            adapter,
		ledger:             ledg,
		minRepriceInterval: minRepriceInterval,
		logger:             logger.With("component", "exit_coordinator"),
		books:              make(map[string]map[model.Side]*resting),
	}
}

func (c *Coordinator) slot(marketID string, side model.Side) *resting {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.books[marketID]
	if !ok {
		m = make(map[model.Side]*resting)
		c.books[marketID] = m
	}
	return m[side]
}

func (c *Coordinator) setSlot(marketID string, side model.Side, r *resting) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.books[marketID]
	if !ok {
		m = make(map[model.Side]*resting)
		c.books[marketID] = m
	}
	if r == nil {
		delete(m, side)
		return
	}
	m[side] = r
}

// HandlePlaceTPLimit implements the coordinator's PLACE_TP_LIMIT behavior:
// place if no active order exists; cancel-and-replace if the new price
// strictly improves (is lower than) the resting price; otherwise no-op.
func (c *Coordinator) HandlePlaceTPLimit(ctx context.Context, marketID string, intent model.Intent, token string, now time.Time) error {
	current := c.slot(marketID, intent.Side)

	if current != nil && current.orderID == sentinelOrderID {
		if now.Sub(current.at) < c.minRepriceInterval && !intent.Price.LessThan(current.price) {
			return nil
		}
	} else if current != nil {
		if !intent.Price.LessThan(current.price) {
			return nil // does not improve, no change
		}
		if now.Sub(current.at) < c.minRepriceInterval {
			return nil // reprice rate limit
		}
		if err := c.adapter.CancelOrder(ctx, current.orderID); err != nil {
			c.logger.Warn("cancel prior TP order failed", "market", marketID, "order", current.orderID, "error", err)
		}
	}

	ack, err := c.adapter.PlaceOrder(ctx, token, venue.Buy, intent.Price, intent.Size, true)
	if err != nil {
		c.setSlot(marketID, intent.Side, &resting{orderID: sentinelOrderID, price: intent.Price, at: now})
		return fmt.Errorf("exit: place TP limit for market %s side %s: %w", marketID, intent.Side, err)
	}

	c.setSlot(marketID, intent.Side, &resting{orderID: ack.OrderID, price: intent.Price, at: now})
	return nil
}

// CancelAllForGateCrossing cancels every active TP order for marketID, to
// be called the instant time_remaining crosses the force-unwind gate,
// before the strategy's forced-unwind EXIT is acted on.
func (c *Coordinator) CancelAllForGateCrossing(ctx context.Context, marketID string) {
	c.mu.Lock()
	sides := c.books[marketID]
	delete(c.books, marketID)
	c.mu.Unlock()

	for side, r := range sides {
		if r == nil || r.orderID == "" || r.orderID == sentinelOrderID {
			continue
		}
		if err := c.adapter.CancelOrder(ctx, r.orderID); err != nil {
			c.logger.Warn("cancel TP order at gate crossing failed", "market", marketID, "side", side, "order", r.orderID, "error", err)
		}
	}
}

// OnExitFillAck clears the active-exit-order set for marketID/side and
// notifies the ledger to remove the positions.
func (c *Coordinator) OnExitFillAck(marketID string, side model.Side, classification model.Classification) {
	c.setSlot(marketID, side, nil)
	c.ledger.OnExitFill(marketID, side, classification)
}

// ClearSentinelOnPriceImprovement drops a sentinel slot once newPrice is
// strictly lower than the failed attempt's price. The orchestrator does not
// call it; HandlePlaceTPLimit itself lets a strictly lower price through a
// sentinel slot.
func (c *Coordinator) ClearSentinelOnPriceImprovement(marketID string, side model.Side, newPrice decimal.Decimal) {
	current := c.slot(marketID, side)
	if current == nil || current.orderID != sentinelOrderID {
		return
	}
	if newPrice.LessThan(current.price) {
		c.setSlot(marketID, side, nil)
	}
}

// Remove discards all tracked state for marketID (market pruned).
func (c *Coordinator) Remove(marketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.books, marketID)
}
