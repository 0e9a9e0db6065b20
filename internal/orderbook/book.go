// Package orderbook implements the order-book mirror (component A): one
// in-memory Book per tradable token, kept convergent with a streaming
// snapshot+delta feed, and a Mirror that owns the feed connection,
// handshake/subscription protocol, health tracking, and reconnect.
package orderbook

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Side of a price level: BID (a resting buy) or ASK (a resting sell).
type Side string

const (
	Bid Side = "BID"
	Ask Side = "ASK"
)

// level is a single resting price/size pair, keyed by its price's decimal
// string for exact dedup across repeated deltas at the same price.
type level struct {
	price decimal.Decimal
	size  decimal.Decimal
}

// Book is a per-token order book: two finite price->size mappings, plus
// the current best bid/ask cached and maintained incrementally as deltas
// and snapshots arrive, so BestPrices never rescans the book. Best bid is
// the maximum bid price with nonzero size; best ask is the minimum ask
// price with nonzero size; both are the zero Decimal when empty.
type Book struct {
	mu      sync.RWMutex
	bids    map[string]level
	asks    map[string]level
	bestBid decimal.Decimal
	bestAsk decimal.Decimal

	lastUpdate time.Time
}

// NewBook returns an empty Book.
func NewBook() *Book {
	return &Book{
		bids: make(map[string]level),
		asks: make(map[string]level),
	}
}

// ApplyDelta applies a single incremental price-level change. size=0
// deletes the level; size=0 on a level that doesn't exist is a no-op. A
// price must never appear on both sides — a delta that would create that
// condition removes the opposite-side level first (the mirror favors the
// most recently received update).
func (b *Book) ApplyDelta(side Side, price, size decimal.Decimal, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := price.String()

	if size.IsZero() {
		if side == Bid {
			b.removeBid(key, price)
		} else {
			b.removeAsk(key, price)
		}
		b.lastUpdate = at
		return
	}

	if side == Bid {
		b.removeAsk(key, price) // a price never rests on both sides
		b.bids[key] = level{price: price, size: size}
		if b.bestBid.IsZero() || price.GreaterThan(b.bestBid) {
			b.bestBid = price
		}
	} else {
		b.removeBid(key, price)
		b.asks[key] = level{price: price, size: size}
		if b.bestAsk.IsZero() || price.LessThan(b.bestAsk) {
			b.bestAsk = price
		}
	}
	b.lastUpdate = at
}

// removeBid deletes key from bids and, only if it held the current best
// bid, rescans the (now smaller) remaining set to find the new best.
// Rescans happen only when the removed level was the best, not on every
// delta — inserts and non-best removals stay O(1).
func (b *Book) removeBid(key string, price decimal.Decimal) {
	if _, ok := b.bids[key]; !ok {
		return
	}
	delete(b.bids, key)
	if !b.bestBid.IsZero() && price.Equal(b.bestBid) {
		b.bestBid = bestOf(b.bids, false)
	}
}

func (b *Book) removeAsk(key string, price decimal.Decimal) {
	if _, ok := b.asks[key]; !ok {
		return
	}
	delete(b.asks, key)
	if !b.bestAsk.IsZero() && price.Equal(b.bestAsk) {
		b.bestAsk = bestOf(b.asks, true)
	}
}

// ApplySnapshot replaces the full book state, both bids and asks.
func (b *Book) ApplySnapshot(bids, asks []PriceLevel, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = make(map[string]level, len(bids))
	for _, l := range bids {
		if l.Size.IsZero() {
			continue
		}
		b.bids[l.Price.String()] = level{price: l.Price, size: l.Size}
	}
	b.asks = make(map[string]level, len(asks))
	for _, l := range asks {
		if l.Size.IsZero() {
			continue
		}
		b.asks[l.Price.String()] = level{price: l.Price, size: l.Size}
	}
	b.bestBid = bestOf(b.bids, false)
	b.bestAsk = bestOf(b.asks, true)
	b.lastUpdate = at
}

// PriceLevel is a single (price, size) pair used in snapshots.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BestPrices returns the current best (bid, ask), zero Decimal for the
// side that has no resting size. O(1): both are maintained incrementally
// by ApplyDelta/ApplySnapshot rather than rederived on read.
func (b *Book) BestPrices() (bid, ask decimal.Decimal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestBid, b.bestAsk
}

// bestOf does a full scan; called only from ApplySnapshot (already O(n)
// to rebuild the book) and from the removal of a level that was the
// current best, never from a normal ApplyDelta or BestPrices call.
func bestOf(levels map[string]level, min bool) decimal.Decimal {
	best := decimal.Zero
	first := true
	for _, lv := range levels {
		if first {
			best = lv.price
			first = false
			continue
		}
		if min {
			if lv.price.LessThan(best) {
				best = lv.price
			}
		} else if lv.price.GreaterThan(best) {
			best = lv.price
		}
	}
	return best
}

// LastUpdate returns the wall-clock time of the most recent applied update.
func (b *Book) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}
