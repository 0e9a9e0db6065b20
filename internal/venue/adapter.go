// Package venue implements the venue adapter (component B): translates
// intents into wire calls, retries transient failures, and distinguishes
// the Failure taxonomy the orchestrator needs to pick an unwind-vs-SELL
// fallback path.
package venue

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// OrderSide is the wire-level order direction, distinct from model.Side
// (which token): BUY or SELL of whichever token was named.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Sentinel errors for the Failure taxonomy of §4.2/§7. Adapter
// implementations wrap these with fmt.Errorf("...: %w", ...) so callers
// can use errors.Is.
var (
	ErrInsufficientBalance = errors.New("venue: insufficient balance")
	ErrMinNotional         = errors.New("venue: min notional violation")
	ErrRejected            = errors.New("venue: order rejected")
	ErrTimeout             = errors.New("venue: request timed out after retries")
)

// OrderAck is the venue's acknowledgement that an order was accepted. The
// orchestrator treats a marketable order's ack as its fill; there is no
// separate fill event or poll in this adapter.
type OrderAck struct {
	OrderID string
	Token   string
	Side    OrderSide
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// Adapter is the interface the orchestrator drives. Each method may block
// the caller; implementations own retry of transient network failures (at
// most 3 attempts with exponential backoff) and are responsible for wire
// encoding, signing, and translating venue error shapes to the Failure
// taxonomy.
type Adapter interface {
	// PlaceOrder places a resting post-only limit order (postOnly=true) or
	// a marketable order (postOnly=false) of size shares of token at price.
	PlaceOrder(ctx context.Context, token string, side OrderSide, price, size decimal.Decimal, postOnly bool) (OrderAck, error)

	// CancelOrder cancels a previously placed order by id.
	CancelOrder(ctx context.Context, orderID string) error

	// GetCollateralBalance returns the account's free collateral balance.
	GetCollateralBalance(ctx context.Context) (decimal.Decimal, error)
}
