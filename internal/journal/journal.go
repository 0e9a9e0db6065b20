// Package journal is an append-only JSONL event log of the orchestrator's
// decisions and fills, for post-hoc inspection — not part of the core
// protocol surface (§6: "the core is stateless across restarts").
package journal

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Journal is an append-only JSONL writer.
type Journal struct {
	f  *os.File
	mu sync.Mutex
}

// New opens (or creates) the journal file in append mode.
func New(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Journal{f: f}, nil
}

// Log marshals event to JSON and appends it as a single line.
func (j *Journal) Log(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err = j.f.Write(data); err != nil {
		return err
	}
	return j.f.Sync()
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// Event types.

type SessionStart struct {
	Type     string `json:"type"`
	Time     string `json:"time"`
	DryRun   bool   `json:"dry_run"`
	Env      string `json:"env"`
	Balance  string `json:"balance"`
}

func NewSessionStart(env string, dryRun bool, balance string) SessionStart {
	return SessionStart{
		Type:    "session_start",
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		DryRun:  dryRun,
		Env:     env,
		Balance: balance,
	}
}

// IntentEmitted records a strategy-FSM decision before it is acted on.
type IntentEmitted struct {
	Type      string `json:"type"`
	Time      string `json:"time"`
	MarketID  string `json:"market_id"`
	IntentID  string `json:"intent_id"`
	Kind      string `json:"kind"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Urgency   string `json:"urgency,omitempty"`
}

func NewIntentEmitted(marketID, intentID, kind, side, price, size, urgency string) IntentEmitted {
	return IntentEmitted{
		Type:     "intent",
		Time:     time.Now().UTC().Format(time.RFC3339Nano),
		MarketID: marketID,
		IntentID: intentID,
		Kind:     kind,
		Side:     side,
		Price:    price,
		Size:     size,
		Urgency:  urgency,
	}
}

// Fill records a confirmed entry fill.
type Fill struct {
	Type           string `json:"type"`
	Time           string `json:"time"`
	MarketID       string `json:"market_id"`
	OrderID        string `json:"order_id"`
	Side           string `json:"side"`
	Price          string `json:"price"`
	Size           string `json:"size"`
	Classification string `json:"classification"`
	DryRun         bool   `json:"dry_run"`
}

func NewFill(marketID, orderID, side, price, size, classification string, dryRun bool) Fill {
	return Fill{
		Type:           "fill",
		Time:           time.Now().UTC().Format(time.RFC3339Nano),
		MarketID:       marketID,
		OrderID:        orderID,
		Side:           side,
		Price:          price,
		Size:           size,
		Classification: classification,
		DryRun:         dryRun,
	}
}

// ExitFill records a confirmed unwind/SELL fill that closes a position.
type ExitFill struct {
	Type           string `json:"type"`
	Time           string `json:"time"`
	MarketID       string `json:"market_id"`
	Side           string `json:"side"`
	Classification string `json:"classification"`
	ExitPrice      string `json:"exit_price"`
	PnL            string `json:"pnl"`
	UsedFallback   bool   `json:"used_fallback"`
	DryRun         bool   `json:"dry_run"`
}

func NewExitFill(marketID, side, classification, exitPrice, pnl string, usedFallback, dryRun bool) ExitFill {
	return ExitFill{
		Type:           "exit_fill",
		Time:           time.Now().UTC().Format(time.RFC3339Nano),
		MarketID:       marketID,
		Side:           side,
		Classification: classification,
		ExitPrice:      exitPrice,
		PnL:            pnl,
		UsedFallback:   usedFallback,
		DryRun:         dryRun,
	}
}

// NewEventID returns a fresh id suitable for correlating journal lines
// that aren't already keyed by a venue order id.
func NewEventID() string {
	return uuid.NewString()
}
