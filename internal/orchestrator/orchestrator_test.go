package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/scalp-engine/internal/config"
	"github.com/sdibella/scalp-engine/internal/exit"
	"github.com/sdibella/scalp-engine/internal/journal"
	"github.com/sdibella/scalp-engine/internal/ledger"
	"github.com/sdibella/scalp-engine/internal/model"
	"github.com/sdibella/scalp-engine/internal/orderbook"
	"github.com/sdibella/scalp-engine/internal/registry"
	"github.com/sdibella/scalp-engine/internal/venue"
)

type stubAdapter struct {
	balance decimal.Decimal
}

func (s *stubAdapter) PlaceOrder(_ context.Context, token string, side venue.OrderSide, price, size decimal.Decimal, postOnly bool) (venue.OrderAck, error) {
	return venue.OrderAck{OrderID: "ord-" + token, Token: token, Side: side, Price: price, Size: size}, nil
}

func (s *stubAdapter) CancelOrder(_ context.Context, orderID string) error { return nil }

func (s *stubAdapter) GetCollateralBalance(_ context.Context) (decimal.Decimal, error) {
	return s.balance, nil
}

func newTestOrchestrator(t *testing.T, tradingEnabled bool) (*Orchestrator, model.Market) {
	t.Helper()
	logger := discardLogger()

	mirror := orderbook.New("wss://example.invalid", logger)
	reg := registry.New()
	ledg := ledger.New()
	adapter := &stubAdapter{balance: dec("100000")}
	exitCoord := exit.New(adapter, ledg, time.Second, logger)
	kill := NewKillSwitch(dec("100"), time.Now(), logger)
	j, err := journal.New(t.TempDir() + "/journal.jsonl")
	if err != nil {
		t.Fatalf("journal.New: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	cfg := config.DefaultStrategyConfig()
	orch := New(mirror, reg, ledg, adapter, exitCoord, kill, j, cfg, tradingEnabled, logger)

	now := time.Now()
	m := model.Market{
		ID:         "mkt-1",
		EndTime:    now.Add(10 * time.Minute),
		YesTokenID: "yes-tok",
		NoTokenID:  "no-tok",
	}
	if err := orch.RegisterMarket(m, now); err != nil {
		t.Fatalf("RegisterMarket: %v", err)
	}

	mirror.Book(m.YesTokenID).ApplyDelta(orderbook.Bid, dec("0.32"), dec("100"), now)
	mirror.Book(m.YesTokenID).ApplyDelta(orderbook.Ask, dec("0.33"), dec("100"), now)
	mirror.Book(m.NoTokenID).ApplyDelta(orderbook.Bid, dec("0.89"), dec("100"), now)
	mirror.Book(m.NoTokenID).ApplyDelta(orderbook.Ask, dec("0.90"), dec("100"), now)

	return orch, m
}

func TestEvaluateMarket_EntersAndFillsInDryRun(t *testing.T) {
	orch, m := newTestOrchestrator(t, false)

	orch.evaluateMarket(context.Background(), m.ID)

	positions := orch.ledger.LevelPositions(m.ID)
	if len(positions) != 1 {
		t.Fatalf("len(LevelPositions) = %d, want 1 after a dry-run entry", len(positions))
	}
	if positions[0].Side != model.SideYes {
		t.Errorf("entered side = %v, want YES (ask 0.33 < level 0.34)", positions[0].Side)
	}
}

func TestEvaluateMarket_SkipsUntilBothAsksPresent(t *testing.T) {
	logger := discardLogger()
	mirror := orderbook.New("wss://example.invalid", logger)
	reg := registry.New()
	ledg := ledger.New()
	adapter := &stubAdapter{balance: dec("100000")}
	exitCoord := exit.New(adapter, ledg, time.Second, logger)
	kill := NewKillSwitch(dec("100"), time.Now(), logger)
	j, _ := journal.New(t.TempDir() + "/journal.jsonl")
	defer j.Close()

	cfg := config.DefaultStrategyConfig()
	orch := New(mirror, reg, ledg, adapter, exitCoord, kill, j, cfg, false, logger)

	now := time.Now()
	m := model.Market{ID: "mkt-1", EndTime: now.Add(10 * time.Minute), YesTokenID: "yes-tok", NoTokenID: "no-tok"}
	_ = orch.RegisterMarket(m, now)
	// Only YES has a resting ask; NO has none yet.
	mirror.Book(m.YesTokenID).ApplyDelta(orderbook.Ask, dec("0.33"), dec("100"), now)

	orch.evaluateMarket(context.Background(), m.ID)

	if len(orch.ledger.LevelPositions(m.ID)) != 0 {
		t.Errorf("entered a position before both tokens had a valid best ask")
	}
}

func TestEvaluateMarket_KillSwitchBlocksNewEntries(t *testing.T) {
	orch, m := newTestOrchestrator(t, false)
	orch.kill.ReportRealizedPnL(dec("-150"), time.Now())

	orch.evaluateMarket(context.Background(), m.ID)

	if len(orch.ledger.LevelPositions(m.ID)) != 0 {
		t.Errorf("entered a position while the kill switch was tripped")
	}
}

func TestExecuteExit_ChoosesUnwindWhenBalanceSufficient(t *testing.T) {
	orch, m := newTestOrchestrator(t, true)
	now := time.Now()
	_ = orch.ledger.OnFill(m.ID, model.SideYes, dec("0.34"), dec("10"), model.ClassLevel, dec("0.05"), "ord-1", now)

	intent := model.NewExit(model.SideYes, dec("0.60"), dec("10"), false, model.UrgencyCritical, m.TokenID(model.SideYes), dec("0.58"))
	orch.executeExit(context.Background(), m, intent)

	if len(orch.ledger.LevelPositions(m.ID)) != 0 {
		t.Errorf("position still open after executeExit")
	}
	// Unwind at 0.60: (1 - 0.34 - 0.60) * 10 = 0.6. The SELL fallback at
	// 0.58 would give (0.58 - 0.34) * 10 = 2.4.
	if !orch.kill.RealizedPnL().Equal(dec("0.6")) {
		t.Errorf("RealizedPnL() = %s after executeExit, want 0.6 (unwind path)", orch.kill.RealizedPnL())
	}
}
