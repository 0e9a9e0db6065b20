// Package orchestrator implements the orchestrator (component G): the
// event-driven tick dispatcher that funnels order-book updates, the
// periodic tick, and venue fill events into a single per-market evaluation
// entry point, translates the strategy FSM's Intent into venue calls, and
// enforces the process-wide kill switch.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/scalp-engine/internal/config"
	"github.com/sdibella/scalp-engine/internal/exit"
	"github.com/sdibella/scalp-engine/internal/journal"
	"github.com/sdibella/scalp-engine/internal/ledger"
	"github.com/sdibella/scalp-engine/internal/model"
	"github.com/sdibella/scalp-engine/internal/orderbook"
	"github.com/sdibella/scalp-engine/internal/registry"
	"github.com/sdibella/scalp-engine/internal/strategy"
	"github.com/sdibella/scalp-engine/internal/venue"
)

const (
	tickInterval      = 2 * time.Second
	discoveryInterval = 30 * time.Second
)

// MarketSource discovers newly listed markets. Wire-level search and URL
// parsing are out of scope here; this interface is the seam a concrete
// discoverer plugs into.
type MarketSource interface {
	Discover(ctx context.Context) ([]model.Market, error)
}

// Orchestrator wires the order-book mirror, venue adapter, market
// registry, position ledger, exit coordinator, and kill switch into the
// single-writer-per-market evaluation loop of §4.7/§5.
type Orchestrator struct {
	mirror    *orderbook.Mirror
	registry  *registry.Registry
	ledger    *ledger.Ledger
	adapter   venue.Adapter
	exitCoord *exit.Coordinator
	kill      *KillSwitch
	journal   *journal.Journal
	cfg       config.StrategyConfig
	tradingEnabled bool
	logger    *slog.Logger
	source    MarketSource

	tokenToMarket sync.Map // token id -> market id

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	pending   sync.Map // market id -> true while queued
	triggerCh chan string

	shutdownMu sync.Mutex
	shutdown   bool
}

// New returns a wired Orchestrator.
func New(mirror *orderbook.Mirror, reg *registry.Registry, ledg *ledger.Ledger, adapter venue.Adapter, exitCoord *exit.Coordinator, kill *KillSwitch, j *journal.Journal, cfg config.StrategyConfig, tradingEnabled bool, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		mirror:         mirror,
		registry:       reg,
		ledger:         ledg,
		adapter:        adapter,
		exitCoord:      exitCoord,
		kill:           kill,
		journal:        j,
		cfg:            cfg,
		tradingEnabled: tradingEnabled,
		logger:         logger.With("component", "orchestrator"),
		locks:          make(map[string]*sync.Mutex),
		triggerCh:      make(chan string, 1024),
	}
	mirror.OnUpdate(func(token string, _ *orderbook.Book) { o.onPriceUpdate(token) })
	return o
}

// SetMarketSource wires a discoverer; without one, markets must be added
// via RegisterMarket by an external caller.
func (o *Orchestrator) SetMarketSource(source MarketSource) {
	o.source = source
}

func (o *Orchestrator) runDiscovery(ctx context.Context, now time.Time) {
	if o.source == nil {
		return
	}
	markets, err := o.source.Discover(ctx)
	if err != nil {
		o.logger.Warn("market discovery failed", "error", err)
		return
	}
	for _, m := range markets {
		if _, ok := o.registry.Get(m.ID); ok {
			continue
		}
		if err := o.RegisterMarket(m, now); err != nil {
			o.logger.Warn("market registration failed", "market", m.ID, "error", err)
			continue
		}
		o.logger.Info("market discovered", "market", m.ID, "end_time", m.EndTime)
	}
}

// RegisterMarket admits a market into the registry, subscribes its tokens
// on the mirror, and indexes both token ids back to the market.
func (o *Orchestrator) RegisterMarket(m model.Market, now time.Time) error {
	if err := o.registry.Register(m, now); err != nil {
		return err
	}
	o.tokenToMarket.Store(m.YesTokenID, m.ID)
	o.tokenToMarket.Store(m.NoTokenID, m.ID)
	return o.mirror.Subscribe(m.YesTokenID, m.NoTokenID)
}

func (o *Orchestrator) marketForToken(token string) (string, bool) {
	v, ok := o.tokenToMarket.Load(token)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (o *Orchestrator) lockFor(marketID string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[marketID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[marketID] = l
	}
	return l
}

func (o *Orchestrator) forgetMarket(marketID string) {
	o.locksMu.Lock()
	delete(o.locks, marketID)
	o.locksMu.Unlock()
}

func (o *Orchestrator) onPriceUpdate(token string) {
	marketID, ok := o.marketForToken(token)
	if !ok {
		return
	}
	o.enqueue(marketID)
}

// enqueue coalesces repeated triggers for the same market into at most one
// pending evaluation.
func (o *Orchestrator) enqueue(marketID string) {
	if _, loaded := o.pending.LoadOrStore(marketID, true); loaded {
		return
	}
	select {
	case o.triggerCh <- marketID:
	default:
		o.pending.Delete(marketID) // channel saturated; ticker will pick it up next round
	}
}

// Run is the orchestrator's main loop. It blocks until ctx is cancelled;
// on cancellation, running evaluations finish their current call and no
// new evaluations start.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	discoveryTicker := time.NewTicker(discoveryInterval)
	defer discoveryTicker.Stop()

	o.runDiscovery(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			o.shutdownMu.Lock()
			o.shutdown = true
			o.shutdownMu.Unlock()
			return ctx.Err()

		case marketID := <-o.triggerCh:
			o.pending.Delete(marketID)
			o.evaluateMarket(ctx, marketID)

		case now := <-ticker.C:
			o.tick(ctx, now)

		case now := <-discoveryTicker.C:
			o.runDiscovery(ctx, now)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context, now time.Time) {
	for _, id := range o.registry.Prune(now) {
		o.ledger.Remove(id)
		o.exitCoord.Remove(id)
		o.forgetMarket(id)
		o.tokenToMarket.Range(func(k, v any) bool {
			if v.(string) == id {
				o.tokenToMarket.Delete(k)
			}
			return true
		})
	}

	o.registry.ForEachActive(func(m model.Market) {
		o.enqueue(m.ID)
	})
}

// evaluateMarket is the single per-market entry point of §4.7: it holds
// the market's exclusive lock across any suspending venue calls the
// resulting intent requires.
func (o *Orchestrator) evaluateMarket(ctx context.Context, marketID string) {
	o.shutdownMu.Lock()
	stopped := o.shutdown
	o.shutdownMu.Unlock()
	if stopped {
		return
	}

	market, ok := o.registry.Get(marketID)
	if !ok {
		return
	}

	lock := o.lockFor(marketID)
	lock.Lock()
	defer lock.Unlock()

	yesBid, yesAsk := o.mirror.BestPrices(market.YesTokenID)
	noBid, noAsk := o.mirror.BestPrices(market.NoTokenID)
	if yesAsk.IsZero() || noAsk.IsZero() {
		return // not yet active: both tokens need a valid best ask
	}

	state := o.ledger.State(marketID)
	evalCtx := strategy.EvalContext{
		Market:             market,
		Now:                time.Now(),
		YesBid:             yesBid,
		YesAsk:             yesAsk,
		NoBid:              noBid,
		NoAsk:              noAsk,
		LevelPositions:     o.ledger.LevelPositions(marketID),
		HighScalpPositions: append(o.ledger.HighScalpPositions(marketID, model.SideYes), o.ledger.HighScalpPositions(marketID, model.SideNo)...),
		CompletedCycles:    o.ledger.CompletedCycles(marketID),
	}

	gateWasCrossed := state.ForceUnwindGateCrossed
	intent, ok := strategy.Evaluate(evalCtx, state, o.cfg)
	if !gateWasCrossed && state.ForceUnwindGateCrossed {
		o.exitCoord.CancelAllForGateCrossing(ctx, marketID)
	}
	if !ok {
		return
	}

	o.journal.Log(journal.NewIntentEmitted(marketID, intent.ID, string(intent.Kind), string(intent.Side),
		intent.Price.String(), intent.Size.String(), string(intent.Urgency)))

	switch intent.Kind {
	case model.IntentEnterLevel, model.IntentEnterHighScalp:
		if o.kill.IsTripped() {
			o.logger.Warn("kill switch active, skipping entry", "market", marketID, "intent", intent.ID)
			return
		}
		o.executeEnter(ctx, market, intent)

	case model.IntentPlaceTPLimit:
		if !o.tradingEnabled {
			o.logger.Info("dry-run: simulating TP limit", "market", marketID, "intent", intent.ID)
			return
		}
		token := market.TokenID(intent.Side.Opposite())
		if err := o.exitCoord.HandlePlaceTPLimit(ctx, marketID, intent, token, time.Now()); err != nil {
			o.logger.Warn("place TP limit failed", "market", marketID, "error", err)
		}

	case model.IntentExit:
		o.executeExit(ctx, market, intent)
	}
}

func (o *Orchestrator) executeEnter(ctx context.Context, market model.Market, intent model.Intent) {
	if !o.tradingEnabled {
		o.logger.Info("dry-run: simulating entry", "market", market.ID, "intent", intent.ID)
		o.applyFill(market.ID, intent, "sim-"+intent.ID, true)
		return
	}

	token := market.TokenID(intent.Side)
	ack, err := o.adapter.PlaceOrder(ctx, token, venue.Buy, intent.Price, intent.Size, false)
	if err != nil {
		o.logger.Warn("enter order failed", "market", market.ID, "side", intent.Side, "error", err)
		return
	}
	o.applyFill(market.ID, intent, ack.OrderID, false)
}

// applyFill treats a marketable order's ack as its fill: there is no
// separate fill event or poll. The ledger dedups on orderID so a
// duplicate ack is harmless.
func (o *Orchestrator) applyFill(marketID string, intent model.Intent, orderID string, dryRun bool) {
	now := time.Now()
	if err := o.ledger.OnFill(marketID, intent.Side, intent.Price, intent.Size, intent.Classification, intent.ProfitTarget, orderID, now); err != nil {
		o.logger.Error("ledger rejected fill", "market", marketID, "error", err)
		return
	}
	o.journal.Log(journal.NewFill(marketID, orderID, string(intent.Side), intent.Price.String(), intent.Size.String(), string(intent.Classification), dryRun))
}

// executeExit implements the unwind-vs-SELL choice of §4.6: prefer buying
// the complementary token when collateral allows it, else sell the held
// token at the intent's fallback price.
func (o *Orchestrator) executeExit(ctx context.Context, market model.Market, intent model.Intent) {
	classification := model.ClassLevel
	if intent.IsHighScalp {
		classification = model.ClassHighScalp
	}

	positions := o.positionsFor(market.ID, intent.Side, classification)
	avgEntry := ledger.WeightedAvgEntry(positions)
	size := intent.Size

	var exitPrice decimal.Decimal
	usedFallback := false

	if !o.tradingEnabled {
		exitPrice = intent.Price
	} else {
		balance, err := o.adapter.GetCollateralBalance(ctx)
		needed := size.Mul(intent.Price)
		if err == nil && balance.GreaterThanOrEqual(needed) {
			oppositeToken := market.TokenID(intent.Side.Opposite())
			_, perr := o.adapter.PlaceOrder(ctx, oppositeToken, venue.Buy, intent.Price, size, false)
			switch {
			case perr == nil:
				exitPrice = intent.Price
			case errors.Is(perr, venue.ErrInsufficientBalance):
				usedFallback = true
			default:
				o.logger.Warn("exit unwind order failed", "market", market.ID, "error", perr)
				return
			}
		} else {
			usedFallback = true
		}

		if usedFallback {
			ownToken := market.TokenID(intent.Side)
			_, perr := o.adapter.PlaceOrder(ctx, ownToken, venue.Sell, intent.FallbackPrice, size, false)
			if perr != nil {
				o.logger.Warn("exit fallback SELL order failed", "market", market.ID, "error", perr)
				return
			}
			exitPrice = intent.FallbackPrice
		}
	}

	var pnlPerUnit decimal.Decimal
	if usedFallback {
		pnlPerUnit = exitPrice.Sub(avgEntry)
	} else {
		pnlPerUnit = model.UnitPnL(avgEntry, exitPrice)
	}
	totalPnL := pnlPerUnit.Mul(size)

	o.exitCoord.OnExitFillAck(market.ID, intent.Side, classification)
	strategy.ClearSideDebounce(o.ledger.State(market.ID), intent.Side)
	o.kill.ReportRealizedPnL(totalPnL, time.Now())

	o.journal.Log(journal.NewExitFill(market.ID, string(intent.Side), string(classification), exitPrice.String(), totalPnL.String(), usedFallback, !o.tradingEnabled))
}

func (o *Orchestrator) positionsFor(marketID string, side model.Side, classification model.Classification) []model.Position {
	var source []model.Position
	if classification == model.ClassLevel {
		source = o.ledger.LevelPositions(marketID)
	} else {
		source = o.ledger.HighScalpPositions(marketID, side)
	}
	var out []model.Position
	for _, p := range source {
		if p.Side == side {
			out = append(out, p)
		}
	}
	return out
}

// EmergencyUnwind implements the control-surface verb of §6: cancel all
// exit orders for marketID, then emit an EXIT for every open position,
// falling back to SELL when balance is insufficient.
func (o *Orchestrator) EmergencyUnwind(ctx context.Context, marketID string) error {
	market, ok := o.registry.Get(marketID)
	if !ok {
		return errorMarketNotFound(marketID)
	}

	lock := o.lockFor(marketID)
	lock.Lock()
	defer lock.Unlock()

	o.exitCoord.CancelAllForGateCrossing(ctx, marketID)

	_, yesAsk := o.mirror.BestPrices(market.YesTokenID)
	_, noAsk := o.mirror.BestPrices(market.NoTokenID)
	yesBid, _ := o.mirror.BestPrices(market.YesTokenID)
	noBid, _ := o.mirror.BestPrices(market.NoTokenID)

	for _, side := range []model.Side{model.SideYes, model.SideNo} {
		for _, classification := range []model.Classification{model.ClassLevel, model.ClassHighScalp} {
			positions := o.positionsFor(marketID, side, classification)
			if len(positions) == 0 {
				continue
			}
			size := decimal.Zero
			for _, p := range positions {
				size = size.Add(p.Size)
			}
			opposite := side.Opposite()
			exitAsk := yesAsk
			fallbackBid := yesBid
			if opposite == model.SideNo {
				exitAsk = noAsk
			}
			if side == model.SideNo {
				fallbackBid = noBid
			}
			intent := model.NewExit(side, exitAsk, size, classification == model.ClassHighScalp, model.UrgencyCritical,
				market.TokenID(side), fallbackBid)
			o.executeExit(ctx, market, intent)
		}
	}
	return nil
}

func errorMarketNotFound(marketID string) error {
	return &marketNotFoundError{marketID: marketID}
}

type marketNotFoundError struct{ marketID string }

func (e *marketNotFoundError) Error() string {
	return "orchestrator: market " + e.marketID + " not found"
}
