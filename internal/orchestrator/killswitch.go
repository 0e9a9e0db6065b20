package orchestrator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// KillSwitch is the process-wide risk gate of §4.7: a tripped flag set by a
// daily realized-PnL loss limit. When tripped, the orchestrator stops
// emitting entries but keeps driving exit logic until positions close.
type KillSwitch struct {
	mu             sync.Mutex
	dailyLossLimit decimal.Decimal
	realizedPnL    decimal.Decimal
	dayStart       time.Time
	tripped        bool
	logger         *slog.Logger
}

// NewKillSwitch returns a KillSwitch with the given daily loss limit
// (positive number, e.g. 100 meaning stop entries after $100 realized
// loss).
func NewKillSwitch(dailyLossLimit decimal.Decimal, now time.Time, logger *slog.Logger) *KillSwitch {
	return &KillSwitch{
		dailyLossLimit: dailyLossLimit,
		dayStart:       startOfDayUTC(now),
		logger:         logger.With("component", "kill_switch"),
	}
}

func startOfDayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ReportRealizedPnL folds a newly realized PnL delta into the day's
// running total and trips the switch if the daily loss limit is breached.
func (k *KillSwitch) ReportRealizedPnL(delta decimal.Decimal, now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if today := startOfDayUTC(now); today.After(k.dayStart) {
		k.dayStart = today
		k.realizedPnL = decimal.Zero
		if k.tripped {
			k.tripped = false
			k.logger.Info("kill switch reset for new trading day")
		}
	}

	k.realizedPnL = k.realizedPnL.Add(delta)

	if !k.tripped && k.realizedPnL.Neg().GreaterThanOrEqual(k.dailyLossLimit) {
		k.tripped = true
		k.logger.Error("kill switch tripped: daily loss limit breached",
			"realized_pnl", k.realizedPnL.String(), "limit", k.dailyLossLimit.String())
	}
}

// IsTripped reports whether the kill switch is currently engaged.
func (k *KillSwitch) IsTripped() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tripped
}

// RealizedPnL returns today's running realized PnL.
func (k *KillSwitch) RealizedPnL() decimal.Decimal {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.realizedPnL
}
