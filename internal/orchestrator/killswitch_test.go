package orchestrator

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKillSwitch_TripsAtLimit(t *testing.T) {
	now := time.Now()
	k := NewKillSwitch(dec("100"), now, discardLogger())

	k.ReportRealizedPnL(dec("-40"), now)
	if k.IsTripped() {
		t.Fatalf("tripped after only -40 against a -100 limit")
	}

	k.ReportRealizedPnL(dec("-60"), now)
	if !k.IsTripped() {
		t.Fatalf("not tripped after reaching the -100 daily limit")
	}
}

func TestKillSwitch_WinsDoNotTrip(t *testing.T) {
	now := time.Now()
	k := NewKillSwitch(dec("100"), now, discardLogger())

	k.ReportRealizedPnL(dec("-90"), now)
	k.ReportRealizedPnL(dec("50"), now)
	if k.IsTripped() {
		t.Fatalf("tripped despite net realized PnL of -40 against a -100 limit")
	}
}

func TestKillSwitch_ResetsOnDayRollover(t *testing.T) {
	now := time.Now()
	k := NewKillSwitch(dec("100"), now, discardLogger())

	k.ReportRealizedPnL(dec("-150"), now)
	if !k.IsTripped() {
		t.Fatalf("not tripped after -150 against a -100 limit")
	}

	nextDay := now.UTC().AddDate(0, 0, 1)
	k.ReportRealizedPnL(dec("0"), nextDay)
	if k.IsTripped() {
		t.Errorf("still tripped after a UTC day rollover")
	}
	if !k.RealizedPnL().IsZero() {
		t.Errorf("RealizedPnL() = %s after rollover, want 0", k.RealizedPnL())
	}
}
