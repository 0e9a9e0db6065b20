package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sdibella/scalp-engine/internal/config"
	"github.com/sdibella/scalp-engine/internal/exit"
	"github.com/sdibella/scalp-engine/internal/journal"
	"github.com/sdibella/scalp-engine/internal/ledger"
	"github.com/sdibella/scalp-engine/internal/orchestrator"
	"github.com/sdibella/scalp-engine/internal/orderbook"
	"github.com/sdibella/scalp-engine/internal/registry"
	"github.com/sdibella/scalp-engine/internal/venue"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "paper trade only (no real orders)")
	debug := flag.Bool("debug", false, "enable debug logging")
	strategyPath := flag.String("strategy", "./strategy.yaml", "path to strategy knobs YAML")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*strategyPath)
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	slog.Info("scalp engine starting",
		"env", cfg.VenueEnv,
		"dryRun", cfg.DryRun,
		"entryLevels", cfg.Strategy.EntryLevels,
	)

	signer, err := venue.LoadRSAPSSSigner(cfg.VenueAPIKeyID, cfg.VenuePrivKeyPath)
	if err != nil {
		slog.Error("signer init failed", "err", err)
		os.Exit(1)
	}
	client := venue.NewClient(cfg.BaseURL(), signer, logger)

	mirror := orderbook.New(cfg.WSBaseURL(), logger)
	reg := registry.New()
	ledg := ledger.New()
	exitCoord := exit.New(client, ledg, cfg.Strategy.MinRepriceInterval, logger)
	kill := orchestrator.NewKillSwitch(cfg.Strategy.DailyLossLimit, time.Now(), logger)

	j, err := journal.New(cfg.JournalPath)
	if err != nil {
		slog.Error("journal init failed", "err", err)
		os.Exit(1)
	}
	defer j.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	go func() {
		if err := mirror.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("orderbook mirror error", "err", err)
		}
	}()

	tradingEnabled := !cfg.DryRun
	bal, err := client.GetCollateralBalance(ctx)
	if err != nil {
		slog.Error("auth check failed — cannot reach venue API", "err", err)
		os.Exit(1)
	}
	slog.Info("authenticated", "balance", fmt.Sprintf("$%s", bal.StringFixed(2)))
	_ = j.Log(journal.NewSessionStart(cfg.VenueEnv, cfg.DryRun, bal.String()))

	orch := orchestrator.New(mirror, reg, ledg, client, exitCoord, kill, j, cfg.Strategy, tradingEnabled, logger)

	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("orchestrator error", "err", err)
		os.Exit(1)
	}

	slog.Info("scalp engine stopped")
}
