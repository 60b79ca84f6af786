package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"llm-tradebot/internal/engine"
	"llm-tradebot/internal/llm"
	"llm-tradebot/internal/logger"
	"llm-tradebot/internal/market"
	"llm-tradebot/internal/state"
	"llm-tradebot/internal/store"
	"llm-tradebot/internal/tradelog"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config file")
	flag.Parse()

	_ = godotenv.Load()
	must(logger.Init())

	cfg, err := store.LoadConfig(*configPath)
	must(err)
	if cfg.Mode == "LIVE" {
		log.Fatal("live execution sink is not wired; run in DRY_RUN mode")
	}

	if v := os.Getenv("TRADER_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		_ = tradelog.CompressOlder(n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := market.NewProvider(cfg)
	client, err := llm.NewFromConfig(cfg)
	must(err)

	runState := state.NewRunState()
	eng := engine.New(cfg, client, runState)

	logger.Info(ctx, "Trader started",
		"mode", cfg.Mode,
		"symbol", cfg.Trading.Symbol,
		"poll_seconds", cfg.Trading.PollSeconds,
		"llm_enabled", cfg.LLM.Enabled,
		"llm_provider", cfg.LLM.Provider,
	)

	tick := time.NewTicker(time.Duration(cfg.Trading.PollSeconds) * time.Second)
	defer tick.Stop()

	runOnce(ctx, provider, eng)
loop:
	for {
		select {
		case <-tick.C:
			runOnce(ctx, provider, eng)
		case <-ctx.Done():
			break loop
		}
	}

	logger.Info(context.Background(), "Shutting down",
		"cycles", runState.Cycles(),
		"uptime", time.Since(runState.StartedAt()).Round(time.Second).String(),
	)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = logger.Shutdown(shutdownCtx)
}

// runOnce fetches a snapshot and runs one pipeline cycle. A failed fetch
// costs this cycle only.
func runOnce(ctx context.Context, provider *market.Provider, eng *engine.Engine) {
	snap, err := provider.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.ErrorWithErr(ctx, "Snapshot fetch failed, skipping cycle", err)
		return
	}

	res := eng.RunCycle(ctx, snap, eng.Account(snap.CurrentPrice()))
	logger.Info(ctx, "Cycle finished",
		"status", res.Status,
		"action", res.Action,
		"reason", res.Reason,
	)
}
