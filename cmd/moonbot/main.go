// Moonbot - Autonomous Position Execution Engine
//
// An always-on trading presence for volatile token markets:
// 1. Discover candidates and qualify them through ordered admission paths
// 2. Open sized positions through a rate-budgeted action gateway
// 3. Manage every position with a fixed rule ladder (stop, trail, partial,
//    reversal, staleness) and retain moonbags on deep-profit exits
// 4. Sweep profit above the operating ceiling to cold storage and the team
// 5. Account every hour against a wage target
//
// Modes:
//   moonbot            long-running engine with per-concern loops
//   moonbot cycle      one synchronous pass, for cron-style operation
//   moonbot legacy     single loop on a fixed tick
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/moonbot/bot"
	"github.com/web3guy0/moonbot/config"
	"github.com/web3guy0/moonbot/core"
	"github.com/web3guy0/moonbot/exec"
	"github.com/web3guy0/moonbot/feeds"
	"github.com/web3guy0/moonbot/gateway"
	"github.com/web3guy0/moonbot/metrics"
	"github.com/web3guy0/moonbot/storage"
	"github.com/web3guy0/moonbot/treasury"
	"github.com/web3guy0/moonbot/wage"
)

const version = "1.2.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	mode := "run"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("mode", mode).
		Bool("dry_run", cfg.DryRun).
		Msg("🌙 Moonbot starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ====== CORE COMPONENTS ======

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}

	agent, err := exec.NewAgentClient(cfg.AgentURL, cfg.AgentKey, cfg.DryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize execution agent client")
	}

	gw := gateway.New(agent, cfg.GatewayBudgetPerMin, cfg.GatewayCacheTTL, cfg.MinEntryGap)
	book := core.NewBook()
	bus := core.NewBus()
	tracker := wage.NewTracker(cfg.HourlyTarget)

	dex := feeds.NewDexFeed(cfg.DexAPIURL)
	edge := feeds.NewEdgeFeed(cfg.EdgeAPIURL)
	stream := feeds.NewPriceStream(cfg.StreamWSURL)

	// ====== TELEGRAM BOT ======

	var notifier core.Notifier
	var tg *bot.TelegramBot
	if cfg.TelegramToken != "" {
		tg, err = bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID,
			store, book, cfg.HourlyTarget, agent.IsDryRun())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
		}
		tg.Start()
		notifier = tg
	} else {
		log.Warn().Msg("⚠️ No Telegram token - alerts disabled")
	}

	// ====== ENGINE WIRING ======

	sweeper := treasury.NewSweeper(cfg, gw, store, notifier)
	exits := core.NewExitOrchestrator(cfg, gw, store, agent, notifier, tracker)
	lifecycle := core.NewLifecycleManager(cfg, store, exits, book, notifier)
	entries := core.NewEntryManager(cfg, gw, store, book, stream, notifier)

	engine := core.NewEngine(cfg, gw, store, book, bus, entries, lifecycle,
		sweeper, tracker, dex, edge, stream, notifier)

	if cfg.MetricsAddr != "" {
		go metrics.Serve(cfg.MetricsAddr)
	}

	// ====== RUN ======

	if mode == "cycle" {
		if err := engine.RunOnce(ctx); err != nil {
			log.Fatal().Err(err).Msg("Cycle failed")
		}
		if tg != nil {
			tg.Stop()
		}
		log.Info().Msg("✅ Cycle complete")
		return
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info().Msg("🛑 Received shutdown signal")
		cancel()
	}()

	if tg != nil {
		if balance, out := gw.Balance(ctx); out.OK() {
			tg.NotifyStartup(balance)
		}
	}

	switch mode {
	case "legacy":
		err = engine.RunLegacy(ctx)
	default:
		err = engine.Run(ctx)
	}
	if err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("Engine stopped with error")
	}

	if tg != nil {
		tg.Stop()
	}
	log.Info().Msg("👋 Goodbye!")
}
