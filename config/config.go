package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the engine
type Config struct {
	// Mode
	DryRun bool
	Debug  bool

	// Action Gateway
	GatewayBudgetPerMin int             // metered calls per rolling minute
	GatewayCacheTTL     time.Duration   // idempotent read cache
	MinEntryGap         time.Duration   // hard minimum between position opens

	// Qualification floor
	MinLiquidity   decimal.Decimal
	MaxDrawdown24h decimal.Decimal // reject below -X (fractional, 0.60 = -60%)
	MinScore       decimal.Decimal
	TrustedTiers   []string

	// Entry sizing
	EntryPct       decimal.Decimal // fraction of available balance per entry
	MaxEntryPct    decimal.Decimal // hard cap fraction of balance
	MaxPositions   int
	MaxDailyVolume decimal.Decimal

	// Lifecycle
	StopLossPct      decimal.Decimal // 0.25 = exit 25% below entry
	TrailingStartPct decimal.Decimal // start trailing after this gain
	PartialTakePct   decimal.Decimal // gain that triggers the partial take
	PartialTakeSize  decimal.Decimal // fraction sold on partial take
	MoonbagPct       decimal.Decimal // fraction retained on deep-profit exits
	MoonbagMinGain   decimal.Decimal // gain required to leave a moonbag
	MoonbagRebuyMult decimal.Decimal // rebuy trigger as multiple of entry
	MaxHoldTime      time.Duration
	StaleBandPct     decimal.Decimal // |net move| below this counts as stale

	// Momentum reversal
	ReversalShortPct decimal.Decimal // 5m drop that signals reversal
	ReversalMedPct   decimal.Decimal // 1h drop that signals reversal

	// Exit retry
	MaxExitAttempts  int
	ExitSlippage     []decimal.Decimal // per-attempt slippage tolerance
	ExitRetryDelays  []time.Duration
	ExitCooldown     time.Duration // before an exit_pending position retries
	ManualAlertAfter int           // failed cycles before a manual alert

	// Re-entry watchlist
	WatchTTL        time.Duration
	WatchReboundMul decimal.Decimal

	// Treasury
	TreasuryCeiling  decimal.Decimal
	TreasuryFloor    decimal.Decimal
	MinSweep         decimal.Decimal
	SweepColdPct     decimal.Decimal
	SweepTeamPct     decimal.Decimal
	ColdWallet       string
	TeamWallet       string

	// Wage
	HourlyTarget decimal.Decimal

	// Presence cadences
	DiscoveryInterval   time.Duration
	MonitorIntervalHot  time.Duration // while positions are open
	MonitorIntervalCold time.Duration
	BalanceInterval     time.Duration
	EdgeScanInterval    time.Duration
	TickInterval        time.Duration // legacy single-loop mode

	// Feeds
	DexAPIURL    string
	EdgeAPIURL   string
	StreamWSURL  string
	AgentURL     string
	AgentKey     string // hex private key for intent signing
	SpenderAddr  string

	// Paper ledger
	PaperLedger bool

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Metrics
	MetricsAddr string // empty disables the listener

	// Database
	DatabasePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		GatewayBudgetPerMin: getEnvInt("GATEWAY_BUDGET_PER_MIN", 20),
		GatewayCacheTTL:     getEnvDuration("GATEWAY_CACHE_TTL", 45*time.Second),
		MinEntryGap:         getEnvDuration("MIN_ENTRY_GAP", 30*time.Second),

		MinLiquidity:   getEnvDecimal("MIN_LIQUIDITY", decimal.NewFromInt(25000)),
		MaxDrawdown24h: getEnvDecimal("MAX_DRAWDOWN_24H", decimal.NewFromFloat(0.60)),
		MinScore:       getEnvDecimal("MIN_SCORE", decimal.NewFromInt(70)),
		TrustedTiers:   getEnvList("TRUSTED_TIERS", []string{"bluechip", "ecosystem"}),

		EntryPct:       getEnvDecimal("ENTRY_PCT", decimal.NewFromFloat(0.10)),
		MaxEntryPct:    getEnvDecimal("MAX_ENTRY_PCT", decimal.NewFromFloat(0.25)),
		MaxPositions:   getEnvInt("MAX_POSITIONS", 5),
		MaxDailyVolume: getEnvDecimal("MAX_DAILY_VOLUME", decimal.NewFromInt(2000)),

		StopLossPct:      getEnvDecimal("STOP_LOSS_PCT", decimal.NewFromFloat(0.25)),
		TrailingStartPct: getEnvDecimal("TRAILING_START_PCT", decimal.NewFromFloat(0.10)),
		PartialTakePct:   getEnvDecimal("PARTIAL_TAKE_PCT", decimal.NewFromFloat(0.40)),
		PartialTakeSize:  getEnvDecimal("PARTIAL_TAKE_SIZE", decimal.NewFromFloat(0.50)),
		MoonbagPct:       getEnvDecimal("MOONBAG_PCT", decimal.NewFromFloat(0.15)),
		MoonbagMinGain:   getEnvDecimal("MOONBAG_MIN_GAIN", decimal.NewFromFloat(1.00)),
		MoonbagRebuyMult: getEnvDecimal("MOONBAG_REBUY_MULT", decimal.NewFromInt(2)),
		MaxHoldTime:      getEnvDuration("MAX_HOLD_TIME", 4*time.Hour),
		StaleBandPct:     getEnvDecimal("STALE_BAND_PCT", decimal.NewFromFloat(0.05)),

		ReversalShortPct: getEnvDecimal("REVERSAL_SHORT_PCT", decimal.NewFromFloat(0.08)),
		ReversalMedPct:   getEnvDecimal("REVERSAL_MED_PCT", decimal.NewFromFloat(0.12)),

		MaxExitAttempts: getEnvInt("MAX_EXIT_ATTEMPTS", 3),
		ExitSlippage: []decimal.Decimal{
			getEnvDecimal("EXIT_SLIPPAGE_1", decimal.NewFromFloat(0.01)),
			getEnvDecimal("EXIT_SLIPPAGE_2", decimal.NewFromFloat(0.025)),
			getEnvDecimal("EXIT_SLIPPAGE_3", decimal.NewFromFloat(0.05)),
		},
		ExitRetryDelays: []time.Duration{
			getEnvDuration("EXIT_RETRY_DELAY_1", 2*time.Second),
			getEnvDuration("EXIT_RETRY_DELAY_2", 5*time.Second),
		},
		ExitCooldown:     getEnvDuration("EXIT_COOLDOWN", 60*time.Second),
		ManualAlertAfter: getEnvInt("MANUAL_ALERT_AFTER", 5),

		WatchTTL:        getEnvDuration("WATCH_TTL", 30*time.Minute),
		WatchReboundMul: getEnvDecimal("WATCH_REBOUND_MULT", decimal.NewFromFloat(1.5)),

		TreasuryCeiling: getEnvDecimal("TREASURY_CEILING", decimal.NewFromInt(500)),
		TreasuryFloor:   getEnvDecimal("TREASURY_FLOOR", decimal.NewFromInt(300)),
		MinSweep:        getEnvDecimal("MIN_SWEEP", decimal.NewFromInt(50)),
		SweepColdPct:    getEnvDecimal("SWEEP_COLD_PCT", decimal.NewFromFloat(0.50)),
		SweepTeamPct:    getEnvDecimal("SWEEP_TEAM_PCT", decimal.NewFromFloat(0.20)),
		ColdWallet:      os.Getenv("COLD_WALLET"),
		TeamWallet:      os.Getenv("TEAM_WALLET"),

		HourlyTarget: getEnvDecimal("HOURLY_TARGET", decimal.NewFromInt(10)),

		DiscoveryInterval:   getEnvDuration("DISCOVERY_INTERVAL", 90*time.Second),
		MonitorIntervalHot:  getEnvDuration("MONITOR_INTERVAL_HOT", 15*time.Second),
		MonitorIntervalCold: getEnvDuration("MONITOR_INTERVAL_COLD", 60*time.Second),
		BalanceInterval:     getEnvDuration("BALANCE_INTERVAL", 5*time.Minute),
		EdgeScanInterval:    getEnvDuration("EDGE_SCAN_INTERVAL", 10*time.Minute),
		TickInterval:        getEnvDuration("TICK_INTERVAL", 60*time.Second),

		DexAPIURL:   getEnv("DEX_API_URL", "https://api.dexscreener.com"),
		EdgeAPIURL:  getEnv("EDGE_API_URL", "https://gamma-api.polymarket.com"),
		StreamWSURL: getEnv("STREAM_WS_URL", ""),
		AgentURL:    getEnv("AGENT_URL", "http://localhost:8787"),
		AgentKey:    os.Getenv("AGENT_PRIVATE_KEY"),
		SpenderAddr: os.Getenv("SPENDER_ADDRESS"),

		PaperLedger: getEnvBool("PAPER_LEDGER", true),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		MetricsAddr: getEnv("METRICS_ADDR", ""),

		DatabasePath: getEnv("DATABASE_PATH", "data/moonbot.db"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.TreasuryFloor.GreaterThan(cfg.TreasuryCeiling) {
		return nil, fmt.Errorf("TREASURY_FLOOR %s above TREASURY_CEILING %s",
			cfg.TreasuryFloor, cfg.TreasuryCeiling)
	}

	if cfg.SweepColdPct.Add(cfg.SweepTeamPct).GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("sweep splits exceed 100%%")
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
