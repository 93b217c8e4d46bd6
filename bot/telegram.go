package bot

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/moonbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Trade notifications & operator queries
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   💰 Entry/exit/moonbag notifications
//   🚨 Manual-intervention alerts for stuck exits
//   🎛️ Query commands (/status, /stats, /positions, /wage)
//
// ═══════════════════════════════════════════════════════════════════════════════

// StatsProvider exposes the aggregate counters and trade history.
type StatsProvider interface {
	Snapshot() types.AggregateState
	RecentPositions(limit int) ([]*types.Position, error)
}

// BookView exposes the live working set.
type BookView interface {
	Live() []*types.Position
	Count() int
}

// TelegramBot manages the Telegram interface.
type TelegramBot struct {
	mu      sync.Mutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	stats  StatsProvider
	book   BookView
	target decimal.Decimal // hourly wage target, for /wage
	dryRun bool
}

// NewTelegramBot creates the bot. Fails fast on a bad token so a typo never
// silently mutes every alert.
func NewTelegramBot(token string, chatID int64, stats StatsProvider, book BookView,
	target decimal.Decimal, dryRun bool) (*TelegramBot, error) {

	if token == "" {
		return nil, fmt.Errorf("telegram token not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &TelegramBot{
		api:    api,
		chatID: chatID,
		stopCh: make(chan struct{}),
		stats:  stats,
		book:   book,
		target: target,
		dryRun: dryRun,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return b, nil
}

// Start begins listening for commands.
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the command loop.
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.running = false
	close(b.stopCh)
	log.Info().Msg("Telegram bot stopped")
}

// Notify pushes one engine event to the operator chat.
func (b *TelegramBot) Notify(msg string) {
	b.send(msg)
}

// NotifyStartup announces the engine coming up.
func (b *TelegramBot) NotifyStartup(balance decimal.Decimal) {
	mode := "LIVE"
	if b.dryRun {
		mode = "DRY RUN"
	}

	msg := fmt.Sprintf(`🌙 *MOONBOT STARTED*
━━━━━━━━━━━━━━━━━━━━

📊 Mode: *%s*
💰 Balance: *$%s*
💼 Positions: *%d*

Use /help for commands`,
		mode, balance.StringFixed(2), b.book.Count())

	b.sendMarkdown(msg)
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			// Only respond to the authorized chat
			if update.Message.Chat.ID != b.chatID {
				continue
			}
			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	switch strings.ToLower(msg.Command()) {
	case "start", "help":
		b.cmdHelp()
	case "status":
		b.cmdStatus()
	case "stats":
		b.cmdStats()
	case "positions":
		b.cmdPositions()
	case "trades":
		b.cmdTrades()
	case "wage":
		b.cmdWage()
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

func (b *TelegramBot) cmdHelp() {
	msg := `🌙 *MOONBOT COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Engine status
📈 /stats — Trading statistics
💼 /positions — Open positions
📜 /trades — Last 10 positions
⏰ /wage — Hourly performance
🏓 /ping — Test connection`

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdStatus() {
	mode := "LIVE"
	if b.dryRun {
		mode = "DRY RUN"
	}
	snap := b.stats.Snapshot()

	msg := fmt.Sprintf(`📊 *ENGINE STATUS*
━━━━━━━━━━━━━━━━━━━━

🟢 RUNNING
📊 Mode: *%s*
💼 Open: *%d*
📅 Daily volume: *$%s*
💵 Total P&L: *%s*`,
		mode, b.book.Count(),
		snap.DailyVolume.StringFixed(2),
		signed(snap.TotalPnL))

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdStats() {
	snap := b.stats.Snapshot()

	winRate := float64(0)
	if closed := snap.Wins + snap.Losses; closed > 0 {
		winRate = float64(snap.Wins) / float64(closed) * 100
	}

	msg := fmt.Sprintf(`📈 *TRADING STATS*
━━━━━━━━━━━━━━━━━━━━

📊 Total Trades: *%d*
✅ Wins: *%d*
❌ Losses: *%d*
📈 Win Rate: *%.1f%%*

━━━━━━━━━━━━━━━━━━━━
💵 Total P&L: *%s*
🏦 Swept cold: *$%s*
👥 Swept team: *$%s*
♻️ Reinvested: *$%s*`,
		snap.TotalTrades, snap.Wins, snap.Losses, winRate,
		signed(snap.TotalPnL),
		snap.SweptToCold.StringFixed(2),
		snap.SweptToTeam.StringFixed(2),
		snap.Reinvested.StringFixed(2))

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdPositions() {
	positions := b.book.Live()
	if len(positions) == 0 {
		b.send("📭 No open positions")
		return
	}

	msg := "💼 *OPEN POSITIONS*\n━━━━━━━━━━━━━━━━━━━━\n\n"
	for i, p := range positions {
		statusEmoji := "🟢"
		switch p.Status {
		case types.StatusPartial:
			statusEmoji = "🟡"
		case types.StatusExitPending:
			statusEmoji = "⏸️"
		}
		duration := time.Since(p.EntryTime).Round(time.Minute)

		msg += fmt.Sprintf(`%s *%s* (%s)
💵 Entry: %s | Size: $%s
🛑 Stop: %s | ⏱️ %v

`,
			statusEmoji, p.Symbol, p.Status,
			p.EntryPrice.String(), p.Amount.StringFixed(2),
			p.StopPrice.String(), duration)

		if i >= 4 {
			msg += fmt.Sprintf("_... and %d more_", len(positions)-5)
			break
		}
	}

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdTrades() {
	trades, err := b.stats.RecentPositions(10)
	if err != nil {
		b.send("❌ Failed to fetch trades")
		return
	}
	if len(trades) == 0 {
		b.send("📭 No trade history yet")
		return
	}

	msg := "📜 *LAST 10 POSITIONS*\n━━━━━━━━━━━━━━━━━━━━\n\n"
	for _, t := range trades {
		emoji := "📌"
		switch {
		case t.Status == types.StatusClosed && t.RealizedPnL.GreaterThan(decimal.Zero):
			emoji = "💰"
		case t.Status == types.StatusClosed:
			emoji = "🛑"
		case t.Status == types.StatusExitPending:
			emoji = "⏸️"
		case t.Status == types.StatusOpen || t.Status == types.StatusPartial:
			emoji = "🟢"
		}

		line := fmt.Sprintf("%s %s %s", emoji, t.Symbol, t.Status)
		if t.Status == types.StatusClosed {
			line += fmt.Sprintf(" (%s): %s", t.ExitReason, signed(t.RealizedPnL))
		}
		msg += line + "\n   _" + t.EntryTime.Format("Jan 2 15:04") + "_\n\n"
	}

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdWage() {
	w := b.stats.Snapshot().Wage

	msg := fmt.Sprintf(`⏰ *HOURLY PERFORMANCE*
━━━━━━━━━━━━━━━━━━━━

🎯 Target: *$%s/hr*
⏳ This hour: *%s*
💵 Earned: *$%s*
📉 Owed: *$%s*
🔥 Streak: *%d* (best %d)
⚡ Efficiency: *%s%%*`,
		b.target.StringFixed(2),
		signed(w.HourAccrued),
		w.TotalEarned.StringFixed(2),
		w.DebtOwed.StringFixed(2),
		w.Streak, w.BestStreak,
		w.Efficiency(b.target).Mul(decimal.NewFromInt(100)).StringFixed(1))

	b.sendMarkdown(msg)
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func signed(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Abs().StringFixed(2)
	}
	return "+$" + d.StringFixed(2)
}

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
