package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/moonbot/config"
	"github.com/web3guy0/moonbot/gateway"
	"github.com/web3guy0/moonbot/metrics"
	"github.com/web3guy0/moonbot/storage"
	"github.com/web3guy0/moonbot/types"
	"github.com/web3guy0/moonbot/wage"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXIT ORCHESTRATOR - Retries with escalating slippage, never loses an exit
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every sell runs through here: spend authorization first, then a bounded
// retry ladder where each attempt widens the slippage tolerance. A position
// whose ladder is exhausted parks in exit_pending and cools down before the
// next cycle retries it. Position row and aggregate P&L commit in one
// transaction, so a crash mid-exit never leaves them disagreeing.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Notifier pushes human-readable engine events to the operator.
type Notifier interface {
	Notify(msg string)
}

// Authorizer grants spend approval before a sell. Implementations must be
// idempotent so repeated exits of the same token cost nothing extra.
type Authorizer interface {
	EnsureSpendAuthorized(ctx context.Context, asset, spender string, amount decimal.Decimal) (bool, error)
}

// ExitOrchestrator executes sells with retries and escalating slippage.
type ExitOrchestrator struct {
	cfg      *config.Config
	gw       *gateway.Gateway
	store    *storage.Store
	auth     Authorizer
	notifier Notifier
	tracker  *wage.Tracker

	mu        sync.Mutex
	nextRetry map[string]time.Time // position id -> earliest retry
	alerted   map[string]bool      // manual-intervention alert already sent

	now func() time.Time
}

// NewExitOrchestrator wires an orchestrator from config.
func NewExitOrchestrator(cfg *config.Config, gw *gateway.Gateway, store *storage.Store,
	auth Authorizer, notifier Notifier, tracker *wage.Tracker) *ExitOrchestrator {
	return &ExitOrchestrator{
		cfg:       cfg,
		gw:        gw,
		store:     store,
		auth:      auth,
		notifier:  notifier,
		tracker:   tracker,
		nextRetry: make(map[string]time.Time),
		alerted:   make(map[string]bool),
		now:       time.Now,
	}
}

// Ready reports whether a parked exit_pending position may retry yet.
func (o *ExitOrchestrator) Ready(p *types.Position) bool {
	if p.Status != types.StatusExitPending {
		return true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	at, ok := o.nextRetry[p.ID]
	return !ok || !o.now().Before(at)
}

// slippage returns the tolerance for a zero-based attempt, clamped to the
// last configured tier.
func (o *ExitOrchestrator) slippage(attempt int) decimal.Decimal {
	tiers := o.cfg.ExitSlippage
	if len(tiers) == 0 {
		return decimal.Zero
	}
	if attempt >= len(tiers) {
		return tiers[len(tiers)-1]
	}
	return tiers[attempt]
}

// ExecuteExit sells sellQty of the position at the given reference price.
// final marks a position-closing sell; otherwise it is a partial reduction.
// Returns true when the position reached a terminal status and should leave
// the working set.
func (o *ExitOrchestrator) ExecuteExit(ctx context.Context, p *types.Position,
	sellQty, price decimal.Decimal, reason string, final bool) bool {

	if !o.Ready(p) {
		return false
	}
	if sellQty.LessThanOrEqual(decimal.Zero) || sellQty.GreaterThan(p.Quantity) {
		log.Error().
			Str("symbol", p.Symbol).
			Str("qty", sellQty.String()).
			Str("held", p.Quantity.String()).
			Msg("Refusing exit with invalid quantity")
		return false
	}

	if o.cfg.SpenderAddr != "" {
		ok, err := o.auth.EnsureSpendAuthorized(ctx, p.Address, o.cfg.SpenderAddr, sellQty.Mul(price))
		if err != nil || !ok {
			if err == nil {
				err = fmt.Errorf("authorization declined")
			}
			o.park(p, reason, err)
			return false
		}
	}

	policy := gateway.Policy{
		MaxAttempts: o.cfg.MaxExitAttempts,
		Delays:      o.cfg.ExitRetryDelays,
	}

	var out gateway.Outcome
	err := gateway.Retry(ctx, policy, func(attempt int) error {
		slip := o.slippage(attempt)
		out = o.gw.Invoke(ctx, gateway.Intent{
			Kind:     gateway.IntentSell,
			Symbol:   p.Symbol,
			Address:  p.Address,
			Quantity: sellQty,
			Slippage: slip,
		})
		p.ExitAttempts++

		if out.Code == gateway.OutcomeExecuted || out.Code == gateway.OutcomePaper {
			return nil
		}

		p.LastExitError = out.Reason
		log.Warn().
			Str("symbol", p.Symbol).
			Int("attempt", attempt+1).
			Str("slippage", slip.String()).
			Str("outcome", string(out.Code)).
			Str("reason", out.Reason).
			Msg("🔁 Exit attempt failed")
		return fmt.Errorf("exit %s: %s", out.Code, out.Reason)
	})
	if err != nil {
		o.park(p, reason, err)
		return false
	}

	if out.Code == gateway.OutcomePaper {
		return o.settlePaper(p, sellQty, reason, final)
	}

	return o.settle(p, sellQty, price, reason, final, out.Refs)
}

// settle books an executed sell: position math plus aggregate P&L in one
// transaction.
func (o *ExitOrchestrator) settle(p *types.Position, sellQty, price decimal.Decimal,
	reason string, final bool, refs []string) bool {

	proceeds := sellQty.Mul(price)
	soldCost := p.Amount
	if !p.Quantity.IsZero() {
		soldCost = p.Amount.Mul(sellQty).Div(p.Quantity)
	}
	pnl := proceeds.Sub(soldCost)
	now := o.now()

	p.Quantity = p.Quantity.Sub(sellQty)
	p.Amount = p.Amount.Sub(soldCost)
	p.RealizedPnL = p.RealizedPnL.Add(pnl)
	p.LastExitError = ""
	if len(refs) > 0 {
		p.TxRef = refs[0]
	}

	if final {
		p.Status = types.StatusClosed
		p.ExitTime = &now
		p.ExitReason = reason
	} else {
		p.Status = types.StatusPartial
		p.PartialTaken = true
	}

	o.mu.Lock()
	delete(o.nextRetry, p.ID)
	delete(o.alerted, p.ID)
	o.mu.Unlock()

	err := o.store.SavePositionWithState(p, func(st *types.AggregateState) error {
		st.TotalPnL = st.TotalPnL.Add(pnl)
		st.DailyVolume = st.DailyVolume.Add(proceeds)
		if final {
			if p.RealizedPnL.LessThan(decimal.Zero) {
				st.Losses++
			} else {
				st.Wins++ // break-even is not a loss
			}
		}
		o.tracker.Record(&st.Wage, pnl, now)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("symbol", p.Symbol).Msg("Failed to persist exit")
	}

	metrics.Exits.WithLabelValues(reason).Inc()
	snap := o.store.Snapshot()
	total, _ := snap.TotalPnL.Float64()
	metrics.TotalPnL.Set(total)

	emoji := "💰"
	if pnl.LessThan(decimal.Zero) {
		emoji = "📉"
	}
	log.Info().
		Str("symbol", p.Symbol).
		Str("reason", reason).
		Bool("final", final).
		Str("pnl", pnl.StringFixed(2)).
		Str("price", price.String()).
		Msg(emoji + " Exit executed")

	if o.notifier != nil {
		o.notifier.Notify(fmt.Sprintf("%s %s exit (%s): $%s P&L",
			emoji, p.Symbol, reason, pnl.StringFixed(2)))
	}
	return final
}

// settlePaper records a sell the agent acknowledged but never executed.
// Paper results go to their own ledger and never touch the aggregate P&L.
func (o *ExitOrchestrator) settlePaper(p *types.Position, sellQty decimal.Decimal,
	reason string, final bool) bool {

	if o.cfg.PaperLedger {
		if err := o.store.AppendPaper(p.Symbol, string(gateway.IntentSell), sellQty, reason); err != nil {
			log.Error().Err(err).Msg("Failed to write paper ledger")
		}
	}

	log.Warn().
		Str("symbol", p.Symbol).
		Str("reason", reason).
		Msg("📝 Exit acknowledged on paper only")

	now := o.now()
	if final {
		p.Status = types.StatusClosed
		p.ExitTime = &now
		p.ExitReason = reason + " (paper)"
	} else {
		// Do not hammer the agent with the same partial every cycle.
		p.PartialTaken = true
	}
	if err := o.store.SavePosition(p); err != nil {
		log.Error().Err(err).Msg("Failed to persist paper exit")
	}
	return final
}

// park moves a position into exit_pending with a cooldown before the next
// cycle retries, alerting the operator once the failure count crosses the
// manual-intervention threshold.
func (o *ExitOrchestrator) park(p *types.Position, reason string, cause error) {
	if types.CanTransition(p.Status, types.StatusExitPending) {
		p.Status = types.StatusExitPending
	}
	p.LastExitError = cause.Error()
	p.ExitReason = reason

	o.mu.Lock()
	o.nextRetry[p.ID] = o.now().Add(o.cfg.ExitCooldown)
	failedCycles := 0
	if o.cfg.MaxExitAttempts > 0 {
		failedCycles = p.ExitAttempts / o.cfg.MaxExitAttempts
	}
	needAlert := failedCycles >= o.cfg.ManualAlertAfter && !o.alerted[p.ID]
	if needAlert {
		o.alerted[p.ID] = true
	}
	o.mu.Unlock()

	if err := o.store.SavePosition(p); err != nil {
		log.Error().Err(err).Str("symbol", p.Symbol).Msg("Failed to persist parked exit")
	}

	log.Error().
		Str("symbol", p.Symbol).
		Int("attempts", p.ExitAttempts).
		Str("cause", cause.Error()).
		Msg("⏸️ Exit parked, cooling down")

	if needAlert && o.notifier != nil {
		o.notifier.Notify(fmt.Sprintf(
			"🚨 MANUAL INTERVENTION: %s exit failed %d cycles (%s). Position parked.",
			p.Symbol, failedCycles, cause.Error()))
	}
}
