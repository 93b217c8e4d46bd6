package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/moonbot/config"
	"github.com/web3guy0/moonbot/feeds"
	"github.com/web3guy0/moonbot/storage"
	"github.com/web3guy0/moonbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE MANAGER - One rule ladder per position per price observation
// ═══════════════════════════════════════════════════════════════════════════════
//
// Rules fire in fixed priority and at most one fires per observation:
//
//   1. hard stop loss        price at or below entry minus the stop distance
//   2. trailing stop         armed once peak gain clears the start threshold;
//                            distance tightens by tier as the peak gain grows
//   3. partial take          once per position at the partial-take gain
//   4. momentum reversal     in profit, short and medium momentum both
//                            sharply negative
//   5. staleness             held past the max hold time going nowhere
//
// The peak price updates before any rule is evaluated, so a new high on the
// same observation immediately tightens the trail it is judged against.
//
// ═══════════════════════════════════════════════════════════════════════════════

// trailTier maps a peak gain floor to its trailing distance. Checked top-down,
// first floor at or below the peak gain wins.
type trailTier struct {
	minGain  decimal.Decimal
	distance decimal.Decimal
}

var trailTiers = []trailTier{
	{decimal.NewFromFloat(1.00), decimal.NewFromFloat(0.07)},
	{decimal.NewFromFloat(0.50), decimal.NewFromFloat(0.10)},
	{decimal.NewFromFloat(0.20), decimal.NewFromFloat(0.12)},
	{decimal.Zero, decimal.NewFromFloat(0.15)},
}

// trailDistance returns the trailing distance for a peak gain.
func trailDistance(peakGain decimal.Decimal) decimal.Decimal {
	for _, t := range trailTiers {
		if peakGain.GreaterThanOrEqual(t.minGain) {
			return t.distance
		}
	}
	return trailTiers[len(trailTiers)-1].distance
}

// LifecycleManager applies the exit rule ladder to live positions.
type LifecycleManager struct {
	cfg      *config.Config
	store    *storage.Store
	exits    *ExitOrchestrator
	book     *Book
	notifier Notifier

	now func() time.Time
}

// NewLifecycleManager wires a manager from config.
func NewLifecycleManager(cfg *config.Config, store *storage.Store,
	exits *ExitOrchestrator, book *Book, notifier Notifier) *LifecycleManager {
	return &LifecycleManager{
		cfg:      cfg,
		store:    store,
		exits:    exits,
		book:     book,
		notifier: notifier,
		now:      time.Now,
	}
}

// Manage runs one rule-ladder pass for a position against a fresh quote.
func (m *LifecycleManager) Manage(ctx context.Context, p *types.Position, quote feeds.Quote) {
	price := quote.Price
	if price.IsZero() || p.Status == types.StatusClosed || p.Status == types.StatusFailed {
		return
	}
	if p.Status == types.StatusExitPending {
		// Parked exits retry their original reason, nothing else.
		if m.exits.Ready(p) {
			m.fullExit(ctx, p, price, p.ExitReason, false)
		}
		return
	}

	one := decimal.NewFromInt(1)

	// Peak first, so this observation is judged against its own high.
	if price.GreaterThan(p.PeakPrice) {
		p.PeakPrice = price
		m.refreshStop(p)
		if err := m.store.SavePosition(p); err != nil {
			log.Error().Err(err).Str("symbol", p.Symbol).Msg("Failed to persist peak update")
		}
	}

	gain := p.GainPct(price)
	peakGain := decimal.Zero
	if !p.EntryPrice.IsZero() {
		peakGain = p.PeakPrice.Sub(p.EntryPrice).Div(p.EntryPrice)
	}

	// 1. Hard stop loss.
	hardStop := p.EntryPrice.Mul(one.Sub(m.cfg.StopLossPct))
	if price.LessThanOrEqual(hardStop) {
		m.fullExit(ctx, p, price, "stop_loss", true)
		return
	}

	// 2. Trailing stop.
	if peakGain.GreaterThanOrEqual(m.cfg.TrailingStartPct) {
		trail := p.PeakPrice.Mul(one.Sub(trailDistance(peakGain)))
		if price.LessThanOrEqual(trail) {
			if gain.GreaterThanOrEqual(m.cfg.MoonbagMinGain) {
				m.moonbagExit(ctx, p, price)
				return
			}
			m.fullExit(ctx, p, price, "trailing_stop", true)
			return
		}
	}

	// 3. Partial take, once per position.
	if !p.PartialTaken && gain.GreaterThanOrEqual(m.cfg.PartialTakePct) {
		qty := p.Quantity.Mul(m.cfg.PartialTakeSize)
		m.exits.ExecuteExit(ctx, p, qty, price, "partial_take", false)
		return
	}

	// 4. Momentum reversal on short and medium windows together. Only fires
	// in profit; a losing position waits for the hard stop.
	if gain.GreaterThan(decimal.Zero) &&
		quote.Change5m.LessThanOrEqual(m.cfg.ReversalShortPct.Neg()) &&
		quote.Change1h.LessThanOrEqual(m.cfg.ReversalMedPct.Neg()) {
		m.fullExit(ctx, p, price, "momentum_reversal", true)
		return
	}

	// 5. Staleness: past max hold with nothing to show for it.
	if m.now().Sub(p.EntryTime) >= m.cfg.MaxHoldTime && gain.Abs().LessThan(m.cfg.StaleBandPct) {
		m.fullExit(ctx, p, price, "stale", false)
		return
	}
}

// refreshStop keeps the persisted stop at the tighter of the hard stop and
// the current trail. Informational; the ladder recomputes live.
func (m *LifecycleManager) refreshStop(p *types.Position) {
	one := decimal.NewFromInt(1)
	stop := p.EntryPrice.Mul(one.Sub(m.cfg.StopLossPct))

	if !p.EntryPrice.IsZero() {
		peakGain := p.PeakPrice.Sub(p.EntryPrice).Div(p.EntryPrice)
		if peakGain.GreaterThanOrEqual(m.cfg.TrailingStartPct) {
			trail := p.PeakPrice.Mul(one.Sub(trailDistance(peakGain)))
			if trail.GreaterThan(stop) {
				stop = trail
			}
		}
	}
	p.StopPrice = stop
}

// fullExit closes the whole position, optionally parking the token on the
// re-entry watchlist.
func (m *LifecycleManager) fullExit(ctx context.Context, p *types.Position,
	price decimal.Decimal, reason string, watch bool) {

	closed := m.exits.ExecuteExit(ctx, p, p.Quantity, price, reason, true)
	if !closed {
		return
	}
	m.book.Remove(p.ID)

	if watch {
		w := &types.WatchEntry{
			Symbol:       p.Symbol,
			Address:      p.Address,
			ExitPrice:    price,
			ExitReason:   reason,
			ReboundPrice: price.Mul(m.cfg.WatchReboundMul),
			CreatedAt:    m.now(),
		}
		if err := m.store.AddWatch(w); err != nil {
			log.Error().Err(err).Str("symbol", p.Symbol).Msg("Failed to add watchlist entry")
		} else {
			log.Info().
				Str("symbol", p.Symbol).
				Str("rebound", w.ReboundPrice.String()).
				Msg("👀 Watching for re-entry")
		}
	}
}

// moonbagExit closes a deep-profit position but retains a slice of the
// tokens as a moonbag, tracked separately for further upside.
func (m *LifecycleManager) moonbagExit(ctx context.Context, p *types.Position, price decimal.Decimal) {
	keep := p.Quantity.Mul(m.cfg.MoonbagPct)
	sell := p.Quantity.Sub(keep)
	qtyBefore := p.Quantity

	closed := m.exits.ExecuteExit(ctx, p, sell, price, "trailing_moonbag", true)
	if !closed {
		return
	}
	m.book.Remove(p.ID)

	// Only an executed sell leaves a real remainder to bag.
	if p.Quantity.GreaterThan(decimal.Zero) && p.Quantity.LessThan(qtyBefore) {
		bag := &types.Moonbag{
			ID:           uuid.NewString(),
			Symbol:       p.Symbol,
			Address:      p.Address,
			Quantity:     p.Quantity,
			EntryPrice:   p.EntryPrice,
			PeakPrice:    price,
			RebuyTrigger: p.EntryPrice.Mul(m.cfg.MoonbagRebuyMult),
			CreatedAt:    m.now(),
		}
		if err := m.store.SaveMoonbag(bag); err != nil {
			log.Error().Err(err).Str("symbol", p.Symbol).Msg("Failed to save moonbag")
			return
		}
		log.Info().
			Str("symbol", p.Symbol).
			Str("quantity", bag.Quantity.String()).
			Str("rebuy_trigger", bag.RebuyTrigger.String()).
			Msg("💎 Moonbag retained")
		if m.notifier != nil {
			m.notifier.Notify(fmt.Sprintf("💎 %s moonbag retained: %s tokens, rebuy signal at %s",
				bag.Symbol, bag.Quantity.StringFixed(4), bag.RebuyTrigger.String()))
		}
	}
}

// ManageMoonbags updates peaks and fires rebuy signals. Each fired signal
// doubles the trigger so alerts repeat at price doublings, not every cycle.
func (m *LifecycleManager) ManageMoonbags(ctx context.Context, priceOf func(ctx context.Context, address string) (decimal.Decimal, error)) {
	bags, err := m.store.Moonbags()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load moonbags")
		return
	}

	for _, bag := range bags {
		price, err := priceOf(ctx, bag.Address)
		if err != nil || price.IsZero() {
			continue
		}

		dirty := false
		if price.GreaterThan(bag.PeakPrice) {
			bag.PeakPrice = price
			dirty = true
		}

		if !bag.RebuyTrigger.IsZero() && price.GreaterThanOrEqual(bag.RebuyTrigger) {
			log.Info().
				Str("symbol", bag.Symbol).
				Str("price", price.String()).
				Str("trigger", bag.RebuyTrigger.String()).
				Msg("🚀 Moonbag rebuy signal")
			if m.notifier != nil {
				m.notifier.Notify(fmt.Sprintf("🚀 %s moonbag hit rebuy trigger at %s",
					bag.Symbol, price.String()))
			}
			bag.RebuyTrigger = bag.RebuyTrigger.Mul(decimal.NewFromInt(2))
			dirty = true
		}

		if dirty {
			if err := m.store.SaveMoonbag(bag); err != nil {
				log.Error().Err(err).Str("symbol", bag.Symbol).Msg("Failed to update moonbag")
			}
		}
	}
}
