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
	"github.com/web3guy0/moonbot/gateway"
	"github.com/web3guy0/moonbot/metrics"
	"github.com/web3guy0/moonbot/scorer"
	"github.com/web3guy0/moonbot/storage"
	"github.com/web3guy0/moonbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENTRY MANAGER - At most one new position per discovery cycle
// ═══════════════════════════════════════════════════════════════════════════════
//
// Ceilings first (position count, daily volume), then the watchlist gate,
// then qualification, then sizing off the cached balance. The first buy
// attempt ends the cycle whatever its outcome; a deferred or failed attempt
// waits for the next batch rather than walking down the candidate list.
//
// ═══════════════════════════════════════════════════════════════════════════════

// entrySlippage is the standard buy tolerance. Exits escalate; entries that
// need more slippage than this are entries not worth making.
var entrySlippage = decimal.NewFromFloat(0.01)

// EntryManager qualifies candidates and opens positions.
type EntryManager struct {
	cfg      *config.Config
	gw       *gateway.Gateway
	store    *storage.Store
	book     *Book
	stream   *feeds.PriceStream
	notifier Notifier

	params scorer.Params
	now    func() time.Time
}

// NewEntryManager wires a manager from config.
func NewEntryManager(cfg *config.Config, gw *gateway.Gateway, store *storage.Store,
	book *Book, stream *feeds.PriceStream, notifier Notifier) *EntryManager {

	params := scorer.DefaultParams()
	params.MinLiquidity = cfg.MinLiquidity
	params.MaxDrawdown24h = cfg.MaxDrawdown24h
	params.MinScore = cfg.MinScore
	params.TrustedTiers = cfg.TrustedTiers

	return &EntryManager{
		cfg:      cfg,
		gw:       gw,
		store:    store,
		book:     book,
		stream:   stream,
		notifier: notifier,
		params:   params,
		now:      time.Now,
	}
}

// Consider runs one entry pass over a candidate batch.
func (e *EntryManager) Consider(ctx context.Context, candidates []*types.Candidate) {
	now := e.now()

	if err := e.store.WithState(func(st *types.AggregateState) error {
		if st.ResetDailyVolumeIfNeeded(now) {
			log.Info().Msg("🌅 Daily volume counter reset")
		}
		return nil
	}); err != nil {
		log.Error().Err(err).Msg("Failed to roll daily volume")
		return
	}

	if e.book.Count() >= e.cfg.MaxPositions {
		log.Debug().Int("open", e.book.Count()).Msg("Position ceiling reached")
		return
	}

	snap := e.store.Snapshot()
	headroom := e.cfg.MaxDailyVolume.Sub(snap.DailyVolume)
	if headroom.LessThanOrEqual(decimal.Zero) {
		log.Debug().Str("volume", snap.DailyVolume.StringFixed(0)).Msg("Daily volume ceiling reached")
		return
	}

	watching := e.watchlist(now)

	balance, out := e.gw.Balance(ctx)
	if !out.OK() {
		log.Warn().Str("outcome", string(out.Code)).Msg("Balance unavailable, skipping entries")
		return
	}

	for _, c := range candidates {
		if c.Address == "" || c.Price.IsZero() || e.book.Holds(c.Address) {
			continue
		}

		// A watched token only re-enters after its rebound price prints.
		if w, ok := watching[c.Address]; ok {
			if c.Price.LessThan(w.ReboundPrice) {
				continue
			}
			log.Info().
				Str("symbol", c.Symbol).
				Str("price", c.Price.String()).
				Msg("⚡ Watchlist rebound confirmed")
			if err := e.store.RemoveWatch(c.Address); err != nil {
				log.Error().Err(err).Msg("Failed to clear watchlist entry")
			}
		}

		res := scorer.Evaluate(c, e.params)
		if !res.Admit {
			log.Debug().Str("symbol", c.Symbol).Str("reason", res.Reason).Msg("Candidate rejected")
			continue
		}

		size := e.size(balance, headroom)
		if size.LessThanOrEqual(decimal.Zero) {
			return
		}

		e.attempt(ctx, c, res.Path, size)
		return // one attempt per cycle, whatever its outcome
	}
}

// watchlist prunes expired entries and indexes survivors by address.
func (e *EntryManager) watchlist(now time.Time) map[string]*types.WatchEntry {
	survivors, err := e.store.PruneWatchlist(now, e.cfg.WatchTTL)
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune watchlist")
		return nil
	}
	out := make(map[string]*types.WatchEntry, len(survivors))
	for _, w := range survivors {
		out[w.Address] = w
	}
	return out
}

// size returns the entry amount: a fraction of balance, capped hard and
// capped again by the remaining daily volume headroom.
func (e *EntryManager) size(balance, headroom decimal.Decimal) decimal.Decimal {
	size := balance.Mul(e.cfg.EntryPct)
	if hardCap := balance.Mul(e.cfg.MaxEntryPct); size.GreaterThan(hardCap) {
		size = hardCap
	}
	if size.GreaterThan(headroom) {
		size = headroom
	}
	return size.RoundDown(2)
}

// attempt routes one buy through the gateway's entry lock and books the
// result.
func (e *EntryManager) attempt(ctx context.Context, c *types.Candidate, path string, size decimal.Decimal) {
	out := e.gw.OpenPosition(ctx, gateway.Intent{
		Kind:     gateway.IntentBuy,
		Symbol:   c.Symbol,
		Address:  c.Address,
		Amount:   size,
		Slippage: entrySlippage,
	})

	switch out.Code {
	case gateway.OutcomeDeferred:
		log.Debug().Str("symbol", c.Symbol).Str("reason", out.Reason).Msg("Entry deferred")
		return
	case gateway.OutcomeRateLimited:
		log.Warn().Str("symbol", c.Symbol).Msg("Entry rate limited")
		return
	case gateway.OutcomePaper:
		if e.cfg.PaperLedger {
			if err := e.store.AppendPaper(c.Symbol, string(gateway.IntentBuy), size, out.Reason); err != nil {
				log.Error().Err(err).Msg("Failed to write paper ledger")
			}
		}
		log.Warn().Str("symbol", c.Symbol).Msg("📝 Entry acknowledged on paper only")
		return
	case gateway.OutcomeFailed:
		log.Error().Str("symbol", c.Symbol).Str("reason", out.Reason).Msg("Entry failed")
		return
	}

	now := e.now()
	one := decimal.NewFromInt(1)
	p := &types.Position{
		ID:           uuid.NewString(),
		Symbol:       c.Symbol,
		Address:      c.Address,
		EntryPrice:   c.Price,
		Amount:       size,
		Quantity:     size.Div(c.Price),
		PeakPrice:    c.Price,
		StopPrice:    c.Price.Mul(one.Sub(e.cfg.StopLossPct)),
		Status:       types.StatusOpen,
		EntryTime:    now,
		QualifiedVia: path,
		Tier:         c.Tier,
	}
	if len(out.Refs) > 0 {
		p.TxRef = out.Refs[0]
	}

	if err := e.store.SavePositionWithState(p, func(st *types.AggregateState) error {
		st.TotalTrades++
		st.DailyVolume = st.DailyVolume.Add(size)
		return nil
	}); err != nil {
		log.Error().Err(err).Str("symbol", c.Symbol).Msg("Failed to persist entry")
		return
	}

	e.book.Add(p)
	if e.stream != nil {
		e.stream.Watch(p.Address)
	}
	metrics.Entries.WithLabelValues(path).Inc()

	log.Info().
		Str("symbol", p.Symbol).
		Str("path", path).
		Str("size", size.StringFixed(2)).
		Str("price", c.Price.String()).
		Msg("🟢 Position opened")

	if e.notifier != nil {
		e.notifier.Notify(fmt.Sprintf("🟢 Opened %s: $%s at %s (via %s)",
			p.Symbol, size.StringFixed(2), c.Price.String(), path))
	}
}
