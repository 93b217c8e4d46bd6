package core

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/moonbot/config"
	"github.com/web3guy0/moonbot/feeds"
	"github.com/web3guy0/moonbot/gateway"
	"github.com/web3guy0/moonbot/storage"
	"github.com/web3guy0/moonbot/treasury"
	"github.com/web3guy0/moonbot/types"
	"github.com/web3guy0/moonbot/wage"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRESENCE WATCHER - Scheduled loops, each at its own cadence
// ═══════════════════════════════════════════════════════════════════════════════
//
//   discovery   find and consider candidates
//   monitor     rule ladder over live positions; fast while holding, slow idle
//   balance     cached balance read, treasury check, wage hour roll
//   edge        secondary prediction-market scan, observation only
//
// Loops publish onto the bus; the dispatcher consumes. One legacy mode runs
// everything as a single synchronous cycle on a fixed tick.
//
// ═══════════════════════════════════════════════════════════════════════════════

// streamMaxAge bounds how stale a streamed price may be before the monitor
// falls back to polling.
const streamMaxAge = 10 * time.Second

// Engine owns the loops and the component wiring.
type Engine struct {
	cfg       *config.Config
	gw        *gateway.Gateway
	store     *storage.Store
	book      *Book
	bus       *Bus
	entries   *EntryManager
	lifecycle *LifecycleManager
	sweeper   *treasury.Sweeper
	tracker   *wage.Tracker
	dex       *feeds.DexFeed
	edge      *feeds.EdgeFeed
	stream    *feeds.PriceStream
	notifier  Notifier
}

// NewEngine assembles the engine from already-wired components.
func NewEngine(cfg *config.Config, gw *gateway.Gateway, store *storage.Store, book *Book,
	bus *Bus, entries *EntryManager, lifecycle *LifecycleManager, sweeper *treasury.Sweeper,
	tracker *wage.Tracker, dex *feeds.DexFeed, edge *feeds.EdgeFeed,
	stream *feeds.PriceStream, notifier Notifier) *Engine {
	return &Engine{
		cfg: cfg, gw: gw, store: store, book: book, bus: bus,
		entries: entries, lifecycle: lifecycle, sweeper: sweeper, tracker: tracker,
		dex: dex, edge: edge, stream: stream, notifier: notifier,
	}
}

// Run starts every loop and blocks until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.boot(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.dispatchLoop(ctx) })
	g.Go(func() error { return e.discoveryLoop(ctx) })
	g.Go(func() error { return e.monitorLoop(ctx) })
	g.Go(func() error { return e.balanceLoop(ctx) })
	g.Go(func() error { return e.edgeLoop(ctx) })

	log.Info().Msg("🌙 Engine running")
	err := g.Wait()
	e.stream.Stop()
	return err
}

// RunLegacy performs full synchronous cycles on a fixed tick. The original
// single-loop mode, kept for constrained deployments.
func (e *Engine) RunLegacy(ctx context.Context) error {
	if err := e.boot(); err != nil {
		return err
	}

	log.Info().Dur("tick", e.cfg.TickInterval).Msg("🌙 Engine running (legacy tick mode)")
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		e.Cycle(ctx)
		select {
		case <-ctx.Done():
			e.stream.Stop()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single full cycle and returns. Used by the one-shot
// command for cron-style operation.
func (e *Engine) RunOnce(ctx context.Context) error {
	if err := e.boot(); err != nil {
		return err
	}
	e.Cycle(ctx)
	e.stream.Stop()
	return nil
}

// boot recovers state and starts the price stream.
func (e *Engine) boot() error {
	if err := e.book.Recover(e.store); err != nil {
		return err
	}
	e.stream.Start()
	for _, p := range e.book.Live() {
		e.stream.Watch(p.Address)
	}
	return nil
}

// Cycle is one synchronous pass over every concern.
func (e *Engine) Cycle(ctx context.Context) {
	e.discoverOnce(ctx, false)
	e.monitorPass(ctx)
	e.balanceOnce(ctx, false)
	e.edgeOnce(ctx, false)
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOOPS
// ═══════════════════════════════════════════════════════════════════════════════

func (e *Engine) dispatchLoop(ctx context.Context) error {
	ch := e.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-ch:
			switch ev.Kind {
			case EventCandidates:
				e.entries.Consider(ctx, ev.Candidates)
			case EventBalance:
				e.settleBalance(ctx, ev.Balance)
			case EventEdge:
				e.reportEdge(ev.Markets)
			}
		}
	}
}

func (e *Engine) discoveryLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.DiscoveryInterval)
	defer ticker.Stop()

	for {
		e.discoverOnce(ctx, true)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// monitorLoop runs the rule ladder, fast while positions are open and slow
// when the book is empty.
func (e *Engine) monitorLoop(ctx context.Context) error {
	for {
		interval := e.cfg.MonitorIntervalCold
		if e.book.Count() > 0 {
			interval = e.cfg.MonitorIntervalHot
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
			e.monitorPass(ctx)
		}
	}
}

func (e *Engine) balanceLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.BalanceInterval)
	defer ticker.Stop()

	for {
		e.balanceOnce(ctx, true)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) edgeLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.EdgeScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.edgeOnce(ctx, true)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// PASSES
// ═══════════════════════════════════════════════════════════════════════════════

// discoverOnce fetches and merges candidate sources. publish routes through
// the bus; otherwise candidates feed the entry manager directly.
func (e *Engine) discoverOnce(ctx context.Context, publish bool) {
	discovered, err := e.dex.Discover(ctx, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Discovery fetch failed")
	}
	trending, err := e.dex.Trending(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Trending fetch failed")
	}

	merged := mergeCandidates(discovered, trending)
	if len(merged) == 0 {
		return
	}
	log.Debug().Int("candidates", len(merged)).Msg("🔍 Discovery cycle")

	if publish {
		e.bus.Publish(Event{Kind: EventCandidates, Candidates: merged})
	} else {
		e.entries.Consider(ctx, merged)
	}
}

// monitorPass runs the rule ladder over every live position, preferring a
// fresh streamed price and falling back to polling.
func (e *Engine) monitorPass(ctx context.Context) {
	for _, p := range e.book.Live() {
		var quote feeds.Quote
		if price, ok := e.stream.FreshPrice(p.Address, streamMaxAge); ok {
			quote = feeds.Quote{Price: price}
		} else {
			q, err := e.dex.PriceOf(ctx, p.Address)
			if err != nil {
				log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Price fetch failed, skipping position")
				continue
			}
			quote = q
		}

		wasLive := p.Status != types.StatusClosed && p.Status != types.StatusFailed
		e.lifecycle.Manage(ctx, p, quote)
		if wasLive && (p.Status == types.StatusClosed || p.Status == types.StatusFailed) {
			e.stream.Unwatch(p.Address)
		}
	}

	e.lifecycle.ManageMoonbags(ctx, func(ctx context.Context, address string) (decimal.Decimal, error) {
		q, err := e.dex.PriceOf(ctx, address)
		if err != nil {
			return decimal.Zero, err
		}
		return q.Price, nil
	})
}

func (e *Engine) balanceOnce(ctx context.Context, publish bool) {
	balance, out := e.gw.Balance(ctx)
	if !out.OK() {
		log.Warn().Str("outcome", string(out.Code)).Msg("Balance read failed")
		return
	}

	if publish {
		e.bus.Publish(Event{Kind: EventBalance, Balance: balance})
	} else {
		e.settleBalance(ctx, balance)
	}
}

// settleBalance runs the treasury check and rolls wage hours forward.
func (e *Engine) settleBalance(ctx context.Context, balance decimal.Decimal) {
	e.sweeper.Check(ctx, balance)

	if err := e.store.WithState(func(st *types.AggregateState) error {
		e.tracker.Roll(&st.Wage, time.Now())
		return nil
	}); err != nil {
		log.Error().Err(err).Msg("Failed to roll wage hours")
	}
}

func (e *Engine) edgeOnce(ctx context.Context, publish bool) {
	markets, err := e.edge.ActiveMarkets(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Edge scan failed")
		return
	}
	if len(markets) == 0 {
		return
	}

	if publish {
		e.bus.Publish(Event{Kind: EventEdge, Markets: markets})
	} else {
		e.reportEdge(markets)
	}
}

// reportEdge logs the most liquid markets seen by the edge scan. Observation
// only; the engine never trades these.
func (e *Engine) reportEdge(markets []*types.EdgeMarket) {
	best := markets[0]
	for _, m := range markets[1:] {
		if m.Liquidity.GreaterThan(best.Liquidity) {
			best = m
		}
	}
	log.Info().
		Int("markets", len(markets)).
		Str("top", best.Question).
		Str("implied", best.ImpliedProb.StringFixed(2)).
		Msg("🔭 Edge scan")
}

// mergeCandidates combines sources, folding duplicate addresses together and
// merging their source tags.
func mergeCandidates(lists ...[]*types.Candidate) []*types.Candidate {
	seen := make(map[string]*types.Candidate)
	var out []*types.Candidate
	for _, list := range lists {
		for _, c := range list {
			if prev, ok := seen[c.Address]; ok {
				for _, s := range c.Sources {
					if !prev.HasSource(s) {
						prev.Sources = append(prev.Sources, s)
					}
				}
				continue
			}
			seen[c.Address] = c
			out = append(out, c)
		}
	}
	return out
}
