package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/moonbot/metrics"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ACTION GATEWAY - The only path to metered/paid external calls
// ═══════════════════════════════════════════════════════════════════════════════
//
// Enforces:
//   1. Rolling 60s call budget - excess calls get a rate_limited outcome
//   2. Short-TTL cache for idempotent reads (balance, trending)
//   3. Entry mutex + minimum inter-entry gap around position opens
//   4. Executed-verification: success without action refs downgrades to paper
//
// ═══════════════════════════════════════════════════════════════════════════════

// IntentKind classifies what the gateway is being asked to do.
type IntentKind string

const (
	IntentBuy      IntentKind = "buy"
	IntentSell     IntentKind = "sell"
	IntentTransfer IntentKind = "transfer"
	IntentBalance  IntentKind = "balance"
	IntentTrending IntentKind = "trending"
)

// readOnly reports whether the intent is an idempotent read safe to cache.
func (k IntentKind) readOnly() bool {
	return k == IntentBalance || k == IntentTrending
}

// Intent describes one external action or query.
type Intent struct {
	Kind     IntentKind
	Symbol   string
	Address  string
	Amount   decimal.Decimal // USD for buys/transfers
	Quantity decimal.Decimal // tokens for sells
	Slippage decimal.Decimal // fractional tolerance
	Dest     string          // transfer destination
}

// cacheKey identifies an idempotent read in the TTL cache.
func (i Intent) cacheKey() string {
	return string(i.Kind) + ":" + i.Address
}

// OutcomeCode is the coarse result of an invocation.
type OutcomeCode string

const (
	OutcomeExecuted    OutcomeCode = "executed"
	OutcomePaper       OutcomeCode = "paper" // acknowledged but no action submitted
	OutcomeRateLimited OutcomeCode = "rate_limited"
	OutcomeDeferred    OutcomeCode = "deferred" // entry lock held or gap not elapsed
	OutcomeFailed      OutcomeCode = "failed"
)

// Outcome is the gateway's answer to an Invoke.
type Outcome struct {
	Code   OutcomeCode
	Reason string
	Refs   []string // execution references (tx handles)
	Value  decimal.Decimal
	Raw    json.RawMessage
	Cached bool
}

// OK reports whether the action actually executed.
func (o Outcome) OK() bool { return o.Code == OutcomeExecuted }

// AgentResult is what the external execution agent reports back.
type AgentResult struct {
	Executed bool
	Refs     []string
	Value    decimal.Decimal
	Raw      json.RawMessage
}

// Agent is the external execution/query service. Implementations must be
// idempotent-safe for read-only intents and must surface enough structure to
// tell whether an action was actually executed, not merely acknowledged.
type Agent interface {
	Submit(ctx context.Context, intent Intent) (AgentResult, error)
}

type cacheEntry struct {
	outcome Outcome
	at      time.Time
}

// Gateway wraps an Agent with budget, cache and entry serialization.
type Gateway struct {
	agent Agent

	mu       sync.Mutex
	calls    []time.Time // timestamps of metered calls in the rolling window
	budget   int
	window   time.Duration
	cache    map[string]cacheEntry
	cacheTTL time.Duration

	entryMu   sync.Mutex
	lastEntry time.Time
	minGap    time.Duration

	now func() time.Time
}

// New creates a Gateway with the given per-minute budget, read cache TTL and
// minimum inter-entry gap.
func New(agent Agent, budget int, cacheTTL, minGap time.Duration) *Gateway {
	return &Gateway{
		agent:    agent,
		budget:   budget,
		window:   time.Minute,
		cache:    make(map[string]cacheEntry),
		cacheTTL: cacheTTL,
		minGap:   minGap,
		now:      time.Now,
	}
}

// Invoke performs one metered call. Read-only intents hit the TTL cache first;
// cache hits consume no budget.
func (g *Gateway) Invoke(ctx context.Context, intent Intent) Outcome {
	out := g.invoke(ctx, intent)
	metrics.GatewayCalls.WithLabelValues(string(out.Code)).Inc()
	return out
}

func (g *Gateway) invoke(ctx context.Context, intent Intent) Outcome {
	if intent.Kind.readOnly() {
		if out, ok := g.cached(intent); ok {
			return out
		}
	}

	if !g.consumeBudget() {
		log.Warn().
			Str("intent", string(intent.Kind)).
			Str("symbol", intent.Symbol).
			Msg("⛔ Gateway budget exhausted")
		return Outcome{Code: OutcomeRateLimited, Reason: "rate_limited"}
	}

	out := g.submit(ctx, intent)

	if intent.Kind.readOnly() && out.Code == OutcomeExecuted {
		g.store(intent, out)
	}

	return out
}

// OpenPosition routes a buy through the entry mutex. At most one open is in
// flight at a time, and submitted opens are spaced by the minimum inter-entry
// gap even when the mutex is free. A blocked caller gets a deferred outcome
// and is expected to try again next cycle, not spin.
func (g *Gateway) OpenPosition(ctx context.Context, intent Intent) Outcome {
	if !g.entryMu.TryLock() {
		metrics.GatewayCalls.WithLabelValues(string(OutcomeDeferred)).Inc()
		return Outcome{Code: OutcomeDeferred, Reason: "entry in progress"}
	}
	defer g.entryMu.Unlock()

	g.mu.Lock()
	since := g.now().Sub(g.lastEntry)
	if !g.lastEntry.IsZero() && since < g.minGap {
		g.mu.Unlock()
		metrics.GatewayCalls.WithLabelValues(string(OutcomeDeferred)).Inc()
		return Outcome{Code: OutcomeDeferred, Reason: "entry gap not elapsed"}
	}
	g.mu.Unlock()

	out := g.Invoke(ctx, intent)

	// Only a submitted open paces the gap; a rate-limited or failed attempt
	// must not starve the next cycle's entry.
	if out.Code == OutcomeExecuted || out.Code == OutcomePaper {
		g.mu.Lock()
		g.lastEntry = g.now()
		g.mu.Unlock()
	}
	// Funds moved; the next sizing read must not see the pre-entry balance.
	if out.Code == OutcomeExecuted {
		g.invalidate(Intent{Kind: IntentBalance})
	}
	return out
}

// Balance is the cached operating-balance read.
func (g *Gateway) Balance(ctx context.Context) (decimal.Decimal, Outcome) {
	out := g.Invoke(ctx, Intent{Kind: IntentBalance})
	return out.Value, out
}

// submit calls the agent and applies the executed-verification rule.
func (g *Gateway) submit(ctx context.Context, intent Intent) Outcome {
	result, err := g.agent.Submit(ctx, intent)
	if err != nil {
		return Outcome{Code: OutcomeFailed, Reason: err.Error()}
	}

	// The agent claiming success without any submitted action reference is
	// treated as not-executed. Never report execution that cannot be proven.
	if !intent.Kind.readOnly() && result.Executed && len(result.Refs) == 0 {
		log.Warn().
			Str("intent", string(intent.Kind)).
			Str("symbol", intent.Symbol).
			Msg("📝 Agent reported success with no action refs - downgrading to paper")
		return Outcome{Code: OutcomePaper, Reason: "no action reference", Raw: result.Raw}
	}

	if !result.Executed && !intent.Kind.readOnly() {
		return Outcome{Code: OutcomePaper, Reason: "agent did not execute", Raw: result.Raw}
	}

	return Outcome{
		Code:  OutcomeExecuted,
		Refs:  result.Refs,
		Value: result.Value,
		Raw:   result.Raw,
	}
}

// consumeBudget reserves one slot in the rolling window, pruning stale calls.
func (g *Gateway) consumeBudget() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-g.window)
	kept := g.calls[:0]
	for _, t := range g.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.calls = kept

	if len(g.calls) >= g.budget {
		return false
	}
	g.calls = append(g.calls, now)
	return true
}

func (g *Gateway) cached(intent Intent) (Outcome, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.cache[intent.cacheKey()]
	if !ok || g.now().Sub(entry.at) >= g.cacheTTL {
		return Outcome{}, false
	}
	out := entry.outcome
	out.Cached = true
	return out, true
}

func (g *Gateway) invalidate(intent Intent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cache, intent.cacheKey())
}

func (g *Gateway) store(intent Intent, out Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[intent.cacheKey()] = cacheEntry{outcome: out, at: g.now()}
}

// BudgetRemaining returns how many metered calls remain in the current window.
func (g *Gateway) BudgetRemaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-g.window)
	used := 0
	for _, t := range g.calls {
		if t.After(cutoff) {
			used++
		}
	}
	if used >= g.budget {
		return 0
	}
	return g.budget - used
}
