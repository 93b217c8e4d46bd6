package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Status is the lifecycle state of a position. Transitions only move forward:
// pending → open → {partial, exit_pending, closed, failed}. A position in
// exit_pending never returns to open; it resolves to partial, closed or failed.
type Status string

const (
	StatusPending     Status = "pending"
	StatusOpen        Status = "open"
	StatusPartial     Status = "partial"
	StatusExitPending Status = "exit_pending"
	StatusClosed      Status = "closed"
	StatusFailed      Status = "failed"
)

// statusRank orders statuses for the forward-only check. partial and
// exit_pending share a rank: a position cycles between them while exits
// are in flight.
var statusRank = map[Status]int{
	StatusPending:     0,
	StatusOpen:        1,
	StatusPartial:     2,
	StatusExitPending: 2,
	StatusClosed:      3,
	StatusFailed:      3,
}

// CanTransition reports whether a position may move from one status to the
// next. exit_pending → open is explicitly disallowed.
func CanTransition(from, next Status) bool {
	if from == StatusExitPending && next == StatusOpen {
		return false
	}
	return statusRank[next] >= statusRank[from]
}

// Position represents an open or historical stake in one token.
type Position struct {
	ID            string
	Symbol        string
	Address       string
	EntryPrice    decimal.Decimal
	Amount        decimal.Decimal // invested USD
	Quantity      decimal.Decimal // tokens held
	PeakPrice     decimal.Decimal // highest price seen since entry
	StopPrice     decimal.Decimal
	Status        Status
	PartialTaken  bool
	EntryTime     time.Time
	ExitTime      *time.Time
	ExitReason    string
	RealizedPnL   decimal.Decimal
	ExitAttempts  int
	LastExitError string
	QualifiedVia  string // qualification path that admitted it
	TxRef         string // external execution reference
	Tier          string // source tier / ecosystem tag
}

// UnrealizedPnL returns quantity×price − invested amount at the given price.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price).Sub(p.Amount)
}

// GainPct returns the fractional gain over entry (0.25 = +25%).
func (p *Position) GainPct(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Div(p.EntryPrice)
}

// Candidate is an externally discovered token with enough metadata to score.
// Ephemeral: produced fresh each discovery cycle, never persisted.
type Candidate struct {
	Symbol      string
	Address     string
	Price       decimal.Decimal
	Change24h   decimal.Decimal // fractional, -0.60 = -60%
	Change1h    decimal.Decimal
	Change5m    decimal.Decimal
	Volume24h   decimal.Decimal
	Liquidity   decimal.Decimal
	Sources     []string
	Tier        string
	Score       decimal.Decimal // precomputed qualification score, 0-100
	HasCatalyst bool
	Catalyst    string
}

// HasSource reports whether the candidate carries the given source tag.
func (c *Candidate) HasSource(tag string) bool {
	for _, s := range c.Sources {
		if s == tag {
			return true
		}
	}
	return false
}

// Moonbag is a retained fraction of a position kept after a deep-profit exit,
// watched independently for further upside.
type Moonbag struct {
	ID           string
	Symbol       string
	Address      string
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal // entry of the originating position
	PeakPrice    decimal.Decimal
	RebuyTrigger decimal.Decimal // entry price × rebuy multiple
	CreatedAt    time.Time
}

// WatchEntry is a re-entry watchlist record with a fixed observation window.
type WatchEntry struct {
	Symbol       string
	Address      string
	ExitPrice    decimal.Decimal
	ExitReason   string
	ReboundPrice decimal.Decimal // exit price × rebound multiplier
	CreatedAt    time.Time
}

// Expired reports whether the entry is past its observation window.
func (w *WatchEntry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(w.CreatedAt) >= ttl
}

// TreasuryEntry is an immutable treasury ledger record.
type TreasuryEntry struct {
	ID            string
	Amount        decimal.Decimal
	Source        string
	Destination   string // cold, team, reinvest
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	TxRef         string
	CreatedAt     time.Time
}

// WageState is the rolling-hour accounting sub-state.
type WageState struct {
	HourStart   time.Time
	HourAccrued decimal.Decimal // realized P&L accumulated this hour
	HoursActive int
	TotalEarned decimal.Decimal
	DebtOwed    decimal.Decimal
	Streak      int
	BestStreak  int
}

// Efficiency returns TotalEarned / (HoursActive × target).
func (w *WageState) Efficiency(target decimal.Decimal) decimal.Decimal {
	if w.HoursActive == 0 || target.IsZero() {
		return decimal.Zero
	}
	return w.TotalEarned.Div(target.Mul(decimal.NewFromInt(int64(w.HoursActive))))
}

// AggregateState is the singleton persisted engine state. Owned exclusively by
// the engine process; mutated only through storage.Store.WithState.
type AggregateState struct {
	TotalTrades int
	TotalPnL    decimal.Decimal
	Wins        int
	Losses      int
	DailyVolume decimal.Decimal
	VolumeDate  string // YYYY-MM-DD the daily volume belongs to
	SweptToCold decimal.Decimal
	Reinvested  decimal.Decimal
	SweptToTeam decimal.Decimal
	LastSweep   *time.Time
	Wage        WageState
}

// ResetDailyVolumeIfNeeded zeroes the daily volume when the calendar date has
// changed since the last recorded cycle. Returns true when a reset happened.
func (a *AggregateState) ResetDailyVolumeIfNeeded(now time.Time) bool {
	today := now.Format("2006-01-02")
	if a.VolumeDate == today {
		return false
	}
	a.DailyVolume = decimal.Zero
	a.VolumeDate = today
	return true
}

// EdgeMarket is a secondary prediction-style market observed by the edge
// scanning loop.
type EdgeMarket struct {
	ID          string
	Question    string
	Outcome     string
	ImpliedProb decimal.Decimal
	Volume24h   decimal.Decimal
	Liquidity   decimal.Decimal
	ResolvesAt  time.Time
}
