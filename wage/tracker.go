package wage

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/moonbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WAGE TRACKER - Rolling-hour accounting of realized profit vs target
// ═══════════════════════════════════════════════════════════════════════════════
//
// Pure accounting overlay: it never influences trading decisions. Mutations
// run against the WageState inside the aggregate document, so callers invoke
// these inside store.WithState.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Tracker finalizes hours against a fixed hourly target.
type Tracker struct {
	target decimal.Decimal
}

// NewTracker creates a tracker with the given hourly target.
func NewTracker(target decimal.Decimal) *Tracker {
	return &Tracker{target: target}
}

// Target returns the hourly target.
func (t *Tracker) Target() decimal.Decimal { return t.target }

// Record adds realized P&L to the current hour, rolling any elapsed hour
// boundaries first so profit lands in the hour it was realized in.
func (t *Tracker) Record(w *types.WageState, pnl decimal.Decimal, now time.Time) {
	t.Roll(w, now)
	w.HourAccrued = w.HourAccrued.Add(pnl)
}

// Roll finalizes every completed hour between HourStart and now. Each
// finalized hour: met target → credit full target, streak up; positive but
// short → credit the partial, accrue the shortfall as debt; zero or negative
// → accrue the full target as debt and reset the streak.
func (t *Tracker) Roll(w *types.WageState, now time.Time) {
	if w.HourStart.IsZero() {
		w.HourStart = now.Truncate(time.Hour)
		return
	}

	hourEnd := w.HourStart.Add(time.Hour)
	for !now.Before(hourEnd) {
		t.finalize(w)
		w.HourStart = hourEnd
		w.HourAccrued = decimal.Zero
		hourEnd = w.HourStart.Add(time.Hour)
	}
}

func (t *Tracker) finalize(w *types.WageState) {
	accrued := w.HourAccrued
	w.HoursActive++

	switch {
	case accrued.GreaterThanOrEqual(t.target):
		w.TotalEarned = w.TotalEarned.Add(t.target)
		w.Streak++
		if w.Streak > w.BestStreak {
			w.BestStreak = w.Streak
		}
	case accrued.GreaterThan(decimal.Zero):
		w.TotalEarned = w.TotalEarned.Add(accrued)
		w.DebtOwed = w.DebtOwed.Add(t.target.Sub(accrued))
	default:
		w.DebtOwed = w.DebtOwed.Add(t.target)
		w.Streak = 0
	}

	log.Info().
		Str("hour_pnl", accrued.StringFixed(2)).
		Str("earned", w.TotalEarned.StringFixed(2)).
		Str("owed", w.DebtOwed.StringFixed(2)).
		Int("streak", w.Streak).
		Str("efficiency", w.Efficiency(t.target).StringFixed(3)).
		Msg("⏰ Wage hour finalized")
}
