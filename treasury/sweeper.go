package treasury

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/moonbot/config"
	"github.com/web3guy0/moonbot/gateway"
	"github.com/web3guy0/moonbot/metrics"
	"github.com/web3guy0/moonbot/storage"
	"github.com/web3guy0/moonbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TREASURY SWEEPER - Profit extraction above the operating ceiling
// ═══════════════════════════════════════════════════════════════════════════════
//
// When the operating balance sits above the ceiling, the excess down to the
// floor is swept: a fixed split to cold storage and the team wallet, the
// remainder retained as reinvestment capital. Transfers route through the
// gateway like every other metered action; every movement lands in the
// append-only ledger.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Notifier pushes human-readable treasury events.
type Notifier interface {
	Notify(msg string)
}

// Sweeper checks the balance against the ceiling and performs sweeps.
type Sweeper struct {
	gw       *gateway.Gateway
	store    *storage.Store
	notifier Notifier

	ceiling  decimal.Decimal
	floor    decimal.Decimal
	minSweep decimal.Decimal
	coldPct  decimal.Decimal
	teamPct  decimal.Decimal

	coldWallet string
	teamWallet string
}

// NewSweeper wires a sweeper from config.
func NewSweeper(cfg *config.Config, gw *gateway.Gateway, store *storage.Store, notifier Notifier) *Sweeper {
	return &Sweeper{
		gw:         gw,
		store:      store,
		notifier:   notifier,
		ceiling:    cfg.TreasuryCeiling,
		floor:      cfg.TreasuryFloor,
		minSweep:   cfg.MinSweep,
		coldPct:    cfg.SweepColdPct,
		teamPct:    cfg.SweepTeamPct,
		coldWallet: cfg.ColdWallet,
		teamWallet: cfg.TeamWallet,
	}
}

// Check runs one sweep evaluation against the given operating balance.
// Returns the total amount swept (zero on no-op).
func (s *Sweeper) Check(ctx context.Context, balance decimal.Decimal) decimal.Decimal {
	if balance.LessThanOrEqual(s.ceiling) {
		return decimal.Zero
	}

	sweepable := balance.Sub(s.floor)
	if sweepable.LessThan(s.minSweep) {
		log.Debug().
			Str("balance", balance.StringFixed(2)).
			Str("sweepable", sweepable.StringFixed(2)).
			Msg("Balance above ceiling but sweep below minimum")
		return decimal.Zero
	}

	// Cold and team shares are rounded down to cents; the remainder stays as
	// reinvestment so the three parts always sum exactly to sweepable.
	cold := sweepable.Mul(s.coldPct).RoundDown(2)
	team := sweepable.Mul(s.teamPct).RoundDown(2)
	reinvest := sweepable.Sub(cold).Sub(team)

	log.Info().
		Str("balance", balance.StringFixed(2)).
		Str("sweepable", sweepable.StringFixed(2)).
		Str("cold", cold.StringFixed(2)).
		Str("team", team.StringFixed(2)).
		Str("reinvest", reinvest.StringFixed(2)).
		Msg("🏦 Treasury sweep triggered")

	running := balance
	var coldDone, teamDone decimal.Decimal
	running, coldDone = s.transfer(ctx, cold, "cold", s.coldWallet, running)
	running, teamDone = s.transfer(ctx, team, "team", s.teamWallet, running)

	// Reinvestment never leaves the operating wallet; record it directly.
	if reinvest.GreaterThan(decimal.Zero) {
		s.record(&types.TreasuryEntry{
			Amount: reinvest, Source: "sweep", Destination: "reinvest",
			BalanceBefore: running, BalanceAfter: running,
			CreatedAt: time.Now(),
		})
		metrics.TreasurySwept.WithLabelValues("reinvest").Add(toFloat(reinvest))
	}

	swept := coldDone.Add(teamDone).Add(reinvest)
	now := time.Now()
	if err := s.store.WithState(func(st *types.AggregateState) error {
		st.SweptToCold = st.SweptToCold.Add(coldDone)
		st.SweptToTeam = st.SweptToTeam.Add(teamDone)
		st.Reinvested = st.Reinvested.Add(reinvest)
		st.LastSweep = &now
		return nil
	}); err != nil {
		log.Error().Err(err).Msg("Failed to persist sweep counters")
	}

	if s.notifier != nil {
		s.notifier.Notify("🏦 Treasury sweep: $" + swept.StringFixed(2) +
			" (cold $" + coldDone.StringFixed(2) +
			", team $" + teamDone.StringFixed(2) +
			", reinvest $" + reinvest.StringFixed(2) + ")")
	}
	return swept
}

// transfer moves one share through the gateway and ledgers the result.
// Returns the running balance and the amount actually moved.
func (s *Sweeper) transfer(ctx context.Context, amount decimal.Decimal, dest, wallet string, before decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return before, decimal.Zero
	}
	if wallet == "" {
		log.Warn().Str("dest", dest).Msg("No wallet configured, skipping transfer")
		return before, decimal.Zero
	}

	out := s.gw.Invoke(ctx, gateway.Intent{
		Kind:   gateway.IntentTransfer,
		Amount: amount,
		Dest:   wallet,
	})
	if !out.OK() {
		log.Error().
			Str("dest", dest).
			Str("amount", amount.StringFixed(2)).
			Str("outcome", string(out.Code)).
			Str("reason", out.Reason).
			Msg("Treasury transfer did not execute")
		return before, decimal.Zero
	}

	after := before.Sub(amount)
	ref := ""
	if len(out.Refs) > 0 {
		ref = out.Refs[0]
	}
	s.record(&types.TreasuryEntry{
		Amount: amount, Source: "sweep", Destination: dest,
		BalanceBefore: before, BalanceAfter: after,
		TxRef: ref, CreatedAt: time.Now(),
	})
	metrics.TreasurySwept.WithLabelValues(dest).Add(toFloat(amount))
	return after, amount
}

func (s *Sweeper) record(e *types.TreasuryEntry) {
	if err := s.store.AppendTreasury(e); err != nil {
		log.Error().Err(err).Str("dest", e.Destination).Msg("Failed to write treasury ledger")
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
