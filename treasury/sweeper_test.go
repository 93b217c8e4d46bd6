package treasury

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/moonbot/config"
	"github.com/web3guy0/moonbot/gateway"
	"github.com/web3guy0/moonbot/storage"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// transferAgent records transfer intents and executes them.
type transferAgent struct {
	mu        sync.Mutex
	transfers []gateway.Intent
}

func (a *transferAgent) Submit(_ context.Context, intent gateway.Intent) (gateway.AgentResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if intent.Kind == gateway.IntentTransfer {
		a.transfers = append(a.transfers, intent)
	}
	return gateway.AgentResult{Executed: true, Refs: []string{"TX_SWEEP"}}, nil
}

func testSweepConfig() *config.Config {
	return &config.Config{
		TreasuryCeiling: decimal.NewFromInt(500),
		TreasuryFloor:   decimal.NewFromInt(300),
		MinSweep:        decimal.NewFromInt(50),
		SweepColdPct:    d(0.50),
		SweepTeamPct:    d(0.20),
		ColdWallet:      "0xCOLD",
		TeamWallet:      "0xTEAM",
	}
}

func newTestSweeper(t *testing.T, cfg *config.Config) (*Sweeper, *transferAgent, *storage.Store) {
	t.Helper()
	agent := &transferAgent{}
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	gw := gateway.New(agent, 100, time.Second, 0)
	return NewSweeper(cfg, gw, store, nil), agent, store
}

func TestSweepSplitsConserveTotal(t *testing.T) {
	s, agent, store := newTestSweeper(t, testSweepConfig())

	// $600 balance: $300 sweepable above the $300 floor.
	swept := s.Check(context.Background(), decimal.NewFromInt(600))

	if !swept.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("swept = %s, want 300", swept)
	}
	if len(agent.transfers) != 2 {
		t.Fatalf("transfers = %d, want cold and team only", len(agent.transfers))
	}
	if !agent.transfers[0].Amount.Equal(decimal.NewFromInt(150)) || agent.transfers[0].Dest != "0xCOLD" {
		t.Errorf("cold transfer = %s to %s", agent.transfers[0].Amount, agent.transfers[0].Dest)
	}
	if !agent.transfers[1].Amount.Equal(decimal.NewFromInt(60)) || agent.transfers[1].Dest != "0xTEAM" {
		t.Errorf("team transfer = %s to %s", agent.transfers[1].Amount, agent.transfers[1].Dest)
	}

	snap := store.Snapshot()
	if !snap.SweptToCold.Equal(decimal.NewFromInt(150)) ||
		!snap.SweptToTeam.Equal(decimal.NewFromInt(60)) ||
		!snap.Reinvested.Equal(decimal.NewFromInt(90)) {
		t.Errorf("counters = cold %s team %s reinvest %s, want 150/60/90",
			snap.SweptToCold, snap.SweptToTeam, snap.Reinvested)
	}
	if snap.LastSweep == nil {
		t.Error("LastSweep not recorded")
	}

	entries, err := store.RecentTreasury(10)
	if err != nil {
		t.Fatalf("RecentTreasury: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("ledger entries = %d, want cold, team and reinvest", len(entries))
	}
}

func TestSweepRoundingStillConserves(t *testing.T) {
	cfg := testSweepConfig()
	cfg.TreasuryFloor = decimal.NewFromInt(200)
	cfg.TreasuryCeiling = decimal.NewFromInt(300)
	s, _, store := newTestSweeper(t, cfg)

	// Sweepable 233.33: cold 116.66, team 46.66, reinvest takes the remainder.
	swept := s.Check(context.Background(), d(433.33))
	if !swept.Equal(d(233.33)) {
		t.Fatalf("swept = %s, rounding must never create or destroy money", swept)
	}

	snap := store.Snapshot()
	total := snap.SweptToCold.Add(snap.SweptToTeam).Add(snap.Reinvested)
	if !total.Equal(d(233.33)) {
		t.Errorf("counters sum to %s, want 233.33", total)
	}
}

func TestNoSweepBelowCeiling(t *testing.T) {
	s, agent, _ := newTestSweeper(t, testSweepConfig())

	swept := s.Check(context.Background(), decimal.NewFromInt(500))
	if !swept.IsZero() {
		t.Errorf("swept = %s at the ceiling, want 0", swept)
	}
	if len(agent.transfers) != 0 {
		t.Error("no transfers expected below the ceiling")
	}
}

func TestNoSweepBelowMinimum(t *testing.T) {
	cfg := testSweepConfig()
	cfg.TreasuryFloor = decimal.NewFromInt(480)
	s, agent, store := newTestSweeper(t, cfg)

	// Above the ceiling but only $25 above the floor: under the $50 minimum.
	swept := s.Check(context.Background(), decimal.NewFromInt(505))
	if !swept.IsZero() {
		t.Errorf("swept = %s, want 0 under the minimum", swept)
	}
	if len(agent.transfers) != 0 {
		t.Error("no transfers expected under the minimum")
	}
	entries, _ := store.RecentTreasury(10)
	if len(entries) != 0 {
		t.Error("no ledger entries expected for a no-op")
	}
}

func TestMissingWalletSkipsShare(t *testing.T) {
	cfg := testSweepConfig()
	cfg.TeamWallet = ""
	s, agent, store := newTestSweeper(t, cfg)

	swept := s.Check(context.Background(), decimal.NewFromInt(600))

	// Team share is skipped; cold and reinvest still move.
	if !swept.Equal(decimal.NewFromInt(240)) {
		t.Errorf("swept = %s, want 150 cold + 90 reinvest", swept)
	}
	if len(agent.transfers) != 1 {
		t.Errorf("transfers = %d, want cold only", len(agent.transfers))
	}
	if !store.Snapshot().SweptToTeam.IsZero() {
		t.Error("team counter must not move without a wallet")
	}
}
