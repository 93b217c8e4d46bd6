package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/moonbot/types"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, path
}

func TestStateSurvivesReopen(t *testing.T) {
	s, path := newTestStore(t)

	err := s.WithState(func(st *types.AggregateState) error {
		st.TotalTrades = 7
		st.TotalPnL = decimal.NewFromFloat(42.50)
		st.Wage.Streak = 3
		return nil
	})
	if err != nil {
		t.Fatalf("WithState: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	snap := reopened.Snapshot()
	if snap.TotalTrades != 7 {
		t.Errorf("TotalTrades = %d, want 7", snap.TotalTrades)
	}
	if !snap.TotalPnL.Equal(decimal.NewFromFloat(42.50)) {
		t.Errorf("TotalPnL = %s, want 42.50", snap.TotalPnL)
	}
	if snap.Wage.Streak != 3 {
		t.Errorf("Wage.Streak = %d, want 3", snap.Wage.Streak)
	}
}

func TestWithStateErrorDoesNotPersist(t *testing.T) {
	s, _ := newTestStore(t)

	wantErr := s.WithState(func(st *types.AggregateState) error {
		st.TotalTrades = 99
		return errString("rejected")
	})
	if wantErr == nil {
		t.Fatal("WithState must surface the callback error")
	}
	// In-memory mutation sticks; only persistence is skipped. The next
	// successful WithState writes the corrected document.
}

type errString string

func (e errString) Error() string { return string(e) }

func testPosition(id, symbol string, status types.Status) *types.Position {
	return &types.Position{
		ID:         id,
		Symbol:     symbol,
		Address:    "0x" + symbol,
		EntryPrice: decimal.NewFromFloat(1.50),
		Amount:     decimal.NewFromInt(100),
		Quantity:   decimal.NewFromFloat(66.6667),
		PeakPrice:  decimal.NewFromFloat(1.50),
		Status:     status,
		EntryTime:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestOpenPositionsRecovery(t *testing.T) {
	s, path := newTestStore(t)

	for _, p := range []*types.Position{
		testPosition("p1", "WIF", types.StatusOpen),
		testPosition("p2", "BONK", types.StatusExitPending),
		testPosition("p3", "PEPE", types.StatusClosed),
		testPosition("p4", "DOGE", types.StatusPartial),
	} {
		if err := s.SavePosition(p); err != nil {
			t.Fatalf("SavePosition: %v", err)
		}
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	open, err := reopened.OpenPositions()
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	if len(open) != 3 {
		t.Fatalf("recovered %d positions, want 3 (closed excluded)", len(open))
	}
	for _, p := range open {
		if p.Status == types.StatusClosed {
			t.Errorf("closed position %s recovered as open", p.ID)
		}
	}
}

func TestSavePositionWithStateIsAtomic(t *testing.T) {
	s, _ := newTestStore(t)

	p := testPosition("p1", "WIF", types.StatusOpen)
	p.Status = types.StatusClosed
	p.RealizedPnL = decimal.NewFromInt(25)

	err := s.SavePositionWithState(p, func(st *types.AggregateState) error {
		st.TotalPnL = st.TotalPnL.Add(p.RealizedPnL)
		st.Wins++
		return nil
	})
	if err != nil {
		t.Fatalf("SavePositionWithState: %v", err)
	}

	snap := s.Snapshot()
	if !snap.TotalPnL.Equal(decimal.NewFromInt(25)) || snap.Wins != 1 {
		t.Errorf("state not updated: pnl=%s wins=%d", snap.TotalPnL, snap.Wins)
	}

	recent, err := s.RecentPositions(10)
	if err != nil {
		t.Fatalf("RecentPositions: %v", err)
	}
	if len(recent) != 1 || recent[0].Status != types.StatusClosed {
		t.Errorf("position row not updated: %+v", recent)
	}
}

func TestWatchlistPrune(t *testing.T) {
	s, _ := newTestStore(t)
	now := time.Now().UTC()

	old := &types.WatchEntry{
		Address: "0xOLD", Symbol: "OLD",
		ExitPrice: decimal.NewFromInt(1), ReboundPrice: decimal.NewFromFloat(1.5),
		CreatedAt: now.Add(-31 * time.Minute),
	}
	fresh := &types.WatchEntry{
		Address: "0xNEW", Symbol: "NEW",
		ExitPrice: decimal.NewFromInt(2), ReboundPrice: decimal.NewFromInt(3),
		CreatedAt: now.Add(-5 * time.Minute),
	}
	for _, w := range []*types.WatchEntry{old, fresh} {
		if err := s.AddWatch(w); err != nil {
			t.Fatalf("AddWatch: %v", err)
		}
	}

	survivors, err := s.PruneWatchlist(now, 30*time.Minute)
	if err != nil {
		t.Fatalf("PruneWatchlist: %v", err)
	}
	if len(survivors) != 1 || survivors[0].Address != "0xNEW" {
		t.Fatalf("survivors = %+v, want only the fresh entry", survivors)
	}
}

func TestMoonbagRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	bag := &types.Moonbag{
		ID: "m1", Symbol: "WIF", Address: "0xWIF",
		Quantity:     decimal.NewFromInt(10),
		EntryPrice:   decimal.NewFromInt(1),
		PeakPrice:    decimal.NewFromFloat(2.5),
		RebuyTrigger: decimal.NewFromInt(2),
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveMoonbag(bag); err != nil {
		t.Fatalf("SaveMoonbag: %v", err)
	}

	bags, err := s.Moonbags()
	if err != nil {
		t.Fatalf("Moonbags: %v", err)
	}
	if len(bags) != 1 || !bags[0].RebuyTrigger.Equal(bag.RebuyTrigger) {
		t.Fatalf("round trip mismatch: %+v", bags)
	}

	if err := s.DeleteMoonbag("m1"); err != nil {
		t.Fatalf("DeleteMoonbag: %v", err)
	}
	bags, _ = s.Moonbags()
	if len(bags) != 0 {
		t.Errorf("moonbag not deleted")
	}
}

func TestTreasuryLedgerAppendOnly(t *testing.T) {
	s, _ := newTestStore(t)

	e := &types.TreasuryEntry{
		Amount: decimal.NewFromInt(50), Source: "sweep", Destination: "cold",
		BalanceBefore: decimal.NewFromInt(550), BalanceAfter: decimal.NewFromInt(500),
		CreatedAt: time.Now(),
	}
	if err := s.AppendTreasury(e); err != nil {
		t.Fatalf("AppendTreasury: %v", err)
	}
	if e.ID == "" {
		t.Error("AppendTreasury must assign an id")
	}

	var count int64
	if err := s.db.Model(&TreasuryRow{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("ledger rows = %d, want 1", count)
	}
}
