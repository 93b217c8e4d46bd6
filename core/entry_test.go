package core

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/moonbot/feeds"
	"github.com/web3guy0/moonbot/gateway"
	"github.com/web3guy0/moonbot/storage"
	"github.com/web3guy0/moonbot/types"
)

type entryFixture struct {
	agent   *scriptAgent
	store   *storage.Store
	book    *Book
	entries *EntryManager
}

func newEntryFixture(t *testing.T) *entryFixture {
	t.Helper()
	cfg := testConfig()
	agent := &scriptAgent{balance: decimal.NewFromInt(100)}
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	gw := gateway.New(agent, cfg.GatewayBudgetPerMin, cfg.GatewayCacheTTL, cfg.MinEntryGap)
	book := NewBook()
	entries := NewEntryManager(cfg, gw, store, book, feeds.NewPriceStream(""), &memoNotifier{})
	return &entryFixture{agent: agent, store: store, book: book, entries: entries}
}

func trustedCandidate(symbol string) *types.Candidate {
	return &types.Candidate{
		Symbol:    symbol,
		Address:   "0x" + symbol,
		Price:     d(1.00),
		Liquidity: decimal.NewFromInt(30000),
		Volume24h: decimal.NewFromInt(50000),
		Tier:      "bluechip",
	}
}

func TestEntryOpensPosition(t *testing.T) {
	f := newEntryFixture(t)

	f.entries.Consider(context.Background(), []*types.Candidate{trustedCandidate("WIF")})

	if f.book.Count() != 1 {
		t.Fatalf("book = %d positions, want 1", f.book.Count())
	}
	p := f.book.Live()[0]
	if p.Symbol != "WIF" || p.Status != types.StatusOpen {
		t.Errorf("position = %s/%s", p.Symbol, p.Status)
	}
	// 10% of the $100 balance.
	if !p.Amount.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Amount = %s, want 10", p.Amount)
	}
	if !p.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Quantity = %s, want 10 tokens at 1.00", p.Quantity)
	}
	if p.QualifiedVia != "trusted_ecosystem" {
		t.Errorf("QualifiedVia = %q", p.QualifiedVia)
	}
	if !p.StopPrice.Equal(d(0.75)) {
		t.Errorf("StopPrice = %s, want 0.75", p.StopPrice)
	}

	snap := f.store.Snapshot()
	if snap.TotalTrades != 1 {
		t.Errorf("TotalTrades = %d, want 1", snap.TotalTrades)
	}
	if !snap.DailyVolume.Equal(decimal.NewFromInt(10)) {
		t.Errorf("DailyVolume = %s, want 10", snap.DailyVolume)
	}

	// Survives restart.
	recovered := NewBook()
	if err := recovered.Recover(f.store); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered.Count() != 1 {
		t.Errorf("recovered book = %d, want 1", recovered.Count())
	}
}

func TestOneEntryAttemptPerCycle(t *testing.T) {
	f := newEntryFixture(t)
	f.agent.failLeft = 1 // first buy fails

	batch := []*types.Candidate{trustedCandidate("WIF"), trustedCandidate("BONK")}
	f.entries.Consider(context.Background(), batch)

	if f.agent.buys != 1 {
		t.Fatalf("buys = %d, a failed attempt must end the cycle", f.agent.buys)
	}
	if f.book.Count() != 0 {
		t.Error("no position should have opened")
	}

	// Next cycle may try again.
	f.entries.Consider(context.Background(), batch)
	if f.agent.buys != 2 || f.book.Count() != 1 {
		t.Errorf("buys = %d book = %d, want a fresh attempt next cycle", f.agent.buys, f.book.Count())
	}
}

func TestPositionCeilingBlocksEntries(t *testing.T) {
	f := newEntryFixture(t)
	for i := 0; i < 5; i++ {
		p := openPosition()
		p.ID = fmt.Sprintf("p%d", i)
		p.Address = fmt.Sprintf("0xHELD%d", i)
		f.book.Add(p)
	}

	f.entries.Consider(context.Background(), []*types.Candidate{trustedCandidate("WIF")})
	if f.agent.buys != 0 {
		t.Errorf("buys = %d, ceiling must block before the gateway", f.agent.buys)
	}
}

func TestDailyVolumeCeilingBlocksEntries(t *testing.T) {
	f := newEntryFixture(t)
	if err := f.store.WithState(func(st *types.AggregateState) error {
		st.DailyVolume = decimal.NewFromInt(2000)
		st.VolumeDate = time.Now().Format("2006-01-02")
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	f.entries.Consider(context.Background(), []*types.Candidate{trustedCandidate("WIF")})
	if f.agent.buys != 0 {
		t.Errorf("buys = %d, volume ceiling must block entries", f.agent.buys)
	}
}

func TestHeldTokenIsSkipped(t *testing.T) {
	f := newEntryFixture(t)
	held := openPosition()
	held.Address = "0xWIF"
	f.book.Add(held)

	f.entries.Consider(context.Background(), []*types.Candidate{trustedCandidate("WIF")})
	if f.agent.buys != 0 {
		t.Error("already-held token must not be re-entered")
	}
}

func TestWatchlistGateRequiresRebound(t *testing.T) {
	f := newEntryFixture(t)
	if err := f.store.AddWatch(&types.WatchEntry{
		Symbol: "WIF", Address: "0xWIF",
		ExitPrice:    d(1.00),
		ReboundPrice: d(1.50),
		CreatedAt:    time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	// Below the rebound price: blocked.
	c := trustedCandidate("WIF")
	c.Price = d(1.20)
	f.entries.Consider(context.Background(), []*types.Candidate{c})
	if f.agent.buys != 0 {
		t.Fatal("watched token below rebound must be skipped")
	}

	// At the rebound price: admitted, watch entry cleared.
	c.Price = d(1.50)
	f.entries.Consider(context.Background(), []*types.Candidate{c})
	if f.book.Count() != 1 {
		t.Fatal("rebounded token must be eligible again")
	}
	survivors, _ := f.store.PruneWatchlist(time.Now(), time.Hour)
	if len(survivors) != 0 {
		t.Error("watch entry must clear once the rebound confirms")
	}
}

func TestPaperEntryDoesNotOpenPosition(t *testing.T) {
	f := newEntryFixture(t)
	f.agent.paper = true

	f.entries.Consider(context.Background(), []*types.Candidate{trustedCandidate("WIF")})

	if f.book.Count() != 0 {
		t.Fatal("paper outcome must not open a position")
	}
	rows, err := f.store.RecentPaper(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Kind != "buy" {
		t.Errorf("paper ledger = %+v, want one buy row", rows)
	}
	if !f.store.Snapshot().DailyVolume.IsZero() {
		t.Error("paper entry must not count toward daily volume")
	}
}
