package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCanTransitionForwardOnly(t *testing.T) {
	allowed := []struct{ from, next Status }{
		{StatusPending, StatusOpen},
		{StatusOpen, StatusPartial},
		{StatusOpen, StatusExitPending},
		{StatusOpen, StatusClosed},
		{StatusPartial, StatusExitPending},
		{StatusExitPending, StatusPartial},
		{StatusExitPending, StatusClosed},
		{StatusExitPending, StatusFailed},
		{StatusOpen, StatusOpen},
	}
	for _, c := range allowed {
		if !CanTransition(c.from, c.next) {
			t.Errorf("CanTransition(%s, %s) = false, want true", c.from, c.next)
		}
	}

	denied := []struct{ from, next Status }{
		{StatusExitPending, StatusOpen},
		{StatusClosed, StatusOpen},
		{StatusClosed, StatusExitPending},
		{StatusOpen, StatusPending},
		{StatusPartial, StatusOpen},
	}
	for _, c := range denied {
		if CanTransition(c.from, c.next) {
			t.Errorf("CanTransition(%s, %s) = true, want false", c.from, c.next)
		}
	}
}

func TestUnrealizedPnLAndGain(t *testing.T) {
	p := &Position{
		EntryPrice: decimal.NewFromFloat(2.00),
		Amount:     decimal.NewFromInt(100),
		Quantity:   decimal.NewFromInt(50),
	}

	pnl := p.UnrealizedPnL(decimal.NewFromFloat(2.50))
	if !pnl.Equal(decimal.NewFromInt(25)) {
		t.Errorf("UnrealizedPnL = %s, want 25", pnl)
	}

	gain := p.GainPct(decimal.NewFromFloat(2.50))
	if !gain.Equal(decimal.NewFromFloat(0.25)) {
		t.Errorf("GainPct = %s, want 0.25", gain)
	}

	zero := &Position{}
	if !zero.GainPct(decimal.NewFromInt(1)).IsZero() {
		t.Error("GainPct with zero entry must be zero, not a division panic")
	}
}

func TestResetDailyVolume(t *testing.T) {
	a := &AggregateState{
		DailyVolume: decimal.NewFromInt(500),
		VolumeDate:  "2025-06-01",
	}

	sameDay := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	if a.ResetDailyVolumeIfNeeded(sameDay) {
		t.Fatal("same calendar day must not reset")
	}
	if !a.DailyVolume.Equal(decimal.NewFromInt(500)) {
		t.Error("volume changed on a same-day call")
	}

	nextDay := time.Date(2025, 6, 2, 0, 1, 0, 0, time.UTC)
	if !a.ResetDailyVolumeIfNeeded(nextDay) {
		t.Fatal("new calendar day must reset")
	}
	if !a.DailyVolume.IsZero() || a.VolumeDate != "2025-06-02" {
		t.Errorf("after reset: volume=%s date=%s", a.DailyVolume, a.VolumeDate)
	}

	// A second call on the same new day must be a no-op.
	a.DailyVolume = decimal.NewFromInt(100)
	if a.ResetDailyVolumeIfNeeded(nextDay.Add(time.Hour)) {
		t.Fatal("reset fired twice for one day")
	}
}

func TestWatchEntryExpired(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := &WatchEntry{CreatedAt: created}
	ttl := 30 * time.Minute

	if w.Expired(created.Add(29*time.Minute), ttl) {
		t.Error("entry inside the window reported expired")
	}
	if !w.Expired(created.Add(30*time.Minute), ttl) {
		t.Error("entry at the window boundary must be expired")
	}
}
