package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/moonbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORE - Durable, restart-safe engine state
// ═══════════════════════════════════════════════════════════════════════════════
//
// The aggregate state is a single key-addressed document, read-modify-written
// through WithState so no two in-flight operations race on it. Positions,
// moonbags, watchlist and ledgers are rows. Everything survives restart.
//
// ═══════════════════════════════════════════════════════════════════════════════

const stateKey = "aggregate"

// StateDoc is a whole-document record, keyed by name.
type StateDoc struct {
	Key       string `gorm:"primaryKey"`
	Payload   []byte
	UpdatedAt time.Time
}

// PositionRow persists a position. Closed rows stay as history.
type PositionRow struct {
	ID            string `gorm:"primaryKey"`
	Symbol        string `gorm:"index"`
	Address       string `gorm:"index"`
	EntryPrice    decimal.Decimal `gorm:"type:decimal(24,12)"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,6)"`
	Quantity      decimal.Decimal `gorm:"type:decimal(28,10)"`
	PeakPrice     decimal.Decimal `gorm:"type:decimal(24,12)"`
	StopPrice     decimal.Decimal `gorm:"type:decimal(24,12)"`
	Status        string          `gorm:"index"`
	PartialTaken  bool
	EntryTime     time.Time
	ExitTime      *time.Time
	ExitReason    string
	RealizedPnL   decimal.Decimal `gorm:"type:decimal(20,6)"`
	ExitAttempts  int
	LastExitError string
	QualifiedVia  string
	TxRef         string
	Tier          string
	UpdatedAt     time.Time
}

// MoonbagRow persists a retained moonbag.
type MoonbagRow struct {
	ID           string `gorm:"primaryKey"`
	Symbol       string
	Address      string          `gorm:"index"`
	Quantity     decimal.Decimal `gorm:"type:decimal(28,10)"`
	EntryPrice   decimal.Decimal `gorm:"type:decimal(24,12)"`
	PeakPrice    decimal.Decimal `gorm:"type:decimal(24,12)"`
	RebuyTrigger decimal.Decimal `gorm:"type:decimal(24,12)"`
	CreatedAt    time.Time
}

// WatchRow persists a re-entry watchlist entry, one per address.
type WatchRow struct {
	Address      string `gorm:"primaryKey"`
	Symbol       string
	ExitPrice    decimal.Decimal `gorm:"type:decimal(24,12)"`
	ExitReason   string
	ReboundPrice decimal.Decimal `gorm:"type:decimal(24,12)"`
	CreatedAt    time.Time
}

// TreasuryRow is an immutable treasury ledger entry.
type TreasuryRow struct {
	ID            string          `gorm:"primaryKey"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,6)"`
	Source        string
	Destination   string `gorm:"index"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,6)"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,6)"`
	TxRef         string
	CreatedAt     time.Time
}

// PaperRow records a non-executed (paper) outcome. Paper results never touch
// the aggregate P&L; they live in their own ledger.
type PaperRow struct {
	ID        string `gorm:"primaryKey"`
	Symbol    string `gorm:"index"`
	Kind      string // buy, sell
	Amount    decimal.Decimal `gorm:"type:decimal(20,6)"`
	Reason    string
	CreatedAt time.Time
}

// Store owns the database handle and serializes aggregate-state mutation.
type Store struct {
	db *gorm.DB

	mu    sync.Mutex
	state *types.AggregateState
}

// New opens the store. A postgres:// DSN selects PostgreSQL, anything else is
// treated as a SQLite path.
func New(dbPath string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💾 Store connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("💾 Store initialized (SQLite)")
	}

	if err := db.AutoMigrate(&StateDoc{}, &PositionRow{}, &MoonbagRow{},
		&WatchRow{}, &TreasuryRow{}, &PaperRow{}); err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.loadState(); err != nil {
		return nil, fmt.Errorf("load aggregate state: %w", err)
	}

	return s, nil
}

// loadState pulls the aggregate document, creating a fresh one if absent.
func (s *Store) loadState() error {
	var doc StateDoc
	err := s.db.First(&doc, "key = ?", stateKey).Error
	if err == gorm.ErrRecordNotFound {
		s.state = &types.AggregateState{
			TotalPnL:    decimal.Zero,
			DailyVolume: decimal.Zero,
			VolumeDate:  time.Now().Format("2006-01-02"),
		}
		return s.saveStateLocked()
	}
	if err != nil {
		return err
	}

	state := &types.AggregateState{}
	if err := json.Unmarshal(doc.Payload, state); err != nil {
		return err
	}
	s.state = state
	return nil
}

// saveStateLocked persists the cached state document. Write is a whole-row
// replace, never a partial update. Caller holds s.mu (or is in New).
func (s *Store) saveStateLocked() error {
	payload, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	return s.db.Save(&StateDoc{Key: stateKey, Payload: payload, UpdatedAt: time.Now()}).Error
}

// WithState runs fn with exclusive access to the aggregate state and persists
// the result. This is the single choke point for aggregate mutation: every
// loop mutates through here, never via ad hoc reads and writes.
func (s *Store) WithState(fn func(state *types.AggregateState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.state); err != nil {
		return err
	}
	return s.saveStateLocked()
}

// Snapshot returns a copy of the aggregate state for read-only use.
func (s *Store) Snapshot() types.AggregateState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.state
}

// ═══════════════════════════════════════════════════════════════════════════════
// POSITIONS
// ═══════════════════════════════════════════════════════════════════════════════

// SavePosition upserts a position row.
func (s *Store) SavePosition(p *types.Position) error {
	return s.db.Save(positionToRow(p)).Error
}

// SavePositionWithState atomically persists a position update and an aggregate
// state mutation in one transaction. Used by exits so P&L and position status
// never drift apart.
func (s *Store) SavePositionWithState(p *types.Position, fn func(state *types.AggregateState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.state); err != nil {
		return err
	}
	payload, err := json.Marshal(s.state)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(positionToRow(p)).Error; err != nil {
			return err
		}
		return tx.Save(&StateDoc{Key: stateKey, Payload: payload, UpdatedAt: time.Now()}).Error
	})
}

// OpenPositions returns every position not yet closed or failed, for the
// working set and for crash recovery on boot.
func (s *Store) OpenPositions() ([]*types.Position, error) {
	var rows []PositionRow
	err := s.db.Where("status IN ?", []string{
		string(types.StatusPending), string(types.StatusOpen),
		string(types.StatusPartial), string(types.StatusExitPending),
	}).Order("entry_time").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]*types.Position, len(rows))
	for i := range rows {
		out[i] = rowToPosition(&rows[i])
	}
	return out, nil
}

// RecentPositions returns the newest position rows, open or closed.
func (s *Store) RecentPositions(limit int) ([]*types.Position, error) {
	var rows []PositionRow
	err := s.db.Order("entry_time DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*types.Position, len(rows))
	for i := range rows {
		out[i] = rowToPosition(&rows[i])
	}
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// MOONBAGS
// ═══════════════════════════════════════════════════════════════════════════════

func (s *Store) SaveMoonbag(m *types.Moonbag) error {
	return s.db.Save(&MoonbagRow{
		ID: m.ID, Symbol: m.Symbol, Address: m.Address, Quantity: m.Quantity,
		EntryPrice: m.EntryPrice, PeakPrice: m.PeakPrice,
		RebuyTrigger: m.RebuyTrigger, CreatedAt: m.CreatedAt,
	}).Error
}

func (s *Store) DeleteMoonbag(id string) error {
	return s.db.Delete(&MoonbagRow{}, "id = ?", id).Error
}

func (s *Store) Moonbags() ([]*types.Moonbag, error) {
	var rows []MoonbagRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.Moonbag, len(rows))
	for i, r := range rows {
		out[i] = &types.Moonbag{
			ID: r.ID, Symbol: r.Symbol, Address: r.Address, Quantity: r.Quantity,
			EntryPrice: r.EntryPrice, PeakPrice: r.PeakPrice,
			RebuyTrigger: r.RebuyTrigger, CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// RE-ENTRY WATCHLIST
// ═══════════════════════════════════════════════════════════════════════════════

func (s *Store) AddWatch(w *types.WatchEntry) error {
	return s.db.Save(&WatchRow{
		Address: w.Address, Symbol: w.Symbol, ExitPrice: w.ExitPrice,
		ExitReason: w.ExitReason, ReboundPrice: w.ReboundPrice, CreatedAt: w.CreatedAt,
	}).Error
}

// PruneWatchlist drops entries older than ttl and returns survivors.
func (s *Store) PruneWatchlist(now time.Time, ttl time.Duration) ([]*types.WatchEntry, error) {
	cutoff := now.Add(-ttl)
	if err := s.db.Delete(&WatchRow{}, "created_at <= ?", cutoff).Error; err != nil {
		return nil, err
	}

	var rows []WatchRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.WatchEntry, len(rows))
	for i, r := range rows {
		out[i] = &types.WatchEntry{
			Address: r.Address, Symbol: r.Symbol, ExitPrice: r.ExitPrice,
			ExitReason: r.ExitReason, ReboundPrice: r.ReboundPrice, CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

func (s *Store) RemoveWatch(address string) error {
	return s.db.Delete(&WatchRow{}, "address = ?", address).Error
}

// ═══════════════════════════════════════════════════════════════════════════════
// LEDGERS
// ═══════════════════════════════════════════════════════════════════════════════

// AppendTreasury records an immutable treasury ledger entry.
func (s *Store) AppendTreasury(e *types.TreasuryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return s.db.Create(&TreasuryRow{
		ID: e.ID, Amount: e.Amount, Source: e.Source, Destination: e.Destination,
		BalanceBefore: e.BalanceBefore, BalanceAfter: e.BalanceAfter,
		TxRef: e.TxRef, CreatedAt: e.CreatedAt,
	}).Error
}

// AppendPaper records a non-executed outcome in the paper ledger.
func (s *Store) AppendPaper(symbol, kind string, amount decimal.Decimal, reason string) error {
	return s.db.Create(&PaperRow{
		ID: uuid.NewString(), Symbol: symbol, Kind: kind,
		Amount: amount, Reason: reason, CreatedAt: time.Now(),
	}).Error
}

// RecentTreasury returns the newest treasury ledger entries.
func (s *Store) RecentTreasury(limit int) ([]*types.TreasuryEntry, error) {
	var rows []TreasuryRow
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.TreasuryEntry, len(rows))
	for i, r := range rows {
		out[i] = &types.TreasuryEntry{
			ID: r.ID, Amount: r.Amount, Source: r.Source, Destination: r.Destination,
			BalanceBefore: r.BalanceBefore, BalanceAfter: r.BalanceAfter,
			TxRef: r.TxRef, CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// RecentPaper returns the newest paper ledger rows.
func (s *Store) RecentPaper(limit int) ([]PaperRow, error) {
	var rows []PaperRow
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONVERSIONS
// ═══════════════════════════════════════════════════════════════════════════════

func positionToRow(p *types.Position) *PositionRow {
	return &PositionRow{
		ID: p.ID, Symbol: p.Symbol, Address: p.Address,
		EntryPrice: p.EntryPrice, Amount: p.Amount, Quantity: p.Quantity,
		PeakPrice: p.PeakPrice, StopPrice: p.StopPrice, Status: string(p.Status),
		PartialTaken: p.PartialTaken, EntryTime: p.EntryTime, ExitTime: p.ExitTime,
		ExitReason: p.ExitReason, RealizedPnL: p.RealizedPnL,
		ExitAttempts: p.ExitAttempts, LastExitError: p.LastExitError,
		QualifiedVia: p.QualifiedVia, TxRef: p.TxRef, Tier: p.Tier,
		UpdatedAt: time.Now(),
	}
}

func rowToPosition(r *PositionRow) *types.Position {
	return &types.Position{
		ID: r.ID, Symbol: r.Symbol, Address: r.Address,
		EntryPrice: r.EntryPrice, Amount: r.Amount, Quantity: r.Quantity,
		PeakPrice: r.PeakPrice, StopPrice: r.StopPrice, Status: types.Status(r.Status),
		PartialTaken: r.PartialTaken, EntryTime: r.EntryTime, ExitTime: r.ExitTime,
		ExitReason: r.ExitReason, RealizedPnL: r.RealizedPnL,
		ExitAttempts: r.ExitAttempts, LastExitError: r.LastExitError,
		QualifiedVia: r.QualifiedVia, TxRef: r.TxRef, Tier: r.Tier,
	}
}
