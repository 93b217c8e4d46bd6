package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/moonbot/metrics"
	"github.com/web3guy0/moonbot/storage"
	"github.com/web3guy0/moonbot/types"
)

// Book is the in-memory working set of live positions. The store is the
// source of truth; the book is rebuilt from it on boot so a crash between
// cycles loses nothing.
type Book struct {
	mu        sync.RWMutex
	positions map[string]*types.Position // id -> position
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{positions: make(map[string]*types.Position)}
}

// Recover reloads every non-terminal position from the store.
func (b *Book) Recover(store *storage.Store) error {
	open, err := store.OpenPositions()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.positions = make(map[string]*types.Position, len(open))
	for _, p := range open {
		b.positions[p.ID] = p
		if p.Status == types.StatusExitPending {
			log.Warn().
				Str("symbol", p.Symbol).
				Int("attempts", p.ExitAttempts).
				Msg("⚠️ Recovered position with exit in flight")
		}
	}

	metrics.OpenPositions.Set(float64(len(b.positions)))
	log.Info().Int("count", len(b.positions)).Msg("📖 Position book recovered")
	return nil
}

// Add inserts a live position.
func (b *Book) Add(p *types.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[p.ID] = p
	metrics.OpenPositions.Set(float64(len(b.positions)))
}

// Remove drops a position that reached a terminal status.
func (b *Book) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, id)
	metrics.OpenPositions.Set(float64(len(b.positions)))
}

// Live returns a snapshot slice of the working set.
func (b *Book) Live() []*types.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*types.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out
}

// Count returns how many positions are live.
func (b *Book) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// Holds reports whether any live position is in the given token.
func (b *Book) Holds(address string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, p := range b.positions {
		if p.Address == address {
			return true
		}
	}
	return false
}
