package core

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/moonbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EVENT BUS - Decouples the presence loops from their consumers
// ═══════════════════════════════════════════════════════════════════════════════
//
// Feed loops publish, the dispatcher consumes. Slow subscribers drop events
// rather than block a publisher; every event is a snapshot, safe to read
// after delivery.
//
// ═══════════════════════════════════════════════════════════════════════════════

// EventKind tags what a bus event carries.
type EventKind string

const (
	EventCandidates EventKind = "candidates"
	EventBalance    EventKind = "balance"
	EventEdge       EventKind = "edge"
)

// Event is one bus message. Only the field matching Kind is populated.
type Event struct {
	Kind       EventKind
	Candidates []*types.Candidate
	Balance    decimal.Decimal
	Markets    []*types.EdgeMarket
	At         time.Time
}

// Bus fans events out to subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a buffered channel receiving all future events.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default: // full subscriber drops the event
		}
	}
}
