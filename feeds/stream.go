package feeds

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE STREAM - WebSocket ticks for open-position symbols
// ═══════════════════════════════════════════════════════════════════════════════
//
// Optional low-latency companion to the HTTP feed. Maintains a price cache and
// fans ticks out to subscribers; the lifecycle loop prefers a fresh streamed
// price over polling when one is available.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 30 * time.Second
)

// Tick is one streamed trade/price update.
type Tick struct {
	Address   string
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// PriceStream manages the WebSocket connection and tick distribution.
type PriceStream struct {
	mu sync.RWMutex

	wsURL     string
	conn      *websocket.Conn
	running   bool
	stopCh    chan struct{}

	subscribers []chan Tick
	watched     map[string]bool            // addresses we asked the stream for
	prices      map[string]decimal.Decimal // address -> last price
	updated     map[string]time.Time
}

// NewPriceStream creates a stream against the given WebSocket URL. An empty
// URL yields a disabled stream; all lookups miss and the caller falls back to
// HTTP polling.
func NewPriceStream(wsURL string) *PriceStream {
	return &PriceStream{
		wsURL:   wsURL,
		stopCh:  make(chan struct{}),
		watched: make(map[string]bool),
		prices:  make(map[string]decimal.Decimal),
		updated: make(map[string]time.Time),
	}
}

// Start connects and begins processing. No-op when no URL is configured.
func (s *PriceStream) Start() {
	if s.wsURL == "" {
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.connectionLoop()
	log.Info().Str("url", s.wsURL).Msg("📡 Price stream started")
}

// Stop closes the connection.
func (s *PriceStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	if s.conn != nil {
		s.conn.Close()
	}
	log.Info().Msg("Price stream stopped")
}

// Subscribe returns a channel that receives ticks.
func (s *PriceStream) Subscribe() chan Tick {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Tick, 256)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Watch asks the stream for updates on an address.
func (s *PriceStream) Watch(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watched[address] {
		return
	}
	s.watched[address] = true

	if s.conn != nil {
		msg := map[string]interface{}{"op": "subscribe", "address": address}
		if err := s.conn.WriteJSON(msg); err != nil {
			log.Warn().Err(err).Str("address", address).Msg("Stream subscribe failed")
		}
	}
}

// Unwatch drops updates for an address.
func (s *PriceStream) Unwatch(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.watched, address)
	delete(s.prices, address)
	delete(s.updated, address)

	if s.conn != nil {
		_ = s.conn.WriteJSON(map[string]interface{}{"op": "unsubscribe", "address": address})
	}
}

// FreshPrice returns the streamed price for an address when it is newer than
// maxAge. ok is false on a miss; the caller polls instead.
func (s *PriceStream) FreshPrice(address string, maxAge time.Duration) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.updated[address]
	if !ok || time.Since(at) > maxAge {
		return decimal.Zero, false
	}
	return s.prices[address], true
}

// connectionLoop maintains the WebSocket connection with reconnects.
func (s *PriceStream) connectionLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if err := s.connect(); err != nil {
			log.Error().Err(err).Msg("Stream connection failed, retrying...")
			select {
			case <-s.stopCh:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		s.readLoop()

		select {
		case <-s.stopCh:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *PriceStream) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	// Re-subscribe everything we were watching before the reconnect.
	for address := range s.watched {
		_ = conn.WriteJSON(map[string]interface{}{"op": "subscribe", "address": address})
	}
	s.mu.Unlock()

	go s.pingLoop(conn)
	log.Info().Msg("📡 Price stream connected")
	return nil
}

func (s *PriceStream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *PriceStream) readLoop() {
	for {
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				log.Warn().Err(err).Msg("Stream read error, reconnecting")
			}
			return
		}

		var msg struct {
			Address string `json:"address"`
			Symbol  string `json:"symbol"`
			Price   string `json:"price"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Address == "" {
			continue
		}

		price, err := decimal.NewFromString(msg.Price)
		if err != nil || price.IsZero() {
			continue
		}

		tick := Tick{
			Address:   msg.Address,
			Symbol:    msg.Symbol,
			Price:     price,
			Timestamp: time.Now(),
		}

		s.mu.Lock()
		s.prices[msg.Address] = price
		s.updated[msg.Address] = tick.Timestamp
		subs := s.subscribers
		s.mu.Unlock()

		for _, ch := range subs {
			select {
			case ch <- tick:
			default: // slow subscriber drops ticks, never blocks the reader
			}
		}
	}
}
