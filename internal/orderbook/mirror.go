package orderbook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	warnStaleAfter = 60 * time.Second
	deadAfter      = 120 * time.Second
	healthInterval = 10 * time.Second
	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// wireSnapshot is a per-token full-book item: {asset_id, bids, asks}.
type wireSnapshot struct {
	AssetID string          `json:"asset_id"`
	Bids    []wireLevel     `json:"bids"`
	Asks    []wireLevel     `json:"asks"`
	PriceChanges []wireDelta `json:"price_changes"`
}

type wireLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type wireDelta struct {
	AssetID string          `json:"asset_id"`
	Side    string          `json:"side"` // "BUY"=bid, "SELL"=ask
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
}

type handshakeMsg struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

type subscribeMsg struct {
	Operation string   `json:"operation"`
	AssetIDs  []string `json:"assets_ids"`
}

// UpdateCallback is invoked after every applied update with the token and
// its current book.
type UpdateCallback func(token string, book *Book)

// Mirror owns one streaming connection, the per-token Books, the
// handshake/subscribe sequence, health tracking, and exponential-backoff
// reconnect with subscription replay.
type Mirror struct {
	url    string
	logger *slog.Logger

	mu      sync.RWMutex
	books   map[string]*Book
	subbed  map[string]bool

	onUpdate UpdateCallback

	connMu sync.Mutex
	conn   *websocket.Conn

	lastMsgMu sync.RWMutex
	lastMsg   time.Time
}

// New returns a Mirror ready to connect.
func New(url string, logger *slog.Logger) *Mirror {
	return &Mirror{
		url:    url,
		logger: logger.With("component", "orderbook_mirror"),
		books:  make(map[string]*Book),
		subbed: make(map[string]bool),
	}
}

// OnUpdate registers the callback invoked after every applied update.
func (m *Mirror) OnUpdate(cb UpdateCallback) {
	m.onUpdate = cb
}

// Book returns (creating if absent) the Book for token.
func (m *Mirror) Book(token string) *Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[token]
	if !ok {
		b = NewBook()
		m.books[token] = b
	}
	return b
}

// BestPrices returns the current best (bid, ask) for token.
func (m *Mirror) BestPrices(token string) (bid, ask decimal.Decimal) {
	return m.Book(token).BestPrices()
}

// Subscribe adds tokens to the tracked set and, if connected, sends a
// subscribe message immediately.
func (m *Mirror) Subscribe(tokens ...string) error {
	m.mu.Lock()
	for _, t := range tokens {
		m.subbed[t] = true
		if _, ok := m.books[t]; !ok {
			m.books[t] = NewBook()
		}
	}
	m.mu.Unlock()

	m.connMu.Lock()
	connected := m.conn != nil
	m.connMu.Unlock()
	if !connected {
		return nil // replayed by sendHandshakeAndResubscribe on connect
	}
	return m.writeJSON(subscribeMsg{Operation: "subscribe", AssetIDs: tokens})
}

// Run connects and maintains the connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		err := m.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.logger.Warn("feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// IsHealthy reports whether no message has arrived for warnStaleAfter
// (warn), and whether the connection should be considered dead (no message
// for deadAfter). Both are false before the first message.
func (m *Mirror) IsHealthy(now time.Time) (warn, dead bool) {
	m.lastMsgMu.RLock()
	last := m.lastMsg
	m.lastMsgMu.RUnlock()
	if last.IsZero() {
		return false, false
	}
	since := now.Sub(last)
	return since >= warnStaleAfter, since >= deadAfter
}

func (m *Mirror) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	defer func() {
		m.connMu.Lock()
		conn.Close()
		m.conn = nil
		m.connMu.Unlock()
	}()

	if err := m.sendHandshakeAndResubscribe(); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	m.logger.Info("feed connected", "url", m.url)
	m.touchLastMsg(time.Now())

	healthTicker := time.NewTicker(healthInterval)
	defer healthTicker.Stop()
	healthDone := make(chan struct{})
	defer close(healthDone)
	go m.healthLoop(healthTicker, healthDone)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		m.touchLastMsg(time.Now())
		m.handleMessage(msg)
	}
}

func (m *Mirror) healthLoop(ticker *time.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			warn, dead := m.IsHealthy(time.Now())
			if dead {
				m.logger.Error("feed connection dead, forcing reconnect")
				m.connMu.Lock()
				if m.conn != nil {
					m.conn.Close()
				}
				m.connMu.Unlock()
				return
			}
			if warn {
				m.logger.Warn("feed connection stale")
			}
		}
	}
}

func (m *Mirror) touchLastMsg(t time.Time) {
	m.lastMsgMu.Lock()
	m.lastMsg = t
	m.lastMsgMu.Unlock()
}

func (m *Mirror) sendHandshakeAndResubscribe() error {
	if err := m.writeJSON(handshakeMsg{AssetIDs: []string{}, Type: "market"}); err != nil {
		return err
	}

	m.mu.RLock()
	tokens := make([]string, 0, len(m.subbed))
	for t := range m.subbed {
		tokens = append(tokens, t)
	}
	m.mu.RUnlock()

	if len(tokens) == 0 {
		return nil
	}
	return m.writeJSON(subscribeMsg{Operation: "subscribe", AssetIDs: tokens})
}

// handleMessage parses a feed line. Bad JSON is logged and dropped without
// killing the stream; updates for unknown tokens are silently ignored.
func (m *Mirror) handleMessage(data []byte) {
	var items []wireSnapshot
	if err := json.Unmarshal(data, &items); err != nil {
		// Try a single object, in case the venue doesn't batch.
		var one wireSnapshot
		if err2 := json.Unmarshal(data, &one); err2 != nil {
			m.logger.Debug("dropping unparseable feed message", "error", err)
			return
		}
		items = []wireSnapshot{one}
	}

	now := time.Now()
	for _, item := range items {
		if len(item.PriceChanges) > 0 {
			for _, d := range item.PriceChanges {
				m.applyDelta(d, now)
			}
			continue
		}
		if item.AssetID == "" {
			continue
		}
		m.applySnapshot(item, now)
	}
}

func (m *Mirror) applySnapshot(item wireSnapshot, now time.Time) {
	m.mu.RLock()
	book, known := m.books[item.AssetID]
	m.mu.RUnlock()
	if !known {
		return
	}

	bids := make([]PriceLevel, 0, len(item.Bids))
	for _, l := range item.Bids {
		bids = append(bids, PriceLevel{Price: l.Price, Size: l.Size})
	}
	asks := make([]PriceLevel, 0, len(item.Asks))
	for _, l := range item.Asks {
		asks = append(asks, PriceLevel{Price: l.Price, Size: l.Size})
	}
	book.ApplySnapshot(bids, asks, now)

	if m.onUpdate != nil {
		m.onUpdate(item.AssetID, book)
	}
}

func (m *Mirror) applyDelta(d wireDelta, now time.Time) {
	m.mu.RLock()
	book, known := m.books[d.AssetID]
	m.mu.RUnlock()
	if !known {
		return
	}

	side := Ask
	if d.Side == "BUY" {
		side = Bid
	}
	book.ApplyDelta(side, d.Price, d.Size, now)

	if m.onUpdate != nil {
		m.onUpdate(d.AssetID, book)
	}
}

func (m *Mirror) writeJSON(v interface{}) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return fmt.Errorf("feed not connected")
	}
	m.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return m.conn.WriteJSON(v)
}
