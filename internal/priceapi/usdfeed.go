package priceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// coinbaseTickerSubscribe is the subscribe message for a public
// exchange ticker channel, in Coinbase's Exchange wire shape.
type coinbaseTickerSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

type coinbaseTickerMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
}

// UsdFeed implements engine.PriceFeed by keeping the latest print from
// a public exchange websocket ticker channel, grounded on
// sawpanic-cryptorun's exchange adapters (coinbase_adapter.go,
// kraken_adapter.go): dial, subscribe, read loop, store the latest
// value behind a mutex.
type UsdFeed struct {
	wsURL     string
	productID string
	log       *zap.Logger

	mu    sync.RWMutex
	price float64
	have  bool
}

// NewUsdFeed returns a UsdFeed dialing wsURL and subscribing to
// productID's ticker channel. An empty wsURL disables the feed:
// Price always reports ok=false and callers fall back to their
// configured static price.
func NewUsdFeed(wsURL, productID string, log *zap.Logger) *UsdFeed {
	if productID == "" {
		productID = "ETH-USD"
	}
	return &UsdFeed{wsURL: wsURL, productID: productID, log: log}
}

// Price implements engine.PriceFeed.
func (f *UsdFeed) Price() (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.price, f.have
}

// Run dials the feed and reconnects with backoff until ctx is
// cancelled. With a feed URL it never returns before ctx is done, so
// callers run it in its own goroutine; with an empty URL it returns at
// once. While disconnected, Price reports ok=false.
func (f *UsdFeed) Run(ctx context.Context) {
	if f.wsURL == "" {
		return
	}
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.runOnce(ctx); err != nil && f.log != nil {
			f.log.Warn("usd feed disconnected", zap.Error(err), zap.Duration("retry_in", backoff))
		}
		f.mu.Lock()
		f.have = false
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (f *UsdFeed) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("priceapi: dial usd feed: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	sub := coinbaseTickerSubscribe{
		Type:       "subscribe",
		ProductIDs: []string{f.productID},
		Channels:   []string{"ticker"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("priceapi: subscribe usd feed: %w", err)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("priceapi: read usd feed: %w", err)
		}
		var msg coinbaseTickerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type != "ticker" || msg.Price == "" {
			continue
		}
		price, err := strconv.ParseFloat(msg.Price, 64)
		if err != nil {
			continue
		}
		f.mu.Lock()
		f.price = price
		f.have = true
		f.mu.Unlock()
	}
}
