package priceapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newMockTickerServer serves one client connection: it reads (and
// discards) the subscribe message, then writes ticker messages for
// each price in prices.
func newMockTickerServer(t *testing.T, prices []string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub coinbaseTickerSubscribe
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}

		for _, p := range prices {
			msg := coinbaseTickerMessage{Type: "ticker", ProductID: sub.ProductIDs[0], Price: p}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}))
	return server
}

func TestUsdFeedReceivesTickerPrice(t *testing.T) {
	server := newMockTickerServer(t, []string{"3000.50", "3010.25"})
	defer server.Close()

	wsURL := strings.Replace(server.URL, "http://", "ws://", 1)
	feed := NewUsdFeed(wsURL, "ETH-USD", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		feed.Run(ctx)
		close(done)
	}()

	deadline := time.After(1500 * time.Millisecond)
	for {
		if usd, ok := feed.Price(); ok && usd == 3010.25 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("feed never observed the latest ticker price")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestUsdFeedDisabledWithoutURL(t *testing.T) {
	feed := NewUsdFeed("", "ETH-USD", nil)
	if _, ok := feed.Price(); ok {
		t.Fatalf("expected a disabled feed to never report ok=true")
	}
	feed.Run(context.Background()) // must return immediately
}
