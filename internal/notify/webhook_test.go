package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestWebhookNotifierPostsPayload(t *testing.T) {
	var received payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, zap.NewNop())
	if err := n.Notify(context.Background(), "REBALANCE pool1 lower"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if received.Text != "REBALANCE pool1 lower" {
		t.Fatalf("Text = %q, want the notified message", received.Text)
	}
}

func TestWebhookNotifierWithoutURLOnlyLogs(t *testing.T) {
	n := NewWebhookNotifier("", zap.NewNop())
	if err := n.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
}

func TestWebhookNotifierErrorStatusReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, zap.NewNop())
	if err := n.Notify(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error for 500 response")
	}
}
