// Package notify implements engine.Notifier as a best-effort webhook
// POST plus a structured zap log line on every call, so the message is
// logged even when no webhook URL is configured or the request fails.
// Notify returns a failed POST as an error; the engine only logs it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookNotifier posts each notification as a JSON payload to a
// single configured URL (a Slack incoming webhook, PagerDuty events
// endpoint, or similar).
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	log        *zap.Logger
}

// payload is the JSON body posted to the webhook URL.
type payload struct {
	Text     string `json:"text"`
	Source   string `json:"source"`
	SentAtMs int64  `json:"sent_at_ms"`
}

// NewWebhookNotifier returns a WebhookNotifier posting to url. An
// empty url is valid: Notify then only logs.
func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logger,
	}
}

// Notify implements engine.Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, message string) error {
	n.log.Info("notify", zap.String("message", message))

	if n.url == "" {
		return nil
	}

	body, err := json.Marshal(payload{
		Text:     message,
		Source:   "rangekeeper",
		SentAtMs: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
