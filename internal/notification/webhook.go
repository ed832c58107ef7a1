package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// EventZScoreAlert is the event name of every webhook delivery.
const EventZScoreAlert = "zscore_alert"

// webhookPayload is the body POSTed to the endpoint.
type webhookPayload struct {
	Event string `json:"event"`
	Alert Alert  `json:"alert"`
}

// WebhookNotifier POSTs alerts as JSON to an HTTP endpoint. Each delivery
// carries an idempotency key of symbol and output version, so a receiver
// can drop the retry of an alert it already accepted. With a secret set
// the body is signed with HMAC-SHA256.
type WebhookNotifier struct {
	url    string
	secret []byte
	client *http.Client
}

// WebhookOption configures a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithWebhookSecret signs bodies in the X-Signature header.
func WithWebhookSecret(secret string) WebhookOption {
	return func(w *WebhookNotifier) {
		if secret != "" {
			w.secret = []byte(secret)
		}
	}
}

func NewWebhookNotifier(url string, opts ...WebhookOption) *WebhookNotifier {
	w := &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	if alert.At.IsZero() {
		alert.At = time.Now().UTC()
	}
	body, err := json.Marshal(webhookPayload{Event: EventZScoreAlert, Alert: alert})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alert-Level", string(alert.Level))
	req.Header.Set("X-Alert-Symbol", alert.Symbol)
	req.Header.Set("Idempotency-Key", alertKey(alert))
	if w.secret != nil {
		req.Header.Set("X-Signature", "sha256="+Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: send: %w", alert.Symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: unexpected status %d", alert.Symbol, resp.StatusCode)
	}
	return nil
}

// Sign is the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func alertKey(a Alert) string {
	return a.Symbol + ":" + strconv.FormatUint(a.Version, 10)
}
