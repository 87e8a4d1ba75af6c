package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SignPayload computes an HMAC-SHA256 signature of the payload using the given
// secret, returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the
// HMAC-SHA256 of payload under the given secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// WebhookTransport delivers messages by POSTing a signed JSON payload to the
// recipient URL. The idempotency key travels in a header so receivers can
// dedupe retried deliveries.
type WebhookTransport struct {
	client *http.Client
	secret string
}

// NewWebhookTransport creates a WebhookTransport signing with the given secret.
func NewWebhookTransport(secret string, client *http.Client) *WebhookTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookTransport{client: client, secret: secret}
}

type webhookPayload struct {
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

func (t *WebhookTransport) Send(ctx context.Context, msg Message) (Receipt, error) {
	payload, err := json.Marshal(webhookPayload{
		Subject: msg.Subject,
		Body:    msg.Body,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Recipient, bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", "sha256="+SignPayload(payload, t.secret))
	req.Header.Set("X-Idempotency-Key", msg.IdempotencyKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	// Drain at most 1KB so the connection can be reused.
	io.CopyN(io.Discard, resp.Body, 1024)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return Receipt{Accepted: true, TransportID: resp.Header.Get("X-Delivery-ID")}, nil
}
