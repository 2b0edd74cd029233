package notify

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
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Thumbnail-Signature"
	HeaderTimestamp = "X-Thumbnail-Timestamp"
	HeaderEvent     = "X-Thumbnail-Event"
)

// WebhookConfig configures a WebhookPublisher.
type WebhookConfig struct {
	URL           string
	SigningSecret string
	Timeout       time.Duration
}

// WebhookPublisher POSTs each message as JSON to a URL. When a signing
// secret is set, the body is signed as HMAC-SHA256 over "timestamp.body".
// Delivery is a single attempt.
type WebhookPublisher struct {
	httpClient    *http.Client
	url           string
	signingSecret string
	now           func() time.Time
}

var _ Publisher = (*WebhookPublisher)(nil)

func NewWebhookPublisher(cfg WebhookConfig) *WebhookPublisher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookPublisher{
		httpClient:    &http.Client{Timeout: timeout},
		url:           strings.TrimSpace(cfg.URL),
		signingSecret: cfg.SigningSecret,
		now:           time.Now,
	}
}

type webhookPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Status  string `json:"status"`
}

func (p *WebhookPublisher) Publish(ctx context.Context, msg Message) error {
	if p.url == "" {
		return fmt.Errorf("webhook URL is empty")
	}

	body, err := json.Marshal(webhookPayload{Subject: msg.Subject, Body: msg.Body, Status: msg.Status})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}

	timestamp := strconv.FormatInt(p.now().UTC().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderEvent, msg.Status)
	if p.signingSecret != "" {
		req.Header.Set(HeaderSignature, Sign(p.signingSecret, timestamp, body))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status=%d", resp.StatusCode)
	}
	return nil
}

// Sign returns the signature header value for body sent at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
