package notify

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
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CosmoTheDev/klara-agent/internal/config"
)

// webhookPayload is the JSON body posted for every event.
type webhookPayload struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Shop      string         `json:"shop"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	URL       string         `json:"url,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp string         `json:"ts"`
}

// WebhookChannel posts events as JSON to a configured endpoint. With a
// secret, X-Klara-Signature carries "sha256=" + hex HMAC of the body.
type WebhookChannel struct {
	cfg    config.WebhookConfig
	client *http.Client
}

// NewWebhook creates a WebhookChannel from cfg.
func NewWebhook(cfg config.WebhookConfig) *WebhookChannel {
	return &WebhookChannel{cfg: cfg, client: &http.Client{Timeout: 5 * time.Second}}
}

func (w *WebhookChannel) Name() string       { return "webhook" }
func (w *WebhookChannel) IsConfigured() bool { return w.cfg.URL != "" }

func (w *WebhookChannel) Send(ctx context.Context, evt Event) error {
	p := webhookPayload{
		ID:        uuid.NewString(),
		Type:      evt.Type,
		Shop:      evt.Shop,
		Title:     evt.Title,
		Body:      evt.Body,
		Severity:  evt.Severity,
		URL:       evt.URL,
		Metadata:  evt.Metadata,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", evt.Type, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "klara-agent")
	req.Header.Set("X-Klara-Event", evt.Type)
	req.Header.Set("X-Klara-Delivery", p.ID)
	if w.cfg.Secret != "" {
		req.Header.Set("X-Klara-Signature", "sha256="+sign(w.cfg.Secret, body))
	}

	resp, err := w.client.Do(req) // #nosec G107 -- URL is a user-configured webhook endpoint
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
