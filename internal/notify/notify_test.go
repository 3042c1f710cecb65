package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/klara-agent/internal/config"
)

type recorder struct {
	mu     sync.Mutex
	bodies [][]byte
	sigs   []string
}

func (r *recorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.bodies = append(r.bodies, b)
		r.sigs = append(r.sigs, req.Header.Get("X-Klara-Signature"))
		r.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestWebhookSignsPayload(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	d := NewDispatcher(config.NotifyConfig{Webhook: config.WebhookConfig{URL: srv.URL, Secret: "s3cret"}})
	require.True(t, d.IsAnyConfigured())
	d.Notify(context.Background(), Event{Type: EventFixApplied, Title: "Fixed", Severity: "critical", Shop: "demo.shop"})

	require.Len(t, rec.bodies, 1)
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(rec.bodies[0])
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), rec.sigs[0])

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.bodies[0], &payload))
	assert.Equal(t, "demo.shop", payload["shop"])
	assert.Equal(t, EventFixApplied, payload["type"])
}

func TestDispatcherFilters(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	d := NewDispatcher(config.NotifyConfig{MinSeverity: "high", Slack: config.SlackConfig{WebhookURL: srv.URL}})
	ctx := context.Background()
	d.Notify(ctx, Event{Type: EventFixApplied, Severity: "low"})
	d.Notify(ctx, Event{Type: EventFixUndone})
	d.Notify(ctx, Event{Type: EventAutonomyPaused, Title: "paused"})
	d.Notify(ctx, Event{Type: EventFixApplied, Severity: "critical"})
	assert.Len(t, rec.bodies, 2)

	only := NewDispatcher(config.NotifyConfig{Events: []string{EventFixUndone}, Slack: config.SlackConfig{WebhookURL: srv.URL}})
	only.Notify(ctx, Event{Type: EventFixUndone})
	only.Notify(ctx, Event{Type: EventFixFailed})
	assert.Len(t, rec.bodies, 3)
}

func TestNilAndUnconfiguredDispatcher(t *testing.T) {
	var d *Dispatcher
	d.Notify(context.Background(), Event{Type: EventFixFailed})
	assert.False(t, NewDispatcher(config.NotifyConfig{}).IsAnyConfigured())
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(context.Context, Event) { c.n++ }

func TestFanoutSkipsNil(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	Fanout{a, nil, b}.Notify(context.Background(), Event{Type: EventScanCompleted})
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}
