package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/CosmoTheDev/klara-agent/internal/notify"
)

// replaySize is how many recent frames a reconnecting client can resume from.
const replaySize = 64

type sseFrame struct {
	id  uint64
	raw []byte
}

// Broadcaster numbers gateway events and fans them out to GET /events
// subscribers. A full subscriber buffer drops the frame for that client only.
type Broadcaster struct {
	mu     sync.Mutex
	nextID uint64
	recent []sseFrame
	subs   map[chan []byte]struct{}
}

func newBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan []byte]struct{})}
}

// subscribe registers a client. With lastID > 0 it also returns the buffered
// frames newer than lastID, taken under the same lock so none is missed or
// delivered twice.
func (b *Broadcaster) subscribe(lastID uint64) (chan []byte, [][]byte) {
	ch := make(chan []byte, 32)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	if lastID == 0 {
		return ch, nil
	}
	var backlog [][]byte
	for _, f := range b.recent {
		if f.id > lastID {
			backlog = append(backlog, f.raw)
		}
	}
	return ch, backlog
}

func (b *Broadcaster) unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// send assigns the next event id and writes evt as an SSE frame with id,
// event and data lines.
func (b *Broadcaster) send(evt SSEEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("gateway: failed to marshal SSE event", "type", evt.Type, "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	frame := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", b.nextID, evt.Type, data))
	b.recent = append(b.recent, sseFrame{id: b.nextID, raw: frame})
	if len(b.recent) > replaySize {
		b.recent = b.recent[len(b.recent)-replaySize:]
	}
	for ch := range b.subs {
		select {
		case ch <- frame:
		default:
			slog.Debug("gateway: SSE subscriber behind, dropping frame", "id", b.nextID, "type", evt.Type)
		}
	}
}

// Notify makes the broadcaster a notification sink, so fix, undo, pause and
// scan events reach SSE clients alongside Slack and webhooks.
func (b *Broadcaster) Notify(_ context.Context, evt notify.Event) {
	payload := map[string]any{"title": evt.Title, "shop": evt.Shop}
	if evt.Body != "" {
		payload["body"] = evt.Body
	}
	if evt.Severity != "" {
		payload["severity"] = evt.Severity
	}
	for k, v := range evt.Metadata {
		payload[k] = v
	}
	b.send(SSEEvent{Type: evt.Type, Payload: payload})
}
