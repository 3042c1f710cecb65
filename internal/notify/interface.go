// Package notify sends fix, undo, pause and scan events to chat and webhooks.
package notify

import "context"

// Event types.
const (
	EventFixApplied     = "fix_applied"
	EventFixFailed      = "fix_failed"
	EventFixUndone      = "fix_undone"
	EventAutonomyPaused = "autonomy_paused"
	EventScanCompleted  = "scan_completed"
	EventScanFailed     = "scan_failed"
)

// Event represents a notification event from klara.
type Event struct {
	Type     string         // one of the Event* constants
	Title    string
	Body     string
	URL      string         // optional deep link (e.g. gateway history entry)
	Severity string         // "critical" | "high" | "medium" | "low" | ""
	Shop     string         // shop domain the event belongs to
	Metadata map[string]any // extra structured data
}

// Channel is implemented by each notification provider.
type Channel interface {
	Name() string
	IsConfigured() bool
	Send(ctx context.Context, evt Event) error
}

// Notifier is what producers of events depend on.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// Fanout delivers each event to every notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, evt Event) {
	for _, n := range f {
		if n != nil {
			n.Notify(ctx, evt)
		}
	}
}
