package gateway

import "time"

// Schedule is a persisted cron entry that triggers a detection scan.
type Schedule struct {
	ID          int64  `db:"id"          json:"id"`
	Name        string `db:"name"        json:"name"`
	Description string `db:"description" json:"description"`
	Shop        string `db:"shop"        json:"shop"`
	// Expr is a cron expression ("0 2 * * *"), "@every 6h", "@hourly", or "@daily".
	Expr      string     `db:"expr"        json:"expr"`
	Enabled   bool       `db:"enabled"     json:"enabled"`
	LastRunAt *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	CreatedAt time.Time  `db:"created_at"  json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"  json:"updated_at"`
}

const scheduleColumns = `id, name, description, shop, expr, enabled, last_run_at, created_at, updated_at`

// SSEEvent is serialised as JSON and pushed over the GET /events SSE stream.
type SSEEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Status is a live snapshot of the gateway and orchestrator state.
type Status struct {
	Shop          string `json:"shop"`
	Catalog       string `json:"catalog"`
	Running       bool   `json:"running"`
	Scanning      bool   `json:"scanning"`
	OpenIssues    int    `json:"open_issues"`
	HealthScore   int    `json:"health_score"`
	LastTriggerAt string `json:"last_trigger_at,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
