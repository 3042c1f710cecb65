package autonomy

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CosmoTheDev/klara-agent/models"
)

// Session holds the counters for one run. Counters only grow and the paused
// flag only latches until Reset.
type Session struct {
	mu        sync.Mutex
	id        string
	enabled   bool
	paused    bool
	total     int
	applied   map[models.AutonomyType]int
	startedAt time.Time
}

// NewSession starts a session with autonomy switched on or off.
func NewSession(enabled bool) *Session {
	return &Session{
		id:        uuid.NewString(),
		enabled:   enabled,
		applied:   make(map[models.AutonomyType]int),
		startedAt: time.Now().UTC(),
	}
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled toggles autonomy for the rest of the session.
func (s *Session) SetEnabled(v bool) {
	s.mu.Lock()
	s.enabled = v
	s.mu.Unlock()
}

// AppliedCount is the number of automatic fixes approved across all groups.
func (s *Session) AppliedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// AppliedFor is the number approved for one group.
func (s *Session) AppliedFor(t models.AutonomyType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied[t]
}

func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Reset clears the counters and the paused latch and assigns a new id.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = uuid.NewString()
	s.paused = false
	s.total = 0
	s.applied = make(map[models.AutonomyType]int)
	s.startedAt = time.Now().UTC()
}

// Stats is a point-in-time copy of the session state.
type Stats struct {
	ID        string                      `json:"id"`
	Enabled   bool                        `json:"enabled"`
	Paused    bool                        `json:"paused"`
	Applied   int                         `json:"applied"`
	ByGroup   map[models.AutonomyType]int `json:"by_group"`
	StartedAt time.Time                   `json:"started_at"`
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	by := make(map[models.AutonomyType]int, len(s.applied))
	for k, v := range s.applied {
		by[k] = v
	}
	return Stats{ID: s.id, Enabled: s.enabled, Paused: s.paused, Applied: s.total, ByGroup: by, StartedAt: s.startedAt}
}

// Registry hands out one long-lived session per shop.
type Registry struct {
	mu       sync.Mutex
	enabled  bool
	sessions map[string]*Session
}

// NewRegistry returns a registry whose new sessions start with enabled.
func NewRegistry(enabled bool) *Registry {
	return &Registry{enabled: enabled, sessions: make(map[string]*Session)}
}

// Session returns the shop's session, creating it on first use.
func (r *Registry) Session(shop string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[shop]
	if !ok {
		s = NewSession(r.enabled)
		r.sessions[shop] = s
	}
	return s
}
