package autonomy

import (
	"log/slog"

	"github.com/CosmoTheDev/klara-agent/models"
)

// Policy evaluates findings against a ruleset. It is immutable and safe for
// concurrent use; all mutable state lives in the Session.
type Policy struct {
	rules Rules
}

func NewPolicy(rules Rules) *Policy {
	if rules == nil {
		rules = DefaultRules()
	}
	cp := make(Rules, len(rules))
	for k, v := range rules {
		cp[k] = v
	}
	return &Policy{rules: cp}
}

// Rule returns the rule for t.
func (p *Policy) Rule(t models.AutonomyType) (Rule, bool) {
	r, ok := p.rules[t]
	return r, ok
}

// Evaluate reports whether f may be fixed unattended. A true result has
// already been counted against the session.
func (p *Policy) Evaluate(f models.Finding, s *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.evaluateLocked(f, s)
}

// Decision is the outcome of a bounded evaluation.
type Decision struct {
	Applied bool `json:"applied"`
	Paused  bool `json:"paused"`
}

// EvaluateBounded applies the run ceiling before the regular checks. Reaching
// maxPerRun pauses the session; every later call returns Paused. A maxPerRun
// of zero or less disables the ceiling.
func (p *Policy) EvaluateBounded(f models.Finding, s *Session, maxPerRun int) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return Decision{Paused: true}
	}
	if maxPerRun > 0 && s.total >= maxPerRun {
		s.paused = true
		slog.Info("autonomy: run ceiling reached, pausing", "session", s.id, "applied", s.total, "max_per_run", maxPerRun)
		return Decision{Paused: true}
	}
	return Decision{Applied: p.evaluateLocked(f, s)}
}

// evaluateLocked runs the checks in order; the first failing one wins.
func (p *Policy) evaluateLocked(f models.Finding, s *Session) bool {
	if !s.enabled || s.paused {
		return false
	}
	if f.AutonomyType == models.AutonomyNone {
		return false
	}
	rule, ok := p.rules[f.AutonomyType]
	if !ok || !rule.Enabled {
		return false
	}
	if s.applied[f.AutonomyType] >= rule.MaxPerSession {
		return false
	}
	s.applied[f.AutonomyType]++
	s.total++
	return true
}
