package autonomy

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/CosmoTheDev/klara-agent/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func imageFinding() models.Finding {
	return models.Finding{
		ID:             "missing_images:p1",
		EntityType:     models.EntityProduct,
		EntityID:       "p1",
		IssueType:      models.IssueMissingImages,
		AutonomyType:   models.AutonomyImageFix,
		ProposedAction: models.FixImageAI{ProductID: "p1"},
	}
}

func TestEvaluateHonoursSessionCap(t *testing.T) {
	p := NewPolicy(DefaultRules())
	s := NewSession(true)

	for i := 0; i < 5; i++ {
		require.True(t, p.Evaluate(imageFinding(), s), "attempt %d", i+1)
	}
	assert.False(t, p.Evaluate(imageFinding(), s))
	assert.Equal(t, 5, s.AppliedCount())
	assert.Equal(t, 5, s.AppliedFor(models.AutonomyImageFix))
}

func TestEvaluateRefusals(t *testing.T) {
	p := NewPolicy(DefaultRules())

	off := NewSession(false)
	assert.False(t, p.Evaluate(imageFinding(), off))
	assert.Zero(t, off.AppliedCount())

	s := NewSession(true)
	seo := models.Finding{IssueType: models.IssueMissingSEOTitle, AutonomyType: models.AutonomySEOFix}
	assert.False(t, p.Evaluate(seo, s), "SEO fixes are manual by default")

	manual := models.Finding{IssueType: models.IssueMissingImages}
	assert.False(t, p.Evaluate(manual, s), "no autonomy group means manual")

	unknown := models.Finding{AutonomyType: "PRICE_FIX"}
	assert.False(t, p.Evaluate(unknown, s))
	assert.Zero(t, s.AppliedCount())
}

func TestCapIsPerGroup(t *testing.T) {
	rules := DefaultRules()
	rules[models.AutonomyImageFix] = Rule{Enabled: true, MaxPerSession: 1}
	rules[models.AutonomySEOFix] = Rule{Enabled: true, MaxPerSession: 1}
	p := NewPolicy(rules)
	s := NewSession(true)

	seo := models.Finding{AutonomyType: models.AutonomySEOFix}
	assert.True(t, p.Evaluate(imageFinding(), s))
	assert.False(t, p.Evaluate(imageFinding(), s))
	assert.True(t, p.Evaluate(seo, s))
	assert.Equal(t, 2, s.AppliedCount())
}

func TestBoundedPauseLatches(t *testing.T) {
	p := NewPolicy(DefaultRules())
	s := NewSession(true)

	assert.Equal(t, Decision{Applied: true}, p.EvaluateBounded(imageFinding(), s, 2))
	assert.Equal(t, Decision{Applied: true}, p.EvaluateBounded(imageFinding(), s, 2))
	assert.Equal(t, Decision{Paused: true}, p.EvaluateBounded(imageFinding(), s, 2))
	assert.True(t, s.Paused())

	// The per-group cap (5) is not reached, but the latch holds.
	assert.Equal(t, Decision{Paused: true}, p.EvaluateBounded(imageFinding(), s, 100))
	assert.False(t, p.Evaluate(imageFinding(), s))
	assert.Equal(t, 2, s.AppliedCount())

	s.Reset()
	assert.False(t, s.Paused())
	assert.Equal(t, Decision{Applied: true}, p.EvaluateBounded(imageFinding(), s, 2))
}

func TestBoundedRefusalIsNotPause(t *testing.T) {
	p := NewPolicy(DefaultRules())
	s := NewSession(true)
	seo := models.Finding{AutonomyType: models.AutonomySEOFix}
	assert.Equal(t, Decision{}, p.EvaluateBounded(seo, s, 3))
	assert.False(t, s.Paused())
}

func TestConcurrentEvaluateNeverExceedsCap(t *testing.T) {
	p := NewPolicy(DefaultRules())
	s := NewSession(true)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.EvaluateBounded(imageFinding(), s, 4).Applied {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, granted)
	assert.Equal(t, 4, s.AppliedCount())
	assert.True(t, s.Paused())
}

func TestRegistryIsolatesShops(t *testing.T) {
	r := NewRegistry(true)
	p := NewPolicy(DefaultRules())

	a := r.Session("a.example")
	require.Same(t, a, r.Session("a.example"))
	assert.True(t, p.Evaluate(imageFinding(), a))
	assert.Zero(t, r.Session("b.example").AppliedCount())
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  SEO_FIX:\n    enabled: true\n    max_per_session: 3\n"), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, Rule{Enabled: true, MaxPerSession: 3}, rules[models.AutonomySEOFix])
	assert.Equal(t, Rule{Enabled: true, MaxPerSession: 5}, rules[models.AutonomyImageFix])

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  IMAGE_FIX: {enabled: true, max_per_session: -1}\n"), 0o600))
	_, err = LoadRules(path)
	assert.Error(t, err)

	rules, err = LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
}
