// Package autonomy decides whether a finding may be fixed without a human.
package autonomy

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/CosmoTheDev/klara-agent/models"
)

// Rule governs one autonomy group.
type Rule struct {
	Enabled       bool `yaml:"enabled"         json:"enabled"`
	MaxPerSession int  `yaml:"max_per_session" json:"max_per_session"`
}

// Rules maps an autonomy group to its rule. Groups without a rule are manual.
type Rules map[models.AutonomyType]Rule

// DefaultRules only lets image fixes run unattended.
func DefaultRules() Rules {
	return Rules{
		models.AutonomyImageFix:       {Enabled: true, MaxPerSession: 5},
		models.AutonomySEOFix:         {Enabled: false},
		models.AutonomyDescriptionFix: {Enabled: false},
	}
}

type rulesFile struct {
	Rules map[string]Rule `yaml:"rules"`
}

// LoadRules reads a YAML rules file and overlays it on DefaultRules.
// An empty path returns the defaults.
//
//	rules:
//	  IMAGE_FIX: {enabled: true, max_per_session: 3}
//	  SEO_FIX:   {enabled: true, max_per_session: 10}
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading autonomy rules: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing autonomy rules %s: %w", path, err)
	}
	for name, r := range f.Rules {
		if r.MaxPerSession < 0 {
			return nil, fmt.Errorf("autonomy rule %s: max_per_session must be >= 0", name)
		}
		rules[models.AutonomyType(name)] = r
	}
	return rules, nil
}
