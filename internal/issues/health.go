package issues

import (
	"context"
	"sort"

	"github.com/CosmoTheDev/klara-agent/models"
)

// HealthScore is max(0, 100 - sum of severity deductions) over open issues.
func HealthScore(list []models.Issue) int {
	score := 100
	for _, iss := range list {
		if iss.Status != models.IssueStatusOpen {
			continue
		}
		score -= iss.Severity().Deduction()
	}
	if score < 0 {
		return 0
	}
	return score
}

// Health summarises a shop's issues.
type Health struct {
	Score      int                          `json:"score"`
	Open       int                          `json:"open"`
	Fixed      int                          `json:"fixed"`
	ByCategory map[models.Category]int      `json:"by_category"`
	BySeverity map[models.SeverityLevel]int `json:"by_severity"`
}

// Summarize computes Health from issues; breakdowns count open issues only.
func Summarize(list []models.Issue) Health {
	h := Health{
		Score:      HealthScore(list),
		ByCategory: make(map[models.Category]int),
		BySeverity: make(map[models.SeverityLevel]int),
	}
	for _, iss := range list {
		if iss.Status == models.IssueStatusFixed {
			h.Fixed++
			continue
		}
		h.Open++
		h.ByCategory[iss.Category()]++
		h.BySeverity[iss.Severity()]++
	}
	return h
}

// Health loads the shop's issues and summarises them.
func (s *Store) Health(ctx context.Context, shop string) (*Health, error) {
	list, err := s.List(ctx, shop, Filter{})
	if err != nil {
		return nil, err
	}
	h := Summarize(list)
	return &h, nil
}

// Top returns up to n open issues, most severe first.
func (s *Store) Top(ctx context.Context, shop string, n int) ([]models.Issue, error) {
	list, err := s.List(ctx, shop, Filter{Status: models.IssueStatusOpen})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Severity().Weight() > list[j].Severity().Weight()
	})
	if n > 0 && len(list) > n {
		list = list[:n]
	}
	return list, nil
}
