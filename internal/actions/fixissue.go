package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/CosmoTheDev/klara-agent/internal/preferences"
	"github.com/CosmoTheDev/klara-agent/models"
)

// FixOptions adjusts how FixIssue remedies an issue.
type FixOptions struct {
	// Value replaces generated text for text remedies.
	Value string
	// ImageStrategy ("STOCK" or "AI") opts an image issue into a remedy.
	ImageStrategy string
	Style         models.ImageStyle
	Query         string
	PhotoURL      string
	Source        string
}

// ActionForIssue maps a stored issue to its remedy. Image issues need an
// explicit strategy; everything without a remedy is ErrManualOnly.
func ActionForIssue(iss *models.Issue, opts FixOptions) (models.Action, error) {
	switch iss.IssueType {
	case models.IssueMissingDescription:
		return models.ImproveDescription{ProductID: iss.EntityID, DescriptionHTML: opts.Value}, nil
	case models.IssueMissingSEOTitle:
		return models.FixSEO{ProductID: iss.EntityID, Fields: []models.SEOField{models.SEOFieldTitle}, Title: opts.Value}, nil
	case models.IssueMissingSEODescription:
		return models.FixSEO{ProductID: iss.EntityID, Fields: []models.SEOField{models.SEOFieldDescription}, Description: opts.Value}, nil
	case models.IssueMissingAltText:
		return models.FixAltText{ProductID: iss.ParentID, ImageID: iss.EntityID, AltText: opts.Value}, nil
	case models.IssueMissingSKU:
		return models.FixSKU{ProductID: iss.ParentID, VariantID: iss.EntityID, SKU: opts.Value}, nil
	case models.IssueMissingImages, models.IssueLowImageCount:
		switch strings.ToUpper(strings.TrimSpace(opts.ImageStrategy)) {
		case preferences.StrategyStock:
			return models.FixImageStock{ProductID: iss.EntityID, Query: opts.Query, PhotoURL: opts.PhotoURL}, nil
		case preferences.StrategyAI:
			return models.FixImageAI{ProductID: iss.EntityID, Style: opts.Style}, nil
		case "":
			return nil, fmt.Errorf("%w: %s needs an image strategy (STOCK or AI)", ErrManualOnly, iss.IssueType)
		default:
			return nil, invalid("unknown image strategy %q", opts.ImageStrategy)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrManualOnly, iss.IssueType)
	}
}

// FixIssue remedies the stored issue issueID for shop. On success the
// issue is marked fixed. An image issue without an explicit strategy uses
// the shop's stored IMAGE_FIX_STRATEGY and is recorded with the preference
// source.
func (d *Dispatcher) FixIssue(ctx context.Context, shop string, issueID int64, opts FixOptions) (*Outcome, error) {
	if d.issues == nil {
		return nil, fmt.Errorf("fix issue %d: no issue store configured", issueID)
	}
	iss, err := d.issues.Get(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if shop != "" && iss.Shop != shop {
		return nil, fmt.Errorf("issue %d belongs to another shop", issueID)
	}
	if iss.Status == models.IssueStatusFixed {
		return nil, fmt.Errorf("%w: %d", ErrAlreadyFixed, issueID)
	}
	if strings.TrimSpace(opts.ImageStrategy) == "" && iss.IssueType.NeedsImageStrategy() && d.prefs != nil {
		strategy, ok, err := d.prefs.Get(ctx, iss.Shop, preferences.KeyImageFixStrategy)
		if err != nil {
			return nil, fmt.Errorf("reading image strategy: %w", err)
		}
		if ok {
			opts.ImageStrategy = strategy
			opts.Source = models.SourcePreference
		}
	}
	action, err := ActionForIssue(iss, opts)
	if err != nil {
		return nil, err
	}
	source := opts.Source
	if source == "" {
		source = models.SourceManual
	}
	return d.Dispatch(ctx, Request{Shop: iss.Shop, IssueID: &issueID, Action: action, Source: source})
}
