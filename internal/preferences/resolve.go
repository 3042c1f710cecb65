package preferences

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/klara-agent/models"
)

// Resolve picks a remedy for an image finding from the shop's strategy.
// It returns nil when the finding is not an image fix, when no strategy is
// set, or when the strategy has no bulk form. Resolve never grants autonomy.
func Resolve(ctx context.Context, store Store, shop string, f models.Finding) (models.Action, error) {
	if f.AutonomyType != models.AutonomyImageFix {
		return nil, nil
	}
	strategy, ok, err := store.Get(ctx, shop, KeyImageFixStrategy)
	if err != nil {
		return nil, fmt.Errorf("resolving image strategy: %w", err)
	}
	if !ok {
		return nil, nil
	}

	if bulk, isBulk := f.ProposedAction.(models.BulkFixImagesAI); isBulk {
		if strategy == StrategyAI {
			return bulk, nil
		}
		// No bulk stock remedy exists.
		return nil, nil
	}

	productID := f.ProductID()
	if productID == "" {
		return nil, nil
	}
	switch strategy {
	case StrategyStock:
		return models.FixImageStock{ProductID: productID}, nil
	case StrategyAI:
		style := models.ImageStyle("")
		if a, ok := f.ProposedAction.(models.FixImageAI); ok {
			style = a.Style
		}
		return models.FixImageAI{ProductID: productID, Style: style}, nil
	}
	return nil, nil
}
