package history

import (
	"errors"

	"github.com/CosmoTheDev/klara-agent/internal/catalog"
	"github.com/CosmoTheDev/klara-agent/models"
)

var (
	// ErrEntryNotFound means no history entry has the requested id.
	ErrEntryNotFound = errors.New("history entry not found")
	// ErrAlreadyUndone means the entry was undone before.
	ErrAlreadyUndone = errors.New("fix already undone")
	// ErrNoBackup means the entry holds no before state to restore.
	ErrNoBackup = errors.New("no backup data available")
	// ErrRestoreUnsupported means the action kind cannot be reverted.
	ErrRestoreUnsupported = errors.New("undo not supported for this action")
)

// Restore builds the mutation that puts back the fields captured in
// before. It has no side effects.
func Restore(kind models.ActionKind, before *models.Snapshot) (catalog.Mutation, error) {
	switch kind {
	case models.ActionFixImageAI, models.ActionFixImageStock, models.ActionBulkFixImagesAI:
		return catalog.Mutation{}, ErrRestoreUnsupported
	case models.ActionFixSEO, models.ActionImproveDescription, models.ActionFixAltText, models.ActionFixSKU:
	default:
		return catalog.Mutation{}, ErrRestoreUnsupported
	}
	if before.IsEmpty() || before.ProductID == "" {
		return catalog.Mutation{}, ErrNoBackup
	}

	m := catalog.Mutation{ProductID: before.ProductID}
	switch kind {
	case models.ActionFixSEO:
		m.SEOTitle = before.SEOTitle
		m.SEODescription = before.SEODescription
	case models.ActionImproveDescription:
		m.DescriptionHTML = before.DescriptionHTML
	case models.ActionFixAltText:
		if before.ImageID != "" && before.AltText != nil {
			m.ImageAlt = &catalog.ImageAlt{ImageID: before.ImageID, AltText: *before.AltText}
		}
	case models.ActionFixSKU:
		if before.VariantID != "" && before.SKU != nil {
			m.VariantSKU = &catalog.VariantSKU{VariantID: before.VariantID, SKU: *before.SKU}
		}
	}
	if m.IsEmpty() {
		return catalog.Mutation{}, ErrNoBackup
	}
	return m, nil
}
