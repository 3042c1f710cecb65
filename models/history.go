package models

import "time"

// Fix sources recorded on history entries.
const (
	SourceManual     = "manual"
	SourceAutonomous = "autonomous"
	SourcePreference = "preference"
	SourceChat       = "chat"
)

// Snapshot captures the product fields a fix touched. Nil pointers mean the
// field was not captured; a non-nil pointer to "" is a captured empty value.
type Snapshot struct {
	ProductID       string  `json:"product_id,omitempty"`
	DescriptionHTML *string `json:"description_html,omitempty"`
	SEOTitle        *string `json:"seo_title,omitempty"`
	SEODescription  *string `json:"seo_description,omitempty"`
	ImageID         string  `json:"image_id,omitempty"`
	AltText         *string `json:"alt_text,omitempty"`
	VariantID       string  `json:"variant_id,omitempty"`
	SKU             *string `json:"sku,omitempty"`
	Images          []Image `json:"images"`
}

// IsEmpty reports whether no field value was captured.
func (s *Snapshot) IsEmpty() bool {
	if s == nil {
		return true
	}
	return s.DescriptionHTML == nil && s.SEOTitle == nil && s.SEODescription == nil &&
		s.AltText == nil && s.SKU == nil && s.Images == nil
}

// FixHistoryEntry is the audit and undo record of one attempted fix.
type FixHistoryEntry struct {
	ID int64 `json:"id"`
	// Shop keys the entry; IssueID is nil for bulk or chat fixes.
	Shop         string            `json:"shop"`
	IssueID      *int64            `json:"issue_id,omitempty"`
	ProductID    string            `json:"product_id"`
	Action       ActionKind        `json:"action"`
	Source       string            `json:"source"`
	Before       *Snapshot         `json:"before,omitempty"`
	After        *Snapshot         `json:"after,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Success      bool              `json:"success"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Undone       bool              `json:"undone"`
	UndoneAt     *time.Time        `json:"undone_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }
