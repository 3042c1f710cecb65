package models

import "encoding/json"

// AutonomyType groups issue types that share an autonomy rule.
// Empty means the finding is never auto-fixable.
type AutonomyType string

const (
	AutonomyNone           AutonomyType = ""
	AutonomyImageFix       AutonomyType = "IMAGE_FIX"
	AutonomySEOFix         AutonomyType = "SEO_FIX"
	AutonomyDescriptionFix AutonomyType = "DESCRIPTION_FIX"
)

// EntityType names what a finding points at.
type EntityType string

const (
	EntityProduct    EntityType = "product"
	EntityImage      EntityType = "image"
	EntityVariant    EntityType = "variant"
	EntityCollection EntityType = "collection"
)

// Finding is a defect detected in one scan. It is either acted on at once or
// persisted as an Issue.
type Finding struct {
	// ID is stable within a scan: "<issueType>:<entityId>".
	ID         string     `json:"id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	// ParentID is the owning product for image and variant findings.
	ParentID     string       `json:"parent_id,omitempty"`
	IssueType    IssueType    `json:"issue_type"`
	AutonomyType AutonomyType `json:"autonomy_type,omitempty"`
	// ProposedAction is nil when the issue needs a human.
	ProposedAction Action `json:"-"`
	// Title labels the entity for reports (product or collection title).
	Title string `json:"title,omitempty"`
}

// Info returns the taxonomy metadata for the finding's issue type.
func (f Finding) Info() IssueInfo { return LookupIssueInfo(f.IssueType) }

// ProductID returns the product the finding belongs to, or "" for collections.
func (f Finding) ProductID() string {
	switch f.EntityType {
	case EntityProduct:
		return f.EntityID
	case EntityImage, EntityVariant:
		return f.ParentID
	}
	return ""
}

// IsBulk reports whether the finding carries a multi-product remedy.
func (f Finding) IsBulk() bool {
	_, ok := f.ProposedAction.(BulkFixImagesAI)
	return ok
}

// Persistable reports whether the finding maps to an Issue row.
func (f Finding) Persistable() bool {
	return f.IssueType != IssueCollectionMissingImages
}

// MarshalJSON embeds the proposed action in its envelope form.
func (f Finding) MarshalJSON() ([]byte, error) {
	type plain Finding
	action, err := MarshalAction(f.ProposedAction)
	if err != nil {
		return nil, err
	}
	info := f.Info()
	return json.Marshal(struct {
		plain
		Severity       SeverityLevel   `json:"severity"`
		Category       Category        `json:"category"`
		ProposedAction json.RawMessage `json:"proposed_action"`
	}{plain(f), info.Severity, info.Category, action})
}
