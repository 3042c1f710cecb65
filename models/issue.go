package models

import "time"

// IssueType identifies a catalog defect. The set is closed; see issueTable.
type IssueType string

const (
	IssueMissingDescription    IssueType = "missing_description"
	IssueMissingSEODescription IssueType = "missing_seo_description"
	IssueMissingSEOTitle       IssueType = "missing_seo_title"
	IssueMissingProductType    IssueType = "missing_product_type"
	IssueMissingVendor         IssueType = "missing_vendor"
	IssueMissingTags           IssueType = "missing_tags"
	IssueMissingImages         IssueType = "missing_images"
	IssueMissingAltText        IssueType = "missing_alt_text"
	IssueLowImageCount         IssueType = "low_image_count"
	IssueMissingPrice          IssueType = "missing_price"
	IssueOutOfStock            IssueType = "out_of_stock"
	IssueNotInCollection       IssueType = "not_in_collection"
	IssueMissingSKU            IssueType = "missing_sku"

	// IssueCollectionMissingImages is the aggregated collection-level finding.
	// It is never persisted as an Issue.
	IssueCollectionMissingImages IssueType = "collection_missing_images"
)

// Category groups issue types for reporting.
type Category string

const (
	CategoryContent      Category = "Content & SEO"
	CategoryImages       Category = "Images"
	CategoryPricing      Category = "Pricing"
	CategoryInventory    Category = "Inventory"
	CategoryOrganization Category = "Organization"
	CategoryOther        Category = "Other"
)

// IssueInfo is the static metadata attached to an issue type.
type IssueInfo struct {
	Category Category
	Severity SeverityLevel
	Title    string
	Impact   string
	// AITextFixable marks issue types whose remedy is generated text.
	AITextFixable bool
	// Known is false for the fallback returned for unrecognised types.
	Known bool
}

var issueTable = map[IssueType]IssueInfo{
	IssueMissingDescription: {
		Category: CategoryContent, Severity: SeverityHigh, AITextFixable: true,
		Title: "Missing Product Description", Impact: "Reduces conversion rate by 20-30%",
	},
	IssueMissingSEODescription: {
		Category: CategoryContent, Severity: SeverityHigh, AITextFixable: true,
		Title: "Missing SEO Description", Impact: "Hurts search rankings significantly",
	},
	IssueMissingSEOTitle: {
		Category: CategoryContent, Severity: SeverityMedium, AITextFixable: true,
		Title: "Missing SEO Title", Impact: "Reduces click-through from search results",
	},
	IssueMissingProductType: {
		Category: CategoryOrganization, Severity: SeverityLow,
		Title: "Missing Product Type", Impact: "Affects store organization and filtering",
	},
	IssueMissingVendor: {
		Category: CategoryOrganization, Severity: SeverityLow,
		Title: "Missing Vendor/Brand", Impact: "Affects brand filtering and organization",
	},
	IssueMissingTags: {
		Category: CategoryOrganization, Severity: SeverityMedium,
		Title: "No Tags", Impact: "Reduces discoverability in store",
	},
	IssueMissingImages: {
		Category: CategoryImages, Severity: SeverityCritical,
		Title: "No Product Images", Impact: "Products without images rarely sell",
	},
	IssueMissingAltText: {
		Category: CategoryImages, Severity: SeverityMedium, AITextFixable: true,
		Title: "Missing Image Alt Text", Impact: "Hurts SEO and accessibility",
	},
	IssueLowImageCount: {
		Category: CategoryImages, Severity: SeverityMedium,
		Title: "Only 1 Image", Impact: "More images increase conversion by 25%",
	},
	IssueMissingPrice: {
		Category: CategoryPricing, Severity: SeverityCritical,
		Title: "Missing Price", Impact: "Product cannot be purchased",
	},
	IssueOutOfStock: {
		Category: CategoryInventory, Severity: SeverityHigh,
		Title: "Out of Stock", Impact: "Lost sales - product unavailable",
	},
	IssueNotInCollection: {
		Category: CategoryOrganization, Severity: SeverityMedium,
		Title: "Not in Any Collection", Impact: "Product may not appear in store navigation",
	},
	IssueMissingSKU: {
		Category: CategoryOrganization, Severity: SeverityLow, AITextFixable: true,
		Title: "Missing SKU", Impact: "Affects inventory management",
	},
	IssueCollectionMissingImages: {
		Category: CategoryImages, Severity: SeverityCritical,
		Title: "Collection Products Without Images", Impact: "Products without images rarely sell",
	},
}

// unknownIssueInfo is returned for types missing from issueTable.
var unknownIssueInfo = IssueInfo{
	Category: CategoryOther,
	Severity: SeverityLow,
	Title:    "Other",
}

// LookupIssueInfo returns the static metadata for t. Unknown types get the
// Other/low fallback with Known=false.
func LookupIssueInfo(t IssueType) IssueInfo {
	info, ok := issueTable[t]
	if !ok {
		return unknownIssueInfo
	}
	info.Known = true
	return info
}

// IsKnown reports whether t is part of the closed taxonomy.
func (t IssueType) IsKnown() bool {
	_, ok := issueTable[t]
	return ok
}

// NeedsImageStrategy reports whether remedying t means adding a picture,
// which takes a STOCK or AI choice. Alt text is an image defect but a text fix.
func (t IssueType) NeedsImageStrategy() bool {
	return t == IssueMissingImages || t == IssueLowImageCount
}

// AllIssueTypes lists the persisted taxonomy in table order.
func AllIssueTypes() []IssueType {
	return []IssueType{
		IssueMissingDescription,
		IssueMissingSEODescription,
		IssueMissingSEOTitle,
		IssueMissingProductType,
		IssueMissingVendor,
		IssueMissingTags,
		IssueMissingImages,
		IssueMissingAltText,
		IssueLowImageCount,
		IssueMissingPrice,
		IssueOutOfStock,
		IssueNotInCollection,
		IssueMissingSKU,
	}
}

// Issue statuses.
const (
	IssueStatusOpen  = "open"
	IssueStatusFixed = "fixed"
)

// Issue is the persisted record of a finding. (shop, entity_id, issue_type)
// is unique.
type Issue struct {
	ID          int64     `json:"id"          db:"id"`
	Shop        string    `json:"shop"        db:"shop"`
	EntityType  string    `json:"entity_type" db:"entity_type"`
	EntityID    string    `json:"entity_id"   db:"entity_id"`
	ParentID    string    `json:"parent_id"   db:"parent_id"`
	IssueType   IssueType `json:"issue_type"  db:"issue_type"`
	Title       string    `json:"title"       db:"title"`
	Explanation string    `json:"explanation" db:"explanation"`
	Status      string    `json:"status"      db:"status"` // open|fixed
	CreatedAt   time.Time `json:"created_at"  db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"  db:"updated_at"`
}

// Info returns the derived taxonomy metadata for the issue.
func (i Issue) Info() IssueInfo { return LookupIssueInfo(i.IssueType) }

// Severity is derived from the issue type; it is never stored.
func (i Issue) Severity() SeverityLevel { return i.Info().Severity }

// Category is derived from the issue type; it is never stored.
func (i Issue) Category() Category { return i.Info().Category }
