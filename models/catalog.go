package models

import (
	"regexp"
	"strings"
)

// Product statuses as reported by the catalog.
const (
	ProductStatusActive   = "ACTIVE"
	ProductStatusDraft    = "DRAFT"
	ProductStatusArchived = "ARCHIVED"
)

// Product is a read-only snapshot of one catalog product.
type Product struct {
	ID              string    `json:"id"                         yaml:"id"`
	Title           string    `json:"title"                      yaml:"title"`
	Handle          string    `json:"handle,omitempty"           yaml:"handle,omitempty"`
	DescriptionHTML string    `json:"description_html,omitempty" yaml:"description_html,omitempty"`
	ProductType     string    `json:"product_type,omitempty"     yaml:"product_type,omitempty"`
	Vendor          string    `json:"vendor,omitempty"           yaml:"vendor,omitempty"`
	Status          string    `json:"status,omitempty"           yaml:"status,omitempty"`
	Tags            []string  `json:"tags,omitempty"             yaml:"tags,omitempty"`
	SEO             SEO       `json:"seo"                        yaml:"seo"`
	TotalInventory  int       `json:"total_inventory"            yaml:"total_inventory"`
	Images          []Image   `json:"images,omitempty"           yaml:"images,omitempty"`
	Variants        []Variant `json:"variants,omitempty"         yaml:"variants,omitempty"`
	CollectionIDs   []string  `json:"collection_ids,omitempty"   yaml:"collection_ids,omitempty"`
}

// SEO holds the search-engine fields of a product.
type SEO struct {
	Title       string `json:"title,omitempty"       yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Image is one product image.
type Image struct {
	ID      string `json:"id"                 yaml:"id"`
	URL     string `json:"url"                yaml:"url"`
	AltText string `json:"alt_text,omitempty" yaml:"alt_text,omitempty"`
}

// Variant is one purchasable product variant.
type Variant struct {
	ID    string `json:"id"              yaml:"id"`
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
	SKU   string `json:"sku,omitempty"   yaml:"sku,omitempty"`
	// Price is the decimal string the catalog reports; blank means unset.
	Price string `json:"price,omitempty" yaml:"price,omitempty"`
}

// Collection is a named group of products.
type Collection struct {
	ID       string    `json:"id"       yaml:"id"`
	Title    string    `json:"title"    yaml:"title"`
	Products []Product `json:"products" yaml:"products"`
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// IsBlank reports whether s is empty once whitespace is trimmed.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// IsBlankHTML treats markup that renders no text (e.g. "<br>") as blank.
func IsBlankHTML(s string) bool {
	return IsBlank(PlainText(s))
}

// PlainText strips HTML tags and collapses whitespace.
func PlainText(s string) string {
	return strings.Join(strings.Fields(tagPattern.ReplaceAllString(s, " ")), " ")
}

// HasImages reports whether the product has at least one image.
func (p *Product) HasImages() bool { return len(p.Images) > 0 }

// FirstTag returns the first non-blank tag, or "".
func (p *Product) FirstTag() string {
	for _, t := range p.Tags {
		if !IsBlank(t) {
			return strings.TrimSpace(t)
		}
	}
	return ""
}

// VariantByID returns the variant with the given id.
func (p *Product) VariantByID(id string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// ImageByID returns the image with the given id.
func (p *Product) ImageByID(id string) (Image, bool) {
	for _, img := range p.Images {
		if img.ID == id {
			return img, true
		}
	}
	return Image{}, false
}
