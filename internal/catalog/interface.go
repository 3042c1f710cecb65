// Package catalog abstracts the store's product repository.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/CosmoTheDev/klara-agent/models"
)

// ErrProductNotFound is returned when a product id is unknown.
var ErrProductNotFound = errors.New("product not found")

// Repository reads and mutates catalog entities. Each Apply is atomic on the
// repository side; callers add no locking of their own.
type Repository interface {
	// Name identifies the adapter (e.g. "http", "file", "memory").
	Name() string

	// Product returns one product snapshot.
	Product(ctx context.Context, id string) (*models.Product, error)

	// Products returns every product in the catalog.
	Products(ctx context.Context) ([]models.Product, error)

	// Collections returns every collection with its member products.
	Collections(ctx context.Context) ([]models.Collection, error)

	// Apply performs m and returns the product as it is afterwards.
	// A validation refusal is reported as *RejectedError.
	Apply(ctx context.Context, m Mutation) (*models.Product, error)
}

// Mutation is a set of field writes against one product. Nil pointers leave
// the field unchanged.
type Mutation struct {
	ProductID       string      `json:"product_id"`
	DescriptionHTML *string     `json:"description_html,omitempty"`
	SEOTitle        *string     `json:"seo_title,omitempty"`
	SEODescription  *string     `json:"seo_description,omitempty"`
	ImageAlt        *ImageAlt   `json:"image_alt,omitempty"`
	VariantSKU      *VariantSKU `json:"variant_sku,omitempty"`
	AppendImages    []NewImage  `json:"append_images,omitempty"`
}

// ImageAlt sets the alt text of an existing image.
type ImageAlt struct {
	ImageID string `json:"image_id"`
	AltText string `json:"alt_text"`
}

// VariantSKU sets the SKU of an existing variant.
type VariantSKU struct {
	VariantID string `json:"variant_id"`
	SKU       string `json:"sku"`
}

// NewImage is an image to upload. Data holds encoded bytes; ContentType
// matches the encoding.
type NewImage struct {
	Data        []byte `json:"-"`
	ContentType string `json:"content_type"`
	AltText     string `json:"alt_text,omitempty"`
	// SourceURL records where the bytes came from.
	SourceURL string `json:"source_url,omitempty"`
}

// IsEmpty reports whether m writes nothing.
func (m Mutation) IsEmpty() bool {
	return m.DescriptionHTML == nil && m.SEOTitle == nil && m.SEODescription == nil &&
		m.ImageAlt == nil && m.VariantSKU == nil && len(m.AppendImages) == 0
}

// UserError is one field-level complaint from the repository.
type UserError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RejectedError means the repository refused the mutation.
type RejectedError struct {
	ProductID string
	Errors    []UserError
}

func (e *RejectedError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ue := range e.Errors {
		if ue.Field != "" {
			msgs = append(msgs, ue.Field+": "+ue.Message)
		} else {
			msgs = append(msgs, ue.Message)
		}
	}
	return fmt.Sprintf("product %s: mutation rejected: %s", e.ProductID, strings.Join(msgs, "; "))
}

// validate applies the checks every adapter shares.
func validate(m Mutation) error {
	if strings.TrimSpace(m.ProductID) == "" {
		return &RejectedError{Errors: []UserError{{Field: "product_id", Message: "is required"}}}
	}
	if m.IsEmpty() {
		return &RejectedError{ProductID: m.ProductID, Errors: []UserError{{Message: "nothing to change"}}}
	}
	for i, img := range m.AppendImages {
		if len(img.Data) == 0 {
			return &RejectedError{ProductID: m.ProductID, Errors: []UserError{{
				Field: fmt.Sprintf("append_images[%d]", i), Message: "image data is empty",
			}}}
		}
	}
	return nil
}

// New returns the Repository selected by cfg: the HTTP adapter when an API
// URL is configured, otherwise the catalog file.
func New(cfg config.ShopConfig) (Repository, error) {
	switch {
	case cfg.APIURL != "":
		if cfg.AccessToken == "" {
			return nil, fmt.Errorf("shop.access_token is required with shop.api_url")
		}
		return NewHTTPStore(cfg)
	case cfg.CatalogFile != "":
		return OpenFile(cfg.CatalogFile)
	default:
		return nil, fmt.Errorf("no catalog configured; set shop.api_url or shop.catalog_file")
	}
}
