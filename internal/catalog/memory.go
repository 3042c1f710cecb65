package catalog

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/CosmoTheDev/klara-agent/models"
)

// Snapshot is the serialisable catalog content.
type Snapshot struct {
	Products    []models.Product `json:"products"    yaml:"products"`
	Collections []CollectionRef  `json:"collections" yaml:"collections"`
}

// CollectionRef names a collection's members by id.
type CollectionRef struct {
	ID         string   `json:"id"          yaml:"id"`
	Title      string   `json:"title"       yaml:"title"`
	ProductIDs []string `json:"product_ids" yaml:"product_ids"`
}

// MemoryStore is an in-process Repository. RejectFn, when set, can veto
// mutations to simulate repository validation.
type MemoryStore struct {
	mu          sync.Mutex
	products    map[string]*models.Product
	order       []string
	collections []CollectionRef
	nextImage   int

	RejectFn func(m Mutation) *RejectedError
	// onChange runs after each successful Apply while the lock is held.
	onChange func(Snapshot) error
}

// NewMemoryStore builds a store from snapshot content.
func NewMemoryStore(snap Snapshot) *MemoryStore {
	m := &MemoryStore{products: make(map[string]*models.Product)}
	for i := range snap.Products {
		p := cloneProduct(snap.Products[i])
		m.products[p.ID] = &p
		m.order = append(m.order, p.ID)
	}
	m.collections = append(m.collections, snap.Collections...)
	// Membership is derived from collections when products omit it.
	for _, c := range m.collections {
		for _, pid := range c.ProductIDs {
			if p, ok := m.products[pid]; ok && !contains(p.CollectionIDs, c.ID) {
				p.CollectionIDs = append(p.CollectionIDs, c.ID)
			}
		}
	}
	return m
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Product(_ context.Context, id string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	cp := cloneProduct(*p)
	return &cp, nil
}

func (m *MemoryStore) Products(_ context.Context) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Product, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, cloneProduct(*m.products[id]))
	}
	return out, nil
}

func (m *MemoryStore) Collections(_ context.Context) ([]models.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Collection, 0, len(m.collections))
	for _, ref := range m.collections {
		c := models.Collection{ID: ref.ID, Title: ref.Title}
		for _, pid := range ref.ProductIDs {
			if p, ok := m.products[pid]; ok {
				c.Products = append(c.Products, cloneProduct(*p))
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *MemoryStore) Apply(_ context.Context, mut Mutation) (*models.Product, error) {
	if err := validate(mut); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[mut.ProductID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, mut.ProductID)
	}
	if m.RejectFn != nil {
		if rej := m.RejectFn(mut); rej != nil {
			return nil, rej
		}
	}

	next := cloneProduct(*p)
	if mut.DescriptionHTML != nil {
		next.DescriptionHTML = *mut.DescriptionHTML
	}
	if mut.SEOTitle != nil {
		next.SEO.Title = *mut.SEOTitle
	}
	if mut.SEODescription != nil {
		next.SEO.Description = *mut.SEODescription
	}
	if mut.ImageAlt != nil {
		found := false
		for i := range next.Images {
			if next.Images[i].ID == mut.ImageAlt.ImageID {
				next.Images[i].AltText = mut.ImageAlt.AltText
				found = true
			}
		}
		if !found {
			return nil, &RejectedError{ProductID: mut.ProductID, Errors: []UserError{{
				Field: "image_id", Message: "image " + mut.ImageAlt.ImageID + " does not belong to product",
			}}}
		}
	}
	if mut.VariantSKU != nil {
		found := false
		for i := range next.Variants {
			if next.Variants[i].ID == mut.VariantSKU.VariantID {
				next.Variants[i].SKU = mut.VariantSKU.SKU
				found = true
			}
		}
		if !found {
			return nil, &RejectedError{ProductID: mut.ProductID, Errors: []UserError{{
				Field: "variant_id", Message: "variant " + mut.VariantSKU.VariantID + " does not belong to product",
			}}}
		}
	}
	for _, img := range mut.AppendImages {
		m.nextImage++
		next.Images = append(next.Images, models.Image{
			ID:      fmt.Sprintf("%s/image-%d", next.ID, m.nextImage),
			URL:     imageURL(img),
			AltText: img.AltText,
		})
	}

	prev := *p
	*p = next
	if m.onChange != nil {
		if err := m.onChange(m.snapshotLocked()); err != nil {
			*p = prev
			return nil, err
		}
	}
	cp := cloneProduct(next)
	return &cp, nil
}

// Snapshot returns the current content.
func (m *MemoryStore) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *MemoryStore) snapshotLocked() Snapshot {
	snap := Snapshot{Collections: append([]CollectionRef(nil), m.collections...)}
	for _, id := range m.order {
		snap.Products = append(snap.Products, cloneProduct(*m.products[id]))
	}
	return snap
}

func imageURL(img NewImage) string {
	if img.SourceURL != "" {
		return img.SourceURL
	}
	return "data:" + img.ContentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func cloneProduct(p models.Product) models.Product {
	p.Tags = append([]string(nil), p.Tags...)
	p.Images = append([]models.Image(nil), p.Images...)
	p.Variants = append([]models.Variant(nil), p.Variants...)
	p.CollectionIDs = append([]string(nil), p.CollectionIDs...)
	return p
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
