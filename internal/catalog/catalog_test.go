package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/CosmoTheDev/klara-agent/models"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		Products: []models.Product{
			{
				ID:       "p1",
				Title:    "Mug",
				Images:   []models.Image{{ID: "i1", URL: "https://cdn.example/i1.png"}},
				Variants: []models.Variant{{ID: "v1", Title: "Blue"}},
			},
			{ID: "p2", Title: "Cap"},
		},
		Collections: []CollectionRef{{ID: "c1", Title: "Kitchen", ProductIDs: []string{"p1", "p2"}}},
	}
}

func TestMemoryStoreApply(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(sampleSnapshot())

	p, err := s.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, p.CollectionIDs, "membership derived from collections")

	after, err := s.Apply(ctx, Mutation{
		ProductID:    "p1",
		SEOTitle:     models.StringPtr("Stoneware Mug"),
		ImageAlt:     &ImageAlt{ImageID: "i1", AltText: "Blue mug"},
		AppendImages: []NewImage{{Data: []byte{1, 2}, ContentType: "image/png"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Stoneware Mug", after.SEO.Title)
	assert.Equal(t, "Blue mug", after.Images[0].AltText)
	require.Len(t, after.Images, 2)
	assert.True(t, strings.HasPrefix(after.Images[1].URL, "data:image/png;base64,"))

	// Returned snapshots are copies.
	after.Images[0].AltText = "mutated"
	again, _ := s.Product(ctx, "p1")
	assert.Equal(t, "Blue mug", again.Images[0].AltText)

	after, err = s.Apply(ctx, Mutation{ProductID: "p1", VariantSKU: &VariantSKU{VariantID: "v1", SKU: "MUG-BLUE-01"}})
	require.NoError(t, err)
	v, ok := after.VariantByID("v1")
	require.True(t, ok)
	assert.Equal(t, "MUG-BLUE-01", v.SKU)

	cols, err := s.Collections(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Len(t, cols[0].Products, 2)
}

func TestMemoryStoreRejections(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(sampleSnapshot())

	_, err := s.Apply(ctx, Mutation{ProductID: "p1"})
	var rej *RejectedError
	assert.ErrorAs(t, err, &rej)

	_, err = s.Apply(ctx, Mutation{ProductID: "nope", SEOTitle: models.StringPtr("x")})
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = s.Apply(ctx, Mutation{ProductID: "p1", ImageAlt: &ImageAlt{ImageID: "other", AltText: "x"}})
	assert.ErrorAs(t, err, &rej)

	_, err = s.Apply(ctx, Mutation{ProductID: "p1", VariantSKU: &VariantSKU{VariantID: "other", SKU: "X"}})
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "variant_id", rej.Errors[0].Field)

	s.RejectFn = func(m Mutation) *RejectedError {
		return &RejectedError{ProductID: m.ProductID, Errors: []UserError{{Field: "seo.title", Message: "too long"}}}
	}
	_, err = s.Apply(ctx, Mutation{ProductID: "p1", SEOTitle: models.StringPtr("x")})
	require.ErrorAs(t, err, &rej)
	assert.Contains(t, rej.Error(), "seo.title: too long")

	p, _ := s.Product(ctx, "p1")
	assert.Empty(t, p.SEO.Title, "rejected mutation leaves product untouched")
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
products:
  - id: p1
    title: Mug
collections:
  - id: c1
    title: Kitchen
    product_ids: [p1]
`), 0o600))

	fs, err := OpenFile(path)
	require.NoError(t, err)
	_, err = fs.Apply(ctx, Mutation{
		ProductID:       "p1",
		DescriptionHTML: models.StringPtr("<p>Holds coffee.</p>"),
		AppendImages:    []NewImage{{Data: []byte("png-bytes"), ContentType: "image/png"}},
	})
	require.NoError(t, err)

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	p, err := reopened.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "<p>Holds coffee.</p>", p.DescriptionHTML)
	require.Len(t, p.Images, 1)
	require.True(t, strings.HasPrefix(p.Images[0].URL, "file://"))
	data, err := os.ReadFile(strings.TrimPrefix(p.Images[0].URL, "file://"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestHTTPStore(t *testing.T) {
	var gotAuth, gotVersion string
	var patched map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("X-Api-Version")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/products":
			_, _ = w.Write([]byte(`{"products":[{"id":"p1","title":"Mug"}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/collections":
			_, _ = w.Write([]byte(`{"collections":[{"id":"c1","title":"K","product_ids":["p1","gone"]}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/products/missing":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPatch && r.URL.Path == "/products/p1":
			_ = json.NewDecoder(r.Body).Decode(&patched)
			_, _ = w.Write([]byte(`{"product":{"id":"p1","title":"Mug","seo":{"title":"New"}}}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/products/p2":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"user_errors":[{"field":"seo.title","message":"is too long"}]}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	store, err := NewHTTPStore(config.ShopConfig{APIURL: srv.URL + "/", AccessToken: "tok", APIVersion: "2024-10"})
	require.NoError(t, err)
	ctx := context.Background()

	cols, err := store.Collections(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Len(t, cols[0].Products, 1)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "2024-10", gotVersion)

	_, err = store.Product(ctx, "missing")
	assert.ErrorIs(t, err, ErrProductNotFound)

	after, err := store.Apply(ctx, Mutation{
		ProductID:    "p1",
		SEOTitle:     models.StringPtr("New"),
		VariantSKU:   &VariantSKU{VariantID: "v1", SKU: "MUG-01"},
		AppendImages: []NewImage{{Data: []byte("abc"), ContentType: "image/png"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "New", after.SEO.Title)
	var m map[string]any
	require.NoError(t, json.Unmarshal(patched["mutation"], &m))
	imgs := m["append_images"].([]any)
	assert.Equal(t, "YWJj", imgs[0].(map[string]any)["attachment"])
	assert.Equal(t, map[string]any{"variant_id": "v1", "sku": "MUG-01"}, m["variant_sku"])

	_, err = store.Apply(ctx, Mutation{ProductID: "p2", SEOTitle: models.StringPtr("x")})
	var rej *RejectedError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "is too long", rej.Errors[0].Message)
}

func TestNewSelectsAdapter(t *testing.T) {
	_, err := New(config.ShopConfig{})
	assert.Error(t, err)
	_, err = New(config.ShopConfig{APIURL: "https://shop.example/api"})
	assert.Error(t, err, "token required")

	r, err := New(config.ShopConfig{APIURL: "https://shop.example/api", AccessToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, "http", r.Name())
}
