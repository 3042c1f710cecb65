package catalog

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/CosmoTheDev/klara-agent/models"
)

// HTTPStore talks to a catalog service over JSON:
//
//	GET   {api}/products          -> {"products": [...]}
//	GET   {api}/products/{id}     -> {"product": {...}}
//	GET   {api}/collections       -> {"collections": [{"id","title","product_ids"}]}
//	PATCH {api}/products/{id}     <- {"mutation": {...}} -> {"product": {...}}
//
// Validation refusals come back as 422 {"user_errors": [...]}.
type HTTPStore struct {
	base       string
	apiVersion string
	client     *http.Client
}

// NewHTTPStore authenticates every request with the shop access token.
func NewHTTPStore(cfg config.ShopConfig) (*HTTPStore, error) {
	if _, err := url.Parse(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("invalid shop.api_url: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = 60 * time.Second
	return &HTTPStore{
		base:       strings.TrimRight(cfg.APIURL, "/"),
		apiVersion: cfg.APIVersion,
		client:     tc,
	}, nil
}

func (h *HTTPStore) Name() string { return "http" }

func (h *HTTPStore) Product(ctx context.Context, id string) (*models.Product, error) {
	var resp struct {
		Product models.Product `json:"product"`
	}
	status, err := h.do(ctx, http.MethodGet, "/products/"+url.PathEscape(id), nil, &resp)
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching product %s: %w", id, err)
	}
	return &resp.Product, nil
}

func (h *HTTPStore) Products(ctx context.Context) ([]models.Product, error) {
	var resp struct {
		Products []models.Product `json:"products"`
	}
	if _, err := h.do(ctx, http.MethodGet, "/products", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return resp.Products, nil
}

func (h *HTTPStore) Collections(ctx context.Context) ([]models.Collection, error) {
	var resp struct {
		Collections []CollectionRef `json:"collections"`
	}
	if _, err := h.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	products, err := h.Products(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	out := make([]models.Collection, 0, len(resp.Collections))
	for _, ref := range resp.Collections {
		c := models.Collection{ID: ref.ID, Title: ref.Title}
		for _, pid := range ref.ProductIDs {
			if p, ok := byID[pid]; ok {
				c.Products = append(c.Products, p)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

type wireImage struct {
	ContentType string `json:"content_type"`
	AltText     string `json:"alt_text,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
	Attachment  string `json:"attachment"`
}

type wireMutation struct {
	Mutation
	AppendImages []wireImage `json:"append_images,omitempty"`
}

func (h *HTTPStore) Apply(ctx context.Context, m Mutation) (*models.Product, error) {
	if err := validate(m); err != nil {
		return nil, err
	}
	wm := wireMutation{Mutation: m}
	wm.Mutation.AppendImages = nil
	for _, img := range m.AppendImages {
		wm.AppendImages = append(wm.AppendImages, wireImage{
			ContentType: img.ContentType,
			AltText:     img.AltText,
			SourceURL:   img.SourceURL,
			Attachment:  base64.StdEncoding.EncodeToString(img.Data),
		})
	}
	body, err := json.Marshal(map[string]interface{}{"mutation": wm})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Product    models.Product `json:"product"`
		UserErrors []UserError    `json:"user_errors"`
	}
	status, err := h.do(ctx, http.MethodPatch, "/products/"+url.PathEscape(m.ProductID), body, &resp)
	switch {
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, m.ProductID)
	case len(resp.UserErrors) > 0:
		return nil, &RejectedError{ProductID: m.ProductID, Errors: resp.UserErrors}
	case err != nil:
		return nil, fmt.Errorf("updating product %s: %w", m.ProductID, err)
	}
	return &resp.Product, nil
}

// do sends a request and decodes the JSON body into out. The body is decoded
// on 4xx too so callers can read user errors.
func (h *HTTPStore) do(ctx context.Context, method, path string, body []byte, out interface{}) (int, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.base+path, rdr)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.apiVersion != "" {
		req.Header.Set("X-Api-Version", h.apiVersion)
	}

	resp, err := h.client.Do(req) // #nosec G704 -- URL is built from admin-supplied config
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if len(bytes.TrimSpace(data)) > 0 && out != nil {
		if jerr := json.Unmarshal(data, out); jerr != nil && resp.StatusCode < 400 {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", jerr)
		}
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("catalog API error %d: %s", resp.StatusCode, truncate(string(data), 300))
	}
	return resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
