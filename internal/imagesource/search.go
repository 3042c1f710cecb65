// Package imagesource searches free stock photo providers and fetches
// image bytes in a normalised form ready for upload.
package imagesource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/CosmoTheDev/klara-agent/models"
)

// Photo is one stock search result.
type Photo struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	DownloadURL     string `json:"download_url"`
	ThumbURL        string `json:"thumb_url"`
	Description     string `json:"description"`
	Photographer    string `json:"photographer"`
	PhotographerURL string `json:"photographer_url"`
	Provider        string `json:"provider"`
}

// Searcher finds stock photos for a query.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Photo, error)
}

const (
	defaultUnsplashBase = "https://api.unsplash.com"
	defaultPexelsBase   = "https://api.pexels.com/v1"

	ProviderUnsplash = "Unsplash"
	ProviderPexels   = "Pexels"
)

// Unsplash searches api.unsplash.com.
type Unsplash struct {
	accessKey string
	baseURL   string
	client    *http.Client
}

// NewUnsplash returns nil when accessKey is empty.
func NewUnsplash(accessKey string, client *http.Client) *Unsplash {
	if accessKey == "" {
		return nil
	}
	return &Unsplash{accessKey: accessKey, baseURL: defaultUnsplashBase, client: client}
}

func (u *Unsplash) Name() string { return ProviderUnsplash }

type unsplashSearch struct {
	Results []struct {
		ID             string `json:"id"`
		Description    string `json:"description"`
		AltDescription string `json:"alt_description"`
		URLs           struct {
			Regular string `json:"regular"`
			Thumb   string `json:"thumb"`
		} `json:"urls"`
		Links struct {
			DownloadLocation string `json:"download_location"`
		} `json:"links"`
		User struct {
			Name  string `json:"name"`
			Links struct {
				HTML string `json:"html"`
			} `json:"links"`
		} `json:"user"`
	} `json:"results"`
}

func (u *Unsplash) Search(ctx context.Context, query string, limit int) ([]Photo, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("per_page", strconv.Itoa(limit))
	q.Set("orientation", "squarish")

	var out unsplashSearch
	if err := getJSON(ctx, u.client, u.baseURL+"/search/photos?"+q.Encode(), "Client-ID "+u.accessKey, &out); err != nil {
		return nil, fmt.Errorf("unsplash search: %w", err)
	}
	photos := make([]Photo, 0, len(out.Results))
	for _, r := range out.Results {
		desc := r.Description
		if desc == "" {
			desc = r.AltDescription
		}
		if desc == "" {
			desc = query
		}
		photos = append(photos, Photo{
			ID:              r.ID,
			URL:             r.URLs.Regular,
			DownloadURL:     r.Links.DownloadLocation,
			ThumbURL:        r.URLs.Thumb,
			Description:     desc,
			Photographer:    r.User.Name,
			PhotographerURL: r.User.Links.HTML,
			Provider:        ProviderUnsplash,
		})
	}
	return photos, nil
}

// TrackDownload pings the download_location endpoint, which the Unsplash
// API guidelines require before a photo is used.
func (u *Unsplash) TrackDownload(ctx context.Context, downloadLocation string) error {
	if downloadLocation == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadLocation, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Client-ID "+u.accessKey)
	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unsplash download ping returned %d", resp.StatusCode)
	}
	return nil
}

// Pexels searches api.pexels.com.
type Pexels struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewPexels returns nil when apiKey is empty.
func NewPexels(apiKey string, client *http.Client) *Pexels {
	if apiKey == "" {
		return nil
	}
	return &Pexels{apiKey: apiKey, baseURL: defaultPexelsBase, client: client}
}

func (p *Pexels) Name() string { return ProviderPexels }

type pexelsSearch struct {
	Photos []struct {
		ID              int64  `json:"id"`
		Alt             string `json:"alt"`
		Photographer    string `json:"photographer"`
		PhotographerURL string `json:"photographer_url"`
		Src             struct {
			Original string `json:"original"`
			Large    string `json:"large"`
			Medium   string `json:"medium"`
		} `json:"src"`
	} `json:"photos"`
}

func (p *Pexels) Search(ctx context.Context, query string, limit int) ([]Photo, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("per_page", strconv.Itoa(limit))
	q.Set("orientation", "square")

	var out pexelsSearch
	if err := getJSON(ctx, p.client, p.baseURL+"/search?"+q.Encode(), p.apiKey, &out); err != nil {
		return nil, fmt.Errorf("pexels search: %w", err)
	}
	photos := make([]Photo, 0, len(out.Photos))
	for _, r := range out.Photos {
		desc := r.Alt
		if desc == "" {
			desc = query
		}
		photos = append(photos, Photo{
			ID:              strconv.FormatInt(r.ID, 10),
			URL:             r.Src.Large,
			DownloadURL:     r.Src.Original,
			ThumbURL:        r.Src.Medium,
			Description:     desc,
			Photographer:    r.Photographer,
			PhotographerURL: r.PhotographerURL,
			Provider:        ProviderPexels,
		})
	}
	return photos, nil
}

// Stock fans a search out to every configured provider.
type Stock struct {
	providers []Searcher
	unsplash  *Unsplash
	logger    *slog.Logger
}

// NewStock builds a Stock searcher from cfg. Providers without credentials
// are left out; with none configured every search returns ErrNoProviders.
func NewStock(cfg config.ImagesConfig) *Stock {
	client := &http.Client{Timeout: fetchTimeout(cfg)}
	s := &Stock{logger: slog.Default()}
	if u := NewUnsplash(cfg.UnsplashAccessKey, client); u != nil {
		s.providers = append(s.providers, u)
		s.unsplash = u
	}
	if p := NewPexels(cfg.PexelsAPIKey, client); p != nil {
		s.providers = append(s.providers, p)
	}
	return s
}

// NewStockWith wraps explicit providers.
func NewStockWith(providers ...Searcher) *Stock {
	s := &Stock{logger: slog.Default()}
	for _, p := range providers {
		if u, ok := p.(*Unsplash); ok {
			s.unsplash = u
		}
		s.providers = append(s.providers, p)
	}
	return s
}

// Configured reports whether at least one provider has credentials.
func (s *Stock) Configured() bool { return len(s.providers) > 0 }

// Search queries all providers in parallel with ceil(limit/n) each and
// interleaves their results. A failing provider is logged and skipped.
func (s *Stock) Search(ctx context.Context, query string, limit int) ([]Photo, error) {
	if len(s.providers) == 0 {
		return nil, ErrNoProviders
	}
	if limit <= 0 {
		limit = 6
	}
	per := (limit + len(s.providers) - 1) / len(s.providers)

	results := make([][]Photo, len(s.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range s.providers {
		g.Go(func() error {
			photos, err := p.Search(gctx, query, per)
			if err != nil {
				s.logger.Warn("imagesource: provider search failed", "provider", p.Name(), "error", err)
				return nil
			}
			results[i] = photos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return interleave(results, limit), nil
}

// TrackDownload records a download with the photo's provider when it
// asks for that. Failures are logged only.
func (s *Stock) TrackDownload(ctx context.Context, photo Photo) {
	if photo.Provider != ProviderUnsplash || s.unsplash == nil {
		return
	}
	if err := s.unsplash.TrackDownload(ctx, photo.DownloadURL); err != nil {
		s.logger.Warn("imagesource: unsplash download attribution failed", "photo", photo.ID, "error", err)
	}
}

func interleave(lists [][]Photo, limit int) []Photo {
	var out []Photo
	for i := 0; len(out) < limit; i++ {
		added := false
		for _, l := range lists {
			if i < len(l) {
				out = append(out, l[i])
				added = true
				if len(out) == limit {
					break
				}
			}
		}
		if !added {
			break
		}
	}
	return out
}

// SearchQuery derives a stock search query from the product type, the
// first two title words longer than three letters and the first tag.
func SearchQuery(p *models.Product) string {
	var parts []string
	if pt := strings.TrimSpace(p.ProductType); pt != "" {
		parts = append(parts, pt)
	}
	n := 0
	for _, w := range strings.Fields(p.Title) {
		if len(w) > 3 {
			parts = append(parts, w)
			n++
			if n == 2 {
				break
			}
		}
	}
	if len(p.Tags) > 0 && len(p.Tags[0]) > 2 {
		parts = append(parts, p.Tags[0])
	}
	if len(parts) == 0 {
		return "product"
	}
	return strings.Join(parts, " ")
}

func getJSON(ctx context.Context, client *http.Client, rawURL, auth string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

func fetchTimeout(cfg config.ImagesConfig) time.Duration {
	if cfg.FetchTimeoutSeconds > 0 {
		return time.Duration(cfg.FetchTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}
