package imagesource

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/CosmoTheDev/klara-agent/models"
)

func pngBytes(t *testing.T, w, h int, alpha uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: alpha})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// pngHeader returns a PNG that declares w x h grayscale pixels but carries
// only the IHDR chunk.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := make([]byte, 0, 17)
	chunk = append(chunk, "IHDR"...)
	chunk = binary.BigEndian.AppendUint32(chunk, w)
	chunk = binary.BigEndian.AppendUint32(chunk, h)
	chunk = append(chunk, 8, 0, 0, 0, 0) // 8-bit grayscale
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(chunk)-4))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

type fakeSearcher struct {
	name   string
	photos []Photo
	err    error
	limit  int
}

func (f *fakeSearcher) Name() string { return f.name }
func (f *fakeSearcher) Search(_ context.Context, _ string, limit int) ([]Photo, error) {
	f.limit = limit
	return f.photos, f.err
}

func TestStockSearchInterleaves(t *testing.T) {
	a := &fakeSearcher{name: "a", photos: []Photo{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}}}
	b := &fakeSearcher{name: "b", photos: []Photo{{ID: "b1"}}}
	s := NewStockWith(a, b)

	photos, err := s.Search(context.Background(), "snowboard", 5)
	require.NoError(t, err)
	ids := make([]string, 0, len(photos))
	for _, p := range photos {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"a1", "b1", "a2", "a3"}, ids)
	assert.Equal(t, 3, a.limit)
	assert.Equal(t, 3, b.limit)
}

func TestStockSearchSkipsFailingProvider(t *testing.T) {
	a := &fakeSearcher{name: "a", err: assert.AnError}
	b := &fakeSearcher{name: "b", photos: []Photo{{ID: "b1"}}}
	photos, err := NewStockWith(a, b).Search(context.Background(), "q", 4)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, "b1", photos[0].ID)
}

func TestStockWithoutProviders(t *testing.T) {
	s := NewStock(config.ImagesConfig{})
	assert.False(t, s.Configured())
	_, err := s.Search(context.Background(), "q", 4)
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestUnsplashSearchAndTrack(t *testing.T) {
	var pinged atomic.Bool
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Client-ID key", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/search/photos":
			assert.Equal(t, "squarish", r.URL.Query().Get("orientation"))
			assert.Equal(t, "3", r.URL.Query().Get("per_page"))
			_, _ = w.Write([]byte(`{"results":[{"id":"u1","alt_description":"a board",
				"urls":{"regular":"` + srv.URL + `/img.jpg","thumb":"t"},
				"links":{"download_location":"` + srv.URL + `/dl/u1"},
				"user":{"name":"Ann","links":{"html":"h"}}}]}`))
		case "/dl/u1":
			pinged.Store(true)
			_, _ = w.Write([]byte(`{"url":"x"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	u := NewUnsplash("key", srv.Client())
	u.baseURL = srv.URL
	photos, err := u.Search(context.Background(), "board", 3)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, "a board", photos[0].Description)
	assert.Equal(t, "Ann", photos[0].Photographer)
	assert.Equal(t, ProviderUnsplash, photos[0].Provider)

	NewStockWith(u).TrackDownload(context.Background(), photos[0])
	assert.True(t, pinged.Load())
}

func TestPexelsSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pk", r.Header.Get("Authorization"))
		assert.Equal(t, "square", r.URL.Query().Get("orientation"))
		_, _ = w.Write([]byte(`{"photos":[{"id":42,"photographer":"Bo","src":{"large":"L","original":"O","medium":"M"}}]}`))
	}))
	defer srv.Close()

	p := NewPexels("pk", srv.Client())
	p.baseURL = srv.URL
	photos, err := p.Search(context.Background(), "mug", 2)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, Photo{ID: "42", URL: "L", DownloadURL: "O", ThumbURL: "M", Description: "mug", Photographer: "Bo", Provider: ProviderPexels}, photos[0])
}

func TestSearchQuery(t *testing.T) {
	p := &models.Product{Title: "The Complete Snowboard Deluxe", ProductType: " Snowboard ", Tags: []string{"Winter"}}
	assert.Equal(t, "Snowboard Complete Snowboard Winter", SearchQuery(p))
	assert.Equal(t, "product", SearchQuery(&models.Product{Title: "a b"}))
}

func TestFetcherNormalisesDownloads(t *testing.T) {
	opaque := pngBytes(t, 4, 3, 255)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(opaque)
	}))
	defer srv.Close()

	f := NewFetcher(config.ImagesConfig{})
	img, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.ContentType)
	assert.Equal(t, "png", img.SourceFormat)
	assert.Equal(t, 4, img.Width)
	assert.Equal(t, 3, img.Height)
}

func TestFetcherDataURLKeepsTransparency(t *testing.T) {
	raw := pngBytes(t, 2, 2, 100)
	f := NewFetcher(config.ImagesConfig{})
	img, err := f.Fetch(context.Background(), "data:image/png;base64,"+base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
}

func TestFetcherRejectsOversizeAndGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer srv.Close()

	small := NewFetcher(config.ImagesConfig{MaxBytes: 16})
	_, err := small.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = NewFetcher(config.ImagesConfig{}).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestNormalizeDownscales(t *testing.T) {
	img, err := Normalize(pngBytes(t, MaxDimension*2, 10, 255))
	require.NoError(t, err)
	assert.Equal(t, MaxDimension, img.Width)
	assert.Equal(t, 5, img.Height)
}

func TestNormalizeRejectsPixelBombs(t *testing.T) {
	// A few dozen bytes that would decode to 400 megapixels.
	bomb := pngHeader(20000, 20000)
	require.Less(t, len(bomb), 64)
	_, err := Normalize(bomb)
	assert.ErrorIs(t, err, ErrTooLarge)

	f := NewFetcher(config.ImagesConfig{})
	_, err = f.Fetch(context.Background(), "data:image/png;base64,"+base64.StdEncoding.EncodeToString(bomb))
	assert.ErrorIs(t, err, ErrTooLarge)

	// Within budget the header alone is not enough to decode.
	_, err = Normalize(pngHeader(100, 100))
	assert.ErrorIs(t, err, ErrNotImage)
}
