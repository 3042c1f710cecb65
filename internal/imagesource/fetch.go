package imagesource

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder

	"github.com/CosmoTheDev/klara-agent/internal/config"
)

var (
	// ErrNoProviders is returned when no stock provider has credentials.
	ErrNoProviders = errors.New("no stock image provider configured; set images.unsplash_access_key or images.pexels_api_key")
	// ErrTooLarge is returned when a download exceeds the configured size cap.
	ErrTooLarge = errors.New("image exceeds size limit")
	// ErrNotImage is returned when the payload does not decode as an image.
	ErrNotImage = errors.New("payload is not a supported image")
)

const (
	// MaxDimension bounds the longest side of a normalised image.
	MaxDimension = 2048
	// MaxPixels bounds width*height of a payload before it is decoded, so a
	// small compressed file cannot expand into gigabytes of pixels.
	MaxPixels = 40_000_000
)

// Image is decoded and re-encoded image data.
type Image struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	// SourceFormat is the decoder name of the original payload.
	SourceFormat string
}

// Fetcher downloads images over HTTP(S) or reads data: URLs, then
// normalises them to PNG or JPEG.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher builds a Fetcher with the configured timeout and size cap.
func NewFetcher(cfg config.ImagesConfig) *Fetcher {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	return &Fetcher{client: &http.Client{Timeout: fetchTimeout(cfg)}, maxBytes: maxBytes}
}

// Fetch returns the normalised image behind rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Image, error) {
	raw, err := f.read(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return Normalize(raw)
}

func (f *Fetcher) read(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.HasPrefix(rawURL, "data:") {
		return decodeDataURL(rawURL, f.maxBytes)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building image request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading image: status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, ErrTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

func decodeDataURL(u string, maxBytes int64) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(u, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URL")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("data URL is not base64 encoded")
	}
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+2 {
		return nil, ErrTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding data URL: %w", err)
	}
	return data, nil
}

// Normalize decodes raw, scales it down to MaxDimension and re-encodes it.
// Images with transparency become PNG; everything else JPEG. Payloads whose
// header declares more than MaxPixels are rejected with ErrTooLarge.
func Normalize(raw []byte) (*Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d pixels", ErrTooLarge, cfg.Width, cfg.Height)
	}

	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, ErrNotImage
	}

	dst := src
	if w > MaxDimension || h > MaxDimension {
		scale := float64(MaxDimension) / float64(max(w, h))
		nw, nh := max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
		scaled := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, b, draw.Over, nil)
		dst = scaled
		w, h = nw, nh
	}

	var buf bytes.Buffer
	ct := "image/jpeg"
	if hasAlpha(dst) {
		ct = "image/png"
		err = png.Encode(&buf, dst)
	} else {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	return &Image{Data: buf.Bytes(), ContentType: ct, Width: w, Height: h, SourceFormat: format}, nil
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}
