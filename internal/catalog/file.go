package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/CosmoTheDev/klara-agent/models"
)

// FileStore is a Repository backed by a YAML or JSON catalog file. Every
// successful Apply rewrites the file; uploaded images are written next to it.
type FileStore struct {
	*MemoryStore
	path     string
	imageDir string
}

// OpenFile loads a catalog file. The format follows the extension; anything
// other than .json is read as YAML.
func OpenFile(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	var snap Snapshot
	if isJSON(path) {
		err = json.Unmarshal(data, &snap)
	} else {
		err = yaml.Unmarshal(data, &snap)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}

	fs := &FileStore{
		MemoryStore: NewMemoryStore(snap),
		path:        path,
		imageDir:    strings.TrimSuffix(path, filepath.Ext(path)) + ".images",
	}
	fs.onChange = fs.write
	return fs, nil
}

func (f *FileStore) Name() string { return "file" }

// Apply stores appended image bytes on disk before delegating.
func (f *FileStore) Apply(ctx context.Context, m Mutation) (*models.Product, error) {
	if err := validate(m); err != nil {
		return nil, err
	}
	if len(m.AppendImages) > 0 {
		imgs := make([]NewImage, len(m.AppendImages))
		for i, img := range m.AppendImages {
			path, err := f.saveImage(img)
			if err != nil {
				return nil, err
			}
			img.SourceURL = "file://" + path
			imgs[i] = img
		}
		m.AppendImages = imgs
	}
	return f.MemoryStore.Apply(ctx, m)
}

func (f *FileStore) saveImage(img NewImage) (string, error) {
	if err := os.MkdirAll(f.imageDir, 0o755); err != nil {
		return "", fmt.Errorf("creating image dir: %w", err)
	}
	sum := sha256.Sum256(img.Data)
	name := hex.EncodeToString(sum[:8]) + extensionFor(img.ContentType)
	path := filepath.Join(f.imageDir, name)
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// write replaces the catalog file atomically.
func (f *FileStore) write(snap Snapshot) error {
	var (
		data []byte
		err  error
	)
	if isJSON(f.path) {
		data, err = json.MarshalIndent(snap, "", "  ")
	} else {
		data, err = yaml.Marshal(snap)
	}
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replacing catalog: %w", err)
	}
	return nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
