package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"shop":{"domain":"demo.shop"}}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "demo.shop", cfg.Shop.Domain)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Autonomy.MaxPerRun)
	assert.Equal(t, 100, cfg.Scan.MinDescriptionLength)
	assert.Equal(t, 30, cfg.Scan.MinSEOTitleLength)
	assert.Equal(t, 6090, cfg.Gateway.Port)
	assert.False(t, cfg.Autonomy.Enabled)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := &Config{Shop: ShopConfig{Domain: "demo.shop", CatalogFile: "/tmp/catalog.yaml"}}
	cfg.Autonomy.Enabled = true
	cfg.Autonomy.MaxPerRun = 3
	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := Load(path)
	require.NoError(t, err)
	assert.True(t, got.Autonomy.Enabled)
	assert.Equal(t, 3, got.Autonomy.MaxPerRun)
	assert.Equal(t, "/tmp/catalog.yaml", got.Shop.CatalogFile)
}

func TestSetConvertsTypes(t *testing.T) {
	cfg := &Config{Shop: ShopConfig{Domain: "demo.shop"}}

	out, err := Set(cfg, "autonomy.max_per_run", "5")
	require.NoError(t, err)
	assert.Equal(t, 5, out.Autonomy.MaxPerRun)
	assert.Equal(t, "demo.shop", out.Shop.Domain)
	assert.Equal(t, 0, cfg.Autonomy.MaxPerRun, "input is not modified")

	out, err = Set(out, "Autonomy.Enabled", "true")
	require.NoError(t, err)
	assert.True(t, out.Autonomy.Enabled)

	_, err = Set(cfg, "autonomy.nope", "1")
	assert.Error(t, err)
	_, err = Set(cfg, "autonomy", "1")
	assert.Error(t, err)
	_, err = Set(cfg, "autonomy.max_per_run", "many")
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := Config{}
	cfg.AI.OpenAIKey = "sk-test-0123456789abcdef"
	cfg.Notify.Webhook.Secret = "short"

	r := Redacted(cfg)
	assert.Equal(t, "sk-t****************cdef", r.AI.OpenAIKey)
	assert.Equal(t, "********", r.Notify.Webhook.Secret)
	assert.Empty(t, r.Images.PexelsAPIKey)
	assert.Equal(t, "sk-test-0123456789abcdef", cfg.AI.OpenAIKey)
}
