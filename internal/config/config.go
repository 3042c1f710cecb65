package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultConfigDir  = ".klara"
	DefaultConfigFile = "config.json"
	DefaultLogDir     = ".klara/logs"
	DefaultDBFile     = ".klara/klara.db"
)

// Load reads the config file (creating it with defaults if absent) and returns
// a populated Config. The configPath flag may override the default location.
func Load(configPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(home, DefaultConfigDir))
	}

	setDefaults(v, home)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file exists but is malformed.
			if !isNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
		// No config yet; we'll create it with defaults after unmarshal.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	expandPaths(&cfg, home)
	return &cfg, nil
}

// Save writes the config to disk as JSON.
func Save(cfg *Config, configPath string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}

	if configPath == "" {
		configPath = filepath.Join(home, DefaultConfigDir, DefaultConfigFile)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("serialising config: %w", err)
	}

	return os.WriteFile(configPath, data, 0o600)
}

// ConfigPath returns the effective config file path.
func ConfigPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// EnsureDir creates ~/.klara and ~/.klara/logs if they don't exist.
func EnsureDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	dirs := []string{
		filepath.Join(home, DefaultConfigDir),
		filepath.Join(home, DefaultLogDir),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}
	return nil
}

// setDefaults populates viper with sensible out-of-the-box values.
func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join(home, DefaultDBFile))
	v.SetDefault("database.dsn", "")

	v.SetDefault("shop.domain", "")
	v.SetDefault("shop.api_url", "")
	v.SetDefault("shop.api_version", "2024-10")
	v.SetDefault("shop.catalog_file", "")

	v.SetDefault("ai.provider", "")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.ollama_url", "http://localhost:11434")
	v.SetDefault("ai.image_provider", "openai")
	v.SetDefault("ai.image_model", "dall-e-3")
	v.SetDefault("ai.timeout_seconds", 60)

	v.SetDefault("images.fetch_timeout_seconds", 30)
	v.SetDefault("images.max_bytes", 20<<20)

	v.SetDefault("autonomy.enabled", false)
	v.SetDefault("autonomy.max_per_run", 10)
	v.SetDefault("autonomy.rules_file", "")

	v.SetDefault("scan.min_description_length", 100)
	v.SetDefault("scan.min_seo_title_length", 30)

	v.SetDefault("gateway.port", 6090)

	v.SetDefault("notify.min_severity", "high")
}

// expandPaths resolves ~ in configured paths.
func expandPaths(cfg *Config, home string) {
	cfg.Database.Path = expandHome(cfg.Database.Path, home)
	cfg.Shop.CatalogFile = expandHome(cfg.Shop.CatalogFile, home)
	cfg.Autonomy.RulesFile = expandHome(cfg.Autonomy.RulesFile, home)
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// Redacted returns a copy of cfg with credentials masked for display.
func Redacted(cfg Config) Config {
	cfg.Shop.AccessToken = redactSecret(cfg.Shop.AccessToken)
	cfg.AI.OpenAIKey = redactSecret(cfg.AI.OpenAIKey)
	cfg.AI.AnthropicKey = redactSecret(cfg.AI.AnthropicKey)
	cfg.AI.StabilityAPIKey = redactSecret(cfg.AI.StabilityAPIKey)
	cfg.Images.UnsplashAccessKey = redactSecret(cfg.Images.UnsplashAccessKey)
	cfg.Images.PexelsAPIKey = redactSecret(cfg.Images.PexelsAPIKey)
	cfg.Notify.Webhook.Secret = redactSecret(cfg.Notify.Webhook.Secret)
	cfg.Notify.Slack.WebhookURL = redactSecret(cfg.Notify.Slack.WebhookURL)
	cfg.Database.DSN = redactSecret(cfg.Database.DSN)
	return cfg
}

func redactSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 8 {
		return "********"
	}
	return v[:4] + strings.Repeat("*", len(v)-8) + v[len(v)-4:]
}

// Set returns a copy of cfg with the dotted key (e.g. "autonomy.max_per_run")
// set to value. Values are converted to the field's type; unknown keys are
// rejected.
func Set(cfg *Config, key, value string) (*Config, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.MergeConfigMap(m); err != nil {
		return nil, err
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if !v.IsSet(key) {
		return nil, fmt.Errorf("unknown config key %q", key)
	}
	if _, nested := v.Get(key).(map[string]any); nested {
		return nil, fmt.Errorf("config key %q is a section; set one of its fields", key)
	}
	v.Set(key, value)

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return nil, fmt.Errorf("setting %s: %w", key, err)
	}
	return &out, nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file")
}
