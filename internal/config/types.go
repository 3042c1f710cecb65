package config

// Config is the root configuration structure for klara.
// Serialised to ~/.klara/config.json.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Shop     ShopConfig     `mapstructure:"shop"     json:"shop"`
	AI       AIConfig       `mapstructure:"ai"       json:"ai"`
	Images   ImagesConfig   `mapstructure:"images"   json:"images"`
	Autonomy AutonomyConfig `mapstructure:"autonomy" json:"autonomy"`
	Scan     ScanConfig     `mapstructure:"scan"     json:"scan"`
	Gateway  GatewayConfig  `mapstructure:"gateway"  json:"gateway"`
	Notify   NotifyConfig   `mapstructure:"notify"   json:"notify"`
}

// DatabaseConfig controls the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime).
	Path string `mapstructure:"path"   json:"path"`
	// DSN is the MySQL data source name (used when Driver == "mysql").
	DSN string `mapstructure:"dsn"    json:"dsn"`
}

// ShopConfig points the catalog adapter at a store.
type ShopConfig struct {
	// Domain identifies the shop; it keys issues, history and preferences.
	Domain string `mapstructure:"domain"       json:"domain"`
	// APIURL is the catalog REST endpoint. Empty means a local catalog file.
	APIURL      string `mapstructure:"api_url"      json:"api_url"`
	AccessToken string `mapstructure:"access_token" json:"access_token"`
	APIVersion  string `mapstructure:"api_version"  json:"api_version"`
	// CatalogFile is a YAML or JSON catalog used when APIURL is empty.
	CatalogFile string `mapstructure:"catalog_file" json:"catalog_file"`
}

// AIConfig controls the text and image generators.
type AIConfig struct {
	// Provider is "openai", "anthropic", "ollama" or "" (templates only).
	Provider     string `mapstructure:"provider"          json:"provider"`
	OpenAIKey    string `mapstructure:"openai_api_key"    json:"openai_api_key"`
	AnthropicKey string `mapstructure:"anthropic_api_key" json:"anthropic_api_key"`
	Model        string `mapstructure:"model"             json:"model"`
	// BaseURL overrides the API endpoint (useful for Azure OpenAI or proxies).
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	// OllamaURL is used when Provider == "ollama".
	OllamaURL string `mapstructure:"ollama_url" json:"ollama_url"`
	// ImageProvider is "openai" (default) or "stability".
	ImageProvider   string `mapstructure:"image_provider"    json:"image_provider"`
	StabilityAPIKey string `mapstructure:"stability_api_key" json:"stability_api_key"`
	ImageModel      string `mapstructure:"image_model"       json:"image_model"`
	// Fallback lists further text providers tried when the primary fails.
	Fallback       []string `mapstructure:"fallback"        json:"fallback"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds" json:"timeout_seconds"`
}

// ImagesConfig holds stock photo credentials and download limits.
type ImagesConfig struct {
	UnsplashAccessKey   string `mapstructure:"unsplash_access_key"   json:"unsplash_access_key"`
	PexelsAPIKey        string `mapstructure:"pexels_api_key"        json:"pexels_api_key"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`
	// MaxBytes caps a single image download.
	MaxBytes int64 `mapstructure:"max_bytes" json:"max_bytes"`
}

// AutonomyConfig controls unattended fixes.
type AutonomyConfig struct {
	Enabled bool `mapstructure:"enabled"     json:"enabled"`
	// MaxPerRun is the hard ceiling for one batch run. 0 disables the ceiling.
	MaxPerRun int `mapstructure:"max_per_run" json:"max_per_run"`
	// RulesFile is an optional YAML file overriding the default rules.
	RulesFile string `mapstructure:"rules_file"  json:"rules_file"`
}

// ScanConfig tunes the issue detector thresholds.
type ScanConfig struct {
	MinDescriptionLength int `mapstructure:"min_description_length" json:"min_description_length"`
	MinSEOTitleLength    int `mapstructure:"min_seo_title_length"   json:"min_seo_title_length"`
}

// GatewayConfig controls the persistent gateway daemon.
type GatewayConfig struct {
	// Port is the localhost HTTP port the gateway listens on (default: 6090).
	Port int `mapstructure:"port" json:"port"`
}

// NotifyConfig controls outbound notifications for fix, undo and pause events.
type NotifyConfig struct {
	// MinSeverity filters fix notifications by issue severity (default: high).
	MinSeverity string `mapstructure:"min_severity" json:"min_severity"`
	// Events restricts which event types are sent; empty means all.
	Events  []string      `mapstructure:"events"  json:"events"`
	Slack   SlackConfig   `mapstructure:"slack"   json:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook" json:"webhook"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url" json:"webhook_url"`
}

type WebhookConfig struct {
	URL string `mapstructure:"url"    json:"url"`
	// Secret signs payloads with HMAC-SHA256 when set.
	Secret string `mapstructure:"secret" json:"secret"`
}
