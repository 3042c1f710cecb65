package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/klara-agent/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Interactive setup wizard for klara",
	Long: `Walks you through configuring klara:
  - Shop domain and catalog source (local file or REST endpoint)
  - AI provider (optional; enables generated copy and images)
  - Stock photo credentials (optional)
  - Autonomy defaults
  - Notifications (optional)

Without an AI key klara still detects issues and fills text fixes from
templates built from the product's own data.`,
	RunE: runOnboard,
}

func runOnboard(cmd *cobra.Command, args []string) error {
	fmt.Println()
	fmt.Println(headerStyle.Render("  klara · store-optimization agent"))
	fmt.Println(dimStyle.Render("  Finds catalog defects, fixes them, and keeps every fix undoable.\n"))

	// Load existing config or start fresh.
	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = &config.Config{}
	}

	if err := config.EnsureDir(); err != nil {
		return fmt.Errorf("creating klara directories: %w", err)
	}

	// --- Step 1: Shop ---
	fmt.Println(headerStyle.Render("  Step 1/5 · Shop"))

	source := "file"
	if cfg.Shop.APIURL != "" {
		source = "api"
	}
	shopForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Shop domain").
				Description("Identifies the shop; issues, history and preferences are keyed by it.").
				Placeholder("my-store.example.com").
				Value(&cfg.Shop.Domain).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("shop domain is required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Catalog source").
				Options(
					huh.NewOption("Local catalog file (YAML or JSON)", "file"),
					huh.NewOption("Catalog REST API", "api"),
				).
				Value(&source),
		),
	)
	if err := shopForm.Run(); err != nil {
		return err
	}
	cfg.Shop.Domain = strings.TrimSpace(cfg.Shop.Domain)

	var catalogForm *huh.Form
	if source == "api" {
		catalogForm = huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Catalog API URL").Placeholder("https://my-store.example.com/api").Value(&cfg.Shop.APIURL),
			huh.NewInput().Title("Access token").EchoMode(huh.EchoModePassword).Value(&cfg.Shop.AccessToken),
		))
	} else {
		cfg.Shop.APIURL = ""
		catalogForm = huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Catalog file").
				Description("Fixes are written back to this file; generated images land next to it.").
				Placeholder("~/store/catalog.yaml").
				Value(&cfg.Shop.CatalogFile),
		))
	}
	if err := catalogForm.Run(); err != nil {
		return err
	}

	// --- Step 2: AI provider (optional) ---
	fmt.Println(headerStyle.Render("\n  Step 2/5 · AI Provider (optional)"))
	fmt.Println(dimStyle.Render("  Without AI, text fixes use templates and AI image fixes are unavailable.\n"))

	provider := cfg.AI.Provider
	if provider == "" {
		provider = "none"
	}
	aiForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Text provider").
				Options(
					huh.NewOption("Templates only (no AI)", "none"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("Ollama (local)", "ollama"),
				).
				Value(&provider),
			huh.NewInput().
				Title("OpenAI API Key").
				Description("Used for OpenAI text and DALL·E images. Leave blank to skip.").
				Placeholder("sk-...  (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.AI.OpenAIKey),
			huh.NewInput().
				Title("Anthropic API Key").
				Description("Only used with the Anthropic provider.").
				Placeholder("sk-ant-...  (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.AI.AnthropicKey),
			huh.NewInput().
				Title("Model").
				Description("Model ID for the chosen provider. Blank uses its default.").
				Value(&cfg.AI.Model),
			huh.NewInput().
				Title("Ollama URL").
				Description("Only used with the Ollama provider.").
				Value(&cfg.AI.OllamaURL),
		),
	)
	if err := aiForm.Run(); err != nil {
		return err
	}
	if provider == "none" {
		cfg.AI.Provider = ""
		fmt.Println(dimStyle.Render("  Template mode selected. Add a provider later by re-running 'klara onboard'.\n"))
	} else {
		cfg.AI.Provider = provider
		fmt.Println(successStyle.Render(fmt.Sprintf("  %s enabled for generated copy.\n", provider)))
	}

	// --- Step 3: Images ---
	fmt.Println(headerStyle.Render("\n  Step 3/5 · Images (optional)"))

	imageProvider := cfg.AI.ImageProvider
	if imageProvider == "" {
		imageProvider = "openai"
	}
	imageForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("AI image provider").
				Options(
					huh.NewOption("OpenAI (DALL·E)", "openai"),
					huh.NewOption("Stability AI", "stability"),
					huh.NewOption("None", "none"),
				).
				Value(&imageProvider),
			huh.NewInput().Title("Stability API key (optional)").EchoMode(huh.EchoModePassword).Value(&cfg.AI.StabilityAPIKey),
			huh.NewInput().Title("Unsplash access key (optional)").EchoMode(huh.EchoModePassword).Value(&cfg.Images.UnsplashAccessKey),
			huh.NewInput().Title("Pexels API key (optional)").EchoMode(huh.EchoModePassword).Value(&cfg.Images.PexelsAPIKey),
		),
	)
	if err := imageForm.Run(); err != nil {
		return err
	}
	cfg.AI.ImageProvider = imageProvider

	// --- Step 4: Autonomy ---
	fmt.Println(headerStyle.Render("\n  Step 4/5 · Autonomy"))
	fmt.Println(dimStyle.Render("  With autonomy on, 'klara scan --autofix' and the gateway may apply"))
	fmt.Println(dimStyle.Render("  enabled fixes without asking. Every fix stays undoable.\n"))

	maxPerRun := strconv.Itoa(cfg.Autonomy.MaxPerRun)
	autoForm := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable autonomous fixes?").
				Value(&cfg.Autonomy.Enabled),
			huh.NewInput().
				Title("Maximum fixes per run").
				Description("The session pauses when a run reaches this ceiling. 0 means no ceiling.").
				Value(&maxPerRun).
				Validate(func(s string) error {
					n, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil || n < 0 {
						return fmt.Errorf("enter a whole number, 0 or more")
					}
					return nil
				}),
		),
	)
	if err := autoForm.Run(); err != nil {
		return err
	}
	cfg.Autonomy.MaxPerRun, _ = strconv.Atoi(strings.TrimSpace(maxPerRun))

	// --- Step 5: Notifications ---
	fmt.Println(headerStyle.Render("\n  Step 5/5 · Notifications (optional)"))

	notifyForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Slack incoming webhook URL").EchoMode(huh.EchoModePassword).Value(&cfg.Notify.Slack.WebhookURL),
			huh.NewInput().Title("Generic webhook URL").Value(&cfg.Notify.Webhook.URL),
			huh.NewInput().Title("Webhook signing secret").EchoMode(huh.EchoModePassword).Value(&cfg.Notify.Webhook.Secret),
		),
	)
	if err := notifyForm.Run(); err != nil {
		return err
	}

	if err := config.Save(cfg, cfgFile); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	path, _ := config.ConfigPath(cfgFile)

	fmt.Println()
	fmt.Println(successStyle.Render("  Configuration saved to " + path))
	fmt.Println(dimStyle.Render("  Next: 'klara doctor' to verify, then 'klara scan'."))
	fmt.Println()
	return nil
}
