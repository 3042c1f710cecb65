package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/klara-agent/internal/ai"
	"github.com/CosmoTheDev/klara-agent/internal/catalog"
	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/CosmoTheDev/klara-agent/internal/database"
	"github.com/CosmoTheDev/klara-agent/internal/imagesource"
	"github.com/CosmoTheDev/klara-agent/internal/notify"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Verify database, catalog, and credentials",
	Long: `Checks that the database can be reached, the catalog loads, and the
configured AI provider, stock photo and notification credentials are set.`,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	allOK := true

	fmt.Println("=== klara doctor ===")
	fmt.Println()

	fmt.Print("Shop ..................... ")
	if cfg.Shop.Domain == "" {
		fmt.Println("FAIL (shop.domain not set; run 'klara onboard')")
		allOK = false
	} else {
		fmt.Printf("OK (%s)\n", cfg.Shop.Domain)
	}

	fmt.Print("Database ................. ")
	db, err := database.New(cfg.Database)
	if err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		allOK = false
	} else {
		if err := db.Ping(ctx); err != nil {
			fmt.Printf("FAIL (%s)\n", err)
			allOK = false
		} else {
			fmt.Printf("OK (%s)\n", db.Driver())
		}
		db.Close()
	}

	fmt.Print("Catalog .................. ")
	if repo, err := catalog.New(cfg.Shop); err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		allOK = false
	} else if products, err := repo.Products(ctx); err != nil {
		fmt.Printf("FAIL (%s: %s)\n", repo.Name(), err)
		allOK = false
	} else {
		fmt.Printf("OK (%s, %d products)\n", repo.Name(), len(products))
	}

	fmt.Print("AI provider .............. ")
	provider, err := ai.New(cfg.AI)
	switch {
	case err != nil:
		fmt.Printf("FAIL (%s)\n", err)
		allOK = false
	case provider.Name() == "none":
		fmt.Println("disabled (template copy only; run 'klara onboard' to enable AI)")
	case !provider.IsAvailable(ctx):
		fmt.Printf("WARN (%s unreachable; fixes fall back to templates)\n", provider.Name())
	default:
		fmt.Printf("OK (%s / %s)\n", provider.Name(), cfg.AI.Model)
	}

	fmt.Print("Image generator .......... ")
	if gen, err := ai.NewImageGenerator(cfg.AI); err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		allOK = false
	} else if gen.Name() == "none" {
		fmt.Println("disabled (FIX_IMAGE_AI unavailable)")
	} else {
		fmt.Printf("OK (%s)\n", gen.Name())
	}

	fmt.Print("Stock photos ............. ")
	if imagesource.NewStock(cfg.Images).Configured() {
		fmt.Println("OK")
	} else {
		fmt.Println("disabled (set images.unsplash_access_key or images.pexels_api_key)")
	}

	fmt.Print("Notifications ............ ")
	if notify.NewDispatcher(cfg.Notify).IsAnyConfigured() {
		fmt.Println("OK")
	} else {
		fmt.Println("none configured (optional)")
	}

	fmt.Println()
	if allOK {
		fmt.Println(successStyle.Render("All checks passed; klara is ready."))
	} else {
		fmt.Println(warnStyle.Render("Some checks failed; run 'klara onboard' to fix."))
	}

	return nil
}
