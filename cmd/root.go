package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CosmoTheDev/klara-agent/internal/agent"
	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/CosmoTheDev/klara-agent/internal/database"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "klara",
	Short: "Store-optimization agent: find catalog defects and fix them with undo",
	Long: `klara scans a store catalog for listing defects (missing descriptions,
SEO fields, images, alt text, prices, stock), keeps them as issues, and fixes
them with generated content or stock photos. Every fix is recorded with a
before-snapshot so it can be undone.

Get started:
  klara onboard    Interactive setup wizard
  klara doctor     Verify database, catalog and credentials
  klara scan       Detect issues (add --autofix to let autonomy apply fixes)
  klara issues     List stored issues
  klara fix ID     Fix one issue
  klara undo ID    Reverse a recorded fix
  klara gateway    Start the REST + SSE daemon with cron scans
  klara ui         Launch the terminal UI`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ~/.klara/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable verbose/debug output")

	rootCmd.Version = Version
	rootCmd.AddCommand(
		onboardCmd,
		scanCmd,
		issuesCmd,
		healthCmd,
		fixCmd,
		undoCmd,
		historyCmd,
		prefsCmd,
		agentCmd,
		gatewayCmd,
		uiCmd,
		configCmd,
		doctorCmd,
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
		slog.Debug("Verbose logging enabled")
	}
}

// openDB loads config, applies any flag overrides, opens the configured
// database and runs migrations.
func openDB(ctx context.Context, overrides ...func(*config.Config)) (*config.Config, database.DB, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	for _, o := range overrides {
		o(cfg)
	}
	if cfg.Shop.Domain == "" {
		return nil, nil, fmt.Errorf("shop.domain is not set; run 'klara onboard'")
	}
	db, err := database.New(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return cfg, db, nil
}

// openServices is openDB plus the shared service stack. The returned close
// func releases the database.
func openServices(ctx context.Context, overrides ...func(*config.Config)) (*agent.Services, func(), error) {
	cfg, db, err := openDB(ctx, overrides...)
	if err != nil {
		return nil, nil, err
	}
	svc, err := agent.NewServices(cfg, db, nil)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return svc, func() { db.Close() }, nil
}
