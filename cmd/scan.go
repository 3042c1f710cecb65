package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/klara-agent/internal/agent"
	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/CosmoTheDev/klara-agent/internal/tui"
)

var (
	scanCatalogFile string
	scanAutofix     bool
	scanOutputFmt   string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the catalog for listing defects",
	Long: `Loads every product and collection, runs the issue detector and
stores the results as issues. Fixed issues that reappear are reopened.

With --autofix the autonomy policy may apply fixes for findings whose issue
type is enabled, up to autonomy.max_per_run. Autonomy must also be enabled
in config (autonomy.enabled).

Examples:
  klara scan
  klara scan --catalog ./catalog.yaml
  klara scan --autofix --output json`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanCatalogFile, "catalog", "", "Catalog file to scan (overrides shop config)")
	scanCmd.Flags().BoolVar(&scanAutofix, "autofix", false, "Let the autonomy policy apply fixes")
	scanCmd.Flags().StringVar(&scanOutputFmt, "output", "table", "Output format: table|json|yaml")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, closeDB, err := openServices(ctx, func(cfg *config.Config) {
		if scanCatalogFile != "" {
			cfg.Shop.APIURL = ""
			cfg.Shop.CatalogFile = scanCatalogFile
		}
	})
	if err != nil {
		return err
	}
	defer closeDB()

	slog.Info("Starting scan", "shop", svc.Shop, "catalog", svc.Repo.Name(), "autofix", scanAutofix)

	res, err := svc.Orchestrator.Scan(ctx, agent.ScanOptions{Autofix: scanAutofix, Trigger: "cli"})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return printResult(scanOutputFmt, res, func() string {
		return tui.RenderScan(res) + dimStyle.Render("Run 'klara issues' to review or 'klara ui' to browse.") + "\n"
	})
}
