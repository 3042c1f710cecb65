package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/CosmoTheDev/klara-agent/internal/gateway"
)

var gatewayPort int
var gatewayLogDir string

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the klara gateway daemon",
	Long: `Starts the klara gateway: a long-running daemon that serves a local
REST + SSE control plane (default: http://127.0.0.1:6090) over the same
issues, fixes and history the CLI uses.

  • Browse issues and the health score
  • Fix issues and undo recorded fixes
  • Create cron schedules that scan the catalog automatically
  • Toggle or reset the autonomy session
  • Stream live events via GET /events (Server-Sent Events)

Example schedules:
  "0 2 * * *"   every night at 02:00
  "@every 6h"   every 6 hours
  "@daily"      once per day at midnight

Scheduled scans only detect; fixes happen through the API, or through
POST /api/scan with {"autofix": true}.

Quick API reference:
  GET  /health                         liveness check
  GET  /api/status                     gateway status snapshot
  GET  /api/health                     store health score
  GET  /api/issues                     list issues (?status=open|fixed&type=...)
  POST /api/issues/{id}/fix            fix an issue
  POST /api/actions                    dispatch an action envelope
  GET  /api/history                    list recorded fixes
  POST /api/history/{id}/undo          undo a fix
  GET  /api/preferences                list preferences
  POST /api/scan                       trigger a scan (body: {"autofix":false})
  GET  /api/schedules                  list cron schedules
  POST /api/schedules                  create a schedule
  GET  /events                         SSE stream of live events`,
	RunE: runGateway,
}

func init() {
	gatewayCmd.Flags().IntVar(&gatewayPort, "port", 0,
		"HTTP port to listen on (default 6090, overrides config)")
	gatewayCmd.Flags().StringVar(&gatewayLogDir, "log-dir", "logs",
		"directory to write gateway logs for later inspection")
}

func runGateway(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("\nShutting down gateway gracefully...")
		cancel()
	}()

	logFilePath, closeLog, err := setupGatewayFileLogger(gatewayLogDir)
	if err != nil {
		return fmt.Errorf("initialising gateway logger: %w", err)
	}
	defer closeLog()

	cfg, db, err := openDB(ctx, func(cfg *config.Config) {
		if gatewayPort > 0 {
			cfg.Gateway.Port = gatewayPort
		}
		if cfg.Gateway.Port == 0 {
			cfg.Gateway.Port = 6090
		}
	})
	if err != nil {
		return err
	}
	defer db.Close()
	effectiveCfgPath, _ := config.ConfigPath(cfgFile)

	gw, err := gateway.New(cfg, db, nil)
	if err != nil {
		return err
	}

	fmt.Printf("klara gateway starting\n")
	fmt.Printf("  Shop       : %s\n", cfg.Shop.Domain)
	fmt.Printf("  Autonomy   : %t (max %d per run)\n", cfg.Autonomy.Enabled, cfg.Autonomy.MaxPerRun)
	fmt.Printf("  API        : http://127.0.0.1:%d\n", cfg.Gateway.Port)
	fmt.Printf("  Events     : http://127.0.0.1:%d/events\n", cfg.Gateway.Port)
	fmt.Printf("  Logs       : %s\n\n", logFilePath)
	fmt.Println("Press Ctrl+C to stop gracefully.")
	fmt.Println("Gateway starts idle; trigger scans via the API or cron schedules.")
	fmt.Println()

	slog.Info("gateway logger initialised", "file", logFilePath)
	gw.SetConfigPath(effectiveCfgPath)
	gw.SetLogDir(gatewayLogDir)
	return gw.Start(ctx)
}

func setupGatewayFileLogger(logDir string) (string, func(), error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating log dir %s: %w", logDir, err)
	}

	ts := time.Now().UTC().Format("20060102-150405")
	runLogPath := filepath.Join(logDir, fmt.Sprintf("gateway-%s.log", ts))
	runFile, err := os.OpenFile(runLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("opening run log file: %w", err)
	}

	latestPath := filepath.Join(logDir, "gateway.log")
	latestFile, err := os.OpenFile(latestPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = runFile.Close()
		return "", nil, fmt.Errorf("opening latest log file: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, runFile, latestFile), &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	})
	slog.SetDefault(slog.New(handler))
	slog.SetLogLoggerLevel(level)

	cleanup := func() {
		_ = latestFile.Close()
		_ = runFile.Close()
	}
	return runLogPath, cleanup, nil
}
