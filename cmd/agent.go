package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/klara-agent/internal/agent"
)

var agentEvery time.Duration

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the scan loop headless",
	Long: `Starts the klara agent loop without the HTTP gateway. The agent will:
  1. Scan the catalog immediately, then every --every interval
  2. Store findings as issues and reopen ones that came back
  3. Report the health score after each run

Timed scans only detect. Fixes are always requested explicitly: 'klara fix',
'klara scan --autofix', or the gateway API.

Examples:
  klara agent
  klara agent --every 30m`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().DurationVar(&agentEvery, "every", 6*time.Hour, "Interval between scans")
}

func runAgent(cmd *cobra.Command, args []string) error {
	if agentEvery < time.Minute {
		return fmt.Errorf("--every must be at least 1m")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("\nShutting down agent gracefully...")
		cancel()
	}()

	svc, closeDB, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	slog.Info("Starting agent", "shop", svc.Shop, "every", agentEvery)
	fmt.Printf("klara agent starting (shop: %s, every %s)\n\n", svc.Shop, agentEvery)
	fmt.Println("Press Ctrl+C to stop gracefully.")
	fmt.Println()

	go tickScans(ctx, svc.Orchestrator)
	if err := svc.Orchestrator.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("agent error: %w", err)
	}

	fmt.Println("Agent stopped.")
	return nil
}

func tickScans(ctx context.Context, orch *agent.Orchestrator) {
	req := agent.TriggerRequest{Trigger: "agent"}
	orch.Trigger(req)
	t := time.NewTicker(agentEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			orch.Trigger(req)
		}
	}
}
