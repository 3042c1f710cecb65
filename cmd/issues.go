package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/klara-agent/internal/issues"
	"github.com/CosmoTheDev/klara-agent/internal/tui"
	"github.com/CosmoTheDev/klara-agent/models"
)

var (
	issuesStatus    string
	issuesType      string
	issuesLimit     int
	issuesTop       int
	issuesOutputFmt string
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List stored issues",
	Long: `Lists the shop's issues, most recently updated first.

Examples:
  klara issues
  klara issues --status fixed
  klara issues --type missing_alt_text --output json
  klara issues --top 5`,
	RunE: runIssues,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the store health score",
	Long: `Computes the 0-100 health score from open issues: 100 minus a
per-severity deduction (critical 10, high 5, medium 2, low 1), floored at 0.`,
	RunE: runHealth,
}

func init() {
	issuesCmd.Flags().StringVar(&issuesStatus, "status", models.IssueStatusOpen, "Issue status: open|fixed|all")
	issuesCmd.Flags().StringVar(&issuesType, "type", "", "Only this issue type (e.g. missing_description)")
	issuesCmd.Flags().IntVar(&issuesLimit, "limit", 100, "Maximum number of issues")
	issuesCmd.Flags().IntVar(&issuesTop, "top", 0, "Show the N highest-severity open issues instead")
	issuesCmd.Flags().StringVar(&issuesOutputFmt, "output", "table", "Output format: table|json|yaml")

	healthCmd.Flags().StringVar(&issuesOutputFmt, "output", "table", "Output format: table|json|yaml")
}

func runIssues(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	filter := issues.Filter{IssueType: models.IssueType(issuesType), Limit: issuesLimit}
	switch issuesStatus {
	case models.IssueStatusOpen, models.IssueStatusFixed:
		filter.Status = issuesStatus
	case "all", "":
	default:
		return fmt.Errorf("invalid status %q (valid: open, fixed, all)", issuesStatus)
	}
	if issuesType != "" && !filter.IssueType.IsKnown() {
		return fmt.Errorf("unknown issue type %q", issuesType)
	}

	svc, closeDB, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	var list []models.Issue
	if issuesTop > 0 {
		list, err = svc.Issues.Top(ctx, svc.Shop, issuesTop)
	} else {
		list, err = svc.Issues.List(ctx, svc.Shop, filter)
	}
	if err != nil {
		return fmt.Errorf("listing issues: %w", err)
	}
	return printResult(issuesOutputFmt, list, func() string {
		return tui.RenderIssues(list)
	})
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	svc, closeDB, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	h, err := svc.Issues.Health(ctx, svc.Shop)
	if err != nil {
		return fmt.Errorf("computing health: %w", err)
	}
	return printResult(issuesOutputFmt, h, func() string {
		return tui.RenderHealth(svc.Shop, h) + "\n"
	})
}
