package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/klara-agent/internal/actions"
	"github.com/CosmoTheDev/klara-agent/internal/agent"
	"github.com/CosmoTheDev/klara-agent/internal/issues"
	"github.com/CosmoTheDev/klara-agent/models"
)

var severityOrder = []models.SeverityLevel{
	models.SeverityCritical,
	models.SeverityHigh,
	models.SeverityMedium,
	models.SeverityLow,
}

// RenderHealth draws the score card with per-severity counters.
func RenderHealth(shop string, h *issues.Health) string {
	score := boxStyle.Width(18).Render(
		lipgloss.JoinVertical(lipgloss.Center,
			scoreStyle(h.Score).Bold(true).Render(fmt.Sprintf("%d", h.Score)),
			dimStyle.Render("HEALTH"),
		),
	)
	cards := []string{score, "  "}
	for _, sev := range severityOrder {
		cards = append(cards, renderCounter(string(sev), h.BySeverity[sev], severityStyle(sev), 14))
	}

	keys := make([]models.Category, 0, len(h.ByCategory))
	for c := range h.ByCategory {
		keys = append(keys, c)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	cats := make([]string, 0, len(keys))
	for _, c := range keys {
		cats = append(cats, categoryStyle(c).Render(fmt.Sprintf("%s %d", c, h.ByCategory[c])))
	}
	summary := fmt.Sprintf("%s  open %d  fixed %d", shop, h.Open, h.Fixed)
	if len(cats) > 0 {
		summary += "  ·  " + strings.Join(cats, "  ")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, cards...),
		dimStyle.Render(summary),
	)
}

// RenderIssues draws one row per issue, most severe first.
func RenderIssues(list []models.Issue) string {
	if len(list) == 0 {
		return okStyle.Render("No issues. The catalog looks healthy.") + "\n"
	}
	sorted := append([]models.Issue(nil), list...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity().Weight() > sorted[j].Severity().Weight()
	})
	var sb strings.Builder
	sb.WriteString(dimStyle.Render(fmt.Sprintf("%-6s %-10s %-26s %-16s %s", "ID", "Severity", "Issue", "Entity", "Status")))
	sb.WriteString("\n")
	for _, iss := range sorted {
		sb.WriteString(issueRow(iss))
		sb.WriteString("\n")
	}
	return sb.String()
}

func issueRow(iss models.Issue) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		lipgloss.NewStyle().Width(7).Foreground(slate).Render(fmt.Sprintf("%d", iss.ID)),
		lipgloss.NewStyle().Width(11).Render(severityStyle(iss.Severity()).Render(string(iss.Severity()))),
		lipgloss.NewStyle().Width(27).Foreground(ink).Render(truncate(string(iss.IssueType), 26)),
		lipgloss.NewStyle().Width(17).Foreground(slate).Render(truncate(iss.EntityID, 16)),
		statusBadge(iss.Status),
	)
}

// RenderHistory draws the fix ledger, newest first.
func RenderHistory(entries []models.FixHistoryEntry) string {
	if len(entries) == 0 {
		return dimStyle.Render("No fixes recorded yet.") + "\n"
	}
	var sb strings.Builder
	sb.WriteString(dimStyle.Render(fmt.Sprintf("%-6s %-20s %-16s %-11s %-10s %s", "ID", "Action", "Product", "Source", "Status", "When")))
	sb.WriteString("\n")
	for _, e := range entries {
		sb.WriteString(historyRow(e))
		sb.WriteString("\n")
	}
	return sb.String()
}

func historyStatus(e models.FixHistoryEntry) string {
	switch {
	case e.Undone:
		return "undone"
	case e.Success:
		return "applied"
	default:
		return "failed"
	}
}

func historyRow(e models.FixHistoryEntry) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		lipgloss.NewStyle().Width(7).Foreground(slate).Render(fmt.Sprintf("%d", e.ID)),
		lipgloss.NewStyle().Width(21).Foreground(ink).Render(string(e.Action)),
		lipgloss.NewStyle().Width(17).Foreground(slate).Render(truncate(e.ProductID, 16)),
		lipgloss.NewStyle().Width(12).Foreground(slate).Render(e.Source),
		lipgloss.NewStyle().Width(11).Render(statusBadge(historyStatus(e))),
		dimStyle.Render(e.CreatedAt.Local().Format("2006-01-02 15:04")),
	)
}

// RenderRuns lists recorded scan runs.
func RenderRuns(runs []agent.ScanRun) string {
	if len(runs) == 0 {
		return dimStyle.Render("No scans yet. Run: klara scan") + "\n"
	}
	var sb strings.Builder
	for _, r := range runs {
		counts := fmt.Sprintf("products %d  findings %d  auto %d", r.Products, r.Findings, r.AutoApplied)
		sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Left,
			lipgloss.NewStyle().Width(18).Foreground(slate).Render(r.StartedAt.Local().Format("01-02 15:04:05")),
			lipgloss.NewStyle().Width(10).Foreground(slate).Render(truncate(r.TriggerSource, 9)),
			lipgloss.NewStyle().Width(11).Render(statusBadge(r.Status)),
			dimStyle.Render(counts),
		))
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderOutcome summarises one dispatch.
func RenderOutcome(o *actions.Outcome) string {
	if o == nil {
		return ""
	}
	var sb strings.Builder
	mark := okStyle.Render("✓")
	if !o.Success {
		mark = errStyle.Render("✗")
	}
	fmt.Fprintf(&sb, "%s %s %s", mark, o.Action, o.ProductID)
	if o.HistoryID != 0 {
		sb.WriteString(dimStyle.Render(fmt.Sprintf("  (history #%d, undo with: klara undo %d)", o.HistoryID, o.HistoryID)))
	}
	if o.Error != "" {
		sb.WriteString("\n  " + errStyle.Render(o.Error))
	}
	sb.WriteString("\n")
	for i := range o.Items {
		sb.WriteString("  " + RenderOutcome(&o.Items[i]))
	}
	return sb.String()
}

// RenderScan summarises an orchestrator run.
func RenderScan(res *agent.Result) string {
	var sb strings.Builder
	sb.WriteString(panelHeaderStyle.Render(fmt.Sprintf("Scan %s", res.RunID)))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%d products, %d collections, %d findings in %s\n",
		res.Products, res.Collections, len(res.Findings), res.Duration.Round(time.Millisecond))
	if res.Saved != nil {
		sb.WriteString(dimStyle.Render(fmt.Sprintf("issues: %d new, %d reopened, %d present", res.Saved.Introduced, res.Saved.Reopened, res.Saved.Present)))
		sb.WriteString("\n")
	}
	for i := range res.Applied {
		sb.WriteString(RenderOutcome(&res.Applied[i]))
	}
	if res.Failed > 0 {
		sb.WriteString(errStyle.Render(fmt.Sprintf("%d automatic fixes failed", res.Failed)) + "\n")
	}
	if res.Paused {
		sb.WriteString(warnStyle.Render("Autonomy paused: the per-run ceiling was reached.") + "\n")
	}
	if res.Health != nil {
		sb.WriteString("\n" + RenderHealth(res.Shop, res.Health) + "\n")
	}
	return sb.String()
}

func renderCounter(label string, count int, style lipgloss.Style, width int) string {
	return boxStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Center,
			style.Bold(true).Render(fmt.Sprintf("%d", count)),
			dimStyle.Render(strings.ToUpper(label)),
		),
	) + "  "
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
