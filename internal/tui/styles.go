package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/klara-agent/models"
)

// Palette.
var (
	accent   = lipgloss.Color("#A78BFA") // violet
	accentBg = lipgloss.Color("#5B21B6")
	green    = lipgloss.Color("#34D399")
	amber    = lipgloss.Color("#FBBF24")
	rose     = lipgloss.Color("#FB7185")
	sky      = lipgloss.Color("#7DD3FC")
	peach    = lipgloss.Color("#FDBA74")
	slate    = lipgloss.Color("#A1A1AA")
	slateDim = lipgloss.Color("#71717A")
	panelBg  = lipgloss.Color("#18181B")
	bgDark   = lipgloss.Color("#09090B")
	line     = lipgloss.Color("#27272A")
	ink      = lipgloss.Color("#F4F4F5")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accent).
			Padding(0, 1)

	pill = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(line).
		Padding(0, 1)

	tabStyle        = pill.Foreground(slate)
	activeTabStyle  = pill.Bold(true).Foreground(ink).Background(accentBg).BorderForeground(accent)
	mutedBadgeStyle = pill.Foreground(slate)
	keycapStyle     = pill.Foreground(ink).Background(line)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(slateDim).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(line).
			Background(panelBg).
			Padding(1, 1)

	boxStyle = panelStyle.Padding(1, 2)

	panelHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ink)

	selectedRowStyle = lipgloss.NewStyle().
				Background(line).
				BorderStyle(lipgloss.NormalBorder()).
				BorderLeft(true).
				BorderForeground(accent)

	okStyle   = lipgloss.NewStyle().Foreground(green)
	warnStyle = lipgloss.NewStyle().Bold(true).Foreground(amber)
	errStyle  = lipgloss.NewStyle().Bold(true).Foreground(rose)
	dimStyle  = lipgloss.NewStyle().Foreground(slateDim)
)

var severityStyles = map[models.SeverityLevel]lipgloss.Style{
	models.SeverityCritical: lipgloss.NewStyle().Bold(true).Foreground(rose),
	models.SeverityHigh:     lipgloss.NewStyle().Bold(true).Foreground(amber),
	models.SeverityMedium:   lipgloss.NewStyle().Foreground(sky),
	models.SeverityLow:      lipgloss.NewStyle().Foreground(slate),
}

func severityStyle(severity models.SeverityLevel) lipgloss.Style {
	if s, ok := severityStyles[severity]; ok {
		return s
	}
	return severityStyles[models.SeverityLow]
}

var categoryColors = map[models.Category]lipgloss.Color{
	models.CategoryImages:       peach,
	models.CategoryContent:      sky,
	models.CategoryPricing:      amber,
	models.CategoryInventory:    rose,
	models.CategoryOrganization: accent,
}

func categoryStyle(c models.Category) lipgloss.Style {
	if col, ok := categoryColors[c]; ok {
		return lipgloss.NewStyle().Foreground(col)
	}
	return dimStyle
}

// scoreStyle colours a 0..100 health score.
func scoreStyle(score int) lipgloss.Style {
	switch {
	case score >= 80:
		return okStyle
	case score >= 50:
		return warnStyle
	default:
		return errStyle
	}
}

var statusColors = map[string]lipgloss.Color{
	"done":    green,
	"applied": green,
	"fixed":   green,
	"open":    amber,
	"running": sky,
	"failed":  rose,
	"undone":  peach,
}

// statusBadge renders an issue, run or fix status as a coloured pill.
func statusBadge(status string) string {
	col, ok := statusColors[status]
	if !ok {
		return dimStyle.Render(status)
	}
	return lipgloss.NewStyle().Foreground(bgDark).Background(col).Padding(0, 1).Render(status)
}
