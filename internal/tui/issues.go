package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/klara-agent/internal/actions"
	"github.com/CosmoTheDev/klara-agent/internal/agent"
	"github.com/CosmoTheDev/klara-agent/internal/issues"
	"github.com/CosmoTheDev/klara-agent/models"
)

var categoryFilters = []models.Category{
	"",
	models.CategoryContent,
	models.CategoryImages,
	models.CategoryPricing,
	models.CategoryInventory,
	models.CategoryOrganization,
}

// IssuesModel lists open issues with a category filter. x fixes the
// selected issue with generated content.
type IssuesModel struct {
	svc     *agent.Services
	all     []models.Issue
	width   int
	height  int
	cursor  int
	filter  int // index into categoryFilters
	loading bool
	busy    bool
	status  string
}

type issuesLoadedMsg struct {
	issues []models.Issue
	err    error
}

type issueFixedMsg struct {
	outcome *actions.Outcome
	err     error
}

// NewIssuesModel creates an IssuesModel.
func NewIssuesModel(svc *agent.Services) IssuesModel {
	return IssuesModel{svc: svc, loading: true}
}

func (m IssuesModel) Init() tea.Cmd {
	return m.loadCmd()
}

func (m IssuesModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		list, err := m.svc.Issues.List(context.Background(), m.svc.Shop, issues.Filter{Status: models.IssueStatusOpen, Limit: 500})
		return issuesLoadedMsg{issues: list, err: err}
	}
}

func (m IssuesModel) fixCmd(iss models.Issue) tea.Cmd {
	return func() tea.Msg {
		// Image issues use the stored strategy; without one FixIssue reports
		// ErrManualOnly and the status line says so.
		opts := actions.FixOptions{Source: models.SourceManual}
		out, err := m.svc.Dispatcher.FixIssue(context.Background(), m.svc.Shop, iss.ID, opts)
		return issueFixedMsg{outcome: out, err: err}
	}
}

func (m IssuesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case issuesLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.status = "load failed: " + msg.err.Error()
		} else {
			m.all = msg.issues
		}
		m = m.clampCursor()
		return m, tea.Tick(30*time.Second, func(t time.Time) tea.Msg {
			return m.loadCmd()()
		})

	case issueFixedMsg:
		m.busy = false
		switch {
		case msg.err != nil:
			m.status = "fix failed: " + msg.err.Error()
		case msg.outcome != nil:
			m.status = fmt.Sprintf("fixed %s (history #%d)", msg.outcome.ProductID, msg.outcome.HistoryID)
		}
		return m, m.loadCmd()

	case tea.KeyMsg:
		switch msg.String() {
		case "j", "down":
			m.cursor++
		case "k", "up":
			if m.cursor > 0 {
				m.cursor--
			}
		case "c":
			m.filter = (m.filter + 1) % len(categoryFilters)
			m.cursor = 0
		case "0":
			m.filter = 0
			m.cursor = 0
		case "r":
			m.loading = true
			return m, m.loadCmd()
		case "x":
			visible := m.visible()
			if m.busy || len(visible) == 0 {
				break
			}
			m.busy = true
			iss := visible[m.cursor]
			m.status = fmt.Sprintf("fixing issue #%d...", iss.ID)
			return m, m.fixCmd(iss)
		}
	}
	m = m.clampCursor()
	return m, nil
}

func (m *IssuesModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

func (m IssuesModel) visible() []models.Issue {
	want := categoryFilters[m.filter]
	if want == "" {
		return m.all
	}
	var out []models.Issue
	for _, iss := range m.all {
		if iss.Category() == want {
			out = append(out, iss)
		}
	}
	return out
}

func (m IssuesModel) View() string {
	if m.loading && len(m.all) == 0 {
		return panelStyle.Width(max(20, m.width-2)).Render("Loading issues...")
	}

	visible := m.visible()
	lineLimit := max(5, m.height-10)
	rows := ""
	for i, iss := range visible {
		if i >= lineLimit {
			break
		}
		rows += m.renderRow(i, iss)
	}
	if rows == "" {
		rows = okStyle.Render("No open issues.\n")
	}

	label := "All"
	if c := categoryFilters[m.filter]; c != "" {
		label = string(c)
	}
	filterBar := lipgloss.JoinHorizontal(lipgloss.Left,
		activeTabStyle.Render(fmt.Sprintf("%s %d", label, len(visible))),
		" ",
		tabStyle.Render("next category [c]"),
		"  ",
		keycapStyle.Render("r"),
		" ",
		dimStyle.Render("refresh"),
	)

	return panelStyle.Width(max(20, m.width-2)).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			panelHeaderStyle.Render("Open Issues"),
			filterBar,
			"",
			rows,
			dimStyle.Render(m.status),
			dimStyle.Render("j/k navigate  c category  0 all  x fix selected"),
		),
	)
}

func (m IssuesModel) renderRow(idx int, iss models.Issue) string {
	cursor := " "
	if idx == m.cursor {
		cursor = "▌"
	}
	line := lipgloss.JoinHorizontal(lipgloss.Left,
		lipgloss.NewStyle().Width(2).Foreground(accent).Render(cursor),
		lipgloss.NewStyle().Width(10).Render(severityStyle(iss.Severity()).Render(string(iss.Severity()))),
		lipgloss.NewStyle().Width(28).Foreground(ink).Render(truncate(iss.Title, 27)),
		lipgloss.NewStyle().Width(18).Foreground(slate).Render(truncate(iss.EntityID, 17)),
		categoryStyle(iss.Category()).Render(string(iss.Category())),
	)
	if idx == m.cursor {
		return selectedRowStyle.Width(max(20, m.width-6)).Render(line) + "\n"
	}
	return line + "\n"
}

func (m IssuesModel) clampCursor() IssuesModel {
	total := len(m.visible())
	if total == 0 || m.cursor < 0 {
		m.cursor = 0
		return m
	}
	if m.cursor >= total {
		m.cursor = total - 1
	}
	return m
}
