package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/klara-agent/internal/agent"
)

// Tab represents a TUI navigation tab.
type Tab int

const (
	TabDashboard Tab = iota
	TabIssues
	TabHistory
)

var tabNames = []string{"Dashboard", "Issues", "History"}
var tabCompactNames = []string{"Dash", "Issues", "Hist"}
var tabTinyNames = []string{"D", "I", "H"}

// App is the root bubbletea model.
type App struct {
	svc       *agent.Services
	width     int
	height    int
	activeTab Tab
	dashboard DashboardModel
	issues    IssuesModel
	history   HistoryModel
}

// NewApp creates the TUI application.
func NewApp(svc *agent.Services) *App {
	return &App{
		svc:       svc,
		dashboard: NewDashboardModel(svc),
		issues:    NewIssuesModel(svc),
		history:   NewHistoryModel(svc),
	}
}

// Run starts the bubbletea program.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.dashboard.Init(),
		a.issues.Init(),
		a.history.Init(),
	)
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		contentW := msg.Width - 2
		if contentW < 20 {
			contentW = 20
		}
		contentH := msg.Height - 7
		if contentH < 8 {
			contentH = 8
		}
		a.dashboard.SetSize(contentW, contentH)
		a.issues.SetSize(contentW, contentH)
		a.history.SetSize(contentW, contentH)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "1":
			a.activeTab = TabDashboard
		case "2":
			a.activeTab = TabIssues
		case "3":
			a.activeTab = TabHistory
		case "tab":
			a.activeTab = (a.activeTab + 1) % Tab(len(tabNames))
		case "shift+tab":
			a.activeTab--
			if a.activeTab < 0 {
				a.activeTab = Tab(len(tabNames) - 1)
			}
		}
	}

	// Load results go to their own view; keys go to the active one.
	switch msg.(type) {
	case dashLoadedMsg:
		cmds = append(cmds, a.updateDashboard(msg))
	case issuesLoadedMsg, issueFixedMsg:
		cmds = append(cmds, a.updateIssues(msg))
	case historyLoadedMsg, undoneMsg:
		cmds = append(cmds, a.updateHistory(msg))
	default:
		switch a.activeTab {
		case TabDashboard:
			cmds = append(cmds, a.updateDashboard(msg))
		case TabIssues:
			cmds = append(cmds, a.updateIssues(msg))
		case TabHistory:
			cmds = append(cmds, a.updateHistory(msg))
		}
	}

	return a, tea.Batch(cmds...)
}

func (a *App) updateDashboard(msg tea.Msg) tea.Cmd {
	m, cmd := a.dashboard.Update(msg)
	a.dashboard = m.(DashboardModel)
	return cmd
}

func (a *App) updateIssues(msg tea.Msg) tea.Cmd {
	m, cmd := a.issues.Update(msg)
	a.issues = m.(IssuesModel)
	return cmd
}

func (a *App) updateHistory(msg tea.Msg) tea.Cmd {
	m, cmd := a.history.Update(msg)
	a.history = m.(HistoryModel)
	return cmd
}

// View implements tea.Model.
func (a *App) View() string {
	if a.width == 0 {
		return "Loading..."
	}

	header := a.renderHeader()
	nav := a.renderTabs()

	// Active view content.
	var content string
	switch a.activeTab {
	case TabIssues:
		content = a.issues.View()
	case TabHistory:
		content = a.history.View()
	default:
		content = a.dashboard.View()
	}

	contentBox := lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		MaxHeight(max(1, a.height-4)).
		Render(content)

	status := statusBarStyle.Width(a.width).Render("tab next  shift+tab prev  1-3 jump  q quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		nav,
		contentBox,
		status,
	)
}

func (a *App) renderHeader() string {
	row := lipgloss.JoinHorizontal(lipgloss.Left,
		titleStyle.Render("klara"),
		"  ",
		dimStyle.Render(a.svc.Shop),
		"  ",
		mutedBadgeStyle.Render(" "+tabNames[a.activeTab]+" "),
	)
	return lipgloss.NewStyle().
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(line).
		Width(a.width).
		Padding(0, 1).
		Render(row)
}

func (a *App) renderTabs() string {
	labels := tabNames
	rendered := a.renderTabLabels(labels)
	maxWidth := a.width - 2
	if maxWidth < 10 {
		maxWidth = 10
	}
	if lipgloss.Width(rendered) > maxWidth {
		labels = tabCompactNames
		rendered = a.renderTabLabels(labels)
	}
	if lipgloss.Width(rendered) > maxWidth {
		rendered = a.renderTabLabels(tabTinyNames)
	}

	return lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		Foreground(slate).
		Render(rendered)
}

func (a *App) renderTabLabels(labels []string) string {
	parts := make([]string, 0, len(labels))
	for i, name := range labels {
		label := fmt.Sprintf("%d:%s", i+1, name)
		if Tab(i) == a.activeTab {
			parts = append(parts, lipgloss.NewStyle().Bold(true).Foreground(accent).Render(label))
		} else {
			parts = append(parts, dimStyle.Render(label))
		}
		if i < len(labels)-1 {
			parts = append(parts, dimStyle.Render("  ·  "))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, parts...)
}
