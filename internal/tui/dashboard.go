package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/klara-agent/internal/agent"
	"github.com/CosmoTheDev/klara-agent/internal/issues"
)

// DashboardModel shows the overview: health score and recent scan runs.
type DashboardModel struct {
	svc      *agent.Services
	health   *issues.Health
	runs     []agent.ScanRun
	err      error
	width    int
	height   int
	lastLoad time.Time
	loading  bool
}

type dashLoadedMsg struct {
	health *issues.Health
	runs   []agent.ScanRun
	err    error
}

// NewDashboardModel creates a DashboardModel.
func NewDashboardModel(svc *agent.Services) DashboardModel {
	return DashboardModel{svc: svc, loading: true}
}

func (d DashboardModel) Init() tea.Cmd {
	return d.loadCmd()
}

func (d DashboardModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		h, err := d.svc.Issues.Health(ctx, d.svc.Shop)
		if err != nil {
			return dashLoadedMsg{err: err}
		}
		runs, err := d.svc.Runs(ctx, 20)
		return dashLoadedMsg{health: h, runs: runs, err: err}
	}
}

func (d DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dashLoadedMsg:
		d.health = msg.health
		d.runs = msg.runs
		d.err = msg.err
		d.loading = false
		d.lastLoad = time.Now()
		// Refresh every 10 seconds.
		return d, tea.Tick(10*time.Second, func(t time.Time) tea.Msg {
			return d.loadCmd()()
		})
	case tea.KeyMsg:
		if msg.String() == "r" {
			d.loading = true
			return d, d.loadCmd()
		}
	}
	return d, nil
}

func (d *DashboardModel) SetSize(w, h int) {
	d.width = w
	d.height = h
}

func (d DashboardModel) View() string {
	if d.err != nil {
		return panelStyle.Width(max(20, d.width-2)).Render(errStyle.Render("Load failed: " + d.err.Error()))
	}
	if d.loading && d.health == nil {
		return panelStyle.Width(max(20, d.width-2)).Render("Loading store health...")
	}

	runs := d.runs
	if limit := max(5, d.height-14); len(runs) > limit {
		runs = runs[:limit]
	}

	updated := "never"
	if !d.lastLoad.IsZero() {
		updated = d.lastLoad.Format("15:04:05")
	}
	refreshInfo := lipgloss.JoinHorizontal(lipgloss.Left,
		keycapStyle.Render("r"),
		" ",
		dimStyle.Render("refresh"),
		"   ",
		dimStyle.Render("updated "+updated),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Padding(0, 1).Render(RenderHealth(d.svc.Shop, d.health)),
		panelStyle.Width(max(20, d.width-2)).Render(
			lipgloss.JoinVertical(lipgloss.Left,
				panelHeaderStyle.Render("Recent Scans"),
				RenderRuns(runs),
				refreshInfo,
			),
		),
	)
}
