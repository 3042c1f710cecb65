package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/klara-agent/internal/agent"
	"github.com/CosmoTheDev/klara-agent/models"
)

// HistoryModel lists the fix ledger. u undoes the selected entry.
type HistoryModel struct {
	svc     *agent.Services
	entries []models.FixHistoryEntry
	width   int
	height  int
	cursor  int
	loading bool
	status  string
}

type historyLoadedMsg struct {
	entries []models.FixHistoryEntry
	err     error
}

type undoneMsg struct {
	id  int64
	err error
}

// NewHistoryModel creates a HistoryModel.
func NewHistoryModel(svc *agent.Services) HistoryModel {
	return HistoryModel{svc: svc, loading: true}
}

func (h HistoryModel) Init() tea.Cmd {
	return h.loadCmd()
}

func (h HistoryModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		entries, err := h.svc.Ledger.List(context.Background(), h.svc.Shop, 100)
		return historyLoadedMsg{entries: entries, err: err}
	}
}

func (h HistoryModel) undoCmd(id int64) tea.Cmd {
	return func() tea.Msg {
		_, err := h.svc.Undo(context.Background(), id)
		return undoneMsg{id: id, err: err}
	}
}

func (h HistoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case historyLoadedMsg:
		h.loading = false
		if msg.err != nil {
			h.status = "load failed: " + msg.err.Error()
		} else {
			h.entries = msg.entries
		}
	case undoneMsg:
		if msg.err != nil {
			h.status = "undo failed: " + msg.err.Error()
		} else {
			h.status = fmt.Sprintf("entry #%d undone", msg.id)
		}
		return h, h.loadCmd()
	case tea.KeyMsg:
		switch msg.String() {
		case "j", "down":
			h.cursor++
		case "k", "up":
			if h.cursor > 0 {
				h.cursor--
			}
		case "r":
			h.loading = true
			return h, h.loadCmd()
		case "u":
			if len(h.entries) > 0 && h.cursor < len(h.entries) {
				e := h.entries[h.cursor]
				h.status = fmt.Sprintf("undoing #%d...", e.ID)
				return h, h.undoCmd(e.ID)
			}
		}
	}
	if h.cursor >= len(h.entries) {
		h.cursor = max(0, len(h.entries)-1)
	}
	return h, nil
}

func (h *HistoryModel) SetSize(w, ht int) {
	h.width = w
	h.height = ht
}

func (h HistoryModel) View() string {
	if h.loading && len(h.entries) == 0 {
		return panelStyle.Width(max(20, h.width-2)).Render("Loading fix history...")
	}
	lineLimit := max(5, h.height-8)
	rows := ""
	for i, e := range h.entries {
		if i >= lineLimit {
			break
		}
		cursor := " "
		if i == h.cursor {
			cursor = "▌"
		}
		line := lipgloss.JoinHorizontal(lipgloss.Left,
			lipgloss.NewStyle().Width(2).Foreground(accent).Render(cursor),
			historyRow(e),
		)
		if i == h.cursor {
			line = selectedRowStyle.Width(max(20, h.width-6)).Render(line)
		}
		rows += line + "\n"
	}
	if rows == "" {
		rows = dimStyle.Render("No fixes recorded yet.\n")
	}
	return panelStyle.Width(max(20, h.width-2)).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			panelHeaderStyle.Render("Fix History"),
			"",
			rows,
			dimStyle.Render(h.status),
			dimStyle.Render("j/k navigate  u undo selected  r refresh"),
		),
	)
}
