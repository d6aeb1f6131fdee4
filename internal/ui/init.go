package ui

import (
	"context"

	"pearchat/internal/chat"
	"pearchat/internal/db"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

func InitialModel(c *chat.Chat, database *db.DB, scope string) Model {
	ti := textarea.New()
	ti.Placeholder = "Ask Pear Genius..."
	ti.Prompt = "❯ "
	ti.ShowLineNumbers = false
	ti.CharLimit = 0
	ti.MaxHeight = maxInputHeight
	ti.SetHeight(1)
	ti.SetWidth(80)
	ti.FocusedStyle.Prompt = lipgloss.NewStyle().Foreground(lipgloss.Color("#A5D6A7")).Bold(true)
	ti.BlurredStyle.Prompt = lipgloss.NewStyle().Foreground(lipgloss.Color("#A5D6A7")).Bold(true)
	ti.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(lipgloss.Color("#545454"))
	ti.BlurredStyle.Placeholder = lipgloss.NewStyle().Foreground(lipgloss.Color("#545454"))
	ti.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ti.BlurredStyle.CursorLine = lipgloss.NewStyle()
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#A5D6A7"))

	return Model{
		Chat:     c,
		State:    c.Snapshot(),
		DB:       database,
		Scope:    scope,
		Viewport: viewport.New(60, 15),
		Input:    ti,
		Spinner:  sp,
		rendered: make(map[string]string),
	}
}

func (m *Model) Init() tea.Cmd {
	c := m.Chat
	return tea.Batch(
		textarea.Blink,
		m.Spinner.Tick,
		func() tea.Msg {
			c.Init(context.Background())
			return ReadyMsg{}
		},
	)
}

// NewProgram builds the terminal program and subscribes it to c.
func NewProgram(c *chat.Chat, database *db.DB, scope string) *tea.Program {
	m := InitialModel(c, database, scope)
	p := tea.NewProgram(&m, tea.WithAltScreen())
	c.Subscribe(func(s chat.State) {
		p.Send(StateMsg(s))
	})
	return p
}
