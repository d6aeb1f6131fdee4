package ui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"pearchat/internal/chat"
	"pearchat/internal/models"
	"pearchat/internal/styles"
)

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case spinner.TickMsg:
		var spCmd tea.Cmd
		m.Spinner, spCmd = m.Spinner.Update(msg)
		if m.State.IsStreaming || m.State.IsConnecting {
			m.UpdateViewport()
		}
		return m, spCmd

	case StateMsg:
		m.State = chat.State(msg)
		m.UpdateViewport()
		return m, nil

	case ReadyMsg:
		m.Ready = true
		m.UpdateViewport()
		return m, nil

	case TurnDoneMsg:
		m.UpdateViewport()
		return m, nil

	case tea.KeyMsg:
		if m.HistoryOpen {
			return m.updateHistory(msg)
		}

		if m.ShortcutsOpen {
			switch msg.String() {
			case "ctrl+c":
				return m, tea.Quit
			case "esc", "enter", "?", "ctrl+s":
				m.ShortcutsOpen = false
				return m, nil
			}
			return m, nil
		}

		if m.Archived != nil {
			switch msg.String() {
			case "ctrl+c":
				return m, tea.Quit
			case "esc", "q":
				m.Archived = nil
				m.ArchivedTitle = ""
				m.UpdateViewport()
				return m, nil
			case "ctrl+h":
				m.openHistory()
				return m, nil
			}
			m.Viewport, vpCmd = m.Viewport.Update(msg)
			return m, vpCmd
		}

		if isNewlineShortcut(msg) {
			m.Input.InsertString("\n")
			m.updateInputLayout()
			return m, nil
		}

		if m.canDecide() {
			switch msg.String() {
			case "y":
				return m, m.decide(true)
			case "n":
				return m, m.decide(false)
			}
		}

		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit

		case tea.KeyEsc:
			if m.Input.Value() != "" {
				m.Input.Reset()
				m.updateInputLayout()
				return m, nil
			}
			return m, tea.Quit

		case tea.KeyCtrlN:
			return m, m.newChat()

		case tea.KeyCtrlS:
			m.ShortcutsOpen = true
			m.HistoryOpen = false
			return m, nil

		case tea.KeyCtrlH:
			m.openHistory()
			return m, nil

		case tea.KeyEnter:
			input := strings.TrimSpace(m.Input.Value())
			if input == "" {
				return m, nil
			}
			if input == "/new" || input == "/clear" {
				m.Input.Reset()
				m.updateInputLayout()
				return m, m.newChat()
			}
			if m.State.SessionID == "" || m.State.IsStreaming {
				return m, nil
			}
			m.Input.Reset()
			m.updateInputLayout()
			return m, tea.Batch(m.send(input), m.Spinner.Tick)
		}

	case tea.WindowSizeMsg:
		m.WindowWidth = msg.Width
		m.WindowHeight = msg.Height

		modalWidth := min(max(msg.Width-10, 30), ModalWidth)
		styles.ContentWidth = modalWidth - 6

		chatWidth := msg.Width - 2
		m.Viewport.Width = chatWidth - 2

		m.updateInputLayout()
		glamourStyle := "dark"
		if !lipgloss.HasDarkBackground() {
			glamourStyle = "light"
		}
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStylePath(glamourStyle),
			glamour.WithWordWrap(chatWidth-6),
		)
		if err != nil {
			slog.Warn("markdown renderer unavailable", "error", err)
		}
		m.Renderer = renderer
		clear(m.rendered)
		m.UpdateViewport()
		return m, nil
	}

	m.Input, tiCmd = m.Input.Update(msg)
	m.updateInputLayout()

	// Terminal background color queries can leak into the input on some terminals.
	val := m.Input.Value()
	if strings.Contains(val, "]11;rgb:") || strings.Contains(val, "1;rgb:") || strings.Contains(val, "[1;1R") {
		m.Input.Reset()
	}

	m.Viewport, vpCmd = m.Viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd)
}

func (m *Model) updateHistory(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc", "ctrl+h":
		m.HistoryOpen = false
		m.HistoryErr = nil
		return m, nil
	case "up", "k":
		if len(m.HistoryChats) == 0 {
			return m, nil
		}
		m.HistorySelectedIdx--
		if m.HistorySelectedIdx < 0 {
			m.HistorySelectedIdx = len(m.HistoryChats) - 1
		}
		return m, nil
	case "down", "j":
		if len(m.HistoryChats) == 0 {
			return m, nil
		}
		m.HistorySelectedIdx++
		if m.HistorySelectedIdx >= len(m.HistoryChats) {
			m.HistorySelectedIdx = 0
		}
		return m, nil
	case "enter":
		if len(m.HistoryChats) == 0 {
			return m, nil
		}
		item := m.HistoryChats[m.HistorySelectedIdx]
		if err := m.OpenArchived(item.ID, PromptPreview(item.LastUserPrompt)); err != nil {
			m.HistoryErr = err
			return m, nil
		}
		m.HistoryOpen = false
		m.HistoryErr = nil
		return m, nil
	case "left", "h":
		if m.HistoryPage > 0 {
			m.HistoryPage--
			m.RefreshHistoryFromDB()
		}
		return m, nil
	case "right", "l":
		totalPages := (m.HistoryChatCount + HistoryPageSize - 1) / HistoryPageSize
		if m.HistoryPage < totalPages-1 {
			m.HistoryPage++
			m.RefreshHistoryFromDB()
		}
		return m, nil
	}
	return m, nil
}

func isNewlineShortcut(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "shift+enter", "shift+return", "ctrl+j", "ctrl+enter", "alt+enter":
		return true
	default:
		return false
	}
}

// canDecide reports whether y/n should answer the approval card instead of
// going to the input.
func (m *Model) canDecide() bool {
	return m.State.AwaitingApproval() && !m.State.IsStreaming && m.Input.Value() == ""
}

func (m *Model) send(text string) tea.Cmd {
	c := m.Chat
	return func() tea.Msg {
		return TurnDoneMsg{Started: c.Send(context.Background(), text)}
	}
}

func (m *Model) decide(approve bool) tea.Cmd {
	c := m.Chat
	run := func() tea.Msg {
		if approve {
			return TurnDoneMsg{Started: c.Approve(context.Background())}
		}
		return TurnDoneMsg{Started: c.Reject(context.Background())}
	}
	return tea.Batch(run, m.Spinner.Tick)
}

func (m *Model) newChat() tea.Cmd {
	c := m.Chat
	clear(m.rendered)
	m.Archived = nil
	m.ArchivedTitle = ""
	return tea.Batch(func() tea.Msg {
		_ = c.NewChat(context.Background())
		return TurnDoneMsg{}
	}, m.Spinner.Tick)
}

func (m *Model) openHistory() {
	m.HistoryOpen = true
	m.ShortcutsOpen = false
	m.HistoryPage = 0
	m.RefreshHistoryFromDB()
}

func (m *Model) updateInputLayout() {
	if m.WindowWidth == 0 || m.WindowHeight == 0 {
		return
	}

	inputWidth := max(m.WindowWidth-6, 20)
	contentWidth := max(inputWidth-2, 1)

	lineCount := WrappedLineCount(m.Input.Value(), contentWidth)
	lineCount = min(max(lineCount, 1), maxInputHeight)

	m.Input.MaxHeight = maxInputHeight
	m.Input.SetWidth(inputWidth)
	m.Input.SetHeight(lineCount)

	inputBoxHeight := m.Input.Height() + 2
	reserved := inputBoxHeight + 5
	m.Viewport.Height = max(m.WindowHeight-reserved, 5)
}

func (m *Model) RefreshHistoryFromDB() {
	m.HistoryErr = nil
	m.HistoryChats = nil
	m.HistorySelectedIdx = 0

	if m.DB == nil {
		m.HistoryErr = fmt.Errorf("history database not initialized")
		return
	}

	offset := m.HistoryPage * HistoryPageSize
	count, chats, err := m.DB.RecentChats(context.Background(), HistoryPageSize, offset)
	if err != nil {
		m.HistoryErr = err
		return
	}
	m.HistoryChatCount = count
	m.HistoryChats = chats
}

// OpenArchived shows an archived transcript read-only in place of the live
// chat. The live chat keeps running underneath.
func (m *Model) OpenArchived(chatID int64, title string) error {
	if m.DB == nil {
		return fmt.Errorf("history database not initialized")
	}
	msgs, err := m.DB.ChatMessages(context.Background(), chatID)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []models.DBMessage{}
	}
	m.ArchivedTitle = title
	m.Archived = msgs
	m.UpdateViewport()
	m.Viewport.GotoTop()
	return nil
}
