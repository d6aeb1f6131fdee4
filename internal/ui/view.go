package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"pearchat/internal/chat"
	"pearchat/internal/models"
	"pearchat/internal/styles"
)

func (m *Model) RenderHistorySelector() string {
	totalPages := max((m.HistoryChatCount+HistoryPageSize-1)/HistoryPageSize, 1)
	title := styles.ModalTitleStyle.Render(fmt.Sprintf("Past Chats (%d) - Page %d/%d", m.HistoryChatCount, m.HistoryPage+1, totalPages))

	var body string
	if m.HistoryErr != nil {
		body = lipgloss.NewStyle().Width(styles.ContentWidth).Render(styles.ErrorStyle.Render(fmt.Sprintf("Error: %v", m.HistoryErr)))
	} else if len(m.HistoryChats) == 0 {
		body = styles.ModalItemStyle.Render(styles.HintStyle.Render("No past chats yet"))
	} else {
		now := time.Now()
		items := make([]string, 0, len(m.HistoryChats))
		for i, item := range m.HistoryChats {
			isSelected := i == m.HistorySelectedIdx
			cursor := "  "
			if isSelected {
				cursor = "> "
			}
			timeStr := RelativeTime(time.Unix(item.UpdatedAtUnix, 0), now)
			prompt := PromptPreview(item.LastUserPrompt)
			if prompt == "" {
				prompt = "(no prompt)"
			}
			availableWidth := styles.ContentWidth - 2 - len(cursor) - 1 - len(timeStr)
			prompt = TruncateRunes(prompt, availableWidth)

			itemContent := fmt.Sprintf("%s%s %s", cursor, prompt, styles.HintStyle.Render(timeStr))
			if isSelected {
				items = append(items, styles.ModalSelectedStyle.Render(itemContent))
			} else {
				items = append(items, styles.ModalItemStyle.Render(itemContent))
			}
		}
		body = lipgloss.JoinVertical(lipgloss.Left, items...)
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, body)
	hint := styles.HintStyle.
		Width(styles.ContentWidth).
		PaddingTop(1).
		Render("↑/↓: navigate • ←/→: page • Enter: open • Esc: close")

	return lipgloss.JoinVertical(lipgloss.Left, content, hint)
}

func (m *Model) RenderShortcutsModal() string {
	title := styles.ModalTitleStyle.Render("Keyboard Shortcuts")

	shortcuts := []struct {
		key  string
		desc string
	}{
		{"Enter", "Send Message"},
		{"Shift+Enter", "New Line"},
		{"Ctrl+N", "New Chat (archives this one)"},
		{"Ctrl+H", "Past Chats"},
		{"y / n", "Approve / Reject Pending Action"},
		{"Ctrl+S", "View Shortcuts (this menu)"},
		{"Ctrl+C", "Quit"},
	}

	keyStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFCC80")).
		Bold(true).
		Width(12)

	descStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#E0E0E0"))

	var items []string
	for _, s := range shortcuts {
		line := fmt.Sprintf("%s %s", keyStyle.Render(s.key), descStyle.Render(s.desc))
		items = append(items, styles.ModalItemStyle.Render(line))
	}

	listContent := lipgloss.JoinVertical(lipgloss.Left, items...)
	content := lipgloss.JoinVertical(lipgloss.Left, title, listContent)

	hint := styles.HintStyle.
		Width(styles.ContentWidth).
		PaddingTop(1).
		Render("Esc/Enter: close")

	return lipgloss.JoinVertical(lipgloss.Left, content, hint)
}

func (m *Model) RenderBottomBar() string {
	badge, badgeColor := "OFFLINE", "#EF9A9A"
	switch {
	case m.Archived != nil:
		badge, badgeColor = "ARCHIVE", "#CE93D8"
	case m.State.IsConnecting:
		badge, badgeColor = "CONNECTING", "#FFF59D"
	case m.State.SessionID != "":
		badge, badgeColor = "ONLINE", "#81D4FA"
	}
	mode := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color(badgeColor)).
		Padding(0, 1).
		Render(badge)

	session := "no session"
	if m.State.SessionID != "" {
		session = TruncateRunes(m.State.SessionID, 13)
	}
	sessionView := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#B39DDB")).
		Render(session)

	scope := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Render(TruncateRunes(m.Scope, 20))

	count := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#666666")).
		Render(fmt.Sprintf("Msgs:%d", len(m.State.Messages)))

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#555555")).
		Render("Help: ^S")

	leftSide := lipgloss.JoinHorizontal(lipgloss.Center, mode, "  ", sessionView, "  ", scope)
	rightSide := lipgloss.JoinHorizontal(lipgloss.Center, count, "  ", help)

	availableWidth := max(m.WindowWidth-lipgloss.Width(leftSide)-lipgloss.Width(rightSide)-2, 0)
	spacer := strings.Repeat(" ", availableWidth)

	bar := lipgloss.JoinHorizontal(lipgloss.Center, leftSide, spacer, rightSide)

	return lipgloss.NewStyle().
		Width(m.WindowWidth).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#333333")).
		Padding(0, 1).
		Render(bar)
}

func GetWelcomeScreen(width, height int, connecting bool) string {
	title := styles.TitleStyle.Render("PEAR GENIUS")
	line := "Ask about your order, your devices or your account."
	if connecting {
		line = "Connecting to support..."
	}
	content := lipgloss.JoinVertical(lipgloss.Center, title, "", styles.WelcomeStyle.Render(line))
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, content)
}

// renderMarkdown renders content with glamour, caching by key when key is
// non-empty.
func (m *Model) renderMarkdown(key, content string) string {
	if m.Renderer == nil {
		return content
	}
	if key != "" {
		if out, ok := m.rendered[key]; ok {
			return out
		}
	}
	out, err := m.Renderer.Render(content)
	if err != nil {
		return content
	}
	out = strings.TrimSpace(out)
	if key != "" {
		m.rendered[key] = out
	}
	return out
}

func (m *Model) renderMessage(msg chat.Message) string {
	switch msg.Role {
	case models.RoleUser:
		return FormatUserMessage(msg.Content, m.Viewport.Width)
	case models.RoleSystem:
		return FormatSystemMessage(msg)
	}

	var body string
	switch {
	case msg.IsStreaming && msg.Content == "":
		body = ActivityLine(m.Spinner.View(), m.State.ActiveTools)
	case msg.IsStreaming:
		// Re-rendering markdown on every token is too slow; show raw text until
		// the turn ends.
		body = msg.Content
		if len(m.State.ActiveTools) > 0 {
			body += "\n" + ActivityLine(m.Spinner.View(), m.State.ActiveTools)
		}
	default:
		body = m.renderMarkdown(msg.ID, msg.Content)
	}
	return FormatAIMessage(body, msg.ToolsUsed)
}

func (m *Model) renderArchived() string {
	parts := []string{styles.HintStyle.Render("Archived chat: " + m.ArchivedTitle + "  (Esc to return)")}
	for _, msg := range m.Archived {
		switch msg.Role {
		case models.RoleUser:
			parts = append(parts, FormatUserMessage(msg.Content, m.Viewport.Width))
		case models.RoleAssistant:
			parts = append(parts, FormatAIMessage(m.renderMarkdown("", msg.Content), nil))
		default:
			parts = append(parts, styles.SystemMsgStyle.Render(msg.Content))
		}
	}
	return strings.Join(parts, "\n\n")
}

func (m *Model) UpdateViewport() {
	if m.Archived != nil {
		m.Viewport.SetContent(m.renderArchived())
		return
	}

	s := m.State
	if len(s.Messages) == 0 && s.Error == "" {
		m.Viewport.SetContent(GetWelcomeScreen(m.Viewport.Width, m.Viewport.Height, s.IsConnecting || !m.Ready))
		return
	}

	parts := make([]string, 0, len(s.Messages)+2)
	for _, msg := range s.Messages {
		parts = append(parts, m.renderMessage(msg))
	}
	if s.PendingApproval != nil && !s.IsStreaming {
		parts = append(parts, FormatApprovalCard(s.PendingApproval, m.Viewport.Width))
	}
	if s.Error != "" {
		parts = append(parts, styles.ErrorStyle.Render("Error: "+s.Error))
	}
	m.Viewport.SetContent(strings.Join(parts, "\n\n"))
	m.Viewport.GotoBottom()
}

func (m *Model) overlay(modal string) string {
	modal = styles.ModalStyle.Width(min(ModalWidth, max(m.WindowWidth-10, 30))).Render(modal)
	return lipgloss.Place(
		m.WindowWidth,
		m.WindowHeight,
		lipgloss.Center,
		lipgloss.Center,
		modal,
	)
}

func (m *Model) View() string {
	if m.HistoryOpen {
		return m.overlay(m.RenderHistorySelector())
	}
	if m.ShortcutsOpen {
		return m.overlay(m.RenderShortcutsModal())
	}

	inputWidth := m.WindowWidth - 4
	inputBox := styles.InputBoxStyle.Width(inputWidth).Render(m.Input.View())

	chatContent := lipgloss.JoinVertical(lipgloss.Center,
		styles.TitleStyle.Render("PEAR GENIUS"),
		"",
		m.Viewport.View(),
		"",
		inputBox,
	)
	chatArea := lipgloss.PlaceHorizontal(m.WindowWidth, lipgloss.Center, chatContent)

	return lipgloss.JoinVertical(lipgloss.Left, chatArea, m.RenderBottomBar())
}
