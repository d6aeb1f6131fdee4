package ui

import (
	"pearchat/internal/chat"
	"pearchat/internal/db"
	"pearchat/internal/models"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
)

const (
	ModalWidth = 60

	HistoryPageSize = 10
	maxInputHeight  = 6
)

// StateMsg carries a chat state change into the update loop.
type StateMsg chat.State

// TurnDoneMsg arrives when a send, approve or reject call returns.
type TurnDoneMsg struct {
	Started bool
}

// ReadyMsg arrives when session initialization has finished.
type ReadyMsg struct{}

type Model struct {
	Chat     *chat.Chat
	State    chat.State
	DB       *db.DB
	Viewport viewport.Model
	Input    textarea.Model
	Spinner  spinner.Model
	Renderer *glamour.TermRenderer
	Ready    bool
	Scope    string

	// rendered caches glamour output of finished assistant messages by ID
	rendered map[string]string

	WindowWidth  int
	WindowHeight int

	HistoryOpen        bool
	HistorySelectedIdx int
	HistoryChatCount   int
	HistoryChats       []models.ChatListItem
	HistoryErr         error
	HistoryPage        int

	// Archived is the transcript being viewed from history, if any.
	Archived      []models.DBMessage
	ArchivedTitle string

	ShortcutsOpen bool
}
