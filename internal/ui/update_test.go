package ui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pearchat/internal/chat"
	"pearchat/internal/db"
	"pearchat/internal/models"
)

func newTestModel(t *testing.T, database *db.DB) *Model {
	t.Helper()
	c := chat.New(chat.NewClient("http://127.0.0.1:0/api/chat"))
	m := InitialModel(c, database, "ppid-1")
	return &m
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func pendingState() chat.State {
	return chat.State{
		SessionID: "s1",
		Messages:  []chat.Message{{ID: "1", Role: models.RoleAssistant, Content: "I need your go-ahead first."}},
		PendingApproval: &chat.PendingApproval{Actions: []chat.ApprovalAction{
			{ToolCallID: "c1", ToolName: "refund", Title: "Refund order #42"},
		}},
	}
}

func TestStateMsgUpdatesModel(t *testing.T) {
	m := newTestModel(t, nil)
	m.Update(StateMsg(pendingState()))

	assert.Equal(t, "s1", m.State.SessionID)
	assert.Contains(t, m.Viewport.View(), "Approval needed")
	assert.Contains(t, m.RenderBottomBar(), "ONLINE")
	assert.Contains(t, m.RenderBottomBar(), "Msgs:1")
}

func TestApprovalKeys(t *testing.T) {
	m := newTestModel(t, nil)
	m.Update(StateMsg(pendingState()))
	require.True(t, m.canDecide())

	_, cmd := m.Update(key("y"))
	assert.NotNil(t, cmd)
	assert.Empty(t, m.Input.Value(), "y answers the card instead of typing")

	m.Input.SetValue("ok")
	assert.False(t, m.canDecide(), "a draft in the input takes the keys")
	m.Update(key("n"))
	assert.Equal(t, "okn", m.Input.Value())

	m.Input.Reset()
	streaming := pendingState()
	streaming.IsStreaming = true
	m.Update(StateMsg(streaming))
	assert.False(t, m.canDecide())
}

func TestEnterWithoutSessionKeepsInput(t *testing.T) {
	m := newTestModel(t, nil)
	m.Input.SetValue("hello")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Equal(t, "hello", m.Input.Value())

	m.Update(StateMsg(chat.State{SessionID: "s1"}))
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.NotNil(t, cmd)
	assert.Empty(t, m.Input.Value())
}

func TestModals(t *testing.T) {
	m := newTestModel(t, nil)

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.True(t, m.ShortcutsOpen)
	assert.Contains(t, m.View(), "Esc/Enter: close")
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.ShortcutsOpen)

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlH})
	assert.True(t, m.HistoryOpen)
	assert.EqualError(t, m.HistoryErr, "history database not initialized")
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.HistoryOpen)
	assert.NoError(t, m.HistoryErr)
}

func TestHistoryOpensArchivedChat(t *testing.T) {
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	defer database.Close()

	now := time.Now()
	for _, prompt := range []string{"older question", "newer question"} {
		now = now.Add(time.Minute)
		require.NoError(t, database.ArchiveTranscript(context.Background(), chat.Persisted{
			SessionID: prompt,
			Messages: []chat.Message{
				{ID: "u", Role: models.RoleUser, Content: prompt, Timestamp: now},
				{ID: "a", Role: models.RoleAssistant, Content: "answer to " + prompt, Timestamp: now},
			},
		}))
	}

	m := newTestModel(t, database)
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlH})
	require.True(t, m.HistoryOpen)
	require.NoError(t, m.HistoryErr)
	assert.Equal(t, 2, m.HistoryChatCount)
	assert.Contains(t, m.RenderHistorySelector(), "Past Chats (2)")

	m.Update(key("j"))
	assert.Equal(t, 1, m.HistorySelectedIdx)
	m.Update(key("j"))
	assert.Equal(t, 0, m.HistorySelectedIdx, "selection wraps")

	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, m.HistoryOpen)
	require.Len(t, m.Archived, 2)
	assert.Equal(t, "newer question", m.ArchivedTitle)
	assert.Contains(t, m.RenderBottomBar(), "ARCHIVE")

	m.Update(key("q"))
	assert.Nil(t, m.Archived)
}
