package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatListItem is one archived conversation as shown in the history list.
type ChatListItem struct {
	ID             int64
	UpdatedAtUnix  int64
	LastUserPrompt string
	SessionID      string
	MessageCount   int
}

type DBMessage struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// ToolAction is a tool the assistant used while producing a message.
type ToolAction struct {
	Name    string
	Summary string
}
