package chat

import (
	"encoding/json"
)

// EventType classifies a decoded stream record.
type EventType string

const (
	EventToken            EventType = "token"
	EventToolStart        EventType = "tool_start"
	EventToolEnd          EventType = "tool_end"
	EventApprovalRequired EventType = "approval_required"
	EventError            EventType = "error"
	EventDone             EventType = "done"
)

// DataPrefix marks a line carrying an event record.
const DataPrefix = "data:"

// ApprovalAction describes one tool call the backend wants confirmed before
// it runs.
type ApprovalAction struct {
	ToolCallID  string   `json:"tool_call_id"`
	ToolName    string   `json:"tool_name"`
	Title       string   `json:"title"`
	Description []string `json:"description,omitempty"`
}

// Event is one record from a message, approve or reject stream.
type Event struct {
	Type    EventType        `json:"type"`
	Content string           `json:"content,omitempty"`
	Tool    string           `json:"tool,omitempty"`
	Reason  string           `json:"reason,omitempty"`
	Actions []ApprovalAction `json:"actions,omitempty"`
}

// Line encodes the event as a single wire line, newline included.
func (e Event) Line() string {
	data, err := json.Marshal(e)
	if err != nil {
		// Event holds only strings and slices of strings.
		panic(err)
	}
	return DataPrefix + " " + string(data) + "\n"
}

func TokenEvent(content string) Event { return Event{Type: EventToken, Content: content} }

func ToolStartEvent(tool string) Event { return Event{Type: EventToolStart, Tool: tool} }

func ToolEndEvent(tool string) Event { return Event{Type: EventToolEnd, Tool: tool} }

func ErrorEvent(content string) Event { return Event{Type: EventError, Content: content} }

func DoneEvent() Event { return Event{Type: EventDone} }
