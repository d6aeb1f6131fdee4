package chat

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"pearchat/internal/models"
)

const defaultStreamError = "An error occurred"

// Approval decisions recorded in the transcript.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Message is one transcript entry. ID, Role and Timestamp never change once
// the message is appended; Content only grows while IsStreaming is set.
type Message struct {
	ID          string          `json:"id"`
	Role        string          `json:"role"`
	Content     string          `json:"content"`
	Timestamp   time.Time       `json:"timestamp"`
	IsStreaming bool            `json:"isStreaming,omitempty"`
	ToolsUsed   []string        `json:"toolsUsed,omitempty"`
	Approval    *ApprovalRecord `json:"approval,omitempty"`
}

// ApprovalRecord is a resolved approval kept in the transcript.
type ApprovalRecord struct {
	Actions  []ApprovalAction `json:"actions"`
	Decision string           `json:"decision"`
}

// PendingApproval holds tool calls waiting on the user.
type PendingApproval struct {
	Actions []ApprovalAction
}

// State is the chat view model. Transitions are value methods that return an
// updated copy and leave the receiver untouched.
type State struct {
	SessionID       string
	Messages        []Message
	IsConnecting    bool
	IsStreaming     bool
	ActiveTools     []string
	Error           string
	PendingApproval *PendingApproval
}

// Persisted is the part of State that survives a restart.
type Persisted struct {
	SessionID string    `json:"sessionId"`
	Messages  []Message `json:"messages"`
}

func (s State) AwaitingApproval() bool { return s.PendingApproval != nil }

func (s State) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

func (s State) clone() State {
	s.Messages = slices.Clone(s.Messages)
	s.ActiveTools = slices.Clone(s.ActiveTools)
	return s
}

// AddMessage appends msg to the transcript.
func (s State) AddMessage(msg Message) State {
	next := s.clone()
	next.Messages = append(next.Messages, msg)
	return next
}

// BeginTurn appends the user's message and an empty streaming assistant
// message. It refuses while another turn is streaming or before a session
// exists.
func (s State) BeginTurn(text string, now time.Time, newID func() string) (State, bool) {
	if s.SessionID == "" || s.IsStreaming {
		return s, false
	}
	next := s.AddMessage(Message{
		ID:        newID(),
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: now,
	})
	return next.startStreaming(now, newID), true
}

// BeginResume appends only the assistant placeholder, for streams that
// continue a turn after an approval decision.
func (s State) BeginResume(now time.Time, newID func() string) (State, bool) {
	if s.SessionID == "" || s.IsStreaming {
		return s, false
	}
	return s.startStreaming(now, newID), true
}

func (s State) startStreaming(now time.Time, newID func() string) State {
	next := s.AddMessage(Message{
		ID:          newID(),
		Role:        models.RoleAssistant,
		Timestamp:   now,
		IsStreaming: true,
	})
	next.IsStreaming = true
	next.Error = ""
	next.ActiveTools = nil
	return next
}

// ApplyEvent folds one decoded event into the state.
func (s State) ApplyEvent(ev Event) State {
	switch ev.Type {
	case EventToken:
		return s.appendToken(ev.Content)
	case EventToolStart:
		return s.addActiveTool(ev.Tool)
	case EventToolEnd:
		return s.removeActiveTool(ev.Tool)
	case EventApprovalRequired:
		if len(ev.Actions) == 0 {
			return s
		}
		next := s.clone()
		next.PendingApproval = &PendingApproval{Actions: slices.Clone(ev.Actions)}
		return next
	case EventError:
		next := s.clone()
		next.Error = ev.Content
		if next.Error == "" {
			next.Error = defaultStreamError
		}
		return next
	default:
		// done and unknown types leave the transcript alone
		return s
	}
}

func (s State) appendToken(content string) State {
	last, ok := s.LastMessage()
	if !ok || content == "" || last.Role != models.RoleAssistant {
		return s
	}
	next := s.clone()
	last.Content += content
	next.Messages[len(next.Messages)-1] = last
	return next
}

func (s State) addActiveTool(tool string) State {
	if tool == "" {
		return s
	}
	next := s.clone()
	if !slices.Contains(next.ActiveTools, tool) {
		next.ActiveTools = append(next.ActiveTools, tool)
	}
	if last, ok := next.LastMessage(); ok && last.Role == models.RoleAssistant && !slices.Contains(last.ToolsUsed, tool) {
		last.ToolsUsed = append(slices.Clone(last.ToolsUsed), tool)
		next.Messages[len(next.Messages)-1] = last
	}
	return next
}

func (s State) removeActiveTool(tool string) State {
	if !slices.Contains(s.ActiveTools, tool) {
		return s
	}
	next := s.clone()
	next.ActiveTools = slices.DeleteFunc(next.ActiveTools, func(t string) bool { return t == tool })
	return next
}

// EndTurn closes the current turn however it finished: the last assistant
// message stops streaming, the streaming flag drops and active tools clear.
func (s State) EndTurn() State {
	next := s.clone()
	for i := len(next.Messages) - 1; i >= 0; i-- {
		if next.Messages[i].Role == models.RoleAssistant {
			next.Messages[i].IsStreaming = false
			break
		}
	}
	next.IsStreaming = false
	next.ActiveTools = nil
	return next
}

// ResolveApproval records the user's decision on the pending approval as a
// system message and clears it.
func (s State) ResolveApproval(decision string, now time.Time, newID func() string) (State, bool) {
	if s.PendingApproval == nil {
		return s, false
	}
	actions := slices.Clone(s.PendingApproval.Actions)
	next := s.AddMessage(Message{
		ID:        newID(),
		Role:      models.RoleSystem,
		Content:   describeDecision(decision, actions),
		Timestamp: now,
		Approval:  &ApprovalRecord{Actions: actions, Decision: decision},
	})
	next.PendingApproval = nil
	return next, true
}

func describeDecision(decision string, actions []ApprovalAction) string {
	titles := make([]string, 0, len(actions))
	for _, a := range actions {
		title := a.Title
		if title == "" {
			title = a.ToolName
		}
		titles = append(titles, title)
	}
	verb := "Approved"
	if decision == DecisionRejected {
		verb = "Rejected"
	}
	return fmt.Sprintf("%s: %s", verb, strings.Join(titles, ", "))
}

// WithError sets or clears the error banner.
func (s State) WithError(msg string) State {
	next := s.clone()
	next.Error = msg
	return next
}

// Reset returns the empty state. Used for "new chat" and for recovering
// from a session the backend no longer knows.
func (s State) Reset() State {
	return State{}
}

// Persisted returns the restart-safe subset of the state.
func (s State) Persisted() Persisted {
	return Persisted{SessionID: s.SessionID, Messages: slices.Clone(s.Messages)}
}

// Hydrate builds a fresh state from a persisted snapshot. Transient flags
// start at their zero values and no message is left streaming.
func Hydrate(p Persisted) State {
	msgs := slices.Clone(p.Messages)
	for i := range msgs {
		msgs[i].IsStreaming = false
	}
	return State{SessionID: p.SessionID, Messages: msgs}
}
