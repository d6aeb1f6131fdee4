package backend

import (
	"context"
	"errors"
	"strings"
	"sync"

	"pearchat/internal/chat"
)

// ErrNothingPending is returned by Resume when no approval is outstanding.
var ErrNothingPending = errors.New("no action awaiting approval")

// Emit hands one event to the response stream.
type Emit func(chat.Event)

// Responder starts conversations for new sessions.
type Responder interface {
	NewConversation(customer Customer) Conversation
}

// Conversation produces the assistant side of one session. Calls on a
// conversation never overlap; the server serializes them per session.
type Conversation interface {
	// Reply answers a user message.
	Reply(ctx context.Context, message string, emit Emit) error
	// Resume continues after the user decided on a pending approval.
	Resume(ctx context.Context, approved bool, emit Emit) error
	// PendingApproval returns the actions waiting on the user, or nil.
	PendingApproval() []chat.ApprovalAction
	// Stats returns the number of user turns and stored messages.
	Stats() (turns, messages int)
}

// EchoResponder answers without a model. It repeats the message back one
// word per token, and understands two commands for exercising the client:
//
//	/tool NAME [text]   wraps the reply in tool_start/tool_end for NAME
//	/confirm TITLE      asks for approval before replying
type EchoResponder struct{}

func (EchoResponder) NewConversation(Customer) Conversation {
	return &echoConversation{}
}

type echoConversation struct {
	mu       sync.Mutex
	turns    int
	messages int
	pending  *chat.ApprovalAction
}

func (c *echoConversation) Reply(ctx context.Context, message string, emit Emit) error {
	c.mu.Lock()
	c.turns++
	c.messages++
	c.mu.Unlock()

	fields := strings.Fields(message)
	switch {
	case len(fields) >= 2 && fields[0] == "/tool":
		tool := fields[1]
		emit(chat.ToolStartEvent(tool))
		err := c.say(ctx, "Looked that up with "+tool+".", emit)
		emit(chat.ToolEndEvent(tool))
		return err
	case len(fields) >= 2 && fields[0] == "/confirm":
		action := chat.ApprovalAction{
			ToolCallID:  "call-1",
			ToolName:    "confirm",
			Title:       strings.Join(fields[1:], " "),
			Description: []string{"Requested via /confirm"},
		}
		c.mu.Lock()
		c.pending = &action
		c.mu.Unlock()
		if err := c.say(ctx, "I need your go-ahead first.", emit); err != nil {
			return err
		}
		emit(chat.Event{Type: chat.EventApprovalRequired, Actions: []chat.ApprovalAction{action}})
		return nil
	default:
		return c.say(ctx, "You said: "+message, emit)
	}
}

func (c *echoConversation) Resume(ctx context.Context, approved bool, emit Emit) error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if pending == nil {
		return ErrNothingPending
	}
	title := pending.Title
	if approved {
		return c.say(ctx, "Done: "+title+".", emit)
	}
	return c.say(ctx, "Okay, I won't "+strings.ToLower(title[:1])+title[1:]+".", emit)
}

func (c *echoConversation) PendingApproval() []chat.ApprovalAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	return []chat.ApprovalAction{*c.pending}
}

func (c *echoConversation) Stats() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turns, c.messages
}

func (c *echoConversation) say(ctx context.Context, text string, emit Emit) error {
	words := strings.SplitAfter(text, " ")
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		emit(chat.TokenEvent(w))
	}
	c.mu.Lock()
	c.messages++
	c.mu.Unlock()
	return nil
}
