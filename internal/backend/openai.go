package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"pearchat/internal/chat"
	"pearchat/internal/tools"
)

// MaxToolIterations bounds model/tool round trips in one turn.
const MaxToolIterations = 15

const systemPrompt = `You are Pear Genius, a friendly support assistant for the Pear store.
You are talking to %s (%s tier). Be concise and helpful.

You can inspect files in the support workspace with ls, read and grep.
write and bash change things and will be confirmed by the customer first;
if an action is rejected, acknowledge it, do not retry, and ask how else you
can help.`

const rejectedToolResult = "Action was rejected by the customer. Do not retry this action. " +
	"Acknowledge the rejection and ask how else you can help."

// OpenAIResponder answers with an OpenAI-compatible chat model, streaming
// tokens as they arrive and running workspace tools between rounds.
type OpenAIResponder struct {
	Client  openai.Client
	Model   string
	Toolbox *tools.Toolbox
	Log     *slog.Logger
}

func NewOpenAIResponder(apiKey, baseURL, model string, toolbox *tools.Toolbox) *OpenAIResponder {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHeader("X-Title", "Pear Genius"),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIResponder{
		Client:  openai.NewClient(opts...),
		Model:   model,
		Toolbox: toolbox,
		Log:     slog.Default(),
	}
}

func (r *OpenAIResponder) NewConversation(customer Customer) Conversation {
	return &openaiConversation{
		r: r,
		history: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(fmt.Sprintf(systemPrompt, customer.Name, customer.Tier)),
		},
	}
}

type openaiConversation struct {
	r *OpenAIResponder

	mu      sync.Mutex
	history []openai.ChatCompletionMessageParamUnion
	turns   int
	pending []openai.ChatCompletionMessageToolCallUnion
}

func (c *openaiConversation) Reply(ctx context.Context, message string, emit Emit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns++
	// a new message abandons any approval still outstanding
	c.rejectPendingLocked()
	c.history = append(c.history, openai.UserMessage(message))
	return c.runLocked(ctx, emit)
}

func (c *openaiConversation) Resume(ctx context.Context, approved bool, emit Emit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return ErrNothingPending
	}
	if !approved {
		c.rejectPendingLocked()
		return c.runLocked(ctx, emit)
	}
	calls := c.pending
	c.pending = nil
	for _, tc := range calls {
		c.executeLocked(ctx, tc, emit)
	}
	return c.runLocked(ctx, emit)
}

func (c *openaiConversation) PendingApproval() []chat.ApprovalAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	return approvalEvent(c.pending).Actions
}

func (c *openaiConversation) Stats() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turns, len(c.history) - 1
}

func (c *openaiConversation) rejectPendingLocked() {
	for _, tc := range c.pending {
		c.history = append(c.history, openai.ToolMessage(rejectedToolResult, tc.ID))
	}
	c.pending = nil
}

// runLocked alternates model rounds and tool execution until the model
// answers without tool calls, asks for approval, or runs out of rounds.
func (c *openaiConversation) runLocked(ctx context.Context, emit Emit) error {
	for iteration := 1; iteration <= MaxToolIterations; iteration++ {
		msg, err := c.completeLocked(ctx, emit)
		if err != nil {
			return err
		}
		c.history = append(c.history, msg.ToParam())
		if len(msg.ToolCalls) == 0 {
			return nil
		}

		var risky []openai.ChatCompletionMessageToolCallUnion
		for _, tc := range msg.ToolCalls {
			if tools.RequiresApproval(tc.Function.Name) {
				risky = append(risky, tc)
			}
		}
		if len(risky) > 0 {
			c.pending = msg.ToolCalls
			emit(approvalEvent(risky))
			return nil
		}

		for _, tc := range msg.ToolCalls {
			c.executeLocked(ctx, tc, emit)
		}
	}
	emit(chat.TokenEvent(fmt.Sprintf("\n\n*[Stopped after %d tool iterations]*", MaxToolIterations)))
	return nil
}

func (c *openaiConversation) completeLocked(ctx context.Context, emit Emit) (openai.ChatCompletionMessage, error) {
	stream := c.r.Client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    c.r.Model,
		Messages: c.history,
		Tools:    tools.Definitions,
	})
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			emit(chat.TokenEvent(chunk.Choices[0].Delta.Content))
		}
	}
	if err := stream.Err(); err != nil {
		return openai.ChatCompletionMessage{}, err
	}
	if len(acc.Choices) == 0 {
		return openai.ChatCompletionMessage{}, errors.New("empty response from model")
	}
	return acc.Choices[0].Message, nil
}

func (c *openaiConversation) executeLocked(ctx context.Context, tc openai.ChatCompletionMessageToolCallUnion, emit Emit) {
	name := tc.Function.Name
	emit(chat.ToolStartEvent(name))
	result, err := c.r.Toolbox.Execute(ctx, name, tc.Function.Arguments)
	if err != nil {
		result = fmt.Sprintf("error: %v", err)
	}
	c.r.Log.Info("tool call completed", "tool", name, "failed", err != nil)
	c.history = append(c.history, openai.ToolMessage(result, tc.ID))
	emit(chat.ToolEndEvent(name))
}

func approvalEvent(calls []openai.ChatCompletionMessageToolCallUnion) chat.Event {
	actions := make([]chat.ApprovalAction, 0, len(calls))
	for _, tc := range calls {
		actions = append(actions, chat.ApprovalAction{
			ToolCallID:  tc.ID,
			ToolName:    tc.Function.Name,
			Title:       tools.Title(tc.Function.Name, tc.Function.Arguments),
			Description: tools.Details(tc.Function.Name, tc.Function.Arguments),
		})
	}
	return chat.Event{Type: chat.EventApprovalRequired, Actions: actions}
}
