package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pearchat/internal/models"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("m%d", n)
	}
}

func streamingState(t *testing.T) State {
	t.Helper()
	s, ok := State{SessionID: "s1"}.BeginTurn("where is my order?", fixedNow, seqIDs())
	require.True(t, ok)
	return s
}

func countStreaming(s State) int {
	n := 0
	for _, m := range s.Messages {
		if m.IsStreaming {
			n++
		}
	}
	return n
}

func TestBeginTurn(t *testing.T) {
	s := streamingState(t)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, models.RoleUser, s.Messages[0].Role)
	assert.Equal(t, "where is my order?", s.Messages[0].Content)
	assert.Equal(t, models.RoleAssistant, s.Messages[1].Role)
	assert.True(t, s.Messages[1].IsStreaming)
	assert.Empty(t, s.Messages[1].Content)
	assert.True(t, s.IsStreaming)

	t.Run("refused while streaming", func(t *testing.T) {
		next, ok := s.BeginTurn("again", fixedNow, seqIDs())
		assert.False(t, ok)
		assert.Len(t, next.Messages, 2)
	})

	t.Run("refused without session", func(t *testing.T) {
		_, ok := State{}.BeginTurn("hi", fixedNow, seqIDs())
		assert.False(t, ok)
	})

	t.Run("clears previous error", func(t *testing.T) {
		next, ok := State{SessionID: "s1", Error: "Failed to send message"}.BeginTurn("hi", fixedNow, seqIDs())
		require.True(t, ok)
		assert.Empty(t, next.Error)
	})
}

func TestTransitionsLeaveReceiverUntouched(t *testing.T) {
	s := streamingState(t)
	_ = s.ApplyEvent(TokenEvent("hello"))
	_ = s.ApplyEvent(ToolStartEvent("search"))
	_ = s.EndTurn()
	assert.Empty(t, s.Messages[1].Content)
	assert.Empty(t, s.ActiveTools)
	assert.True(t, s.Messages[1].IsStreaming)
}

func TestTranscriptAppendOnly(t *testing.T) {
	newID := seqIDs()
	s := State{SessionID: "s1"}.AddMessage(Message{ID: newID(), Role: models.RoleAssistant, Content: "hi", Timestamp: fixedNow})

	type ident struct {
		id, role string
		ts       time.Time
	}
	var seen []ident
	check := func(s State) {
		require.GreaterOrEqual(t, len(s.Messages), len(seen))
		for i, prev := range seen {
			m := s.Messages[i]
			require.Equal(t, prev, ident{m.ID, m.Role, m.Timestamp}, "message %d changed", i)
		}
		seen = seen[:0]
		for _, m := range s.Messages {
			seen = append(seen, ident{m.ID, m.Role, m.Timestamp})
		}
	}
	check(s)

	for turn := 0; turn < 3; turn++ {
		var ok bool
		s, ok = s.BeginTurn(fmt.Sprintf("question %d", turn), fixedNow.Add(time.Duration(turn)*time.Minute), newID)
		require.True(t, ok)
		check(s)
		for _, ev := range []Event{TokenEvent("a"), ToolStartEvent("lookup"), TokenEvent("b"), ToolEndEvent("lookup"), ErrorEvent(""), DoneEvent()} {
			s = s.ApplyEvent(ev)
			check(s)
		}
		s = s.EndTurn()
		check(s)
		assert.LessOrEqual(t, countStreaming(s), 1)
		assert.Zero(t, countStreaming(s))
	}
	assert.Len(t, s.Messages, 7)
}

func TestApplyToken(t *testing.T) {
	s := streamingState(t)
	s = s.ApplyEvent(TokenEvent("Your order "))
	s = s.ApplyEvent(TokenEvent(""))
	s = s.ApplyEvent(TokenEvent("shipped."))
	last, _ := s.LastMessage()
	assert.Equal(t, "Your order shipped.", last.Content)

	t.Run("ignored when last message is not the assistant", func(t *testing.T) {
		s := State{SessionID: "s1"}.AddMessage(Message{ID: "u", Role: models.RoleUser, Content: "q"})
		next := s.ApplyEvent(TokenEvent("stray"))
		assert.Equal(t, "q", next.Messages[0].Content)
		assert.Len(t, next.Messages, 1)
	})

	t.Run("ignored on empty transcript", func(t *testing.T) {
		assert.Empty(t, State{}.ApplyEvent(TokenEvent("x")).Messages)
	})
}

func TestToolLifecycle(t *testing.T) {
	s := streamingState(t)
	s = s.ApplyEvent(ToolStartEvent("search"))
	assert.Equal(t, []string{"search"}, s.ActiveTools)

	s = s.ApplyEvent(ToolStartEvent("search"))
	assert.Equal(t, []string{"search"}, s.ActiveTools, "duplicate start")

	s = s.ApplyEvent(ToolEndEvent("search"))
	assert.Empty(t, s.ActiveTools)

	s = s.EndTurn()
	assert.Empty(t, s.ActiveTools)
	last, _ := s.LastMessage()
	assert.Equal(t, []string{"search"}, last.ToolsUsed)
}

func TestToolEndUnknownAndEmpty(t *testing.T) {
	s := streamingState(t).ApplyEvent(ToolStartEvent("a"))
	s = s.ApplyEvent(ToolEndEvent("b"))
	assert.Equal(t, []string{"a"}, s.ActiveTools)
	s = s.ApplyEvent(ToolStartEvent(""))
	assert.Equal(t, []string{"a"}, s.ActiveTools)
}

func TestEndTurnClearsDanglingTools(t *testing.T) {
	s := streamingState(t).ApplyEvent(ToolStartEvent("a")).ApplyEvent(ToolStartEvent("b"))
	s = s.EndTurn()
	assert.Empty(t, s.ActiveTools)
	assert.False(t, s.IsStreaming)
	assert.Equal(t, []string{"a", "b"}, s.Messages[1].ToolsUsed)
}

func TestEndTurnScansBackToAssistant(t *testing.T) {
	s := streamingState(t)
	s.Messages = append(s.Messages, Message{ID: "sys", Role: models.RoleSystem, Content: "note"})
	s = s.EndTurn()
	assert.False(t, s.Messages[1].IsStreaming)
	assert.Zero(t, countStreaming(s))
}

func TestApplyError(t *testing.T) {
	s := streamingState(t).ApplyEvent(ErrorEvent("Order service unavailable"))
	assert.Equal(t, "Order service unavailable", s.Error)

	s = streamingState(t).ApplyEvent(ErrorEvent(""))
	assert.Equal(t, "An error occurred", s.Error)
}

func TestDoneAndUnknownAreNoops(t *testing.T) {
	s := streamingState(t).ApplyEvent(TokenEvent("x"))
	assert.Equal(t, s, s.ApplyEvent(DoneEvent()))
	assert.Equal(t, s, s.ApplyEvent(Event{Type: "heartbeat"}))
}

func TestApprovalFlow(t *testing.T) {
	action := ApprovalAction{ToolCallID: "call-1", ToolName: "refund", Title: "Refund order #42"}
	s := streamingState(t).ApplyEvent(Event{Type: EventApprovalRequired, Actions: []ApprovalAction{action}})
	require.True(t, s.AwaitingApproval())
	s = s.EndTurn()
	require.True(t, s.AwaitingApproval(), "approval survives the end of the turn")

	next, ok := s.ResolveApproval(DecisionRejected, fixedNow, seqIDs())
	require.True(t, ok)
	assert.False(t, next.AwaitingApproval())
	last, _ := next.LastMessage()
	assert.Equal(t, models.RoleSystem, last.Role)
	assert.Equal(t, "Rejected: Refund order #42", last.Content)
	require.NotNil(t, last.Approval)
	assert.Equal(t, DecisionRejected, last.Approval.Decision)
	assert.Equal(t, []ApprovalAction{action}, last.Approval.Actions)

	resumed, ok := next.BeginResume(fixedNow, seqIDs())
	require.True(t, ok)
	assert.Len(t, resumed.Messages, len(next.Messages)+1)
	assert.True(t, resumed.IsStreaming)

	t.Run("nothing pending", func(t *testing.T) {
		_, ok := State{SessionID: "s1"}.ResolveApproval(DecisionApproved, fixedNow, seqIDs())
		assert.False(t, ok)
	})

	t.Run("empty actions ignored", func(t *testing.T) {
		s := streamingState(t).ApplyEvent(Event{Type: EventApprovalRequired})
		assert.False(t, s.AwaitingApproval())
	})

	t.Run("title falls back to tool name", func(t *testing.T) {
		s := State{SessionID: "s1", PendingApproval: &PendingApproval{Actions: []ApprovalAction{{ToolName: "bash"}, {Title: "Write notes.txt"}}}}
		next, ok := s.ResolveApproval(DecisionApproved, fixedNow, seqIDs())
		require.True(t, ok)
		last, _ := next.LastMessage()
		assert.Equal(t, "Approved: bash, Write notes.txt", last.Content)
	})
}

func TestResetAndHydrate(t *testing.T) {
	s := streamingState(t).ApplyEvent(TokenEvent("partial")).ApplyEvent(ToolStartEvent("t"))
	assert.Equal(t, State{}, s.Reset())

	p := s.Persisted()
	assert.Equal(t, "s1", p.SessionID)
	require.Len(t, p.Messages, 2)
	assert.True(t, p.Messages[1].IsStreaming)

	h := Hydrate(p)
	assert.Equal(t, "s1", h.SessionID)
	assert.Zero(t, countStreaming(h))
	assert.False(t, h.IsStreaming)
	assert.Empty(t, h.ActiveTools)
	assert.Equal(t, "partial", h.Messages[1].Content)
	assert.True(t, p.Messages[1].IsStreaming, "hydrate copies")
}
