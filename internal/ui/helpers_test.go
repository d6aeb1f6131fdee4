package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pearchat/internal/chat"
)

func TestWrappedLineCount(t *testing.T) {
	assert.Equal(t, 1, WrappedLineCount("", 10))
	assert.Equal(t, 1, WrappedLineCount("hello", 10))
	assert.Equal(t, 2, WrappedLineCount(strings.Repeat("x", 11), 10))
	assert.Equal(t, 3, WrappedLineCount("a\n\nb", 10))
	assert.Equal(t, 2, WrappedLineCount("梨梨梨梨梨梨", 10), "wide runes count double")
	assert.Equal(t, 1, WrappedLineCount("anything", 0))
}

func TestPromptPreview(t *testing.T) {
	assert.Equal(t, "where is my order", PromptPreview("  where is\r\n my   order \n"))
	assert.Len(t, []rune(PromptPreview(strings.Repeat("é", 600))), 500)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", TruncateRunes("short", 10))
	assert.Equal(t, "pear…", TruncateRunes("pearphone", 5))
	assert.Equal(t, "…", TruncateRunes("pearphone", 1))
	assert.Equal(t, "", TruncateRunes("pearphone", 0))
	assert.Equal(t, "🍐🍐…", TruncateRunes("🍐🍐🍐🍐", 3))
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := map[time.Duration]string{
		10 * time.Second:    "just now",
		time.Minute:         "1 min ago",
		45 * time.Minute:    "45 mins ago",
		3 * time.Hour:       "3 hrs ago",
		24 * time.Hour:      "1 day ago",
		5 * 24 * time.Hour:  "5 days ago",
		21 * 24 * time.Hour: "3 weeks ago",
	}
	for ago, want := range cases {
		assert.Equal(t, want, RelativeTime(now.Add(-ago), now), ago.String())
	}
	assert.Equal(t, "2 mins ago", RelativeTime(now.Add(2*time.Minute), now), "clock skew")
}

func TestActivityLine(t *testing.T) {
	assert.Equal(t, "* Typing...", ActivityLine("*", nil))
	assert.Equal(t, "* Using lookup_order, refund...", ActivityLine("*", []string{"lookup_order", "refund"}))
}

func TestFormatting(t *testing.T) {
	out := FormatAIMessage("Your order shipped.", []string{"lookup_order"})
	assert.Contains(t, out, "PEAR GENIUS")
	assert.Contains(t, out, "LOOKUP_ORDER")
	assert.Contains(t, out, "Your order shipped.")

	assert.Contains(t, FormatSystemMessage(chat.Message{
		Content:  "Rejected: Refund",
		Approval: &chat.ApprovalRecord{Decision: chat.DecisionRejected},
	}), "✗ Rejected: Refund")
	assert.Contains(t, FormatSystemMessage(chat.Message{Content: "Approved: Refund"}), "✓ Approved: Refund")

	card := FormatApprovalCard(&chat.PendingApproval{Actions: []chat.ApprovalAction{
		{ToolName: "bash", Description: []string{"rm -rf build"}},
		{ToolName: "write", Title: "Write notes.txt"},
	}}, 60)
	assert.Contains(t, card, "Approval needed")
	assert.Contains(t, card, "• bash")
	assert.Contains(t, card, "rm -rf build")
	assert.Contains(t, card, "• Write notes.txt")
	assert.Contains(t, card, "y: approve")
}
