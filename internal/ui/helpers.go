package ui

import (
	"fmt"
	"strings"
	"time"

	"pearchat/internal/chat"
	"pearchat/internal/models"
	"pearchat/internal/styles"

	"github.com/mattn/go-runewidth"
)

func WrappedLineCount(value string, width int) int {
	if width <= 0 {
		return 1
	}
	lines := strings.Split(value, "\n")
	if len(lines) == 0 {
		return 1
	}
	count := 0
	for _, line := range lines {
		w := runewidth.StringWidth(line)
		if w == 0 {
			count++
			continue
		}
		count += (w-1)/width + 1
	}
	return count
}

func PromptPreview(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.Join(strings.Fields(s), " ")
	const maxRunes = 500
	r := []rune(s)
	if len(r) > maxRunes {
		return string(r[:maxRunes])
	}
	return s
}

func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}

func RelativeTime(t time.Time, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "min")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hr")
	}
	days := int(d.Hours() / 24)
	if days < 14 {
		return plural(days, "day")
	}
	return plural(days/7, "week")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

func FormatUserMessage(content string, width int) string {
	label := styles.UserLabelStyle.Render("YOU")
	msg := styles.UserMsgStyle.Width(max(width-4, 10)).Render(content)
	return fmt.Sprintf("%s\n%s", label, msg)
}

func FormatAIMessage(content string, toolsUsed []string) string {
	label := styles.AiLabelStyle.Render("PEAR GENIUS")
	msg := styles.AiMsgStyle.Render(content)
	if len(toolsUsed) == 0 {
		return fmt.Sprintf("%s\n%s", label, msg)
	}
	actions := make([]models.ToolAction, 0, len(toolsUsed))
	for _, t := range toolsUsed {
		actions = append(actions, models.ToolAction{Name: t, Summary: strings.ToUpper(t)})
	}
	return fmt.Sprintf("%s\n%s\n%s", label, FormatToolActions(actions), msg)
}

func FormatSystemMessage(msg chat.Message) string {
	icon := "✓"
	if msg.Approval != nil && msg.Approval.Decision == chat.DecisionRejected {
		icon = "✗"
	}
	return styles.SystemMsgStyle.Render(fmt.Sprintf("%s %s", icon, msg.Content))
}

func FormatToolActions(actions []models.ToolAction) string {
	var lines []string
	for _, action := range actions {
		icon := styles.ToolIconStyle.Render("→")
		name := styles.ToolNameStyle.Render(action.Summary)
		lines = append(lines, styles.ToolActionStyle.Render(fmt.Sprintf("%s %s", icon, name)))
	}
	return strings.Join(lines, "\n")
}

// FormatApprovalCard renders the pending approval prompt.
func FormatApprovalCard(p *chat.PendingApproval, width int) string {
	var lines []string
	lines = append(lines, styles.ApprovalTitleStyle.Render("Approval needed"))
	for _, a := range p.Actions {
		title := a.Title
		if title == "" {
			title = a.ToolName
		}
		lines = append(lines, styles.ToolNameStyle.Render("• "+title))
		for _, d := range a.Description {
			lines = append(lines, styles.ToolDetailStyle.Render("  "+d))
		}
	}
	lines = append(lines, "", styles.HintStyle.Render("y: approve • n: reject"))
	return styles.ApprovalCardStyle.Width(max(width-4, 20)).Render(strings.Join(lines, "\n"))
}

// ActivityLine describes what the assistant is doing while a turn streams.
func ActivityLine(spinnerView string, activeTools []string) string {
	if len(activeTools) == 0 {
		return spinnerView + " Typing..."
	}
	return spinnerView + " Using " + strings.Join(activeTools, ", ") + "..."
}
