package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pearchat/internal/chat"
	"pearchat/internal/models"
)

type SendOptions struct {
	*RootOptions
	New bool
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and print the reply",
		Long: `Send one message in the current conversation and print the streamed reply.

The conversation is the same one the terminal chat shows for this scope.

Example:
  pearchat send "where is my order?"
  pearchat send --new "I need help with my laptop"`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var prepare func(context.Context, *chat.Chat) error
			if opts.New {
				prepare = func(ctx context.Context, c *chat.Chat) error { return c.NewChat(ctx) }
			}
			return runOneShot(cmd.Context(), opts.RootOptions, cmd.OutOrStdout(), prepare, func(ctx context.Context, c *chat.Chat) (bool, error) {
				return c.Send(ctx, strings.Join(args, " ")), nil
			})
		},
	}

	cmd.Flags().BoolVar(&opts.New, "new", false, "archive the current conversation and start a new one first")

	return cmd
}

// NewDecisionCommand creates the approve or reject command.
func NewDecisionCommand(rootOpts *RootOptions, approve bool) *cobra.Command {
	use, short := "reject", "Reject the action the assistant is waiting on"
	if approve {
		use, short = "approve", "Approve the action the assistant is waiting on"
	}
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd.Context(), rootOpts, cmd.OutOrStdout(), nil, func(ctx context.Context, c *chat.Chat) (bool, error) {
				decision := chat.DecisionRejected
				if approve {
					decision = chat.DecisionApproved
				}
				started, err := c.Decide(ctx, decision)
				var re *chat.RequestError
				if errors.Is(err, chat.ErrNothingPending) || (errors.As(err, &re) && re.Status == http.StatusConflict) {
					return false, NewExitError(ExitCommandError, chat.ErrNothingPending.Error())
				}
				if !started && err != nil {
					return false, WrapExitError(ExitFailure, "failed to "+use, err)
				}
				return started, nil
			})
		},
	}
}

// runOneShot restores the scoped conversation, runs prepare (if any) and then
// fn, and prints every message fn added.
func runOneShot(ctx context.Context, opts *RootOptions, out io.Writer, prepare func(context.Context, *chat.Chat) error, fn func(context.Context, *chat.Chat) (bool, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	c, database, err := session(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	c.Init(ctx)
	if s := c.Snapshot(); s.SessionID == "" {
		return NewExitError(ExitFailure, errorOr(s.Error, "no chat session"))
	}

	if prepare != nil {
		if err := prepare(ctx, c); err != nil {
			return NewExitError(ExitFailure, errorOr(c.Snapshot().Error, err.Error()))
		}
	}

	before := len(c.Snapshot().Messages)
	started, err := fn(ctx, c)
	if err != nil {
		return err
	}
	s := c.Snapshot()
	if !started {
		return NewExitError(ExitFailure, errorOr(s.Error, "message was not sent"))
	}

	printMessages(out, s.Messages[min(before, len(s.Messages)):])
	if s.PendingApproval != nil {
		printApproval(out, s.PendingApproval)
	}
	if s.Error != "" {
		return NewExitError(ExitFailure, s.Error)
	}
	return nil
}

func printMessages(out io.Writer, msgs []chat.Message) {
	for _, m := range msgs {
		switch m.Role {
		case models.RoleAssistant:
			if len(m.ToolsUsed) > 0 {
				fmt.Fprintf(out, "[tools: %s]\n", strings.Join(m.ToolsUsed, ", "))
			}
			if m.Content != "" {
				fmt.Fprintln(out, m.Content)
			}
		case models.RoleSystem:
			fmt.Fprintf(out, "* %s\n", m.Content)
		}
	}
}

func printApproval(out io.Writer, p *chat.PendingApproval) {
	fmt.Fprintln(out, "\nApproval needed:")
	for _, a := range p.Actions {
		title := a.Title
		if title == "" {
			title = a.ToolName
		}
		fmt.Fprintf(out, "  - %s\n", title)
		for _, d := range a.Description {
			fmt.Fprintf(out, "      %s\n", d)
		}
	}
	fmt.Fprintln(out, "Run `pearchat approve` or `pearchat reject`.")
}

func errorOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
