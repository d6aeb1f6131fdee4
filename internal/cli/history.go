package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pearchat/internal/db"
	"pearchat/internal/models"
	"pearchat/internal/ui"
)

type HistoryOptions struct {
	*RootOptions
	Limit  int
	Offset int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [chat-id]",
		Short: "List archived conversations or print one",
		Long: `List conversations archived by starting a new chat, newest first.
With a chat id, print that conversation.

Example:
  pearchat history
  pearchat history --limit 5 --offset 5
  pearchat history 12`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.DBPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer database.Close()

			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid chat id", err)
				}
				return showChat(cmd, database, id)
			}
			return listChats(cmd, database, opts.Limit, opts.Offset)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", ui.HistoryPageSize, "number of chats to list")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of chats to skip")

	return cmd
}

func listChats(cmd *cobra.Command, database *db.DB, limit, offset int) error {
	total, chats, err := database.RecentChats(cmd.Context(), limit, offset)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list chats", err)
	}
	out := cmd.OutOrStdout()
	if len(chats) == 0 {
		fmt.Fprintln(out, "No past chats yet.")
		return nil
	}

	now := time.Now()
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tMESSAGES\tLAST PROMPT")
	for _, c := range chats {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n",
			c.ID,
			ui.RelativeTime(time.Unix(c.UpdatedAtUnix, 0), now),
			c.MessageCount,
			ui.TruncateRunes(ui.PromptPreview(c.LastUserPrompt), 60),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d of %d chats\n", len(chats), total)
	return nil
}

func showChat(cmd *cobra.Command, database *db.DB, id int64) error {
	msgs, err := database.ChatMessages(cmd.Context(), id)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load chat", err)
	}
	if len(msgs) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("chat %d not found", id))
	}
	printArchived(cmd.OutOrStdout(), msgs)
	return nil
}

func printArchived(out io.Writer, msgs []models.DBMessage) {
	for i, m := range msgs {
		if i > 0 {
			fmt.Fprintln(out)
		}
		label := "Pear Genius"
		switch m.Role {
		case models.RoleUser:
			label = "You"
		case models.RoleSystem:
			label = "System"
		}
		fmt.Fprintf(out, "%s (%s):\n%s\n", label, m.CreatedAt.Local().Format("2006-01-02 15:04"), m.Content)
	}
}
