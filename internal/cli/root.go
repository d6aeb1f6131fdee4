package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pearchat/internal/chat"
	"pearchat/internal/config"
	"pearchat/internal/db"
	"pearchat/internal/ui"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Scope      string
	Verbose    bool
}

// NewRootCommand creates the pearchat command. Without a subcommand it opens
// the terminal chat.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "pearchat",
		Short: "Chat with the Pear Genius support assistant",
		Long: `pearchat talks to a Pear Genius chat backend and streams its replies.

Run it without arguments for the terminal chat. The conversation is kept
per shell, so quitting and starting pearchat again picks it back up.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ~/.config/pearchat/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Scope, "scope", "", "conversation scope key (default: per parent shell)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewDecisionCommand(opts, true))
	cmd.AddCommand(NewDecisionCommand(opts, false))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return GetExitCode(err)
}

func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Scope != "" {
		cfg.Scope = o.Scope
	}
	return cfg, nil
}

func (o *RootOptions) logLevel() slog.Level {
	if o.Verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// openLogFile points the default logger at path. It returns a closer for
// the file; the terminal UI owns stdout and stderr while running.
func (o *RootOptions) openLogFile(path string) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: o.logLevel()})))
	return f, nil
}

// session opens the history database and builds a chat wired to it.
func session(cfg config.Config) (*chat.Chat, *db.DB, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	c := chat.New(chat.NewClient(cfg.BaseURL),
		chat.WithStore(database, cfg.ResolvedScope()),
		chat.WithArchive(database),
		chat.WithLogger(slog.Default()),
	)
	return c, database, nil
}

func runTUI(opts *RootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logFile, err := opts.openLogFile(cfg.LogPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open log file", err)
	}
	defer logFile.Close()

	c, database, err := session(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	slog.Info("starting chat", "base_url", cfg.BaseURL, "scope", cfg.ResolvedScope())
	if _, err := ui.NewProgram(c, database, cfg.ResolvedScope()).Run(); err != nil {
		return WrapExitError(ExitFailure, "terminal UI failed", err)
	}
	return nil
}
