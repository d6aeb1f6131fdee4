package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pearchat/internal/backend"
	"pearchat/internal/config"
	"pearchat/internal/tools"
)

type ServeOptions struct {
	*RootOptions
	Addr      string
	Model     string
	Offline   bool
	Workspace string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a development chat backend",
		Long: `Run a local chat backend speaking the same session and stream protocol
as the production assistant.

With an API key it answers through an OpenAI-compatible model that can use
file tools inside --workspace; writes and commands wait for approval. With
--offline or without a key it echoes messages back, which is enough to
exercise the client. In offline mode "/tool NAME" simulates a tool call and
"/confirm TITLE" asks for approval.

Example:
  pearchat serve --offline
  OPENROUTER_API_KEY=... pearchat serve --addr localhost:8000 --workspace .`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default "+config.DefaultServerAddr+")")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model id (default "+config.DefaultModel+")")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "echo messages instead of calling a model")
	cmd.Flags().StringVar(&opts.Workspace, "workspace", ".", "directory the model's tools may touch")

	return cmd
}

func runServe(parent context.Context, opts *ServeOptions) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: opts.logLevel()})))

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	sc := cfg.Server
	if opts.Addr != "" {
		sc.Addr = opts.Addr
	}
	if opts.Model != "" {
		sc.Model = opts.Model
	}
	sc.Offline = sc.Offline || opts.Offline

	responder, err := newResponder(sc, opts.Workspace)
	if err != nil {
		return err
	}
	server := backend.NewServer(responder, backend.Options{
		AllowedOrigins: sc.AllowedOrigins,
		Logger:         slog.Default(),
	})

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(sc.Addr)
	}()
	slog.Info("starting chat backend", "addr", sc.Addr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return WrapExitError(ExitFailure, "graceful shutdown failed", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error after shutdown", err)
		}
		return nil
	}
}

func newResponder(sc config.ServerConfig, workspace string) (backend.Responder, error) {
	if sc.Offline || sc.APIKey == "" {
		if !sc.Offline {
			slog.Warn("no API key configured, falling back to offline echo mode", "env", config.EnvAPIKey)
		}
		return backend.EchoResponder{}, nil
	}
	toolbox, err := tools.New(workspace)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid workspace", err)
	}
	slog.Info("answering with model", "model", sc.Model, "llm_base_url", sc.LLMBaseURL, "workspace", toolbox.Root)
	return backend.NewOpenAIResponder(sc.APIKey, sc.LLMBaseURL, sc.Model, toolbox), nil
}
