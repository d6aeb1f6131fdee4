package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"pearchat/internal/chat"
)

const streamFailedMessage = "An error occurred processing your request."

// Server is a development chat backend speaking the same session and
// stream protocol as the production assistant.
type Server struct {
	router         chi.Router
	httpServer     *http.Server
	sessions       *Registry
	responder      Responder
	allowedOrigins []string
	log            *slog.Logger
}

type Options struct {
	AllowedOrigins []string
	Logger         *slog.Logger
}

func NewServer(responder Responder, opts Options) *Server {
	s := &Server{
		sessions:       NewRegistry(),
		responder:      responder,
		allowedOrigins: opts.AllowedOrigins,
		log:            opts.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if len(s.allowedOrigins) == 0 {
		s.allowedOrigins = []string{"http://localhost:*"}
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/api/health", s.handleHealth)

	r.Route("/api/chat/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/{id}", s.handleGetSession)
		r.Post("/{id}/messages", s.handleSendMessage)
		r.Post("/{id}/approve", s.handleApprove)
		r.Post("/{id}/reject", s.handleReject)
	})

	s.router = r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "pear-genius"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	customer := testCustomer
	sess := s.sessions.Create(s.responder.NewConversation(customer), customer)
	s.log.Info("session created",
		"session_id", sess.ID,
		"customer_id", customer.ID,
		"customer_tier", customer.Tier,
	)
	writeJSON(w, http.StatusOK, chat.SessionInfo{
		SessionID:      sess.ID,
		WelcomeMessage: sess.Welcome,
	})
}

type sessionInfoResponse struct {
	SessionID       string                `json:"session_id"`
	TurnCount       int                   `json:"turn_count"`
	IsEscalated     bool                  `json:"is_escalated"`
	MessageCount    int                   `json:"message_count"`
	PendingApproval []chat.ApprovalAction `json:"pending_approval,omitempty"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	turns, messages := sess.conv.Stats()
	writeJSON(w, http.StatusOK, sessionInfoResponse{
		SessionID:       sess.ID,
		TurnCount:       turns,
		MessageCount:    messages,
		PendingApproval: sess.conv.PendingApproval(),
	})
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	s.log.Info("turn started", "session_id", sess.ID, "user_message", truncateRunes(req.Message, 120))
	sess.turn.Lock()
	defer sess.turn.Unlock()
	s.stream(w, r, sess, func(ctx context.Context, emit Emit) error {
		return sess.conv.Reply(ctx, req.Message, emit)
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, true)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, false)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, approved bool) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	// A concurrent decision may resolve the approval while this one waits.
	sess.turn.Lock()
	defer sess.turn.Unlock()
	if sess.conv.PendingApproval() == nil {
		writeError(w, http.StatusConflict, ErrNothingPending.Error())
		return
	}
	s.log.Info("approval decision", "session_id", sess.ID, "approved", approved)
	s.stream(w, r, sess, func(ctx context.Context, emit Emit) error {
		return sess.conv.Resume(ctx, approved, emit)
	})
}

// stream runs one turn on the session and writes its events as they come.
// Every stream ends with a done event. The caller holds sess.turn.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, sess *Session, run func(context.Context, Emit) error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	start := time.Now()
	var (
		tokens    int
		toolCalls int
	)
	emit := func(ev chat.Event) {
		switch ev.Type {
		case chat.EventToken:
			tokens += len(ev.Content)
		case chat.EventToolEnd:
			toolCalls++
		}
		writeEvent(w, flusher, ev)
	}

	err := run(r.Context(), emit)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		s.log.Info("client went away mid-stream", "session_id", sess.ID)
		return
	case tokens > 0:
		s.log.Warn("stream error after partial response", "session_id", sess.ID, "error", err)
	default:
		s.log.Error("stream failed", "session_id", sess.ID, "error", err)
		writeEvent(w, flusher, chat.ErrorEvent(streamFailedMessage))
	}

	s.log.Info("stream completed",
		"session_id", sess.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"tool_calls", toolCalls,
		"response_length", tokens,
	)
	writeEvent(w, flusher, chat.DoneEvent())
}

func writeEvent(w io.Writer, flusher http.Flusher, ev chat.Event) {
	_, _ = io.WriteString(w, ev.Line()+"\n")
	flusher.Flush()
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
