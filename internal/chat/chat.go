package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pearchat/internal/models"
)

// SnapshotStore persists the restart-safe part of a chat under a scope key.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, scope string) (Persisted, bool, error)
	SaveSnapshot(ctx context.Context, scope string, p Persisted) error
	ClearSnapshot(ctx context.Context, scope string) error
}

// Archiver keeps finished transcripts when a new chat is started.
type Archiver interface {
	ArchiveTranscript(ctx context.Context, p Persisted) error
}

// Chat drives one conversation against a Backend. All methods are safe for
// concurrent use; only one session creation and one stream run at a time,
// and a call arriving while either is in flight is dropped rather than
// queued.
type Chat struct {
	backend  Backend
	store    SnapshotStore
	archive  Archiver
	scope    string
	now      func() time.Time
	newID    func() string
	log      *slog.Logger
	initOnce sync.Once

	mu       sync.Mutex
	state    State
	epoch    uint64 // bumped by every reset; streams from an older epoch are ignored
	creating bool
	subs     []func(State)

	notifyMu sync.Mutex
}

type Option func(*Chat)

// WithStore persists snapshots under scope.
func WithStore(store SnapshotStore, scope string) Option {
	return func(c *Chat) {
		c.store = store
		c.scope = scope
	}
}

func WithArchive(a Archiver) Option { return func(c *Chat) { c.archive = a } }

func WithClock(now func() time.Time) Option { return func(c *Chat) { c.now = now } }

func WithIDs(newID func() string) Option { return func(c *Chat) { c.newID = newID } }

func WithLogger(l *slog.Logger) Option { return func(c *Chat) { c.log = l } }

func New(backend Backend, opts ...Option) *Chat {
	c := &Chat{
		backend: backend,
		epoch:   1,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the current state.
func (c *Chat) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn to be called after every state change, in change
// order. fn must not call back into c synchronously.
func (c *Chat) Subscribe(fn func(State)) {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
}

// transition applies fn if epoch still matches (0 means whatever is
// current) and notifies subscribers when fn reports a change.
func (c *Chat) transition(epoch uint64, fn func(State) (State, bool)) bool {
	c.mu.Lock()
	if epoch != 0 && epoch != c.epoch {
		c.mu.Unlock()
		return false
	}
	next, changed := fn(c.state)
	if !changed {
		c.mu.Unlock()
		return false
	}
	c.state = next
	subs := slices.Clone(c.subs)
	c.notifyMu.Lock()
	c.mu.Unlock()

	for _, sub := range subs {
		sub(next)
	}
	c.notifyMu.Unlock()
	return true
}

func (c *Chat) update(fn func(State) State) {
	c.transition(0, func(s State) (State, bool) { return fn(s), true })
}

func (c *Chat) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Chat) save(ctx context.Context) {
	if c.store == nil {
		return
	}
	p := c.Snapshot().Persisted()
	if err := c.store.SaveSnapshot(context.WithoutCancel(ctx), c.scope, p); err != nil {
		c.log.Warn("failed to save chat snapshot", "scope", c.scope, "error", err)
	}
}

// Init restores the persisted snapshot and makes sure a live session
// exists: a stored session is validated and replaced silently if the
// backend no longer knows it. An approval the resumed session is still
// waiting on is asked again. It does its work once per Chat.
func (c *Chat) Init(ctx context.Context) {
	c.initOnce.Do(func() {
		if c.store != nil {
			p, found, err := c.store.LoadSnapshot(ctx, c.scope)
			if err != nil {
				c.log.Warn("failed to load chat snapshot", "scope", c.scope, "error", err)
			} else if found {
				c.update(func(State) State { return Hydrate(p) })
			}
		}

		sessionID := c.Snapshot().SessionID
		if sessionID != "" {
			if c.ValidateSession(ctx, sessionID) {
				c.log.Debug("resumed chat session", "session_id", sessionID)
				if _, err := c.restorePending(ctx, sessionID); err != nil {
					c.log.Warn("failed to restore pending approval", "session_id", sessionID, "error", err)
				}
				return
			}
			c.log.Info("stored chat session is gone, starting a new one", "session_id", sessionID)
			c.reset(ctx)
		}
		_ = c.CreateSession(ctx)
	})
}

// ValidateSession reports whether the backend still has sessionID.
func (c *Chat) ValidateSession(ctx context.Context, sessionID string) bool {
	return c.backend.SessionExists(ctx, sessionID)
}

// CreateSession starts a backend session and appends its welcome message.
// The error is also reflected in State.Error. A call made while another
// creation is in flight does nothing and returns nil; the in-flight one
// still lands in a chat that was reset meanwhile.
func (c *Chat) CreateSession(ctx context.Context) error {
	c.mu.Lock()
	if c.creating {
		c.mu.Unlock()
		return nil
	}
	c.creating = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.creating = false
		c.mu.Unlock()
	}()

	c.update(func(s State) State {
		s = s.WithError("")
		s.IsConnecting = true
		return s
	})

	info, err := c.backend.CreateSession(ctx)
	if err != nil {
		c.log.Error("failed to create chat session", "error", err)
		c.update(func(s State) State {
			s = s.WithError(errorText(err, "Failed to connect"))
			s.IsConnecting = false
			return s
		})
		return err
	}

	adopted := c.transition(0, func(s State) (State, bool) {
		if s.SessionID != "" {
			return s, false
		}
		s = s.AddMessage(Message{
			ID:        c.newID(),
			Role:      models.RoleAssistant,
			Content:   info.WelcomeMessage,
			Timestamp: c.now(),
		})
		s.SessionID = info.SessionID
		s.IsConnecting = false
		return s, true
	})
	if !adopted {
		c.log.Debug("discarded chat session, one is already live", "session_id", info.SessionID)
		return nil
	}
	c.log.Info("chat session created", "session_id", info.SessionID)
	c.save(ctx)
	return nil
}

// restorePending asks the backend whether sessionID waits on an approval
// and, if the local state lost it, puts it back. It reports whether an
// approval is pending afterwards.
func (c *Chat) restorePending(ctx context.Context, sessionID string) (bool, error) {
	actions, err := c.backend.PendingApproval(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if len(actions) > 0 {
		restored := c.transition(0, func(s State) (State, bool) {
			if s.SessionID != sessionID || s.IsStreaming || s.AwaitingApproval() {
				return s, false
			}
			return s.ApplyEvent(Event{Type: EventApprovalRequired, Actions: actions}), true
		})
		if restored {
			c.log.Info("restored pending approval", "session_id", sessionID, "actions", len(actions))
		}
	}
	return c.Snapshot().AwaitingApproval(), nil
}

// Send starts a turn with text and streams the reply into the transcript.
// It returns false without doing anything when there is no session yet,
// another turn is streaming, or text is blank. Failures end up in
// State.Error.
func (c *Chat) Send(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	var sessionID string
	epoch := c.currentEpoch()
	started := c.transition(epoch, func(s State) (State, bool) {
		sessionID = s.SessionID
		return s.BeginTurn(text, c.now(), c.newID)
	})
	if !started {
		return false
	}
	c.save(ctx)
	c.runStream(ctx, epoch, "Failed to send message", func(ctx context.Context) (io.ReadCloser, error) {
		return c.backend.SendMessage(ctx, sessionID, text)
	})
	return true
}

// Approve confirms the pending approval and streams the resumed reply.
func (c *Chat) Approve(ctx context.Context) bool {
	started, _ := c.resolve(ctx, DecisionApproved, "Failed to approve action", c.backend.Approve)
	return started
}

// Reject declines the pending approval and streams the acknowledgment.
func (c *Chat) Reject(ctx context.Context) bool {
	started, _ := c.resolve(ctx, DecisionRejected, "Failed to reject action", c.backend.Reject)
	return started
}

// Decide answers the approval the backend is waiting on with decision,
// which is DecisionApproved or DecisionRejected. Unlike Approve and Reject
// it does not need the approval in local state: a process that never saw
// the request fetches it from the backend first. started reports whether
// the resumed stream ran; err is the stream failure, also in State.Error.
func (c *Chat) Decide(ctx context.Context, decision string) (started bool, err error) {
	var (
		fallback string
		call     func(context.Context, string) (io.ReadCloser, error)
	)
	switch decision {
	case DecisionApproved:
		fallback, call = "Failed to approve action", c.backend.Approve
	case DecisionRejected:
		fallback, call = "Failed to reject action", c.backend.Reject
	default:
		return false, fmt.Errorf("unknown decision %q", decision)
	}

	s := c.Snapshot()
	if s.SessionID == "" {
		return false, ErrNoSession
	}
	if !s.AwaitingApproval() {
		pending, err := c.restorePending(ctx, s.SessionID)
		if err != nil {
			return false, err
		}
		if !pending {
			return false, ErrNothingPending
		}
	}
	return c.resolve(ctx, decision, fallback, call)
}

func (c *Chat) resolve(ctx context.Context, decision, fallback string, call func(context.Context, string) (io.ReadCloser, error)) (bool, error) {
	var sessionID string
	epoch := c.currentEpoch()
	started := c.transition(epoch, func(s State) (State, bool) {
		if s.SessionID == "" || s.IsStreaming {
			return s, false
		}
		sessionID = s.SessionID
		now := c.now()
		next, ok := s.ResolveApproval(decision, now, c.newID)
		if !ok {
			return s, false
		}
		return next.BeginResume(now, c.newID)
	})
	if !started {
		return false, nil
	}
	c.log.Info("approval resolved", "session_id", sessionID, "decision", decision)
	c.save(ctx)
	err := c.runStream(ctx, epoch, fallback, func(ctx context.Context) (io.ReadCloser, error) {
		return call(ctx, sessionID)
	})
	return true, err
}

// runStream opens a stream and applies its events. The turn is always
// ended afterwards, whatever happened while reading. The returned error is
// the one recorded in State.Error.
func (c *Chat) runStream(ctx context.Context, epoch uint64, fallback string, open func(context.Context) (io.ReadCloser, error)) error {
	defer func() {
		if c.transition(epoch, func(s State) (State, bool) { return s.EndTurn(), true }) {
			c.save(ctx)
		}
	}()

	fail := func(err error) {
		c.log.Warn("chat stream failed", "error", err)
		c.transition(epoch, func(s State) (State, bool) {
			return s.WithError(errorText(err, fallback)), true
		})
	}

	body, err := open(ctx)
	if err != nil {
		fail(err)
		return err
	}
	defer body.Close()

	err = Decode(ctx, body, func(ev Event) {
		if ev.Type == EventError {
			c.log.Warn("backend reported an error", "content", ev.Content)
		}
		c.transition(epoch, func(s State) (State, bool) { return s.ApplyEvent(ev), true })
	})
	if err != nil {
		fail(err)
	}
	return err
}

// NewChat archives the current transcript, clears everything and starts a
// fresh session.
func (c *Chat) NewChat(ctx context.Context) error {
	if c.archive != nil {
		p := c.Snapshot().Persisted()
		if hasUserMessage(p.Messages) {
			if err := c.archive.ArchiveTranscript(ctx, p); err != nil {
				c.log.Warn("failed to archive transcript", "session_id", p.SessionID, "error", err)
			}
		}
	}
	c.reset(ctx)
	return c.CreateSession(ctx)
}

func (c *Chat) reset(ctx context.Context) {
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()
	c.update(func(s State) State {
		next := s.Reset()
		next.IsConnecting = c.creating
		return next
	})
	if c.store != nil {
		if err := c.store.ClearSnapshot(context.WithoutCancel(ctx), c.scope); err != nil {
			c.log.Warn("failed to clear chat snapshot", "scope", c.scope, "error", err)
		}
	}
}

func hasUserMessage(msgs []Message) bool {
	return slices.ContainsFunc(msgs, func(m Message) bool { return m.Role == models.RoleUser })
}

func errorText(err error, fallback string) string {
	if err == nil || err.Error() == "" {
		return fallback
	}
	return err.Error()
}
