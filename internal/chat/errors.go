package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNoStream is returned when a response carries no body to read.
	ErrNoStream = errors.New("no response stream")
	// ErrNoSession is returned by Decide before a session exists.
	ErrNoSession = errors.New("no chat session")
	// ErrNothingPending is returned by Decide when no approval awaits a
	// decision, locally or on the backend.
	ErrNothingPending = errors.New("nothing is waiting for approval")
)

// SessionCreateError reports a rejected session-creation call.
type SessionCreateError struct {
	Status int
}

func (e *SessionCreateError) Error() string {
	return fmt.Sprintf("failed to create session: %d", e.Status)
}

// RequestError reports a non-2xx response from a session action.
type RequestError struct {
	Op     string // "get session", "send message", "approve action", "reject action"
	Status int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("failed to %s: %d", e.Op, e.Status)
}
