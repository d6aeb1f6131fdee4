package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Customer is who a session is talking to. Authentication is not wired up,
// so every session gets the same test customer.
type Customer struct {
	ID    string
	Name  string
	Email string
	Tier  string
}

var testCustomer = Customer{
	ID:    "cust-010",
	Name:  "Jennifer Martinez",
	Email: "jennifer.martinez@email.com",
	Tier:  "plus",
}

func welcomeMessage(c Customer) string {
	return fmt.Sprintf("Hello %s! I'm Pear Genius, your personal support assistant. "+
		"I can help you with orders, returns, warranty questions, troubleshooting, "+
		"and more. How can I assist you today?", c.Name)
}

// Session is one conversation held by the server.
type Session struct {
	ID        string
	Customer  Customer
	Welcome   string
	CreatedAt time.Time

	// turn serializes streams on the session; a second request waits for
	// the first to finish.
	turn sync.Mutex
	conv Conversation
}

// Registry is the in-memory session table.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Create(conv Conversation, customer Customer) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Customer:  customer,
		Welcome:   welcomeMessage(customer),
		CreatedAt: time.Now(),
		conv:      conv,
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
