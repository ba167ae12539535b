// Package registry enforces the one-active-capture-session rule.
package registry

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"capit/src/core"
)

// ErrBusy is returned when a capture request arrives while a session is
// already active. Interactive sessions are user-attention-bound, so the
// request is rejected immediately rather than queued.
var ErrBusy = errors.New("a capture session is already active")

// Outcome is the terminal state a session ended in.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Session identifies one in-flight interactive capture.
type Session struct {
	ID        string
	Mode      core.Mode
	StartedAt time.Time
}

// Registry tracks at most one active session per daemon process. The event
// loop is the single writer; the lock covers status queries from tests and
// diagnostics.
type Registry struct {
	mu     sync.Mutex
	active *Session
}

// New returns an empty registry.
func New() *Registry { return &Registry{} }

// TryBegin registers a new session, or returns ErrBusy while one is active.
func (r *Registry) TryBegin(mode core.Mode) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return Session{}, ErrBusy
	}
	s := Session{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now(),
	}
	r.active = &s
	return s, nil
}

// End removes the session with the given id. Ending an unknown or already
// ended session is a programming error; it is logged and ignored so a stray
// double-end can never tear down a newer session.
func (r *Registry) End(id string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil || r.active.ID != id {
		log.Printf("registry: ignoring End(%s, %s) for inactive session", id, outcome)
		return
	}
	log.Printf("registry: session %s ended: %s (mode=%s, took %s)",
		id, outcome, r.active.Mode, time.Since(r.active.StartedAt).Round(time.Millisecond))
	r.active = nil
}

// Active returns the current session, if any.
func (r *Registry) Active() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return Session{}, false
	}
	return *r.active, true
}
