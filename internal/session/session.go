// Package session holds the per-connection conversation state: whose turn it
// is, the pinned language pair, the emotion collection window and the turn
// history.
package session

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/window"
)

// Session is owned by exactly one connection (or the local listen loop).
type Session struct {
	ID        string
	CreatedAt time.Time

	state   *State
	window  *window.Aggregator
	history *History
	busy    atomic.Bool
}

// New creates a session. An empty id gets a random UUID.
func New(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		state:     NewState(),
		window:    window.New(),
		history:   NewHistory(DefaultHistorySize),
	}
}

// State returns the turn-taking state.
func (s *Session) State() *State { return s.state }

// Window returns the session's emotion collection window.
func (s *Session) Window() *window.Aggregator { return s.window }

// History returns committed turns.
func (s *Session) History() *History { return s.history }

// BeginTurn claims the session for one turn. A second claim while a turn is
// running fails with TURN_IN_PROGRESS. Call the returned func when done.
func (s *Session) BeginTurn() (func(), error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, apperrors.New(apperrors.CodeTurnInProgress, "a turn is already being processed")
	}
	return func() { s.busy.Store(false) }, nil
}

// InTurn reports whether a turn is running.
func (s *Session) InTurn() bool { return s.busy.Load() }

// Close releases the collection window. Pending summaries are discarded.
func (s *Session) Close() {
	s.window.Close()
}
