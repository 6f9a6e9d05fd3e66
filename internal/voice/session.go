// Package voice handles spoken question and answer sessions over an indexed
// document.
package voice

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound indicates the session does not exist, was cleared,
	// or expired from inactivity.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionBusy indicates a turn is already in progress on the session.
	ErrSessionBusy = errors.New("session busy")
)

// State is a voice session's position in its turn lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingTranscript
	StateRetrieving
	StateAnswering
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingTranscript:
		return "awaiting_transcript"
	case StateRetrieving:
		return "retrieving"
	case StateAnswering:
		return "answering"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Turn is one completed question and answer exchange. ChunkSeqs records
// which retrieved chunks grounded the answer; scripted answers carry none.
type Turn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	ChunkSeqs []int     `json:"chunk_seqs,omitempty"`
	AskedAt   time.Time `json:"asked_at"`
}

// Session is one user's conversation over a document. All mutation goes
// through methods so concurrent turns on different sessions never interfere.
type Session struct {
	mu sync.Mutex

	id           string
	documentID   uuid.UUID
	state        State
	history      []Turn
	maxHistory   int
	currentSlide int // 0 means no slide is showing
	lastActivity time.Time
}

func newSession(id string, documentID uuid.UUID, maxHistory int) *Session {
	return &Session{
		id:           id,
		documentID:   documentID,
		state:        StateIdle,
		maxHistory:   maxHistory,
		lastActivity: time.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// DocumentID returns the document the session is bound to.
func (s *Session) DocumentID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetSlide records which slide the user is viewing. Zero clears it.
func (s *Session) SetSlide(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentSlide = n
	s.lastActivity = time.Now()
}

// CurrentSlide returns the slide the user is viewing, 0 when none.
func (s *Session) CurrentSlide() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSlide
}

// History returns a copy of the completed turns, oldest first.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// expired reports whether the session has been idle past the TTL. A session
// mid-turn is active by definition and never expires.
func (s *Session) expired(ttl time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return false
	}
	return ttl > 0 && now.Sub(s.lastActivity) > ttl
}

// beginTurn moves the session from idle into the turn pipeline. Only one
// turn may be in flight per session.
func (s *Session) beginTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return ErrSessionNotFound
	case StateIdle:
		s.state = StateAwaitingTranscript
		s.lastActivity = time.Now()
		return nil
	default:
		return fmt.Errorf("%w: state %s", ErrSessionBusy, s.state)
	}
}

// advance moves through the in-turn states. Closed is terminal.
func (s *Session) advance(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = to
	s.lastActivity = time.Now()
}

// endTurn returns the session to idle, appending the turn when one
// completed. No-input turns pass nil and leave history untouched.
func (s *Session) endTurn(turn *Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	if turn != nil {
		s.history = append(s.history, *turn)
		if s.maxHistory > 0 && len(s.history) > s.maxHistory {
			s.history = s.history[len(s.history)-s.maxHistory:]
		}
	}
	s.state = StateIdle
	s.lastActivity = time.Now()
}

// close marks the session terminal.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}
