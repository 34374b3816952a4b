package dialogue

import (
	"sync/atomic"
	"time"

	"github.com/agenthands/tsgcopilot/internal/core/continuity"
	"github.com/agenthands/tsgcopilot/internal/core/model"
	"github.com/agenthands/tsgcopilot/internal/core/scheduler"
	"github.com/agenthands/tsgcopilot/internal/core/transcript"
)

// Session is the mutable state of one conversation. A session must only be
// driven by one controller call at a time.
type Session struct {
	ID         string
	Transcript *transcript.Store
	Continuity *continuity.Validator
	Cursor     scheduler.Cursor
	Rounds     int
	// Awaiting is the participant whose empty reply ended the last run.
	Awaiting  string
	CreatedAt time.Time
	UpdatedAt time.Time

	pending     string
	hasPending  bool
	interrupted atomic.Bool
}

func NewSession(id string, classifier *transcript.Classifier) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         id,
		Transcript: transcript.NewStore(classifier),
		Continuity: continuity.NewValidator(nil),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Submit queues a user query for the human proxy to speak.
func (s *Session) Submit(query string) {
	s.pending = query
	s.hasPending = true
}

// TakePending hands out the queued query once.
func (s *Session) TakePending() (string, bool) {
	if !s.hasPending {
		return "", false
	}
	q := s.pending
	s.pending, s.hasPending = "", false
	return q, true
}

// Interrupt asks the controller to hand control to the fallback
// participant before the next turn. Safe for concurrent use.
func (s *Session) Interrupt() {
	s.interrupted.Store(true)
}

func (s *Session) takeInterrupt() bool {
	return s.interrupted.Swap(false)
}

// Memory renders the conversational memory.
func (s *Session) Memory() string {
	return s.Transcript.RenderMemory()
}

// State is the serializable form of a session.
type State struct {
	ID         string              `json:"id"`
	Transcript transcript.Snapshot `json:"transcript"`
	Anchor     *model.Node         `json:"anchor,omitempty"`
	Cursor     scheduler.Cursor    `json:"cursor"`
	Rounds     int                 `json:"rounds"`
	Awaiting   string              `json:"awaiting,omitempty"`
	Pending    *string             `json:"pending,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func (s *Session) State() State {
	st := State{
		ID:         s.ID,
		Transcript: s.Transcript.Snapshot(),
		Anchor:     s.Continuity.Anchor(),
		Cursor:     s.Cursor,
		Rounds:     s.Rounds,
		Awaiting:   s.Awaiting,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
	if s.hasPending {
		p := s.pending
		st.Pending = &p
	}
	return st
}

// Restore rebuilds a session from its persisted state.
func Restore(st State, classifier *transcript.Classifier) *Session {
	s := &Session{
		ID:         st.ID,
		Transcript: transcript.NewStore(classifier),
		Continuity: continuity.NewValidator(st.Anchor),
		Cursor:     st.Cursor,
		Rounds:     st.Rounds,
		Awaiting:   st.Awaiting,
		CreatedAt:  st.CreatedAt,
		UpdatedAt:  st.UpdatedAt,
	}
	s.Transcript.Restore(st.Transcript)
	if st.Pending != nil {
		s.Submit(*st.Pending)
	}
	return s
}
