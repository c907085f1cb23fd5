// Package bot hosts the per-user conversation state machine that turns
// inbound chat messages into scheduling operations and replies.
package bot

import (
	"sync"
	"time"

	"timemgr/internal/intent"
	appLog "timemgr/internal/log"
	"timemgr/internal/model"
)

// State is the current step of a user's multi-turn dialog.
type State string

const (
	StateIdle               State = "idle"
	StateViewingEvents      State = "viewing_events"
	StateSelectingForUpdate State = "selecting_for_update"
	StateSelectingForDelete State = "selecting_for_delete"
	StateUpdatingEvent      State = "updating_event"
	StateFindingFreeSlots   State = "finding_free_slots"
)

// Session is one user's dialog context. It is created lazily on first
// interaction, mutated in place by the dispatcher, and never shared
// across users. Candidates is the ordered list last shown to the user;
// selection input is 1-based into it.
type Session struct {
	// mu serializes the user's turns: a second message waits until the
	// first turn's transition, external calls included, has completed.
	mu sync.Mutex

	State         State
	Candidates    []model.CalendarEvent
	PendingIntent intent.Intent
	Selected      *model.CalendarEvent

	lastActive time.Time
}

// reset discards all pending dialog context and returns to idle.
func (s *Session) reset() {
	s.State = StateIdle
	s.Candidates = nil
	s.PendingIntent = nil
	s.Selected = nil
}

// SessionStore maps user ids to their sessions. The store lock covers
// creation and lookup only; turn logic runs under the session's own
// lock so distinct users proceed independently.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the user's session, creating an idle one on
// first interaction.
func (st *SessionStore) GetOrCreate(userID string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[userID]; ok {
		return s
	}
	s := &Session{State: StateIdle}
	st.sessions[userID] = s
	appLog.Debug("session created", "user_id", userID)
	return s
}

// Acquire returns the user's session with its turn lock held. Store
// membership is re-checked after locking: a sweep may drop the session
// between lookup and lock, and a turn must never run on an orphaned
// session.
func (st *SessionStore) Acquire(userID string) *Session {
	for {
		s := st.GetOrCreate(userID)
		s.mu.Lock()
		st.mu.Lock()
		live := st.sessions[userID] == s
		st.mu.Unlock()
		if live {
			return s
		}
		s.mu.Unlock()
	}
}

// Release unlocks a session returned by Acquire.
func (st *SessionStore) Release(s *Session) {
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep drops sessions idle for longer than ttl and reports how many
// were removed. Sessions hold no durable state, so dropping one merely
// restarts that user at idle.
func (st *SessionStore) Sweep(now time.Time, ttl time.Duration) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, s := range st.sessions {
		if s.mu.TryLock() {
			idle := now.Sub(s.lastActive) > ttl
			s.mu.Unlock()
			if idle {
				delete(st.sessions, id)
				removed++
			}
		}
	}
	if removed > 0 {
		appLog.Info("sessions swept", "removed", removed, "remaining", len(st.sessions))
	}
	return removed
}
