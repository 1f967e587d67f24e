package rpcserver

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"chatvector/internal/model"
)

// sessionStore tracks sessions minted by initialize (spec §4.9: "per-session
// state is limited to metadata; no streaming state is held across
// requests").
type sessionStore struct {
	mu   sync.RWMutex
	byID map[string]model.Session
	now  func() time.Time
}

func newSessionStore() *sessionStore {
	return &sessionStore{byID: make(map[string]model.Session), now: time.Now}
}

func (s *sessionStore) create(subject string) model.Session {
	now := s.now()
	sess := model.Session{
		SessionID: uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(model.SessionLifetime),
		Subject:   subject,
	}
	s.mu.Lock()
	s.byID[sess.SessionID] = sess
	s.mu.Unlock()
	return sess
}

// validate reports whether sessionID names a live, unexpired session.
func (s *sessionStore) validate(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	s.mu.RLock()
	sess, ok := s.byID[sessionID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if sess.Expired(s.now()) {
		s.mu.Lock()
		delete(s.byID, sessionID)
		s.mu.Unlock()
		return false
	}
	return true
}
