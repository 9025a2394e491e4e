package chat

import (
	"sync"
	"time"
)

// Defaults for the session store bounds.
const (
	defaultMaxSessions = 64
	defaultIdleTimeout = 30 * time.Minute
)

// session is one document's conversation history. The first message is
// always the system seed carrying the document content.
type session struct {
	lastUsed time.Time
	messages []Message
}

// sessionStore keeps per-document conversations in memory, bounded two
// ways: sessions idle past the timeout are dropped on access, and when the
// store is full the least recently used session is evicted to admit a new
// one. Histories are never persisted.
type sessionStore struct {
	mu          sync.Mutex
	sessions    map[int]*session
	maxSessions int
	idleTimeout time.Duration
	now         func() time.Time
}

func newSessionStore(maxSessions int, idleTimeout time.Duration) *sessionStore {
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &sessionStore{
		sessions:    make(map[int]*session),
		maxSessions: maxSessions,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// history returns a copy of the document's conversation, or nil when no
// live session exists. An expired session counts as absent.
func (s *sessionStore) history(documentID int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep()
	sess, ok := s.sessions[documentID]
	if !ok {
		return nil
	}
	sess.lastUsed = s.now()
	history := make([]Message, len(sess.messages))
	copy(history, sess.messages)
	return history
}

// put replaces the document's conversation, evicting the least recently
// used session if the store is full.
func (s *sessionStore) put(documentID int, messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep()
	if _, ok := s.sessions[documentID]; !ok && len(s.sessions) >= s.maxSessions {
		s.evictOldest()
	}
	s.sessions[documentID] = &session{
		messages: messages,
		lastUsed: s.now(),
	}
}

// drop removes the document's conversation.
func (s *sessionStore) drop(documentID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, documentID)
}

// sweep drops sessions idle past the timeout. Callers hold the lock.
func (s *sessionStore) sweep() {
	cutoff := s.now().Add(-s.idleTimeout)
	for id, sess := range s.sessions {
		if sess.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

// evictOldest removes the least recently used session. Callers hold the lock.
func (s *sessionStore) evictOldest() {
	var (
		oldestID int
		oldest   time.Time
		found    bool
	)
	for id, sess := range s.sessions {
		if !found || sess.lastUsed.Before(oldest) {
			oldestID, oldest, found = id, sess.lastUsed, true
		}
	}
	if found {
		delete(s.sessions, oldestID)
	}
}
