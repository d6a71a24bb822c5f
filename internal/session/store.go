// Package session implements the process-local mapping from (user, session id)
// to a backend session, with a secondary lookup by bearer token.
package session

import (
	"sync"
	"sync/atomic"
)

// Session is a named, token-authenticated binding between a user and a single backend engine process.
type Session struct {
	Token string  `json:"token"`
	Addr  *string `json:"addr,omitempty"`
	ID    uint64  `json:"id"`
}

// Store is the capability set the dispatch engine and REST control plane depend on.
//
// All operations are synchronous and safe for concurrent use.
type Store interface {
	CreateSession(user, token string) Session
	GetSession(user string, id uint64) (Session, bool)
	GetSessionByToken(token string) (Session, bool)
	SetSessionAddr(token, addr string)
	ListSessions(user string) []Session
	DeleteSession(user string, id uint64)
}

// InMemoryStore is the default, non-durable Store implementation.
//
// It is a mapping user -> (id -> Session), guarded by a single mutex. The by-token index is
// maintained alongside the primary map so lookups by token don't require a full scan.
type InMemoryStore struct {
	mu         sync.Mutex
	byUser     map[string]map[uint64]Session
	tokenIndex map[string] /* token */ tokenRef
	nextID     atomic.Uint64
}

type tokenRef struct {
	user string
	id   uint64
}

// NewInMemoryStore creates an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byUser:     make(map[string]map[uint64]Session),
		tokenIndex: make(map[string]tokenRef),
	}
}

// CreateSession assigns the next session id, inserts the row, and returns the stored Session.
//
// The caller is responsible for token uniqueness (e.g. by generating a random UUID); this
// method does not itself verify uniqueness, matching spec.md's documented assumption.
func (s *InMemoryStore) CreateSession(user, token string) Session {
	id := s.nextID.Add(1)

	sess := Session{ID: id, Token: token}

	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, ok := s.byUser[user]
	if !ok {
		sessions = make(map[uint64]Session)
		s.byUser[user] = sessions
	}

	sessions[id] = sess
	s.tokenIndex[token] = tokenRef{user: user, id: id}

	return sess
}

// GetSession returns the session for (user, id) if present.
func (s *InMemoryStore) GetSession(user string, id uint64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byUser[user][id]

	return sess, ok
}

// GetSessionByToken returns the session currently holding token, if any user holds it.
func (s *InMemoryStore) GetSessionByToken(token string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.tokenIndex[token]
	if !ok {
		return Session{}, false
	}

	sess, ok := s.byUser[ref.user][ref.id]

	return sess, ok
}

// SetSessionAddr updates addr on the session matching token. It silently no-ops if no
// session currently holds that token (spec.md §4.1, §9: the callback handler does not
// verify the token was issued by this process, so this benign no-op is the safety net).
func (s *InMemoryStore) SetSessionAddr(token, addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.tokenIndex[token]
	if !ok {
		return
	}

	sessions := s.byUser[ref.user]

	sess, ok := sessions[ref.id]
	if !ok {
		return
	}

	sess.Addr = &addr
	sessions[ref.id] = sess
}

// ListSessions returns all sessions for user, in unspecified order.
func (s *InMemoryStore) ListSessions(user string) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.byUser[user]
	result := make([]Session, 0, len(sessions))

	for _, sess := range sessions {
		result = append(result, sess)
	}

	return result
}

// DeleteSession removes the session for (user, id) if present; a no-op otherwise.
func (s *InMemoryStore) DeleteSession(user string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, ok := s.byUser[user]
	if !ok {
		return
	}

	sess, ok := sessions[id]
	if !ok {
		return
	}

	delete(s.tokenIndex, sess.Token)
	delete(sessions, id)
}

var _ Store = (*InMemoryStore)(nil)
