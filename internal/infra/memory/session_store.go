package memory

import (
	"sync"

	"chainquiz-service/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository. It
// indexes sessions by PIN and by quiz address; Reserve is the atomic claim
// used by the PIN generator.
type SessionStore struct {
	mu     sync.RWMutex
	byPIN  map[string]*app.Session
	byQuiz map[string]string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		byPIN:  make(map[string]*app.Session),
		byQuiz: make(map[string]string),
	}
}

func (s *SessionStore) Reserve(pin string, session *app.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byPIN[pin]; ok {
		return false
	}
	s.byPIN[pin] = session
	s.byQuiz[session.QuizAddress()] = pin
	return true
}

func (s *SessionStore) Get(pin string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.byPIN[pin]
	return session, ok
}

func (s *SessionStore) FindByQuiz(quizAddress string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pin, ok := s.byQuiz[quizAddress]
	if !ok {
		return nil, false
	}
	session, ok := s.byPIN[pin]
	return session, ok
}

func (s *SessionStore) Delete(pin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byPIN[pin]
	if !ok {
		return
	}
	delete(s.byPIN, pin)
	if s.byQuiz[session.QuizAddress()] == pin {
		delete(s.byQuiz, session.QuizAddress())
	}
}
