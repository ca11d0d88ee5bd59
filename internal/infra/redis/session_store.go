package redis

import (
	"context"
	"sync"
	"time"

	"chainquiz-service/internal/app"
	"github.com/redis/go-redis/v9"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Sessions themselves stay in a local map so the in-process timer and
//     broadcast machinery keeps working; Redis holds the PIN reservations.
//   - SETNX on the PIN key makes Reserve atomic across instances, so two
//     servers can never hand out the same PIN concurrently.
//   - For true multi-instance rooms you'd pair this with a pub/sub projector
//     that fans out room events.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
	byPIN  map[string]*app.Session
	byQuiz map[string]string
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		ttl:    ttl,
		byPIN:  make(map[string]*app.Session),
		byQuiz: make(map[string]string),
	}
}

func (s *SessionStore) Reserve(pin string, session *app.Session) bool {
	ok, err := s.client.SetNX(context.Background(), s.key(pin), session.QuizAddress(), s.ttl).Result()
	if err == nil && !ok {
		// Taken by another instance.
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byPIN[pin]; exists {
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
	_ = s.client.Del(context.Background(), s.key(pin)).Err()
}

func (s *SessionStore) key(pin string) string {
	return "quiz:session:" + pin
}
