package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"chainquiz-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuizStore is the backing store for quiz definitions (e.g. a document DB).
type QuizStore interface {
	LoadQuiz(ctx context.Context, address string) (domain.Quiz, error)
	StoreQuiz(ctx context.Context, quiz domain.Quiz) error
}

// QuizRepository caches quiz definitions with TTL to avoid repeated store
// hits on the submission path.
type QuizRepository struct {
	store QuizStore
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizRepository(store QuizStore, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		store: store,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]cachedQuiz),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, address string) (domain.Quiz, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[address]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.quiz, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(address, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[address]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.quiz, nil
		}
		r.mu.RUnlock()

		quiz, err := r.store.LoadQuiz(ctx, address)
		if err != nil {
			return domain.Quiz{}, err
		}

		r.mu.Lock()
		r.cache[address] = cachedQuiz{
			quiz:      quiz,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (r *QuizRepository) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	if err := r.store.StoreQuiz(ctx, quiz); err != nil {
		return err
	}
	r.mu.Lock()
	r.cache[quiz.Address] = cachedQuiz{
		quiz:      quiz,
		expiresAt: r.clock().Add(r.ttlWithJitter()),
	}
	r.mu.Unlock()
	return nil
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// MapQuizStore is a QuizStore backed by an in-memory map, useful for tests,
// demos, and deployments without Postgres.
type MapQuizStore struct {
	mu      sync.RWMutex
	quizzes map[string]domain.Quiz
}

func NewMapQuizStore(quizzes map[string]domain.Quiz) *MapQuizStore {
	if quizzes == nil {
		quizzes = make(map[string]domain.Quiz)
	}
	return &MapQuizStore{quizzes: quizzes}
}

func (s *MapQuizStore) LoadQuiz(_ context.Context, address string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if quiz, ok := s.quizzes[address]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func (s *MapQuizStore) StoreQuiz(_ context.Context, quiz domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Quiz definitions are immutable; storing the same address again is a
	// no-op rather than an edit.
	if _, ok := s.quizzes[quiz.Address]; !ok {
		s.quizzes[quiz.Address] = quiz
	}
	return nil
}
