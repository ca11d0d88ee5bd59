package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"chainquiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuizStore is the backing store for quiz definitions (e.g. Postgres).
type QuizStore interface {
	LoadQuiz(ctx context.Context, address string) (domain.Quiz, error)
	StoreQuiz(ctx context.Context, quiz domain.Quiz) error
}

// QuizRepository caches full quiz definitions as JSON in Redis and falls
// back to the backing store on a miss.
// Definitions are stored as: SET quiz:{address}:def {json} EX ttl
type QuizRepository struct {
	client *redis.Client
	store  QuizStore
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuizRepository(client *redis.Client, store QuizStore, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		store:  store,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, address string) (domain.Quiz, error) {
	if quiz, ok := r.cached(ctx, address); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(address, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if quiz, ok := r.cached(ctx, address); ok {
			return quiz, nil
		}

		quiz, err := r.store.LoadQuiz(ctx, address)
		if err != nil {
			return domain.Quiz{}, err
		}
		r.fill(ctx, quiz)
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
	r.fill(ctx, quiz)
	return nil
}

func (r *QuizRepository) cached(ctx context.Context, address string) (domain.Quiz, bool) {
	raw, err := r.client.Get(ctx, r.defKey(address)).Bytes()
	if err != nil || len(raw) == 0 {
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, false
	}
	return quiz, true
}

// fill is best-effort: a cache write failure only costs a later store hit.
func (r *QuizRepository) fill(ctx context.Context, quiz domain.Quiz) {
	raw, err := json.Marshal(quiz)
	if err != nil {
		return
	}
	_ = r.client.Set(ctx, r.defKey(quiz.Address), raw, r.ttlWithJitter()).Err()
}

func (r *QuizRepository) defKey(address string) string {
	return "quiz:" + address + ":def"
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
