package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"sb-quiz-service/internal/domain"
)

// QuizLoader fetches quiz content from a backing store (YAML catalog, Postgres).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	LoadQuizzes(ctx context.Context) ([]domain.Quiz, error)
}

// QuizRepository caches quizzes in Redis as JSON and falls back to a loader on a miss.
// Quizzes are stored as:  SET quiz:catalog:{quizID} <json quiz>
// The catalog list as:    SET quiz:catalog:_all     <json []quiz>
// The cache is best-effort: a Redis failure is treated as a miss.
type QuizRepository struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewQuizRepository(client *redis.Client, loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	key := quizKey(quizID)
	var quiz domain.Quiz
	if r.readCache(ctx, key, &quiz) {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		var cached domain.Quiz
		if r.readCache(ctx, key, &cached) {
			return cached, nil
		}

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		r.writeCache(ctx, map[string]interface{}{key: quiz})
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (r *QuizRepository) ListQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	var quizzes []domain.Quiz
	if r.readCache(ctx, listKey, &quizzes) {
		return quizzes, nil
	}

	result, err, _ := r.sf.Do(listKey, func() (interface{}, error) {
		quizzes, err := r.loader.LoadQuizzes(ctx)
		if err != nil {
			return nil, err
		}
		entries := map[string]interface{}{listKey: quizzes}
		for _, q := range quizzes {
			entries[quizKey(q.ID)] = q
		}
		r.writeCache(ctx, entries)
		return quizzes, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Quiz), nil
}

// Invalidate drops the cached copy of a quiz and the catalog list.
func (r *QuizRepository) Invalidate(ctx context.Context, quizID string) error {
	return r.client.Del(ctx, quizKey(quizID), listKey).Err()
}

func (r *QuizRepository) readCache(ctx context.Context, key string, dst interface{}) bool {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (r *QuizRepository) writeCache(ctx context.Context, entries map[string]interface{}) {
	ttl := r.ttlWithJitter()
	pipe := r.client.Pipeline()
	for key, value := range entries {
		raw, err := json.Marshal(value)
		if err != nil {
			continue
		}
		pipe.Set(ctx, key, raw, ttl)
	}
	_, _ = pipe.Exec(ctx)
}

const listKey = "quiz:catalog:_all"

func quizKey(quizID string) string {
	return "quiz:catalog:" + quizID
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
