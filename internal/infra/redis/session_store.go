package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sb-quiz-service/internal/domain"
)

const sessionPrefix = "quiz:session:"

// SessionStore keeps live sessions in Redis as JSON under quiz:session:{userID}.
// The TTL only bounds how long an orphaned session lingers; the engine's timers
// decide when a question expires. A finished session is awaiting a confirmed result
// write, so it is kept without expiry until completion deletes it or Purge runs.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Get(ctx context.Context, userID string) (domain.Session, bool, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, false, fmt.Errorf("decode session %s: %w", userID, err)
	}
	return session, true, nil
}

func (s *SessionStore) Save(ctx context.Context, session domain.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	ttl := s.ttl
	if session.Finished() {
		ttl = 0
	}
	return s.client.Set(ctx, s.key(session.UserID), raw, ttl).Err()
}

func (s *SessionStore) Delete(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.key(userID)).Err()
}

// Purge removes every session key. It scans instead of using KEYS so large
// keyspaces are walked incrementally.
func (s *SessionStore) Purge(ctx context.Context) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, sessionPrefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *SessionStore) key(userID string) string {
	return sessionPrefix + userID
}
