package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"sb-quiz-service/internal/domain"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Minute)
	ctx := context.Background()

	session, err := domain.NewSession("s1", "tg:1", sampleQuiz(), false, time.Now(), time.Minute)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("quiz:session:tg:1") {
		t.Fatalf("expected redis key to be set")
	}
	if ttl := mr.TTL("quiz:session:tg:1"); ttl != time.Minute {
		t.Fatalf("expected ttl of a minute, got %v", ttl)
	}

	got, ok, err := store.Get(ctx, "tg:1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.ID != "s1" || got.QuestionCount != 1 || len(got.Answers) != 0 {
		t.Fatalf("unexpected session: %+v", got)
	}

	if err := store.Delete(ctx, "tg:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("quiz:session:tg:1") {
		t.Fatalf("expected redis key to be removed")
	}
	if _, ok, err := store.Get(ctx, "tg:1"); ok || err != nil {
		t.Fatalf("expected missing session, ok=%v err=%v", ok, err)
	}
}

func TestSessionStoreRoundTripsTimedOutAnswers(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	ctx := context.Background()

	quiz := sampleQuiz()
	quiz.Questions = append(quiz.Questions, quiz.Questions[0])
	session, _ := domain.NewSession("s1", "web:a", quiz, false, time.Now(), time.Minute)
	session, ok := session.Advance(0, nil, false, time.Now(), time.Minute)
	if !ok {
		t.Fatalf("expected advance to apply")
	}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, _, err := store.Get(ctx, "web:a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Answers) != 1 || got.Answers[0] != nil || got.CurrentQuestionIndex != 1 {
		t.Fatalf("expected one timed-out answer, got %+v", got)
	}
}

func TestSessionStorePurge(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	ctx := context.Background()
	for _, id := range []string{"tg:1", "tg:2", "web:x"} {
		s, _ := domain.NewSession("s-"+id, id, sampleQuiz(), false, time.Now(), time.Minute)
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := mr.Set("quiz:catalog:quiz-1", "{}"); err != nil {
		t.Fatalf("seed unrelated key: %v", err)
	}

	n, err := store.Purge(ctx)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 purged, got %d err=%v", n, err)
	}
	if !mr.Exists("quiz:catalog:quiz-1") {
		t.Fatalf("purge must leave other keys alone")
	}
}

func TestSessionStoreKeepsFinishedSessionsWithoutExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Minute)
	ctx := context.Background()
	now := time.Now()

	session, err := domain.NewSession("s1", "tg:1", sampleQuiz(), false, now, time.Minute)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save: %v", err)
	}

	finished, ok := session.Advance(0, domain.Choice(0), true, now, time.Minute)
	if !ok || !finished.Finished() {
		t.Fatalf("expected the single question to finish the session")
	}
	if err := store.Save(ctx, finished); err != nil {
		t.Fatalf("save finished: %v", err)
	}
	if ttl := mr.TTL("quiz:session:tg:1"); ttl != 0 {
		t.Fatalf("finished session must not expire, got ttl %v", ttl)
	}

	mr.FastForward(time.Hour)
	got, ok, err := store.Get(ctx, "tg:1")
	if err != nil || !ok {
		t.Fatalf("finished session evicted: ok=%v err=%v", ok, err)
	}
	if !got.Finished() || got.Score != 1 {
		t.Fatalf("unexpected session: %+v", got)
	}
}
