package memory

import (
	"context"
	"testing"
	"time"

	"sb-quiz-service/internal/domain"
)

func TestSessionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	session, err := domain.NewSession("s1", "u1", sampleQuiz(), false, time.Now(), time.Minute)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got, ok, _ := store.Get(ctx, "u1"); !ok || got.ID != "s1" {
		t.Fatalf("expected session present, got %+v ok=%v", got, ok)
	}

	if err := store.Delete(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "u1"); ok {
		t.Fatalf("expected session removed")
	}
}

func TestSessionStoreRejectsInvalidRows(t *testing.T) {
	store := NewSessionStore()
	bad := domain.Session{ID: "s1", UserID: "u1", QuizID: "quiz-1", QuestionCount: 1, CurrentQuestionIndex: 1}
	if err := store.Save(context.Background(), bad); err == nil {
		t.Fatalf("expected invalid session to be rejected")
	}
}

func TestSessionStorePurge(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	for _, id := range []string{"u1", "u2"} {
		s, _ := domain.NewSession("s-"+id, id, sampleQuiz(), false, time.Now(), time.Minute)
		_ = store.Save(ctx, s)
	}
	n, err := store.Purge(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 purged, got %d err=%v", n, err)
	}
	if _, ok, _ := store.Get(ctx, "u1"); ok {
		t.Fatalf("expected no sessions after purge")
	}
}
