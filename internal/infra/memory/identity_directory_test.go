package memory

import (
	"context"
	"testing"

	"sb-quiz-service/internal/app"
	"sb-quiz-service/internal/domain"
)

func TestIdentityDirectoryPrefersRememberedIdentity(t *testing.T) {
	lookups := 0
	dir := NewIdentityDirectory(app.IdentityResolverFunc(func(ctx context.Context, userID string) (domain.Identity, error) {
		lookups++
		return domain.Identity{Username: "remote", DisplayName: "Remote"}, nil
	}))

	dir.Remember("tg:1", domain.Identity{Username: "alice", DisplayName: "Alice"})
	got, err := dir.ResolveIdentity(context.Background(), "tg:1")
	if err != nil || got.Username != "alice" {
		t.Fatalf("expected remembered identity, got %+v err=%v", got, err)
	}
	if lookups != 0 {
		t.Fatalf("expected no fallback lookup, got %d", lookups)
	}

	got, err = dir.ResolveIdentity(context.Background(), "tg:2")
	if err != nil || got.Username != "remote" || lookups != 1 {
		t.Fatalf("expected fallback identity, got %+v err=%v lookups=%d", got, err, lookups)
	}
}

func TestIdentityDirectoryWithoutFallback(t *testing.T) {
	dir := NewIdentityDirectory(nil)
	if _, err := dir.ResolveIdentity(context.Background(), "web:x"); err == nil {
		t.Fatalf("expected unknown user error")
	}
}
