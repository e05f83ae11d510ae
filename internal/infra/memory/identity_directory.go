package memory

import (
	"context"
	"errors"
	"sync"

	"sb-quiz-service/internal/app"
	"sb-quiz-service/internal/domain"
)

var errUnknownUser = errors.New("identity not known")

// IdentityDirectory remembers identities adapters saw on incoming requests and falls
// back to an external resolver for users it has not seen.
type IdentityDirectory struct {
	mu       sync.RWMutex
	known    map[string]domain.Identity
	fallback app.IdentityResolver
}

func NewIdentityDirectory(fallback app.IdentityResolver) *IdentityDirectory {
	return &IdentityDirectory{known: make(map[string]domain.Identity), fallback: fallback}
}

// Remember stores the latest identity seen for userID.
func (d *IdentityDirectory) Remember(userID string, identity domain.Identity) {
	if identity.Username == "" && identity.DisplayName == "" {
		return
	}
	d.mu.Lock()
	d.known[userID] = identity
	d.mu.Unlock()
}

// SetFallback replaces the resolver used for unknown users.
func (d *IdentityDirectory) SetFallback(fallback app.IdentityResolver) {
	d.mu.Lock()
	d.fallback = fallback
	d.mu.Unlock()
}

func (d *IdentityDirectory) ResolveIdentity(ctx context.Context, userID string) (domain.Identity, error) {
	d.mu.RLock()
	identity, ok := d.known[userID]
	fallback := d.fallback
	d.mu.RUnlock()
	if ok {
		return identity, nil
	}
	if fallback == nil {
		return domain.Identity{}, errUnknownUser
	}
	return fallback.ResolveIdentity(ctx, userID)
}
