// Package lock implements the per-actor mutual exclusion used by session start.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/sugang/internal/adapters/kv"
	"github.com/okian/sugang/internal/adapters/session"
)

// DefaultTTL bounds how long a crashed holder can block an actor.
const DefaultTTL = 10 * time.Second

// Lock is a non-blocking keyspace lock keyed by actor id. Each successful
// Acquire writes a fresh token, and only the holder of that token can
// release it.
type Lock struct {
	keys  kv.Keyspace
	ttl   time.Duration
	token func() string
}

// New creates a Lock. A ttl <= 0 uses DefaultTTL.
func New(keys kv.Keyspace, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lock{keys: keys, ttl: ttl, token: uuid.NewString}
}

// Acquire tries once to take the actor's lock. On success it returns the
// token to pass to Release.
func (l *Lock) Acquire(ctx context.Context, actorID string) (string, bool, error) {
	if err := session.ValidateActorID(actorID); err != nil {
		return "", false, err
	}
	token := l.token()
	ok, err := l.keys.SetNX(ctx, session.LockKey(actorID), token, l.ttl)
	if err != nil {
		return "", false, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the actor's lock if token still holds it. A lock that
// expired or was taken over by another holder is left alone, so releasing
// is idempotent.
func (l *Lock) Release(ctx context.Context, actorID, token string) error {
	if _, err := l.keys.DelIfValue(ctx, session.LockKey(actorID), token); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// TTL returns the lock's safety expiry.
func (l *Lock) TTL() time.Duration { return l.ttl }
