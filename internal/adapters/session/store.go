// Package session stores active practice sessions in a TTL keyspace.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/sugang/internal/adapters/kv"
	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/pkg/logger"
)

// record is the value stored under a primary session key. Start time and
// offset share one key so they can never expire separately.
type record struct {
	StartTimeMs int64 `json:"startTimeMs"`
	OffsetMs    int64 `json:"offsetMs"`
}

// Store reads and writes sessions. It is safe for concurrent use.
type Store struct {
	keys kv.Keyspace
	log  logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// NewStore creates a Store on keys.
func NewStore(keys kv.Keyspace, opts ...Option) *Store {
	s := &Store{keys: keys}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("session.store")
	}
	return s
}

// Create writes the session with the given TTL.
func (s *Store) Create(ctx context.Context, sess model.Session, ttl time.Duration) error {
	if err := ValidateActorID(sess.ActorID); err != nil {
		return err
	}
	if sess.SessionID == "" {
		return model.NewInvalidInput("session id is required")
	}
	if ttl <= 0 {
		return model.NewInvalidInput("session ttl must be positive")
	}
	data, err := json.Marshal(record{StartTimeMs: sess.StartTimeMs, OffsetMs: sess.StartToTargetOffsetMs})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.keys.Set(ctx, Key(sess.ActorID, sess.SessionID), string(data), ttl); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Get returns the actor's active session. When more than one primary key
// is present the newest by start time wins.
func (s *Store) Get(ctx context.Context, actorID string) (model.Session, bool, error) {
	if err := ValidateActorID(actorID); err != nil {
		return model.Session{}, false, err
	}
	keys, err := s.primaryKeys(ctx, actorID)
	if err != nil {
		return model.Session{}, false, err
	}

	var (
		best  model.Session
		found bool
	)
	for _, key := range keys {
		_, sessionID, _ := ParseKey(key)
		raw, ok, err := s.keys.Get(ctx, key)
		if err != nil {
			return model.Session{}, false, fmt.Errorf("get session: %w", err)
		}
		if !ok {
			continue // expired between scan and read
		}
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.log.Warn(ctx, "skipping malformed session record", logger.Actor(actorID), logger.Session(sessionID), logger.Error(err))
			continue
		}
		if !found || rec.StartTimeMs > best.StartTimeMs {
			best = model.Session{
				ActorID:               actorID,
				SessionID:             sessionID,
				StartTimeMs:           rec.StartTimeMs,
				StartToTargetOffsetMs: rec.OffsetMs,
			}
			found = true
		}
	}
	return best, found, nil
}

// Exists reports whether the actor has an active session.
func (s *Store) Exists(ctx context.Context, actorID string) (bool, error) {
	_, ok, err := s.Get(ctx, actorID)
	return ok, err
}

// Delete removes every primary session key of the actor. The lock key is
// left alone.
func (s *Store) Delete(ctx context.Context, actorID string) error {
	if err := ValidateActorID(actorID); err != nil {
		return err
	}
	keys, err := s.primaryKeys(ctx, actorID)
	if err != nil {
		return err
	}
	if err := s.keys.Del(ctx, keys...); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// RemainingTTL returns the TTL of the actor's active session.
func (s *Store) RemainingTTL(ctx context.Context, actorID string) (time.Duration, bool, error) {
	sess, ok, err := s.Get(ctx, actorID)
	if err != nil || !ok {
		return 0, false, err
	}
	ttl, ok, err := s.keys.PTTL(ctx, Key(actorID, sess.SessionID))
	if err != nil {
		return 0, false, fmt.Errorf("session ttl: %w", err)
	}
	return ttl, ok, nil
}

func (s *Store) primaryKeys(ctx context.Context, actorID string) ([]string, error) {
	all, err := s.keys.Keys(ctx, actorPattern(actorID))
	if err != nil {
		return nil, fmt.Errorf("list session keys: %w", err)
	}
	out := all[:0]
	for _, k := range all {
		if a, _, ok := ParseKey(k); ok && a == actorID {
			out = append(out, k)
		}
	}
	return out, nil
}
