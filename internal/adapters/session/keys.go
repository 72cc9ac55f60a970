package session

import (
	"strings"

	"github.com/okian/sugang/internal/domain/model"
)

const keyPrefix = "session:"

// Suffixes under session:{actor}: that are not primary session keys.
var reservedSuffixes = map[string]struct{}{
	"lock":      {},
	"startTime": {},
	"offset":    {},
}

// Key returns the primary key holding a session record.
func Key(actorID, sessionID string) string {
	return keyPrefix + actorID + ":" + sessionID
}

// LockKey returns the key used for the per-actor start lock.
func LockKey(actorID string) string {
	return keyPrefix + actorID + ":lock"
}

func actorPattern(actorID string) string {
	return keyPrefix + actorID + ":*"
}

// ParseKey extracts actor and session ids from a primary session key.
// Lock keys and other reserved keys are rejected.
func ParseKey(key string) (actorID, sessionID string, ok bool) {
	rest, found := strings.CutPrefix(key, keyPrefix)
	if !found {
		return "", "", false
	}
	actorID, sessionID, found = strings.Cut(rest, ":")
	if !found || actorID == "" || sessionID == "" || strings.Contains(sessionID, ":") {
		return "", "", false
	}
	if _, reserved := reservedSuffixes[sessionID]; reserved {
		return "", "", false
	}
	return actorID, sessionID, true
}

// ValidateActorID rejects ids that would break the key scheme or act as a
// glob when listing an actor's keys.
func ValidateActorID(actorID string) error {
	if actorID == "" {
		return model.NewInvalidInput("actor id is required")
	}
	if strings.ContainsAny(actorID, ":*?[]\\") {
		return model.NewInvalidInput("actor id %q contains reserved characters", actorID)
	}
	return nil
}
