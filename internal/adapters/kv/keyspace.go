// Package kv provides the ephemeral TTL key/value store that backs sessions,
// locks and expiry notifications.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed keyspace.
var ErrClosed = errors.New("keyspace closed")

// NoExpiry is returned by PTTL for keys that exist without a TTL.
const NoExpiry time.Duration = -1

// Keyspace is a string key/value store with per-key TTL and expiry events.
type Keyspace interface {
	// Set writes value under key. A ttl <= 0 stores the key without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes value only if key is absent; reports whether it wrote.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Del removes keys. Missing keys are ignored and never produce expiry events.
	Del(ctx context.Context, keys ...string) error

	// DelIfValue removes key only while it still holds value, atomically.
	// Reports whether it removed the key.
	DelIfValue(ctx context.Context, key, value string) (bool, error)

	// PTTL returns the remaining TTL and whether the key exists.
	// Keys without a TTL report NoExpiry.
	PTTL(ctx context.Context, key string) (time.Duration, bool, error)

	// Keys lists keys matching a glob pattern (* and ?).
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Expired streams names of keys removed by TTL expiry. The channel is
	// closed when ctx is cancelled. Delivery is best effort.
	Expired(ctx context.Context) (<-chan string, error)
}

// Match reports whether key matches a glob pattern where * matches any run
// of characters and ? matches exactly one.
func Match(pattern, key string) bool {
	p, k := 0, 0
	star, mark := -1, 0
	for k < len(key) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == key[k]):
			p++
			k++
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = k
			p++
		case star >= 0:
			p = star + 1
			mark++
			k = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
