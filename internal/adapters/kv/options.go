package kv

import (
	"time"

	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/pkg/logger"
)

// MemoryOption configures a Memory keyspace.
type MemoryOption func(*Memory)

// WithClock sets the time source used for TTL bookkeeping.
func WithClock(clock model.TimeSource) MemoryOption {
	return func(m *Memory) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithSweepInterval sets how often Run sweeps expired keys.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithSubscriberBuffer sets the channel size handed to Expired subscribers.
func WithSubscriberBuffer(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.subscriberBuffer = n
		}
	}
}

// RedisOption configures a Redis keyspace.
type RedisOption func(*Redis)

// WithExpiredBuffer sets the channel size handed to Expired subscribers.
func WithExpiredBuffer(n int) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.expiredBuffer = n
		}
	}
}

// WithResubscribeBackoff bounds the retry interval used when the expiry
// subscription has to be re-established.
func WithResubscribeBackoff(initial, maxInterval time.Duration) RedisOption {
	return func(r *Redis) {
		if initial > 0 && maxInterval >= initial {
			r.backoffInitial = initial
			r.backoffMax = maxInterval
		}
	}
}

// WithRedisLogger sets the logger used by the subscription loop.
func WithRedisLogger(l logger.Logger) RedisOption {
	return func(r *Redis) {
		if l != nil {
			r.log = l
		}
	}
}
