package practice

import (
	"math/rand/v2"
	"time"

	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/pkg/logger"
)

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the time source for session start times.
func WithClock(clock model.TimeSource) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithSessionTTL sets how long a session lives without an explicit end.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithOffsetRange sets the range the start-to-target offset is drawn from.
func WithOffsetRange(minMs, maxMs int64) Option {
	return func(o *Orchestrator) {
		if minMs >= 0 && maxMs >= minMs {
			o.offsetMin = minMs
			o.offsetMax = maxMs
		}
	}
}

// WithEarlyClickWindow sets how early a click may be and still be recorded.
func WithEarlyClickWindow(window time.Duration) Option {
	return func(o *Orchestrator) {
		if window >= 0 {
			o.earlyWindowMs = window.Milliseconds()
		}
	}
}

// WithSeed makes offsets reproducible.
func WithSeed(seed uint64) Option {
	return func(o *Orchestrator) {
		o.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}
