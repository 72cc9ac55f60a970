package worker

import (
	"time"

	"github.com/okian/sugang/pkg/logger"
)

// Option applies a configuration option to a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger; workers derive named loggers from it.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRetry sets how many times a failed reconcile is retried and the
// initial backoff between tries.
func WithRetry(maxRetries uint64, initial time.Duration) Option {
	return func(p *Pool) {
		p.maxRetries = maxRetries
		if initial > 0 {
			p.retryInitial = initial
		}
	}
}
