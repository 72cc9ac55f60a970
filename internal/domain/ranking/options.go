package ranking

import (
	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/pkg/logger"
)

// Option applies a configuration option to the Model.
type Option func(*Model)

// WithMode sets the percentile mode. Unknown modes are ignored.
func WithMode(mode Mode) Option {
	return func(m *Model) {
		switch mode {
		case ModeLogNormal, ModeEmpirical:
			m.mode = mode
		}
	}
}

// WithDefaultParams sets the fallback distribution.
func WithDefaultParams(p Params) Option {
	return func(m *Model) {
		if p.Shape > 0 {
			m.defaults = p
		}
	}
}

// WithDistributions sets classification-specific distributions.
func WithDistributions(byClass map[string]Params) Option {
	return func(m *Model) {
		// Copy so callers can't mutate the table after construction
		m.byClass = make(map[string]Params, len(byClass))
		for class, p := range byClass {
			if p.Shape > 0 {
				m.byClass[class] = p
			}
		}
	}
}

// WithLatencySource sets where Refresh reads historical latencies from.
func WithLatencySource(src LatencySource) Option {
	return func(m *Model) {
		m.source = src
	}
}

// WithMaxSamples caps how many latencies a snapshot holds.
func WithMaxSamples(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.maxSamples = n
		}
	}
}

// WithClock sets the clock used to stamp snapshots.
func WithClock(clock model.TimeSource) Option {
	return func(m *Model) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets the model logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Model) {
		if l != nil {
			m.log = l
		}
	}
}
