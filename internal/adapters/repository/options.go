package repository

import "github.com/okian/sugang/internal/domain/model"

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithClock sets the clock used for created/updated timestamps.
func WithClock(clock model.TimeSource) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}
