package service

import (
	"github.com/go-redis/redis/v8"

	"github.com/okian/sugang/internal/adapters/kv"
	"github.com/okian/sugang/internal/config"
	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. A nil config keeps the defaults.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source shared by every component.
func WithClock(clock model.TimeSource) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithKeyspace injects the ephemeral store instead of building one from
// the config. A *kv.Memory still gets its sweeper started.
func WithKeyspace(keys kv.Keyspace) Option {
	return func(s *Service) {
		if keys != nil {
			s.keys = keys
		}
	}
}

// WithRedisClient reuses an existing client when the store is redis.
// The service does not close an injected client.
func WithRedisClient(client *redis.Client) Option {
	return func(s *Service) {
		if client != nil {
			s.redisClient = client
		}
	}
}
