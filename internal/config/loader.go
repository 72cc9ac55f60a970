package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SUGANG_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if SUGANG_CONFIG is set
//  3. env (prefix SUGANG_; a double underscore descends into a section,
//     e.g. SUGANG_REDIS__ADDR -> redis.addr)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first setting that cannot run the service.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.SessionTTLSeconds <= 0:
		return fmt.Errorf("%w: session_ttl_seconds must be positive", ErrInvalidConfig)
	case c.LockTTLSeconds <= 0:
		return fmt.Errorf("%w: lock_ttl_seconds must be positive", ErrInvalidConfig)
	case c.TargetOffsetMinMS < 0 || c.TargetOffsetMaxMS < c.TargetOffsetMinMS:
		return fmt.Errorf("%w: target offset range [%d, %d] is invalid", ErrInvalidConfig, c.TargetOffsetMinMS, c.TargetOffsetMaxMS)
	case c.EarlyClickWindowMS < 0:
		return fmt.Errorf("%w: early_click_window_ms must not be negative", ErrInvalidConfig)
	}

	switch c.Store {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr must be set when store is redis", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}

	switch c.Ranking.Mode {
	case "lognormal", "empirical":
	default:
		return fmt.Errorf("%w: unknown ranking.mode %q", ErrInvalidConfig, c.Ranking.Mode)
	}
	if c.Ranking.Default.Shape <= 0 {
		return fmt.Errorf("%w: ranking.default.shape must be positive", ErrInvalidConfig)
	}
	for name, p := range c.Ranking.Distributions {
		if p.Shape <= 0 {
			return fmt.Errorf("%w: ranking.distributions.%s.shape must be positive", ErrInvalidConfig, name)
		}
	}
	return nil
}
