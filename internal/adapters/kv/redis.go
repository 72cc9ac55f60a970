package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"

	"github.com/okian/sugang/pkg/logger"
	"github.com/okian/sugang/pkg/metrics"
)

const (
	expiredPattern        = "__keyevent@*__:expired"
	scanCount             = 100
	defaultExpiredBuffer  = 256
	defaultBackoffInitial = 100 * time.Millisecond
	defaultBackoffMax     = 10 * time.Second
)

// Redis is a Keyspace on a Redis server. Expiry events require keyspace
// notifications with at least "Ex" enabled on the server.
type Redis struct {
	client         *redis.Client
	log            logger.Logger
	expiredBuffer  int
	backoffInitial time.Duration
	backoffMax     time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:         client,
		expiredBuffer:  defaultExpiredBuffer,
		backoffInitial: defaultBackoffInitial,
		backoffMax:     defaultBackoffMax,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("kv.redis")
	}
	return r
}

// ConfigureNotifications enables expired-key events on the server.
// Managed Redis offerings often reject CONFIG; callers treat failure as a warning.
func (r *Redis) ConfigureNotifications(ctx context.Context) error {
	if err := r.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		return fmt.Errorf("config set notify-keyspace-events: %w", err)
	}
	return nil
}

func observe(op string, start time.Time) {
	metrics.RecordStoreOp(op, float64(time.Since(start).Microseconds())/1000)
}

// Set implements Keyspace.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	defer observe("set", time.Now())
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// SetNX implements Keyspace.
func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	defer observe("setnx", time.Now())
	if ttl < 0 {
		ttl = 0
	}
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Get implements Keyspace.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	defer observe("get", time.Now())
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

// Del implements Keyspace.
func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	defer observe("del", time.Now())
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// delIfValue deletes KEYS[1] only when it still holds ARGV[1].
var delIfValue = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// DelIfValue implements Keyspace.
func (r *Redis) DelIfValue(ctx context.Context, key, value string) (bool, error) {
	defer observe("del_if_value", time.Now())
	n, err := delIfValue.Run(ctx, r.client, []string{key}, value).Int()
	if err != nil {
		return false, fmt.Errorf("redis del-if-value %s: %w", key, err)
	}
	return n == 1, nil
}

// PTTL implements Keyspace.
func (r *Redis) PTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	defer observe("pttl", time.Now())
	d, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("redis pttl %s: %w", key, err)
	}
	// go-redis passes the raw -2 / -1 sentinels through unscaled.
	switch d {
	case -2:
		return 0, false, nil
	case -1:
		return NoExpiry, true, nil
	}
	return d, true, nil
}

// Keys implements Keyspace using SCAN so large keyspaces are not blocked.
func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	defer observe("scan", time.Now())
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			return dedupeKeys(out), nil
		}
	}
}

// SCAN may return a key more than once.
func dedupeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Expired implements Keyspace. The subscription is re-established with
// exponential backoff whenever it drops.
func (r *Redis) Expired(ctx context.Context) (<-chan string, error) {
	out := make(chan string, r.expiredBuffer)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			ps, err := r.subscribe(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Error(ctx, "expiry subscription gave up", logger.Error(err))
				}
				return
			}
			r.forward(ctx, ps, out)
			_ = ps.Close()
		}
	}()
	return out, nil
}

func (r *Redis) subscribe(ctx context.Context) (*redis.PubSub, error) {
	var ps *redis.PubSub
	operation := func() error {
		ps = r.client.PSubscribe(ctx, expiredPattern)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return err
		}
		return nil
	}

	strategy := backoff.WithContext(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(r.backoffInitial),
			backoff.WithMaxInterval(r.backoffMax),
			backoff.WithMaxElapsedTime(0),
		),
		ctx,
	)

	err := backoff.RetryNotify(operation, strategy, func(err error, d time.Duration) {
		r.log.Warn(ctx, "expiry subscription failed, retrying", logger.Error(err), logger.Duration("next", d))
	})
	if err != nil {
		return nil, fmt.Errorf("psubscribe %s: %w", expiredPattern, err)
	}
	return ps, nil
}

func (r *Redis) forward(ctx context.Context, ps *redis.PubSub, out chan<- string) {
	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if !strings.HasSuffix(msg.Channel, ":expired") {
				continue
			}
			select {
			case out <- msg.Payload:
			default:
				metrics.RecordExpiryDropped()
			}
		}
	}
}
