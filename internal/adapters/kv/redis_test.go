package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/okian/sugang/internal/adapters/kv"
	"github.com/okian/sugang/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func newRedisKeyspace(t *testing.T) (*miniredis.Miniredis, *kv.Redis) {
	t.Helper()
	if err := logger.Init(); err != nil {
		t.Fatalf("logger init: %v", err)
	}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, kv.NewRedis(client, kv.WithResubscribeBackoff(10*time.Millisecond, 50*time.Millisecond))
}

func TestRedisKeyspace(t *testing.T) {
	Convey("Given a redis keyspace", t, func() {
		ctx := context.Background()
		mr, r := newRedisKeyspace(t)

		Convey("When a key is set with a TTL", func() {
			So(r.Set(ctx, "session:a:1", `{"startTimeMs":1}`, 5*time.Second), ShouldBeNil)

			Convey("Then it is readable and reports its TTL", func() {
				v, ok, err := r.Get(ctx, "session:a:1")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, `{"startTimeMs":1}`)

				ttl, ok, err := r.PTTL(ctx, "session:a:1")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(ttl, ShouldBeGreaterThan, 4*time.Second)
			})

			Convey("Then it disappears after the TTL", func() {
				mr.FastForward(6 * time.Second)
				_, ok, err := r.Get(ctx, "session:a:1")
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)

				_, ok, err = r.PTTL(ctx, "session:a:1")
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When a key has no TTL", func() {
			So(r.Set(ctx, "plain", "v", 0), ShouldBeNil)
			ttl, ok, err := r.PTTL(ctx, "plain")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(ttl, ShouldEqual, kv.NoExpiry)
		})

		Convey("When SetNX is called twice", func() {
			first, err := r.SetNX(ctx, "session:a:lock", "1", 10*time.Second)
			So(err, ShouldBeNil)
			second, err := r.SetNX(ctx, "session:a:lock", "1", 10*time.Second)
			So(err, ShouldBeNil)
			So(first, ShouldBeTrue)
			So(second, ShouldBeFalse)
		})

		Convey("When scanning keys", func() {
			for _, k := range []string{"session:a:1", "session:a:2", "session:b:1"} {
				So(r.Set(ctx, k, "", time.Minute), ShouldBeNil)
			}
			keys, err := r.Keys(ctx, "session:a:*")
			So(err, ShouldBeNil)
			So(keys, ShouldHaveLength, 2)
			So(keys, ShouldContain, "session:a:1")
			So(keys, ShouldContain, "session:a:2")

			So(r.Del(ctx, keys...), ShouldBeNil)
			keys, err = r.Keys(ctx, "session:a:*")
			So(err, ShouldBeNil)
			So(keys, ShouldBeEmpty)
		})

		Convey("When an expired-key event is published", func() {
			subCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			events, err := r.Expired(subCtx)
			So(err, ShouldBeNil)

			deadline := time.Now().Add(2 * time.Second)
			for mr.PubSubNumPat() == 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			So(mr.PubSubNumPat(), ShouldEqual, 1)

			mr.Publish("__keyevent@0__:expired", "session:a:1")

			Convey("Then the key name is delivered", func() {
				select {
				case key := <-events:
					So(key, ShouldEqual, "session:a:1")
				case <-time.After(2 * time.Second):
					So("timeout", ShouldBeEmpty)
				}
			})
		})
	})
}

func TestRedisDelIfValue(t *testing.T) {
	Convey("Given a redis key held with a token", t, func() {
		ctx := context.Background()
		mr, r := newRedisKeyspace(t)
		So(r.Set(ctx, "session:a:lock", "t1", time.Second), ShouldBeNil)

		Convey("Then a different value leaves it in place", func() {
			ok, err := r.DelIfValue(ctx, "session:a:lock", "t0")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
			So(mr.Exists("session:a:lock"), ShouldBeTrue)
		})

		Convey("Then the matching value removes it", func() {
			ok, err := r.DelIfValue(ctx, "session:a:lock", "t1")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(mr.Exists("session:a:lock"), ShouldBeFalse)
		})

		Convey("Then a missing key reports nothing removed", func() {
			ok, err := r.DelIfValue(ctx, "session:b:lock", "t1")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})
	})
}
