package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/okian/sugang/internal/adapters/kv"
	"github.com/okian/sugang/internal/adapters/lock"
	"github.com/okian/sugang/internal/adapters/session"
	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestLock(t *testing.T) {
	Convey("Given a lock on a memory keyspace", t, func() {
		ctx := context.Background()
		clock := model.NewManualClock(0)
		l := lock.New(kv.NewMemory(kv.WithClock(clock)), 0)

		So(l.TTL(), ShouldEqual, lock.DefaultTTL)

		Convey("When the lock is taken", func() {
			token, ok, err := l.Acquire(ctx, "alice")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(token, ShouldNotBeEmpty)

			Convey("Then a second acquire fails without blocking", func() {
				_, again, err := l.Acquire(ctx, "alice")
				So(err, ShouldBeNil)
				So(again, ShouldBeFalse)
			})

			Convey("Then other actors are unaffected", func() {
				other, ok, err := l.Acquire(ctx, "bob")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(other, ShouldNotEqual, token)
			})

			Convey("Then release makes it available again and is idempotent", func() {
				So(l.Release(ctx, "alice", token), ShouldBeNil)
				So(l.Release(ctx, "alice", token), ShouldBeNil)
				_, again, _ := l.Acquire(ctx, "alice")
				So(again, ShouldBeTrue)
			})

			Convey("Then the safety TTL frees an abandoned lock", func() {
				clock.Advance(lock.DefaultTTL)
				_, again, _ := l.Acquire(ctx, "alice")
				So(again, ShouldBeTrue)
			})

			Convey("Then a holder that outlived the TTL cannot free the next holder's lock", func() {
				clock.Advance(lock.DefaultTTL)
				next, ok, err := l.Acquire(ctx, "alice")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)

				So(l.Release(ctx, "alice", token), ShouldBeNil)
				_, stolen, _ := l.Acquire(ctx, "alice")
				So(stolen, ShouldBeFalse)

				So(l.Release(ctx, "alice", next), ShouldBeNil)
				_, free, _ := l.Acquire(ctx, "alice")
				So(free, ShouldBeTrue)
			})
		})

		Convey("When many goroutines race for the same actor", func() {
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, ok, _ := l.Acquire(ctx, "carol"); ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			So(wins.Load(), ShouldEqual, 1)
		})

		Convey("When the actor id is invalid", func() {
			_, _, err := l.Acquire(ctx, "a:b")
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given a lock on a redis keyspace", t, func() {
		ctx := context.Background()
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer func() { _ = client.Close() }()
		l := lock.New(kv.NewRedis(client), 2*time.Second)

		token, ok, err := l.Acquire(ctx, "dave")
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)

		Convey("When the TTL lapses and another holder takes the lock", func() {
			mr.FastForward(3 * time.Second)
			next, ok, err := l.Acquire(ctx, "dave")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			Convey("Then the stale release leaves the new token in place", func() {
				So(l.Release(ctx, "dave", token), ShouldBeNil)
				held, err := mr.Get(session.LockKey("dave"))
				So(err, ShouldBeNil)
				So(held, ShouldEqual, next)
			})
		})

		Convey("When the holder releases", func() {
			So(l.Release(ctx, "dave", token), ShouldBeNil)

			Convey("Then the key is gone", func() {
				So(mr.Exists(session.LockKey("dave")), ShouldBeFalse)
			})
		})
	})

	Convey("Given a custom TTL", t, func() {
		l := lock.New(kv.NewMemory(), 3*time.Second)
		So(l.TTL(), ShouldEqual, 3*time.Second)
	})
}
