package expiry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/sugang/internal/adapters/kv"
	"github.com/okian/sugang/internal/adapters/session"
	"github.com/okian/sugang/internal/domain/expiry"
	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type recorder struct {
	mu     sync.Mutex
	seen   []model.Expiry
	notify chan struct{}
	fail   map[string]error
	panics map[string]bool
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 16), fail: map[string]error{}, panics: map[string]bool{}}
}

func (r *recorder) HandleExpired(_ context.Context, e model.Expiry) error {
	r.mu.Lock()
	r.seen = append(r.seen, e)
	r.mu.Unlock()
	r.notify <- struct{}{}
	if r.panics[e.ActorID] {
		panic("boom")
	}
	return r.fail[e.ActorID]
}

func (r *recorder) wait(n int) []model.Expiry {
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-r.notify:
		case <-deadline:
			i = n
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Expiry(nil), r.seen...)
}

func TestNotifier(t *testing.T) {
	_ = logger.Init()

	Convey("Given a notifier on a memory keyspace", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		clock := model.NewManualClock(0)
		keys := kv.NewMemory(kv.WithClock(clock))
		rec := newRecorder()
		n := expiry.NewNotifier(keys, rec)

		done := make(chan error, 1)
		go func() { done <- n.Run(ctx) }()
		// Run subscribes asynchronously; give it a moment before expiring keys.
		time.Sleep(20 * time.Millisecond)

		Convey("When a session key and a lock key expire", func() {
			_ = keys.Set(ctx, session.Key("alice", "s-1"), "{}", time.Second)
			_ = keys.Set(ctx, session.LockKey("alice"), "1", time.Second)
			_ = keys.Set(ctx, "unrelated", "x", time.Second)
			clock.Advance(time.Second)
			keys.Sweep()

			Convey("Then only the session expiry reaches the handler", func() {
				seen := rec.wait(1)
				So(seen, ShouldResemble, []model.Expiry{{ActorID: "alice", SessionID: "s-1"}})
			})
		})

		Convey("When a session is deleted explicitly", func() {
			_ = keys.Set(ctx, session.Key("bob", "s-2"), "{}", time.Second)
			_ = keys.Del(ctx, session.Key("bob", "s-2"))
			clock.Advance(time.Second)
			keys.Sweep()

			Convey("Then the handler is not called", func() {
				time.Sleep(20 * time.Millisecond)
				So(rec.wait(0), ShouldBeEmpty)
			})
		})

		Convey("When the handler fails or panics", func() {
			rec.fail["carol"] = errors.New("db down")
			rec.panics["dave"] = true
			_ = keys.Set(ctx, session.Key("carol", "s-3"), "{}", time.Second)
			_ = keys.Set(ctx, session.Key("dave", "s-4"), "{}", time.Second)
			_ = keys.Set(ctx, session.Key("erin", "s-5"), "{}", 2*time.Second)
			clock.Advance(time.Second)
			keys.Sweep()
			rec.wait(2)
			clock.Advance(time.Second)
			keys.Sweep()

			Convey("Then the loop keeps running", func() {
				seen := rec.wait(1)
				So(seen, ShouldHaveLength, 3)
				So(seen[2], ShouldResemble, model.Expiry{ActorID: "erin", SessionID: "s-5"})
			})
		})

		Convey("When the context is cancelled", func() {
			cancel()

			Convey("Then Run returns cleanly", func() {
				select {
				case err := <-done:
					So(err, ShouldBeNil)
				case <-time.After(2 * time.Second):
					So("timeout", ShouldBeEmpty)
				}
			})
		})
	})
}
