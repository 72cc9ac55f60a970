package practice_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/sugang/internal/adapters/kv"
	"github.com/okian/sugang/internal/adapters/lock"
	"github.com/okian/sugang/internal/adapters/repository"
	"github.com/okian/sugang/internal/adapters/session"
	"github.com/okian/sugang/internal/domain/leaderboard"
	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/internal/domain/practice"
	"github.com/okian/sugang/internal/domain/ranking"
	"github.com/okian/sugang/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

// gatedSessions blocks the first Get until released, holding Start inside
// its critical section.
type gatedSessions struct {
	practice.SessionStore
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedSessions) Get(ctx context.Context, actorID string) (model.Session, bool, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
	}
	return g.SessionStore.Get(ctx, actorID)
}

// failingCreate makes session creation fail.
type failingCreate struct {
	practice.SessionStore
}

func (failingCreate) Create(context.Context, model.Session, time.Duration) error {
	return errors.New("keyspace unavailable")
}

// failingDelete makes session removal fail.
type failingDelete struct {
	practice.SessionStore
}

func (failingDelete) Delete(context.Context, string) error {
	return errors.New("keyspace unavailable")
}

type fixture struct {
	clock    *model.ManualClock
	keys     *kv.Memory
	sessions *session.Store
	lock     *lock.Lock
	store    *repository.Store
	agg      *leaderboard.Aggregator
	deps     practice.Deps
	orch     *practice.Orchestrator
}

func newFixture(t *testing.T, opts ...practice.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{clock: model.NewManualClock(1_700_000_000_000)}
	f.keys = kv.NewMemory(kv.WithClock(f.clock))
	f.sessions = session.NewStore(f.keys)
	f.lock = lock.New(f.keys, 10*time.Second)

	var err error
	f.store, err = repository.Open(ctx, filepath.Join(t.TempDir(), "practice.db"), repository.WithClock(f.clock))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = f.store.Close() })
	for _, subj := range []model.Subject{
		{ID: "CS101", Name: "Intro to Programming", Classification: "major", Capacity: 40, Competitors: 400},
		{ID: "AR100", Name: "Drawing", Classification: "liberal_arts", Capacity: 30, Competitors: 60},
	} {
		if err := f.store.UpsertSubject(ctx, subj); err != nil {
			t.Fatalf("seed subject: %v", err)
		}
	}

	f.agg = leaderboard.New(f.store)
	f.deps = practice.Deps{
		Sessions:   f.sessions,
		Lock:       f.lock,
		Attempts:   f.store,
		Catalog:    f.store,
		Reconciler: f.agg,
		Ranker:     ranking.New(ranking.WithDistributions(map[string]ranking.Params{"major": {Scale: 4.6, Shape: 0.45}})),
	}
	var n atomic.Int32
	base := []practice.Option{
		practice.WithClock(f.clock),
		practice.WithSessionTTL(300 * time.Second),
		practice.WithOffsetRange(3000, 10000),
		practice.WithEarlyClickWindow(5 * time.Second),
		practice.WithSeed(7),
		practice.WithIDGenerator(func() string { return fmt.Sprintf("sess-%d", n.Add(1)) }),
	}
	f.orch = practice.New(f.deps, append(base, opts...)...)
	return f
}

func TestStart(t *testing.T) {
	_ = logger.Init()

	Convey("Given an orchestrator", t, func() {
		ctx := context.Background()
		f := newFixture(t)

		Convey("When an actor starts a session", func() {
			sess, err := f.orch.Start(ctx, "alice")
			So(err, ShouldBeNil)

			Convey("Then the session is stored with a bounded offset", func() {
				So(sess.SessionID, ShouldEqual, "sess-1")
				So(sess.StartTimeMs, ShouldEqual, f.clock.NowMillis())
				So(sess.StartToTargetOffsetMs, ShouldBeBetweenOrEqual, 3000, 10000)

				got, ok, err := f.sessions.Get(ctx, "alice")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(got, ShouldResemble, sess)
			})

			Convey("Then the lock is released afterwards", func() {
				_, ok, err := f.lock.Acquire(ctx, "alice")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			})

			Convey("Then starting again replaces it after reconciling", func() {
				_, err := f.orch.Attempt(ctx, "alice", "CS101", 80)
				So(err, ShouldBeNil)

				next, err := f.orch.Start(ctx, "alice")
				So(err, ShouldBeNil)
				So(next.SessionID, ShouldEqual, "sess-2")

				reconciled, err := f.store.IsReconciled(ctx, sess.SessionID)
				So(err, ShouldBeNil)
				So(reconciled, ShouldBeTrue)

				keys, _ := f.keys.Keys(ctx, "session:alice:*")
				So(keys, ShouldResemble, []string{session.Key("alice", "sess-2")})
			})

			Convey("Then the session expires after its TTL", func() {
				f.clock.Advance(300 * time.Second)
				_, err := f.orch.Status(ctx, "alice")
				So(errors.Is(err, model.ErrNoActiveSession), ShouldBeTrue)
			})
		})

		Convey("When two starts for one actor overlap", func() {
			gate := &gatedSessions{SessionStore: f.sessions, entered: make(chan struct{}), release: make(chan struct{})}
			deps := f.deps
			deps.Sessions = gate
			orch := practice.New(deps, practice.WithClock(f.clock))

			firstErr := make(chan error, 1)
			go func() {
				_, err := orch.Start(ctx, "bob")
				firstErr <- err
			}()
			<-gate.entered

			_, secondErr := orch.Start(ctx, "bob")
			close(gate.release)

			Convey("Then exactly one succeeds", func() {
				So(errors.Is(secondErr, model.ErrActiveSessionExists), ShouldBeTrue)
				So(<-firstErr, ShouldBeNil)
			})
		})

		Convey("When creating the session fails", func() {
			deps := f.deps
			deps.Sessions = failingCreate{SessionStore: f.sessions}
			orch := practice.New(deps, practice.WithClock(f.clock))

			_, err := orch.Start(ctx, "carol")
			So(err, ShouldNotBeNil)

			Convey("Then the lock is still released", func() {
				_, ok, err := f.lock.Acquire(ctx, "carol")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			})
		})

		Convey("When the actor id is invalid", func() {
			_, err := f.orch.Start(ctx, "bad:actor")
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})
	})
}

func TestAttempt(t *testing.T) {
	_ = logger.Init()

	Convey("Given an orchestrator", t, func() {
		ctx := context.Background()
		f := newFixture(t)

		Convey("When no session is active", func() {
			_, err := f.orch.Attempt(ctx, "alice", "CS101", 100)
			So(errors.Is(err, model.ErrNoActiveSession), ShouldBeTrue)
		})

		Convey("When a session is active", func() {
			sess, err := f.orch.Start(ctx, "alice")
			So(err, ShouldBeNil)

			Convey("Then an unknown subject is rejected", func() {
				_, err := f.orch.Attempt(ctx, "alice", "NOPE", 100)
				So(errors.Is(err, model.ErrSubjectNotFound), ShouldBeTrue)
			})

			Convey("Then a blank subject is invalid", func() {
				_, err := f.orch.Attempt(ctx, "alice", "", 100)
				So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
			})

			Convey("Then an attempt is ranked and stored", func() {
				res, err := f.orch.Attempt(ctx, "alice", "CS101", 60)
				So(err, ShouldBeNil)
				So(res.Status, ShouldEqual, model.StatusAccepted)
				So(res.Replayed, ShouldBeFalse)
				So(res.Attempt.Seq, ShouldEqual, 1)
				So(res.Attempt.Rank, ShouldBeGreaterThanOrEqualTo, 1)
				So(res.Attempt.Percentile, ShouldBeBetween, 0, 1)
				So(res.Attempt.Success, ShouldEqual, res.Attempt.Rank <= 40)
				So(res.Attempt.Scale, ShouldEqual, 4.6)
				So(res.Attempt.SessionID, ShouldEqual, sess.SessionID)
			})

			Convey("Then repeating an attempt returns the stored outcome", func() {
				first, err := f.orch.Attempt(ctx, "alice", "CS101", 60)
				So(err, ShouldBeNil)
				second, err := f.orch.Attempt(ctx, "alice", "CS101", 9000)
				So(err, ShouldBeNil)

				So(second.Replayed, ShouldBeTrue)
				So(second.Attempt, ShouldResemble, first.Attempt)

				n, _ := f.store.CountAttempts(ctx, sess.SessionID)
				So(n, ShouldEqual, 1)
			})

			Convey("Then an early click inside the window is recorded", func() {
				res, err := f.orch.Attempt(ctx, "alice", "CS101", -1500)
				So(err, ShouldBeNil)
				So(res.Status, ShouldEqual, model.StatusNotOpen)
				So(res.Recorded, ShouldBeTrue)
				So(res.Attempt.Success, ShouldBeFalse)
				So(res.Attempt.Rank, ShouldEqual, 0)
				So(res.Attempt.Percentile, ShouldEqual, 0)

				clicks, _ := f.store.ListEarlyClicks(ctx, sess.SessionID)
				So(clicks, ShouldHaveLength, 1)

				Convey("And a click outside the window persists nothing", func() {
					res, err := f.orch.Attempt(ctx, "alice", "CS101", -6000)
					So(err, ShouldBeNil)
					So(res.Status, ShouldEqual, model.StatusNotOpen)
					So(res.Recorded, ShouldBeFalse)
					So(res.Attempt.Success, ShouldBeFalse)

					clicks, _ := f.store.ListEarlyClicks(ctx, sess.SessionID)
					So(clicks, ShouldHaveLength, 1)
					n, _ := f.store.CountAttempts(ctx, sess.SessionID)
					So(n, ShouldEqual, 0)
				})

				Convey("And a later real attempt is still allowed", func() {
					res, err := f.orch.Attempt(ctx, "alice", "CS101", 120)
					So(err, ShouldBeNil)
					So(res.Status, ShouldEqual, model.StatusAccepted)
					So(res.Attempt.Seq, ShouldEqual, 1)
				})
			})

			Convey("Then AttemptNow measures latency from the target time", func() {
				f.clock.Advance(time.Duration(sess.StartToTargetOffsetMs+150) * time.Millisecond)
				res, err := f.orch.AttemptNow(ctx, "alice", "AR100")
				So(err, ShouldBeNil)
				So(res.Attempt.LatencyMs, ShouldEqual, 150)
				So(res.Attempt.Scale, ShouldEqual, ranking.DefaultScale)
			})

			Convey("Then AttemptNow before the target is an early click", func() {
				f.clock.Advance(time.Duration(sess.StartToTargetOffsetMs-1000) * time.Millisecond)
				res, err := f.orch.AttemptNow(ctx, "alice", "AR100")
				So(err, ShouldBeNil)
				So(res.Status, ShouldEqual, model.StatusNotOpen)
				So(res.Attempt.LatencyMs, ShouldEqual, -1000)
			})
		})
	})
}

func TestEndAndStatus(t *testing.T) {
	_ = logger.Init()

	Convey("Given an active session with two attempts", t, func() {
		ctx := context.Background()
		f := newFixture(t)
		sess, err := f.orch.Start(ctx, "alice")
		So(err, ShouldBeNil)
		_, _ = f.orch.Attempt(ctx, "alice", "CS101", 70)
		_, _ = f.orch.Attempt(ctx, "alice", "AR100", 95)

		Convey("When the status is read", func() {
			f.clock.Advance(30 * time.Second)
			st, err := f.orch.Status(ctx, "alice")

			Convey("Then it reports TTL and attempts", func() {
				So(err, ShouldBeNil)
				So(st.Session.SessionID, ShouldEqual, sess.SessionID)
				So(st.RemainingTTL, ShouldEqual, 270*time.Second)
				So(st.Attempts, ShouldEqual, 2)
			})
		})

		Convey("When the session is ended", func() {
			n, err := f.orch.End(ctx, "alice")
			So(err, ShouldBeNil)

			Convey("Then it returns the attempt count and updates the leaderboard", func() {
				So(n, ShouldEqual, 2)
				rec, err := f.agg.Get(ctx, "alice")
				So(err, ShouldBeNil)
				So(*rec.BestFirstLatencyMs, ShouldEqual, 70)
				So(*rec.BestSecondLatencyMs, ShouldEqual, 95)
			})

			Convey("Then the session is gone", func() {
				_, err := f.orch.End(ctx, "alice")
				So(errors.Is(err, model.ErrNoActiveSession), ShouldBeTrue)
				_, err = f.orch.Status(ctx, "alice")
				So(errors.Is(err, model.ErrNoActiveSession), ShouldBeTrue)
			})

			Convey("Then a late reconcile of the same session changes nothing", func() {
				changed, err := f.agg.Reconcile(ctx, "alice", sess.SessionID)
				So(err, ShouldBeNil)
				So(changed, ShouldBeFalse)
			})
		})
	})
}

func TestEndWhenDeleteFails(t *testing.T) {
	_ = logger.Init()

	Convey("Given a session whose removal fails", t, func() {
		ctx := context.Background()
		f := newFixture(t)
		deps := f.deps
		deps.Sessions = failingDelete{SessionStore: f.sessions}
		orch := practice.New(deps, practice.WithClock(f.clock))

		sess, err := orch.Start(ctx, "erin")
		So(err, ShouldBeNil)
		_, err = orch.Attempt(ctx, "erin", "CS101", 70)
		So(err, ShouldBeNil)

		_, err = orch.End(ctx, "erin")
		So(err, ShouldNotBeNil)

		Convey("Then the session stays open for reconciliation", func() {
			reconciled, err := f.store.IsReconciled(ctx, sess.SessionID)
			So(err, ShouldBeNil)
			So(reconciled, ShouldBeFalse)

			rec, err := f.agg.Get(ctx, "erin")
			So(err, ShouldBeNil)
			So(*rec.BestFirstLatencyMs, ShouldEqual, int64(70))
		})

		Convey("When a later attempt lands and the session expires", func() {
			_, err := orch.Attempt(ctx, "erin", "AR100", 95)
			So(err, ShouldBeNil)
			changed, err := f.agg.Reconcile(ctx, "erin", sess.SessionID)
			So(err, ShouldBeNil)

			Convey("Then the later attempt reaches the leaderboard", func() {
				So(changed, ShouldBeTrue)
				rec, err := f.agg.Get(ctx, "erin")
				So(err, ShouldBeNil)
				So(*rec.BestFirstLatencyMs, ShouldEqual, int64(70))
				So(*rec.BestSecondLatencyMs, ShouldEqual, int64(95))
			})
		})
	})
}
