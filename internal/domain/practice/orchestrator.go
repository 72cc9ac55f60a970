// Package practice drives the session state machine: start, attempt, end.
package practice

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/sugang/internal/adapters/repository"
	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/internal/domain/ranking"
	"github.com/okian/sugang/pkg/logger"
	"github.com/okian/sugang/pkg/metrics"
)

const (
	defaultTTL         = 300 * time.Second
	defaultOffsetMinMs = 3000
	defaultOffsetMaxMs = 10000
	defaultEarlyMs     = 5000
)

var tracer = otel.Tracer("sugang/practice")

// SessionStore holds active sessions.
type SessionStore interface {
	Create(ctx context.Context, s model.Session, ttl time.Duration) error
	Get(ctx context.Context, actorID string) (model.Session, bool, error)
	Delete(ctx context.Context, actorID string) error
	RemainingTTL(ctx context.Context, actorID string) (time.Duration, bool, error)
}

// Locker serializes Start per actor.
type Locker interface {
	Acquire(ctx context.Context, actorID string) (token string, ok bool, err error)
	Release(ctx context.Context, actorID, token string) error
}

// AttemptStore persists attempts and early clicks.
type AttemptStore interface {
	InsertAttempt(ctx context.Context, a model.Attempt) (model.Attempt, error)
	GetAttempt(ctx context.Context, sessionID, subjectID string) (model.Attempt, error)
	CountAttempts(ctx context.Context, sessionID string) (int, error)
	InsertEarlyClick(ctx context.Context, c model.EarlyClick) error
}

// SubjectCatalog resolves subjects.
type SubjectCatalog interface {
	Lookup(ctx context.Context, id string) (model.Subject, error)
}

// Reconciler folds a finished session into the leaderboard.
type Reconciler interface {
	Reconcile(ctx context.Context, actorID, sessionID string) (bool, error)
	Forget(ctx context.Context, sessionID string) error
}

// Ranker evaluates an attempt.
type Ranker interface {
	ParamsFor(classification string) ranking.Params
	Evaluate(p ranking.Params, latencyMs int64, competitors, capacity int) (ranking.Outcome, error)
}

// Deps are the collaborators an Orchestrator needs.
type Deps struct {
	Sessions   SessionStore
	Lock       Locker
	Attempts   AttemptStore
	Catalog    SubjectCatalog
	Reconciler Reconciler
	Ranker     Ranker
}

// Orchestrator implements the practice session lifecycle.
type Orchestrator struct {
	Deps

	clock         model.TimeSource
	ttl           time.Duration
	offsetMin     int64
	offsetMax     int64
	earlyWindowMs int64
	newID         func() string
	log           logger.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an Orchestrator.
func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		Deps:          deps,
		clock:         model.SystemClock{},
		ttl:           defaultTTL,
		offsetMin:     defaultOffsetMinMs,
		offsetMax:     defaultOffsetMaxMs,
		earlyWindowMs: defaultEarlyMs,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.rng == nil {
		seed := uint64(time.Now().UnixNano())
		o.rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	if o.log == nil {
		o.log = logger.Get().Named("practice")
	}
	return o
}

func (o *Orchestrator) drawOffset() int64 {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return o.offsetMin + o.rng.Int64N(o.offsetMax-o.offsetMin+1)
}

func fail(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Start begins a new session, tearing down any session still active.
func (o *Orchestrator) Start(ctx context.Context, actorID string) (model.Session, error) {
	ctx, span := tracer.Start(ctx, "practice.Start", trace.WithAttributes(attribute.String("actor_id", actorID)))
	defer span.End()

	token, ok, err := o.Lock.Acquire(ctx, actorID)
	if err != nil {
		return model.Session{}, fail(span, err)
	}
	if !ok {
		metrics.RecordStartConflict()
		return model.Session{}, fail(span, model.ErrActiveSessionExists)
	}
	defer func() {
		if err := o.Lock.Release(context.WithoutCancel(ctx), actorID, token); err != nil {
			metrics.RecordErrorByComponent("lock", "release")
			o.log.Warn(ctx, "lock release failed", logger.Actor(actorID), logger.Error(err))
		}
	}()

	prev, found, err := o.Sessions.Get(ctx, actorID)
	if err != nil {
		return model.Session{}, fail(span, err)
	}
	if found {
		if _, err := o.finish(ctx, prev); err != nil {
			return model.Session{}, fail(span, fmt.Errorf("end previous session: %w", err))
		}
		metrics.RecordSessionReplaced()
		o.log.Info(ctx, "replaced active session", logger.Actor(actorID), logger.Session(prev.SessionID))
	}

	sess := model.Session{
		ActorID:               actorID,
		SessionID:             o.newID(),
		StartTimeMs:           o.clock.NowMillis(),
		StartToTargetOffsetMs: o.drawOffset(),
	}
	if err := o.Sessions.Create(ctx, sess, o.ttl); err != nil {
		return model.Session{}, fail(span, err)
	}
	metrics.RecordSessionStarted()
	span.SetAttributes(attribute.String("session_id", sess.SessionID))
	o.log.Info(ctx, "session started",
		logger.Actor(actorID), logger.Session(sess.SessionID),
		logger.Int64("offset_ms", sess.StartToTargetOffsetMs))
	return sess, nil
}

// Attempt evaluates an enrollment attempt arriving latencyMs after the
// window opened. Non-positive latencies are early clicks.
func (o *Orchestrator) Attempt(ctx context.Context, actorID, subjectID string, latencyMs int64) (model.AttemptResult, error) {
	ctx, span := tracer.Start(ctx, "practice.Attempt", trace.WithAttributes(
		attribute.String("actor_id", actorID),
		attribute.String("subject_id", subjectID),
		attribute.Int64("latency_ms", latencyMs),
	))
	defer span.End()

	if subjectID == "" {
		return model.AttemptResult{}, fail(span, model.NewInvalidInput("subject id is required"))
	}
	sess, found, err := o.Sessions.Get(ctx, actorID)
	if err != nil {
		return model.AttemptResult{}, fail(span, err)
	}
	if !found {
		return model.AttemptResult{}, fail(span, model.ErrNoActiveSession)
	}
	res, err := o.attempt(ctx, sess, subjectID, latencyMs)
	return res, fail(span, err)
}

// AttemptNow is Attempt with the latency measured from the session's target time.
func (o *Orchestrator) AttemptNow(ctx context.Context, actorID, subjectID string) (model.AttemptResult, error) {
	sess, found, err := o.Sessions.Get(ctx, actorID)
	if err != nil {
		return model.AttemptResult{}, err
	}
	if !found {
		return model.AttemptResult{}, model.ErrNoActiveSession
	}
	return o.Attempt(ctx, actorID, subjectID, sess.LatencyAt(o.clock.NowMillis()))
}

func (o *Orchestrator) attempt(ctx context.Context, sess model.Session, subjectID string, latencyMs int64) (model.AttemptResult, error) {
	subj, err := o.Catalog.Lookup(ctx, subjectID)
	if err != nil {
		return model.AttemptResult{}, err
	}

	if latencyMs <= 0 {
		return o.earlyClick(ctx, sess, subj, latencyMs)
	}

	stored, err := o.Attempts.GetAttempt(ctx, sess.SessionID, subjectID)
	if err == nil {
		metrics.RecordAttempt(metrics.AttemptReplayed)
		return model.AttemptResult{Status: model.StatusAccepted, Replayed: true, Attempt: stored}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return model.AttemptResult{}, err
	}

	params := o.Ranker.ParamsFor(subj.Classification)
	out, err := o.Ranker.Evaluate(params, latencyMs, subj.Competitors, subj.Capacity)
	if err != nil {
		return model.AttemptResult{}, err
	}

	a, err := o.Attempts.InsertAttempt(ctx, model.Attempt{
		SessionID:      sess.SessionID,
		ActorID:        sess.ActorID,
		SubjectID:      subj.ID,
		Classification: subj.Classification,
		LatencyMs:      latencyMs,
		Rank:           out.Rank,
		Percentile:     out.Percentile,
		Success:        out.Success,
		Scale:          out.Params.Scale,
		Shape:          out.Params.Shape,
		Competitors:    subj.Competitors,
		Capacity:       subj.Capacity,
		CreatedAt:      model.Time(o.clock),
	})
	if errors.Is(err, repository.ErrAlreadyExists) {
		// A concurrent attempt for the same subject won the insert.
		stored, err := o.Attempts.GetAttempt(ctx, sess.SessionID, subjectID)
		if err != nil {
			return model.AttemptResult{}, err
		}
		metrics.RecordAttempt(metrics.AttemptReplayed)
		return model.AttemptResult{Status: model.StatusAccepted, Replayed: true, Attempt: stored}, nil
	}
	if err != nil {
		return model.AttemptResult{}, err
	}

	metrics.RecordAttempt(metrics.AttemptAccepted)
	metrics.RecordAttemptOutcome(a.Percentile, a.LatencyMs)
	o.log.Debug(ctx, "attempt ranked",
		logger.Actor(sess.ActorID), logger.Session(sess.SessionID), logger.Subject(subj.ID),
		logger.Int64("latency_ms", latencyMs), logger.Int("rank", a.Rank), logger.Bool("success", a.Success))
	return model.AttemptResult{Status: model.StatusAccepted, Attempt: a}, nil
}

func (o *Orchestrator) earlyClick(ctx context.Context, sess model.Session, subj model.Subject, latencyMs int64) (model.AttemptResult, error) {
	res := model.AttemptResult{
		Status: model.StatusNotOpen,
		Attempt: model.Attempt{
			SessionID:      sess.SessionID,
			ActorID:        sess.ActorID,
			SubjectID:      subj.ID,
			Classification: subj.Classification,
			LatencyMs:      latencyMs,
			Competitors:    subj.Competitors,
			Capacity:       subj.Capacity,
			CreatedAt:      model.Time(o.clock),
		},
	}
	if -latencyMs > o.earlyWindowMs {
		metrics.RecordAttempt(metrics.AttemptNotOpen)
		return res, nil
	}
	if err := o.Attempts.InsertEarlyClick(ctx, model.EarlyClick{
		SessionID: sess.SessionID,
		ActorID:   sess.ActorID,
		SubjectID: subj.ID,
		LatencyMs: latencyMs,
		CreatedAt: res.Attempt.CreatedAt,
	}); err != nil {
		return model.AttemptResult{}, err
	}
	res.Recorded = true
	metrics.RecordAttempt(metrics.AttemptEarlyRecorded)
	return res, nil
}

// End reconciles and removes the active session, returning its attempt count.
func (o *Orchestrator) End(ctx context.Context, actorID string) (int, error) {
	ctx, span := tracer.Start(ctx, "practice.End", trace.WithAttributes(attribute.String("actor_id", actorID)))
	defer span.End()

	sess, found, err := o.Sessions.Get(ctx, actorID)
	if err != nil {
		return 0, fail(span, err)
	}
	if !found {
		return 0, fail(span, model.ErrNoActiveSession)
	}
	n, err := o.finish(ctx, sess)
	if err != nil {
		return 0, fail(span, err)
	}
	metrics.RecordSessionEnded()
	o.log.Info(ctx, "session ended", logger.Actor(actorID), logger.Session(sess.SessionID), logger.Int("attempts", n))
	return n, nil
}

// finish reconciles, then deletes. If the delete fails the session stays
// Active, so the reconcile marker is dropped and the expiry path folds in
// any attempts made after this point.
func (o *Orchestrator) finish(ctx context.Context, sess model.Session) (int, error) {
	n, err := o.Attempts.CountAttempts(ctx, sess.SessionID)
	if err != nil {
		return 0, err
	}
	if _, err := o.Reconciler.Reconcile(ctx, sess.ActorID, sess.SessionID); err != nil {
		return 0, err
	}
	if err := o.Sessions.Delete(ctx, sess.ActorID); err != nil {
		if ferr := o.Reconciler.Forget(context.WithoutCancel(ctx), sess.SessionID); ferr != nil {
			metrics.RecordErrorByComponent("practice", "forget_reconciled")
			o.log.Error(ctx, "session left active after reconcile",
				logger.Actor(sess.ActorID), logger.Session(sess.SessionID), logger.Error(ferr))
		}
		return 0, fmt.Errorf("delete session: %w", err)
	}
	return n, nil
}

// Status reports the active session, its remaining TTL and attempt count.
func (o *Orchestrator) Status(ctx context.Context, actorID string) (model.SessionStatus, error) {
	sess, found, err := o.Sessions.Get(ctx, actorID)
	if err != nil {
		return model.SessionStatus{}, err
	}
	if !found {
		return model.SessionStatus{}, model.ErrNoActiveSession
	}
	ttl, ok, err := o.Sessions.RemainingTTL(ctx, actorID)
	if err != nil {
		return model.SessionStatus{}, err
	}
	if !ok {
		return model.SessionStatus{}, model.ErrNoActiveSession
	}
	n, err := o.Attempts.CountAttempts(ctx, sess.SessionID)
	if err != nil {
		return model.SessionStatus{}, err
	}
	return model.SessionStatus{Session: sess, RemainingTTL: ttl, Attempts: n}, nil
}
