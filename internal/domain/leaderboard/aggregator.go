// Package leaderboard folds finished sessions into per-actor best records.
package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/sugang/internal/adapters/repository"
	"github.com/okian/sugang/internal/domain/dedupe"
	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/pkg/logger"
	"github.com/okian/sugang/pkg/metrics"
)

// Store is the persistence the aggregator needs.
type Store interface {
	ListAttempts(ctx context.Context, sessionID string) ([]model.Attempt, error)
	ReconcileSession(ctx context.Context, actorID, sessionID string, merge repository.MergeFunc) (first, changed bool, err error)
	ForgetReconciled(ctx context.Context, sessionID string) error
	GetLeaderboard(ctx context.Context, actorID string) (model.LeaderboardRecord, error)
	TopLeaderboard(ctx context.Context, metric model.LeaderboardMetric, n int) ([]model.LeaderboardRecord, error)
	ResetLeaderboard(ctx context.Context) (int64, error)
}

// Candidates are the metrics one session contributes.
type Candidates struct {
	FirstLatencyMs  *int64
	SecondLatencyMs *int64
	SuccessRatio    *float64
}

// CandidatesFrom derives candidates from a session's attempts.
func CandidatesFrom(attempts []model.Attempt) Candidates {
	var c Candidates
	for _, a := range attempts {
		switch a.Seq {
		case 1:
			v := a.LatencyMs
			c.FirstLatencyMs = &v
		case 2:
			v := a.LatencyMs
			c.SecondLatencyMs = &v
		}
		if !a.Success || a.Capacity <= 0 {
			continue
		}
		if r := a.CompetitionRatio(); c.SuccessRatio == nil || r > *c.SuccessRatio {
			c.SuccessRatio = &r
		}
	}
	return c
}

// Merge applies candidates to a record. A stored value is only replaced by
// a strictly better one: lower latency, higher ratio.
func Merge(rec model.LeaderboardRecord, c Candidates) (model.LeaderboardRecord, bool) {
	changed := false
	if c.FirstLatencyMs != nil && (rec.BestFirstLatencyMs == nil || *c.FirstLatencyMs < *rec.BestFirstLatencyMs) {
		v := *c.FirstLatencyMs
		rec.BestFirstLatencyMs = &v
		changed = true
	}
	if c.SecondLatencyMs != nil && (rec.BestSecondLatencyMs == nil || *c.SecondLatencyMs < *rec.BestSecondLatencyMs) {
		v := *c.SecondLatencyMs
		rec.BestSecondLatencyMs = &v
		changed = true
	}
	if c.SuccessRatio != nil && (rec.BestSuccessRatio == nil || *c.SuccessRatio > *rec.BestSuccessRatio) {
		v := *c.SuccessRatio
		rec.BestSuccessRatio = &v
		changed = true
	}
	return rec, changed
}

// Aggregator reconciles sessions into the leaderboard.
type Aggregator struct {
	store Store
	seen  dedupe.Deduper
	log   logger.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithDeduper sets the in-process repeat filter.
func WithDeduper(d dedupe.Deduper) Option {
	return func(a *Aggregator) {
		if d != nil {
			a.seen = d
		}
	}
}

// WithLogger sets the aggregator logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

// New creates an Aggregator.
func New(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{store: store}
	for _, opt := range opts {
		opt(a)
	}
	if a.seen == nil {
		a.seen = dedupe.NewInMemoryDeduper()
	}
	if a.log == nil {
		a.log = logger.Get().Named("leaderboard")
	}
	return a
}

type triggerKey struct{}

// WithTrigger labels reconciles made with ctx, e.g. metrics.TriggerExpiry.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return metrics.TriggerEnd
}

// Reconcile folds a session into the actor's record. Repeated calls for
// the same session change nothing. Returns whether the record changed.
func (a *Aggregator) Reconcile(ctx context.Context, actorID, sessionID string) (bool, error) {
	start := time.Now()
	trigger := triggerFrom(ctx)
	if a.seen.SeenAndRecord(ctx, sessionID) {
		metrics.RecordReconcile(trigger, metrics.ResultSkipped, sinceMs(start))
		return false, nil
	}

	attempts, err := a.store.ListAttempts(ctx, sessionID)
	if err != nil {
		a.seen.Unrecord(ctx, sessionID)
		metrics.RecordReconcile(trigger, metrics.ResultError, sinceMs(start))
		return false, fmt.Errorf("reconcile %s: %w", sessionID, err)
	}
	cand := CandidatesFrom(attempts)

	first, changed, err := a.store.ReconcileSession(ctx, actorID, sessionID, func(cur model.LeaderboardRecord) (model.LeaderboardRecord, bool) {
		return Merge(cur, cand)
	})
	if err != nil {
		a.seen.Unrecord(ctx, sessionID)
		metrics.RecordReconcile(trigger, metrics.ResultError, sinceMs(start))
		return false, fmt.Errorf("reconcile %s: %w", sessionID, err)
	}

	result := metrics.ResultUnchanged
	switch {
	case !first:
		result = metrics.ResultSkipped
	case changed:
		result = metrics.ResultUpdated
	}
	metrics.RecordReconcile(trigger, result, sinceMs(start))
	a.log.Debug(ctx, "session reconciled",
		logger.Actor(actorID), logger.Session(sessionID),
		logger.String("trigger", trigger), logger.String("result", result),
		logger.Int("attempts", len(attempts)))
	return changed, nil
}

// Forget lets a reconciled session be reconciled again. Merge only keeps
// strictly better values, so folding the same attempts twice is harmless.
func (a *Aggregator) Forget(ctx context.Context, sessionID string) error {
	if err := a.store.ForgetReconciled(ctx, sessionID); err != nil {
		return err
	}
	a.seen.Unrecord(ctx, sessionID)
	return nil
}

// ResetWindow clears every record for a new leaderboard period.
func (a *Aggregator) ResetWindow(ctx context.Context) (int64, error) {
	n, err := a.store.ResetLeaderboard(ctx)
	if err != nil {
		return 0, err
	}
	metrics.RecordLeaderboardReset()
	a.log.Info(ctx, "leaderboard window reset", logger.Int64("records", n))
	return n, nil
}

// Get returns an actor's record.
func (a *Aggregator) Get(ctx context.Context, actorID string) (model.LeaderboardRecord, error) {
	return a.store.GetLeaderboard(ctx, actorID)
}

// Top returns the best n records for a metric.
func (a *Aggregator) Top(ctx context.Context, metric model.LeaderboardMetric, n int) ([]model.LeaderboardRecord, error) {
	return a.store.TopLeaderboard(ctx, metric, n)
}

func sinceMs(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
