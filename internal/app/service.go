// Package service wires the practice components together and implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/okian/sugang/internal/adapters/kv"
	"github.com/okian/sugang/internal/adapters/lock"
	eventqueue "github.com/okian/sugang/internal/adapters/mq/queue"
	workerpool "github.com/okian/sugang/internal/adapters/mq/worker"
	repository "github.com/okian/sugang/internal/adapters/repository"
	"github.com/okian/sugang/internal/adapters/session"
	"github.com/okian/sugang/internal/config"
	"github.com/okian/sugang/internal/domain/dedupe"
	"github.com/okian/sugang/internal/domain/expiry"
	"github.com/okian/sugang/internal/domain/leaderboard"
	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/internal/domain/practice"
	"github.com/okian/sugang/internal/domain/ranking"
	"github.com/okian/sugang/pkg/logger"
	"github.com/okian/sugang/pkg/metrics"
)

// ErrNotStarted is returned by API operations before Start or after Stop.
var ErrNotStarted = errors.New("service not started")

// Service owns the practice components and their background goroutines.
type Service struct {
	mu sync.RWMutex

	// Configuration
	cfg    *config.Config
	clock  model.TimeSource
	logger logger.Logger

	// Ephemeral store
	keys        kv.Keyspace
	ownsKeys    bool
	redisClient *redis.Client
	ownsRedis   bool

	// Core components
	repo       *repository.Store
	ranker     *ranking.Model
	deduper    dedupe.Deduper
	aggregator *leaderboard.Aggregator
	practice   *practice.Orchestrator
	eventQueue *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool
	notifier   *expiry.Notifier

	// State
	started     bool
	startedAt   time.Time
	cancel      context.CancelFunc
	stopWorkers context.CancelFunc
	background  sync.WaitGroup
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:   config.New(),
		clock: model.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components and starts the expiry listener, the
// reconcile workers and the schedulers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.logger.Info(ctx, "starting practice service...", logger.String("store", s.cfg.Store))

	if err := s.openKeyspace(ctx); err != nil {
		return err
	}
	repo, err := repository.Open(ctx, s.cfg.SQLitePath, repository.WithClock(s.clock))
	if err != nil {
		s.closeKeyspace()
		return fmt.Errorf("open repository: %w", err)
	}
	s.repo = repo
	if err := s.seedSubjects(ctx); err != nil {
		_ = s.repo.Close()
		s.closeKeyspace()
		return err
	}

	s.ranker = ranking.New(
		ranking.WithMode(ranking.Mode(s.cfg.Ranking.Mode)),
		ranking.WithDefaultParams(toParams(s.cfg.Ranking.Default)),
		ranking.WithDistributions(distributions(s.cfg.Ranking.Distributions)),
		ranking.WithLatencySource(repo),
		ranking.WithMaxSamples(s.cfg.Ranking.SnapshotMaxSamples),
		ranking.WithClock(s.clock),
		ranking.WithLogger(s.logger.Named("ranking")),
	)
	if n, err := s.ranker.Refresh(ctx); err != nil {
		s.logger.Warn(ctx, "initial ranking snapshot failed", logger.Error(err))
	} else {
		s.logger.Info(ctx, "ranking snapshot loaded", logger.Int("samples", n), logger.String("mode", string(s.ranker.Mode())))
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.DedupeSize))
	s.aggregator = leaderboard.New(repo,
		leaderboard.WithDeduper(s.deduper),
		leaderboard.WithLogger(s.logger.Named("leaderboard")),
	)
	s.practice = practice.New(practice.Deps{
		Sessions:   session.NewStore(s.keys, session.WithLogger(s.logger.Named("session"))),
		Lock:       lock.New(s.keys, s.cfg.LockTTL()),
		Attempts:   repo,
		Catalog:    repo,
		Reconciler: s.aggregator,
		Ranker:     s.ranker,
	},
		practice.WithClock(s.clock),
		practice.WithSessionTTL(s.cfg.SessionTTL()),
		practice.WithOffsetRange(int64(s.cfg.TargetOffsetMinMS), int64(s.cfg.TargetOffsetMaxMS)),
		practice.WithEarlyClickWindow(time.Duration(s.cfg.EarlyClickWindowMS)*time.Millisecond),
		practice.WithLogger(s.logger.Named("practice")),
	)

	// Workers get their own context so Stop can drain the queue after the
	// listener is gone.
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	s.stopWorkers = stopWorkers
	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.cfg.ReconcileQueueSize))
	s.workerPool = workerpool.NewPool(s.cfg.ReconcileWorkers, s.eventQueue, s.aggregator,
		workerpool.WithLogger(s.logger.Named("worker-pool")),
	)
	s.workerPool.Start(workerCtx)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.notifier = expiry.NewNotifier(s.keys, expiry.HandlerFunc(s.enqueueExpiry),
		expiry.WithLogger(s.logger.Named("expiry")),
	)
	s.goBackground(func() {
		if err := s.notifier.Run(runCtx); err != nil {
			s.logger.Error(runCtx, "expiry listener exited", logger.Error(err))
		}
	})
	if mem, ok := s.keys.(*kv.Memory); ok {
		s.goBackground(func() { mem.Run(runCtx) })
	}
	if secs := s.cfg.Ranking.SnapshotRefreshSeconds; secs > 0 {
		s.goBackground(func() { s.refreshSnapshots(runCtx, time.Duration(secs)*time.Second) })
	}
	if hours := s.cfg.LeaderboardResetHours; hours > 0 {
		s.goBackground(func() { s.resetLeaderboard(runCtx, time.Duration(hours)*time.Hour) })
	}

	s.started = true
	s.startedAt = model.Time(s.clock)
	s.logger.Info(ctx, "practice service started",
		logger.Int("workers", s.cfg.ReconcileWorkers),
		logger.Int("queueSize", s.cfg.ReconcileQueueSize),
		logger.Int("dedupeSize", s.cfg.DedupeSize),
		logger.Int("sessionTTLSeconds", s.cfg.SessionTTLSeconds),
	)
	return nil
}

// Stop shuts the service down: the listener and schedulers first, then the
// workers once the queue is drained, then the stores.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping practice service...")

	s.cancel()
	s.background.Wait()

	var errs []error
	if err := s.workerPool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown workers: %w", err))
	}
	s.stopWorkers()

	if err := s.repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close repository: %w", err))
	}
	s.closeKeyspace()

	s.started = false
	s.logger.Info(ctx, "practice service stopped")
	return errors.Join(errs...)
}

func (s *Service) goBackground(fn func()) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn()
	}()
}

func (s *Service) openKeyspace(ctx context.Context) error {
	if s.keys != nil {
		return nil
	}
	switch s.cfg.Store {
	case "redis":
		if s.redisClient == nil {
			s.redisClient = redis.NewClient(&redis.Options{
				Addr:     s.cfg.Redis.Addr,
				Password: s.cfg.Redis.Password,
				DB:       s.cfg.Redis.DB,
				PoolSize: s.cfg.Redis.PoolSize,
			})
			s.ownsRedis = true
		}
		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			s.closeKeyspace()
			return fmt.Errorf("ping redis at %s: %w", s.cfg.Redis.Addr, err)
		}
		store := kv.NewRedis(s.redisClient, kv.WithRedisLogger(s.logger.Named("kv.redis")))
		if s.cfg.Redis.ConfigureNotifications {
			if err := store.ConfigureNotifications(ctx); err != nil {
				s.logger.Warn(ctx, "could not enable expired-key notifications; sessions will only reconcile on end", logger.Error(err))
			}
		}
		s.keys = store
	default:
		s.keys = kv.NewMemory(kv.WithClock(s.clock))
	}
	s.ownsKeys = true
	return nil
}

func (s *Service) closeKeyspace() {
	if s.ownsRedis && s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Warn(context.Background(), "error closing redis client", logger.Error(err))
		}
		s.redisClient = nil
		s.ownsRedis = false
	}
	if s.ownsKeys {
		s.keys = nil
		s.ownsKeys = false
	}
}

func (s *Service) seedSubjects(ctx context.Context) error {
	for _, c := range s.cfg.Subjects {
		subj := model.Subject{
			ID:             c.ID,
			Name:           c.Name,
			Classification: c.Classification,
			Capacity:       c.Capacity,
			Competitors:    c.Competitors,
		}
		if err := subj.Validate(); err != nil {
			return fmt.Errorf("seed subject: %w", err)
		}
		if err := s.repo.UpsertSubject(ctx, subj); err != nil {
			return fmt.Errorf("seed subject %s: %w", subj.ID, err)
		}
	}
	if n := len(s.cfg.Subjects); n > 0 {
		s.logger.Info(ctx, "subject catalog seeded", logger.Int("subjects", n))
	}
	return nil
}

func (s *Service) enqueueExpiry(ctx context.Context, e model.Expiry) error {
	if err := s.eventQueue.Enqueue(ctx, e); err != nil {
		metrics.RecordExpiryDropped()
		return fmt.Errorf("enqueue expiry: %w", err)
	}
	return nil
}

func (s *Service) refreshSnapshots(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ranker.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn(ctx, "ranking snapshot refresh failed", logger.Error(err))
			}
		}
	}
}

func (s *Service) resetLeaderboard(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.aggregator.ResetWindow(ctx)
			if err != nil {
				s.logger.Error(ctx, "leaderboard reset failed", logger.Error(err))
				continue
			}
			s.logger.Info(ctx, "leaderboard window reset", logger.Int64("records", n))
		}
	}
}

func toParams(p config.Params) ranking.Params {
	return ranking.Params{Scale: p.Scale, Shape: p.Shape}
}

func distributions(byClass map[string]config.Params) map[string]ranking.Params {
	out := make(map[string]ranking.Params, len(byClass))
	for class, p := range byClass {
		out[class] = toParams(p)
	}
	return out
}

func (s *Service) running() error {
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// StartSession begins a practice round for actorID.
func (s *Service) StartSession(ctx context.Context, actorID string) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(); err != nil {
		return model.Session{}, err
	}
	return s.practice.Start(ctx, actorID)
}

// Attempt records an enrollment attempt. A nil latency derives it from the
// current time against the session's target.
func (s *Service) Attempt(ctx context.Context, actorID, subjectID string, latencyMs *int64) (model.AttemptResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(); err != nil {
		return model.AttemptResult{}, err
	}
	if latencyMs == nil {
		return s.practice.AttemptNow(ctx, actorID, subjectID)
	}
	return s.practice.Attempt(ctx, actorID, subjectID, *latencyMs)
}

// EndSession finishes the actor's round and returns its attempt count.
func (s *Service) EndSession(ctx context.Context, actorID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(); err != nil {
		return 0, err
	}
	return s.practice.End(ctx, actorID)
}

// Status reports the actor's active round.
func (s *Service) Status(ctx context.Context, actorID string) (model.SessionStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(); err != nil {
		return model.SessionStatus{}, err
	}
	return s.practice.Status(ctx, actorID)
}

// Leaderboard returns the actor's best record.
func (s *Service) Leaderboard(ctx context.Context, actorID string) (model.LeaderboardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(); err != nil {
		return model.LeaderboardRecord{}, err
	}
	return s.aggregator.Get(ctx, actorID)
}

// TopLeaderboard returns the best n records ordered by metric.
func (s *Service) TopLeaderboard(ctx context.Context, metric model.LeaderboardMetric, n int) ([]model.LeaderboardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(); err != nil {
		return nil, err
	}
	return s.aggregator.Top(ctx, metric, n)
}

// Subjects lists the catalog.
func (s *Service) Subjects(ctx context.Context) ([]model.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(); err != nil {
		return nil, err
	}
	return s.repo.ListSubjects(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":       s.started,
		"store":         s.cfg.Store,
		"rankingMode":   s.cfg.Ranking.Mode,
		"workerCount":   s.cfg.ReconcileWorkers,
		"queueCapacity": s.cfg.ReconcileQueueSize,
		"dedupeSize":    s.cfg.DedupeSize,
	}

	if s.started {
		ctx := context.Background()
		queueLen := s.eventQueue.Len()
		stats["queueLength"] = queueLen
		stats["reconciledCached"] = s.deduper.Size()
		stats["snapshotSize"] = s.ranker.Snapshot().Len()
		stats["uptimeSeconds"] = int64(model.Time(s.clock).Sub(s.startedAt).Seconds())
		if n, err := s.repo.CountLeaderboard(ctx); err == nil {
			stats["leaderboardSize"] = n
		}

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateWorkerCount(s.cfg.ReconcileWorkers)
	}

	return stats
}
