// Package worker drains the expiry queue and reconciles expired sessions.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/sugang/internal/adapters/mq/queue"
	"github.com/okian/sugang/internal/domain/leaderboard"
	"github.com/okian/sugang/pkg/logger"
	"github.com/okian/sugang/pkg/metrics"
)

const (
	defaultWorkers       = 4
	defaultMaxRetries    = 3
	defaultRetryInitial  = 50 * time.Millisecond
	defaultRetryMax      = 2 * time.Second
	poolShutdownTimeout  = 30 * time.Second
	reconcileAttemptTime = 10 * time.Second
)

// Reconciler folds an expired session into the leaderboard.
type Reconciler interface {
	Reconcile(ctx context.Context, actorID, sessionID string) (bool, error)
}

// Source is where workers read expiries from.
type Source interface {
	Dequeue() <-chan queue.Item
}

// Pool runs a fixed number of reconcile workers over one source.
type Pool struct {
	source       Source
	reconciler   Reconciler
	size         int
	maxRetries   uint64
	retryInitial time.Duration
	logger       logger.Logger

	workers  sync.WaitGroup
	shutdown chan struct{}
	stopOnce sync.Once
}

// NewPool creates a pool of size workers. A size below one uses the default.
func NewPool(size int, source Source, reconciler Reconciler, opts ...Option) *Pool {
	if size < 1 {
		size = defaultWorkers
	}
	p := &Pool{
		source:       source,
		reconciler:   reconciler,
		size:         size,
		maxRetries:   defaultMaxRetries,
		retryInitial: defaultRetryInitial,
		shutdown:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("worker-pool")
	}
	return p
}

// Start launches the workers. They stop when ctx is cancelled, the source
// closes, or Shutdown is called.
func (p *Pool) Start(ctx context.Context) {
	metrics.UpdateWorkerCount(p.size)
	for i := 0; i < p.size; i++ {
		p.workers.Add(1)
		go p.run(ctx, p.logger.Named("worker-"+strconv.Itoa(i)))
	}
}

func (p *Pool) run(ctx context.Context, log logger.Logger) {
	defer p.workers.Done()
	items := p.source.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			if err := p.process(ctx, item); err != nil {
				log.Error(ctx, "reconcile of expired session failed",
					logger.Actor(item.ActorID), logger.Session(item.SessionID), logger.Error(err))
			}
		}
	}
}

func (p *Pool) process(ctx context.Context, item queue.Item) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()
	metrics.RecordSessionExpired()

	ctx = leaderboard.WithTrigger(ctx, metrics.TriggerExpiry)
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, reconcileAttemptTime)
		defer cancel()
		_, err := p.reconciler.Reconcile(attemptCtx, item.ActorID, item.SessionID)
		return err
	}
	strategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(p.retryInitial),
				backoff.WithMaxInterval(defaultRetryMax),
			),
			p.maxRetries,
		),
		ctx,
	)
	if err := backoff.Retry(operation, strategy); err != nil {
		metrics.RecordErrorByComponent("worker", "reconcile")
		return fmt.Errorf("reconcile %s: %w", item.SessionID, err)
	}
	return nil
}

// Shutdown stops the workers, closing the source first when it can be
// closed so queued items are drained.
func (p *Pool) Shutdown(ctx context.Context) error {
	drained := false
	if closer, ok := p.source.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		} else {
			drained = true
		}
	}
	if !drained {
		p.stopOnce.Do(func() { close(p.shutdown) })
	}

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	select {
	case <-done:
		metrics.UpdateWorkerCount(0)
		return nil
	case <-shutdownCtx.Done():
		p.stopOnce.Do(func() { close(p.shutdown) })
		p.logger.Warn(ctx, "worker shutdown timed out")
		return fmt.Errorf("worker shutdown: %w", shutdownCtx.Err())
	}
}
