// Package expiry turns keyspace expiry events into session expiry callbacks.
package expiry

import (
	"context"
	"fmt"

	"github.com/okian/sugang/internal/adapters/kv"
	"github.com/okian/sugang/internal/adapters/session"
	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/pkg/logger"
	"github.com/okian/sugang/pkg/metrics"
)

// Event kinds recorded on the expiry_events_total metric.
const (
	kindSession = "session"
	kindIgnored = "ignored"
	kindFailed  = "handler_error"
	kindPanic   = "handler_panic"
)

// Handler is invoked once per expired session key.
type Handler interface {
	HandleExpired(ctx context.Context, e model.Expiry) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e model.Expiry) error

// HandleExpired implements Handler.
func (f HandlerFunc) HandleExpired(ctx context.Context, e model.Expiry) error { return f(ctx, e) }

// Notifier listens for expired keys and dispatches session expiries.
type Notifier struct {
	keys    kv.Keyspace
	handler Handler
	log     logger.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the notifier logger.
func WithLogger(l logger.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.log = l
		}
	}
}

// NewNotifier creates a Notifier.
func NewNotifier(keys kv.Keyspace, handler Handler, opts ...Option) *Notifier {
	n := &Notifier{keys: keys, handler: handler}
	for _, opt := range opts {
		opt(n)
	}
	if n.log == nil {
		n.log = logger.Get().Named("expiry")
	}
	return n
}

// Run blocks until ctx is cancelled or the event stream closes. Handler
// failures never stop the loop.
func (n *Notifier) Run(ctx context.Context) error {
	events, err := n.keys.Expired(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to expired keys: %w", err)
	}
	n.log.Info(ctx, "expiry listener started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case key, ok := <-events:
			if !ok {
				n.log.Info(ctx, "expiry listener stopped")
				return nil
			}
			n.dispatch(ctx, key)
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, key string) {
	actorID, sessionID, ok := session.ParseKey(key)
	if !ok {
		metrics.RecordExpiryEvent(kindIgnored)
		return
	}
	metrics.RecordExpiryEvent(kindSession)
	e := model.Expiry{ActorID: actorID, SessionID: sessionID}

	defer func() {
		if r := recover(); r != nil {
			metrics.RecordExpiryEvent(kindPanic)
			metrics.RecordErrorByComponent("expiry", kindPanic)
			n.log.Error(ctx, "expiry handler panicked", logger.Actor(actorID), logger.Session(sessionID), logger.Any("panic", r))
		}
	}()
	if err := n.handler.HandleExpired(ctx, e); err != nil {
		metrics.RecordExpiryEvent(kindFailed)
		metrics.RecordErrorByComponent("expiry", kindFailed)
		n.log.Error(ctx, "expiry handler failed", logger.Actor(actorID), logger.Session(sessionID), logger.Error(err))
	}
}
