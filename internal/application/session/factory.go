package session

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/clock"

	"oidkeeper/internal/application/identitymap"
	"oidkeeper/internal/application/lifecycle"
	"oidkeeper/internal/application/txn"
	"oidkeeper/internal/application/utils"
	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/domain/ports"
	"oidkeeper/internal/patterns"
)

// Option configures a Factory
type Option func(*Factory)

// WithLogger sets the logger
func WithLogger(logger logr.Logger) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithMetrics sets the transaction metrics sink shared by all sessions
func WithMetrics(metrics txn.Metrics) Option {
	return func(f *Factory) {
		f.metrics = metrics
	}
}

// WithClock sets the clock
func WithClock(c clock.PassiveClock) Option {
	return func(f *Factory) {
		f.clock = c
	}
}

// WithRetry sets the retry policy of RetryOnConflict
func WithRetry(cfg utils.RetryConfig) Option {
	return func(f *Factory) {
		f.retry = cfg
	}
}

// WithObserver subscribes an observer to the lifecycle notifications of every session
func WithObserver(observer patterns.Observer[lifecycle.Notification]) Option {
	return func(f *Factory) {
		f.observers = append(f.observers, observer)
	}
}

// Factory opens and closes sessions over one object store
type Factory struct {
	store     ports.ObjectStore
	logger    logr.Logger
	metrics   txn.Metrics
	clock     clock.PassiveClock
	retry     utils.RetryConfig
	observers []patterns.Observer[lifecycle.Notification]

	mu   sync.Mutex
	open map[string]*Session
}

// NewFactory creates a session factory
func NewFactory(store ports.ObjectStore, opts ...Option) *Factory {
	f := &Factory{
		store:  store,
		logger: logr.Discard(),
		clock:  clock.RealClock{},
		retry:  utils.DefaultRetryConfig(),
		open:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OpenSession creates a session with its own identity map and transaction manager
func (f *Factory) OpenSession() *Session {
	id := uuid.NewString()
	logger := f.logger.WithValues("session", id)

	identities := identitymap.New()
	dispatcher := lifecycle.NewDispatcher(logger)
	for _, o := range f.observers {
		dispatcher.Subject().Subscribe(o)
	}
	manager := txn.NewManager(f.store, identities, dispatcher,
		txn.WithLogger(logger),
		txn.WithMetrics(f.metrics),
		txn.WithClock(f.clock),
	)

	s := &Session{
		id:         id,
		identities: identities,
		dispatcher: dispatcher,
		tx:         manager,
		logger:     logger,
	}

	f.mu.Lock()
	f.open[id] = s
	f.mu.Unlock()

	logger.V(2).Info("session opened")
	return s
}

// CloseSession ends a session. An active transaction is aborted and reported with ErrTransactionDiscarded.
func (f *Factory) CloseSession(s *Session) error {
	if s.closed {
		return errors.Wrapf(ErrSessionClosed, "session %s", s.id)
	}

	var err error
	if s.tx.State() != txn.StateIdle {
		pending := len(s.tx.Pending())
		s.tx.Abort()
		err = errors.Wrapf(ErrTransactionDiscarded, "session %s: %d queued commands", s.id, pending)
		s.logger.Info("session closed with an active transaction", "discarded", pending)
	}
	s.identities.Reset()
	s.closed = true

	f.mu.Lock()
	delete(f.open, s.id)
	f.mu.Unlock()

	s.logger.V(2).Info("session closed")
	return err
}

// OpenSessions returns the number of sessions not closed yet
func (f *Factory) OpenSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

// Shutdown closes every open session
func (f *Factory) Shutdown() error {
	f.mu.Lock()
	sessions := make([]*Session, 0, len(f.open))
	for _, s := range f.open {
		sessions = append(sessions, s)
	}
	f.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := f.CloseSession(s); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// RetryOnConflict runs fn in a transaction of a fresh session, retrying with backoff
// while the commit fails with a concurrency conflict.
func (f *Factory) RetryOnConflict(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	return utils.ExecuteWithRetry(ctx, f.retry, models.IsConcurrencyConflict, func(attempt int) error {
		s := f.OpenSession()
		defer func() {
			_ = f.CloseSession(s)
		}()

		err := s.RunInTransaction(ctx, fn)
		if err != nil && models.IsConcurrencyConflict(err) {
			f.logger.V(1).Info("concurrency conflict, retrying in a fresh session", "attempt", attempt, "error", err.Error())
		}
		return err
	})
}
