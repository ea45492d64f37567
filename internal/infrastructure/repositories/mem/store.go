package mem

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/domain/ports"
	"oidkeeper/internal/infrastructure/repositories/codec"
	"oidkeeper/internal/infrastructure/repositories/filter"
)

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock stamped into versions
func WithClock(c clock.PassiveClock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithAuthor sets the author stamped into versions
func WithAuthor(author string) Option {
	return func(s *Store) {
		s.author = author
	}
}

// WithKeyFunc sets the primary key generator for created objects
func WithKeyFunc(fn func() string) Option {
	return func(s *Store) {
		s.newKey = fn
	}
}

// Store is an in-memory implementation of ports.ObjectStore.
// Payloads are kept encoded, so every fetch returns a fresh instance.
type Store struct {
	db      *MemDB
	codec   *codec.Registry
	filters *filter.Compiler
	clock   clock.PassiveClock
	author  string
	newKey  func() string

	mu     sync.Mutex // serializes batches
	closed bool
}

var _ ports.ObjectStore = (*Store)(nil)

// NewStore creates a new in-memory store
func NewStore(c *codec.Registry, opts ...Option) *Store {
	if c == nil {
		c = codec.NewRegistry()
	}
	s := &Store{
		db:      NewMemDB(),
		codec:   c,
		filters: filter.NewCompiler(),
		clock:   clock.RealClock{},
		author:  "memory",
		newKey:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database
func (s *Store) DB() *MemDB {
	return s.db
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Fetch implements ports.Reader
func (s *Store) Fetch(ctx context.Context, oid models.Oid) (ports.FetchResult, error) {
	if s.isClosed() {
		return ports.FetchResult{}, ports.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return ports.FetchResult{}, err
	}
	r, ok := s.db.Get(oid)
	if !ok {
		return ports.FetchResult{}, &models.NotFoundError{Oid: oid}
	}
	payload, err := s.codec.Decode(oid.TypeTag(), r.data)
	if err != nil {
		return ports.FetchResult{}, err
	}
	return ports.FetchResult{Oid: oid, Payload: payload, Version: r.version}, nil
}

// RunQuery implements ports.Reader
func (s *Store) RunQuery(ctx context.Context, spec ports.QuerySpec) ([]ports.FetchResult, error) {
	if s.isClosed() {
		return nil, ports.ErrStoreClosed
	}
	pred, err := s.filters.Compile(spec.Filter)
	if err != nil {
		return nil, err
	}

	var out []ports.FetchResult
	for _, oid := range s.db.Keys(spec.TypeTag) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !ports.InScope(spec.Scope, oid) {
			continue
		}
		r, ok := s.db.Get(oid)
		if !ok {
			continue
		}
		if pred != nil {
			doc, err := codec.DocumentOf(r.data)
			if err != nil {
				return nil, err
			}
			match, err := pred.Match(doc, oid.PrimaryKey(), oid.TypeTag())
			if err != nil {
				return nil, err
			}
			if !match {
				continue
			}
		}
		payload, err := s.codec.Decode(oid.TypeTag(), r.data)
		if err != nil {
			return nil, err
		}
		out = append(out, ports.FetchResult{Oid: oid, Payload: payload, Version: r.version})
		if spec.Limit > 0 && len(out) >= spec.Limit {
			break
		}
	}
	return out, nil
}

// Execute implements ports.Executor
func (s *Store) Execute(ctx context.Context, commands []models.PersistenceCommand) ([]ports.ExecResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ports.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "execute")
	}

	w := &writer{store: s, records: s.db.Snapshot()}
	results := make([]ports.ExecResult, len(commands))
	failed := false
	for i, cmd := range commands {
		if failed {
			results[i].Err = ports.ErrNotExecuted
			continue
		}
		res, err := w.apply(cmd)
		results[i] = res
		if err != nil {
			results[i].Err = err
			failed = true
		}
	}
	if failed {
		w.Abort()
	} else {
		w.Commit()
	}
	return results, nil
}

// Ping implements ports.HealthChecker
func (s *Store) Ping(context.Context) error {
	if s.isClosed() {
		return ports.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
