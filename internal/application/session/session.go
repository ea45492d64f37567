package session

import (
	"context"
	"strings"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"oidkeeper/internal/application/identitymap"
	"oidkeeper/internal/application/lifecycle"
	"oidkeeper/internal/application/txn"
	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/domain/ports"
)

// Session errors
var (
	ErrSessionClosed = errors.New("session is closed")

	// ErrTransactionDiscarded is reported by CloseSession when an active transaction had to be aborted
	ErrTransactionDiscarded = errors.New("active transaction discarded")
)

// Session is one logical interaction with the store: an identity map and a transaction manager.
// A session is driven by a single goroutine; sessions never share mutable state.
type Session struct {
	id         string
	identities *identitymap.IdentityMap
	dispatcher *lifecycle.Dispatcher
	tx         *txn.Manager
	logger     logr.Logger
	closed     bool
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// IdentityMap returns the session's identity map
func (s *Session) IdentityMap() *identitymap.IdentityMap {
	return s.identities
}

// Transactions returns the session's transaction manager
func (s *Session) Transactions() *txn.Manager {
	return s.tx
}

// Lifecycle returns the session's callback dispatcher
func (s *Session) Lifecycle() *lifecycle.Dispatcher {
	return s.dispatcher
}

// Load returns the single in-session adapter for oid, fetching it when needed
func (s *Session) Load(ctx context.Context, oid models.Oid) (*models.ObjectAdapter, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.tx.Load(ctx, oid)
}

// Reference returns the adapter for oid without loading it; unknown objects become ghosts
func (s *Session) Reference(oid models.Oid) (*models.ObjectAdapter, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if a, ok := s.identities.Lookup(oid); ok {
		return a, nil
	}
	if oid.IsZero() || oid.IsTransient() || oid.IsAggregated() {
		return nil, &models.NotFoundError{Oid: oid}
	}
	a := models.NewGhostAdapter(oid)
	if err := s.identities.Register(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Resolve loads the payload of a ghost adapter
func (s *Session) Resolve(ctx context.Context, a *models.ObjectAdapter) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.tx.Resolve(ctx, a)
}

// NewTransient registers a new in-memory object of type typeTag
func (s *Session) NewTransient(typeTag string, payload any) (*models.ObjectAdapter, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if typeTag == "" {
		return nil, &models.NotPersistableError{Reason: "empty type tag"}
	}
	a := models.NewTransientAdapter(typeTag, payload)
	if err := s.identities.Register(a); err != nil {
		return nil, err
	}
	return a, nil
}

// NewAggregated registers a part of parent addressed by localKey
func (s *Session) NewAggregated(parent *models.ObjectAdapter, localKey string, payload any) (*models.ObjectAdapter, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	a, err := models.NewAggregatedAdapter(parent, localKey, payload)
	if err != nil {
		return nil, err
	}
	if err := s.identities.Register(a); err != nil {
		return nil, err
	}
	return a, nil
}

// MakePersistent enqueues a Create for a transient root object
func (s *Session) MakePersistent(a *models.ObjectAdapter) error {
	if s.closed {
		return ErrSessionClosed
	}
	switch {
	case a.IsAggregated():
		return &models.NotPersistableError{Oid: a.Oid(), Reason: "aggregated objects are persisted with their root"}
	case a.IsPersistent():
		return &models.NotPersistableError{Oid: a.Oid(), Reason: "object is already persistent"}
	case a.ResolveState() != models.StateTransient:
		return &models.NotPersistableError{Oid: a.Oid(), Reason: "object is " + a.ResolveState().String()}
	}
	if err := s.identities.Register(a); err != nil {
		return err
	}
	return s.tx.Enqueue(models.NewCreateCommand(a))
}

// ObjectChanged enqueues a Save of the changed fields.
// Changes to an aggregated part are saved through its root with the part path as field prefix.
func (s *Session) ObjectChanged(a *models.ObjectAdapter, fields ...string) error {
	if s.closed {
		return ErrSessionClosed
	}
	target := a
	if a.IsAggregated() {
		root, ok := s.identities.Lookup(a.Oid().Root())
		if !ok {
			return &models.NotFoundError{Oid: a.Oid().Root()}
		}
		fields = partFields(a.Oid(), fields)
		target = root
	}

	if !target.IsPersistent() {
		if s.tx.IsQueued(target, models.CommandCreate) {
			return nil
		}
		return &models.NotPersistableError{Oid: target.Oid(), Reason: "object is not persistent"}
	}
	if target.ResolveState() != models.StateResolved {
		return &models.NotResolvedError{Oid: target.Oid(), State: target.ResolveState()}
	}
	return s.tx.Enqueue(models.NewSaveCommand(target, fields...))
}

// DestroyObject enqueues a Destroy of a persistent root object
func (s *Session) DestroyObject(a *models.ObjectAdapter) error {
	if s.closed {
		return ErrSessionClosed
	}
	switch {
	case a.IsAggregated():
		return &models.NotPersistableError{Oid: a.Oid(), Reason: "aggregated objects are removed with their root"}
	case !a.IsPersistent():
		return &models.NotPersistableError{Oid: a.Oid(), Reason: "object was never persisted"}
	case a.ResolveState() != models.StateResolved:
		return &models.NotResolvedError{Oid: a.Oid(), State: a.ResolveState()}
	}
	return s.tx.Enqueue(models.NewDestroyCommand(a))
}

// Query returns the adapters of the objects matching spec
func (s *Session) Query(ctx context.Context, spec ports.QuerySpec) ([]*models.ObjectAdapter, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.tx.Query(ctx, spec)
}

// Begin starts a transaction
func (s *Session) Begin() error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.tx.Begin()
}

// Flush executes the queued commands without ending the transaction
func (s *Session) Flush(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.tx.Flush(ctx)
}

// Commit commits the active transaction
func (s *Session) Commit(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.tx.Commit(ctx)
}

// Abort discards the active transaction
func (s *Session) Abort() {
	s.tx.Abort()
}

// RunInTransaction runs fn in a new transaction, committing on success and aborting on error
func (s *Session) RunInTransaction(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	if err := s.Begin(); err != nil {
		return err
	}
	if err := fn(ctx, s); err != nil {
		s.Abort()
		return err
	}
	return s.Commit(ctx)
}

// Clear drops every adapter of the session; it is refused while a transaction is running
func (s *Session) Clear() error {
	if s.tx.State() != txn.StateIdle {
		return errors.Wrap(models.ErrTransactionAlreadyActive, "clear session")
	}
	s.identities.Reset()
	return nil
}

func partFields(oid models.Oid, fields []string) []string {
	var path []string
	for cur := oid; cur.IsAggregated(); {
		path = append([]string{cur.LocalKey()}, path...)
		cur, _ = cur.Parent()
	}
	prefix := strings.Join(path, ".")
	if len(fields) == 0 {
		return []string{prefix}
	}

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, prefix+"."+f)
	}
	return out
}
