package txn

import (
	"context"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"oidkeeper/internal/application/identitymap"
	"oidkeeper/internal/application/lifecycle"
	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/domain/ports"
)

// State of a transaction manager
type State int

const (
	StateIdle State = iota
	StateActive
	StateCommitting
	StateAborting
)

// String stringer interface impl
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateActive:
		return "Active"
	case StateCommitting:
		return "Committing"
	case StateAborting:
		return "Aborting"
	default:
		return "Unknown"
	}
}

// Metrics receives transaction outcomes
type Metrics interface {
	ObserveCommit(commands int, elapsed time.Duration, err error)
	ObserveAbort(discarded int)
	ObserveConflict(oid models.Oid)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCommit(int, time.Duration, error) {}
func (noopMetrics) ObserveAbort(int)                        {}
func (noopMetrics) ObserveConflict(models.Oid)              {}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger logr.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithClock sets the clock used for timing commits
func WithClock(c clock.PassiveClock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// flushedCommand is a command of a flushed batch together with the hook target captured at flush time
type flushedCommand struct {
	cmd    models.PersistenceCommand
	target lifecycle.Target
}

// Manager owns the command queue of a session and drives the object store.
// All reads and writes of a session go through it.
type Manager struct {
	store      ports.ObjectStore
	identities *identitymap.IdentityMap
	dispatcher *lifecycle.Dispatcher
	queue      *Queue
	state      State

	// batches flushed in the current transaction, awaiting post hooks
	committed []flushedCommand
	// the batch that failed and its error; a failed transaction can only end
	failed  []flushedCommand
	failure error

	logger  logr.Logger
	metrics Metrics
	clock   clock.PassiveClock
}

// NewManager creates an idle transaction manager
func NewManager(store ports.ObjectStore, identities *identitymap.IdentityMap, dispatcher *lifecycle.Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		identities: identities,
		dispatcher: dispatcher,
		queue:      NewQueue(),
		logger:     logr.Discard(),
		metrics:    noopMetrics{},
		clock:      clock.RealClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current transaction state
func (m *Manager) State() State {
	return m.state
}

// Pending returns the queued commands in enqueue order
func (m *Manager) Pending() []models.PersistenceCommand {
	return m.queue.Commands()
}

// IsQueued reports whether a command of kind k is queued for a
func (m *Manager) IsQueued(a *models.ObjectAdapter, k models.CommandKind) bool {
	return m.queue.Has(a, k)
}

// Begin starts a transaction
func (m *Manager) Begin() error {
	if m.state != StateIdle {
		return errors.Wrapf(models.ErrTransactionAlreadyActive, "transaction is %s", m.state)
	}
	m.reset()
	m.state = StateActive
	m.logger.V(1).Info("transaction started")
	return nil
}

// Enqueue adds a command to the active transaction
func (m *Manager) Enqueue(cmd models.PersistenceCommand) error {
	if m.state != StateActive {
		return errors.Wrapf(models.ErrNoActiveTransaction, "enqueue %s", cmd)
	}
	if m.failure != nil {
		return errors.WithMessage(m.failure, "transaction failed and must be aborted")
	}
	merged, err := m.queue.Enqueue(cmd)
	if err != nil {
		return err
	}
	m.logger.V(2).Info("command enqueued", "command", cmd.String(), "merged", merged)
	return nil
}

// Flush executes the queued commands against the store.
// The batch is applied atomically; on failure the transaction can only be committed (which reports
// the failure) or aborted.
func (m *Manager) Flush(ctx context.Context) error {
	if m.state != StateActive {
		return errors.Wrap(models.ErrNoActiveTransaction, "flush")
	}
	if m.failure != nil {
		return m.failure
	}
	return m.flush(ctx)
}

// Commit flushes the queue and ends the transaction.
// Post hooks fire in enqueue order once the batch is known to be stored, CommitFailed hooks otherwise.
func (m *Manager) Commit(ctx context.Context) error {
	if m.state != StateActive {
		return errors.Wrap(models.ErrNoActiveTransaction, "commit")
	}
	m.state = StateCommitting
	start := m.clock.Now()

	err := m.failure
	if err == nil {
		err = m.flush(ctx)
	}

	committed, failed := m.committed, m.failed
	total := len(committed) + len(failed)
	if err != nil {
		m.state = StateAborting
	}
	m.reset()
	m.state = StateIdle

	// batches of earlier explicit flushes are stored even when a later one failed
	for _, f := range committed {
		m.dispatcher.Post(ctx, models.PostEvent(f.cmd.Kind()), f.target)
	}
	for _, f := range failed {
		m.dispatcher.Failed(ctx, f.target, err)
	}

	m.metrics.ObserveCommit(total, m.clock.Since(start), err)
	if err != nil {
		m.logger.Info("transaction commit failed", "commands", total, "error", err.Error())
		return err
	}
	m.logger.V(1).Info("transaction committed", "commands", total)
	return nil
}

// Abort discards the queue without touching the store.
// In-memory payload changes are not rolled back; that is left to the domain objects.
func (m *Manager) Abort() {
	if m.state == StateIdle {
		return
	}
	m.state = StateAborting
	discarded := m.queue.Len()
	if len(m.committed) > 0 {
		m.logger.Info("aborting after an explicit flush, flushed commands stay stored", "flushed", len(m.committed))
	}
	m.reset()
	m.state = StateIdle
	m.metrics.ObserveAbort(discarded)
	m.logger.V(1).Info("transaction aborted", "discarded", discarded)
}

func (m *Manager) reset() {
	m.queue.Clear()
	m.committed = nil
	m.failed = nil
	m.failure = nil
}

func (m *Manager) flush(ctx context.Context) error {
	cmds := m.queue.Drain()
	if len(cmds) == 0 {
		return nil
	}

	batch := make([]flushedCommand, len(cmds))
	for i, cmd := range cmds {
		batch[i] = flushedCommand{
			cmd:    cmd,
			target: lifecycle.Target{Oid: cmd.Oid(), Payload: cmd.Payload()},
		}
		if err := m.dispatcher.Pre(ctx, models.PreEvent(cmd.Kind()), batch[i].target); err != nil {
			return m.fail(batch, &models.CommandExecutionFailedError{Index: i, Kind: cmd.Kind(), Oid: cmd.Oid(), Cause: err})
		}
	}

	m.logger.V(1).Info("flushing commands", "count", len(cmds))
	results, err := m.store.Execute(ctx, cmds)
	if err != nil {
		return m.fail(batch, &models.CommandExecutionFailedError{Index: -1, Cause: err})
	}
	if len(results) != len(cmds) {
		return m.fail(batch, &models.CommandExecutionFailedError{
			Index: -1,
			Cause: errors.Errorf("store returned %d results for %d commands", len(results), len(cmds)),
		})
	}
	if i, cause := ports.FirstFailure(results); i >= 0 {
		if models.IsConcurrencyConflict(cause) {
			m.metrics.ObserveConflict(cmds[i].Oid())
		}
		return m.fail(batch, &models.CommandExecutionFailedError{Index: i, Kind: cmds[i].Kind(), Oid: cmds[i].Oid(), Cause: cause})
	}

	for i := range batch {
		if err := m.apply(batch[i].cmd, results[i]); err != nil {
			m.logger.Error(err, "identity map out of sync with store", "command", batch[i].cmd.String())
		}
		batch[i].target.Oid = batch[i].cmd.Oid()
	}
	m.committed = append(m.committed, batch...)
	return nil
}

func (m *Manager) fail(batch []flushedCommand, err error) error {
	m.failed = batch
	m.failure = err
	return err
}

// apply updates the identity map and the adapters after a stored command
func (m *Manager) apply(cmd models.PersistenceCommand, res ports.ExecResult) error {
	a := cmd.Adapter()
	switch cmd.Kind() {
	case models.CommandCreate:
		oldOid := a.Oid()
		if _, ok := m.identities.Lookup(oldOid); !ok {
			if err := m.identities.Register(a); err != nil {
				return err
			}
		}
		moved, err := m.identities.Remap(oldOid, res.Oid)
		if err != nil {
			return err
		}
		a.SetVersion(res.Version)
		for _, x := range append([]*models.ObjectAdapter{a}, moved...) {
			if x.ResolveState() != models.StateTransient {
				continue
			}
			if err := models.Transition(x, models.StateResolving); err != nil {
				return err
			}
			if err := models.Transition(x, models.StateResolved); err != nil {
				return err
			}
		}
	case models.CommandSave:
		a.SetVersion(res.Version)
	case models.CommandDestroy:
		removed := m.identities.Remove(a.Oid())
		for _, x := range append([]*models.ObjectAdapter{a}, removed...) {
			if x.ResolveState() != models.StateResolved {
				continue
			}
			if err := models.Transition(x, models.StateDestroyed); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load returns the adapter for oid, fetching it from the store when it is not resolved yet.
// Aggregated identifiers are loaded through their root.
func (m *Manager) Load(ctx context.Context, oid models.Oid) (*models.ObjectAdapter, error) {
	if oid.IsAggregated() {
		if _, err := m.Load(ctx, oid.Root()); err != nil {
			return nil, err
		}
		if a, ok := m.identities.Lookup(oid); ok {
			return a, nil
		}
		return nil, &models.NotFoundError{Oid: oid}
	}

	if a, ok := m.identities.Lookup(oid); ok {
		return a, m.Resolve(ctx, a)
	}
	if oid.IsTransient() {
		return nil, &models.NotFoundError{Oid: oid}
	}

	a := models.NewGhostAdapter(oid)
	if err := m.identities.Register(a); err != nil {
		return nil, err
	}
	if err := m.Resolve(ctx, a); err != nil {
		if models.IsNotFound(err) {
			m.identities.Remove(oid)
		}
		return nil, err
	}
	return a, nil
}

// Resolve loads the payload of a ghost adapter; other states are left untouched
func (m *Manager) Resolve(ctx context.Context, a *models.ObjectAdapter) error {
	if a.ResolveState() != models.StateGhost {
		return nil
	}
	res, err := m.store.Fetch(ctx, a.Oid())
	if err != nil {
		return err
	}
	return m.hydrate(ctx, a, res.Payload, &res.Version)
}

// Query runs spec against the store and maps every result through the identity map.
// Adapters already present in the session are returned as they are.
func (m *Manager) Query(ctx context.Context, spec ports.QuerySpec) ([]*models.ObjectAdapter, error) {
	results, err := m.store.RunQuery(ctx, spec)
	if err != nil {
		return nil, err
	}

	adapters := make([]*models.ObjectAdapter, 0, len(results))
	for _, r := range results {
		a, ok := m.identities.Lookup(r.Oid)
		if !ok {
			a = models.NewGhostAdapter(r.Oid)
			if err := m.identities.Register(a); err != nil {
				return nil, err
			}
		}
		if a.ResolveState() == models.StateGhost {
			v := r.Version
			if err := m.hydrate(ctx, a, r.Payload, &v); err != nil {
				return nil, err
			}
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// hydrate drives a ghost through Resolving to Resolved firing Loading then Loaded
func (m *Manager) hydrate(ctx context.Context, a *models.ObjectAdapter, payload any, v *models.Version) error {
	if err := models.Transition(a, models.StateResolving); err != nil {
		return err
	}
	if err := a.Hydrate(payload, v); err != nil {
		return err
	}
	target := lifecycle.TargetOf(a, payload)
	m.dispatcher.Loading(ctx, target)
	if err := models.Transition(a, models.StateResolved); err != nil {
		return err
	}
	m.dispatcher.Post(ctx, models.EventLoaded, target)
	return m.registerParts(ctx, a, payload)
}

func (m *Manager) registerParts(ctx context.Context, root *models.ObjectAdapter, payload any) error {
	agg, ok := payload.(models.AggregateRoot)
	if !ok {
		return nil
	}
	parts := agg.AggregatedParts()
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		oid := models.NewAggregatedOid(root.Oid(), k)
		if _, exists := m.identities.Lookup(oid); exists {
			continue
		}
		part := models.NewGhostAdapter(oid)
		if err := m.identities.Register(part); err != nil {
			return err
		}
		if err := m.hydrate(ctx, part, parts[k], nil); err != nil {
			return err
		}
	}
	return nil
}
