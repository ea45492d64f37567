package lifecycle

import (
	"context"

	"github.com/go-logr/logr"

	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/patterns"
)

// Target is the object a hook is dispatched to
type Target struct {
	Oid     models.Oid
	Payload any
}

// TargetOf captures the identifier and payload of an adapter regardless of its state
func TargetOf(a *models.ObjectAdapter, payload any) Target {
	return Target{Oid: a.Oid(), Payload: payload}
}

// Notification is published to external observers after every dispatched event
type Notification struct {
	Event models.LifecycleEvent
	Oid   models.Oid
	// Err is the veto returned by a pre hook or the commit failure
	Err error
}

// Dispatcher invokes lifecycle hooks implemented by payload types
type Dispatcher struct {
	subj   patterns.Subject[Notification]
	logger logr.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(logger logr.Logger) *Dispatcher {
	return &Dispatcher{
		subj:   patterns.NewSubject[Notification](),
		logger: logger.WithName("lifecycle"),
	}
}

// Subject returns the dispatcher's subject
func (d *Dispatcher) Subject() patterns.Subject[Notification] {
	return d.subj
}

// Loading fires the Loading hook once the payload is installed and before the adapter is resolved
func (d *Dispatcher) Loading(ctx context.Context, t Target) {
	if h, ok := t.Payload.(models.LoadingHook); ok {
		h.OnLoading(ctx)
	}
	d.subj.Notify(Notification{Event: models.EventLoading, Oid: t.Oid})
}

// Pre fires a pre hook (Persisting, Updating, Removing).
// A non-nil error is a veto returned by the payload.
func (d *Dispatcher) Pre(ctx context.Context, event models.LifecycleEvent, t Target) error {
	var err error
	switch event {
	case models.EventPersisting:
		if h, ok := t.Payload.(models.PersistingHook); ok {
			err = h.OnPersisting(ctx)
		}
	case models.EventUpdating:
		if h, ok := t.Payload.(models.UpdatingHook); ok {
			err = h.OnUpdating(ctx)
		}
	case models.EventRemoving:
		if h, ok := t.Payload.(models.RemovingHook); ok {
			err = h.OnRemoving(ctx)
		}
	default:
		d.logger.Error(nil, "not a pre event", "event", event.String(), "oid", t.Oid.String())
		return nil
	}

	if err != nil {
		d.logger.V(1).Info("hook vetoed", "event", event.String(), "oid", t.Oid.String(), "error", err.Error())
	}
	d.subj.Notify(Notification{Event: event, Oid: t.Oid, Err: err})
	return err
}

// Post fires a post hook (Loaded, Persisted, Updated, Removed)
func (d *Dispatcher) Post(ctx context.Context, event models.LifecycleEvent, t Target) {
	switch event {
	case models.EventLoaded:
		if h, ok := t.Payload.(models.LoadedHook); ok {
			h.OnLoaded(ctx)
		}
	case models.EventPersisted:
		if h, ok := t.Payload.(models.PersistedHook); ok {
			h.OnPersisted(ctx)
		}
	case models.EventUpdated:
		if h, ok := t.Payload.(models.UpdatedHook); ok {
			h.OnUpdated(ctx)
		}
	case models.EventRemoved:
		if h, ok := t.Payload.(models.RemovedHook); ok {
			h.OnRemoved(ctx)
		}
	default:
		d.logger.Error(nil, "not a post event", "event", event.String(), "oid", t.Oid.String())
		return
	}
	d.subj.Notify(Notification{Event: event, Oid: t.Oid})
}

// Failed fires CommitFailed with the error that aborted the batch
func (d *Dispatcher) Failed(ctx context.Context, t Target, cause error) {
	if h, ok := t.Payload.(models.CommitFailedHook); ok {
		h.OnCommitFailed(ctx, cause)
	}
	d.subj.Notify(Notification{Event: models.EventCommitFailed, Oid: t.Oid, Err: cause})
}
