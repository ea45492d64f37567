package models

import "context"

// LifecycleEvent is a well-known hook point around a state transition
type LifecycleEvent int

const (
	EventLoading LifecycleEvent = iota
	EventLoaded
	EventPersisting
	EventPersisted
	EventUpdating
	EventUpdated
	EventRemoving
	EventRemoved
	EventCommitFailed
)

var lifecycleEventNames = [...]string{
	EventLoading:      "Loading",
	EventLoaded:       "Loaded",
	EventPersisting:   "Persisting",
	EventPersisted:    "Persisted",
	EventUpdating:     "Updating",
	EventUpdated:      "Updated",
	EventRemoving:     "Removing",
	EventRemoved:      "Removed",
	EventCommitFailed: "CommitFailed",
}

// String stringer interface impl
func (e LifecycleEvent) String() string {
	if e >= 0 && int(e) < len(lifecycleEventNames) {
		return lifecycleEventNames[e]
	}
	return "Unknown"
}

// Lifecycle capability interfaces. A payload type opts in by implementing any subset.
// Pre hooks (Persisting, Updating, Removing) may veto the flush by returning an error.
type (
	LoadingHook interface {
		OnLoading(ctx context.Context)
	}

	LoadedHook interface {
		OnLoaded(ctx context.Context)
	}

	PersistingHook interface {
		OnPersisting(ctx context.Context) error
	}

	PersistedHook interface {
		OnPersisted(ctx context.Context)
	}

	UpdatingHook interface {
		OnUpdating(ctx context.Context) error
	}

	UpdatedHook interface {
		OnUpdated(ctx context.Context)
	}

	RemovingHook interface {
		OnRemoving(ctx context.Context) error
	}

	RemovedHook interface {
		OnRemoved(ctx context.Context)
	}

	// CommitFailedHook is invoked for every command of a batch that failed to commit
	CommitFailedHook interface {
		OnCommitFailed(ctx context.Context, err error)
	}
)

// AggregateRoot is implemented by payloads that own aggregated parts.
// Parts are registered under the root's identifier when the root is loaded.
type AggregateRoot interface {
	AggregatedParts() map[string]any
}

// PreEvent returns the hook fired before a command of kind k is flushed
func PreEvent(k CommandKind) LifecycleEvent {
	switch k {
	case CommandCreate:
		return EventPersisting
	case CommandSave:
		return EventUpdating
	default:
		return EventRemoving
	}
}

// PostEvent returns the hook fired after a command of kind k was committed
func PostEvent(k CommandKind) LifecycleEvent {
	switch k {
	case CommandCreate:
		return EventPersisted
	case CommandSave:
		return EventUpdated
	default:
		return EventRemoved
	}
}
