package models

import (
	"k8s.io/apimachinery/pkg/util/sets"
)

// CommandKind discriminates persistence commands
type CommandKind int

const (
	// CommandCreate inserts a new object and assigns it a durable key
	CommandCreate CommandKind = iota
	// CommandSave writes changed fields of a persistent object
	CommandSave
	// CommandDestroy removes a persistent object
	CommandDestroy
)

// String stringer interface impl
func (k CommandKind) String() string {
	switch k {
	case CommandCreate:
		return "Create"
	case CommandSave:
		return "Save"
	case CommandDestroy:
		return "Destroy"
	default:
		return "Unknown"
	}
}

// ChangedFields names the fields touched by a Save
type ChangedFields = sets.Set[string]

// PersistenceCommand is a deferred Create, Save or Destroy of one object.
// Commands are executed by an object store in enqueue order.
type PersistenceCommand struct {
	kind     CommandKind
	adapter  *ObjectAdapter
	changed  ChangedFields
	expected *Version
}

// NewCreateCommand persists a transient object
func NewCreateCommand(a *ObjectAdapter) PersistenceCommand {
	return PersistenceCommand{kind: CommandCreate, adapter: a}
}

// NewSaveCommand writes fields of a persistent object; the adapter's current version is expected in the store
func NewSaveCommand(a *ObjectAdapter, fields ...string) PersistenceCommand {
	return PersistenceCommand{
		kind:     CommandSave,
		adapter:  a,
		changed:  sets.New(fields...),
		expected: a.version,
	}
}

// NewDestroyCommand removes a persistent object; the adapter's current version is expected in the store
func NewDestroyCommand(a *ObjectAdapter) PersistenceCommand {
	return PersistenceCommand{
		kind:     CommandDestroy,
		adapter:  a,
		expected: a.version,
	}
}

// Kind returns the command variant
func (c PersistenceCommand) Kind() CommandKind {
	return c.kind
}

// Adapter returns the target object
func (c PersistenceCommand) Adapter() *ObjectAdapter {
	return c.adapter
}

// Oid returns the current identifier of the target object
func (c PersistenceCommand) Oid() Oid {
	return c.adapter.oid
}

// Payload returns the target payload regardless of resolve state
func (c PersistenceCommand) Payload() any {
	return c.adapter.payload
}

// ChangedFields returns a copy of the fields touched by a Save
func (c PersistenceCommand) ChangedFields() ChangedFields {
	if c.changed == nil {
		return sets.New[string]()
	}
	return c.changed.Clone()
}

// ExpectedVersion returns the version read when the command was enqueued
func (c PersistenceCommand) ExpectedVersion() (Version, bool) {
	if c.expected == nil {
		return Version{}, false
	}
	return *c.expected, true
}

// MergeFields returns a Save carrying the union of both field sets and c's expected version
func (c PersistenceCommand) MergeFields(other PersistenceCommand) PersistenceCommand {
	merged := c
	merged.changed = c.ChangedFields().Union(other.ChangedFields())
	return merged
}

// Supersede returns c carrying the expected version of prev, the queued command c replaces
func (c PersistenceCommand) Supersede(prev PersistenceCommand) PersistenceCommand {
	out := c
	out.expected = prev.expected
	return out
}

// String returns a short description for logs
func (c PersistenceCommand) String() string {
	return c.kind.String() + "(" + c.adapter.oid.String() + ")"
}
