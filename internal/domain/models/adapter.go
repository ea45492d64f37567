package models

// ObjectAdapter binds a domain payload to its identifier, resolve state and version.
// It is the unit held by the identity map; a session holds at most one adapter per identifier.
type ObjectAdapter struct {
	oid     Oid
	state   ResolveState
	version *Version
	payload any
}

// NewTransientAdapter wraps a payload that has never been persisted
func NewTransientAdapter(typeTag string, payload any) *ObjectAdapter {
	return &ObjectAdapter{
		oid:     NewTransientOid(typeTag),
		state:   StateTransient,
		payload: payload,
	}
}

// NewGhostAdapter returns a lazy reference to a stored object
func NewGhostAdapter(oid Oid) *ObjectAdapter {
	return &ObjectAdapter{
		oid:   oid,
		state: StateGhost,
	}
}

// NewAggregatedAdapter wraps a part of parent addressed by localKey.
// Parts of a transient parent start Transient; parts of a resolved parent start Resolved.
func NewAggregatedAdapter(parent *ObjectAdapter, localKey string, payload any) (*ObjectAdapter, error) {
	if localKey == "" {
		return nil, &NotPersistableError{Oid: parent.oid, Reason: "empty local key"}
	}
	a := &ObjectAdapter{
		oid:     NewAggregatedOid(parent.oid, localKey),
		state:   StateTransient,
		payload: payload,
	}
	switch parent.state {
	case StateTransient:
		return a, nil
	case StateResolved:
		a.state = StateResolved
		return a, nil
	default:
		return nil, &NotResolvedError{Oid: parent.oid, State: parent.state}
	}
}

// Oid returns the current identifier
func (a *ObjectAdapter) Oid() Oid {
	return a.oid
}

// ResolveState returns the current lifecycle state
func (a *ObjectAdapter) ResolveState() ResolveState {
	return a.state
}

// Version returns the stamp read from the store, if any
func (a *ObjectAdapter) Version() (Version, bool) {
	if a.version == nil {
		return Version{}, false
	}
	return *a.version, true
}

// IsAggregated reports whether the adapter wraps a part of another object
func (a *ObjectAdapter) IsAggregated() bool {
	return a.oid.IsAggregated()
}

// IsPersistent reports whether the object has a durable identifier
func (a *ObjectAdapter) IsPersistent() bool {
	return !a.oid.IsTransient()
}

// Payload returns the wrapped domain value
func (a *ObjectAdapter) Payload() (any, error) {
	switch a.state {
	case StateGhost, StateDestroyed:
		return nil, &NotResolvedError{Oid: a.oid, State: a.state}
	}
	return a.payload, nil
}

// PayloadMut returns the wrapped domain value for modification.
// Only new objects and resolved objects may be modified.
func (a *ObjectAdapter) PayloadMut() (any, error) {
	switch a.state {
	case StateTransient, StateResolved:
		return a.payload, nil
	}
	return nil, &NotResolvedError{Oid: a.oid, State: a.state}
}

// SetVersion records the stamp confirmed by the store.
// Reserved for the transaction manager.
func (a *ObjectAdapter) SetVersion(v Version) {
	a.version = &v
}

// Hydrate installs a payload fetched from the store; the adapter must be Resolving
func (a *ObjectAdapter) Hydrate(payload any, v *Version) error {
	if a.state != StateResolving {
		return &NotResolvedError{Oid: a.oid, State: a.state}
	}
	a.payload = payload
	if v != nil {
		a.SetVersion(*v)
	}
	return nil
}

// AssignDurableOid replaces a transient identifier. The replacement happens at most once:
// the current identifier must be transient and the new one must not be.
func (a *ObjectAdapter) AssignDurableOid(oid Oid) error {
	if !a.oid.IsTransient() {
		return &NotPersistableError{Oid: a.oid, Reason: ErrAlreadyPromoted.Error()}
	}
	if oid.IsTransient() || oid.IsZero() {
		return &NotPersistableError{Oid: oid, Reason: "replacement identifier is not durable"}
	}
	if oid.TypeTag() != a.oid.TypeTag() || oid.IsAggregated() != a.oid.IsAggregated() {
		return &NotPersistableError{Oid: oid, Reason: "replacement identifier has a different shape"}
	}
	a.oid = oid
	return nil
}

// PayloadAs returns the payload of a converted to T
func PayloadAs[T any](a *ObjectAdapter) (T, error) {
	var zero T
	p, err := a.Payload()
	if err != nil {
		return zero, err
	}
	v, ok := p.(T)
	if !ok {
		return zero, &NotResolvedError{Oid: a.oid, State: a.state}
	}
	return v, nil
}
