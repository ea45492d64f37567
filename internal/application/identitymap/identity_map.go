package identitymap

import (
	"sort"

	"github.com/pkg/errors"

	"oidkeeper/internal/domain/models"
)

// IdentityMap keeps at most one adapter per identifier within a session.
// It is not safe for concurrent use; a session is driven by one logical thread.
type IdentityMap struct {
	adapters map[models.Oid]*models.ObjectAdapter
	// transient identifier -> durable identifier it was promoted to
	promoted map[models.Oid]models.Oid
}

// New creates an empty identity map
func New() *IdentityMap {
	return &IdentityMap{
		adapters: make(map[models.Oid]*models.ObjectAdapter),
		promoted: make(map[models.Oid]models.Oid),
	}
}

// Lookup returns the adapter registered under oid
func (m *IdentityMap) Lookup(oid models.Oid) (*models.ObjectAdapter, bool) {
	a, ok := m.adapters[oid]
	return a, ok
}

// Register adds an adapter under its identifier. Registering the same instance again is a no-op.
func (m *IdentityMap) Register(a *models.ObjectAdapter) error {
	oid := a.Oid()
	if oid.IsZero() {
		return &models.NotPersistableError{Oid: oid, Reason: "adapter has no identifier"}
	}
	if err := oid.Validate(); err != nil {
		return err
	}
	if existing, ok := m.adapters[oid]; ok {
		if existing == a {
			return nil
		}
		return &models.DuplicateIdentityError{Oid: oid}
	}
	m.adapters[oid] = a
	return nil
}

// Remap moves the adapter registered under a transient identifier to its durable identifier.
// Aggregated descendants are re-rooted onto the new identifier and returned.
// Promotion happens once: remapping an adapter that is already durable fails with ErrAlreadyPromoted.
func (m *IdentityMap) Remap(oldOid, newOid models.Oid) ([]*models.ObjectAdapter, error) {
	if durable, done := m.promoted[oldOid]; done {
		return nil, errors.Wrapf(models.ErrAlreadyPromoted, "%s was promoted to %s", oldOid, durable)
	}
	a, ok := m.adapters[oldOid]
	if !ok {
		return nil, &models.NotFoundError{Oid: oldOid}
	}
	if !oldOid.IsTransient() {
		return nil, errors.Wrapf(models.ErrAlreadyPromoted, "remap %s -> %s", oldOid, newOid)
	}
	if newOid.IsTransient() {
		return nil, &models.NotPersistableError{Oid: newOid, Reason: "cannot remap onto a transient identifier"}
	}
	if _, taken := m.adapters[newOid]; taken {
		return nil, &models.DuplicateIdentityError{Oid: newOid}
	}
	if err := a.AssignDurableOid(newOid); err != nil {
		return nil, err
	}

	delete(m.adapters, oldOid)
	m.adapters[newOid] = a
	m.promoted[oldOid] = newOid

	descendants := m.descendantsOf(oldOid)
	moved := make([]*models.ObjectAdapter, 0, len(descendants))
	for _, child := range descendants {
		childOld := child.Oid()
		childNew, ok := childOld.Rebase(oldOid, newOid)
		if !ok {
			continue
		}
		if err := child.AssignDurableOid(childNew); err != nil {
			return moved, err
		}
		delete(m.adapters, childOld)
		m.adapters[childNew] = child
		moved = append(moved, child)
	}
	return moved, nil
}

// Remove unregisters oid and all aggregated descendants, returning the removed descendants
func (m *IdentityMap) Remove(oid models.Oid) []*models.ObjectAdapter {
	if _, ok := m.adapters[oid]; !ok {
		return nil
	}
	delete(m.adapters, oid)

	descendants := m.descendantsOf(oid)
	for _, child := range descendants {
		delete(m.adapters, child.Oid())
	}
	return descendants
}

// Reset clears the whole map
func (m *IdentityMap) Reset() {
	m.adapters = make(map[models.Oid]*models.ObjectAdapter)
	m.promoted = make(map[models.Oid]models.Oid)
}

// Len returns the number of registered adapters
func (m *IdentityMap) Len() int {
	return len(m.adapters)
}

// Range calls fn for every adapter ordered by rendered identifier until fn returns false
func (m *IdentityMap) Range(fn func(a *models.ObjectAdapter) bool) {
	for _, a := range m.sorted(func(models.Oid) bool { return true }) {
		if !fn(a) {
			return
		}
	}
}

// Children returns the aggregated descendants of oid ordered by rendered identifier
func (m *IdentityMap) Children(oid models.Oid) []*models.ObjectAdapter {
	return m.descendantsOf(oid)
}

func (m *IdentityMap) descendantsOf(oid models.Oid) []*models.ObjectAdapter {
	return m.sorted(func(candidate models.Oid) bool {
		return candidate.IsDescendantOf(oid)
	})
}

func (m *IdentityMap) sorted(match func(models.Oid) bool) []*models.ObjectAdapter {
	keys := make([]models.Oid, 0)
	for oid := range m.adapters {
		if match(oid) {
			keys = append(keys, oid)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})

	result := make([]*models.ObjectAdapter, 0, len(keys))
	for _, k := range keys {
		result = append(result, m.adapters[k])
	}
	return result
}
