package identitymap

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidkeeper/internal/domain/models"
)

func TestRegisterAndLookup(t *testing.T) {
	m := New()
	oid := models.NewRootOid("Customer", "42")
	a := models.NewGhostAdapter(oid)

	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(a), "re-registering the same instance is a no-op")

	first, ok := m.Lookup(oid)
	require.True(t, ok)
	second, ok := m.Lookup(models.NewRootOid("Customer", "42"))
	require.True(t, ok)
	assert.Same(t, first, second)
	assert.Same(t, a, first)

	err := m.Register(models.NewGhostAdapter(oid))
	assert.True(t, errors.Is(err, models.ErrDuplicateIdentity))
	var dup *models.DuplicateIdentityError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, oid, dup.Oid)
	assert.Equal(t, 1, m.Len())

	_, ok = m.Lookup(models.NewRootOid("Customer", "43"))
	assert.False(t, ok)
}

func TestRegisterRejectsIdentifiersThatDoNotRoundTrip(t *testing.T) {
	m := New()
	for _, oid := range []models.Oid{
		models.NewRootOid("Invoice", ""),
		models.NewRootOid("", "1"),
		models.NewAggregatedOid(models.Oid{}, "l1"),
		models.NewAggregatedOid(models.NewRootOid("Invoice", "1"), ""),
	} {
		err := m.Register(models.NewGhostAdapter(oid))
		assert.True(t, errors.Is(err, models.ErrMalformedIdentifier), oid.String())
	}
	assert.Zero(t, m.Len())
}

func TestRemapIsOneWay(t *testing.T) {
	m := New()
	a := models.NewTransientAdapter("Invoice", nil)
	transient := a.Oid()
	require.NoError(t, m.Register(a))

	durable := models.NewRootOid("Invoice", "1")
	_, err := m.Remap(transient, durable)
	require.NoError(t, err)

	got, ok := m.Lookup(durable)
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, durable, a.Oid())
	_, ok = m.Lookup(transient)
	assert.False(t, ok)

	_, err = m.Remap(transient, models.NewRootOid("Invoice", "2"))
	assert.True(t, errors.Is(err, models.ErrAlreadyPromoted))

	_, err = m.Remap(durable, models.NewRootOid("Invoice", "2"))
	assert.True(t, errors.Is(err, models.ErrAlreadyPromoted))

	assert.Equal(t, durable, a.Oid())
	assert.Equal(t, 1, m.Len())
}

func TestRemapRejections(t *testing.T) {
	m := New()
	a := models.NewTransientAdapter("Invoice", nil)
	require.NoError(t, m.Register(a))
	taken := models.NewGhostAdapter(models.NewRootOid("Invoice", "7"))
	require.NoError(t, m.Register(taken))

	_, err := m.Remap(models.NewTransientOid("Invoice"), models.NewRootOid("Invoice", "1"))
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = m.Remap(a.Oid(), models.NewTransientOid("Invoice"))
	assert.True(t, errors.Is(err, models.ErrNotPersistable))

	_, err = m.Remap(a.Oid(), taken.Oid())
	assert.True(t, errors.Is(err, models.ErrDuplicateIdentity))

	assert.True(t, a.Oid().IsTransient(), "rejected remap leaves the adapter untouched")
}

func TestRemapReRootsChildren(t *testing.T) {
	m := New()
	parent := models.NewTransientAdapter("Invoice", nil)
	require.NoError(t, m.Register(parent))
	lines, err := models.NewAggregatedAdapter(parent, "lines", nil)
	require.NoError(t, err)
	require.NoError(t, m.Register(lines))
	first, err := models.NewAggregatedAdapter(lines, "0", nil)
	require.NoError(t, err)
	require.NoError(t, m.Register(first))

	durable := models.NewRootOid("Invoice", "9")
	moved, err := m.Remap(parent.Oid(), durable)
	require.NoError(t, err)
	require.Len(t, moved, 2)

	assert.Equal(t, "Invoice:9~lines", lines.Oid().String())
	assert.Equal(t, "Invoice:9~lines~0", first.Oid().String())
	got, ok := m.Lookup(models.NewAggregatedOid(models.NewAggregatedOid(durable, "lines"), "0"))
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, 3, m.Len())
}

func TestRemoveAndReset(t *testing.T) {
	m := New()
	root := models.NewRootOid("Customer", "1")
	parent := models.NewGhostAdapter(root)
	require.NoError(t, m.Register(parent))
	child := models.NewGhostAdapter(models.NewAggregatedOid(root, "address"))
	require.NoError(t, m.Register(child))
	other := models.NewGhostAdapter(models.NewRootOid("Customer", "2"))
	require.NoError(t, m.Register(other))

	removed := m.Remove(root)
	require.Len(t, removed, 1)
	assert.Same(t, child, removed[0])
	assert.Equal(t, 1, m.Len())
	assert.Nil(t, m.Remove(root), "removing an absent identifier is a no-op")

	var seen []string
	m.Range(func(a *models.ObjectAdapter) bool {
		seen = append(seen, a.Oid().String())
		return true
	})
	assert.Equal(t, []string{"Customer:2"}, seen)

	m.Reset()
	assert.Equal(t, 0, m.Len())
	_, ok := m.Lookup(other.Oid())
	assert.False(t, ok)
}
