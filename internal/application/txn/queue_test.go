package txn

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"

	"oidkeeper/internal/domain/models"
)

func resolvedAdapter(t *testing.T, typeTag, key string, seq int64) *models.ObjectAdapter {
	t.Helper()
	a := models.NewGhostAdapter(models.NewRootOid(typeTag, key))
	require.NoError(t, models.Transition(a, models.StateResolving))
	v := models.Version{Sequence: seq, At: time.Now()}
	require.NoError(t, a.Hydrate(map[string]any{}, &v))
	require.NoError(t, models.Transition(a, models.StateResolved))
	return a
}

func kinds(cmds []models.PersistenceCommand) []string {
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, c.String())
	}
	return out
}

func TestQueueKeepsEnqueueOrder(t *testing.T) {
	q := NewQueue()
	a := models.NewTransientAdapter("Invoice", nil)
	b := resolvedAdapter(t, "Customer", "b", 1)
	c := resolvedAdapter(t, "Customer", "c", 1)

	for _, cmd := range []models.PersistenceCommand{
		models.NewCreateCommand(a),
		models.NewSaveCommand(b, "name"),
		models.NewDestroyCommand(c),
	} {
		merged, err := q.Enqueue(cmd)
		require.NoError(t, err)
		assert.False(t, merged)
	}

	cmds := q.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, models.CommandCreate, cmds[0].Kind())
	assert.Equal(t, models.CommandSave, cmds[1].Kind())
	assert.Equal(t, models.CommandDestroy, cmds[2].Kind())
}

func TestQueueCoalescesSaves(t *testing.T) {
	q := NewQueue()
	b := resolvedAdapter(t, "Customer", "b", 3)
	c := resolvedAdapter(t, "Customer", "c", 1)

	_, err := q.Enqueue(models.NewSaveCommand(b, "name"))
	require.NoError(t, err)
	_, err = q.Enqueue(models.NewSaveCommand(c, "email"))
	require.NoError(t, err)
	merged, err := q.Enqueue(models.NewSaveCommand(b, "email"))
	require.NoError(t, err)
	assert.True(t, merged)

	cmds := q.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, b, cmds[0].Adapter(), "coalesced save keeps its original position")
	assert.Equal(t, sets.New("name", "email"), cmds[0].ChangedFields())
	v, ok := cmds[0].ExpectedVersion()
	require.True(t, ok)
	assert.Equal(t, int64(3), v.Sequence)
}

func TestQueueFoldsSaveIntoCreate(t *testing.T) {
	q := NewQueue()
	a := models.NewTransientAdapter("Invoice", nil)

	_, err := q.Enqueue(models.NewCreateCommand(a))
	require.NoError(t, err)
	merged, err := q.Enqueue(models.NewSaveCommand(a, "total"))
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.Has(a, models.CommandCreate))
	assert.False(t, q.Has(a, models.CommandSave))

	_, err = q.Enqueue(models.NewCreateCommand(a))
	assert.True(t, errors.Is(err, models.ErrNotPersistable))
}

func TestQueueDestroyRules(t *testing.T) {
	q := NewQueue()
	b := resolvedAdapter(t, "Customer", "b", 1)

	c := resolvedAdapter(t, "Customer", "c", 3)

	_, err := q.Enqueue(models.NewSaveCommand(b, "name"))
	require.NoError(t, err)
	_, err = q.Enqueue(models.NewSaveCommand(c, "name"))
	require.NoError(t, err)
	merged, err := q.Enqueue(models.NewDestroyCommand(b))
	require.NoError(t, err)
	assert.True(t, merged)
	assert.False(t, q.Has(b, models.CommandSave))
	assert.True(t, q.Has(b, models.CommandDestroy))

	merged, err = q.Enqueue(models.NewDestroyCommand(b))
	require.NoError(t, err)
	assert.True(t, merged)

	_, err = q.Enqueue(models.NewSaveCommand(b, "name"))
	assert.True(t, errors.Is(err, models.ErrNotPersistable))

	cmds := q.Commands()
	assert.Equal(t, []string{"Destroy(Customer:b)", "Save(Customer:c)"}, kinds(cmds))
	expected, ok := cmds[0].ExpectedVersion()
	require.True(t, ok)
	assert.Equal(t, int64(1), expected.Sequence)
}

func TestQueueDrain(t *testing.T) {
	q := NewQueue()
	b := resolvedAdapter(t, "Customer", "b", 1)
	_, err := q.Enqueue(models.NewSaveCommand(b))
	require.NoError(t, err)

	drained := q.Drain()
	assert.Len(t, drained, 1)
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Has(b, models.CommandSave))
}
