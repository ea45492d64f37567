package documents

import (
	"context"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidkeeper/internal/application/session"
	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/infrastructure/repositories/codec"
	"oidkeeper/internal/infrastructure/repositories/mem"
)

type typedInvoice struct {
	Total int `json:"total"`
}

func newService(t *testing.T, c *codec.Registry) (*Service, *session.Factory) {
	t.Helper()
	next := 0
	store := mem.NewStore(c, mem.WithKeyFunc(func() string {
		next++
		return strconv.Itoa(next)
	}))
	t.Cleanup(func() { _ = store.Close() })
	factory := session.NewFactory(store)
	return NewService(factory), factory
}

func TestService_PutGet(t *testing.T) {
	svc, factory := newService(t, codec.NewRegistry())
	ctx := context.Background()

	created, err := svc.Put(ctx, "Invoice", map[string]any{"total": 10})
	require.NoError(t, err)
	assert.Equal(t, "Invoice:1", created.Oid)
	assert.Equal(t, int64(1), created.Version.Sequence)

	got, err := svc.Get(ctx, models.NewRootOid("Invoice", "1"))
	require.NoError(t, err)
	assert.Equal(t, created.Oid, got.Oid)
	assert.Equal(t, map[string]any{"total": float64(10)}, got.Data)
	assert.Equal(t, 0, factory.OpenSessions())
}

func TestService_GetMissing(t *testing.T) {
	svc, _ := newService(t, codec.NewRegistry())

	_, err := svc.Get(context.Background(), models.NewRootOid("Invoice", "404"))
	assert.True(t, models.IsNotFound(err))
}

func TestService_PatchBumpsVersion(t *testing.T) {
	svc, _ := newService(t, codec.NewRegistry())
	ctx := context.Background()

	_, err := svc.Put(ctx, "Invoice", map[string]any{"total": 10, "note": "a"})
	require.NoError(t, err)

	patched, err := svc.Patch(ctx, models.NewRootOid("Invoice", "1"), map[string]any{"total": 12})
	require.NoError(t, err)
	assert.Equal(t, int64(2), patched.Version.Sequence)

	got, err := svc.Get(ctx, models.NewRootOid("Invoice", "1"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"total": float64(12), "note": "a"}, got.Data)
}

func TestService_PatchIsMergePatch(t *testing.T) {
	svc, _ := newService(t, codec.NewRegistry())
	ctx := context.Background()
	oid := models.NewRootOid("Invoice", "1")

	_, err := svc.Put(ctx, "Invoice", map[string]any{
		"total": 10,
		"note":  "a",
		"buyer": map[string]any{"name": "Ann", "city": "Oslo"},
	})
	require.NoError(t, err)

	patched, err := svc.Patch(ctx, oid, map[string]any{
		"note":  nil,
		"buyer": map[string]any{"city": "Bergen"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"total": float64(10),
		"buyer": map[string]any{"name": "Ann", "city": "Bergen"},
	}, patched.Data)

	got, err := svc.Get(ctx, oid)
	require.NoError(t, err)
	assert.Equal(t, patched.Data, got.Data)
	assert.NotContains(t, got.Data, "note")
}

func TestService_PatchRejectsEmptyAndTyped(t *testing.T) {
	c := codec.NewRegistry()
	codec.RegisterType[typedInvoice](c, "Typed")
	svc, _ := newService(t, c)
	ctx := context.Background()

	_, err := svc.Patch(ctx, models.NewRootOid("Invoice", "1"), map[string]any{})
	assert.Error(t, err)

	_, err = svc.Put(ctx, "Typed", map[string]any{"total": 1})
	require.NoError(t, err)
	_, err = svc.Patch(ctx, models.NewRootOid("Typed", "1"), map[string]any{"total": 2})
	assert.True(t, errors.Is(err, ErrNotDocument))
}

func TestService_ListAndDelete(t *testing.T) {
	svc, _ := newService(t, codec.NewRegistry())
	ctx := context.Background()

	for _, total := range []int{5, 50, 500} {
		_, err := svc.Put(ctx, "Invoice", map[string]any{"total": total})
		require.NoError(t, err)
	}

	views, err := svc.List(ctx, Query{TypeTag: "Invoice", Filter: "obj.total > 10"})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "Invoice:2", views[0].Oid)
	assert.Equal(t, "Invoice:3", views[1].Oid)

	views, err = svc.List(ctx, Query{TypeTag: "Invoice", Keys: []string{"1", "3"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "Invoice:1", views[0].Oid)

	require.NoError(t, svc.Delete(ctx, models.NewRootOid("Invoice", "2")))
	_, err = svc.Get(ctx, models.NewRootOid("Invoice", "2"))
	assert.True(t, models.IsNotFound(err))

	err = svc.Delete(ctx, models.NewRootOid("Invoice", "2"))
	assert.True(t, models.IsNotFound(err))
}

func TestService_ListEmpty(t *testing.T) {
	svc, _ := newService(t, codec.NewRegistry())

	views, err := svc.List(context.Background(), Query{TypeTag: "Invoice"})
	require.NoError(t, err)
	assert.NotNil(t, views)
	assert.Empty(t, views)
}
