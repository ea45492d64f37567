package lifecycle

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidkeeper/internal/domain/models"
)

type fullHooks struct {
	calls []string
	veto  error
}

func (h *fullHooks) OnLoading(context.Context) { h.calls = append(h.calls, "Loading") }
func (h *fullHooks) OnLoaded(context.Context)  { h.calls = append(h.calls, "Loaded") }
func (h *fullHooks) OnPersisting(context.Context) error {
	h.calls = append(h.calls, "Persisting")
	return h.veto
}
func (h *fullHooks) OnPersisted(context.Context) { h.calls = append(h.calls, "Persisted") }
func (h *fullHooks) OnUpdating(context.Context) error {
	h.calls = append(h.calls, "Updating")
	return h.veto
}
func (h *fullHooks) OnUpdated(context.Context) { h.calls = append(h.calls, "Updated") }
func (h *fullHooks) OnRemoving(context.Context) error {
	h.calls = append(h.calls, "Removing")
	return h.veto
}
func (h *fullHooks) OnRemoved(context.Context) { h.calls = append(h.calls, "Removed") }
func (h *fullHooks) OnCommitFailed(_ context.Context, err error) {
	h.calls = append(h.calls, "CommitFailed:"+err.Error())
}

type onlyLoaded struct {
	loaded int
}

func (o *onlyLoaded) OnLoaded(context.Context) { o.loaded++ }

func TestDispatchAllHooks(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(logr.Discard())
	hooks := &fullHooks{}
	target := Target{Oid: models.NewRootOid("Customer", "1"), Payload: hooks}

	d.Loading(ctx, target)
	for _, e := range []models.LifecycleEvent{models.EventPersisting, models.EventUpdating, models.EventRemoving} {
		require.NoError(t, d.Pre(ctx, e, target))
	}
	for _, e := range []models.LifecycleEvent{models.EventLoaded, models.EventPersisted, models.EventUpdated, models.EventRemoved} {
		d.Post(ctx, e, target)
	}
	d.Failed(ctx, target, errors.New("boom"))

	assert.Equal(t, []string{
		"Loading", "Persisting", "Updating", "Removing",
		"Loaded", "Persisted", "Updated", "Removed",
		"CommitFailed:boom",
	}, hooks.calls)
}

func TestDispatchSubsetOfCapabilities(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(logr.Discard())
	p := &onlyLoaded{}
	target := Target{Oid: models.NewRootOid("Customer", "1"), Payload: p}

	require.NoError(t, d.Pre(ctx, models.EventPersisting, target))
	d.Post(ctx, models.EventPersisted, target)
	d.Post(ctx, models.EventLoaded, target)
	d.Post(ctx, models.EventLoaded, Target{Oid: target.Oid, Payload: nil})

	assert.Equal(t, 1, p.loaded)
}

func TestPreHookVeto(t *testing.T) {
	d := NewDispatcher(logr.Discard())
	veto := errors.New("invalid invoice")
	target := Target{Oid: models.NewRootOid("Invoice", "1"), Payload: &fullHooks{veto: veto}}

	var notes []Notification
	d.Subject().Subscribe(func(n Notification) { notes = append(notes, n) })

	err := d.Pre(context.Background(), models.EventUpdating, target)
	assert.Equal(t, veto, err)
	require.Len(t, notes, 1)
	assert.Equal(t, models.EventUpdating, notes[0].Event)
	assert.Equal(t, veto, notes[0].Err)
}

func TestNotificationsFollowDispatchOrder(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(logr.Discard())

	var events []string
	d.Subject().Subscribe(func(n Notification) {
		events = append(events, n.Event.String()+"("+n.Oid.String()+")")
	})

	a := Target{Oid: models.NewRootOid("T", "a")}
	b := Target{Oid: models.NewRootOid("T", "b")}
	d.Post(ctx, models.EventPersisted, a)
	d.Post(ctx, models.EventRemoved, b)

	assert.Equal(t, []string{"Persisted(T:a)", "Removed(T:b)"}, events)
}

func TestLoadingIsNotAPreEvent(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(logr.Discard())
	hooks := &fullHooks{veto: errors.New("ignored")}
	target := Target{Oid: models.NewRootOid("T", "a"), Payload: hooks}

	var events []string
	d.Subject().Subscribe(func(n Notification) {
		events = append(events, n.Event.String())
	})

	d.Loading(ctx, target)
	require.NoError(t, d.Pre(ctx, models.EventLoading, target))

	assert.Equal(t, []string{"Loading"}, hooks.calls)
	assert.Equal(t, []string{"Loading"}, events)
}
