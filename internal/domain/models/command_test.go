package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"
)

func TestSaveCommandCapturesVersion(t *testing.T) {
	a := NewGhostAdapter(NewRootOid("Customer", "42"))
	v1 := FirstVersion(time.Now())
	a.SetVersion(v1)

	cmd := NewSaveCommand(a, "name")
	a.SetVersion(v1.Next(time.Now()))

	expected, ok := cmd.ExpectedVersion()
	require.True(t, ok)
	assert.Equal(t, int64(1), expected.Sequence, "expected version is read at enqueue time")
	assert.Equal(t, CommandSave, cmd.Kind())
	assert.Equal(t, a, cmd.Adapter())
}

func TestMergeFields(t *testing.T) {
	a := NewGhostAdapter(NewRootOid("Customer", "42"))
	first := NewSaveCommand(a, "name")
	second := NewSaveCommand(a, "email", "name")

	merged := first.MergeFields(second)
	assert.Equal(t, sets.New("name", "email"), merged.ChangedFields())
	assert.Equal(t, sets.New("name"), first.ChangedFields(), "merge must not alias the original set")
}

func TestCreateCommandHasNoExpectedVersion(t *testing.T) {
	cmd := NewCreateCommand(NewTransientAdapter("Invoice", nil))
	_, ok := cmd.ExpectedVersion()
	assert.False(t, ok)
	assert.Equal(t, 0, cmd.ChangedFields().Len())
	assert.Equal(t, "Create", cmd.Kind().String())
}

func TestLifecycleEvents(t *testing.T) {
	assert.Equal(t, EventPersisting, PreEvent(CommandCreate))
	assert.Equal(t, EventUpdated, PostEvent(CommandSave))
	assert.Equal(t, EventRemoved, PostEvent(CommandDestroy))
	assert.Equal(t, "CommitFailed", EventCommitFailed.String())
}
