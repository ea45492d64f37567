package pg

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/domain/ports"
)

func TestBuildSelect(t *testing.T) {
	q, args := buildSelect(ports.NewQuery("Note", ports.WithLimit(5)), true)
	assert.Contains(t, q, "FROM oidkeeper.objects")
	assert.Contains(t, q, "LIMIT $2")
	assert.Equal(t, []any{"Note", 5}, args)

	q, args = buildSelect(ports.NewQuery("Note", ports.WithLimit(5)), false)
	assert.NotContains(t, q, "LIMIT")
	assert.Equal(t, []any{"Note"}, args)

	scope := ports.NewOidScope(models.NewRootOid("Note", "a"), models.NewRootOid("Other", "b"))
	q, args = buildSelect(ports.NewQuery("Note", ports.WithScope(scope)), true)
	assert.Contains(t, q, "pkey = ANY($2)")
	assert.Equal(t, []any{"Note", []string{"a"}}, args)
}

func TestMigrationNames(t *testing.T) {
	names, err := MigrationNames()
	assert.NoError(t, err)
	assert.Equal(t, []string{"0001_objects.sql", "0002_objects_data_idx.sql"}, names)
}

func TestBatchOid(t *testing.T) {
	created := models.NewCreateCommand(models.NewTransientAdapter("Note", nil))
	assert.True(t, batchOid([]models.PersistenceCommand{created}).IsZero())
}
