package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidkeeper/internal/domain/models"
)

func TestCollector_ObserveCommit(t *testing.T) {
	c := NewCollector(nil)
	oid := models.NewRootOid("Invoice", "1")

	c.ObserveCommit(3, 10*time.Millisecond, nil)
	c.ObserveCommit(1, time.Millisecond, &models.ConcurrencyConflictError{Oid: oid})
	c.ObserveCommit(2, time.Millisecond, errors.New("boom"))
	c.ObserveCommit(1, time.Millisecond, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.commits.WithLabelValues(OutcomeCommitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commits.WithLabelValues(OutcomeConflict)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commits.WithLabelValues(OutcomeFailed)))
}

func TestCollector_AbortsAndConflicts(t *testing.T) {
	c := NewCollector(nil)

	c.ObserveAbort(4)
	c.ObserveAbort(0)
	c.ObserveConflict(models.NewRootOid("Invoice", "1"))
	c.ObserveConflict(models.NewRootOid("Invoice", "2"))
	c.ObserveConflict(models.NewRootOid("Customer", "7"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.aborts))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.discarded))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.conflicts.WithLabelValues("Invoice")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conflicts.WithLabelValues("Customer")))
}

func TestCollector_OpenSessions(t *testing.T) {
	open := 3
	c := NewCollector(func() int { return open })
	assert.Equal(t, 3.0, testutil.ToFloat64(c.openSessions))

	open = 1
	assert.Equal(t, 1.0, testutil.ToFloat64(c.openSessions))
}

func TestCollector_Register(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c := NewCollector(func() int { return 0 })
	require.NoError(t, reg.Register(c))

	c.ObserveCommit(1, time.Millisecond, nil)
	c.ObserveConflict(models.NewRootOid("Invoice", "1"))

	count, err := testutil.GatherAndCount(reg,
		"oidkeeper_commits_total",
		"oidkeeper_conflicts_total",
		"oidkeeper_open_sessions",
	)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
