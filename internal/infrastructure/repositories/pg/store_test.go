package pg

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/domain/ports"
	"oidkeeper/internal/infrastructure/repositories/codec"
)

type note struct {
	Title string `json:"title"`
	Size  int    `json:"size"`
}

// StoreSuite runs against the database named by TEST_PG_URI
type StoreSuite struct {
	suite.Suite
	cm    *ConnectionManager
	store *Store
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	uri := os.Getenv("TEST_PG_URI")
	if uri == "" {
		t.Skip("TEST_PG_URI is not set")
	}
	suite.Run(t, &StoreSuite{cm: NewConnectionManager(ConnectionConfig{
		URI:            uri,
		MaxConns:       4,
		MinConns:       1,
		HealthTimeout:  5 * time.Second,
		ConnectTimeout: 10 * time.Second,
	})})
}

func (s *StoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.Require().NoError(s.cm.Connect(s.ctx))
	_, err := RunMigrations(s.ctx, s.cm.Pool())
	s.Require().NoError(err)

	c := codec.NewRegistry()
	codec.RegisterType[note](c, "PgNote")
	s.store = NewStore(s.cm, c, WithAuthor("suite"))
}

func (s *StoreSuite) SetupTest() {
	_, err := s.cm.Pool().Exec(s.ctx, `DELETE FROM `+TblObjects.Qualified()+` WHERE type_tag = 'PgNote'`)
	s.Require().NoError(err)
}

func (s *StoreSuite) TearDownSuite() {
	s.NoError(s.store.Close())
}

func (s *StoreSuite) create(n *note) models.Oid {
	results, err := s.store.Execute(s.ctx, []models.PersistenceCommand{
		models.NewCreateCommand(models.NewTransientAdapter("PgNote", n)),
	})
	s.Require().NoError(err)
	s.Require().NoError(results[0].Err)
	return results[0].Oid
}

func (s *StoreSuite) resolved(oid models.Oid) *models.ObjectAdapter {
	res, err := s.store.Fetch(s.ctx, oid)
	s.Require().NoError(err)
	a := models.NewGhostAdapter(oid)
	s.Require().NoError(models.Transition(a, models.StateResolving))
	s.Require().NoError(a.Hydrate(res.Payload, &res.Version))
	s.Require().NoError(models.Transition(a, models.StateResolved))
	return a
}

func (s *StoreSuite) TestCreateFetch() {
	oid := s.create(&note{Title: "a", Size: 1})
	res, err := s.store.Fetch(s.ctx, oid)
	s.Require().NoError(err)
	s.Equal(&note{Title: "a", Size: 1}, res.Payload)
	s.Equal(int64(1), res.Version.Sequence)
	s.Equal("suite", res.Version.By)

	_, err = s.store.Fetch(s.ctx, models.NewRootOid("PgNote", "nope"))
	s.True(models.IsNotFound(err))
}

func (s *StoreSuite) TestSaveConflict() {
	oid := s.create(&note{Title: "a"})
	first, second := s.resolved(oid), s.resolved(oid)

	results, err := s.store.Execute(s.ctx, []models.PersistenceCommand{models.NewSaveCommand(first, "title")})
	s.Require().NoError(err)
	s.Require().NoError(results[0].Err)
	s.Equal(int64(2), results[0].Version.Sequence)

	results, err = s.store.Execute(s.ctx, []models.PersistenceCommand{models.NewSaveCommand(second, "title")})
	s.Require().NoError(err)
	var conflict *models.ConcurrencyConflictError
	s.Require().ErrorAs(results[0].Err, &conflict)
	s.Equal(int64(2), conflict.Actual.Sequence)
}

func (s *StoreSuite) TestBatchRollsBack() {
	oid := s.create(&note{Title: "a"})
	gone := s.resolved(oid)
	results, err := s.store.Execute(s.ctx, []models.PersistenceCommand{models.NewDestroyCommand(gone)})
	s.Require().NoError(err)
	s.Require().NoError(results[0].Err)

	results, err = s.store.Execute(s.ctx, []models.PersistenceCommand{
		models.NewCreateCommand(models.NewTransientAdapter("PgNote", &note{Title: "b"})),
		models.NewDestroyCommand(gone),
		models.NewCreateCommand(models.NewTransientAdapter("PgNote", &note{Title: "c"})),
	})
	s.Require().NoError(err)
	s.NoError(results[0].Err)
	s.True(models.IsNotFound(results[1].Err))
	s.ErrorIs(results[2].Err, ports.ErrNotExecuted)

	all, err := s.store.RunQuery(s.ctx, ports.NewQuery("PgNote"))
	s.Require().NoError(err)
	s.Empty(all)
}

func (s *StoreSuite) TestRunQuery() {
	s.create(&note{Title: "a", Size: 1})
	s.create(&note{Title: "b", Size: 5})

	big, err := s.store.RunQuery(s.ctx, ports.NewQuery("PgNote", ports.WithFilter(`obj.size > 3`)))
	s.Require().NoError(err)
	s.Require().Len(big, 1)
	s.Equal("b", big[0].Payload.(*note).Title)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(assert.AnError))
	assert.False(t, isSerializationFailure(assert.AnError))
	assert.False(t, isSerializationFailure(nil))

	assert.True(t, isUniqueViolation(errors.Wrap(&pgconn.PgError{Code: pgUniqueViolation}, "insert")))
	assert.True(t, isSerializationFailure(&pgconn.PgError{Code: pgSerializationFailure}))
	assert.True(t, isSerializationFailure(&pgconn.PgError{Code: pgDeadlockDetected}))
	assert.Equal(t, int32(30), DefaultConnectionConfig().MaxConns)
}
