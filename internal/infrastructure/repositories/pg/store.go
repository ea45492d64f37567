package pg

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/domain/ports"
	"oidkeeper/internal/infrastructure/repositories/codec"
	"oidkeeper/internal/infrastructure/repositories/filter"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock stamped into versions
func WithClock(c clock.PassiveClock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithAuthor sets the author stamped into versions
func WithAuthor(author string) Option {
	return func(s *Store) {
		s.author = author
	}
}

// Store implements ports.ObjectStore over a single PostgreSQL table.
// Every Execute call runs in one repeatable read transaction.
type Store struct {
	cm      *ConnectionManager
	codec   *codec.Registry
	filters *filter.Compiler
	clock   clock.PassiveClock
	author  string
}

var _ ports.ObjectStore = (*Store)(nil)

// NewStore creates a store over a connected manager
func NewStore(cm *ConnectionManager, c *codec.Registry, opts ...Option) *Store {
	if c == nil {
		c = codec.NewRegistry()
	}
	s := &Store{
		cm:      cm,
		codec:   c,
		filters: filter.NewCompiler(),
		clock:   clock.RealClock{},
		author:  "postgresql",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch implements ports.Reader
func (s *Store) Fetch(ctx context.Context, oid models.Oid) (ports.FetchResult, error) {
	pool := s.cm.Pool()
	if pool == nil {
		return ports.FetchResult{}, ports.ErrStoreClosed
	}
	query := `
		SELECT data, seq, updated_at, updated_by
		FROM ` + TblObjects.Qualified() + `
		WHERE type_tag = $1 AND pkey = $2`

	var (
		data []byte
		v    models.Version
	)
	err := pool.QueryRow(ctx, query, oid.TypeTag(), oid.PrimaryKey()).Scan(&data, &v.Sequence, &v.At, &v.By)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ports.FetchResult{}, &models.NotFoundError{Oid: oid}
		}
		return ports.FetchResult{}, errors.Wrapf(err, "failed to fetch %s", oid)
	}
	payload, err := s.codec.Decode(oid.TypeTag(), data)
	if err != nil {
		return ports.FetchResult{}, err
	}
	return ports.FetchResult{Oid: oid, Payload: payload, Version: v}, nil
}

// RunQuery implements ports.Reader. Filters are evaluated on the fetched documents.
func (s *Store) RunQuery(ctx context.Context, spec ports.QuerySpec) ([]ports.FetchResult, error) {
	pool := s.cm.Pool()
	if pool == nil {
		return nil, ports.ErrStoreClosed
	}
	pred, err := s.filters.Compile(spec.Filter)
	if err != nil {
		return nil, err
	}

	query, args := buildSelect(spec, pred == nil)
	klog.V(4).InfoS("running query", "type", spec.TypeTag, "scope", scopeString(spec.Scope), "filter", spec.Filter)
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query objects")
	}
	defer rows.Close()

	var out []ports.FetchResult
	for rows.Next() {
		var (
			key  string
			data []byte
			v    models.Version
		)
		if err := rows.Scan(&key, &data, &v.Sequence, &v.At, &v.By); err != nil {
			return nil, errors.Wrap(err, "failed to scan object")
		}
		oid := models.NewRootOid(spec.TypeTag, key)
		if pred != nil {
			doc, err := codec.DocumentOf(data)
			if err != nil {
				return nil, err
			}
			match, err := pred.Match(doc, key, spec.TypeTag)
			if err != nil {
				return nil, err
			}
			if !match {
				continue
			}
		}
		payload, err := s.codec.Decode(spec.TypeTag, data)
		if err != nil {
			return nil, err
		}
		out = append(out, ports.FetchResult{Oid: oid, Payload: payload, Version: v})
		if spec.Limit > 0 && len(out) >= spec.Limit {
			break
		}
	}
	return out, rows.Err()
}

// Execute implements ports.Executor
func (s *Store) Execute(ctx context.Context, commands []models.PersistenceCommand) ([]ports.ExecResult, error) {
	if s.cm.Pool() == nil {
		return nil, ports.ErrStoreClosed
	}

	results := make([]ports.ExecResult, len(commands))
	failed := -1
	err := s.cm.WithTx(ctx, func(tx pgx.Tx) error {
		w := &writer{tx: tx, store: s, now: s.clock.Now()}
		for i, cmd := range commands {
			res, err := w.apply(ctx, cmd)
			results[i] = res
			if isSerializationFailure(err) {
				expected, _ := cmd.ExpectedVersion()
				err = &models.ConcurrencyConflictError{Oid: cmd.Oid(), Expected: expected}
			}
			if err != nil {
				results[i].Err = err
				failed = i
				return errBatchFailed
			}
		}
		return nil
	})

	if failed >= 0 {
		for i := failed + 1; i < len(results); i++ {
			results[i] = ports.ExecResult{Err: ports.ErrNotExecuted}
		}
		return results, nil
	}
	if err != nil {
		if isSerializationFailure(err) {
			return nil, &models.ConcurrencyConflictError{Oid: batchOid(commands)}
		}
		return nil, errors.Wrap(err, "failed to execute batch")
	}
	return results, nil
}

// Close closes the underlying connections
func (s *Store) Close() error {
	return s.cm.Close()
}

// Ping implements ports.HealthChecker
func (s *Store) Ping(ctx context.Context) error {
	pool := s.cm.Pool()
	if pool == nil {
		return ports.ErrStoreClosed
	}
	if err := pool.Ping(ctx); err != nil {
		return errors.Wrap(err, s.cm.HealthStatus().String())
	}
	return nil
}

var errBatchFailed = errors.New("batch failed")

// writer applies commands inside one transaction
type writer struct {
	tx    pgx.Tx
	store *Store
	now   time.Time
}

func (w *writer) apply(ctx context.Context, cmd models.PersistenceCommand) (ports.ExecResult, error) {
	oid := cmd.Oid()
	if oid.IsAggregated() {
		return ports.ExecResult{}, &models.NotPersistableError{Oid: oid, Reason: "aggregated objects are stored with their root"}
	}
	klog.V(4).InfoS("executing command", "command", cmd.String())

	switch cmd.Kind() {
	case models.CommandCreate:
		return w.create(ctx, cmd)
	case models.CommandSave:
		return w.save(ctx, cmd)
	case models.CommandDestroy:
		return w.destroy(ctx, cmd)
	}
	return ports.ExecResult{}, errors.Errorf("unknown command %s", cmd)
}

func (w *writer) create(ctx context.Context, cmd models.PersistenceCommand) (ports.ExecResult, error) {
	data, err := w.store.codec.Encode(cmd.Payload())
	if err != nil {
		return ports.ExecResult{}, err
	}
	oid := models.NewRootOid(cmd.Oid().TypeTag(), uuid.NewString())
	v := models.FirstVersion(w.now)
	v.By = w.store.author

	_, err = w.tx.Exec(ctx, `
		INSERT INTO `+TblObjects.Qualified()+` (type_tag, pkey, data, seq, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		oid.TypeTag(), oid.PrimaryKey(), data, v.Sequence, v.At, v.By)
	if err != nil {
		if isUniqueViolation(err) {
			return ports.ExecResult{}, &models.DuplicateIdentityError{Oid: oid}
		}
		return ports.ExecResult{}, errors.Wrapf(err, "failed to insert %s", oid)
	}
	return ports.ExecResult{Oid: oid, Version: v}, nil
}

func (w *writer) save(ctx context.Context, cmd models.PersistenceCommand) (ports.ExecResult, error) {
	oid := cmd.Oid()
	data, err := w.store.codec.Encode(cmd.Payload())
	if err != nil {
		return ports.ExecResult{}, err
	}
	expected, guarded := cmd.ExpectedVersion()

	query := `
		UPDATE ` + TblObjects.Qualified() + `
		SET data = $3, seq = seq + 1, updated_at = $4, updated_by = $5
		WHERE type_tag = $1 AND pkey = $2`
	args := []any{oid.TypeTag(), oid.PrimaryKey(), data, w.now, w.store.author}
	if guarded {
		query += ` AND seq = $6`
		args = append(args, expected.Sequence)
	}
	query += ` RETURNING seq, updated_at, updated_by`

	var v models.Version
	err = w.tx.QueryRow(ctx, query, args...).Scan(&v.Sequence, &v.At, &v.By)
	if errors.Is(err, pgx.ErrNoRows) {
		return ports.ExecResult{}, w.missing(ctx, oid, expected)
	}
	if err != nil {
		return ports.ExecResult{}, errors.Wrapf(err, "failed to update %s", oid)
	}
	return ports.ExecResult{Oid: oid, Version: v}, nil
}

func (w *writer) destroy(ctx context.Context, cmd models.PersistenceCommand) (ports.ExecResult, error) {
	oid := cmd.Oid()
	expected, guarded := cmd.ExpectedVersion()

	query := `DELETE FROM ` + TblObjects.Qualified() + ` WHERE type_tag = $1 AND pkey = $2`
	args := []any{oid.TypeTag(), oid.PrimaryKey()}
	if guarded {
		query += ` AND seq = $3`
		args = append(args, expected.Sequence)
	}
	query += ` RETURNING seq, updated_at, updated_by`

	var v models.Version
	err := w.tx.QueryRow(ctx, query, args...).Scan(&v.Sequence, &v.At, &v.By)
	if errors.Is(err, pgx.ErrNoRows) {
		return ports.ExecResult{}, w.missing(ctx, oid, expected)
	}
	if err != nil {
		return ports.ExecResult{}, errors.Wrapf(err, "failed to delete %s", oid)
	}
	return ports.ExecResult{Oid: oid, Version: v}, nil
}

// missing tells a vanished row from a version mismatch after a guarded statement matched nothing
func (w *writer) missing(ctx context.Context, oid models.Oid, expected models.Version) error {
	var actual models.Version
	err := w.tx.QueryRow(ctx, `
		SELECT seq, updated_at, updated_by FROM `+TblObjects.Qualified()+`
		WHERE type_tag = $1 AND pkey = $2`,
		oid.TypeTag(), oid.PrimaryKey()).Scan(&actual.Sequence, &actual.At, &actual.By)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.NotFoundError{Oid: oid}
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read version of %s", oid)
	}
	return &models.ConcurrencyConflictError{Oid: oid, Expected: expected, Actual: actual}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected)
}

// batchOid names the object reported for a conflict detected only at commit time
func batchOid(commands []models.PersistenceCommand) models.Oid {
	for _, cmd := range commands {
		if cmd.Kind() != models.CommandCreate {
			return cmd.Oid()
		}
	}
	return models.Oid{}
}
