package redis

import (
	"context"
	"sort"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/domain/ports"
	"oidkeeper/internal/infrastructure/repositories/codec"
	"oidkeeper/internal/infrastructure/repositories/filter"
)

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock stamped into versions
func WithClock(c clock.PassiveClock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(logger logr.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithAuthor sets the author stamped into versions
func WithAuthor(author string) Option {
	return func(s *Store) {
		s.author = author
	}
}

// Store implements ports.ObjectStore on Redis hashes.
// A batch is applied with WATCH/MULTI/EXEC over the keys it reads.
type Store struct {
	client     redis.UniversalClient
	keys       keyspace
	maxRetries uint64
	codec      *codec.Registry
	filters    *filter.Compiler
	clock      clock.PassiveClock
	logger     logr.Logger
	author     string
}

var _ ports.ObjectStore = (*Store)(nil)

// NewStore creates a store over an open client
func NewStore(client redis.UniversalClient, options Options, c *codec.Registry, opts ...Option) *Store {
	if c == nil {
		c = codec.NewRegistry()
	}
	prefix := options.Prefix
	if prefix == "" {
		prefix = DefaultOptions().Prefix
	}
	s := &Store{
		client:     client,
		keys:       keyspace(prefix),
		maxRetries: options.MaxWatchRetries,
		codec:      c,
		filters:    filter.NewCompiler(),
		clock:      clock.RealClock{},
		logger:     logr.Discard(),
		author:     "redis",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch implements ports.Reader
func (s *Store) Fetch(ctx context.Context, oid models.Oid) (ports.FetchResult, error) {
	fields, err := s.client.HGetAll(ctx, s.keys.objectKey(oid)).Result()
	if err != nil {
		return ports.FetchResult{}, s.storeError(err, "fetch "+oid.String())
	}
	data, v, ok, err := parseObject(fields)
	if err != nil {
		return ports.FetchResult{}, errors.Wrapf(err, "fetch %s", oid)
	}
	if !ok {
		return ports.FetchResult{}, &models.NotFoundError{Oid: oid}
	}
	payload, err := s.codec.Decode(oid.TypeTag(), data)
	if err != nil {
		return ports.FetchResult{}, err
	}
	return ports.FetchResult{Oid: oid, Payload: payload, Version: v}, nil
}

// RunQuery implements ports.Reader
func (s *Store) RunQuery(ctx context.Context, spec ports.QuerySpec) ([]ports.FetchResult, error) {
	pred, err := s.filters.Compile(spec.Filter)
	if err != nil {
		return nil, err
	}
	members, err := s.client.SMembers(ctx, s.keys.indexKey(spec.TypeTag)).Result()
	if err != nil {
		return nil, s.storeError(err, "list "+spec.TypeTag)
	}
	sort.Strings(members)

	oids := make([]models.Oid, 0, len(members))
	for _, key := range members {
		oid := models.NewRootOid(spec.TypeTag, key)
		if ports.InScope(spec.Scope, oid) {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(oids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, oid := range oids {
			cmds[i] = pipe.HGetAll(ctx, s.keys.objectKey(oid))
		}
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, "load "+spec.TypeTag)
	}

	var out []ports.FetchResult
	for i, oid := range oids {
		data, v, ok, err := parseObject(cmds[i].Val())
		if err != nil {
			return nil, errors.Wrapf(err, "load %s", oid)
		}
		if !ok {
			// removed between SMEMBERS and HGETALL
			continue
		}
		if pred != nil {
			doc, err := codec.DocumentOf(data)
			if err != nil {
				return nil, err
			}
			match, err := pred.Match(doc, oid.PrimaryKey(), oid.TypeTag())
			if err != nil {
				return nil, err
			}
			if !match {
				continue
			}
		}
		payload, err := s.codec.Decode(oid.TypeTag(), data)
		if err != nil {
			return nil, err
		}
		out = append(out, ports.FetchResult{Oid: oid, Payload: payload, Version: v})
		if spec.Limit > 0 && len(out) >= spec.Limit {
			break
		}
	}
	return out, nil
}

// staged is the state of one object as seen by the commands of a batch
type staged struct {
	exists  bool
	version models.Version
}

// Execute implements ports.Executor
func (s *Store) Execute(ctx context.Context, commands []models.PersistenceCommand) ([]ports.ExecResult, error) {
	var watched []string
	for _, cmd := range commands {
		if cmd.Kind() != models.CommandCreate && !cmd.Oid().IsAggregated() {
			watched = append(watched, s.keys.objectKey(cmd.Oid()))
		}
	}

	var results []ports.ExecResult
	attempt := func() error {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			var err error
			results, err = s.executeWatched(ctx, tx, commands)
			return err
		}, watched...)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			s.logger.V(1).Info("watched objects changed, retrying batch", "commands", len(commands))
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, &models.ConcurrencyConflictError{Oid: firstWatched(commands)}
		}
		return nil, s.storeError(err, "execute batch")
	}
	return results, nil
}

// executeWatched validates the batch against the watched state and queues its writes in MULTI/EXEC
func (s *Store) executeWatched(ctx context.Context, tx *redis.Tx, commands []models.PersistenceCommand) ([]ports.ExecResult, error) {
	now := s.clock.Now()
	state := make(map[models.Oid]*staged)
	results := make([]ports.ExecResult, len(commands))
	var writes []func(pipe redis.Pipeliner)

	current := func(oid models.Oid) (*staged, error) {
		if st, ok := state[oid]; ok {
			return st, nil
		}
		fields, err := tx.HGetAll(ctx, s.keys.objectKey(oid)).Result()
		if err != nil {
			return nil, err
		}
		_, v, ok, err := parseObject(fields)
		if err != nil {
			return nil, err
		}
		st := &staged{exists: ok, version: v}
		state[oid] = st
		return st, nil
	}

	failed := -1
	for i, cmd := range commands {
		oid := cmd.Oid()
		if oid.IsAggregated() {
			results[i].Err = &models.NotPersistableError{Oid: oid, Reason: "aggregated objects are stored with their root"}
			failed = i
			break
		}

		if cmd.Kind() == models.CommandCreate {
			data, err := s.codec.Encode(cmd.Payload())
			if err != nil {
				results[i].Err = err
				failed = i
				break
			}
			durable := models.NewRootOid(oid.TypeTag(), uuid.NewString())
			v := models.FirstVersion(now)
			v.By = s.author
			state[durable] = &staged{exists: true, version: v}
			writes = append(writes, func(pipe redis.Pipeliner) {
				pipe.HSet(ctx, s.keys.objectKey(durable), versionFields(data, v))
				pipe.SAdd(ctx, s.keys.indexKey(durable.TypeTag()), durable.PrimaryKey())
			})
			results[i] = ports.ExecResult{Oid: durable, Version: v}
			continue
		}

		st, err := current(oid)
		if err != nil {
			return nil, err
		}
		if !st.exists {
			results[i].Err = &models.NotFoundError{Oid: oid}
			failed = i
			break
		}
		if expected, ok := cmd.ExpectedVersion(); ok && !expected.Equal(st.version) {
			results[i].Err = &models.ConcurrencyConflictError{Oid: oid, Expected: expected, Actual: st.version}
			failed = i
			break
		}

		if cmd.Kind() == models.CommandDestroy {
			st.exists = false
			writes = append(writes, func(pipe redis.Pipeliner) {
				pipe.Del(ctx, s.keys.objectKey(oid))
				pipe.SRem(ctx, s.keys.indexKey(oid.TypeTag()), oid.PrimaryKey())
			})
			results[i] = ports.ExecResult{Oid: oid, Version: st.version}
			continue
		}

		data, err := s.codec.Encode(cmd.Payload())
		if err != nil {
			results[i].Err = err
			failed = i
			break
		}
		v := st.version.Next(now)
		v.By = s.author
		st.version = v
		writes = append(writes, func(pipe redis.Pipeliner) {
			pipe.HSet(ctx, s.keys.objectKey(oid), versionFields(data, v))
		})
		results[i] = ports.ExecResult{Oid: oid, Version: v}
	}

	if failed >= 0 {
		for i := failed + 1; i < len(results); i++ {
			results[i] = ports.ExecResult{Err: ports.ErrNotExecuted}
		}
		return results, nil
	}
	if len(writes) == 0 {
		return results, nil
	}

	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			w(pipe)
		}
		return nil
	})
	return results, err
}

// Close closes the client
func (s *Store) Close() error {
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// Ping implements ports.HealthChecker
func (s *Store) Ping(ctx context.Context) error {
	return s.storeError(s.client.Ping(ctx).Err(), "ping")
}

func (s *Store) storeError(err error, op string) error {
	if errors.Is(err, redis.ErrClosed) {
		return ports.ErrStoreClosed
	}
	return errors.Wrap(err, op)
}

func firstWatched(commands []models.PersistenceCommand) models.Oid {
	for _, cmd := range commands {
		if cmd.Kind() != models.CommandCreate {
			return cmd.Oid()
		}
	}
	return models.Oid{}
}
