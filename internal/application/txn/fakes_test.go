package txn

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/stretchr/testify/mock"

	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/domain/ports"
)

type storedObject struct {
	payload any
	version models.Version
}

// fakeStore keeps payloads by reference and applies batches atomically
type fakeStore struct {
	objects      map[models.Oid]storedObject
	nextKey      int
	executeCalls int
	fetchCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[models.Oid]storedObject), nextKey: 1}
}

func (s *fakeStore) put(oid models.Oid, payload any, seq int64) {
	s.objects[oid] = storedObject{payload: payload, version: models.Version{Sequence: seq}}
}

func (s *fakeStore) Fetch(_ context.Context, oid models.Oid) (ports.FetchResult, error) {
	s.fetchCalls++
	obj, ok := s.objects[oid]
	if !ok {
		return ports.FetchResult{}, &models.NotFoundError{Oid: oid}
	}
	return ports.FetchResult{Oid: oid, Payload: obj.payload, Version: obj.version}, nil
}

func (s *fakeStore) Execute(_ context.Context, cmds []models.PersistenceCommand) ([]ports.ExecResult, error) {
	s.executeCalls++
	staged := make(map[models.Oid]storedObject, len(s.objects))
	for k, v := range s.objects {
		staged[k] = v
	}
	nextKey := s.nextKey

	results := make([]ports.ExecResult, len(cmds))
	failed := false
	for i, cmd := range cmds {
		if failed {
			results[i].Err = ports.ErrNotExecuted
			continue
		}
		res, err := s.apply(staged, &nextKey, cmd)
		results[i] = res
		if err != nil {
			results[i].Err = err
			failed = true
		}
	}
	if !failed {
		s.objects = staged
		s.nextKey = nextKey
	}
	return results, nil
}

func (s *fakeStore) apply(staged map[models.Oid]storedObject, nextKey *int, cmd models.PersistenceCommand) (ports.ExecResult, error) {
	now := time.Now()
	switch cmd.Kind() {
	case models.CommandCreate:
		oid := models.NewRootOid(cmd.Oid().TypeTag(), strconv.Itoa(*nextKey))
		*nextKey++
		v := models.FirstVersion(now)
		staged[oid] = storedObject{payload: cmd.Payload(), version: v}
		return ports.ExecResult{Oid: oid, Version: v}, nil
	default:
		oid := cmd.Oid()
		cur, ok := staged[oid]
		if !ok {
			return ports.ExecResult{}, &models.NotFoundError{Oid: oid}
		}
		expected, _ := cmd.ExpectedVersion()
		if !expected.Equal(cur.version) {
			return ports.ExecResult{}, &models.ConcurrencyConflictError{Oid: oid, Expected: expected, Actual: cur.version}
		}
		if cmd.Kind() == models.CommandDestroy {
			delete(staged, oid)
			return ports.ExecResult{Oid: oid, Version: cur.version}, nil
		}
		v := cur.version.Next(now)
		staged[oid] = storedObject{payload: cmd.Payload(), version: v}
		return ports.ExecResult{Oid: oid, Version: v}, nil
	}
}

func (s *fakeStore) RunQuery(_ context.Context, spec ports.QuerySpec) ([]ports.FetchResult, error) {
	var out []ports.FetchResult
	for oid, obj := range s.objects {
		if oid.TypeTag() == spec.TypeTag && ports.InScope(spec.Scope, oid) {
			out = append(out, ports.FetchResult{Oid: oid, Payload: obj.payload, Version: obj.version})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Oid.PrimaryKey() < out[j].Oid.PrimaryKey() })
	return out, nil
}

func (s *fakeStore) Close() error {
	return nil
}

// mockStore is a testify mock of ports.ObjectStore
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Fetch(ctx context.Context, oid models.Oid) (ports.FetchResult, error) {
	args := m.Called(ctx, oid)
	return args.Get(0).(ports.FetchResult), args.Error(1)
}

func (m *mockStore) Execute(ctx context.Context, cmds []models.PersistenceCommand) ([]ports.ExecResult, error) {
	args := m.Called(ctx, cmds)
	res, _ := args.Get(0).([]ports.ExecResult)
	return res, args.Error(1)
}

func (m *mockStore) RunQuery(ctx context.Context, spec ports.QuerySpec) ([]ports.FetchResult, error) {
	args := m.Called(ctx, spec)
	res, _ := args.Get(0).([]ports.FetchResult)
	return res, args.Error(1)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

// doc records every hook it receives as Event(Name)
type doc struct {
	Name  string
	log   *[]string
	veto  error
	parts map[string]any
}

func (d *doc) record(event string) {
	if d.log != nil {
		*d.log = append(*d.log, event+"("+d.Name+")")
	}
}

func (d *doc) OnLoading(context.Context) { d.record("Loading") }
func (d *doc) OnLoaded(context.Context)  { d.record("Loaded") }
func (d *doc) OnPersisting(context.Context) error {
	d.record("Persisting")
	return d.veto
}
func (d *doc) OnPersisted(context.Context) { d.record("Persisted") }
func (d *doc) OnUpdating(context.Context) error {
	d.record("Updating")
	return d.veto
}
func (d *doc) OnUpdated(context.Context) { d.record("Updated") }
func (d *doc) OnRemoving(context.Context) error {
	d.record("Removing")
	return d.veto
}
func (d *doc) OnRemoved(context.Context)             { d.record("Removed") }
func (d *doc) OnCommitFailed(context.Context, error) { d.record("CommitFailed") }
func (d *doc) AggregatedParts() map[string]any       { return d.parts }

type recordingMetrics struct {
	commits   []error
	aborts    []int
	conflicts []models.Oid
}

func (r *recordingMetrics) ObserveCommit(_ int, _ time.Duration, err error) {
	r.commits = append(r.commits, err)
}
func (r *recordingMetrics) ObserveAbort(discarded int)     { r.aborts = append(r.aborts, discarded) }
func (r *recordingMetrics) ObserveConflict(oid models.Oid) { r.conflicts = append(r.conflicts, oid) }
