package mem

import (
	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/domain/ports"
)

// writer stages the commands of one batch over a copy of the records
type writer struct {
	store   *Store
	records map[models.Oid]record
}

func (w *writer) apply(cmd models.PersistenceCommand) (ports.ExecResult, error) {
	oid := cmd.Oid()
	if oid.IsAggregated() {
		return ports.ExecResult{}, &models.NotPersistableError{Oid: oid, Reason: "aggregated objects are stored with their root"}
	}
	now := w.store.clock.Now()

	if cmd.Kind() == models.CommandCreate {
		durable := models.NewRootOid(oid.TypeTag(), w.store.newKey())
		if _, taken := w.records[durable]; taken {
			return ports.ExecResult{}, &models.DuplicateIdentityError{Oid: durable}
		}
		data, err := w.store.codec.Encode(cmd.Payload())
		if err != nil {
			return ports.ExecResult{}, err
		}
		v := models.FirstVersion(now)
		v.By = w.store.author
		w.records[durable] = record{data: data, version: v}
		return ports.ExecResult{Oid: durable, Version: v}, nil
	}

	cur, ok := w.records[oid]
	if !ok {
		return ports.ExecResult{}, &models.NotFoundError{Oid: oid}
	}
	if expected, ok := cmd.ExpectedVersion(); ok && !expected.Equal(cur.version) {
		return ports.ExecResult{}, &models.ConcurrencyConflictError{Oid: oid, Expected: expected, Actual: cur.version}
	}

	if cmd.Kind() == models.CommandDestroy {
		delete(w.records, oid)
		return ports.ExecResult{Oid: oid, Version: cur.version}, nil
	}

	data, err := w.store.codec.Encode(cmd.Payload())
	if err != nil {
		return ports.ExecResult{}, err
	}
	v := cur.version.Next(now)
	v.By = w.store.author
	w.records[oid] = record{data: data, version: v}
	return ports.ExecResult{Oid: oid, Version: v}, nil
}

// Commit publishes the staged records
func (w *writer) Commit() {
	w.store.db.SetRecords(w.records)
	w.records = nil
}

// Abort drops the staged records
func (w *writer) Abort() {
	w.records = nil
}
