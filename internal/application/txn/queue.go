package txn

import (
	"oidkeeper/internal/domain/models"
)

// Queue is the ordered batch of persistence commands of one transaction.
// Commands are kept in enqueue order; repeated Saves of one object are coalesced
// and a Destroy takes the place of a queued Save.
type Queue struct {
	commands []models.PersistenceCommand
	// adapter -> positions of its commands, by kind
	index map[*models.ObjectAdapter]map[models.CommandKind]int
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{
		index: make(map[*models.ObjectAdapter]map[models.CommandKind]int),
	}
}

// Enqueue appends cmd, or folds it into a queued command of the same object.
// merged reports whether cmd was folded.
func (q *Queue) Enqueue(cmd models.PersistenceCommand) (merged bool, err error) {
	a := cmd.Adapter()
	queued := q.index[a]

	switch cmd.Kind() {
	case models.CommandCreate:
		if _, ok := queued[models.CommandCreate]; ok {
			return false, &models.NotPersistableError{Oid: a.Oid(), Reason: "object is already queued for create"}
		}
	case models.CommandSave:
		if _, ok := queued[models.CommandDestroy]; ok {
			return false, &models.NotPersistableError{Oid: a.Oid(), Reason: "object is queued for destroy"}
		}
		if _, ok := queued[models.CommandCreate]; ok {
			// the create writes the payload as of flush time
			return true, nil
		}
		if pos, ok := queued[models.CommandSave]; ok {
			q.commands[pos] = q.commands[pos].MergeFields(cmd)
			return true, nil
		}
	case models.CommandDestroy:
		if _, ok := queued[models.CommandDestroy]; ok {
			return true, nil
		}
		if pos, ok := queued[models.CommandSave]; ok {
			// the store still holds the version the save expected
			q.commands[pos] = cmd.Supersede(q.commands[pos])
			delete(queued, models.CommandSave)
			queued[models.CommandDestroy] = pos
			return true, nil
		}
	}

	if queued == nil {
		queued = make(map[models.CommandKind]int)
		q.index[a] = queued
	}
	queued[cmd.Kind()] = len(q.commands)
	q.commands = append(q.commands, cmd)
	return false, nil
}

// Has reports whether a command of kind k is queued for a
func (q *Queue) Has(a *models.ObjectAdapter, k models.CommandKind) bool {
	_, ok := q.index[a][k]
	return ok
}

// Commands returns a copy of the queued commands in enqueue order
func (q *Queue) Commands() []models.PersistenceCommand {
	out := make([]models.PersistenceCommand, len(q.commands))
	copy(out, q.commands)
	return out
}

// Len returns the number of queued commands
func (q *Queue) Len() int {
	return len(q.commands)
}

// Drain returns the queued commands and empties the queue
func (q *Queue) Drain() []models.PersistenceCommand {
	out := q.commands
	q.Clear()
	return out
}

// Clear discards all queued commands
func (q *Queue) Clear() {
	q.commands = nil
	q.index = make(map[*models.ObjectAdapter]map[models.CommandKind]int)
}
