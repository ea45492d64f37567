package ports

import (
	"context"

	"oidkeeper/internal/domain/models"
)

type (
	// Scope defines the scope of operations
	Scope interface {
		IsEmpty() bool
		String() string
	}

	// Option defines options for operations
	Option interface{}

	// FetchResult is a stored object as returned by a store
	FetchResult struct {
		Oid     models.Oid
		Payload any
		Version models.Version
	}

	// ExecResult is the outcome of one persistence command.
	// For Create, Oid holds the durable identifier assigned by the store.
	ExecResult struct {
		Oid     models.Oid
		Version models.Version
		Err     error
	}

	// Reader defines read operations
	Reader interface {
		// Fetch returns the stored object or a *models.NotFoundError
		Fetch(ctx context.Context, oid models.Oid) (FetchResult, error)
		// RunQuery returns the stored objects matching spec ordered by primary key
		RunQuery(ctx context.Context, spec QuerySpec) ([]FetchResult, error)
	}

	// Executor applies persistence commands
	Executor interface {
		// Execute applies commands in order and returns one result per command.
		// A batch is applied atomically: once a command fails, nothing of the batch is stored
		// and the commands after it report ErrNotExecuted. The returned error is reserved for
		// failures of the store itself.
		Execute(ctx context.Context, commands []models.PersistenceCommand) ([]ExecResult, error)
	}

	// ObjectStore is the pluggable back-end driven by the transaction manager
	ObjectStore interface {
		Reader
		Executor
		Close() error
	}
)

// FirstFailure returns the index and error of the first failed result, or -1
func FirstFailure(results []ExecResult) (int, error) {
	for i, r := range results {
		if r.Err != nil {
			return i, r.Err
		}
	}
	return -1, nil
}

// HealthChecker is implemented by stores that can report their reachability
type HealthChecker interface {
	Ping(ctx context.Context) error
}
