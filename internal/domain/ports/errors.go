package ports

import (
	"github.com/pkg/errors"

	"oidkeeper/internal/domain/models"
)

// Standard store errors
var (
	// ErrNotFound is returned when the requested object is not found
	ErrNotFound = models.ErrNotFound

	// ErrNotExecuted is reported for commands that follow a failed command in a batch
	ErrNotExecuted = errors.New("command not executed: batch aborted")

	// ErrStoreClosed is returned by every operation of a closed store
	ErrStoreClosed = errors.New("store is closed")
)
