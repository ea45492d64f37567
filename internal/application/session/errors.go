package session

import (
	"github.com/pkg/errors"

	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/domain/ports"
)

// UserMessage translates a session error into the outcome shown to a user
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case models.IsConcurrencyConflict(err):
		return "the object was changed by someone else, please refresh and retry"
	case models.IsNotFound(err):
		return "the object does not exist"
	case errors.Is(err, models.ErrNotPersistable):
		return "the object cannot be stored this way"
	case errors.Is(err, ports.ErrStoreClosed), errors.Is(err, ErrSessionClosed):
		return "the service is shutting down, please retry later"
	case errors.Is(err, models.ErrCommandExecutionFailed):
		return "the changes could not be saved"
	default:
		return "internal error"
	}
}
