package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error taxonomy of the identity and persistence subsystem.
// Callers match with errors.Is against the sentinels and extract details with errors.As.
var (
	ErrMalformedIdentifier      = errors.New("malformed identifier")
	ErrIllegalStateTransition   = errors.New("illegal state transition")
	ErrNotResolved              = errors.New("object not resolved")
	ErrDuplicateIdentity        = errors.New("duplicate identity")
	ErrTransactionAlreadyActive = errors.New("transaction already active")
	ErrNoActiveTransaction      = errors.New("no active transaction")
	ErrCommandExecutionFailed   = errors.New("command execution failed")
	ErrConcurrencyConflict      = errors.New("concurrency conflict")
	ErrNotFound                 = errors.New("object not found")
	ErrNotPersistable           = errors.New("object not persistable")
	ErrAlreadyPromoted          = errors.New("identifier already promoted")
)

// MalformedIdentifierError is returned by ParseOid for ill-formed input
type MalformedIdentifierError struct {
	Input  string
	Reason string
}

func (e *MalformedIdentifierError) Error() string {
	return fmt.Sprintf("malformed identifier %q: %s", e.Input, e.Reason)
}

// Is matches ErrMalformedIdentifier
func (e *MalformedIdentifierError) Is(target error) bool {
	return target == ErrMalformedIdentifier
}

// IllegalStateTransitionError reports a rejected resolve-state transition
type IllegalStateTransitionError struct {
	From ResolveState
	To   ResolveState
}

func (e *IllegalStateTransitionError) Error() string {
	return fmt.Sprintf("illegal state transition %s -> %s", e.From, e.To)
}

// Is matches ErrIllegalStateTransition
func (e *IllegalStateTransitionError) Is(target error) bool {
	return target == ErrIllegalStateTransition
}

// NotResolvedError is returned when a payload is accessed in a state that does not allow it
type NotResolvedError struct {
	Oid   Oid
	State ResolveState
}

func (e *NotResolvedError) Error() string {
	return fmt.Sprintf("object %s is not resolved (state %s)", e.Oid, e.State)
}

// Is matches ErrNotResolved
func (e *NotResolvedError) Is(target error) bool {
	return target == ErrNotResolved
}

// DuplicateIdentityError is returned when a second adapter is registered for an identifier
type DuplicateIdentityError struct {
	Oid Oid
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("another object is already registered as %s", e.Oid)
}

// Is matches ErrDuplicateIdentity
func (e *DuplicateIdentityError) Is(target error) bool {
	return target == ErrDuplicateIdentity
}

// CommandExecutionFailedError wraps the failure that aborted a flushed batch.
// Index is the position of the failing command in the batch, -1 when the store call itself failed.
type CommandExecutionFailedError struct {
	Index int
	Kind  CommandKind
	Oid   Oid
	Cause error
}

func (e *CommandExecutionFailedError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("command execution failed: %v", e.Cause)
	}
	return fmt.Sprintf("command #%d (%s %s) failed: %v", e.Index, e.Kind, e.Oid, e.Cause)
}

// Is matches ErrCommandExecutionFailed
func (e *CommandExecutionFailedError) Is(target error) bool {
	return target == ErrCommandExecutionFailed
}

// Unwrap returns the originating error
func (e *CommandExecutionFailedError) Unwrap() error {
	return e.Cause
}

// ConcurrencyConflictError is returned by stores when the expected version is stale
type ConcurrencyConflictError struct {
	Oid      Oid
	Expected Version
	Actual   Version
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("object %s was modified concurrently: expected %s, actual %s",
		e.Oid, e.Expected, e.Actual)
}

// Is matches ErrConcurrencyConflict
func (e *ConcurrencyConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// NotFoundError is returned when the store has no object for an identifier
type NotFoundError struct {
	Oid Oid
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("object %s not found", e.Oid)
}

// Is matches ErrNotFound
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotPersistableError is returned when an object cannot take part in the requested persistence operation
type NotPersistableError struct {
	Oid    Oid
	Reason string
}

func (e *NotPersistableError) Error() string {
	return fmt.Sprintf("object %s is not persistable: %s", e.Oid, e.Reason)
}

// Is matches ErrNotPersistable
func (e *NotPersistableError) Is(target error) bool {
	return target == ErrNotPersistable
}

// IsConcurrencyConflict reports whether err carries a concurrency conflict anywhere in its chain
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsNotFound reports whether err carries a not-found failure anywhere in its chain
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
