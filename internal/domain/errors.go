package domain

import "fmt"

// Error types for consistent error handling across the engine.

// ErrNotFound indicates a referenced entity is absent.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates malformed or disallowed input.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrConflict indicates an entity already exists (duplicate deal for a
// lead+pipeline, duplicate slug). ExistingID lets the caller disambiguate.
type ErrConflict struct {
	Resource   string
	ExistingID string
	Message    string
}

func (e *ErrConflict) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.ExistingID)
}

// ErrBusinessLogic distinguishes illegal state transitions (moving or
// closing an already-closed deal) from plain validation errors.
type ErrBusinessLogic struct {
	Op      string
	Message string
}

func (e *ErrBusinessLogic) Error() string {
	return fmt.Sprintf("illegal operation [%s]: %s", e.Op, e.Message)
}

// ErrUnknownAction indicates a rule was configured with an action kind the
// dispatcher has no handler for. ProcessEvent isolates it per rule.
type ErrUnknownAction struct {
	Kind ActionKind
}

func (e *ErrUnknownAction) Error() string {
	return fmt.Sprintf("unknown action type: %s", e.Kind)
}

// ErrExternalService indicates a failure in an external collaborator call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}
