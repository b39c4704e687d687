package runtime

import (
	"errors"
	"fmt"
)

// RuntimeError represents a failed runtime command.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// DefinitionID, InstanceID and SubScopeID identify the affected
	// records when known.
	DefinitionID string
	InstanceID   string
	SubScopeID   string

	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeDefinitionNotFound indicates a start for an undeployed
	// definition.
	ErrCodeDefinitionNotFound RuntimeErrorCode = "DEFINITION_NOT_FOUND"

	// ErrCodeWaitStateNotFound indicates a resume of a plan item that is
	// missing or no longer waiting.
	ErrCodeWaitStateNotFound RuntimeErrorCode = "WAIT_STATE_NOT_FOUND"

	// ErrCodeStopped indicates the runtime no longer accepts starts.
	ErrCodeStopped RuntimeErrorCode = "STOPPED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	switch {
	case e.SubScopeID != "":
		return fmt.Sprintf("%s: %s (sub_scope=%s)", e.Code, e.Message, e.SubScopeID)
	case e.DefinitionID != "":
		return fmt.Sprintf("%s: %s (definition=%s)", e.Code, e.Message, e.DefinitionID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying store error, if any.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsDefinitionNotFound reports whether err is a start of an undeployed
// definition. Uses errors.As to handle wrapped errors.
func IsDefinitionNotFound(err error) bool {
	return hasCode(err, ErrCodeDefinitionNotFound)
}

// IsWaitStateNotFound reports whether err is a resume without a waiting
// plan item. Uses errors.As to handle wrapped errors.
func IsWaitStateNotFound(err error) bool {
	return hasCode(err, ErrCodeWaitStateNotFound)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewDefinitionNotFoundError creates a RuntimeError for an unknown definition.
func NewDefinitionNotFoundError(definitionID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeDefinitionNotFound,
		Message:      "case definition is not deployed",
		DefinitionID: definitionID,
		Err:          err,
	}
}

// NewWaitStateNotFoundError creates a RuntimeError for a missing wait state.
func NewWaitStateNotFoundError(subScopeID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeWaitStateNotFound,
		Message:    "no plan item is waiting",
		SubScopeID: subScopeID,
		Err:        err,
	}
}
