package dispatch

import (
	"errors"
	"fmt"

	"github.com/roach88/correlate/internal/ir"
)

// ErrorCode categorizes dispatch errors.
type ErrorCode string

const (
	// CodeQueryFailure means key derivation or the subscription lookup
	// failed. Nothing was dispatched for the occurrence.
	CodeQueryFailure ErrorCode = "QUERY_FAILURE"

	// CodeDispatchFailure means one disposition's unit of work failed.
	// Earlier dispositions stay committed.
	CodeDispatchFailure ErrorCode = "DISPATCH_FAILURE"
)

// Error is returned by OnEventReceived.
type Error struct {
	Code         ErrorCode
	OccurrenceID string
	EventType    string

	// SubscriptionID and Disposition identify the failing subscription of
	// a dispatch failure.
	SubscriptionID string
	Disposition    ir.Disposition

	// Attempted counts the matched subscriptions processed up to and
	// including the failing one; Remaining those left unprocessed.
	Attempted int
	Remaining int

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code == CodeDispatchFailure {
		return fmt.Sprintf("%s: %s of subscription %s for %s (occurrence=%s, attempted=%d, remaining=%d): %v",
			e.Code, e.Disposition.Kind, e.SubscriptionID, e.EventType, e.OccurrenceID, e.Attempted, e.Remaining, e.Err)
	}
	return fmt.Sprintf("%s: %s (occurrence=%s): %v", e.Code, e.EventType, e.OccurrenceID, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsQueryFailure reports whether err is or wraps a query-phase failure.
func IsQueryFailure(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == CodeQueryFailure
	}
	return false
}

// IsDispatchFailure reports whether err is or wraps a dispatch-phase
// failure.
func IsDispatchFailure(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == CodeDispatchFailure
	}
	return false
}

func queryFailure(occ ir.Occurrence, err error) *Error {
	return &Error{
		Code:         CodeQueryFailure,
		OccurrenceID: occ.ID,
		EventType:    occ.ModelKey,
		Err:          err,
	}
}
