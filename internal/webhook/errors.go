package webhook

import (
	"errors"
	"fmt"
)

// Kind classifies why a change event was rejected. Every kind is a client
// error: the event is never retried.
type Kind string

const (
	KindInvalidSource      Kind = "InvalidSource"
	KindMissingRecordID    Kind = "MissingRecordId"
	KindUnknownHeader      Kind = "UnknownHeader"
	KindForbiddenFieldSync Kind = "ForbiddenFieldSync"
	// KindUnmappedValue is only produced under PolicyReject.
	KindUnmappedValue Kind = "UnmappedValue"
)

// ValidationError rejects one change event.
type ValidationError struct {
	Kind    Kind
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func invalid(kind Kind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the validation kind from err, if any.
func KindOf(err error) (Kind, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Kind, true
	}
	return "", false
}
