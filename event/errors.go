package event

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError is returned when an append request is malformed,
// e.g. the tenant is blank or there are no events to append.
type ValidationError struct {
	Field  string
	Reason string
}

func (err ValidationError) Error() string {
	return fmt.Sprintf("event: invalid %s, %s", err.Field, err.Reason)
}

// IsValidation reports whether the error chain contains a ValidationError.
func IsValidation(err error) bool {
	var validationErr ValidationError
	return errors.As(err, &validationErr)
}

// ValidateAppend checks an append request before it reaches storage.
func ValidateAppend(id StreamID, events []Envelope) error {
	if strings.TrimSpace(id.TenantID) == "" {
		return ValidationError{Field: "tenant", Reason: "must not be blank"}
	}

	if strings.TrimSpace(id.Name) == "" {
		return ValidationError{Field: "stream", Reason: "must not be blank"}
	}

	if len(events) == 0 {
		return ValidationError{Field: "events", Reason: "at least one event is required"}
	}

	for i, evt := range events {
		if evt.Message == nil {
			return ValidationError{Field: fmt.Sprintf("events[%d]", i), Reason: "payload is missing"}
		}
	}

	return nil
}
